package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cades.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/cades.sqlite)")
	limit := fs.Int("limit", 20, "result limit (episodes)")
	training := fs.String("training", "", "true/false filter (summary)")
	configDigest := fs.String("config", "", "tuning digest filter (summary)")
	_ = fs.Parse(args)

	q := "summary"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "cades.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out any
	switch q {
	case "summary":
		f := indexdb.SummaryFilter{ConfigDigest: strings.TrimSpace(*configDigest)}
		if v := strings.TrimSpace(*training); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				fmt.Fprintln(os.Stderr, "bad -training:", err)
				os.Exit(2)
			}
			f.Training = &b
		}
		out, err = indexdb.QuerySummary(ctx, db, f)
	case "episodes":
		out, err = indexdb.QueryRecentEpisodes(ctx, db, *limit)
	default:
		fmt.Fprintf(os.Stderr, "unknown query %q (want summary or episodes)\n", q)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
