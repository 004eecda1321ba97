package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cades.ai/internal/env"
	"cades.ai/internal/persistence/indexdb"
	"cades.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	env.EpisodeLogger
	Close() error
	UpsertConfig(cfg tuning.Config) error
	Stats() indexdb.Stats
	Summary(ctx context.Context, f indexdb.SummaryFilter) (indexdb.Summary, error)
	RecentEpisodes(ctx context.Context, limit int) ([]indexdb.EpisodeRow, error)
}

func indexPath(dataDir string) string { return filepath.Join(dataDir, "index", "cades.sqlite") }

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CADES_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(indexPath(dataDir))
	default:
		return nil, fmt.Errorf("unsupported CADES_INDEX_BACKEND: %s", backend)
	}
}
