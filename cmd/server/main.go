package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cades.ai/internal/env"
	"cades.ai/internal/observability"
	"cades.ai/internal/persistence/indexdb"
	persistlog "cades.ai/internal/persistence/log"
	"cades.ai/internal/persistence/r2s3"
	"cades.ai/internal/sim/tuning"
	"cades.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite episode index")
		noEpLog    = flag.Bool("disable_episode_log", false, "disable the jsonl episode log")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	logger.Printf("tuning digest=%s bins=%d items=%d..%d", tune.Digest(), tune.TotalBins, tune.MinNumItems, tune.MaxNumItems)

	ctx, cancel := signalContext()
	defer cancel()

	// Read-model index; does not affect episodes.
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertConfig(tune); err != nil {
			logger.Printf("index backend: upsert config: %v", err)
		}
	}

	r2Mirror, err := buildR2MirrorRuntime(ctx, *dataDir, logger)
	if err != nil {
		logger.Fatalf("init r2 mirror: %v", err)
	}
	defer r2Mirror.Close()

	var epLog *persistlog.EpisodeLogger
	if !*noEpLog {
		epLog = persistlog.NewEpisodeLogger(*dataDir)
		if r2Mirror.enabled {
			epLog.OnRotate(r2Mirror.Enqueue)
		}
		// Runs before the mirror closes so the last segment is uploaded.
		defer epLog.Close()
	}

	envMetrics := observability.NewEnvMetrics(prometheus.DefaultRegisterer)
	wsSrv := ws.NewServer(tune, logger,
		ws.WithRecorder(envMetrics),
		ws.WithEpisodeLogger(multiEpisodeLogger{a: epLog, b: idx}),
	)
	observability.RegisterSessions(prometheus.DefaultRegisterer, func() float64 { return float64(wsSrv.Sessions()) })
	if idx != nil {
		observability.RegisterQueueStats(prometheus.DefaultRegisterer, "index",
			func() float64 { return float64(idx.Stats().QueueDepth) },
			func() float64 { return float64(idx.Stats().QueueCapacity) },
			func() float64 { return float64(idx.Stats().DropEpisodeTotal) },
		)
	}
	if r2Mirror.enabled {
		observability.RegisterQueueStats(prometheus.DefaultRegisterer, "r2_mirror",
			func() float64 { return float64(r2Mirror.Stats().QueueDepth) },
			func() float64 { return float64(r2Mirror.Stats().QueueCapacity) },
			func() float64 { return float64(r2Mirror.Stats().DroppedTotal) },
		)
	}

	mux := newMux(wsSrv, idx, r2Mirror, envBool("CADES_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()), logger)
	if envBool("CADES_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (CADES_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func newMux(wsSrv *ws.Server, idx runtimeIndex, mirror *r2MirrorRuntime, admin bool, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	if !admin {
		logger.Printf("admin endpoints disabled (CADES_ENABLE_ADMIN_HTTP=false)")
		return mux
	}
	// Local-only admin endpoints.
	mux.HandleFunc("/admin/v1/summary", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if idx == nil {
			http.Error(rw, "index disabled", http.StatusServiceUnavailable)
			return
		}
		f := indexdb.SummaryFilter{ConfigDigest: r.URL.Query().Get("config")}
		if v := r.URL.Query().Get("training"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(rw, "bad training", http.StatusBadRequest)
				return
			}
			f.Training = &b
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		sum, err := idx.Summary(ctx, f)
		writeAdminJSON(rw, sum, err)
	})
	mux.HandleFunc("/admin/v1/episodes", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if idx == nil {
			http.Error(rw, "index disabled", http.StatusServiceUnavailable)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		rows, err := idx.RecentEpisodes(ctx, limit)
		writeAdminJSON(rw, rows, err)
	})
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := struct {
			Sessions int64          `json:"sessions"`
			Index    *indexdb.Stats `json:"index,omitempty"`
			Mirror   *r2s3.Stats    `json:"r2_mirror,omitempty"`
		}{Sessions: wsSrv.Sessions()}
		if idx != nil {
			st := idx.Stats()
			resp.Index = &st
		}
		if mirror != nil && mirror.enabled {
			st := mirror.Stats()
			resp.Mirror = &st
		}
		writeAdminJSON(rw, resp, nil)
	})
	return mux
}

func writeAdminJSON(rw http.ResponseWriter, v any, err error) {
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

// multiEpisodeLogger fans a finished episode out to the log and the index. Either may
// be nil.
type multiEpisodeLogger struct {
	a *persistlog.EpisodeLogger
	b env.EpisodeLogger
}

func (m multiEpisodeLogger) WriteEpisode(entry env.EpisodeLogEntry) error {
	var err error
	if m.a != nil {
		err = m.a.WriteEpisode(entry)
	}
	if m.b != nil {
		_ = m.b.WriteEpisode(entry)
	}
	return err
}
