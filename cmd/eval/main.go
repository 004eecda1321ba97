package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cades.ai/internal/agent"
	"cades.ai/internal/env"
	persistlog "cades.ai/internal/persistence/log"
	"cades.ai/internal/persistence/snapshot"
	"cades.ai/internal/rollout"
	"cades.ai/internal/sim/placement"
	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
	"cades.ai/internal/stats"
)

// Report is the JSON written by cmd/eval.
type Report struct {
	Model        string          `json:"model"`
	TuningDigest string          `json:"tuning_digest"`
	Scenario     string          `json:"scenario,omitempty"`
	Workers      int             `json:"workers"`
	WallSeconds  float64         `json:"wall_seconds"`
	Summary      stats.Summary   `json:"summary"`
	Episodes     []stats.Episode `json:"episodes,omitempty"`
}

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		policy     = flag.String("policy", "best_fit", "baseline policy: random, first_fit, best_fit")
		seed       = flag.Int64("seed", 1, "policy rng seed; worker i uses seed+i")
		episodes   = flag.Int("episodes", 100, "episodes to evaluate")
		workers    = flag.Int("workers", 4, "parallel workers, each with its own env")
		scenario   = flag.String("scenario", "", "scenario file (.scenario.zst or .json) to evaluate instead of generated problems")
		out        = flag.String("out", "", "report path (default: stdout)")
		perEpisode = flag.Bool("per_episode", false, "include every episode in the report")
		dataDir    = flag.String("data", "", "write episode logs under <data>/episodes (optional)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[eval] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	cfg, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if _, ok := agent.Baseline(*policy, *seed); !ok {
		logger.Fatalf("unknown policy %q (want one of %v)", *policy, agent.BaselineNames)
	}

	var instances []*problem.Instance
	if p := strings.TrimSpace(*scenario); p != "" {
		if instances, err = snapshot.LoadInstances(p); err != nil {
			logger.Fatalf("load scenario: %v", err)
		}
		logger.Printf("scenario %s: %d problems", filepath.Base(p), len(instances))
	}

	var envOpts []env.Option
	if d := strings.TrimSpace(*dataDir); d != "" {
		epLog := persistlog.NewEpisodeLogger(d)
		defer epLog.Close()
		envOpts = append(envOpts, env.WithEpisodeLogger(epLog), env.WithLogger(logger))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rep, err := evaluate(ctx, cfg, *policy, *seed, *episodes, *workers, instances, envOpts)
	if err != nil {
		logger.Fatalf("evaluate: %v", err)
	}
	rep.Scenario = *scenario
	if !*perEpisode {
		rep.Episodes = nil
	}
	logger.Printf("episodes=%d mean_reward=%.3f success=%.1f%% wall=%.2fs",
		rep.Summary.Episodes, rep.Summary.MeanEpisodeReward, rep.Summary.TerminationCause[placement.CauseSuccess], rep.WallSeconds)

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			logger.Fatalf("create report: %v", err)
		}
		defer f.Close()
		w = f
	}
	if err := writeReport(w, rep); err != nil {
		logger.Fatalf("write report: %v", err)
	}
}

func evaluate(ctx context.Context, cfg tuning.Config, policy string, seed int64, episodes, workers int, instances []*problem.Instance, envOpts []env.Option) (Report, error) {
	start := time.Now()
	res, err := rollout.RunBatch(ctx, rollout.Batch{
		Config:     cfg,
		Episodes:   episodes,
		Workers:    workers,
		Instances:  instances,
		EnvOptions: envOpts,
		NewModel: func(w int) (agent.Model, error) {
			p, ok := agent.Baseline(policy, seed+int64(w))
			if !ok {
				return nil, fmt.Errorf("unknown policy %q", policy)
			}
			return agent.NewPolicyModel(policy, p), nil
		},
	})
	if err != nil {
		return Report{}, err
	}
	return Report{
		Model:        policy,
		TuningDigest: cfg.Digest(),
		Workers:      workers,
		WallSeconds:  time.Since(start).Seconds(),
		Summary:      stats.Summarize(res),
		Episodes:     res,
	}, nil
}

func writeReport(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
