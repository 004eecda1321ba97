package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"cades.ai/internal/env"
	persistlog "cades.ai/internal/persistence/log"
	"cades.ai/internal/sim/tuning"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory holding episodes/")
		file       = flag.String("file", "", "single episodes-*.jsonl.zst segment (overrides -data)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		allowOther = flag.Bool("skip_foreign", false, "skip episodes recorded under a different tuning digest instead of failing")
	)
	flag.Parse()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	cfg, err := tuning.Load(tp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}

	var files []string
	if *file != "" {
		files = []string{*file}
	} else if files, err = persistlog.Segments(*dataDir); err != nil {
		fmt.Fprintln(os.Stderr, "list segments:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no episode segments found under", persistlog.EpisodeDir(*dataDir))
		os.Exit(1)
	}

	var checked, skipped int
	for _, path := range files {
		err := persistlog.ReadEpisodes(path, func(e env.EpisodeLogEntry) error {
			if e.ConfigDigest != cfg.Digest() {
				if *allowOther {
					skipped++
					return nil
				}
				return fmt.Errorf("episode %s: tuning digest %s does not match %s", e.EpisodeID, e.ConfigDigest, cfg.Digest())
			}
			if err := replayEpisode(cfg, e); err != nil {
				return fmt.Errorf("episode %s: %w", e.EpisodeID, err)
			}
			checked++
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay %s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: checked=%d skipped=%d segments=%d\n", checked, skipped, len(files))
}

// replayEpisode re-runs e's actions on its instance through a fresh Env with invariant
// checks on, and compares every reward plus the final cause and digest.
func replayEpisode(cfg tuning.Config, e env.EpisodeLogEntry) (err error) {
	if e.Instance == nil {
		return fmt.Errorf("entry has no instance")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	en, err := env.New(cfg, env.WithInvariantChecks())
	if err != nil {
		return err
	}
	if _, _, err := en.Reset(env.ResetOptions{Instance: e.Instance, Training: e.Training}); err != nil {
		return err
	}
	if len(e.Rewards) != len(e.Actions) {
		return fmt.Errorf("%d actions but %d rewards", len(e.Actions), len(e.Rewards))
	}
	for i, a := range e.Actions {
		res, err := en.Step(a, e.Training)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if math.Abs(res.Reward-e.Rewards[i]) > 1e-9 {
			return fmt.Errorf("reward mismatch at step %d: got=%v want=%v", i, res.Reward, e.Rewards[i])
		}
	}
	if !en.Done() {
		return fmt.Errorf("episode not finished after %d actions", len(e.Actions))
	}
	st := en.State()
	if st.Cause != e.Cause {
		return fmt.Errorf("cause mismatch: got=%s want=%s", st.Cause, e.Cause)
	}
	if got := en.Digest(); got != e.Digest {
		return fmt.Errorf("digest mismatch: got=%s want=%s", got, e.Digest)
	}
	return nil
}
