package main

import (
	"path/filepath"
	"testing"

	"cades.ai/internal/env"
	"cades.ai/internal/persistence/snapshot"
	"cades.ai/internal/sim/tuning"
)

func TestDrawScenario_MatchesEvalStream(t *testing.T) {
	cfg := tuning.Defaults()
	sc, err := drawScenario(cfg, "eval", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "eval.scenario.zst")
	if err := snapshot.WriteScenario(p, sc); err != nil {
		t.Fatal(err)
	}
	back, err := snapshot.ReadScenario(p)
	if err != nil || back.Header.Count != 3 {
		t.Fatalf("read back: %+v %v", back.Header, err)
	}

	e, err := env.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := range back.Instances {
		if _, _, err := e.Reset(env.ResetOptions{}); err != nil {
			t.Fatal(err)
		}
		if got, want := e.Instance().Seed, back.Instances[i].Seed; got != want {
			t.Fatalf("problem %d: seed %d want %d", i, got, want)
		}
		if len(e.Instance().Items) != len(back.Instances[i].Items) {
			t.Fatalf("problem %d: task count differs", i)
		}
	}
}
