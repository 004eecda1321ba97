package main

import (
	"strings"
	"testing"

	"cades.ai/internal/env"
	"cades.ai/internal/sim/tuning"
)

func recordEpisode(t *testing.T, cfg tuning.Config) env.EpisodeLogEntry {
	t.Helper()
	e, err := env.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, mask, err := e.Reset(env.ResetOptions{Training: true})
	if err != nil {
		t.Fatal(err)
	}
	for !e.Done() {
		a := 0
		for i, ok := range mask {
			if ok {
				a = i
			}
		}
		if _, err := e.Step(a, true); err != nil {
			t.Fatal(err)
		}
		mask = e.LegalityMask()
	}
	return e.Transcript()
}

func TestReplayEpisode_MatchesRecording(t *testing.T) {
	cfg := tuning.Defaults()
	for i := 0; i < 5; i++ {
		cfg.Seed = int64(100 + i)
		rec := recordEpisode(t, cfg)
		if err := replayEpisode(cfg, rec); err != nil {
			t.Fatalf("seed %d: %v", cfg.Seed, err)
		}
	}
}

func TestReplayEpisode_DetectsTampering(t *testing.T) {
	cfg := tuning.Defaults()
	rec := recordEpisode(t, cfg)

	bad := rec
	bad.Digest = "deadbeef"
	if err := replayEpisode(cfg, bad); err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("digest tamper: %v", err)
	}

	bad = rec
	bad.Rewards = append([]float64(nil), rec.Rewards...)
	bad.Rewards[0] += 1
	if err := replayEpisode(cfg, bad); err == nil || !strings.Contains(err.Error(), "reward mismatch") {
		t.Fatalf("reward tamper: %v", err)
	}

	bad = rec
	bad.Actions = rec.Actions[:len(rec.Actions)-1]
	bad.Rewards = rec.Rewards[:len(rec.Rewards)-1]
	if err := replayEpisode(cfg, bad); err == nil || !strings.Contains(err.Error(), "not finished") {
		t.Fatalf("truncated: %v", err)
	}

	bad = rec
	bad.Instance = nil
	if err := replayEpisode(cfg, bad); err == nil {
		t.Fatalf("missing instance accepted")
	}
}
