package indexdb

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"cades.ai/internal/env"
	"cades.ai/internal/sim/metrics"
	"cades.ai/internal/sim/placement"
	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEpisode}

	_ = s.WriteEpisode(env.EpisodeLogEntry{EpisodeID: "x"})
	_ = s.WriteEpisode(env.EpisodeLogEntry{EpisodeID: "y"})

	st := s.Stats()
	if st.DropEpisodeTotal != 2 {
		t.Fatalf("DropEpisodeTotal=%d want=2", st.DropEpisodeTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue depth/cap=%d/%d want=1/1", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	if err := s.WriteEpisode(env.EpisodeLogEntry{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := s.Stats(); st != (Stats{}) {
		t.Fatalf("stats=%+v", st)
	}
}

func entry(id string, training bool, cause placement.Cause, reward float64, steps int, empty float64, at time.Time) env.EpisodeLogEntry {
	return env.EpisodeLogEntry{
		EpisodeID:    id,
		StartedAt:    at,
		Training:     training,
		ConfigDigest: "cfg",
		Instance:     &problem.Instance{Seed: 7, NumItems: 2, Items: make([]problem.Item, 3), BinCapacities: []int{10, 10}},
		Actions:      []int{0, 1},
		Cause:        cause,
		Steps:        steps,
		TotalReward:  reward,
		Digest:       "d-" + id,
		Metrics:      metrics.Report{AvgNodeOccupancy: 50, EmptyNodes: empty},
	}
}

func TestSQLiteIndex_SummaryAndRecent(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "cades.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.UpsertConfig(tuning.Defaults()); err != nil {
		t.Fatalf("upsert config: %v", err)
	}

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_ = s.WriteEpisode(entry("a", true, placement.CauseSuccess, 10, 4, 50, t0))
	_ = s.WriteEpisode(entry("b", true, placement.CauseSuccess, 12, 4, 0, t0.Add(time.Second)))
	_ = s.WriteEpisode(entry("c", true, placement.CauseInfeasible, -10, 2, 100, t0.Add(2*time.Second)))
	_ = s.WriteEpisode(entry("d", false, placement.CauseCapacityViolation, -100, 1, 100, t0.Add(3*time.Second)))

	ctx := context.Background()
	all, err := s.Summary(ctx, SummaryFilter{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if all.Episodes != 4 {
		t.Fatalf("episodes=%d want=4", all.Episodes)
	}
	if math.Abs(all.MeanReward-(-22)) > 1e-9 {
		t.Fatalf("mean reward=%v", all.MeanReward)
	}
	if all.CausePercent[placement.CauseSuccess] != 50 || all.CausePercent[placement.CauseInfeasible] != 25 ||
		all.CausePercent[placement.CauseCapacityViolation] != 25 || all.CausePercent[placement.CauseMaxStepsExceeded] != 0 {
		t.Fatalf("cause percent=%v", all.CausePercent)
	}
	if _, ok := all.CausePercent[placement.CauseMaxStepsExceeded]; !ok {
		t.Fatalf("every cause must be reported")
	}
	// Failed episodes do not count towards empty nodes.
	if all.EmptyNodesSucc != 25 {
		t.Fatalf("empty nodes=%v want=25", all.EmptyNodesSucc)
	}

	training := true
	tr, err := s.Summary(ctx, SummaryFilter{Training: &training})
	if err != nil || tr.Episodes != 3 {
		t.Fatalf("training summary: %+v %v", tr, err)
	}

	rows, err := s.RecentEpisodes(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 || rows[0].EpisodeID != "d" || rows[1].EpisodeID != "c" {
		t.Fatalf("recent=%+v", rows)
	}
	if rows[0].Training || rows[0].Cause != placement.CauseCapacityViolation || rows[0].Tasks != 3 || rows[0].InstanceSeed != 7 {
		t.Fatalf("row=%+v", rows[0])
	}
}

func TestQuerySummary_Empty(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "empty.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	sum, err := s.Summary(context.Background(), SummaryFilter{ConfigDigest: "none"})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Episodes != 0 || len(sum.CausePercent) != len(placement.Causes) {
		t.Fatalf("empty summary=%+v", sum)
	}
}
