package placement

import (
	"errors"
	"math/rand"
	"testing"

	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
)

func mustSpec(t *testing.T, s problem.ScenarioSpec) *problem.Instance {
	t.Helper()
	in, err := problem.FromSpec(s)
	if err != nil {
		t.Fatalf("FromSpec: %v", err)
	}
	return in
}

func TestMask_BoundaryCapacity(t *testing.T) {
	for _, size := range []int{1, 7, 50, 999} {
		// Exactly fits.
		s := New(mustSpec(t, problem.ScenarioSpec{ItemSizes: []int{size}, BinCapacities: []int{size}}))
		if !s.Mask()[0] {
			t.Fatalf("size %d: remaining == size must be legal", size)
		}
		// One short.
		s = New(mustSpec(t, problem.ScenarioSpec{ItemSizes: []int{size}, BinCapacities: []int{size - 1}}))
		if s.Mask()[0] {
			t.Fatalf("size %d: remaining == size-1 must be illegal", size)
		}
	}
}

func TestMask_ReplicaDistinctness(t *testing.T) {
	// Two bins of 100; one critical item (two copies) then three items of 50.
	in := mustSpec(t, problem.ScenarioSpec{
		ItemSizes:     []int{20, 50, 50, 50},
		Critical:      []int{0},
		Copies:        2,
		BinCapacities: []int{100, 100},
	})
	s := New(in)
	if m := s.Mask(); !m[0] || !m[1] {
		t.Fatalf("first replica should fit anywhere: %v", m)
	}
	if _, err := s.Assign(0); err != nil {
		t.Fatalf("assign first replica: %v", err)
	}
	m := s.Mask()
	if m[0] {
		t.Fatalf("second replica must not share bin 0 even with room left (remaining=%d)", s.Bins[0].Remaining)
	}
	if !m[1] {
		t.Fatalf("second replica should be legal on bin 1")
	}
	if _, err := s.Assign(0); !errors.Is(err, ErrReplicaShared) {
		t.Fatalf("Assign should refuse shared replica bin, got %v", err)
	}
	if s.StepCount != 1 || len(s.Pending) != 4 {
		t.Fatalf("refused assign mutated state: step=%d pending=%d", s.StepCount, len(s.Pending))
	}
	if _, err := s.Assign(1); err != nil {
		t.Fatalf("assign second replica: %v", err)
	}
	if got := s.PlacedGroups[0]; len(got) != 2 || got[0] == got[1] {
		t.Fatalf("placed groups wrong: %v", got)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestMask_SingleBinSecondReplicaIllegal(t *testing.T) {
	s := New(mustSpec(t, problem.ScenarioSpec{
		ItemSizes:     []int{1},
		Critical:      []int{0},
		Copies:        2,
		BinCapacities: []int{1000},
	}))
	if _, err := s.Assign(0); err != nil {
		t.Fatal(err)
	}
	if AnyLegal(s.Mask()) {
		t.Fatalf("no distinct second bin exists; mask must be all-false")
	}
}

func TestAssign_Errors(t *testing.T) {
	s := New(mustSpec(t, problem.ScenarioSpec{ItemSizes: []int{10}, BinCapacities: []int{5, 20}}))
	if _, err := s.Assign(2); !errors.Is(err, ErrBinOutOfRange) {
		t.Fatalf("want out of range, got %v", err)
	}
	if _, err := s.Assign(0); !errors.Is(err, ErrOverCapacity) {
		t.Fatalf("want over capacity, got %v", err)
	}
	if _, err := s.Assign(1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Assign(1); !errors.Is(err, ErrNoPendingTask) {
		t.Fatalf("want no pending, got %v", err)
	}
	s.Finish(CauseSuccess)
	if _, err := s.Assign(1); !errors.Is(err, ErrTerminal) {
		t.Fatalf("want terminal, got %v", err)
	}
	if AnyLegal(s.Mask()) {
		t.Fatalf("terminal state must expose an empty mask")
	}
}

func TestRandomLegalPlay_KeepsInvariants(t *testing.T) {
	cfg := tuning.Defaults()
	for seed := int64(0); seed < 100; seed++ {
		rng := rand.New(rand.NewSource(seed))
		in, err := problem.Generate(cfg, rng)
		if err != nil {
			t.Fatal(err)
		}
		s := New(in)
		for {
			legal := LegalBins(s.Mask())
			if len(legal) == 0 {
				break
			}
			if _, err := s.Assign(legal[rng.Intn(len(legal))]); err != nil {
				t.Fatalf("seed %d: legal assign failed: %v", seed, err)
			}
			for _, b := range s.Bins {
				if b.Remaining < 0 {
					t.Fatalf("seed %d: bin %d remaining %d", seed, b.ID, b.Remaining)
				}
			}
			for g, bins := range s.PlacedGroups {
				if len(bins) > cfg.NumberOfCopies {
					t.Fatalf("seed %d: group %d on %d bins", seed, g, len(bins))
				}
			}
			if err := s.CheckInvariants(); err != nil {
				t.Fatalf("seed %d: %v", seed, err)
			}
		}
		if len(s.Pending) == 0 {
			s.Finish(CauseSuccess)
			if err := s.CheckInvariants(); err != nil {
				t.Fatalf("seed %d at success: %v", seed, err)
			}
		}
	}
}

func TestComms_IntraAndTotal(t *testing.T) {
	s := New(mustSpec(t, problem.ScenarioSpec{
		ItemSizes:     []int{10, 10, 10},
		BinCapacities: []int{100, 100},
		Links:         []problem.Link{{0, 1}, {1, 2}},
	}))
	if total, intra := s.Comms(); total != 0 || intra != 0 {
		t.Fatalf("nothing placed: total=%d intra=%d", total, intra)
	}
	_, _ = s.Assign(0)
	_, _ = s.Assign(0)
	if total, intra := s.Comms(); total != 1 || intra != 1 {
		t.Fatalf("after two co-located: total=%d intra=%d", total, intra)
	}
	_, _ = s.Assign(1)
	if total, intra := s.Comms(); total != 2 || intra != 1 {
		t.Fatalf("after split: total=%d intra=%d", total, intra)
	}
	if got := s.Partners(1); len(got) != 2 {
		t.Fatalf("partners of 1: %v", got)
	}
}

func TestClone_AndDigest(t *testing.T) {
	s := New(mustSpec(t, problem.ScenarioSpec{
		ItemSizes:     []int{10, 20},
		Critical:      []int{0},
		Copies:        2,
		BinCapacities: []int{100, 100},
		Links:         []problem.Link{{0, 1}},
	}))
	_, _ = s.Assign(0)
	c := s.Clone()
	if c.Digest() != s.Digest() {
		t.Fatalf("clone digest differs")
	}
	_, _ = c.Assign(1)
	if c.Digest() == s.Digest() {
		t.Fatalf("digest should change after assign")
	}
	if len(s.PlacedGroups[0]) != 1 || s.StepCount != 1 {
		t.Fatalf("clone mutation leaked into original")
	}
	if len(c.Partners(0)) != 1 {
		t.Fatalf("clone lost adjacency")
	}
}

func TestCheckInvariants_DetectsCorruption(t *testing.T) {
	s := New(mustSpec(t, problem.ScenarioSpec{ItemSizes: []int{10}, BinCapacities: []int{100}}))
	_, _ = s.Assign(0)
	s.Bins[0].Remaining = 95
	if err := s.CheckInvariants(); err == nil {
		t.Fatalf("expected capacity bookkeeping violation")
	}
}
