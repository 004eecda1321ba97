package metrics

import (
	"testing"

	"cades.ai/internal/sim/placement"
	"cades.ai/internal/sim/problem"
)

func TestZeroDenominators(t *testing.T) {
	if got := MessageChannelOccupancy(0, 0); got != 0 {
		t.Fatalf("MessageChannelOccupancy(0,0)=%v", got)
	}
	if got := AvgNodeOccupancy(nil, nil); got != 0 {
		t.Fatalf("AvgNodeOccupancy(empty)=%v", got)
	}
	if got := AvgNodeOccupancy([]int{0, 0}, []int{0, 0}); got != 0 {
		t.Fatalf("AvgNodeOccupancy(zero caps)=%v", got)
	}
	if got := AvgActiveNodeOccupancy([]int{10, 10}, []int{10, 0}); got != 0 {
		t.Fatalf("AvgActiveNodeOccupancy(empty and full only)=%v", got)
	}
	if got := EmptyNodesPercentage(nil); got != 0 {
		t.Fatalf("EmptyNodesPercentage(nil)=%v", got)
	}
}

func TestValues(t *testing.T) {
	if got := MessageChannelOccupancy(3, 1); got != 66.67 {
		t.Fatalf("MessageChannelOccupancy(3,1)=%v", got)
	}
	if got := MessageChannelOccupancy(4, 4); got != 0 {
		t.Fatalf("MessageChannelOccupancy(4,4)=%v", got)
	}
	// 50% + 0% + 100% over three bins.
	if got := AvgNodeOccupancy([]int{100, 100, 50}, []int{50, 100, 0}); got != 50 {
		t.Fatalf("AvgNodeOccupancy=%v", got)
	}
	// Only the half-full bin is active.
	if got := AvgActiveNodeOccupancy([]int{100, 100, 50}, []int{50, 100, 0}); got != 50 {
		t.Fatalf("AvgActiveNodeOccupancy=%v", got)
	}
	if got := AvgActiveNodeOccupancy([]int{300, 100}, []int{200, 25}); got != 54.17 {
		t.Fatalf("AvgActiveNodeOccupancy rounding=%v", got)
	}
	if got := EmptyNodesPercentage([][]int{{1}, {}, {}}); got != 66.67 {
		t.Fatalf("EmptyNodesPercentage=%v", got)
	}
}

func TestSnapshot(t *testing.T) {
	in, err := problem.FromSpec(problem.ScenarioSpec{
		ItemSizes:     []int{50, 50, 25},
		BinCapacities: []int{100, 100, 100, 100},
		Links:         []problem.Link{{0, 1}, {1, 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	s := placement.New(in)
	for _, b := range []int{0, 0, 1} {
		if _, err := s.Assign(b); err != nil {
			t.Fatal(err)
		}
	}
	before := s.Digest()
	r := Snapshot(s)
	if s.Digest() != before {
		t.Fatalf("Snapshot mutated state")
	}
	if r.TotalComms != 2 || r.IntraComms != 1 {
		t.Fatalf("comms: %+v", r)
	}
	if r.MessageChannelOccupancy != 50 {
		t.Fatalf("message channel: %v", r.MessageChannelOccupancy)
	}
	// (100% + 25% + 0 + 0) / 4
	if r.AvgNodeOccupancy != 31.25 {
		t.Fatalf("avg node: %v", r.AvgNodeOccupancy)
	}
	if r.AvgActiveNodeOccupancy != 25 {
		t.Fatalf("avg active: %v", r.AvgActiveNodeOccupancy)
	}
	if r.EmptyNodes != 50 {
		t.Fatalf("empty nodes: %v", r.EmptyNodes)
	}
}
