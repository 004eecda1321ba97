package placement

import (
	"errors"
	"fmt"

	"cades.ai/internal/sim/problem"
)

// Cause classifies why an episode ended.
type Cause string

const (
	CauseNone              Cause = ""
	CauseSuccess           Cause = "SUCCESS"
	CauseInfeasible        Cause = "INFEASIBLE"
	CauseCapacityViolation Cause = "CAPACITY_VIOLATION"
	CauseMaxStepsExceeded  Cause = "MAX_STEPS_EXCEEDED"
)

// Causes lists every terminal cause in reporting order.
var Causes = []Cause{CauseSuccess, CauseInfeasible, CauseCapacityViolation, CauseMaxStepsExceeded}

var (
	ErrNoPendingTask = errors.New("placement: no pending task")
	ErrBinOutOfRange = errors.New("placement: bin out of range")
	ErrOverCapacity  = errors.New("placement: bin over capacity")
	ErrReplicaShared = errors.New("placement: replica bin already used by its group")
	ErrTerminal      = errors.New("placement: state is terminal")
)

type Bin struct {
	ID        int   `json:"id"`
	Capacity  int   `json:"capacity"`
	Remaining int   `json:"remaining_capacity"`
	Assigned  []int `json:"assigned_item_ids"`
}

func (b Bin) Used() int   { return b.Capacity - b.Remaining }
func (b Bin) Empty() bool { return len(b.Assigned) == 0 }

// State is the mutable per-episode placement state. Every relation is an integer id
// into Bins, Items or the logical item space.
type State struct {
	Bins  []Bin          `json:"bins"`
	Items []problem.Item `json:"items"`
	Links []problem.Link `json:"links,omitempty"`

	NumItems int `json:"num_items"`
	Copies   int `json:"number_of_copies"`

	Pending      []int         `json:"pending_queue"`
	PlacedGroups map[int][]int `json:"placed_groups"`
	// Hosts maps a logical item to the bins holding its tasks, in placement order.
	Hosts [][]int `json:"hosts"`

	StepCount int   `json:"step_count"`
	Terminal  bool  `json:"terminal"`
	Cause     Cause `json:"termination_cause,omitempty"`

	adj [][]int
}

// New builds the initial state for an instance. The instance is not retained.
func New(in *problem.Instance) *State {
	s := &State{
		Bins:         make([]Bin, len(in.BinCapacities)),
		Items:        append([]problem.Item(nil), in.Items...),
		Links:        append([]problem.Link(nil), in.Links...),
		NumItems:     in.NumItems,
		Copies:       in.Copies,
		Pending:      make([]int, len(in.Items)),
		PlacedGroups: map[int][]int{},
		Hosts:        make([][]int, in.NumItems),
	}
	for b, c := range in.BinCapacities {
		s.Bins[b] = Bin{ID: b, Capacity: c, Remaining: c}
	}
	for i, it := range in.Items {
		s.Pending[i] = it.ID
	}
	s.buildAdjacency()
	return s
}

func (s *State) buildAdjacency() {
	s.adj = make([][]int, s.NumItems)
	for _, l := range s.Links {
		if l[0] < 0 || l[1] >= s.NumItems {
			continue
		}
		s.adj[l[0]] = append(s.adj[l[0]], l[1])
		s.adj[l[1]] = append(s.adj[l[1]], l[0])
	}
}

func (s *State) TotalBins() int { return len(s.Bins) }

// Current returns the head of the pending queue.
func (s *State) Current() (problem.Item, bool) {
	if len(s.Pending) == 0 {
		return problem.Item{}, false
	}
	return s.Items[s.Pending[0]], true
}

// Partners returns the logical items that communicate with origin.
func (s *State) Partners(origin int) []int {
	if origin < 0 || origin >= len(s.adj) {
		return nil
	}
	return s.adj[origin]
}

// Assign places the head of the pending queue on bin. It refuses anything that would
// break an invariant and leaves the state untouched in that case.
func (s *State) Assign(bin int) (problem.Item, error) {
	if s.Terminal {
		return problem.Item{}, ErrTerminal
	}
	it, ok := s.Current()
	if !ok {
		return problem.Item{}, ErrNoPendingTask
	}
	if bin < 0 || bin >= len(s.Bins) {
		return it, fmt.Errorf("%w: %d not in [0,%d)", ErrBinOutOfRange, bin, len(s.Bins))
	}
	if s.Bins[bin].Remaining < it.Size {
		return it, fmt.Errorf("%w: bin %d remaining %d < size %d", ErrOverCapacity, bin, s.Bins[bin].Remaining, it.Size)
	}
	if it.Critical && containsInt(s.PlacedGroups[it.GroupID], bin) {
		return it, fmt.Errorf("%w: group %d bin %d", ErrReplicaShared, it.GroupID, bin)
	}

	s.Pending = s.Pending[1:]
	s.Bins[bin].Assigned = append(s.Bins[bin].Assigned, it.ID)
	s.Bins[bin].Remaining -= it.Size
	if it.Critical {
		s.PlacedGroups[it.GroupID] = append(s.PlacedGroups[it.GroupID], bin)
	}
	if it.Origin >= 0 && it.Origin < len(s.Hosts) && !containsInt(s.Hosts[it.Origin], bin) {
		s.Hosts[it.Origin] = append(s.Hosts[it.Origin], bin)
	}
	s.StepCount++
	return it, nil
}

// Finish freezes the state with the given cause.
func (s *State) Finish(c Cause) {
	s.Terminal = true
	s.Cause = c
}

func (s *State) Capacities() []int {
	out := make([]int, len(s.Bins))
	for i, b := range s.Bins {
		out[i] = b.Capacity
	}
	return out
}

func (s *State) RemainingCapacities() []int {
	out := make([]int, len(s.Bins))
	for i, b := range s.Bins {
		out[i] = b.Remaining
	}
	return out
}

// Assignments returns a copy of every bin's assigned item ids.
func (s *State) Assignments() [][]int {
	out := make([][]int, len(s.Bins))
	for i, b := range s.Bins {
		out[i] = append([]int{}, b.Assigned...)
	}
	return out
}

// Comms counts communicating pairs whose endpoints are both placed, and how many of
// those share at least one bin.
func (s *State) Comms() (total, intra int) {
	for _, l := range s.Links {
		a, b := s.Hosts[l[0]], s.Hosts[l[1]]
		if len(a) == 0 || len(b) == 0 {
			continue
		}
		total++
		if intersects(a, b) {
			intra++
		}
	}
	return total, intra
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := *s
	out.Bins = make([]Bin, len(s.Bins))
	for i, b := range s.Bins {
		b.Assigned = append([]int(nil), b.Assigned...)
		out.Bins[i] = b
	}
	out.Items = append([]problem.Item(nil), s.Items...)
	out.Links = append([]problem.Link(nil), s.Links...)
	out.Pending = append([]int(nil), s.Pending...)
	out.PlacedGroups = make(map[int][]int, len(s.PlacedGroups))
	for g, bins := range s.PlacedGroups {
		out.PlacedGroups[g] = append([]int(nil), bins...)
	}
	out.Hosts = make([][]int, len(s.Hosts))
	for i, h := range s.Hosts {
		out.Hosts[i] = append([]int(nil), h...)
	}
	out.buildAdjacency()
	return &out
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func intersects(a, b []int) bool {
	for _, x := range a {
		if containsInt(b, x) {
			return true
		}
	}
	return false
}
