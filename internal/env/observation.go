package env

import (
	"cades.ai/internal/sim/placement"
	"cades.ai/internal/sim/tuning"
)

// Observation is what an agent sees before choosing a bin. It is a pure function of
// the placement state.
type Observation struct {
	Remaining  []int `json:"remaining"`
	Capacities []int `json:"capacities"`

	NextSize      int  `json:"next_size"`
	NextCritical  bool `json:"next_critical"`
	NextCopyIndex int  `json:"next_copy_index"`
	// GroupBins marks bins already holding a replica of the next task's group.
	GroupBins []bool `json:"group_bins"`

	PendingTasks int  `json:"pending_tasks"`
	StepCount    int  `json:"step_count"`
	Done         bool `json:"done"`

	Scale Scale `json:"scale"`
}

// Scale holds the normalizers Vector divides by.
type Scale struct {
	MaxBinSize float64 `json:"max_bin_size"`
	MaxTasks   float64 `json:"max_tasks"`
	Copies     float64 `json:"copies"`
}

func scaleFor(cfg tuning.Config) Scale {
	return Scale{
		MaxBinSize: float64(cfg.MaxBinSize),
		MaxTasks:   float64(cfg.MaxTasks()),
		Copies:     float64(cfg.NumberOfCopies),
	}
}

func observe(s *placement.State, sc Scale) Observation {
	o := Observation{
		Remaining:    s.RemainingCapacities(),
		Capacities:   s.Capacities(),
		GroupBins:    make([]bool, len(s.Bins)),
		PendingTasks: len(s.Pending),
		StepCount:    s.StepCount,
		Done:         s.Terminal,
		Scale:        sc,
	}
	if it, ok := s.Current(); ok && !s.Terminal {
		o.NextSize = it.Size
		o.NextCritical = it.Critical
		o.NextCopyIndex = it.CopyIndex
		if it.Critical {
			for _, b := range s.PlacedGroups[it.GroupID] {
				o.GroupBins[b] = true
			}
		}
	}
	return o
}

// Vector flattens the observation into values in [0,1], laid out as
//
//	remaining/max_bin_size per bin, capacity/max_bin_size per bin, group bins per bin,
//	next size, next critical, next copy index, pending tasks, step count.
func (o Observation) Vector() []float64 {
	n := len(o.Capacities)
	v := make([]float64, 0, 3*n+5)
	for _, r := range o.Remaining {
		v = append(v, ratio(float64(r), o.Scale.MaxBinSize))
	}
	for _, c := range o.Capacities {
		v = append(v, ratio(float64(c), o.Scale.MaxBinSize))
	}
	for _, g := range o.GroupBins {
		v = append(v, boolFloat(g))
	}
	v = append(v,
		ratio(float64(o.NextSize), o.Scale.MaxBinSize),
		boolFloat(o.NextCritical),
		ratio(float64(o.NextCopyIndex), o.Scale.Copies),
		ratio(float64(o.PendingTasks), o.Scale.MaxTasks),
		ratio(float64(o.StepCount), o.Scale.MaxTasks),
	)
	return v
}

// Box describes a bounded continuous space.
type Box struct {
	Shape []int   `json:"shape"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
}

// Discrete describes the actions {0..N-1}.
type Discrete struct {
	N int `json:"n"`
}

func observationSpace(cfg tuning.Config) Box {
	return Box{Shape: []int{3*cfg.TotalBins + 5}, Low: 0, High: 1}
}

func ratio(x, d float64) float64 {
	if d <= 0 {
		return 0
	}
	r := x / d
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
