package episode

import (
	"cades.ai/internal/sim/placement"
	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
)

// ShapedReward scores placing it on bin for a non-terminal step, from the state as it was
// before the placement:
//
//	alpha*occupancy + (1-alpha)*communication
//
// occupancy is the chosen bin's used fraction after placement. communication is the share
// of the item's already placed partners hosted on the chosen bin (0 with no such partner).
func ShapedReward(alpha float64, s *placement.State, it problem.Item, bin int) float64 {
	if bin < 0 || bin >= len(s.Bins) {
		return 0
	}
	b := s.Bins[bin]
	occ := 0.0
	if b.Capacity > 0 {
		occ = float64(b.Used()+it.Size) / float64(b.Capacity)
	}

	placed, near := 0, 0
	for _, p := range s.Partners(it.Origin) {
		hosts := s.Hosts[p]
		if len(hosts) == 0 {
			continue
		}
		placed++
		for _, h := range hosts {
			if h == bin {
				near++
				break
			}
		}
	}
	comm := 0.0
	if placed > 0 {
		comm = float64(near) / float64(placed)
	}
	return alpha*occ + (1-alpha)*comm
}

// TerminalReward is the fixed value a terminal cause overrides the shaped reward with.
func TerminalReward(r tuning.Reward, c placement.Cause) (float64, bool) {
	switch c {
	case placement.CauseSuccess:
		return r.Success, true
	case placement.CauseInfeasible:
		return r.Infeasible, true
	case placement.CauseCapacityViolation:
		return r.InvalidAction, true
	case placement.CauseMaxStepsExceeded:
		return r.MaxSteps, true
	}
	return 0, false
}
