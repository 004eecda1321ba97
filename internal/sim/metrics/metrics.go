// Package metrics computes occupancy and communication figures from a placement
// snapshot. Every function is pure and returns 0 where a denominator would be zero.
package metrics

import (
	"math"

	"cades.ai/internal/sim/placement"
)

// Report is the set of per-episode figures surfaced in step info.
type Report struct {
	AvgNodeOccupancy        float64 `json:"avg_node_occupancy"`
	AvgActiveNodeOccupancy  float64 `json:"avg_active_node_occupancy"`
	MessageChannelOccupancy float64 `json:"message_channel_occupancy"`
	EmptyNodes              float64 `json:"empty_nodes"`
	TotalComms              int     `json:"total_comms"`
	IntraComms              int     `json:"intranode_comms"`
}

// MessageChannelOccupancy is the percentage of communicating pairs that cross bins.
func MessageChannelOccupancy(totalComms, intraComms int) float64 {
	if totalComms <= 0 {
		return 0
	}
	return round2(float64(totalComms-intraComms) / float64(totalComms) * 100)
}

// AvgNodeOccupancy is the mean used percentage over bins with nonzero capacity.
func AvgNodeOccupancy(capacities, remaining []int) float64 {
	var sum float64
	n := 0
	for i, c := range capacities {
		if c == 0 || i >= len(remaining) {
			continue
		}
		sum += float64(c-remaining[i]) / float64(c)
		n++
	}
	if n == 0 {
		return 0
	}
	return round2(sum / float64(n) * 100)
}

// AvgActiveNodeOccupancy is AvgNodeOccupancy over bins that are neither untouched nor full.
func AvgActiveNodeOccupancy(capacities, remaining []int) float64 {
	var caps, rem []int
	for i, c := range capacities {
		if i >= len(remaining) {
			break
		}
		r := remaining[i]
		if r == c || r == 0 {
			continue
		}
		caps = append(caps, c)
		rem = append(rem, r)
	}
	return AvgNodeOccupancy(caps, rem)
}

// EmptyNodesPercentage is the share of bins with no assigned items.
func EmptyNodesPercentage(assignments [][]int) float64 {
	if len(assignments) == 0 {
		return 0
	}
	empty := 0
	for _, a := range assignments {
		if len(a) == 0 {
			empty++
		}
	}
	return round2(float64(empty) / float64(len(assignments)) * 100)
}

// Snapshot computes every figure for s without mutating it.
func Snapshot(s *placement.State) Report {
	caps, rem := s.Capacities(), s.RemainingCapacities()
	total, intra := s.Comms()
	return Report{
		AvgNodeOccupancy:        AvgNodeOccupancy(caps, rem),
		AvgActiveNodeOccupancy:  AvgActiveNodeOccupancy(caps, rem),
		MessageChannelOccupancy: MessageChannelOccupancy(total, intra),
		EmptyNodes:              EmptyNodesPercentage(s.Assignments()),
		TotalComms:              total,
		IntraComms:              intra,
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
