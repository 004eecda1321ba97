// Package stats aggregates evaluated episodes into the figures reported by cmd/eval.
package stats

import (
	"time"

	"cades.ai/internal/sim/metrics"
	"cades.ai/internal/sim/placement"
)

// Episode is one finished evaluation episode.
type Episode struct {
	Reward        float64         `json:"episode_reward"`
	Length        int             `json:"episode_length"`
	InferenceTime time.Duration   `json:"inference_time_ns"`
	Cause         placement.Cause `json:"termination_cause"`
	Metrics       metrics.Report  `json:"metrics"`
	Actions       []int           `json:"actions,omitempty"`
}

// MeanMetrics are per-episode metrics averaged over a batch. EmptyNodes only counts
// SUCCESS episodes; a failed episode leaves bins empty for the wrong reason.
type MeanMetrics struct {
	AvgNodeOccupancy        float64 `json:"avg_node_occupancy"`
	AvgActiveNodeOccupancy  float64 `json:"avg_active_node_occupancy"`
	MessageChannelOccupancy float64 `json:"message_channel_occupancy"`
	EmptyNodes              float64 `json:"empty_nodes"`
}

type Summary struct {
	Episodes             int                         `json:"episodes"`
	MeanEpisodeReward    float64                     `json:"mean_episode_reward"`
	MeanEpisodeLength    float64                     `json:"mean_episode_length"`
	MeanInferenceSeconds float64                     `json:"mean_inference_time"`
	TerminationCause     map[placement.Cause]float64 `json:"termination_cause"`
	MeanMetrics          MeanMetrics                 `json:"mean_metrics"`
}

// Summarize returns zeros for an empty batch, with every cause present.
func Summarize(eps []Episode) Summary {
	out := Summary{
		Episodes:         len(eps),
		TerminationCause: make(map[placement.Cause]float64, len(placement.Causes)),
	}
	for _, c := range placement.Causes {
		out.TerminationCause[c] = 0
	}
	if len(eps) == 0 {
		return out
	}

	var reward, length, infer float64
	var node, active, channel, empty float64
	succ := 0
	for _, e := range eps {
		reward += e.Reward
		length += float64(e.Length)
		infer += e.InferenceTime.Seconds()
		out.TerminationCause[e.Cause]++
		node += e.Metrics.AvgNodeOccupancy
		active += e.Metrics.AvgActiveNodeOccupancy
		channel += e.Metrics.MessageChannelOccupancy
		if e.Cause == placement.CauseSuccess {
			empty += e.Metrics.EmptyNodes
			succ++
		}
	}
	n := float64(len(eps))
	out.MeanEpisodeReward = reward / n
	out.MeanEpisodeLength = length / n
	out.MeanInferenceSeconds = infer / n
	for c, k := range out.TerminationCause {
		out.TerminationCause[c] = k / n * 100
	}
	out.MeanMetrics = MeanMetrics{
		AvgNodeOccupancy:        node / n,
		AvgActiveNodeOccupancy:  active / n,
		MessageChannelOccupancy: channel / n,
	}
	if succ > 0 {
		out.MeanMetrics.EmptyNodes = empty / float64(succ)
	}
	return out
}
