package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cades.ai/internal/sim/metrics"
	"cades.ai/internal/sim/placement"
)

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Episodes)
	require.Len(t, s.TerminationCause, len(placement.Causes))
	for _, c := range placement.Causes {
		assert.Zero(t, s.TerminationCause[c])
	}
	assert.Zero(t, s.MeanMetrics.EmptyNodes)
}

func TestSummarize_Batch(t *testing.T) {
	eps := []Episode{
		{Reward: 10, Length: 4, InferenceTime: 2 * time.Millisecond, Cause: placement.CauseSuccess,
			Metrics: metrics.Report{AvgNodeOccupancy: 40, MessageChannelOccupancy: 50, EmptyNodes: 50}},
		{Reward: 12, Length: 4, InferenceTime: 4 * time.Millisecond, Cause: placement.CauseSuccess,
			Metrics: metrics.Report{AvgNodeOccupancy: 60, MessageChannelOccupancy: 0, EmptyNodes: 25}},
		{Reward: -10, Length: 2, Cause: placement.CauseInfeasible,
			Metrics: metrics.Report{AvgNodeOccupancy: 20, EmptyNodes: 75}},
		{Reward: -100, Length: 2, Cause: placement.CauseCapacityViolation,
			Metrics: metrics.Report{AvgNodeOccupancy: 0, MessageChannelOccupancy: 100, EmptyNodes: 100}},
	}
	s := Summarize(eps)

	assert.Equal(t, 4, s.Episodes)
	assert.InDelta(t, -22, s.MeanEpisodeReward, 1e-9)
	assert.InDelta(t, 3, s.MeanEpisodeLength, 1e-9)
	assert.InDelta(t, 0.0015, s.MeanInferenceSeconds, 1e-9)
	assert.Equal(t, map[placement.Cause]float64{
		placement.CauseSuccess:           50,
		placement.CauseInfeasible:        25,
		placement.CauseCapacityViolation: 25,
		placement.CauseMaxStepsExceeded:  0,
	}, s.TerminationCause)
	assert.InDelta(t, 30, s.MeanMetrics.AvgNodeOccupancy, 1e-9)
	assert.InDelta(t, 37.5, s.MeanMetrics.MessageChannelOccupancy, 1e-9)
	// Only the two successful episodes count.
	assert.InDelta(t, 37.5, s.MeanMetrics.EmptyNodes, 1e-9)
}

func TestSummarize_NoSuccessLeavesEmptyNodesZero(t *testing.T) {
	s := Summarize([]Episode{{Cause: placement.CauseMaxStepsExceeded, Metrics: metrics.Report{EmptyNodes: 80}}})
	assert.Equal(t, 100.0, s.TerminationCause[placement.CauseMaxStepsExceeded])
	assert.Zero(t, s.MeanMetrics.EmptyNodes)
}
