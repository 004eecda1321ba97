package rollout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cades.ai/internal/agent"
	"cades.ai/internal/env"
	"cades.ai/internal/sim/placement"
	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
	"cades.ai/internal/stats"
)

func firstFit(int) (agent.Model, error) {
	return agent.NewPolicyModel("first_fit", agent.FirstFit{}), nil
}

func TestRunBatch_IndependentOfWorkerCount(t *testing.T) {
	cfg := tuning.Defaults()
	one, err := RunBatch(context.Background(), Batch{Config: cfg, Episodes: 12, Workers: 1, NewModel: firstFit})
	require.NoError(t, err)
	four, err := RunBatch(context.Background(), Batch{Config: cfg, Episodes: 12, Workers: 4, NewModel: firstFit})
	require.NoError(t, err)

	require.Len(t, one, 12)
	require.Len(t, four, 12)
	for i := range one {
		assert.Equal(t, one[i].Actions, four[i].Actions, "episode %d", i)
		assert.Equal(t, one[i].Cause, four[i].Cause, "episode %d", i)
		assert.InDelta(t, one[i].Reward, four[i].Reward, 1e-9, "episode %d", i)
	}
	sum := stats.Summarize(four)
	assert.Zero(t, sum.TerminationCause[placement.CauseCapacityViolation])
}

func TestRunBatch_ScenarioInstancesCycle(t *testing.T) {
	cfg := tuning.Defaults()
	cfg.TotalBins = 2
	ok, err := problem.FromSpec(problem.ScenarioSpec{ItemSizes: []int{60, 30}, BinCapacities: []int{100, 100}})
	require.NoError(t, err)
	bad, err := problem.FromSpec(problem.ScenarioSpec{ItemSizes: []int{10}, BinCapacities: []int{5, 9}})
	require.NoError(t, err)

	res, err := RunBatch(context.Background(), Batch{
		Config:    cfg,
		Episodes:  4,
		Workers:   2,
		Instances: []*problem.Instance{ok, bad},
		NewModel:  firstFit,
	})
	require.NoError(t, err)
	want := []placement.Cause{placement.CauseSuccess, placement.CauseInfeasible, placement.CauseSuccess, placement.CauseInfeasible}
	for i, r := range res {
		assert.Equal(t, want[i], r.Cause, "episode %d", i)
	}
}

type countingLog struct{ n atomic.Int64 }

func (c *countingLog) WriteEpisode(env.EpisodeLogEntry) error {
	c.n.Add(1)
	return nil
}

func TestRunBatch_PassesEnvOptions(t *testing.T) {
	logs := &countingLog{}
	_, err := RunBatch(context.Background(), Batch{
		Config:     tuning.Defaults(),
		Episodes:   6,
		Workers:    3,
		NewModel:   firstFit,
		EnvOptions: []env.Option{env.WithEpisodeLogger(logs), env.WithInvariantChecks()},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 6, logs.n.Load())
}

func TestRunBatch_ModelErrorStopsBatch(t *testing.T) {
	boom := errors.New("boom")
	_, err := RunBatch(context.Background(), Batch{
		Config:   tuning.Defaults(),
		Episodes: 5,
		Workers:  2,
		NewModel: func(w int) (agent.Model, error) {
			if w == 1 {
				return nil, boom
			}
			return firstFit(w)
		},
	})
	require.ErrorIs(t, err, boom)
}

func TestRunBatch_Validation(t *testing.T) {
	res, err := RunBatch(context.Background(), Batch{Config: tuning.Defaults()})
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = RunBatch(context.Background(), Batch{Config: tuning.Defaults(), Episodes: 1})
	require.Error(t, err)

	cfg := tuning.Defaults()
	cfg.Alpha = 2
	_, err = RunBatch(context.Background(), Batch{Config: cfg, Episodes: 1, NewModel: firstFit})
	require.True(t, tuning.IsValidationError(err))
}

func TestRunBatch_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunBatch(ctx, Batch{Config: tuning.Defaults(), Episodes: 50, Workers: 2, NewModel: firstFit})
	require.ErrorIs(t, err, context.Canceled)
}
