package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cades.ai/internal/sim/placement"
	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
)

func TestEvaluate_GeneratedProblems(t *testing.T) {
	rep, err := evaluate(context.Background(), tuning.Defaults(), "best_fit", 1, 20, 3, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "best_fit", rep.Model)
	assert.Equal(t, 20, rep.Summary.Episodes)
	assert.Len(t, rep.Episodes, 20)
	assert.Zero(t, rep.Summary.TerminationCause[placement.CauseCapacityViolation])

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, rep))
	var back Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, rep.TuningDigest, back.TuningDigest)
	assert.Len(t, back.Summary.TerminationCause, len(placement.Causes))
}

func TestEvaluate_Scenario(t *testing.T) {
	cfg := tuning.Defaults()
	cfg.TotalBins = 2
	in, err := problem.FromSpec(problem.ScenarioSpec{ItemSizes: []int{60, 30}, BinCapacities: []int{100, 100}})
	require.NoError(t, err)

	rep, err := evaluate(context.Background(), cfg, "random", 7, 4, 2, []*problem.Instance{in}, nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rep.Summary.TerminationCause[placement.CauseSuccess])
}

func TestEvaluate_UnknownPolicy(t *testing.T) {
	_, err := evaluate(context.Background(), tuning.Defaults(), "ppo", 1, 2, 1, nil, nil)
	require.Error(t, err)
}
