// Package agent holds the contract between the environment and whatever picks bins,
// plus the heuristic baselines used for evaluation and smoke tests.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cades.ai/internal/env"
	"cades.ai/internal/sim/problem"
	"cades.ai/internal/stats"
)

var ErrNotInitialized = errors.New("agent: model not initialized")

// Transition is one applied action as a learner sees it.
type Transition struct {
	Observation env.Observation
	Mask        []bool
	Action      int
	Reward      float64
	Next        env.Observation
	Done        bool
	Info        env.Info
}

// Policy chooses a bin for the next task. Act must return an index in [0, len(mask));
// choosing a masked-out bin ends the episode with CAPACITY_VIOLATION.
type Policy interface {
	Act(obs env.Observation, mask []bool) int
	Observe(t Transition)
}

// EpisodeResult is what one evaluation episode yields.
type EpisodeResult = stats.Episode

// Model is the capability set a trainable agent exposes to the tooling.
type Model interface {
	Initialize(e *env.Env) error
	Evaluate(ctx context.Context, in *problem.Instance) (EpisodeResult, error)
	ModelName() string
}

// PolicyModel runs a Policy against an Env.
type PolicyModel struct {
	Name   string
	Policy Policy

	env *env.Env
}

func NewPolicyModel(name string, p Policy) *PolicyModel {
	return &PolicyModel{Name: name, Policy: p}
}

func (m *PolicyModel) ModelName() string { return m.Name }

func (m *PolicyModel) Initialize(e *env.Env) error {
	if e == nil {
		return fmt.Errorf("agent: nil env")
	}
	if m.Policy == nil {
		return fmt.Errorf("agent: %s has no policy", m.Name)
	}
	m.env = e
	return nil
}

// Evaluate plays one evaluation episode on in, or on the next problem of the
// evaluation stream when in is nil. ctx is checked between steps.
func (m *PolicyModel) Evaluate(ctx context.Context, in *problem.Instance) (EpisodeResult, error) {
	return m.play(ctx, env.ResetOptions{Instance: in}, false)
}

// Train plays episodes from the training stream, feeding every transition back to the
// policy, and summarizes them.
func (m *PolicyModel) Train(ctx context.Context, episodes int) (stats.Summary, error) {
	out := make([]stats.Episode, 0, episodes)
	for i := 0; i < episodes; i++ {
		r, err := m.play(ctx, env.ResetOptions{Training: true}, true)
		if err != nil {
			return stats.Summarize(out), err
		}
		out = append(out, r)
	}
	return stats.Summarize(out), nil
}

func (m *PolicyModel) play(ctx context.Context, opts env.ResetOptions, learn bool) (EpisodeResult, error) {
	if m.env == nil {
		return EpisodeResult{}, ErrNotInitialized
	}
	obs, mask, err := m.env.Reset(opts)
	if err != nil {
		return EpisodeResult{}, err
	}

	var infer time.Duration
	for !obs.Done {
		if err := ctx.Err(); err != nil {
			return EpisodeResult{}, err
		}
		t0 := time.Now()
		a := m.Policy.Act(obs, mask)
		infer += time.Since(t0)

		res, err := m.env.Step(a, opts.Training)
		if err != nil {
			return EpisodeResult{}, err
		}
		next := m.env.LegalityMask()
		if learn {
			m.Policy.Observe(Transition{
				Observation: obs,
				Mask:        mask,
				Action:      a,
				Reward:      res.Reward,
				Next:        res.Observation,
				Done:        res.Done,
				Info:        res.Info,
			})
		}
		obs, mask = res.Observation, next
	}

	tr := m.env.Transcript()
	return EpisodeResult{
		Reward:        tr.TotalReward,
		Length:        tr.Steps,
		InferenceTime: infer,
		Cause:         tr.Cause,
		Metrics:       tr.Metrics,
		Actions:       tr.Actions,
	}, nil
}
