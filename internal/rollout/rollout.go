// Package rollout runs many evaluation episodes in parallel. Each worker owns one Env
// and one Model; nothing is shared between workers.
package rollout

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"cades.ai/internal/agent"
	"cades.ai/internal/env"
	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
	"cades.ai/internal/stats"
)

type Batch struct {
	Config   tuning.Config
	Episodes int
	Workers  int

	// Instances, when set, are played in order and reused cyclically. Otherwise
	// episode i plays a problem drawn from the i-th seed of the EvalSeed stream, so
	// the problem set does not depend on the worker count.
	Instances []*problem.Instance

	NewModel   func(worker int) (agent.Model, error)
	EnvOptions []env.Option
}

// RunBatch returns one result per episode, in episode order. The first error cancels
// the remaining work.
func RunBatch(ctx context.Context, b Batch) ([]stats.Episode, error) {
	if b.Episodes <= 0 {
		return nil, nil
	}
	if b.NewModel == nil {
		return nil, fmt.Errorf("rollout: NewModel is required")
	}
	if err := b.Config.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	workers := b.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > b.Episodes {
		workers = b.Episodes
	}

	problems, err := b.problems()
	if err != nil {
		return nil, err
	}

	results := make([]stats.Episode, b.Episodes)
	jobs := make(chan int)
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < b.Episodes; i++ {
			select {
			case jobs <- i:
			case <-gCtx.Done():
				return gCtx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			e, err := env.New(b.Config, b.EnvOptions...)
			if err != nil {
				return err
			}
			m, err := b.NewModel(w)
			if err != nil {
				return fmt.Errorf("worker %d: %w", w, err)
			}
			if err := m.Initialize(e); err != nil {
				return fmt.Errorf("worker %d: %w", w, err)
			}
			for i := range jobs {
				r, err := m.Evaluate(gCtx, problems[i])
				if err != nil {
					return fmt.Errorf("episode %d: %w", i, err)
				}
				results[i] = r
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b Batch) problems() ([]*problem.Instance, error) {
	out := make([]*problem.Instance, b.Episodes)
	if len(b.Instances) > 0 {
		for i := range out {
			out[i] = b.Instances[i%len(b.Instances)]
		}
		return out, nil
	}
	rng := rand.New(rand.NewSource(b.Config.EvalSeed))
	for i := range out {
		seed := rng.Int63()
		in, err := problem.Generate(b.Config, rand.New(rand.NewSource(seed)))
		if err != nil {
			return nil, err
		}
		in.Seed = seed
		out[i] = in
	}
	return out, nil
}
