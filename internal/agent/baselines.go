package agent

import (
	"math/rand"

	"cades.ai/internal/env"
)

// RandomMasked picks uniformly among legal bins with its own RNG.
type RandomMasked struct {
	rng *rand.Rand
}

func NewRandomMasked(seed int64) *RandomMasked {
	return &RandomMasked{rng: rand.New(rand.NewSource(seed))}
}

func (p *RandomMasked) Act(_ env.Observation, mask []bool) int {
	legal := make([]int, 0, len(mask))
	for i, ok := range mask {
		if ok {
			legal = append(legal, i)
		}
	}
	if len(legal) == 0 {
		return 0
	}
	return legal[p.rng.Intn(len(legal))]
}

func (p *RandomMasked) Observe(Transition) {}

// FirstFit takes the lowest-numbered legal bin.
type FirstFit struct{}

func (FirstFit) Act(_ env.Observation, mask []bool) int {
	for i, ok := range mask {
		if ok {
			return i
		}
	}
	return 0
}

func (FirstFit) Observe(Transition) {}

// BestFit takes the legal bin the task fills most tightly. Ties go to the lower bin.
type BestFit struct{}

func (BestFit) Act(obs env.Observation, mask []bool) int {
	best, bestLeft := 0, -1
	for i, ok := range mask {
		if !ok || i >= len(obs.Remaining) {
			continue
		}
		left := obs.Remaining[i] - obs.NextSize
		if bestLeft < 0 || left < bestLeft {
			best, bestLeft = i, left
		}
	}
	return best
}

func (BestFit) Observe(Transition) {}

// Baseline returns a fresh policy by name: random, first_fit or best_fit.
func Baseline(name string, seed int64) (Policy, bool) {
	switch name {
	case "random":
		return NewRandomMasked(seed), true
	case "first_fit":
		return FirstFit{}, true
	case "best_fit":
		return BestFit{}, true
	}
	return nil, false
}

// BaselineNames lists the names Baseline accepts.
var BaselineNames = []string{"random", "first_fit", "best_fit"}
