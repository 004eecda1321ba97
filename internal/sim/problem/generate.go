package problem

import (
	"math/rand"
	"sort"

	"cades.ai/internal/sim/tuning"
)

// Generate draws a random instance. Draws happen in a fixed order (item count, sizes,
// critical picks, bin capacities, links) so a given rng state always yields the same
// instance. The result is not guaranteed to be solvable.
func Generate(cfg tuning.Config, rng *rand.Rand) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := uniform(rng, cfg.MinNumItems, cfg.MaxNumItems)
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = uniform(rng, cfg.MinItemSize, cfg.MaxItemSize)
	}

	picks := rng.Perm(n)[:cfg.NumberOfCriticalItems]
	sort.Ints(picks)
	critical := make(map[int]bool, len(picks))
	for _, p := range picks {
		critical[p] = true
	}

	caps := make([]int, cfg.TotalBins)
	for b := range caps {
		caps[b] = uniform(rng, cfg.MinBinSize, cfg.MaxBinSize)
	}

	var links []Link
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Float64() < cfg.CommProbability {
				links = append(links, Link{i, j})
			}
		}
	}

	return &Instance{
		NumItems:      n,
		Copies:        cfg.NumberOfCopies,
		Items:         expand(sizes, critical, cfg.NumberOfCopies),
		BinCapacities: caps,
		Links:         links,
	}, nil
}

func uniform(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}
