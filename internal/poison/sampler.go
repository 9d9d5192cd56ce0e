package poison

import (
	"math/rand/v2"
	"slices"
)

// Sampler draws deterministic index subsets from a fixed seed. Each call
// builds its own PCG generator from (seed, N), so the result depends only on
// (seed, N, n): it does not advance with use and is safe for concurrent
// callers. Two pipelines never share a generator.
type Sampler struct {
	seed uint64
}

// NewSampler returns a sampler bound to seed
func NewSampler(seed uint64) *Sampler {
	return &Sampler{seed: seed}
}

// Seed returns the seed the sampler was built from
func (s *Sampler) Seed() uint64 {
	return s.seed
}

// Sample returns n distinct indices from [0, total) in ascending order.
// n is clamped to [0, total].
func (s *Sampler) Sample(total, n int) []int {
	if total <= 0 || n <= 0 {
		return []int{}
	}
	n = min(n, total)

	rng := rand.New(rand.NewPCG(s.seed, uint64(total)))
	perm := make([]int, total)
	for i := range perm {
		perm[i] = i
	}
	// Partial Fisher-Yates: only the first n slots are needed
	for i := 0; i < n; i++ {
		j := i + rng.IntN(total-i)
		perm[i], perm[j] = perm[j], perm[i]
	}

	out := slices.Clone(perm[:n])
	slices.Sort(out)
	return out
}
