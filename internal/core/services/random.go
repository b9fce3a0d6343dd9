package services

import (
	"math/rand"

	"github.com/melih/howls-moving-docker/internal/core/domain"
)

// randomPort draws a port uniformly from r.
func randomPort(rng *rand.Rand, r domain.PortRange) int {
	return r.Start + rng.Intn(r.Size())
}

// randomCount draws uniformly from [lo, hi].
func randomCount(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}
