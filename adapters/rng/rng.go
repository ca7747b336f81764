// Package rng implements ports.RNGPort with math/rand sources whose seeds are
// derived by hashing the stage name into the run seed.
package rng

import (
	"context"
	"hash/fnv"
	"math/rand"
)

// RNGAdapter hands out independent seeded streams
type RNGAdapter struct{}

// NewRNGAdapter creates an RNG adapter
func NewRNGAdapter() *RNGAdapter {
	return &RNGAdapter{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (r *RNGAdapter) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rand.New(rand.NewSource(seed + int64(hashString(name)))), nil
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
