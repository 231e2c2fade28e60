// Package rng provides explicitly seeded random sources.
//
// Every sampling operation in pulearn takes its seed as an argument; fan-out
// tasks derive their own seed from the parent seed and the task index, so
// results never depend on execution order.
package rng

import (
	"math/rand/v2"
	"sort"
)

// New returns a PCG-backed generator seeded with seed.
func New(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}

// Derive maps (seed, index) to an independent child seed using a splitmix64 finalizer.
func Derive(seed int64, index int) int64 {
	z := uint64(seed) + 0x9e3779b97f4a7c15*uint64(index+1)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return int64(z >> 1)
}

// SampleWithoutReplacement draws k distinct elements of pool and returns them
// in ascending order. The pool is not modified.
func SampleWithoutReplacement(r *rand.Rand, pool []int, k int) []int {
	if k <= 0 || len(pool) == 0 {
		return []int{}
	}
	if k > len(pool) {
		k = len(pool)
	}
	work := make([]int, len(pool))
	copy(work, pool)
	// 部分Fisher-Yates
	for i := 0; i < k; i++ {
		j := i + r.IntN(len(work)-i)
		work[i], work[j] = work[j], work[i]
	}
	out := work[:k:k]
	sort.Ints(out)
	return out
}

// Shuffle returns a shuffled copy of idx.
func Shuffle(r *rand.Rand, idx []int) []int {
	out := make([]int, len(idx))
	copy(out, idx)
	r.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
