package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleWithoutReplacementDeterministic(t *testing.T) {
	pool := []int{8, 9, 10, 11, 12, 13}

	a := SampleWithoutReplacement(New(42), pool, 3)
	b := SampleWithoutReplacement(New(42), pool, 3)

	assert.Equal(t, a, b)
	assert.Len(t, a, 3)
	assert.IsIncreasing(t, a)
	for _, v := range a {
		assert.Contains(t, pool, v)
	}
	assert.Equal(t, []int{8, 9, 10, 11, 12, 13}, pool, "pool must not be modified")
}

func TestSampleWithoutReplacementEdges(t *testing.T) {
	assert.Empty(t, SampleWithoutReplacement(New(1), []int{1, 2}, 0))
	assert.Empty(t, SampleWithoutReplacement(New(1), nil, 3))
	assert.Equal(t, []int{1, 2, 3}, SampleWithoutReplacement(New(1), []int{3, 1, 2}, 3))
}

func TestDerive(t *testing.T) {
	seen := map[int64]bool{}
	for i := 0; i < 100; i++ {
		s := Derive(42, i)
		assert.GreaterOrEqual(t, s, int64(0))
		assert.False(t, seen[s], "collision at index %d", i)
		seen[s] = true
	}
	assert.Equal(t, Derive(7, 3), Derive(7, 3))
	assert.NotEqual(t, Derive(7, 3), Derive(8, 3))
}

func TestShuffleIsPermutation(t *testing.T) {
	in := []int{0, 1, 2, 3, 4, 5, 6, 7}
	out := Shuffle(New(3), in)
	assert.ElementsMatch(t, in, out)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, in)
	assert.Equal(t, out, Shuffle(New(3), in))
}
