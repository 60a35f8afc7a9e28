package testutils_test

import (
	"testing"

	"github.com/argus-labs/ecsruntime/pkg/testutils"
	"github.com/stretchr/testify/assert"
)

func TestGen_ShuffleVisitsEveryPermutation(t *testing.T) {
	t.Parallel()

	seen := make(map[[3]int]int)
	for g := testutils.NewGen(); !g.Done(); {
		s := []int{1, 2, 3}
		testutils.Shuffle(g, s)
		seen[[3]int{s[0], s[1], s[2]}]++
	}

	assert.Len(t, seen, 6)
	for perm, n := range seen {
		assert.Equal(t, 1, n, "permutation %v visited more than once", perm)
	}
}

func TestGen_Subset(t *testing.T) {
	t.Parallel()

	count := 0
	for g := testutils.NewGen(); !g.Done(); {
		_ = testutils.Subset(g, []string{"a", "b", "c", "d"})
		count++
	}
	assert.Equal(t, 16, count)
}
