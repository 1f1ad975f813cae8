package consistent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_StableForSameKey(t *testing.T) {
	nodes := []string{"0", "1", "2", "3"}
	r := New(nodes, 160)

	first := r.Get("user-42")
	for i := 0; i < 100; i++ {
		require.Equal(t, first, r.Get("user-42"))
	}
}

func TestRing_DistributesAcrossNodes(t *testing.T) {
	nodes := []string{"0", "1", "2", "3"}
	r := New(nodes, 160)

	seen := make(map[string]int)
	for i := 0; i < 2000; i++ {
		seen[r.Get(fmt.Sprintf("user-%d", i))]++
	}

	assert.Len(t, seen, len(nodes))
	for _, label := range nodes {
		assert.Greater(t, seen[label], 0, "node %s received no keys", label)
	}
}

func TestRing_EmptyReturnsZeroValue(t *testing.T) {
	r := New(nil, 160)
	assert.Equal(t, "", r.Get("anything"))
}
