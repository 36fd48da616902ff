package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionFind(t *testing.T) {
	uf := NewUnionFind()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		uf.Add(id)
	}
	assert.Equal(t, 5, uf.Sets())

	assert.True(t, uf.Union("a", "b"))
	assert.True(t, uf.Union("c", "d"))
	assert.True(t, uf.Union("b", "d"))
	assert.False(t, uf.Union("a", "c"))
	assert.Equal(t, 2, uf.Sets())

	assert.True(t, uf.Connected("a", "d"))
	assert.False(t, uf.Connected("a", "e"))
	assert.False(t, uf.Connected("a", "unknown"))
	assert.Equal(t, uf.Find("a"), uf.Find("c"))

	uf.Add("a")
	assert.Equal(t, 2, uf.Sets())
}

func TestUnionFind_LongChain(t *testing.T) {
	uf := NewUnionFind()
	ids := make([]string, 1000)
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + string(rune('0'+i/26%10)) + string(rune('A'+i/260))
		uf.Add(ids[i])
	}
	for i := 1; i < len(ids); i++ {
		uf.Union(ids[i-1], ids[i])
	}

	assert.Equal(t, 1, uf.Sets())
	root := uf.Find(ids[0])
	for _, id := range ids {
		assert.Equal(t, root, uf.Find(id))
	}
}
