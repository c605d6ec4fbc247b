package ids

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorUniqueAndIncreasing(t *testing.T) {
	g := NewGenerator(7)
	prev := int64(0)
	seen := make(map[int64]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := g.Next()
		require.Greater(t, id, prev)
		prev = id
		seen[id] = struct{}{}
		assert.Equal(t, int64(7), nodeOf(id))
	}
	assert.Len(t, seen, 10000)
}

func TestGeneratorConcurrent(t *testing.T) {
	g := NewGenerator(3)
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8*500)
}

func nodeOf(id int64) int64 { return (id >> seqBits) & maxNode }

func TestNodeIDOutOfRange(t *testing.T) {
	assert.Equal(t, int64(1), nodeOf(NewGenerator(5000).Next()))
}

func TestSetNodeID(t *testing.T) {
	t.Cleanup(func() { SetNodeID(1) })

	SetNodeID(42)
	assert.Equal(t, int64(42), nodeOf(Generate()))

	id, err := strconv.ParseInt(GenerateString(), 10, 64)
	require.NoError(t, err)
	assert.Equal(t, int64(42), nodeOf(id))

	SetNodeID(-3)
	assert.Equal(t, int64(1), nodeOf(Generate()))
}
