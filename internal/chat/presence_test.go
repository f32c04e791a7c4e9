package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_SetName(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.SetName("c1", "Alice"))
	assert.True(t, r.SetName("c2", "   "))
	assert.False(t, r.SetName("c1", "Alicia"))

	assert.Equal(t, []string{"Alicia", "User"}, r.Names())
}

func TestRegistry_JoinLeaveScenario(t *testing.T) {
	r := NewRegistry()
	r.SetName("alice", "Alice")
	r.SetName("bob", "Bob")
	assert.Equal(t, []string{"Alice", "Bob"}, r.Names())

	name, ok := r.Remove("bob")
	assert.True(t, ok)
	assert.Equal(t, "Bob", name)
	assert.Equal(t, []string{"Alice"}, r.Names())
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.SetName("a", "A")
	r.SetName("b", "B")

	r.Remove("a")
	after := r.Names()
	_, ok := r.Remove("a")

	assert.False(t, ok)
	assert.Equal(t, after, r.Names())

	_, ok = r.Remove("never-joined")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := NewRegistry()
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.SetName(id, id)
			r.SetName(id, "renamed-"+id)
			if i%2 == 0 {
				r.Remove(id)
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	names := r.Names()
	assert.Len(t, names, n/2)
	seen := make(map[string]bool)
	for _, name := range names {
		assert.False(t, seen[name], "duplicate %s", name)
		seen[name] = true
	}
	for i := 1; i < n; i += 2 {
		assert.True(t, seen[fmt.Sprintf("renamed-c%d", i)])
	}
}
