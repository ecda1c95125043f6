package session

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_Initial(t *testing.T) {
	c := NewContext()

	s := c.Snapshot()
	assert.Equal(t, "", s.ActivationID)
	assert.Equal(t, uint64(0), s.Generation)
	assert.Equal(t, "idle", s.State)
	assert.Equal(t, []slog.Attr{slog.String("state", "idle")}, c.LogAttrs())
}

func TestContext_BeginBumpsGeneration(t *testing.T) {
	c := NewContext()

	id1, gen1 := c.Begin("M1")
	id2, gen2 := c.Begin("M2")

	assert.Equal(t, uint64(1), gen1)
	assert.Equal(t, uint64(2), gen2)
	assert.NotEqual(t, id1, id2)
	_, err := uuid.Parse(id2)
	require.NoError(t, err)

	assert.False(t, c.IsCurrent(gen1))
	assert.True(t, c.IsCurrent(gen2))
	assert.Equal(t, "M2", c.Snapshot().MarkerID)
}

func TestContext_LogAttrs(t *testing.T) {
	c := NewContext()
	id, _ := c.Begin("M1")
	c.SetState("fetching")

	assert.Equal(t, []slog.Attr{
		slog.String("activationId", id),
		slog.String("markerId", "M1"),
		slog.String("state", "fetching"),
	}, c.LogAttrs())
}

func TestContext_ConcurrentReaders(t *testing.T) {
	c := NewContext()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Begin("M")
		}()
		go func() {
			defer wg.Done()
			_ = c.LogAttrs()
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(20), c.Generation())
}
