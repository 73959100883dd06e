package events

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStampsIdentity(t *testing.T) {
	ev := New("forks", TypeDemoView)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "forks", ev.Slug)
	assert.Equal(t, TypeDemoView, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestMultiFansOut(t *testing.T) {
	a := NewMemory(4)
	b := NewMemory(4)
	sinks := Multi{a, b, Nop{}}

	sinks.Log(context.Background(), New("forks", TypeSettled))

	assert.Len(t, a.Recent("", 0), 1)
	assert.Len(t, b.Recent("", 0), 1)
}

func TestMemoryRingEviction(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := New("forks", TypeModeAttempt)
		ev.ChosenMode = fmt.Sprintf("mode-%d", i)
		m.Log(ctx, ev)
	}

	recent := m.Recent("", 0)
	require.Len(t, recent, 3)
	// Newest first; the two oldest were evicted.
	assert.Equal(t, "mode-4", recent[0].ChosenMode)
	assert.Equal(t, "mode-2", recent[2].ChosenMode)
}

func TestMemoryRecentFiltersBySlug(t *testing.T) {
	m := NewMemory(8)
	ctx := context.Background()

	m.Log(ctx, New("forks", TypeDemoView))
	m.Log(ctx, New("other", TypeDemoView))
	m.Log(ctx, New("forks", TypeSettled))

	forks := m.Recent("forks", 0)
	require.Len(t, forks, 2)
	assert.Equal(t, TypeSettled, forks[0].Type)

	assert.Len(t, m.Recent("other", 1), 1)
	assert.Empty(t, m.Recent("unknown", 0))
}
