package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(timeout time.Duration, clk *clock) *Manager {
	return NewManager(replyWith("Hi", "abc"), func() Tracker { return newFakeTracker() }, ManagerOptions{
		IdleTimeout: timeout,
		Now:         clk.Now,
	})
}

func TestManager_CreateGetDelete(t *testing.T) {
	rec := &fakeRecorder{}
	m := NewManager(replyWith("Hi", "abc"), func() Tracker { return newFakeTracker() }, ManagerOptions{Recorder: rec})

	a := m.Create()
	b := m.Create()
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, m.Len())

	got, err := m.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	require.NoError(t, m.Delete(a.ID()))
	_, err = m.Get(a.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(a.ID()), ErrNotFound)

	assert.Equal(t, []string{b.ID()}, m.List())
	require.Len(t, rec.ops, 3)
	assert.Equal(t, "delete_session", rec.ops[2].op)
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	m := newTestManager(0, &clock{t: time.Now()})
	a, b := m.Create(), m.Create()

	require.NoError(t, a.SendMessage(context.Background(), "Hello"))
	assert.Len(t, a.Messages(), 2)
	assert.Empty(t, b.Messages())
	assert.Empty(t, b.ConversationToken())
}

func TestManager_Sweep(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(10*time.Minute, clk)

	stale := m.Create()
	clk.Advance(6 * time.Minute)
	fresh := m.Create()
	clk.Advance(6 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	_, err := m.Get(stale.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(fresh.ID())
	assert.NoError(t, err)

	// Get counts as activity
	clk.Advance(9 * time.Minute)
	assert.Equal(t, 0, m.Sweep())
}

func TestManager_SweepDisabled(t *testing.T) {
	clk := &clock{t: time.Now()}
	m := newTestManager(0, clk)
	m.Create()
	clk.Advance(24 * time.Hour)
	assert.Equal(t, 0, m.Sweep())
}

func TestManager_Close(t *testing.T) {
	m := newTestManager(0, &clock{t: time.Now()})
	c := m.Create()
	events, _ := c.Subscribe()

	m.Close()
	assert.Equal(t, 0, m.Len())
	_, ok := <-drain(events)
	assert.False(t, ok)
}

func TestGreeting(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{0, "Good evening"},
		{4, "Good evening"},
		{5, "Good morning"},
		{11, "Good morning"},
		{12, "Good afternoon"},
		{17, "Good afternoon"},
		{18, "Good evening"},
		{23, "Good evening"},
	}
	for _, tt := range tests {
		at := time.Date(2024, 1, 1, tt.hour, 30, 0, 0, time.UTC)
		assert.Equal(t, tt.want, Greeting(at), "hour %d", tt.hour)
	}
}

func TestLayoutToggles(t *testing.T) {
	c, _ := newTestController(t, replyWith("x", "y"))
	assert.True(t, c.Layout().ShowOnlyChatPanel)

	l, ok := c.TogglePanel(PanelLeft)
	require.True(t, ok)
	assert.True(t, l.LeftPanelCollapsed)
	assert.True(t, l.RightPanelExpanded)

	l, _ = c.TogglePanel(PanelLeft)
	assert.False(t, l.LeftPanelCollapsed)
	assert.False(t, l.RightPanelExpanded)

	l, _ = c.TogglePanel(PanelRight)
	assert.True(t, l.RightPanelExpanded)
	assert.True(t, l.LeftPanelCollapsed)

	l, _ = c.TogglePanel(PanelComparison)
	assert.True(t, l.ShowComparison)

	_, ok = c.TogglePanel("bottom")
	assert.False(t, ok)
}
