package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/ericksa/docchat/internal/chat"
)

type ManagerOptions struct {
	// IdleTimeout removes sessions without activity for this long. Zero
	// keeps sessions until they are deleted.
	IdleTimeout time.Duration
	Logger      *slog.Logger
	Recorder    Recorder
	Now         func() time.Time
}

// Manager keeps the live sessions of the server.
type Manager struct {
	transport  chat.Transport
	newTracker func() Tracker
	opts       ManagerOptions

	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewManager creates a manager whose sessions talk to transport and get a
// fresh tracker from newTracker.
func NewManager(transport chat.Transport, newTracker func() Tracker, opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		transport:  transport,
		newTracker: newTracker,
		opts:       opts,
		sessions:   make(map[string]*Controller),
	}
}

// Create starts a new session with a unique ID
func (m *Manager) Create() *Controller {
	id := xid.New().String()
	c := NewController(id, m.transport, m.newTracker(), Options{
		Logger:   m.opts.Logger,
		Recorder: m.opts.Recorder,
		Now:      m.opts.Now,
	})

	m.mu.Lock()
	m.sessions[id] = c
	m.mu.Unlock()

	m.opts.Logger.Info("session created", "session_id", id)
	if m.opts.Recorder != nil {
		m.opts.Recorder.Record("create_session", id, nil, nil, nil)
	}
	return c
}

// Get retrieves a session by ID and marks it as active.
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	c, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.touch()
	return c, nil
}

// Delete closes and removes a session
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	c, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.Close()
	m.opts.Logger.Info("session deleted", "session_id", id)
	if m.opts.Recorder != nil {
		m.opts.Recorder.Record("delete_session", id, nil, nil, nil)
	}
	return nil
}

// List returns the IDs of all sessions, most recently active first.
func (m *Manager) List() []string {
	m.mu.RLock()
	type item struct {
		id   string
		seen time.Time
	}
	items := make([]item, 0, len(m.sessions))
	for id, c := range m.sessions {
		items = append(items, item{id, c.idleSince()})
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].seen.After(items[j].seen) })
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep deletes sessions idle longer than the timeout and returns how many
// were removed.
func (m *Manager) Sweep() int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.opts.Now().Add(-m.opts.IdleTimeout)

	m.mu.Lock()
	var expired []*Controller
	for id, c := range m.sessions {
		if c.idleSince().Before(cutoff) && !c.InputDisabled() {
			expired = append(expired, c)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		c.Close()
		m.opts.Logger.Info("session expired", "session_id", c.ID())
	}
	return len(expired)
}

// Run sweeps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.opts.IdleTimeout <= 0 {
		return
	}
	interval := m.opts.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()

	for _, c := range sessions {
		c.Close()
	}
}
