package stream

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"
)

// Session statuses.
const (
	SessionInitialized = "initialized"
	SessionProcessing  = "processing"
	SessionCompleted   = "completed"
	SessionFailed      = "failed"
)

// DefaultSessionTTL is how long an idle session survives before the sweeper
// evicts it.
const DefaultSessionTTL = time.Hour

// Shutdowner is anything with teardown semantics the manager should invoke
// on eviction (the session's pipeline runtime).
type Shutdowner interface {
	Shutdown()
}

// Session is one end-to-end orchestration run.
type Session struct {
	ID           string
	Status       string
	CreatedAt    time.Time
	LastActivity time.Time
	Channel      *Channel

	runtime Shutdowner
}

// GenerateSessionID creates a unique session ID in sess-xxxxxxxx format (8-char hex).
func GenerateSessionID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("stream: generate session ID: %w", err)
	}
	return "sess-" + hex.EncodeToString(b), nil
}

// Manager owns all live sessions. It is safe for concurrent use and runs a
// background sweeper that evicts sessions idle longer than the TTL.
type Manager struct {
	ttl     time.Duration
	chanCap int

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stopCh   chan struct{}
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	TTL             time.Duration // defaults to DefaultSessionTTL
	ChannelCapacity int           // defaults to DefaultCapacity
	SweepInterval   time.Duration // defaults to 1 minute
}

// NewManager creates a Manager and starts its sweeper.
func NewManager(opts ManagerOpts) *Manager {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	m := &Manager{
		ttl:      ttl,
		chanCap:  opts.ChannelCapacity,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
	go m.sweep(sweep)
	return m
}

// Create registers a new session. An empty id is generated; a duplicate id
// is an error.
func (m *Manager) Create(id string) (*Session, error) {
	if id == "" {
		var err error
		id, err = GenerateSessionID()
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		return nil, fmt.Errorf("stream: session %s already exists", id)
	}

	now := time.Now()
	s := &Session{
		ID:           id,
		Status:       SessionInitialized,
		CreatedAt:    now,
		LastActivity: now,
		Channel:      NewChannel(m.chanCap),
	}
	m.sessions[id] = s
	return s, nil
}

// Get returns a point-in-time copy of the session for id, or an error if
// unknown. The copy shares the session's channel; Status and LastActivity
// reflect the moment of the call, so readers never race the manager's
// writes.
func (m *Manager) Get(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("stream: session not found: %s", id)
	}
	return *s, nil
}

// Touch refreshes the session's last-activity timestamp.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastActivity = time.Now()
	}
}

// SetStatus updates a session's status and refreshes activity.
func (m *Manager) SetStatus(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Status = status
		s.LastActivity = time.Now()
	}
}

// BindRuntime attaches the session's pipeline runtime so eviction can tear
// it down.
func (m *Manager) BindRuntime(id string, rt Shutdowner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.runtime = rt
	}
}

// Evict removes a session, closing its channel and shutting down its runtime.
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.Channel.Close()
	if s.runtime != nil {
		s.runtime.Shutdown()
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop halts the sweeper. Live sessions are left in place.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// sweep periodically evicts sessions idle longer than the TTL.
func (m *Manager) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.ttl)

			m.mu.RLock()
			var expired []string
			for id, s := range m.sessions {
				if s.LastActivity.Before(cutoff) {
					expired = append(expired, id)
				}
			}
			m.mu.RUnlock()

			for _, id := range expired {
				log.Printf("stream: evicting idle session %s", id)
				m.Evict(id)
			}
		}
	}
}
