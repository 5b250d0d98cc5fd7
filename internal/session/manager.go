package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/mirrormind/internal/escalation"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrBusy     = errors.New("session busy")
	ErrEnded    = errors.New("session ended")
)

type entry struct {
	conv *Conversation
	rng  *rand.Rand
	busy bool
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	inactivityTimeout time.Duration
	endedRetention    time.Duration
	tracker           escalation.Tracker
	seed              func() uint64
	onExpire          func(*Conversation)
}

func NewManager(inactivityTimeout time.Duration, tracker escalation.Tracker) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
		endedRetention:    30 * time.Minute,
		tracker:           tracker,
		seed:              rand.Uint64,
	}
}

func (m *Manager) SetExpireHook(hook func(*Conversation)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// SetEndedRetention controls how long ended sessions stay readable before
// the janitor drops them.
func (m *Manager) SetEndedRetention(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.endedRetention = d
	}
}

// SetSeedSource replaces the per-session RNG seed source. Tests use it to get
// reproducible thresholds and phrases.
func (m *Manager) SetSeedSource(seed func() uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seed != nil {
		m.seed = seed
	}
}

func (m *Manager) Create(profile Profile) *Conversation {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	seed := m.seed()
	rng := newRand(seed, 0)
	c := &Conversation{
		ID:             uuid.NewString(),
		Status:         StatusActive,
		Profile:        profile,
		Escalation:     m.tracker.Start(rng),
		Seed:           seed,
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[c.ID] = &entry{conv: c, rng: rng}
	return clone(c)
}

// Restore reinstates a conversation loaded from persistent storage. If the
// session is already live the in-memory copy wins.
func (m *Manager) Restore(c Conversation) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[c.ID]; ok {
		return clone(e.conv)
	}
	restored := clone(&c)
	restored.LastActivityAt = time.Now().UTC()
	if restored.Terminal {
		restored.Status = StatusEnded
	} else if restored.Status == "" {
		restored.Status = StatusActive
	}
	// Offset by turn count so a restored session does not replay its draws.
	rng := newRand(c.Seed, uint64(c.TurnCount))
	if restored.Escalation.Threshold <= 0 {
		restored.Escalation = m.tracker.Start(rng)
	}
	m.sessions[c.ID] = &entry{conv: restored, rng: rng}
	return clone(restored)
}

func (m *Manager) Get(sessionID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.conv), nil
}

// ImageRef returns the registered image reference, or "" when none is set.
func (m *Manager) ImageRef(sessionID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	return e.conv.ImageRef, nil
}

// SetImageRef records ref unless one is already present, and returns the
// reference that is in effect afterwards.
func (m *Manager) SetImageRef(sessionID, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	if e.conv.ImageRef == "" {
		e.conv.ImageRef = ref
		e.conv.LastActivityAt = time.Now().UTC()
	}
	return e.conv.ImageRef, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.conv.LastActivityAt = time.Now().UTC()
	return nil
}

// Acquire takes the session's turn lock without blocking. A second caller
// gets ErrBusy until the returned lease is released.
func (m *Manager) Acquire(sessionID string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.busy {
		return nil, ErrBusy
	}
	e.busy = true
	return &Lease{m: m, id: sessionID, rng: e.rng}, nil
}

func (m *Manager) End(sessionID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	e.conv.Status = StatusEnded
	e.conv.LastActivityAt = time.Now().UTC()
	return clone(e.conv), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.conv.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Conversation

	m.mu.Lock()
	for id, e := range m.sessions {
		if e.busy {
			continue
		}
		idle := now.Sub(e.conv.LastActivityAt)
		if e.conv.Status != StatusActive {
			if idle >= m.endedRetention {
				delete(m.sessions, id)
			}
			continue
		}
		if idle < m.inactivityTimeout {
			continue
		}
		e.conv.Status = StatusEnded
		e.conv.LastActivityAt = now
		expired = append(expired, clone(e.conv))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

// Lease grants exclusive turn access to one session.
type Lease struct {
	m    *Manager
	id   string
	rng  *rand.Rand
	once sync.Once
}

// Conversation returns a private copy of the current state.
func (l *Lease) Conversation() (*Conversation, error) {
	return l.m.Get(l.id)
}

// Rand is the session's random source. It must only be used while the
// lease is held.
func (l *Lease) Rand() *rand.Rand {
	return l.rng
}

// Commit applies fn to the live conversation under the manager lock. It
// returns ErrEnded without calling fn if the session was ended or expired
// while the lease was held.
func (l *Lease) Commit(fn func(c *Conversation)) (*Conversation, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	e, ok := l.m.sessions[l.id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.conv.Status != StatusActive || e.conv.Terminal {
		return nil, ErrEnded
	}
	fn(e.conv)
	e.conv.LastActivityAt = time.Now().UTC()
	return clone(e.conv), nil
}

func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.mu.Lock()
		defer l.m.mu.Unlock()
		if e, ok := l.m.sessions[l.id]; ok {
			e.busy = false
		}
	})
}

func newRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream^0x9e3779b97f4a7c15))
}

func clone(c *Conversation) *Conversation {
	out := *c
	if c.History != nil {
		out.History = append([]Turn(nil), c.History...)
	}
	return &out
}
