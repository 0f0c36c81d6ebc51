package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"vehicheck/internal/browser"
	"vehicheck/internal/logger"
	"vehicheck/pkg/model"
)

// Handle is the browser instance a session owns. Satisfied by
// *browser.Browser; faked in tests.
type Handle interface {
	Page() *browser.Page
	Close() error
}

// LaunchFunc starts a fresh browser for a new session.
type LaunchFunc func(ctx context.Context) (Handle, error)

// Session binds one live browser to one user's in-progress check. The page
// is only ever driven by the request goroutine holding the session.
type Session struct {
	ID        string
	User      model.UserKey
	Portal    model.Portal
	Stage     model.Stage
	CreatedAt time.Time

	handle Handle
}

func (s *Session) Page() *browser.Page { return s.handle.Page() }

// Manager is the registry of live sessions, the single source of truth for
// the at-most-one-session-per-user invariant.
type Manager struct {
	mu       sync.Mutex
	sessions map[model.UserKey]*Session
	launch   LaunchFunc
	log      logger.Logger
}

func NewManager(launch LaunchFunc, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.UserKey]*Session),
		launch:   launch,
		log:      l,
	}
}

// Acquire supersedes any live session for user, launches a fresh browser and
// registers the new session. The old entry is removed from the registry
// before its browser is closed, so two live registrations for one user can
// never be observed.
func (m *Manager) Acquire(ctx context.Context, user model.UserKey, portal model.Portal) (*Session, error) {
	if old := m.take(user); old != nil {
		m.log.Info("superseding live session", "user", string(user), "session", old.ID)
		old.handle.Close()
	}

	h, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:        uuid.NewString(),
		User:      user,
		Portal:    portal,
		CreatedAt: time.Now(),
		handle:    h,
	}

	m.mu.Lock()
	if prev, ok := m.sessions[user]; ok {
		// Lost a race with a concurrent acquire for the same user; the
		// later registration wins.
		prev.handle.Close()
	}
	m.sessions[user] = s
	m.mu.Unlock()

	m.log.Debug("session registered", "user", string(user), "session", s.ID, "portal", string(portal))
	return s, nil
}

// Get is a non-destructive lookup, used by the two-phase flow to resume a
// held session.
func (m *Manager) Get(user model.UserKey) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[user]
	return s, ok
}

// Claim hands the user's held session to exactly one phase-two caller. The
// stage moves AwaitingCaptcha to Submitted under the registry lock, so of two
// concurrent claimants only one ever drives the page; the other gets false.
func (m *Manager) Claim(user model.UserKey, portal model.Portal) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[user]
	if !ok || s.Portal != portal || s.Stage != model.StageAwaitingCaptcha {
		return nil, false
	}
	s.Stage = model.StageSubmitted
	return s, true
}

// Release closes and deregisters the user's session. No-op when none exists.
func (m *Manager) Release(user model.UserKey) {
	if s := m.take(user); s != nil {
		s.handle.Close()
		m.log.Debug("session released", "user", string(user), "session", s.ID)
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) take(user model.UserKey) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[user]
	if !ok {
		return nil
	}
	delete(m.sessions, user)
	return s
}
