package gatehouse

import (
	"log/slog"
	"sync"
	"time"
)

// Default session registry tunables.
const (
	DefaultSessionExpiry = 24 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Session is a single issued login session. Sessions are volatile: they live
// in process memory and are gone after a restart.
type Session struct {
	Token     string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionRegistry issues, validates, extends and expires session tokens. All
// operations are O(1) map lookups under a single mutex; Validate is on the
// hot path of every authenticated request.
type SessionRegistry struct {
	// Expiry is the sliding-window lifetime. Every successful Validate pushes
	// a session's expiry out to now+Expiry.
	Expiry time.Duration

	// SweepInterval gates MaybeSweep: sweeps run at most this often.
	SweepInterval time.Duration

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time

	mu         sync.Mutex
	sessions   map[string]*Session
	lastSweep  time.Time
	sweepHooks []func(now time.Time)
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		Expiry:        DefaultSessionExpiry,
		SweepInterval: DefaultSweepInterval,
		Clock:         time.Now,
		sessions:      make(map[string]*Session),
	}
}

func (sr *SessionRegistry) now() time.Time {
	if sr.Clock != nil {
		return sr.Clock()
	}
	return time.Now()
}

// Create allocates a new unguessable token and stores a session for username.
// There is no per-user session limit; each device gets its own token.
func (sr *SessionRegistry) Create(username string) (string, error) {
	token, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	now := sr.now()
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.sessions == nil {
		sr.sessions = make(map[string]*Session)
	}
	sr.sessions[token] = &Session{
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(sr.Expiry),
	}
	return token, nil
}

// Validate reports whether token names a live session. On success the
// session's expiry slides forward; expired sessions are removed lazily here
// even if the sweeper never runs.
func (sr *SessionRegistry) Validate(token string) bool {
	if token == "" {
		return false
	}
	now := sr.now()
	sr.mu.Lock()
	defer sr.mu.Unlock()
	s, ok := sr.sessions[token]
	if !ok {
		return false
	}
	if now.After(s.ExpiresAt) {
		delete(sr.sessions, token)
		return false
	}
	s.ExpiresAt = now.Add(sr.Expiry)
	return true
}

// UsernameOf returns the owning username of a live session.
func (sr *SessionRegistry) UsernameOf(token string) (string, bool) {
	now := sr.now()
	sr.mu.Lock()
	defer sr.mu.Unlock()
	s, ok := sr.sessions[token]
	if !ok || now.After(s.ExpiresAt) {
		return "", false
	}
	return s.Username, true
}

// Rename updates the owning username in place, so a user changing their own
// username is not logged out by the change.
func (sr *SessionRegistry) Rename(token, newUsername string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if s, ok := sr.sessions[token]; ok {
		s.Username = newUsername
	}
}

// Invalidate removes a session immediately.
func (sr *SessionRegistry) Invalidate(token string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	delete(sr.sessions, token)
}

// InvalidateUser removes every session owned by username (password change,
// account removal).
func (sr *SessionRegistry) InvalidateUser(username string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for token, s := range sr.sessions {
		if s.Username == username {
			delete(sr.sessions, token)
		}
	}
}

// Count returns the number of stored sessions, expired or not.
func (sr *SessionRegistry) Count() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.sessions)
}

// AddSweepHook registers extra cleanup to run with each sweep. The Plex
// client registers its PIN-ticket sweeper here so one maintenance pass covers
// both maps.
func (sr *SessionRegistry) AddSweepHook(fn func(now time.Time)) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.sweepHooks = append(sr.sweepHooks, fn)
}

// Sweep removes every expired session and runs the registered sweep hooks.
// Sweeping is maintenance, not correctness: Validate rejects expired tokens
// on its own.
func (sr *SessionRegistry) Sweep(now time.Time) {
	sr.mu.Lock()
	removed := 0
	for token, s := range sr.sessions {
		if now.After(s.ExpiresAt) {
			delete(sr.sessions, token)
			removed++
		}
	}
	hooks := make([]func(time.Time), len(sr.sweepHooks))
	copy(hooks, sr.sweepHooks)
	sr.mu.Unlock()

	if removed > 0 {
		slog.Info("swept expired sessions", "removed", removed)
	}
	for _, hook := range hooks {
		hook(now)
	}
}

// MaybeSweep runs Sweep if one has not run within SweepInterval. It is cheap
// enough to call opportunistically from any request path; no dedicated
// scheduler is needed.
func (sr *SessionRegistry) MaybeSweep() {
	now := sr.now()
	sr.mu.Lock()
	if now.Sub(sr.lastSweep) < sr.SweepInterval {
		sr.mu.Unlock()
		return
	}
	sr.lastSweep = now
	sr.mu.Unlock()
	sr.Sweep(now)
}
