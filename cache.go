package gatehouse

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a cached repository-derived flag stays fresh.
const DefaultCacheTTL = 10 * time.Second

// decisionCache holds the three repository-derived values the engine consults
// on every request, each with its own refresh timestamp. One mutex guards the
// whole structure; every entry is a handful of bools so contention is not a
// concern.
type decisionCache struct {
	mu sync.Mutex

	userExists      bool
	userExistsKnown bool // have we ever read this successfully
	userExistsAt    time.Time

	setupInProgress bool
	setupAt         time.Time

	settings   AuthSettings
	settingsAt time.Time
}

func (e *Engine) cacheTTL() time.Duration {
	if e.CacheTTL > 0 {
		return e.CacheTTL
	}
	return DefaultCacheTTL
}

// InvalidateDecisionCache drops all cached values so the next authorization
// re-reads each field from the repository exactly once. Call after writes
// that change setup state or auth settings.
func (e *Engine) InvalidateDecisionCache() {
	e.cache.mu.Lock()
	defer e.cache.mu.Unlock()
	e.cache.userExistsAt = time.Time{}
	e.cache.setupAt = time.Time{}
	e.cache.settingsAt = time.Time{}
}

// cachedUserExists returns the user-exists flag, refreshing from the
// repository when the entry is older than the TTL. A refresh failure keeps
// the last known value; only when the flag has never been read does it fail
// toward "no user yet" (which forces setup).
func (e *Engine) cachedUserExists(now time.Time) bool {
	e.cache.mu.Lock()
	defer e.cache.mu.Unlock()
	if now.Sub(e.cache.userExistsAt) < e.cacheTTL() && !e.cache.userExistsAt.IsZero() {
		return e.cache.userExists
	}
	exists, err := e.Repo.UserExists()
	if err != nil {
		slog.Warn("failed to refresh user-exists flag", "error", err)
		if !e.cache.userExistsKnown {
			e.cache.userExists = false
		}
	} else {
		e.cache.userExists = exists
		e.cache.userExistsKnown = true
	}
	// Stamp even on failure so a broken repository is not hammered once per
	// request.
	e.cache.userExistsAt = now
	return e.cache.userExists
}

// cachedSetupInProgress returns the setup-in-progress flag. A refresh failure
// substitutes false: assuming setup is not in progress is safe against
// locking out an already-running instance.
func (e *Engine) cachedSetupInProgress(now time.Time) bool {
	e.cache.mu.Lock()
	defer e.cache.mu.Unlock()
	if now.Sub(e.cache.setupAt) < e.cacheTTL() && !e.cache.setupAt.IsZero() {
		return e.cache.setupInProgress
	}
	inProgress, err := e.Repo.IsSetupInProgress()
	if err != nil {
		slog.Warn("failed to refresh setup-in-progress flag", "error", err)
		inProgress = false
	}
	e.cache.setupInProgress = inProgress
	e.cache.setupAt = now
	return inProgress
}

// cachedSettings returns the auth-settings snapshot. A refresh failure
// substitutes the zero value, i.e. every bypass off.
func (e *Engine) cachedSettings(now time.Time) AuthSettings {
	e.cache.mu.Lock()
	defer e.cache.mu.Unlock()
	if now.Sub(e.cache.settingsAt) < e.cacheTTL() && !e.cache.settingsAt.IsZero() {
		return e.cache.settings
	}
	settings, err := e.Repo.AuthSettings()
	if err != nil {
		slog.Warn("failed to refresh auth settings", "error", err)
		settings = AuthSettings{}
	}
	e.cache.settings = settings
	e.cache.settingsAt = now
	return settings
}

// clearStaleSetup removes a leftover setup-in-progress record once a request
// proves the instance is past setup (a bypass fired or a session validated).
// The repository operation is explicit and idempotent; it is never a hidden
// side effect of unrelated helpers.
func (e *Engine) clearStaleSetup(now time.Time) {
	if !e.cachedSetupInProgress(now) {
		return
	}
	if err := e.Repo.ClearSetupProgress(); err != nil {
		slog.Warn("failed to clear stale setup state", "error", err)
		return
	}
	e.cache.mu.Lock()
	e.cache.setupInProgress = false
	e.cache.setupAt = now
	e.cache.mu.Unlock()
}
