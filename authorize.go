package gatehouse

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// AuthRequest is the framework-agnostic slice of an inbound request the
// engine needs to make a decision. Build one with AuthRequestFromHTTP or by
// hand in tests.
type AuthRequest struct {
	Path         string
	Method       string
	RemoteAddr   string
	ForwardedFor string
	SessionToken string
	BearerToken  string
	Secure       bool
}

// AuthRequestFromHTTP extracts an AuthRequest from an *http.Request, reading
// the session token from the named cookie and a bearer token from the
// Authorization header.
func AuthRequestFromHTTP(r *http.Request, cookieName string) *AuthRequest {
	req := &AuthRequest{
		Path:         r.URL.Path,
		Method:       r.Method,
		RemoteAddr:   r.RemoteAddr,
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		Secure:       requestIsSecure(r),
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		req.SessionToken = cookie.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		req.BearerToken = strings.TrimPrefix(auth, "Bearer ")
	}
	return req
}

// DecisionKind is the outcome of an authorization check.
type DecisionKind int

const (
	// DecisionAllow lets the request through.
	DecisionAllow DecisionKind = iota

	// DecisionSetupRequired sends the caller to first-run setup: a JSON 503
	// for API paths, a redirect otherwise.
	DecisionSetupRequired

	// DecisionDenied rejects the caller: a JSON 401 for API paths, a
	// redirect to login otherwise.
	DecisionDenied
)

// Decision is the explicit allow/redirect/deny value the engine hands back.
// The HTTP glue translates it into a response; the engine itself never
// touches a ResponseWriter.
type Decision struct {
	Kind     DecisionKind
	Username string

	// NewSessionToken is set when a bypass mode minted a session for a
	// cookie-less caller; the glue should set the session cookie.
	NewSessionToken string
}

// defaultPublicPaths never require authentication: setup and profile pages,
// static assets, health checks, the login and second-factor endpoints, and
// the version endpoint. Entries ending in "/" match as prefixes. These are
// checked before any cache or repository access.
var defaultPublicPaths = []string{
	"/setup",
	"/user-profile",
	"/static/",
	"/assets/",
	"/favicon.ico",
	"/health",
	"/api/health",
	"/login",
	"/login/plex",
	"/api/auth/login",
	"/api/auth/logout",
	"/api/auth/2fa/",
	"/api/auth/plex/",
	"/api/version",
}

// Engine is the request-authorization decision engine. It orchestrates the
// session registry, the decision cache and the user repository to answer
// "may this request proceed?" for every inbound call.
//
// The check ordering is load-bearing: auth settings are consulted before the
// setup-in-progress record so a user who already chose a bypass mode during
// setup is never re-trapped by a stale setup row, and the public allow-list
// short-circuits before anything touches the repository.
type Engine struct {
	Repo     UserRepository
	Sessions *SessionRegistry

	// Tokens, when set, lets API clients authenticate with a bearer token
	// instead of the session cookie.
	Tokens *TokenIssuer

	// BasePath is the URL prefix the app is mounted under, e.g. "/requests".
	// Stripped before path checks.
	BasePath string

	// APIPrefix marks paths whose rejections are JSON rather than redirects.
	// Defaults to "/api/".
	APIPrefix string

	// PublicPaths overrides the default allow-list when non-nil.
	PublicPaths []string

	// CacheTTL defaults to DefaultCacheTTL.
	CacheTTL time.Duration

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time

	cache decisionCache
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// relPath strips the configured base path so allow-list entries stay
// mount-point independent.
func (e *Engine) relPath(path string) string {
	if e.BasePath != "" && e.BasePath != "/" {
		path = strings.TrimPrefix(path, strings.TrimSuffix(e.BasePath, "/"))
	}
	if path == "" {
		path = "/"
	}
	return path
}

func (e *Engine) publicPaths() []string {
	if e.PublicPaths != nil {
		return e.PublicPaths
	}
	return defaultPublicPaths
}

func (e *Engine) isPublic(relPath string) bool {
	for _, p := range e.publicPaths() {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(relPath, p) || relPath == strings.TrimSuffix(p, "/") {
				return true
			}
		} else if relPath == p {
			return true
		}
	}
	return false
}

// IsAPIPath reports whether rejections for path should be JSON.
func (e *Engine) IsAPIPath(path string) bool {
	prefix := e.APIPrefix
	if prefix == "" {
		prefix = "/api/"
	}
	return strings.HasPrefix(e.relPath(path), prefix)
}

// Authorize runs the ordered authorization checks for one request.
func (e *Engine) Authorize(req *AuthRequest) Decision {
	// Opportunistic maintenance; internally gated to once per interval.
	e.Sessions.MaybeSweep()

	// 1. Fixed allow-list, before any cache or repository access.
	if e.isPublic(e.relPath(req.Path)) {
		return Decision{Kind: DecisionAllow}
	}

	now := e.now()

	// 2. No user has ever been created: force setup.
	if !e.cachedUserExists(now) {
		return Decision{Kind: DecisionSetupRequired}
	}

	// 3. Bypass flags load before the setup-in-progress check.
	settings := e.cachedSettings(now)

	// 4. Trusted-proxy bypass.
	if settings.ProxyAuthBypass {
		return e.bypassAllow(req, now)
	}

	// 5. Local-network bypass.
	if settings.LocalBypass && isPrivateAddr(clientAddr(req.RemoteAddr, req.ForwardedFor)) {
		return e.bypassAllow(req, now)
	}

	// 6. A valid session settles it.
	if username, ok := e.sessionUser(req); ok {
		e.clearStaleSetup(now)
		return Decision{Kind: DecisionAllow, Username: username}
	}

	// 7. Setup still in progress: back to setup.
	if e.cachedSetupInProgress(now) {
		return Decision{Kind: DecisionSetupRequired}
	}

	// 8. Deny.
	return Decision{Kind: DecisionDenied}
}

// sessionUser resolves the caller's identity from the session cookie or,
// failing that, a bearer API token.
func (e *Engine) sessionUser(req *AuthRequest) (string, bool) {
	if req.SessionToken != "" && e.Sessions.Validate(req.SessionToken) {
		if username, ok := e.Sessions.UsernameOf(req.SessionToken); ok {
			return username, true
		}
		return "", true
	}
	if e.Tokens != nil && req.BearerToken != "" {
		if username, err := e.Tokens.Verify(req.BearerToken); err == nil {
			return username, true
		}
	}
	return "", false
}

// bypassAllow admits a caller under a bypass mode. Stale setup state is
// cleared, and a caller without a session silently gets one for the owner
// account so downstream handlers still see an identity.
func (e *Engine) bypassAllow(req *AuthRequest, now time.Time) Decision {
	e.clearStaleSetup(now)

	if username, ok := e.sessionUser(req); ok {
		return Decision{Kind: DecisionAllow, Username: username}
	}

	owner, err := e.Repo.GetFirstUser()
	if err != nil {
		slog.Warn("bypass active but owner lookup failed", "error", err)
		return Decision{Kind: DecisionDenied}
	}
	token, err := e.Sessions.Create(owner.Username)
	if err != nil {
		slog.Warn("bypass active but session creation failed", "error", err)
		return Decision{Kind: DecisionDenied}
	}
	return Decision{Kind: DecisionAllow, Username: owner.Username, NewSessionToken: token}
}
