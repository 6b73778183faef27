package gatehouse_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gh "github.com/morrigan/gatehouse"
)

func newTestGuard(repo *fakeRepo, clock *fakeClock) *gh.Guard {
	return &gh.Guard{Engine: newTestEngine(repo, clock)}
}

// echoHandler reports whether it ran and who the Guard said the caller was.
type echoHandler struct {
	called   bool
	username string
}

func (h *echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.username = gh.UsernameFromRequest(r)
	w.WriteHeader(http.StatusOK)
}

func TestGuardSetupRequiredAPI(t *testing.T) {
	repo := newFakeRepo()
	guard := newTestGuard(repo, newFakeClock())
	next := &echoHandler{}

	req := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
	rec := httptest.NewRecorder()
	guard.Wrap(next).ServeHTTP(rec, req)

	assert.False(t, next.called)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["setup_required"])
	assert.Equal(t, "Setup required", body["error"])
}

func TestGuardSetupRequiredHTMLRedirects(t *testing.T) {
	repo := newFakeRepo()
	guard := newTestGuard(repo, newFakeClock())
	next := &echoHandler{}

	req := httptest.NewRequest(http.MethodGet, "/movies", nil)
	rec := httptest.NewRecorder()
	guard.Wrap(next).ServeHTTP(rec, req)

	assert.False(t, next.called)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/setup", rec.Header().Get("Location"))
}

func TestGuardDeniedAPI(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, "alice")
	guard := newTestGuard(repo, newFakeClock())
	next := &echoHandler{}

	req := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
	rec := httptest.NewRecorder()
	guard.Wrap(next).ServeHTTP(rec, req)

	assert.False(t, next.called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeBody(t, rec)["error"])
}

func TestGuardDeniedHTMLRedirectsToLogin(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, "alice")
	guard := newTestGuard(repo, newFakeClock())
	guard.Engine.BasePath = "/requests"
	next := &echoHandler{}

	req := httptest.NewRequest(http.MethodGet, "/requests/movies", nil)
	rec := httptest.NewRecorder()
	guard.Wrap(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/requests/login", rec.Header().Get("Location"))
}

func TestGuardAllowAttachesUsername(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, "alice")
	clock := newFakeClock()
	guard := newTestGuard(repo, clock)
	next := &echoHandler{}

	token, err := guard.Engine.Sessions.Create("alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
	req.AddCookie(&http.Cookie{Name: gh.DefaultCookieName, Value: token})
	rec := httptest.NewRecorder()
	guard.Wrap(next).ServeHTTP(rec, req)

	assert.True(t, next.called)
	assert.Equal(t, "alice", next.username)
}

func TestGuardBypassSetsCookie(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, "alice")
	repo.settings = gh.AuthSettings{ProxyAuthBypass: true}
	guard := newTestGuard(repo, newFakeClock())
	next := &echoHandler{}

	req := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
	rec := httptest.NewRecorder()
	guard.Wrap(next).ServeHTTP(rec, req)

	require.True(t, next.called)
	assert.Equal(t, "alice", next.username)

	cookie := sessionCookie(t, rec)
	assert.True(t, guard.Engine.Sessions.Validate(cookie.Value))
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure, "plain-http request gets a non-secure cookie")
}

func TestGuardSecureCookieBehindProxy(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, "alice")
	repo.settings = gh.AuthSettings{ProxyAuthBypass: true}
	guard := newTestGuard(repo, newFakeClock())

	req := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	guard.Wrap(&echoHandler{}).ServeHTTP(rec, req)

	assert.True(t, sessionCookie(t, rec).Secure)
}

func TestGuardPublicPathAnonymous(t *testing.T) {
	repo := newFakeRepo()
	guard := newTestGuard(repo, newFakeClock())
	next := &echoHandler{}

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	rec := httptest.NewRecorder()
	guard.Wrap(next).ServeHTTP(rec, req)

	assert.True(t, next.called)
	assert.Empty(t, next.username)
}
