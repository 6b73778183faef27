package gatehouse

import (
	"context"
	"encoding/json"
	"net/http"
)

type usernameKey struct{}

// DefaultCookieName carries the session token.
const DefaultCookieName = "gatehouse_session"

// Guard is the HTTP glue around the decision engine: it builds an
// AuthRequest from each inbound request, asks the engine for a Decision, and
// translates that into an allow, a redirect, or a JSON rejection.
type Guard struct {
	Engine *Engine

	// CookieName defaults to DefaultCookieName.
	CookieName string

	// LoginPath and SetupPath are redirect targets for HTML paths, relative
	// to the engine's base path.
	LoginPath string
	SetupPath string
}

func (g *Guard) EnsureReasonableDefaults() {
	if g.CookieName == "" {
		g.CookieName = DefaultCookieName
	}
	if g.LoginPath == "" {
		g.LoginPath = "/login"
	}
	if g.SetupPath == "" {
		g.SetupPath = "/setup"
	}
}

// Wrap guards next with the decision engine.
func (g *Guard) Wrap(next http.Handler) http.Handler {
	g.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := AuthRequestFromHTTP(r, g.CookieName)
		decision := g.Engine.Authorize(req)

		switch decision.Kind {
		case DecisionAllow:
			if decision.NewSessionToken != "" {
				SetSessionCookie(w, r, g.CookieName, decision.NewSessionToken, g.Engine.BasePath)
			}
			if decision.Username != "" {
				r = requestWithUsername(r, decision.Username)
			}
			next.ServeHTTP(w, r)

		case DecisionSetupRequired:
			if g.Engine.IsAPIPath(r.URL.Path) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]any{
					"error":          "Setup required",
					"setup_required": true,
				})
			} else {
				http.Redirect(w, r, g.redirectTarget(g.SetupPath), http.StatusFound)
			}

		default:
			if g.Engine.IsAPIPath(r.URL.Path) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]any{"error": "Unauthorized"})
			} else {
				http.Redirect(w, r, g.redirectTarget(g.LoginPath), http.StatusFound)
			}
		}
	})
}

func (g *Guard) redirectTarget(path string) string {
	base := g.Engine.BasePath
	if base == "" || base == "/" {
		return path
	}
	return base + path
}

// UsernameFromRequest returns the authenticated username the Guard attached
// to the request context, or "" for anonymous/public requests.
func UsernameFromRequest(r *http.Request) string {
	if v := r.Context().Value(usernameKey{}); v != nil {
		return v.(string)
	}
	return ""
}

func requestWithUsername(r *http.Request, username string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), usernameKey{}, username))
}

// SetSessionCookie writes the session cookie: HTTP-only, SameSite=Lax,
// scoped to the base path, Secure when the request arrived over TLS or via a
// trusted X-Forwarded-Proto header.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, name, token, basePath string) {
	if basePath == "" {
		basePath = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     basePath,
		MaxAge:   int(DefaultSessionExpiry.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   requestIsSecure(r),
	})
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(w http.ResponseWriter, name, basePath string) {
	if basePath == "" {
		basePath = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     basePath,
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
