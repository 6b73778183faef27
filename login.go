package gatehouse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// AuthHandlers are the HTTP endpoints of the auth core: local login and
// logout, second-factor setup and verification, and the Plex PIN flow. They
// are expected to be mounted on paths the engine's allow-list covers.
type AuthHandlers struct {
	Repo     UserRepository
	Sessions *SessionRegistry
	TOTP     *TOTPManager
	Plex     *PlexClient

	// Tokens, when set, adds a bearer API token to successful login
	// responses.
	Tokens *TokenIssuer

	// Engine is needed so writes that change setup state or create the first
	// user can invalidate the decision cache.
	Engine *Engine

	// BasePath scopes the session cookie. CookieName defaults to
	// DefaultCookieName.
	BasePath   string
	CookieName string
}

func (h *AuthHandlers) cookieName() string {
	if h.CookieName != "" {
		return h.CookieName
	}
	return DefaultCookieName
}

// HandleLogin processes local username/password logins, with the optional
// second-factor code in the same request.
func (h *AuthHandlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	username, password, code, err := h.parseLoginBody(r)
	if err != nil {
		writeAuthError(w, http.StatusBadRequest, NewAuthError(ErrCodeMissingField, err.Error(), "username"))
		return
	}

	user, err := h.Repo.GetUserByUsername(username)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			log.Println("error loading user for login: ", err)
		}
		writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeInvalidCreds, "Invalid credentials", "password"))
		return
	}

	if !VerifyPassword(user.Credential, password) {
		slog.Warn("login failed", "user", username)
		writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeInvalidCreds, "Invalid credentials", "password"))
		return
	}

	// One-way ratchet: a plaintext credential that just authenticated gets
	// rehashed to the canonical form before anything else happens.
	if !LooksHashed(user.Credential) {
		if hashed, herr := HashPassword(password); herr == nil {
			if uerr := h.Repo.UpdateUserPassword(username, hashed); uerr != nil {
				slog.Warn("failed to migrate plaintext credential", "user", username, "error", uerr)
			}
		}
	}

	if user.TwoFactorEnabled {
		if code == "" {
			writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeInvalidCode, "Two-factor code required", "code"))
			return
		}
		if !h.TOTP.Verify(username, code, false) {
			slog.Warn("second factor failed", "user", username)
			writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeInvalidCode, "Invalid two-factor code", "code"))
			return
		}
	}

	h.finishLogin(w, r, username)
}

// parseLoginBody accepts a urlencoded form or a JSON body, the same way the
// login page and API clients each prefer to send it.
func (h *AuthHandlers) parseLoginBody(r *http.Request) (username, password, code string, err error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if err = r.ParseForm(); err != nil {
			return "", "", "", fmt.Errorf("error parsing form")
		}
		username = r.FormValue("username")
		password = r.FormValue("password")
		code = r.FormValue("code")
	} else {
		var data map[string]any
		if err = json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
			return "", "", "", fmt.Errorf("invalid post body")
		}
		if u, ok := data["username"].(string); ok {
			username = u
		}
		if p, ok := data["password"].(string); ok {
			password = p
		}
		if c, ok := data["code"].(string); ok {
			code = c
		}
	}

	if username == "" || password == "" {
		return "", "", "", fmt.Errorf("username and password required")
	}
	return username, password, code, nil
}

// finishLogin materializes a session, sets the cookie and responds with the
// identity (plus an API token when an issuer is configured).
func (h *AuthHandlers) finishLogin(w http.ResponseWriter, r *http.Request, username string) {
	token, err := h.Sessions.Create(username)
	if err != nil {
		http.Error(w, `{"error": "Failed to create session"}`, http.StatusInternalServerError)
		return
	}
	SetSessionCookie(w, r, h.cookieName(), token, h.BasePath)

	resp := map[string]any{"username": username}
	if h.Tokens != nil {
		if apiToken, terr := h.Tokens.Issue(username); terr == nil {
			resp["token"] = apiToken
		} else {
			slog.Warn("failed to issue api token", "user", username, "error", terr)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleLogout invalidates the caller's session and clears the cookie.
func (h *AuthHandlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cookieName()); err == nil && cookie.Value != "" {
		h.Sessions.Invalidate(cookie.Value)
	}
	ClearSessionCookie(w, h.cookieName(), h.BasePath)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// HandleChangePassword lets an authenticated user rotate their password.
func (h *AuthHandlers) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	username, ok := h.sessionUsername(r)
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeInvalidCreds, "Not authenticated", ""))
		return
	}

	var body struct {
		Current string `json:"current"`
		New     string `json:"new"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAuthError(w, http.StatusBadRequest, NewAuthError(ErrCodeMissingField, "Invalid request body", ""))
		return
	}

	user, err := h.Repo.GetUserByUsername(username)
	if err != nil || !VerifyPassword(user.Credential, body.Current) {
		writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeInvalidCreds, "Invalid credentials", "current"))
		return
	}
	if err := ValidatePasswordStrength(body.New); err != nil {
		writeAuthError(w, http.StatusBadRequest, NewAuthError(ErrCodeWeakPassword, err.Error(), "new"))
		return
	}

	hashed, err := HashPassword(body.New)
	if err == nil {
		err = h.Repo.UpdateUserPassword(username, hashed)
	}
	if err != nil {
		log.Println("error updating password: ", err)
		http.Error(w, `{"error": "Failed to update password"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// sessionUsername resolves the caller from the session cookie directly. The
// 2FA and profile endpoints sit on the public allow-list (they must be
// reachable mid-login), so they authenticate here instead of relying on the
// Guard.
func (h *AuthHandlers) sessionUsername(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(h.cookieName())
	if err != nil || cookie.Value == "" {
		return "", false
	}
	if !h.Sessions.Validate(cookie.Value) {
		return "", false
	}
	return h.Sessions.UsernameOf(cookie.Value)
}

// HandleTOTPSetup provisions a fresh temporary secret and returns it with a
// scannable QR image. Nothing is active until the user verifies a code.
func (h *AuthHandlers) HandleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	username, ok := h.sessionUsername(r)
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeInvalidCreds, "Not authenticated", ""))
		return
	}

	secret, qr, err := h.TOTP.GenerateSecret(username)
	if err != nil {
		log.Println("error provisioning totp secret: ", err)
		http.Error(w, `{"error": "Failed to provision secret"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"secret": secret, "qr": qr})
}

// HandleTOTPActivate verifies a code against the temporary secret and, on
// success, promotes it to the permanent one.
func (h *AuthHandlers) HandleTOTPActivate(w http.ResponseWriter, r *http.Request) {
	username, ok := h.sessionUsername(r)
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeInvalidCreds, "Not authenticated", ""))
		return
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		writeAuthError(w, http.StatusBadRequest, NewAuthError(ErrCodeMissingField, "Code required", "code"))
		return
	}

	if !h.TOTP.Verify(username, body.Code, true) {
		writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeInvalidCode, "Invalid two-factor code", "code"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// HandleTOTPDisable turns the second factor off.
func (h *AuthHandlers) HandleTOTPDisable(w http.ResponseWriter, r *http.Request) {
	username, ok := h.sessionUsername(r)
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeInvalidCreds, "Not authenticated", ""))
		return
	}
	if err := h.TOTP.Disable(username); err != nil {
		log.Println("error disabling 2fa: ", err)
		http.Error(w, `{"error": "Failed to disable two-factor auth"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// HandlePlexPinCreate starts a device-flow login: it requests a PIN from the
// provider and returns the id, code and hosted auth URL for the browser.
// Query parameters: popup=true keeps the provider window self-contained,
// mode selects the post-approval landing page (setup / user-profile).
func (h *AuthHandlers) HandlePlexPinCreate(w http.ResponseWriter, r *http.Request) {
	fwd := PlexForward{
		BaseURL: h.requestBaseURL(r),
		Mode:    r.URL.Query().Get("mode"),
		Popup:   r.URL.Query().Get("popup") == "true",
	}

	info, err := h.Plex.CreatePin(r.Context(), fwd)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			writeAuthError(w, http.StatusTooManyRequests, authErr)
			return
		}
		log.Println("error creating plex pin: ", err)
		http.Error(w, `{"error": "Failed to reach Plex"}`, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// HandlePlexPinCheck polls a pending PIN. While unclaimed it answers
// {"pending": true}; once claimed it verifies the granted token, links or
// creates the local user, and materializes a session.
func (h *AuthHandlers) HandlePlexPinCheck(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("pin"), 10, 64)
	if err != nil {
		writeAuthError(w, http.StatusBadRequest, NewAuthError(ErrCodeMissingField, "Pin id required", "pin"))
		return
	}

	token, err := h.Plex.CheckPin(r.Context(), id)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			status := http.StatusGone
			if authErr.Code == ErrCodePinRateLimited {
				status = http.StatusTooManyRequests
			}
			writeAuthError(w, status, authErr)
			return
		}
		log.Println("error checking plex pin: ", err)
		http.Error(w, `{"error": "Failed to reach Plex"}`, http.StatusBadGateway)
		return
	}
	if token == nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"pending": true})
		return
	}

	account, err := h.Plex.VerifyToken(r.Context(), token.AccessToken)
	if err != nil {
		log.Println("error verifying plex token: ", err)
		http.Error(w, `{"error": "Failed to reach Plex"}`, http.StatusBadGateway)
		return
	}
	if account == nil {
		writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodePinDenied, "Plex token was not accepted", ""))
		return
	}

	username, err := h.ensurePlexUser(account, token.AccessToken)
	if err != nil {
		log.Println("error linking plex account: ", err)
		http.Error(w, `{"error": "Failed to link Plex account"}`, http.StatusInternalServerError)
		return
	}

	h.finishLogin(w, r, username)
}

// ensurePlexUser links the verified account to an existing user, or creates
// one on first sight (external-identity signup).
func (h *AuthHandlers) ensurePlexUser(account *PlexAccount, token string) (string, error) {
	profile, err := json.Marshal(account)
	if err != nil {
		return "", err
	}

	user, err := h.Repo.GetUserByUsername(account.Username)
	if errors.Is(err, ErrUserNotFound) {
		user = &UserRecord{
			Username:    account.Username,
			PlexToken:   token,
			PlexProfile: string(profile),
		}
		if err := h.Repo.CreateUser(user); err != nil {
			return "", err
		}
		// The user-exists flag may have just flipped.
		if h.Engine != nil {
			h.Engine.InvalidateDecisionCache()
		}
		return user.Username, nil
	}
	if err != nil {
		return "", err
	}

	if err := h.Repo.UpdateUserExternalIdentity(user.Username, token, string(profile)); err != nil {
		return "", err
	}
	return user.Username, nil
}

// requestBaseURL reconstructs the externally visible base URL of this
// request, honoring forwarded-proto and the configured base path.
func (h *AuthHandlers) requestBaseURL(r *http.Request) string {
	scheme := "http"
	if requestIsSecure(r) {
		scheme = "https"
	}
	base := strings.TrimSuffix(h.BasePath, "/")
	return scheme + "://" + r.Host + base
}
