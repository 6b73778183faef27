package gatehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	DefaultPlexAPIBase  = "https://plex.tv"
	DefaultPlexAuthBase = "https://app.plex.tv/auth"

	// PinLifetime is fixed by the provider: tickets are never renewed.
	PinLifetime = 600 * time.Second

	// DefaultProviderTimeout bounds every outbound call to the provider.
	DefaultProviderTimeout = 15 * time.Second
)

// Redirect modes for non-popup login flows. The mode rides along on the
// forward URL so the app lands the user back on the right page.
const (
	PlexModeDefault     = ""
	PlexModeSetup       = "setup"
	PlexModeUserProfile = "user-profile"
)

// PlexPin is a pending device-flow ticket: provider-assigned id and short
// code, destroyed on successful claim or expiry.
type PlexPin struct {
	ID        int64
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PlexPinInfo is what a PIN-creation request hands back to the browser.
type PlexPinInfo struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	AuthURL string `json:"auth_url"`
}

// PlexForward describes where the provider should send the user after
// approval. Popup flows keep the provider window self-contained and omit the
// forward URL entirely.
type PlexForward struct {
	BaseURL string
	Mode    string
	Popup   bool
}

// PlexAccount is the remote account profile returned by token verification.
type PlexAccount struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Thumb    string `json:"thumb"`
}

// PlexClient drives the PIN-based device flow against plex.tv. The wire
// behavior is fixed by the provider: PIN creation is a POST carrying the
// client-identifier header and a strong-PIN flag, PIN polling is a GET by id,
// and token verification is a GET with the token in a header where a 401
// means "invalid token" rather than a transport error.
type PlexClient struct {
	// HTTPClient defaults to one with DefaultProviderTimeout.
	HTTPClient *http.Client

	// APIBase and AuthBase are overridable for tests.
	APIBase  string
	AuthBase string

	// Product is the application name shown on the provider's consent page.
	Product string

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time

	mu       sync.Mutex
	clientID string
	pins     map[int64]*PlexPin
}

func (c *PlexClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: DefaultProviderTimeout}
}

func (c *PlexClient) apiBase() string {
	if c.APIBase != "" {
		return strings.TrimSuffix(c.APIBase, "/")
	}
	return DefaultPlexAPIBase
}

func (c *PlexClient) authBase() string {
	if c.AuthBase != "" {
		return c.AuthBase
	}
	return DefaultPlexAuthBase
}

func (c *PlexClient) product() string {
	if c.Product != "" {
		return c.Product
	}
	return "Gatehouse"
}

func (c *PlexClient) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// ClientID returns the per-process client identifier, generating it on first
// use. It identifies this server instance to the provider, not the end user,
// and is reused for the life of the process.
func (c *PlexClient) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clientID == "" {
		c.clientID = uuid.NewString()
	}
	return c.clientID
}

func (c *PlexClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Client-Identifier", c.ClientID())
	req.Header.Set("X-Plex-Product", c.product())
}

// CreatePin requests a short-lived strong PIN from the provider, stores the
// ticket, and builds the hosted authorization URL the browser should open.
func (c *PlexClient) CreatePin(ctx context.Context, fwd PlexForward) (*PlexPinInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase()+"/api/v2/pins?strong=true", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("pin request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, NewAuthError(ErrCodePinRateLimited, "Too many PIN requests, try again shortly", "")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("pin request returned status %d", resp.StatusCode)
	}

	var body struct {
		ID   int64  `json:"id"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode pin response: %w", err)
	}

	now := c.now()
	c.mu.Lock()
	if c.pins == nil {
		c.pins = make(map[int64]*PlexPin)
	}
	c.pins[body.ID] = &PlexPin{
		ID:        body.ID,
		Code:      body.Code,
		CreatedAt: now,
		ExpiresAt: now.Add(PinLifetime),
	}
	c.mu.Unlock()

	return &PlexPinInfo{ID: body.ID, Code: body.Code, AuthURL: c.authURL(body.Code, fwd)}, nil
}

func (c *PlexClient) authURL(code string, fwd PlexForward) string {
	v := url.Values{}
	v.Set("clientID", c.ClientID())
	v.Set("code", code)
	v.Set("context[device][product]", c.product())
	if !fwd.Popup && fwd.BaseURL != "" {
		forward := strings.TrimSuffix(fwd.BaseURL, "/") + "/login/plex"
		if fwd.Mode != PlexModeDefault {
			forward += "?mode=" + url.QueryEscape(fwd.Mode)
		}
		v.Set("forwardUrl", forward)
	}
	return c.authBase() + "#?" + v.Encode()
}

// CheckPin polls the provider for a claim on a previously created ticket.
// Expired tickets are discarded and report no token; a ticket that was never
// created reports the same, so polling a dead pin is not an error. A granted
// token consumes the ticket (single use). Transport failures are a normal
// "not claimed yet" outcome.
func (c *PlexClient) CheckPin(ctx context.Context, id int64) (*oauth2.Token, error) {
	now := c.now()
	c.mu.Lock()
	pin, ok := c.pins[id]
	if ok && now.After(pin.ExpiresAt) {
		delete(c.pins, id)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase()+"/api/v2/pins/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		slog.Warn("pin poll failed", "pin", id, "error", err)
		return nil, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Provider forgot the pin before we did.
		c.discardPin(id)
		return nil, NewAuthError(ErrCodePinExpired, "Login code expired, request a new one", "")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewAuthError(ErrCodePinRateLimited, "Polling too fast, slow down", "")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		slog.Warn("pin poll returned unexpected status", "pin", id, "status", resp.StatusCode)
		return nil, nil
	}

	var body struct {
		AuthToken string `json:"authToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Warn("failed to decode pin poll response", "pin", id, "error", err)
		return nil, nil
	}
	if body.AuthToken == "" {
		// Not claimed yet; keep the ticket for the next poll.
		return nil, nil
	}

	c.discardPin(id)
	return &oauth2.Token{AccessToken: body.AuthToken, TokenType: "Bearer"}, nil
}

func (c *PlexClient) discardPin(id int64) {
	c.mu.Lock()
	delete(c.pins, id)
	c.mu.Unlock()
}

// VerifyToken exchanges a token for the remote account profile. A
// provider-side 401 means the token is void and reports (nil, nil);
// it is not an error.
func (c *PlexClient) VerifyToken(ctx context.Context, token string) (*PlexAccount, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase()+"/api/v2/user", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("X-Plex-Token", token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("token verification returned status %d", resp.StatusCode)
	}

	var account PlexAccount
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return nil, fmt.Errorf("failed to decode account profile: %w", err)
	}
	return &account, nil
}

// SweepPins drops expired tickets. Registered as a sweep hook on the session
// registry so one maintenance pass covers both maps.
func (c *PlexClient) SweepPins(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, pin := range c.pins {
		if now.After(pin.ExpiresAt) {
			delete(c.pins, id)
		}
	}
}

// PendingPins returns the number of outstanding tickets.
func (c *PlexClient) PendingPins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pins)
}
