package gatehouse

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpOpts are the RFC 6238 parameters we issue and accept: 6 digits, 30s
// period, SHA1, and a skew of one step either way to absorb client/server
// clock drift. The skew search is bounded to 3 candidate codes.
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPManager issues and validates time-based one-time-password second
// factors. Secrets are provisioned into the user's temporary slot and only
// promoted to permanent after a code verifies with activation requested.
type TOTPManager struct {
	Repo UserRepository

	// Issuer appears in authenticator apps next to the account name.
	// Defaults to "Gatehouse".
	Issuer string

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time
}

func (m *TOTPManager) issuer() string {
	if m.Issuer != "" {
		return m.Issuer
	}
	return "Gatehouse"
}

func (m *TOTPManager) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// GenerateSecret creates a fresh base32 secret for username, persists it as
// the user's temporary (not yet active) secret, and returns the secret along
// with a scannable QR image of the provisioning URI as a data URI.
func (m *TOTPManager) GenerateSecret(username string) (secret string, qrDataURI string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer(),
		AccountName: username,
		Period:      totpOpts.Period,
		Digits:      totpOpts.Digits,
		Algorithm:   totpOpts.Algorithm,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp secret: %w", err)
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return "", "", fmt.Errorf("failed to render provisioning QR: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", "", fmt.Errorf("failed to encode provisioning QR: %w", err)
	}

	if err := m.Repo.UpdateUserTempSecret(username, key.Secret()); err != nil {
		return "", "", fmt.Errorf("failed to store temporary secret: %w", err)
	}

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	return key.Secret(), dataURI, nil
}

// Verify validates code for username. When the user's permanent 2FA is
// enabled the permanent secret is used; otherwise the temporary setup secret.
// With activateOnSuccess, a code that verifies against the temporary secret
// promotes it to permanent through a single repository operation; if that
// persistence fails the verification is reported as failed rather than
// leaving 2FA half-enabled. Wrong codes and internal errors both come back as
// false, never as a panic or error.
func (m *TOTPManager) Verify(username, code string, activateOnSuccess bool) bool {
	user, err := m.Repo.GetUserByUsername(username)
	if err != nil {
		slog.Warn("totp verify: user lookup failed", "error", err)
		return false
	}

	secret := user.TempTOTPSecret
	if user.TwoFactorEnabled {
		secret = user.TOTPSecret
	}
	if secret == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, m.now().UTC(), totpOpts)
	if err != nil || !ok {
		return false
	}

	if activateOnSuccess && !user.TwoFactorEnabled {
		if err := m.Repo.UpdateUser2FA(username, true, secret); err != nil {
			slog.Warn("totp verify: failed to activate 2fa", "user", username, "error", err)
			return false
		}
	}
	return true
}

// Disable turns off the second factor and clears both secrets.
func (m *TOTPManager) Disable(username string) error {
	return m.Repo.UpdateUser2FA(username, false, "")
}
