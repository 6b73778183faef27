package gatehouse

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CredentialKind is the closed set of encodings a stored credential can have.
// Classification happens once, in ClassifyCredential; nothing else re-derives
// the format by sniffing.
type CredentialKind int

const (
	// CredentialPlaintext is a legacy unhashed password. Verifying one
	// succeeds at most once: the login flow immediately rehashes it to the
	// salted-digest form.
	CredentialPlaintext CredentialKind = iota

	// CredentialSaltedDigest is the canonical "salt:digest" form produced by
	// HashPassword.
	CredentialSaltedDigest

	// CredentialAdaptiveHash is a bcrypt string carried over from an older
	// install.
	CredentialAdaptiveHash
)

const (
	saltBytes = 16

	// minHashedLength is the shortest credible salt:digest credential.
	// Anything at or under this is treated as plaintext that happens to
	// contain a colon.
	minHashedLength = 40
)

// ClassifyCredential determines which encoding a stored credential uses.
func ClassifyCredential(stored string) CredentialKind {
	if strings.HasPrefix(stored, "$2") && strings.Count(stored, "$") >= 3 {
		return CredentialAdaptiveHash
	}
	if len(stored) > minHashedLength && strings.Count(stored, ":") == 1 {
		return CredentialSaltedDigest
	}
	return CredentialPlaintext
}

// LooksHashed reports whether a stored credential is already in one of the
// hashed encodings.
func LooksHashed(stored string) bool {
	return ClassifyCredential(stored) != CredentialPlaintext
}

// HashPassword produces a new credential in the canonical salt:digest form.
// The salt is fresh random bytes; the digest is an HMAC-SHA256 of the
// password keyed by the salt.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	return saltHex + ":" + digestPassword(password, saltHex), nil
}

func digestPassword(password, saltHex string) string {
	mac := hmac.New(sha256.New, []byte(saltHex))
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPassword checks a provided password against a stored credential of
// any encoding. It never returns an error; any internal failure is a
// verification failure.
func VerifyPassword(stored, provided string) bool {
	switch ClassifyCredential(stored) {
	case CredentialAdaptiveHash:
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(provided)) == nil
	case CredentialSaltedDigest:
		saltHex, digest, ok := strings.Cut(stored, ":")
		if !ok {
			return false
		}
		computed := digestPassword(provided, saltHex)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
	default:
		return subtle.ConstantTimeCompare([]byte(stored), []byte(provided)) == 1
	}
}

// ValidatePasswordStrength rejects passwords that are too short. Returns a
// human-readable reason, or nil when the password is acceptable.
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}
