package gatehouse

import (
	"errors"
	"time"
)

// ErrUserNotFound is returned by repositories when a username lookup misses.
var ErrUserNotFound = errors.New("user not found")

// UserRecord is the slice of the persisted user that the auth core reads and
// writes. The surrounding application may store more; it is never touched
// here.
type UserRecord struct {
	Username         string    `json:"username"`
	Credential       string    `json:"-"` // one of the three encodings, see ClassifyCredential
	Admin            bool      `json:"admin"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	TOTPSecret       string    `json:"-"` // permanent secret, empty unless 2FA enabled
	TempTOTPSecret   string    `json:"-"` // set only while 2FA setup is in progress
	PlexToken        string    `json:"-"`
	PlexProfile      string    `json:"-"` // raw account profile JSON from the provider
	CreatedAt        time.Time `json:"created_at"`
}

// AuthSettings are the operator-chosen bypass flags consulted on every
// request. They live in the repository so a restart keeps them.
type AuthSettings struct {
	// ProxyAuthBypass disables session enforcement entirely, for deployments
	// where a trusted reverse proxy authenticates upstream.
	ProxyAuthBypass bool

	// LocalBypass disables session enforcement for callers on a private
	// network address.
	LocalBypass bool
}

// UserRepository is the persistence boundary of the auth core. Implementations
// must be safe for concurrent use; every method is called from request paths.
type UserRepository interface {
	// UserExists reports whether any user has ever been created.
	UserExists() (bool, error)

	// GetUserByUsername returns the user or an error if absent. Lookup is
	// case-sensitive; callers normalize if they want otherwise.
	GetUserByUsername(username string) (*UserRecord, error)

	// GetFirstUser returns the first (owner) account. Used when a bypass mode
	// has to mint a session without credentials.
	GetFirstUser() (*UserRecord, error)

	// CreateUser persists a new user record.
	CreateUser(user *UserRecord) error

	// UpdateUserPassword replaces the stored credential string.
	UpdateUserPassword(username, credential string) error

	// UpdateUser2FA enables or disables two-factor auth in one step: it sets
	// the enabled flag, stores secret as the permanent secret, and clears the
	// temporary secret. A returned error means nothing was changed.
	UpdateUser2FA(username string, enabled bool, secret string) error

	// UpdateUserTempSecret stores a provisioning secret that is not yet
	// active.
	UpdateUserTempSecret(username, secret string) error

	// UpdateUserExternalIdentity links a Plex token and account profile blob
	// to the user.
	UpdateUserExternalIdentity(username, token, profile string) error

	// AuthSettings returns the current bypass flags.
	AuthSettings() (AuthSettings, error)

	// IsSetupInProgress reports whether a first-run setup was started but not
	// finished.
	IsSetupInProgress() (bool, error)

	// ClearSetupProgress removes any setup-in-progress record. Idempotent.
	ClearSetupProgress() error
}
