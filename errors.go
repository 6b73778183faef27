package gatehouse

import (
	"encoding/json"
	"net/http"
)

// Error codes surfaced to clients. Provider-side OAuth failures map to
// specific codes rather than a generic one so the UI can tell the user what
// actually happened.
const (
	ErrCodeMissingField = "missing_field"
	ErrCodeInvalidCreds = "invalid_credentials"
	ErrCodeInvalidCode  = "invalid_code"
	ErrCodeWeakPassword = "weak_password"
	ErrCodeUserExists   = "user_exists"
	ErrCodeNotFound     = "not_found"

	ErrCodePinExpired     = "pin_expired"
	ErrCodePinDenied      = "pin_denied"
	ErrCodePinClaimed     = "pin_already_claimed"
	ErrCodePinRateLimited = "pin_rate_limited"
)

// AuthError is a coded, user-facing authentication error.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func (e *AuthError) Error() string {
	return e.Message
}

func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// writeAuthError writes the error as a JSON body with the given status.
func writeAuthError(w http.ResponseWriter, status int, err *AuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(err)
}
