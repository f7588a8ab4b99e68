package idp

import "fmt"

// Well-known error codes surfaced by the identity service client.
const (
	CodeInvalidRefreshToken = "invalid_refresh_token"
	CodeUnexpectedError     = "unexpected_error"
)

// Error is an identity-service level failure carrying the OAuth error code
// and its human readable description.
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// StatusError reports a non-2xx response from the identity service along
// with the parsed OAuth error body, when one was present.
type StatusError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity service returned %d: %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("identity service returned %d", e.StatusCode)
}
