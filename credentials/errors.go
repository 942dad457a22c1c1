package credentials

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ErrNoGrant is returned when a credential carries nothing that can be
// exchanged for an access token.
var ErrNoGrant = errors.New("credential has no refresh token, service account key or client secret")

// AuthError reports a failed token exchange. Terminal errors leave the
// manager Invalid until Reset; the rest may succeed on a later attempt.
type AuthError struct {
	Err        error
	Code       string
	StatusCode int
	Terminal   bool
}

func (e *AuthError) Error() string {
	kind := "temporary"
	if e.Terminal {
		kind = "terminal"
	}
	if e.Code != "" {
		return fmt.Sprintf("token exchange failed (%s, %s): %v", kind, e.Code, e.Err)
	}
	return fmt.Sprintf("token exchange failed (%s): %v", kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the exchange may succeed.
func (e *AuthError) Temporary() bool {
	return !e.Terminal
}

var terminalCodes = map[string]bool{
	"invalid_grant":          true,
	"invalid_client":         true,
	"unauthorized_client":    true,
	"unsupported_grant_type": true,
	"invalid_scope":          true,
}

func classify(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, ErrNoGrant) {
		return &AuthError{Err: err, Terminal: true}
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		terminal := terminalCodes[re.ErrorCode]
		if re.ErrorCode == "" {
			switch status {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				terminal = true
			}
		}
		return &AuthError{Err: err, Code: re.ErrorCode, StatusCode: status, Terminal: terminal}
	}
	return &AuthError{Err: err}
}
