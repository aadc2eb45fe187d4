package azauth

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ErrIncompleteCredentials is returned when a refresh is needed but the
// provider was built from a bare token without tenant/client/secret.
var ErrIncompleteCredentials = errors.New("azauth: tenant id, client id and client secret are required to refresh")

// AuthenticationError reports a failed credential exchange. StatusCode and
// Body carry the identity authority's response; StatusCode is 0 when the
// request never got a response (DNS, connection, timeout).
type AuthenticationError struct {
	TenantID   string
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("azauth: token request for tenant %q failed: HTTP %d: %s", e.TenantID, e.StatusCode, e.Body)
	}

	return fmt.Sprintf("azauth: token request for tenant %q failed: %v", e.TenantID, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

func newAuthenticationError(tenantID string, err error) *AuthenticationError {
	authErr := &AuthenticationError{TenantID: tenantID, Err: err}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			authErr.StatusCode = retrieveErr.Response.StatusCode
		}

		authErr.Body = string(retrieveErr.Body)
	}

	return authErr
}
