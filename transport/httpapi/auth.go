package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/c0deZ3R0/go-rental-sync/listings"
)

// ErrUnauthenticated is returned by an Authenticator when the request
// carries no identity.
var ErrUnauthenticated = errors.New("authentication required")

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (listings.Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (listings.Identity, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (listings.Identity, error) {
	return f(r)
}

// Identity headers set by the fronting proxy.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

// HeaderAuthenticator trusts identity headers injected by an authenticating
// reverse proxy.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (listings.Identity, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return listings.Identity{}, ErrUnauthenticated
	}
	return listings.Identity{
		UserID: id,
		Email:  strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
	}, nil
}
