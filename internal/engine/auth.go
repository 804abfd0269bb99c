package engine

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Auth applies credential material to an outbound engine request.
type Auth interface {
	Apply(req *http.Request) error
}

// DefaultScopes are the OAuth scopes requested for service-account tokens.
var DefaultScopes = []string{"email", "openid", "profile"}

// NoAuth sends requests without credentials.
func NoAuth() Auth {
	return noAuth{}
}

type noAuth struct{}

func (noAuth) Apply(*http.Request) error { return nil }

// BasicAuth authenticates with a username/password pair.
func BasicAuth(username, password string) Auth {
	return &basicAuth{username: username, password: password}
}

type basicAuth struct {
	username string
	password string
}

func (a *basicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(a.username, a.password)
	return nil
}

// ServiceAccountAuth authenticates with a bearer token minted from a Google
// service-account key file. The token source caches and refreshes tokens
// on its own.
func ServiceAccountAuth(keyFile string, scopes ...string) (Auth, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	creds, err := google.CredentialsFromJSON(context.Background(), data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	return &tokenAuth{source: creds.TokenSource}, nil
}

type tokenAuth struct {
	source oauth2.TokenSource
}

func (a *tokenAuth) Apply(req *http.Request) error {
	token, err := a.source.Token()
	if err != nil {
		return fmt.Errorf("fetch bearer token: %w", err)
	}
	token.SetAuthHeader(req)
	return nil
}
