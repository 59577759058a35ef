package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for unknown applications and wrong secrets.
var ErrUnauthorized = errors.New("unauthorized")

// ErrApplicationNotFound is returned by a Repository when no application
// has the requested name.
var ErrApplicationNotFound = errors.New("application not found")

// Flow selects which set of application secrets a request is checked against.
type Flow uint8

const (
	// FlowServer is the server-to-server flow, authenticated by a server key.
	FlowServer Flow = iota + 1
	// FlowClient is the client-facing flow, authenticated by a public client key.
	FlowClient
)

func (f Flow) String() string {
	switch f {
	case FlowServer:
		return "server"
	case FlowClient:
		return "client"
	default:
		return "unknown"
	}
}

// Application is a tenant. Secrets are only stored as HMAC hashes; several
// hashes per flow allow key rotation.
type Application struct {
	ID              string
	Name            string
	ServerKeyHashes []string
	ClientKeyHashes []string
}

func (a *Application) hashes(f Flow) []string {
	switch f {
	case FlowServer:
		return a.ServerKeyHashes
	case FlowClient:
		return a.ClientKeyHashes
	default:
		return nil
	}
}

// Repository provides application lookup by name.
type Repository interface {
	FindByName(ctx context.Context, name string) (*Application, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, the form in which
// application secrets are stored.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator resolves the tenant of a request from an application name
// and secret.
type Authenticator struct {
	apps   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator with the given application
// repository and HMAC pepper.
func NewAuthenticator(apps Repository, pepper []byte) *Authenticator {
	return &Authenticator{apps: apps, pepper: pepper}
}

// Authenticate returns the application named name if secret matches one of
// its keys for the flow. Every stored hash is compared in constant time.
func (a *Authenticator) Authenticate(ctx context.Context, name, secret string, flow Flow) (*Application, error) {
	if name == "" || secret == "" {
		return nil, ErrUnauthorized
	}

	app, err := a.apps.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrApplicationNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find application")
	}

	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(secret))
	sum := mac.Sum(nil)

	match := 0
	for _, stored := range app.hashes(flow) {
		storedBytes, err := hex.DecodeString(stored)
		if err != nil {
			continue
		}
		match |= subtle.ConstantTimeCompare(sum, storedBytes)
	}
	if match != 1 {
		return nil, ErrUnauthorized
	}

	return app, nil
}

type applicationKey struct{}

// WithApplication returns a copy of ctx carrying app.
func WithApplication(ctx context.Context, app *Application) context.Context {
	return context.WithValue(ctx, applicationKey{}, app)
}

// ApplicationFromContext returns the application stored by WithApplication.
func ApplicationFromContext(ctx context.Context) (*Application, bool) {
	app, ok := ctx.Value(applicationKey{}).(*Application)
	return app, ok
}
