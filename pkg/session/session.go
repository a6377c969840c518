package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for a token that cannot be parsed
var ErrInvalidToken = errors.New("invalid session token")

// Result is the outcome of session initialization
type Result struct {
	Authenticated               bool
	SwitchedContextWithDataLoad bool

	// UserID is the token subject
	UserID string
	// Scope is the guild the session is bound to, if any
	Scope     string
	Token     string
	ExpiresAt time.Time
}

// Provider initializes the user session
type Provider interface {
	Initialize(ctx context.Context) (Result, error)
}

// Static always returns the same result
type Static Result

// Initialize returns the static result
func (s Static) Initialize(ctx context.Context) (Result, error) {
	return Result(s), ctx.Err()
}

// JWTProvider derives the session from a bearer token without verifying its
// signature; the bus and snapshot service verify it on every request
type JWTProvider struct {
	token    string
	switched bool
	now      func() time.Time
}

// JWTOption configures a JWTProvider
type JWTOption func(*JWTProvider)

// WithSwitchedContext marks sessions that arrive with data already loaded
func WithSwitchedContext(switched bool) JWTOption {
	return func(p *JWTProvider) {
		p.switched = switched
	}
}

// WithNow replaces the clock used for expiry checks
func WithNow(now func() time.Time) JWTOption {
	return func(p *JWTProvider) {
		p.now = now
	}
}

// NewJWTProvider creates a provider for token
func NewJWTProvider(token string, opts ...JWTOption) *JWTProvider {
	p := &JWTProvider{token: token, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize parses the token. An empty or expired token yields an
// unauthenticated result; a malformed token is an error.
func (p *JWTProvider) Initialize(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if p.token == "" {
		return Result{}, nil
	}

	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(p.token, gojwt.MapClaims{})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims := token.Claims.(gojwt.MapClaims)

	result := Result{Token: p.token}
	if sub, err := claims.GetSubject(); err == nil {
		result.UserID = sub
	}
	if scope, ok := claims["guild_id"].(string); ok {
		result.Scope = scope
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		result.ExpiresAt = exp.Time
		if !p.now().Before(exp.Time) {
			return result, nil
		}
	}

	result.Authenticated = true
	result.SwitchedContextWithDataLoad = p.switched
	return result, nil
}
