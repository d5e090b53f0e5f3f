package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultIssuer     = "storefront-admin"
	defaultSubject    = "admin"
	defaultSessionTTL = 12 * time.Hour
)

var (
	// ErrAdminUnconfigured indicates no admin password is configured, so nobody can log in.
	ErrAdminUnconfigured = errors.New("auth: admin password not configured")
	// ErrInvalidCredentials indicates the submitted password does not match.
	ErrInvalidCredentials = errors.New("auth: invalid admin credentials")
	// ErrTokenExpired signals that the admin session token has expired.
	ErrTokenExpired = errors.New("auth: admin token expired")
	// ErrTokenInvalid signals a malformed, tampered or foreign token.
	ErrTokenInvalid = errors.New("auth: admin token invalid")
)

// AdminSession is the outcome of a successful login.
type AdminSession struct {
	Token     string
	ExpiresAt time.Time
}

// AdminGate guards the admin dashboard behind a shared password. A successful login yields a
// short-lived HS256 token that the bearer middleware verifies on every admin request.
type AdminGate struct {
	password []byte
	secret   []byte
	ttl      time.Duration
	issuer   string
	clock    func() time.Time
}

// Option customises AdminGate behaviour.
type Option func(*AdminGate)

// WithSessionTTL overrides how long issued tokens remain valid.
func WithSessionTTL(ttl time.Duration) Option {
	return func(g *AdminGate) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithIssuer overrides the iss claim written to and required from tokens.
func WithIssuer(issuer string) Option {
	return func(g *AdminGate) {
		if trimmed := strings.TrimSpace(issuer); trimmed != "" {
			g.issuer = trimmed
		}
	}
}

// WithClock injects the time source used for issuing and validating tokens.
func WithClock(clock func() time.Time) Option {
	return func(g *AdminGate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewAdminGate constructs the gate. An empty password is accepted so the server can start; every
// login then fails with ErrAdminUnconfigured. The signing secret is mandatory.
func NewAdminGate(password, secret string, opts ...Option) (*AdminGate, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: admin token secret is required")
	}
	g := &AdminGate{
		password: []byte(password),
		secret:   []byte(secret),
		ttl:      defaultSessionTTL,
		issuer:   defaultIssuer,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Login checks the password and issues a session token.
func (g *AdminGate) Login(password string) (AdminSession, error) {
	if g == nil || len(g.password) == 0 {
		return AdminSession{}, ErrAdminUnconfigured
	}
	if !passwordMatches(g.password, []byte(password)) {
		return AdminSession{}, ErrInvalidCredentials
	}

	now := g.clock().UTC()
	expires := now.Add(g.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    g.issuer,
		Subject:   defaultSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return AdminSession{}, fmt.Errorf("auth: sign admin token: %w", err)
	}
	return AdminSession{Token: signed, ExpiresAt: expires}, nil
}

// Verify validates the token signature, issuer and lifetime and returns its subject.
func (g *AdminGate) Verify(token string) (string, error) {
	if g == nil {
		return "", ErrTokenInvalid
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrTokenInvalid
	}

	// jwt/v4 validates time claims against its package-level TimeFunc, so lifetime is checked here
	// against the injected clock instead.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := g.clock()
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
		return "", ErrTokenExpired
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return "", ErrTokenInvalid
	}
	if claims.Issuer != g.issuer || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}

// passwordMatches compares digests so the comparison time does not depend on the candidate length.
func passwordMatches(expected, candidate []byte) bool {
	a := sha256.Sum256(expected)
	b := sha256.Sum256(candidate)
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
