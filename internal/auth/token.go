package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"inkwell.org/internal/apierr"
)

const (
	defaultIssuer   = "inkwell"
	defaultTokenTTL = 7 * 24 * time.Hour
	minSecretLength = 32
)

var (
	errIdentityInactive = errors.New("identity is inactive")
	errSubjectMissing   = errors.New("subject missing")
)

// Claims carries the identity id as both sub and userId.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// TokenAuthenticator issues stateless HS256 tokens and verifies them
// against the live identity store.
type TokenAuthenticator struct {
	secret     []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
	identities IdentityStore

	retries int
	backoff time.Duration
}

// TokenOption configures TokenAuthenticator behavior.
type TokenOption func(*TokenAuthenticator) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(a *TokenAuthenticator) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			a.issuer = issuer
		}
		return nil
	}
}

// WithTokenTTL configures token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(a *TokenAuthenticator) error {
		if ttl <= 0 {
			return errors.New("auth: token ttl must be positive")
		}
		a.ttl = ttl
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(a *TokenAuthenticator) error {
		if fn != nil {
			a.now = fn
		}
		return nil
	}
}

// WithLookupRetry retries transient identity lookups up to n extra times,
// sleeping backoff*attempt between tries.
func WithLookupRetry(n int, backoff time.Duration) TokenOption {
	return func(a *TokenAuthenticator) error {
		if n < 0 {
			return errors.New("auth: lookup retries must not be negative")
		}
		a.retries = n
		a.backoff = backoff
		return nil
	}
}

// NewTokenAuthenticator builds an authenticator bound to one signing secret.
func NewTokenAuthenticator(secret string, identities IdentityStore, opts ...TokenOption) (*TokenAuthenticator, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: signing secret must be at least %d bytes", minSecretLength)
	}
	if identities == nil {
		return nil, errors.New("auth: identity store is required")
	}
	a := &TokenAuthenticator{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		ttl:        defaultTokenTTL,
		now:        time.Now,
		identities: identities,
		retries:    2,
		backoff:    50 * time.Millisecond,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Issue signs a token for identityID. It is a pure function of the id,
// the clock and the secret.
func (a *TokenAuthenticator) Issue(identityID string) (string, time.Time, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return "", time.Time{}, fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	now := a.now().UTC()
	expiresAt := now.Add(a.ttl)
	claims := Claims{
		UserID: identityID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify resolves a bearer token to an active identity. Every failure is
// the same Authentication error; the cause is kept for logs only.
func (a *TokenAuthenticator) Verify(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apierr.Authentication(errors.New("token missing"))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, apierr.Authentication(err)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		subject = strings.TrimSpace(claims.UserID)
	}
	if subject == "" {
		return nil, apierr.Authentication(errSubjectMissing)
	}

	identity, err := a.lookup(ctx, subject)
	if err != nil {
		return nil, apierr.Authentication(fmt.Errorf("lookup %s: %w", subject, err))
	}
	if !identity.IsActive {
		return nil, apierr.Authentication(errIdentityInactive)
	}
	return identity, nil
}

func (a *TokenAuthenticator) lookup(ctx context.Context, id string) (*Identity, error) {
	for attempt := 0; ; attempt++ {
		identity, err := a.identities.FindIdentityByID(ctx, id)
		if err == nil {
			return identity, nil
		}
		if attempt >= a.retries || !isTransient(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(err, ctx.Err())
		case <-time.After(a.backoff * time.Duration(attempt+1)):
		}
	}
}

type temporary interface {
	Temporary() bool
}

func isTransient(err error) bool {
	var t temporary
	if errors.As(err, &t) && t.Temporary() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
