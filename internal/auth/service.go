package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode"

	"inkwell.org/internal/apierr"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)

// Service implements account registration, login and administration on
// top of a UserStore and a TokenAuthenticator.
type Service struct {
	users  UserStore
	tokens *TokenAuthenticator
	creds  *CredentialVerifier
}

func NewService(users UserStore, tokens *TokenAuthenticator) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		creds:  NewCredentialVerifier(users),
	}
}

// Tokens exposes the authenticator for transports that verify bearer tokens.
func (s *Service) Tokens() *TokenAuthenticator { return s.tokens }

// RegisterInput is the registration payload. ID may be preassigned so the
// caller can key the audit entry before the row exists.
type RegisterInput struct {
	ID        string `json:"-"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Session is returned by Register and Login.
type Session struct {
	User      *Identity `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	details := map[string]any{}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		details["email"] = "Invalid email format"
	}
	username := strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(username) {
		details["username"] = "Username must be 3-30 letters, numbers, underscores or hyphens"
	}
	if msg := checkPassword(in.Password); msg != "" {
		details["password"] = msg
	}
	if len(in.FirstName) > 50 || len(in.LastName) > 50 {
		details["name"] = "Names must be at most 50 characters"
	}
	if len(details) > 0 {
		return nil, apierr.InvalidInput("Validation failed", details)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	identity := &Identity{
		ID:           in.ID,
		Email:        email,
		Username:     username,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         RoleReader,
		IsActive:     true,
		PasswordHash: hash,
	}
	if err := s.users.CreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, apierr.Conflict("User with this email or username already exists")
		}
		return nil, apierr.Internal(fmt.Errorf("create identity: %w", err))
	}
	return s.session(identity)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apierr.InvalidInput("Validation failed", map[string]any{
			"credentials": "Email and password are required",
		})
	}
	identity, err := s.creds.Verify(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.session(identity)
}

func (s *Service) session(identity *Identity) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(identity.ID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return &Session{User: identity, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*Identity, error) {
	identity, err := s.users.FindIdentityByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, storeErr(err)
	}
	return identity, nil
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]Identity, int, error) {
	list, total, err := s.users.ListIdentities(ctx, limit, offset)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	return list, total, nil
}

// UpdateUser validates and applies upd, returning the row before and after.
func (s *Service) UpdateUser(ctx context.Context, id string, upd IdentityUpdate) (before, after *Identity, err error) {
	if upd.Empty() {
		return nil, nil, apierr.InvalidInput("No fields to update", nil)
	}
	if upd.Username != nil {
		u := strings.TrimSpace(*upd.Username)
		if !usernamePattern.MatchString(u) {
			return nil, nil, apierr.InvalidInput("Validation failed", map[string]any{
				"username": "Username must be 3-30 letters, numbers, underscores or hyphens",
			})
		}
		upd.Username = &u
	}
	if upd.Role != nil && !upd.Role.Valid() {
		return nil, nil, apierr.InvalidInput("Validation failed", map[string]any{"role": "Unsupported role"})
	}
	before, err = s.users.FindIdentityByID(ctx, id)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	after, err = s.users.UpdateIdentity(ctx, id, upd)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	return before, after, nil
}

// DeleteUser removes the account and returns what was deleted.
func (s *Service) DeleteUser(ctx context.Context, id string) (*Identity, error) {
	before, err := s.users.FindIdentityByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := s.users.DeleteIdentity(ctx, id); err != nil {
		return nil, storeErr(err)
	}
	return before, nil
}

func storeErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apierr.NotFound("User")
	case errors.Is(err, ErrConflict):
		return apierr.Conflict("Username already exists")
	case errors.Is(err, ErrInvalidInput):
		return apierr.InvalidInput(err.Error(), nil)
	default:
		return apierr.Internal(err)
	}
}

func checkPassword(pw string) string {
	if len(pw) < 8 || len(pw) > 128 {
		return "Password must be between 8 and 128 characters"
	}
	var lower, upper, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune("@$!%*?&", r):
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return "Password must contain an uppercase letter, a lowercase letter, a number and one of @$!%*?&"
	}
	return ""
}
