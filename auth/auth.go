/*
Package auth handles accounts, bearer sessions and the client-side
signed-in state.

SERVER SIDE (Service):
  SignUp/SignIn check credentials against a UserStore and mint a random
  bearer token. Authenticate resolves a token to a user id; tokens older
  than SessionTTL are rejected even before the sweeper removes them.
  Passwords are stored as bcrypt hashes.

CLIENT SIDE (State):
  Holds the current session, persists it under quote.KeySession and
  notifies subscribers on sign-in and sign-out. It implements
  quote.Identity and quote.AuthSubscriber.

SEE ALSO:
  - store/sqlite/sqlite.go: UserStore implementation
  - api/handlers.go: /api/auth routes
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/quotebook/quote"
	"github.com/warp/quotebook/store/sqlite"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password SignUp accepts.
const MinPasswordLength = 6

var (
	// ErrInvalidCredentials is returned for an unknown e-mail or wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned by SignUp when the e-mail is registered.
	ErrEmailTaken = sqlite.ErrEmailTaken
)

// Session is an authenticated bearer token.
type Session struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// UserStore persists users and sessions.
type UserStore interface {
	SaveUser(ctx context.Context, u sqlite.User) error
	GetUserByEmail(ctx context.Context, email string) (*sqlite.User, error)
	SaveSessionAt(ctx context.Context, token, userID string, createdAt time.Time) error
	SessionUser(ctx context.Context, token string, notBefore time.Time) (string, error)
	DeleteSession(ctx context.Context, token string) error
}

// =============================================================================
// PASSWORDS
// =============================================================================

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidateCredentials checks e-mail syntax and password length.
func ValidateCredentials(email, password string) error {
	var fields []quote.FieldError
	if _, err := mail.ParseAddress(email); err != nil {
		fields = append(fields, quote.FieldError{Field: "email", Message: "invalid e-mail address"})
	}
	if len(password) < MinPasswordLength {
		fields = append(fields, quote.FieldError{
			Field:   "password",
			Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength),
		})
	}
	if len(fields) > 0 {
		return &quote.ValidationError{Fields: fields}
	}
	return nil
}

// =============================================================================
// SERVICE
// =============================================================================

// DefaultSessionTTL is how long a bearer token stays valid.
const DefaultSessionTTL = 30 * 24 * time.Hour

// Service issues and checks sessions.
type Service struct {
	SessionTTL time.Duration

	users UserStore
	now   func() time.Time
}

func NewService(users UserStore) *Service {
	return &Service{SessionTTL: DefaultSessionTTL, users: users, now: time.Now}
}

// SignUp registers a user and opens a session.
func (s *Service) SignUp(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if err := ValidateCredentials(email, password); err != nil {
		return Session{}, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	u := sqlite.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.users.SaveUser(ctx, u); err != nil {
		return Session{}, err
	}
	return s.open(ctx, u.ID, u.Email)
}

// SignIn checks credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	u, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, quote.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	return s.open(ctx, u.ID, u.Email)
}

// SignOut revokes token. Unknown tokens are ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.users.DeleteSession(ctx, token)
}

// Authenticate resolves a bearer token to its user id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", quote.ErrUnauthorized
	}
	return s.users.SessionUser(ctx, token, s.now().Add(-s.SessionTTL))
}

func (s *Service) open(ctx context.Context, userID, email string) (Session, error) {
	token := uuid.NewString()
	if err := s.users.SaveSessionAt(ctx, token, userID, s.now()); err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: userID, Email: email}, nil
}
