// Package authpw implements email/password identity management: account
// registration and credential verification.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"vakil/api/internal/store"
)

var (
	// ErrDuplicateEmail is returned when the email is already registered.
	// Comparison is case-insensitive.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidCredentials is returned for both an unknown email and a
	// wrong password, with no way to distinguish the two.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError reports rejected registration input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// UserStore defines the storage interface for identity management
type UserStore interface {
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// Register creates a new account. Uniqueness is enforced by the store,
// so two concurrent registrations of the same email cannot both win.
func (s *Service) Register(ctx context.Context, email, password, name string) (store.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)

	if err := validateEmail(email); err != nil {
		return store.User{}, err
	}
	if len(name) < 2 {
		return store.User{}, &ValidationError{Field: "name", Reason: "must be at least 2 characters"}
	}
	if len(password) < 6 {
		return store.User{}, &ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return store.User{}, ErrDuplicateEmail
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate verifies an email/password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (store.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// VerifyPassword re-checks the caller's password against an already
// resolved account. Used for destructive operations like account removal.
func (s *Service) VerifyPassword(user store.User, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func validateEmail(email string) error {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || !strings.Contains(email[at:], ".") {
		return &ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	return nil
}
