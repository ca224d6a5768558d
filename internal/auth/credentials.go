package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paklaw.com/paklaw-assist/internal/store"
)

var (
	ErrDuplicateEmail     = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidInput       = errors.New("invalid registration")
)

// UserStore is the credential table.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	CreateUser(ctx context.Context, username, email, passwordHash string) (*store.User, error)
}

type RegisterRequest struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Service verifies claimed identities against bcrypt hashes.
type Service struct {
	users UserStore
}

func NewService(users UserStore) *Service {
	return &Service{users: users}
}

// NormalizeEmail is the canonical lookup form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	username := strings.TrimSpace(req.Username)
	email := NormalizeEmail(req.Email)

	if username == "" || email == "" || req.Password == "" || req.ConfirmPassword == "" {
		return fmt.Errorf("%w: please fill in all fields", ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return fmt.Errorf("%w: email address is not valid", ErrInvalidInput)
	}
	if req.Password != req.ConfirmPassword {
		return fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return ErrDuplicateEmail
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if _, err := s.users.CreateUser(ctx, username, email, hash); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Authenticate returns the user for a matching email and password, or
// ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
