package storage

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
)

const minPasswordLength = 8

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileUpdate changes a user's name and email. NewPassword is optional and
// requires OldPassword to match the stored one.
type ProfileUpdate struct {
	UserID      int64  `json:"-"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *LibraryStorage) RegisterUser(ctx context.Context, in RegisterInput) (*User, error) {
	name, email, err := normalizeIdentity(in.Name, in.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &repository.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         int(auth.RoleUser),
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: name or email is taken", ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return userFromRepo(user), nil
}

// Authenticate checks a password against the user found by email or name.
func (s *LibraryStorage) Authenticate(ctx context.Context, login, password string) (*User, error) {
	user, err := s.users.GetByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return userFromRepo(user), nil
}

func (s *LibraryStorage) GetUser(ctx context.Context, id int64) (*User, error) {
	if err := requireSelf(ctx, id); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return userFromRepo(user), nil
}

func (s *LibraryStorage) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*User, error) {
	if err := requireSelf(ctx, upd.UserID); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, upd.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, upd.UserID)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	name, email, err := normalizeIdentity(upd.Name, upd.Email)
	if err != nil {
		return nil, err
	}
	user.Name = name
	user.Email = email

	if upd.NewPassword != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(upd.OldPassword)); err != nil {
			return nil, fmt.Errorf("%w: old password does not match", ErrInvalidCredentials)
		}
		if err := ValidatePassword(upd.NewPassword); err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(upd.NewPassword), s.hashCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}

	if err := s.users.Update(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: name or email is taken", ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return userFromRepo(user), nil
}

// EnsureAdmin creates the bootstrap administrator unless a user with that name
// already exists.
func (s *LibraryStorage) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	if name == "" || password == "" {
		return false, nil
	}
	if strings.Contains(name, "@") {
		return false, fmt.Errorf("%w: admin name must not contain '@'", ErrInvalidArgument)
	}

	_, err := s.users.GetByLogin(ctx, name)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repository.ErrObjectNotFound) {
		return false, fmt.Errorf("failed to look up admin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return false, fmt.Errorf("failed to hash admin password: %w", err)
	}
	if email == "" {
		email = name + "@library.local"
	}

	admin := &repository.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         int(auth.RoleAdmin),
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, admin); err != nil {
		if repository.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create admin: %w", err)
	}
	return true, nil
}

// ValidatePassword enforces the account password policy.
func ValidatePassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return ErrWeakPassword
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return ErrWeakPassword
	}
	return nil
}

func normalizeIdentity(name, email string) (string, string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return "", "", fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	// Names and emails share the login namespace; emails always carry '@'.
	if strings.Contains(name, "@") {
		return "", "", fmt.Errorf("%w: name must not contain '@'", ErrInvalidArgument)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", fmt.Errorf("%w: invalid email %q", ErrInvalidArgument, email)
	}
	return name, email, nil
}
