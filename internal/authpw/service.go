// Package authpw verifies editor credentials against bcrypt hashes.
package authpw

import (
	"context"
	"errors"

	"stepform/api/internal/store"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// EditorStore is the slice of storage this service needs.
type EditorStore interface {
	GetEditorByEmail(ctx context.Context, email string) (store.Editor, error)
}

type Service struct {
	store EditorStore
}

func NewService(store EditorStore) *Service {
	return &Service{store: store}
}

// SignIn checks the password against the stored hash. Lookup failures and
// hash mismatches collapse into ErrInvalidCredentials so callers cannot
// distinguish unknown accounts from wrong passwords.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Editor, error) {
	if email == "" || password == "" {
		return store.Editor{}, ErrInvalidCredentials
	}
	editor, err := s.store.GetEditorByEmail(ctx, email)
	if err != nil {
		return store.Editor{}, ErrInvalidCredentials
	}
	if editor.PasswordHash == "" {
		return store.Editor{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(editor.PasswordHash), []byte(password)); err != nil {
		return store.Editor{}, ErrInvalidCredentials
	}
	return editor, nil
}

// HashPassword produces the bcrypt hash stored for an editor.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
