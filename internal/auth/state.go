// Package auth holds the signed-in user for the lifetime of the process.
package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/chadiek/prescreen/internal/records"
	"github.com/rs/zerolog/log"
)

// Identity is the read-only view of the current user handed to use cases and handlers.
type Identity interface {
	UserID() (string, bool)
}

// Accounts is the subset of records.Store that manages sign-in.
type Accounts interface {
	SignUp(ctx context.Context, email, password, name string) (records.User, error)
	Login(ctx context.Context, email, password string) (records.User, error)
	Logout(ctx context.Context) error
	CurrentUser(ctx context.Context) (records.User, bool, error)
}

// State is the process-scoped current user. Call Init once at startup and Logout to tear it down.
type State struct {
	accounts Accounts

	mu   sync.RWMutex
	user *records.User
}

// NewState returns a signed-out state backed by accounts.
func NewState(accounts Accounts) *State {
	return &State{accounts: accounts}
}

// Init restores a persisted session, if the store has one.
func (s *State) Init(ctx context.Context) error {
	u, ok, err := s.accounts.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if ok {
		s.set(&u)
		log.Info().Str("user_id", u.ID).Msg("session restored")
	}
	return nil
}

// SignUp creates an account and signs it in.
func (s *State) SignUp(ctx context.Context, email, password, name string) (records.User, error) {
	if err := records.ValidateCredentials(email, password); err != nil {
		return records.User{}, err
	}
	u, err := s.accounts.SignUp(ctx, email, password, name)
	if err != nil {
		return records.User{}, err
	}
	s.set(&u)
	log.Info().Str("user_id", u.ID).Msg("signed up")
	return u, nil
}

// Login signs in an existing account.
func (s *State) Login(ctx context.Context, email, password string) (records.User, error) {
	if !records.ValidEmail(email) {
		return records.User{}, records.ErrInvalidEmail
	}
	u, err := s.accounts.Login(ctx, email, password)
	if err != nil {
		return records.User{}, err
	}
	s.set(&u)
	log.Info().Str("user_id", u.ID).Msg("logged in")
	return u, nil
}

// Logout clears the current user locally even when the store fails to end its session.
func (s *State) Logout(ctx context.Context) error {
	s.set(nil)
	if err := s.accounts.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// User returns the signed-in user.
func (s *State) User() (records.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return records.User{}, false
	}
	return *s.user, true
}

// UserID implements Identity.
func (s *State) UserID() (string, bool) {
	u, ok := s.User()
	return u.ID, ok
}

func (s *State) set(u *records.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}
