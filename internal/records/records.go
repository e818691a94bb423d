// Package records defines questionnaire records and the persistence capability behind them.
package records

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
)

// AppointmentTimeTBD is the placeholder time stored on every new record.
const AppointmentTimeTBD = "TBD"

// MinPasswordLength is the shortest password accepted at sign-up.
const MinPasswordLength = 6

var (
	ErrInvalidEmail       = errors.New("please enter a valid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrNotFound           = errors.New("record not found")
)

// User is an authenticated account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Turn is one question and answer kept on a conversation record.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Record is one submitted questionnaire. A record carries either FormData (written
// form) or ConversationHistory (voice flow).
type Record struct {
	ID                  string         `json:"id"`
	UserID              string         `json:"user_id"`
	Type                string         `json:"type"`
	Clinic              string         `json:"clinic"`
	AppointmentDate     string         `json:"appointment_date"`
	AppointmentTime     string         `json:"appointment_time"`
	VoiceSessionID      string         `json:"voice_session_id,omitempty"`
	FormType            string         `json:"form_type,omitempty"`
	FormData            map[string]any `json:"form_data,omitempty"`
	ConversationHistory []Turn         `json:"conversation_history,omitempty"`
	SubmittedAt         time.Time      `json:"submitted_at"`
}

// Store is the persistence capability: account actions plus record CRUD for the
// current user.
type Store interface {
	SignUp(ctx context.Context, email, password, name string) (User, error)
	Login(ctx context.Context, email, password string) (User, error)
	Logout(ctx context.Context) error
	// CurrentUser returns the restored session, if any.
	CurrentUser(ctx context.Context) (User, bool, error)
	// List returns the user's records, newest first.
	List(ctx context.Context, userID string) ([]Record, error)
	Save(ctx context.Context, r Record) (Record, error)
	Delete(ctx context.Context, userID, recordID string) error
}

// ValidateCredentials checks an email and password before they reach a store.
func ValidateCredentials(email, password string) error {
	if !ValidEmail(email) {
		return ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// ValidEmail reports whether s is a bare address such as a@b.co.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Stamp fills the submission timestamp and appointment placeholders when unset.
func Stamp(r Record, now time.Time) Record {
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = now.UTC()
	}
	if r.AppointmentDate == "" {
		r.AppointmentDate = r.SubmittedAt.Format("2006-01-02")
	}
	if r.AppointmentTime == "" {
		r.AppointmentTime = AppointmentTimeTBD
	}
	return r
}

// SortNewestFirst orders records by submission time, newest first.
func SortNewestFirst(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].SubmittedAt.After(rs[j].SubmittedAt) })
}
