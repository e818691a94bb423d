package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/prescreen/internal/records"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

// RecordsTable is the PostgREST table holding questionnaire records.
const RecordsTable = "questionnaires"

// SupabaseConfig configures the hosted store.
type SupabaseConfig struct {
	URL string
	Key string
	// Bucket receives archived session transcripts; empty disables archiving.
	Bucket string
}

// SupabaseStore keeps accounts in Supabase Auth and records in a PostgREST table.
// The signed-in session lives only for the process lifetime.
type SupabaseStore struct {
	client *supabase.Client
	bucket string
	now    func() time.Time

	mu   sync.Mutex
	user *records.User
}

// NewSupabaseStore builds a client for the project at cfg.URL.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_KEY required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.Key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseStore{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// SignUp registers an account with Supabase Auth.
func (s *SupabaseStore) SignUp(_ context.Context, email, password, name string) (records.User, error) {
	if err := records.ValidateCredentials(email, password); err != nil {
		return records.User{}, err
	}
	email = records.NormalizeEmail(email)
	resp, err := s.client.Auth.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]interface{}{"name": strings.TrimSpace(name)},
	})
	if err != nil {
		return records.User{}, authError(err, records.ErrEmailTaken)
	}
	u := records.User{ID: resp.User.ID.String(), Email: email, Name: strings.TrimSpace(name)}
	if resp.AccessToken != "" {
		if _, err := s.client.SignInWithEmailPassword(email, password); err != nil {
			log.Warn().Err(err).Str("user_id", u.ID).Msg("supabase sign-in after signup failed")
		}
	}
	s.setUser(&u)
	return u, nil
}

// Login signs in with email and password.
func (s *SupabaseStore) Login(_ context.Context, email, password string) (records.User, error) {
	email = records.NormalizeEmail(email)
	session, err := s.client.SignInWithEmailPassword(email, password)
	if err != nil {
		return records.User{}, authError(err, records.ErrInvalidCredentials)
	}
	u := records.User{ID: session.User.ID.String(), Email: session.User.Email}
	if name, ok := session.User.UserMetadata["name"].(string); ok {
		u.Name = name
	}
	s.setUser(&u)
	return u, nil
}

// Logout ends the Supabase session.
func (s *SupabaseStore) Logout(_ context.Context) error {
	s.mu.Lock()
	signedIn := s.user != nil
	s.user = nil
	s.mu.Unlock()
	if !signedIn {
		return nil
	}
	if err := s.client.Auth.Logout(); err != nil {
		return fmt.Errorf("supabase logout: %w", err)
	}
	return nil
}

// CurrentUser returns the user signed in during this process.
func (s *SupabaseStore) CurrentUser(_ context.Context) (records.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return records.User{}, false, nil
	}
	return *s.user, true, nil
}

// List returns the user's records, newest first.
func (s *SupabaseStore) List(_ context.Context, userID string) ([]records.Record, error) {
	var rows []records.Record
	_, err := s.client.From(RecordsTable).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("submitted_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	records.SortNewestFirst(rows)
	return rows, nil
}

// Save inserts the record.
func (s *SupabaseStore) Save(_ context.Context, r records.Record) (records.Record, error) {
	if r.UserID == "" {
		return records.Record{}, records.ErrNotLoggedIn
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r = records.Stamp(r, s.now())
	if _, _, err := s.client.From(RecordsTable).Insert(r, false, "", "", "").Execute(); err != nil {
		return records.Record{}, fmt.Errorf("save record: %w", err)
	}
	return r, nil
}

// Delete removes one of the user's records.
func (s *SupabaseStore) Delete(_ context.Context, userID, recordID string) error {
	var gone []records.Record
	_, err := s.client.From(RecordsTable).
		Delete("representation", "").
		Eq("id", recordID).
		Eq("user_id", userID).
		ExecuteTo(&gone)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if len(gone) == 0 {
		return records.ErrNotFound
	}
	return nil
}

// ArchiveTranscript uploads a finished session transcript to the storage bucket.
func (s *SupabaseStore) ArchiveTranscript(_ context.Context, key string, data []byte) error {
	if s.bucket == "" {
		return nil
	}
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return nil
}

func (s *SupabaseStore) setUser(u *records.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

// authError maps a Supabase Auth failure onto a records sentinel where the message is recognizable.
func authError(err error, fallback error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already registered"), strings.Contains(msg, "already exists"):
		return records.ErrEmailTaken
	case strings.Contains(msg, "invalid login credentials"), strings.Contains(msg, "invalid_grant"):
		return records.ErrInvalidCredentials
	case strings.Contains(msg, "password should be"):
		return records.ErrWeakPassword
	}
	if fallback == records.ErrInvalidCredentials {
		return fmt.Errorf("%w: %v", fallback, err)
	}
	return fmt.Errorf("supabase auth: %w", err)
}
