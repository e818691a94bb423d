package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chadiek/prescreen/internal/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SignUpLoginLogout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u, err := s.SignUp(ctx, " Pat@Example.com", "secret1", "Pat")
	require.NoError(t, err)
	assert.Equal(t, "pat@example.com", u.Email)
	assert.NotEmpty(t, u.ID)

	cur, ok, err := s.CurrentUser(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, u, cur)

	_, err = s.SignUp(ctx, "pat@example.com", "another1", "")
	assert.ErrorIs(t, err, records.ErrEmailTaken)

	require.NoError(t, s.Logout(ctx))
	_, ok, err = s.CurrentUser(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Login(ctx, "pat@example.com", "wrong-pass")
	assert.ErrorIs(t, err, records.ErrInvalidCredentials)
	_, err = s.Login(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, records.ErrInvalidCredentials)

	again, err := s.Login(ctx, "PAT@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	_, ok, _ = s.CurrentUser(ctx)
	assert.True(t, ok)
}

func TestSQLiteStore_SignUpValidates(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SignUp(context.Background(), "not-an-email", "secret1", "")
	assert.ErrorIs(t, err, records.ErrInvalidEmail)
	_, err = s.SignUp(context.Background(), "pat@example.com", "123", "")
	assert.ErrorIs(t, err, records.ErrWeakPassword)
}

func TestSQLiteStore_RecordsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	clock := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	first, err := s.Save(ctx, records.Record{UserID: "u1", Type: "cardiac", Clinic: "Cardiology Clinic",
		FormData: map[string]any{"smoker": "no"}})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, records.AppointmentTimeTBD, first.AppointmentTime)
	assert.Equal(t, "2025-05-01", first.AppointmentDate)

	second, err := s.Save(ctx, records.Record{UserID: "u1", Type: "cardiac-voice", VoiceSessionID: "s-1",
		ConversationHistory: []records.Turn{{Question: "Q1", Answer: "A1"}}})
	require.NoError(t, err)
	_, err = s.Save(ctx, records.Record{UserID: "u2", Type: "dental"})
	require.NoError(t, err)

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.Equal(t, []records.Turn{{Question: "Q1", Answer: "A1"}}, list[0].ConversationHistory)
	assert.Equal(t, "no", list[1].FormData["smoker"])
	assert.True(t, second.SubmittedAt.Equal(list[0].SubmittedAt))

	require.NoError(t, s.Delete(ctx, "u1", first.ID))
	assert.ErrorIs(t, s.Delete(ctx, "u1", first.ID), records.ErrNotFound)
	list, err = s.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteStore_SaveRequiresUser(t *testing.T) {
	_, err := newTestStore(t).Save(context.Background(), records.Record{Type: "cardiac"})
	assert.ErrorIs(t, err, records.ErrNotLoggedIn)
}

func TestSQLiteStore_DeleteOtherUsersRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r, err := s.Save(ctx, records.Record{UserID: "u1", Type: "dental"})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Delete(ctx, "u2", r.ID), records.ErrNotFound)
}
