package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateCredentials(t *testing.T) {
	cases := []struct {
		email, password string
		want            error
	}{
		{"pat@example.com", "secret1", nil},
		{"  pat@example.com ", "secret1", nil},
		{"pat", "secret1", ErrInvalidEmail},
		{"pat@localhost", "secret1", ErrInvalidEmail},
		{"Pat <pat@example.com>", "secret1", ErrInvalidEmail},
		{"", "secret1", ErrInvalidEmail},
		{"pat@example.com", "12345", ErrWeakPassword},
		{"pat@example.com", "123456", nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ValidateCredentials(tc.email, tc.password), "%q/%q", tc.email, tc.password)
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "pat@example.com", NormalizeEmail(" Pat@Example.COM "))
}

func TestStamp(t *testing.T) {
	now := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)
	r := Stamp(Record{Type: "cardiac"}, now)
	assert.Equal(t, now, r.SubmittedAt)
	assert.Equal(t, "2025-03-04", r.AppointmentDate)
	assert.Equal(t, AppointmentTimeTBD, r.AppointmentTime)

	kept := Stamp(Record{AppointmentDate: "2025-01-01", AppointmentTime: "09:00"}, now)
	assert.Equal(t, "2025-01-01", kept.AppointmentDate)
	assert.Equal(t, "09:00", kept.AppointmentTime)
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := []Record{
		{ID: "old", SubmittedAt: base},
		{ID: "new", SubmittedAt: base.Add(2 * time.Hour)},
		{ID: "mid", SubmittedAt: base.Add(time.Hour)},
	}
	SortNewestFirst(rs)
	assert.Equal(t, "new", rs[0].ID)
	assert.Equal(t, "mid", rs[1].ID)
	assert.Equal(t, "old", rs[2].ID)
}
