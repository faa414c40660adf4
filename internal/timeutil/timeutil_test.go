package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"2h", 2 * time.Hour, false},
		{"14d", 14 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"0m", 0, false},
		{" 3d ", 3 * 24 * time.Hour, false},
		{"", 0, true},
		{"-5m", 0, true},
		{"5", 0, true},
		{"5y", 0, true},
		{"m5", 0, true},
		{"1.5h", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2025-06-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate("2025-06-15T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC), got)

	got, err = ParseDate("2025-06-15T10:30:00")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Hour())

	_, err = ParseDate("June 15th")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	got, err := ParseSince("7d", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-7*24*time.Hour), got)

	got, err = ParseSince("2025-06-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseSince("whenever", now)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}
