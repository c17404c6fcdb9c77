package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAnchorDate(t *testing.T) {
	buenosAires, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	require.NoError(t, err)

	tests := []struct {
		name      string
		now       time.Time
		anchorDay int
		loc       *time.Location
		want      time.Time
	}{
		{
			name:      "anchor already passed rolls to next month",
			now:       time.Date(2024, 3, 15, 10, 30, 0, 0, buenosAires),
			anchorDay: 10,
			loc:       buenosAires,
			want:      time.Date(2024, 4, 10, 0, 0, 0, 0, buenosAires),
		},
		{
			name:      "anchor still ahead this month",
			now:       time.Date(2024, 3, 5, 23, 59, 0, 0, buenosAires),
			anchorDay: 10,
			loc:       buenosAires,
			want:      time.Date(2024, 3, 10, 0, 0, 0, 0, buenosAires),
		},
		{
			name:      "anchor day is today",
			now:       time.Date(2024, 3, 10, 15, 0, 0, 0, buenosAires),
			anchorDay: 10,
			loc:       buenosAires,
			want:      time.Date(2024, 3, 10, 0, 0, 0, 0, buenosAires),
		},
		{
			name:      "december rolls into january",
			now:       time.Date(2024, 12, 20, 8, 0, 0, 0, buenosAires),
			anchorDay: 10,
			loc:       buenosAires,
			want:      time.Date(2025, 1, 10, 0, 0, 0, 0, buenosAires),
		},
		{
			name:      "clamps to leap february end",
			now:       time.Date(2024, 2, 1, 0, 0, 0, 0, buenosAires),
			anchorDay: 31,
			loc:       buenosAires,
			want:      time.Date(2024, 2, 29, 0, 0, 0, 0, buenosAires),
		},
		{
			name:      "clamps to non-leap february end",
			now:       time.Date(2023, 2, 1, 0, 0, 0, 0, buenosAires),
			anchorDay: 30,
			loc:       buenosAires,
			want:      time.Date(2023, 2, 28, 0, 0, 0, 0, buenosAires),
		},
		{
			name:      "rolled month clamps too",
			now:       time.Date(2024, 1, 31, 12, 0, 0, 0, buenosAires),
			anchorDay: 30,
			loc:       buenosAires,
			want:      time.Date(2024, 2, 29, 0, 0, 0, 0, buenosAires),
		},
		{
			name:      "utc instant converts to tenant calendar first",
			now:       time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC), // still March 10 in Buenos Aires
			anchorDay: 10,
			loc:       buenosAires,
			want:      time.Date(2024, 3, 10, 0, 0, 0, 0, buenosAires),
		},
		{
			name:      "nil location falls back to utc",
			now:       time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
			anchorDay: 10,
			loc:       nil,
			want:      time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextAnchorDate(tt.now, tt.anchorDay, tt.loc)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)

			// The anchor never lands before the local calendar date of now.
			resolved := tt.loc
			if resolved == nil {
				resolved = time.UTC
			}
			local := tt.now.In(resolved)
			startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, resolved)
			assert.False(t, got.Before(startOfDay))
		})
	}
}

func TestValidAnchorDay(t *testing.T) {
	assert.False(t, ValidAnchorDay(0))
	assert.True(t, ValidAnchorDay(1))
	assert.True(t, ValidAnchorDay(28))
	assert.False(t, ValidAnchorDay(29))
}
