package domain

import (
	"testing"
	"time"

	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buenosAires(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	require.NoError(t, err)
	return loc
}

func pendingAttempt(no int, scheduledFor time.Time) chargedomain.Attempt {
	return chargedomain.Attempt{
		AttemptNo:    no,
		Status:       chargedomain.AttemptStatusPending,
		ScheduledFor: &scheduledFor,
	}
}

func unpaidInput(loc *time.Location, anchor, now time.Time) StatusInput {
	return StatusInput{
		Now:              now,
		Location:         loc,
		AnchorDate:       &anchor,
		HasCharge:        true,
		ChargeStatus:     chargedomain.StatusPresented,
		SuspendAfterDays: 15,
	}
}

func TestOverviewMonotonicWithinUnpaidCycle(t *testing.T) {
	loc := buenosAires(t)
	anchor := time.Date(2024, 4, 10, 0, 0, 0, 0, loc)

	tests := []struct {
		name     string
		now      time.Time
		status   OverviewStatus
		pastDue  bool
		suspend  bool
		daysGone int
	}{
		{
			name:     "anchor day itself is not past due",
			now:      time.Date(2024, 4, 10, 18, 0, 0, 0, loc),
			status:   OverviewActive,
			daysGone: 0,
		},
		{
			name:     "past due from the next local midnight",
			now:      time.Date(2024, 4, 11, 0, 0, 0, 0, loc),
			status:   OverviewPastDue,
			pastDue:  true,
			daysGone: 1,
		},
		{
			name:     "still past due one day before the threshold",
			now:      time.Date(2024, 4, 24, 23, 0, 0, 0, loc),
			status:   OverviewPastDue,
			pastDue:  true,
			daysGone: 14,
		},
		{
			name:     "suspended at the threshold",
			now:      time.Date(2024, 4, 25, 0, 30, 0, 0, loc),
			status:   OverviewSuspended,
			pastDue:  true,
			suspend:  true,
			daysGone: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeOverviewStatus(unpaidInput(loc, anchor, tt.now))
			assert.Equal(t, tt.status, got.Status)
			assert.True(t, got.InCollection)
			assert.Equal(t, tt.pastDue, got.IsPastDue)
			assert.Equal(t, tt.suspend, got.IsSuspended)
			assert.Equal(t, tt.daysGone, got.DaysSinceAnchor)
		})
	}
}

func TestOverviewPaidCollapsesToActive(t *testing.T) {
	loc := buenosAires(t)
	anchor := time.Date(2024, 4, 10, 0, 0, 0, 0, loc)
	now := time.Date(2024, 4, 28, 12, 0, 0, 0, loc)

	in := unpaidInput(loc, anchor, now)
	require.Equal(t, OverviewSuspended, ComputeOverviewStatus(in).Status)

	in.ChargeStatus = chargedomain.StatusPaid
	got := ComputeOverviewStatus(in)
	assert.Equal(t, OverviewActive, got.Status)
	assert.False(t, got.InCollection)
	assert.False(t, got.IsPastDue)
	assert.False(t, got.IsSuspended)
	assert.False(t, got.RetriesExhausted)

	// A settled paid_at collapses too, whatever the status column says.
	in.ChargeStatus = chargedomain.StatusPresented
	paidAt := now.Add(-time.Hour)
	in.ChargePaidAt = &paidAt
	assert.Equal(t, OverviewActive, ComputeOverviewStatus(in).Status)
}

func TestOverviewNextAttemptPicksNearestFuture(t *testing.T) {
	loc := buenosAires(t)
	anchor := time.Date(2024, 4, 10, 0, 0, 0, 0, loc)
	first := time.Date(2024, 4, 10, 9, 0, 0, 0, loc)

	in := unpaidInput(loc, anchor, first.AddDate(0, 0, 1))
	in.Attempts = []chargedomain.Attempt{
		pendingAttempt(1, first),
		pendingAttempt(2, first.AddDate(0, 0, 3)),
	}

	got := ComputeOverviewStatus(in)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.Equal(first.AddDate(0, 0, 3)), "got %s", got.NextAttemptAt)
	assert.False(t, got.RetriesExhausted)
}

func TestOverviewRetriesExhausted(t *testing.T) {
	loc := buenosAires(t)
	anchor := time.Date(2024, 4, 10, 0, 0, 0, 0, loc)
	first := time.Date(2024, 4, 10, 9, 0, 0, 0, loc)
	last := first.AddDate(0, 0, 3)

	in := unpaidInput(loc, anchor, first.AddDate(0, 0, 10))
	in.Attempts = []chargedomain.Attempt{
		// Out of order on purpose: the partition sorts by attempt_no.
		pendingAttempt(2, last),
		pendingAttempt(1, first),
	}

	got := ComputeOverviewStatus(in)
	assert.True(t, got.RetriesExhausted)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.Equal(last), "got %s", got.NextAttemptAt)
}

func TestOverviewIgnoresSettledAndUnscheduledAttempts(t *testing.T) {
	loc := buenosAires(t)
	anchor := time.Date(2024, 4, 10, 0, 0, 0, 0, loc)
	now := time.Date(2024, 4, 12, 0, 0, 0, 0, loc)
	future := now.AddDate(0, 0, 2)

	in := unpaidInput(loc, anchor, now)
	in.Attempts = []chargedomain.Attempt{
		{AttemptNo: 1, Status: chargedomain.AttemptStatusRejected, ScheduledFor: &anchor},
		{AttemptNo: 2, Status: chargedomain.AttemptStatusPending}, // never scheduled
		pendingAttempt(3, future),
	}

	got := ComputeOverviewStatus(in)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.Equal(future))
	assert.False(t, got.RetriesExhausted)
}

func TestOverviewWithoutAnchorOrCharge(t *testing.T) {
	loc := buenosAires(t)
	now := time.Date(2024, 4, 20, 12, 0, 0, 0, loc)

	got := ComputeOverviewStatus(StatusInput{Now: now, Location: loc, SuspendAfterDays: 15})
	assert.Equal(t, OverviewActive, got.Status)
	assert.False(t, got.InCollection)

	anchor := time.Date(2024, 4, 10, 0, 0, 0, 0, loc)
	got = ComputeOverviewStatus(StatusInput{
		Now: now, Location: loc, AnchorDate: &anchor, SuspendAfterDays: 15,
	})
	assert.Equal(t, OverviewActive, got.Status, "anchor without charge is not in collection")
	assert.False(t, got.InCollection)
}

func TestOverviewSuspendThresholdFloorsAtOneDay(t *testing.T) {
	loc := buenosAires(t)
	anchor := time.Date(2024, 4, 10, 0, 0, 0, 0, loc)

	in := unpaidInput(loc, anchor, time.Date(2024, 4, 11, 1, 0, 0, 0, loc))
	in.SuspendAfterDays = 0

	got := ComputeOverviewStatus(in)
	assert.Equal(t, OverviewSuspended, got.Status)
	assert.Equal(t, 1, got.DaysSinceAnchor)
}

// Santiago leaves DST in early April; the fall-back day is 25 hours long.
// Day counting must stay calendar-based through it.
func TestOverviewDayCountAcrossDSTShift(t *testing.T) {
	santiago, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)

	anchor := time.Date(2024, 4, 5, 0, 0, 0, 0, santiago)
	in := unpaidInput(santiago, anchor, time.Date(2024, 4, 9, 12, 0, 0, 0, santiago))
	in.SuspendAfterDays = 4

	got := ComputeOverviewStatus(in)
	assert.Equal(t, 4, got.DaysSinceAnchor)
	assert.True(t, got.IsSuspended)
}
