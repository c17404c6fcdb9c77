// Package domain derives a tenant's collection standing from charge and
// attempt records. ComputeOverviewStatus is a pure function of loaded
// state; the HTTP overview and the scheduler both call it and it never
// touches storage.
package domain

import (
	"math"
	"sort"
	"time"

	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
)

type OverviewStatus string

const (
	OverviewActive    OverviewStatus = "ACTIVE"
	OverviewPastDue   OverviewStatus = "PAST_DUE"
	OverviewSuspended OverviewStatus = "SUSPENDED"
)

// StatusInput is the state ComputeOverviewStatus evaluates. AnchorDate is
// the current cycle's anchor as a tenant-local midnight instant; nil means
// no cycle has been materialized yet.
type StatusInput struct {
	Now              time.Time
	Location         *time.Location
	AnchorDate       *time.Time
	HasCharge        bool
	ChargeStatus     chargedomain.Status
	ChargePaidAt     *time.Time
	Attempts         []chargedomain.Attempt
	SuspendAfterDays int
}

// StatusResult is the derived standing. Suspension is never stored on the
// subscription; it exists only here.
type StatusResult struct {
	Status           OverviewStatus
	InCollection     bool
	IsPastDue        bool
	IsSuspended      bool
	RetriesExhausted bool
	NextAttemptAt    *time.Time
	DaysSinceAnchor  int
}

// ComputeOverviewStatus folds the current cycle's charge and attempts into
// one standing. A paid or absent charge short-circuits to ACTIVE with every
// collection flag cleared; otherwise past-due begins one local calendar day
// after the anchor and suspension after suspendAfterDays of them. All day
// arithmetic runs on tenant-local calendar days, never UTC midnights.
func ComputeOverviewStatus(in StatusInput) StatusResult {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	result := StatusResult{Status: OverviewActive}

	pending := make([]chargedomain.Attempt, 0, len(in.Attempts))
	for _, attempt := range in.Attempts {
		if attempt.Status == chargedomain.AttemptStatusPending && attempt.ScheduledFor != nil {
			pending = append(pending, attempt)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].AttemptNo < pending[j].AttemptNo })

	retriesExhausted := false
	var nextAttemptAt *time.Time
	for _, attempt := range pending {
		if attempt.ScheduledFor.Before(in.Now) {
			continue
		}
		if nextAttemptAt == nil || attempt.ScheduledFor.Before(*nextAttemptAt) {
			at := *attempt.ScheduledFor
			nextAttemptAt = &at
		}
	}
	if nextAttemptAt == nil && len(pending) > 0 {
		// Every scheduled retry is in the past: dunning has run its
		// course, report the last try it made.
		retriesExhausted = true
		last := *pending[len(pending)-1].ScheduledFor
		nextAttemptAt = &last
	}
	result.NextAttemptAt = nextAttemptAt

	paid := in.ChargeStatus == chargedomain.StatusPaid || in.ChargePaidAt != nil
	if in.AnchorDate == nil || !in.HasCharge || paid {
		return result
	}

	result.InCollection = true
	result.RetriesExhausted = retriesExhausted

	anchorMidnight := localMidnight(*in.AnchorDate, loc)
	nowMidnight := localMidnight(in.Now, loc)
	result.DaysSinceAnchor = wholeDaysBetween(anchorMidnight, nowMidnight)

	result.IsPastDue = !in.Now.Before(anchorMidnight.AddDate(0, 0, 1))

	suspendAfter := in.SuspendAfterDays
	if suspendAfter < 1 {
		suspendAfter = 1
	}
	result.IsSuspended = result.DaysSinceAnchor >= suspendAfter

	switch {
	case result.IsSuspended:
		result.Status = OverviewSuspended
	case result.IsPastDue:
		result.Status = OverviewPastDue
	}
	return result
}

// localMidnight returns midnight of t's calendar date in loc.
func localMidnight(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// wholeDaysBetween counts calendar days from a to b, both local midnights.
// Rounding absorbs the hour a DST transition adds or removes.
func wholeDaysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}
