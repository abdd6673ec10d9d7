// Package recurrence implements the idempotency gate that keeps a recurring
// trigger from firing more than once per cycle for the same entity.
package recurrence

import (
	"time"

	"github.com/journeyhq/journey/pkg/models"
)

// CycleStart resolves the start of the current cycle under the given policy.
// Calendar-aligned cycles start on January 1st of the current year; rolling
// cycles reach back exactly one year from now. The policy is configured per
// automation since tenants disagree on which semantics they expect from
// birthday-style triggers.
func CycleStart(policy models.CyclePolicy, now time.Time) time.Time {
	switch policy {
	case models.CycleRollingYear:
		return now.AddDate(-1, 0, 0)
	case models.CycleCalendarYear:
		fallthrough
	default:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	}
}

// NextCycleStart is the first instant of the following cycle, used to bound
// gate record lifetimes.
func NextCycleStart(policy models.CyclePolicy, now time.Time) time.Time {
	switch policy {
	case models.CycleRollingYear:
		return now.AddDate(1, 0, 0)
	case models.CycleCalendarYear:
		fallthrough
	default:
		return time.Date(now.Year()+1, time.January, 1, 0, 0, 0, 0, now.Location())
	}
}
