// Package cronplanner computes future fire instants for a 5-field cron
// expression evaluated in an IANA time zone. It is a pure function over its
// inputs: no clock reads other than the caller-supplied reference instant.
package cronplanner

import (
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/robfig/cron/v3"
)

// NextN returns the next n fire instants (UTC) strictly after ref for expr
// evaluated in tz. Spring-forward gaps are skipped forward by cron.Schedule's
// own Next semantics; fall-back duplicates collapse to their first (earlier
// UTC) occurrence: cron.Schedule's Next returns the repeated wall-clock
// reading a second time, so that second instant is skipped explicitly.
func NextN(expr, tz string, ref time.Time, n int) ([]time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidCronExpr, expr, err)
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidTimezone, tz, err)
	}

	if n <= 0 {
		return nil, nil
	}

	cursor := ref.In(loc)
	out := make([]time.Time, 0, n)
	for len(out) < n {
		cursor = sched.Next(cursor)
		// A wall-clock reading already seen at an earlier instant is the second
		// pass through a fall-back hour; only the first occurrence is emitted.
		_, off := cursor.Zone()
		_, prevOff := cursor.Add(-time.Hour).Zone()
		if prevOff > off && cursor.Add(-time.Duration(prevOff-off)*time.Second).In(loc).Format(time.DateTime) == cursor.Format(time.DateTime) {
			continue
		}
		out = append(out, cursor.UTC())
	}
	return out, nil
}

// Next is a convenience wrapper around NextN for a single fire instant.
func Next(expr, tz string, ref time.Time) (time.Time, error) {
	times, err := NextN(expr, tz, ref, 1)
	if err != nil {
		return time.Time{}, err
	}
	return times[0], nil
}

// Validate parses expr and tz without computing any instants, surfacing the
// same distinct parse errors as NextN. Used by the Admin Interface on
// create/update so a bad cron/timezone is rejected with HTTP 400 before
// anything is written to the registry.
func Validate(expr, tz string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidCronExpr, expr, err)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidTimezone, tz, err)
	}
	return nil
}
