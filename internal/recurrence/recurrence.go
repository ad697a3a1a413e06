package recurrence

import (
	"time"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
)

type Pattern string

const (
	Daily   Pattern = "DAILY"
	Weekly  Pattern = "WEEKLY"
	Monthly Pattern = "MONTHLY"
)

// MaxOccurrences caps a single expansion. Two years of daily dates.
const MaxOccurrences = 731

// DefaultHorizonMonths is applied when a recurring rule has no end date.
const DefaultHorizonMonths = 6

func (p Pattern) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// Spec is the part of an availability rule that drives date expansion.
type Spec struct {
	Start     time.Time
	Recurring bool
	Pattern   Pattern
	EndDate   *time.Time
}

// Validate rejects contradictory recurring/pattern combinations.
func (s Spec) Validate() error {
	switch {
	case s.Recurring && s.Pattern == "":
		return apperrors.Validation("recurrence pattern is required for a recurring availability")
	case !s.Recurring && s.Pattern != "":
		return apperrors.Validation("recurrence pattern %s given for a non-recurring availability", s.Pattern)
	case s.Recurring && !s.Pattern.Valid():
		return apperrors.Validation("unknown recurrence pattern %q", s.Pattern)
	case !s.Recurring && s.EndDate != nil:
		return apperrors.Validation("recurrence end date given for a non-recurring availability")
	}
	if s.EndDate != nil && Day(*s.EndDate).Before(Day(s.Start)) {
		return apperrors.Validation("recurrence end date %s is before start date %s",
			s.EndDate.Format(time.DateOnly), s.Start.Format(time.DateOnly))
	}
	return nil
}

// EffectiveEnd returns the inclusive last date of the expansion.
func (s Spec) EffectiveEnd() time.Time {
	if !s.Recurring {
		return Day(s.Start)
	}
	if s.EndDate != nil {
		return Day(*s.EndDate)
	}
	return AddMonths(Day(s.Start), DefaultHorizonMonths)
}

// Expand returns the ordered calendar dates the rule applies to, starting at
// s.Start and stepping by the pattern until the next step passes the end date.
func Expand(s Spec) ([]time.Time, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	current := Day(s.Start)
	if !s.Recurring {
		return []time.Time{current}, nil
	}

	end := s.EffectiveEnd()
	dates := make([]time.Time, 0, 8)
	for !current.After(end) {
		if len(dates) == MaxOccurrences {
			return nil, apperrors.Validation("recurrence expands to more than %d dates", MaxOccurrences)
		}
		dates = append(dates, current)
		current = advance(current, s.Pattern)
	}
	return dates, nil
}

// advance chains one step, so MONTHLY clamping carries forward
// (Jan 31 -> Feb 29 -> Mar 29).
func advance(d time.Time, p Pattern) time.Time {
	switch p {
	case Daily:
		return d.AddDate(0, 0, 1)
	case Weekly:
		return d.AddDate(0, 0, 7)
	default:
		return AddMonths(d, 1)
	}
}

// AddMonths adds calendar months, clamping to the last day of the target
// month instead of overflowing (Jan 31 + 1 month = Feb 29 in a leap year).
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	last := target.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, 0, 0, 0, 0, t.Location())
}

// Day truncates t to midnight of its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
