package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
)

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(t time.Time) *time.Time { return &t }

func formatted(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(time.DateOnly)
	}
	return out
}

func TestExpandSingleDate(t *testing.T) {
	dates, err := Expand(Spec{Start: date("2024-05-10")})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-10"}, formatted(dates))
}

func TestExpandWeeklyInclusiveEnd(t *testing.T) {
	dates, err := Expand(Spec{
		Start:     date("2024-01-01"),
		Recurring: true,
		Pattern:   Weekly,
		EndDate:   ptr(date("2024-01-22")),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22"}, formatted(dates))
}

func TestExpandDaily(t *testing.T) {
	dates, err := Expand(Spec{
		Start:     date("2024-02-27"),
		Recurring: true,
		Pattern:   Daily,
		EndDate:   ptr(date("2024-03-02")),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}, formatted(dates))
}

func TestExpandMonthlyClampsToMonthEnd(t *testing.T) {
	dates, err := Expand(Spec{
		Start:     date("2024-01-31"),
		Recurring: true,
		Pattern:   Monthly,
		EndDate:   ptr(date("2024-04-30")),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-29", "2024-04-29"}, formatted(dates))
}

func TestExpandDefaultsToSixMonths(t *testing.T) {
	dates, err := Expand(Spec{Start: date("2024-01-15"), Recurring: true, Pattern: Monthly})
	require.NoError(t, err)
	require.Len(t, dates, 7)
	assert.Equal(t, "2024-07-15", dates[6].Format(time.DateOnly))

	weekly, err := Expand(Spec{Start: date("2024-01-01"), Recurring: true, Pattern: Weekly})
	require.NoError(t, err)
	last := weekly[len(weekly)-1]
	assert.False(t, last.After(date("2024-07-01")))
	assert.True(t, last.AddDate(0, 0, 7).After(date("2024-07-01")))
}

func TestExpandSameStartAndEnd(t *testing.T) {
	dates, err := Expand(Spec{
		Start:     date("2024-06-01"),
		Recurring: true,
		Pattern:   Daily,
		EndDate:   ptr(date("2024-06-01")),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-01"}, formatted(dates))
}

func TestExpandRejectsMisconfiguration(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"pattern without recurring", Spec{Start: date("2024-01-01"), Pattern: Weekly}},
		{"recurring without pattern", Spec{Start: date("2024-01-01"), Recurring: true}},
		{"unknown pattern", Spec{Start: date("2024-01-01"), Recurring: true, Pattern: "YEARLY"}},
		{"end before start", Spec{Start: date("2024-01-10"), Recurring: true, Pattern: Daily, EndDate: ptr(date("2024-01-09"))}},
		{"end date without recurring", Spec{Start: date("2024-01-10"), EndDate: ptr(date("2024-01-19"))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Expand(tt.spec)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
		})
	}
}

func TestExpandCapsPathologicalSpans(t *testing.T) {
	_, err := Expand(Spec{
		Start:     date("2024-01-01"),
		Recurring: true,
		Pattern:   Daily,
		EndDate:   ptr(date("2034-01-01")),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	dates, err := Expand(Spec{
		Start:     date("2024-01-01"),
		Recurring: true,
		Pattern:   Monthly,
		EndDate:   ptr(date("2034-01-01")),
	})
	require.NoError(t, err)
	assert.Len(t, dates, 121)
}

func TestAddMonths(t *testing.T) {
	assert.Equal(t, date("2023-02-28"), AddMonths(date("2023-01-31"), 1))
	assert.Equal(t, date("2025-02-28"), AddMonths(date("2024-08-31"), 6))
	assert.Equal(t, date("2025-01-15"), AddMonths(date("2024-07-15"), 6))
}
