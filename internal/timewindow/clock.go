package timewindow

import (
	"fmt"
	"time"
)

// MinutesPerDay bounds a Clock value; 24:00 is representable as an exclusive end.
const MinutesPerDay = 24 * 60

// Clock is a wall-clock time of day in whole minutes since midnight.
type Clock int

// ParseClock accepts "15:04" or "15:04:05" (seconds must be zero).
func ParseClock(s string) (Clock, error) {
	layouts := []string{"15:04", "15:04:05"}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Second() != 0 {
			return 0, fmt.Errorf("time %q must be on a whole minute", s)
		}
		return Clock(t.Hour()*60 + t.Minute()), nil
	}
	return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
}

// MustClock is ParseClock for literals.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) Valid() bool {
	return c >= 0 && c <= MinutesPerDay
}

func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

// On returns the instant at this time of day on date's calendar day, in date's location.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, date.Location()).Add(time.Duration(c) * time.Minute)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Compact renders the clock without separator, as used in booking references.
func (c Clock) Compact() string {
	return fmt.Sprintf("%02d%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
