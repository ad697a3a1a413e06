package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability-booking/internal/timewindow"
)

// GenerateSlots expands rule over dates into slot drafts, ordered by date and
// then by start time. Booking references are left empty for the caller.
func GenerateSlots(rule AvailabilityRule, dates []time.Time) []Slot {
	windows := timewindow.Split(rule.Window(), rule.SlotDurationMinutes, rule.BreakDurationMinutes)
	if len(windows) == 0 {
		return nil
	}

	slots := make([]Slot, 0, len(windows)*len(dates))
	for _, date := range dates {
		for _, w := range windows {
			start := w.Start.On(date)
			slots = append(slots, Slot{
				ID:              uuid.New(),
				AvailabilityID:  rule.ID,
				ProviderID:      rule.ProviderID,
				StartTime:       start,
				EndTime:         start.Add(time.Duration(w.Minutes()) * time.Minute),
				Status:          SlotAvailable,
				AppointmentType: rule.AppointmentType,
			})
		}
	}
	return slots
}
