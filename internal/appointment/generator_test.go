package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/provider-availability-booking/internal/timewindow"
)

func TestGenerateSlots(t *testing.T) {
	rule := AvailabilityRule{
		ID:                   uuid.New(),
		ProviderID:           uuid.New(),
		StartTime:            timewindow.MustClock("09:00"),
		EndTime:              timewindow.MustClock("11:00"),
		SlotDurationMinutes:  45,
		BreakDurationMinutes: 15,
		AppointmentType:      TypeFollowUp,
	}
	dates := []time.Time{testDate, testDate.AddDate(0, 0, 7)}

	slots := GenerateSlots(rule, dates)
	require.Len(t, slots, 4)

	var got []string
	for _, s := range slots {
		got = append(got, s.Date().Format(time.DateOnly)+" "+s.Window().String())
		assert.Equal(t, rule.ID, s.AvailabilityID)
		assert.Equal(t, rule.ProviderID, s.ProviderID)
		assert.Equal(t, SlotAvailable, s.Status)
		assert.Equal(t, TypeFollowUp, s.AppointmentType)
		assert.Empty(t, s.BookingReference)
	}
	assert.Equal(t, []string{
		"2030-03-04 09:00-09:45",
		"2030-03-04 10:00-10:45",
		"2030-03-11 09:00-09:45",
		"2030-03-11 10:00-10:45",
	}, got)
}

func TestGenerateSlotsNeverOverlapOrLeaveWindow(t *testing.T) {
	for _, tc := range []struct{ slot, brk int }{{15, 0}, {30, 10}, {45, 5}, {60, 120}, {480, 0}} {
		rule := AvailabilityRule{
			StartTime:            timewindow.MustClock("07:10"),
			EndTime:              timewindow.MustClock("19:00"),
			SlotDurationMinutes:  tc.slot,
			BreakDurationMinutes: tc.brk,
		}
		slots := GenerateSlots(rule, []time.Time{testDate})
		for i, s := range slots {
			assert.True(t, rule.Window().Contains(s.Window()), "%d/%d: %s", tc.slot, tc.brk, s.Window())
			assert.Equal(t, tc.slot, s.Window().Minutes())
			if i > 0 {
				assert.False(t, s.Window().Overlaps(slots[i-1].Window()))
			}
		}
	}
}

func TestGenerateSlotsMidnightEnd(t *testing.T) {
	rule := AvailabilityRule{
		StartTime:           timewindow.MustClock("23:00"),
		EndTime:             timewindow.Clock(timewindow.MinutesPerDay),
		SlotDurationMinutes: 30,
	}
	slots := GenerateSlots(rule, []time.Time{testDate})
	require.Len(t, slots, 2)
	assert.Equal(t, "23:30-24:00", slots[1].Window().String())
	assert.Equal(t, testDate.AddDate(0, 0, 1), slots[1].EndTime)
	assert.Equal(t, testDate, slots[1].Date())
}

func TestGenerateSlotsWindowShorterThanSlot(t *testing.T) {
	rule := AvailabilityRule{
		StartTime:           timewindow.MustClock("09:00"),
		EndTime:             timewindow.MustClock("09:20"),
		SlotDurationMinutes: 30,
	}
	assert.Empty(t, GenerateSlots(rule, []time.Time{testDate}))
}

func TestReconcileStatus(t *testing.T) {
	cases := []struct {
		current SlotStatus
		active  int
		max     int
		want    SlotStatus
	}{
		{SlotAvailable, 0, 1, SlotAvailable},
		{SlotAvailable, 1, 1, SlotBooked},
		{SlotAvailable, 2, 3, SlotAvailable},
		{SlotBooked, 0, 1, SlotAvailable},
		{SlotBooked, 3, 3, SlotBooked},
		{SlotBlocked, 0, 1, SlotBlocked},
		{SlotBlocked, 1, 1, SlotBlocked},
		{SlotCancelled, 0, 1, SlotCancelled},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ReconcileStatus(tc.current, tc.active, tc.max), "%s %d/%d", tc.current, tc.active, tc.max)
	}
}
