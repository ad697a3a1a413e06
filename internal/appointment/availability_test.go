package appointment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
	"github.com/hackgods/provider-availability-booking/internal/recurrence"
	"github.com/hackgods/provider-availability-booking/internal/timewindow"
)

func date(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func clockPtr(s string) *timewindow.Clock {
	c := timewindow.MustClock(s)
	return &c
}

func statusPtr(s SlotStatus) *SlotStatus { return &s }

func TestCreateAvailabilitySingleDay(t *testing.T) {
	f := newFixture(t)
	res := f.createAvailability(t, morning(testDate))

	require.Len(t, res.Slots, 6)
	assert.Equal(t, 6, res.SlotsCreated)
	assert.Equal(t, 6, res.TotalCapacity)
	assert.Equal(t, testDate, res.DateRange.Start)
	assert.Equal(t, testDate, res.DateRange.End)
	assert.Equal(t, TypeConsultation, res.Rule.AppointmentType)
	assert.Equal(t, 1, res.Rule.MaxAppointmentsPerSlot)
	assert.Nil(t, res.Rule.RecurrenceEndDate)

	prefix := "SLT-" + idFragment(f.provider.ID) + "-20300304-"
	for i, s := range res.Slots {
		assert.Equal(t, SlotAvailable, s.Status)
		assert.Equal(t, 30*time.Minute, s.EndTime.Sub(s.StartTime))
		assert.True(t, strings.HasPrefix(s.BookingReference, prefix), s.BookingReference)
		if i > 0 {
			assert.False(t, s.StartTime.Before(res.Slots[i-1].EndTime))
		}
	}
	assert.Equal(t, "0900", timewindow.ClockOf(res.Slots[0].StartTime).Compact())
	assert.Equal(t, []string{EventAvailabilityCreated}, f.eventTypes())

	stored, err := f.repo.ListSlotsByRule(context.Background(), res.Rule.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 6)
}

func TestCreateAvailabilityWithBreaks(t *testing.T) {
	f := newFixture(t)
	req := morning(testDate)
	req.EndTime = timewindow.MustClock("10:00")
	req.BreakDurationMinutes = 10
	req.MaxAppointmentsPerSlot = 4

	res := f.createAvailability(t, req)
	require.Len(t, res.Slots, 1)
	assert.Equal(t, "09:00-09:30", res.Slots[0].Window().String())
	assert.Equal(t, 4, res.TotalCapacity)
}

func TestCreateAvailabilityRecurring(t *testing.T) {
	f := newFixture(t)

	req := morning(testDate)
	req.IsRecurring = true
	req.RecurrencePattern = recurrence.Weekly
	end := date("2030-03-25")
	req.RecurrenceEndDate = &end

	res := f.createAvailability(t, req)
	assert.Equal(t, 24, res.SlotsCreated)
	assert.Equal(t, date("2030-03-25"), res.DateRange.End)

	days := map[string]int{}
	for _, s := range res.Slots {
		days[s.Date().Format(time.DateOnly)]++
		assert.Equal(t, time.Monday, s.StartTime.Weekday())
	}
	assert.Equal(t, map[string]int{"2030-03-04": 6, "2030-03-11": 6, "2030-03-18": 6, "2030-03-25": 6}, days)
}

func TestCreateAvailabilityDefaultHorizon(t *testing.T) {
	f := newFixture(t)

	req := morning(testDate)
	req.EndTime = timewindow.MustClock("09:30")
	req.IsRecurring = true
	req.RecurrencePattern = recurrence.Monthly

	res := f.createAvailability(t, req)
	want := recurrence.AddMonths(testDate, recurrence.DefaultHorizonMonths)
	require.NotNil(t, res.Rule.RecurrenceEndDate)
	assert.Equal(t, want, *res.Rule.RecurrenceEndDate)
	assert.Equal(t, want, res.DateRange.End)
	assert.Equal(t, recurrence.DefaultHorizonMonths+1, res.SlotsCreated)
}

func TestCreateAvailabilityValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]func(*CreateAvailabilityRequest){
		"end before start":     func(r *CreateAvailabilityRequest) { r.EndTime = timewindow.MustClock("08:00") },
		"slot too short":       func(r *CreateAvailabilityRequest) { r.SlotDurationMinutes = 10 },
		"slot too long":        func(r *CreateAvailabilityRequest) { r.SlotDurationMinutes = 600 },
		"break too long":       func(r *CreateAvailabilityRequest) { r.BreakDurationMinutes = 121 },
		"too many per slot":    func(r *CreateAvailabilityRequest) { r.MaxAppointmentsPerSlot = 11 },
		"unknown timezone":     func(r *CreateAvailabilityRequest) { r.Timezone = "Mars/Olympus_Mons" },
		"missing timezone":     func(r *CreateAvailabilityRequest) { r.Timezone = "" },
		"pattern not required": func(r *CreateAvailabilityRequest) { r.RecurrencePattern = recurrence.Daily },
		"pattern required":     func(r *CreateAvailabilityRequest) { r.IsRecurring = true },
		"window shorter than slot": func(r *CreateAvailabilityRequest) {
			r.EndTime = timewindow.MustClock("09:20")
		},
		"fee too high": func(r *CreateAvailabilityRequest) {
			r.Pricing = &Pricing{BaseFee: 10001}
		},
		"bad location type": func(r *CreateAvailabilityRequest) {
			r.Location = &Location{Type: "SPACESHIP"}
		},
		"notes too long": func(r *CreateAvailabilityRequest) {
			r.Notes = strings.Repeat("n", MaxNotesLen+1)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := morning(testDate)
			mutate(&req)
			_, err := f.svc.CreateAvailability(ctx, ProviderActor(f.provider.ID), req)
			assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err), "%v", err)
		})
	}

	_, err := f.svc.CreateAvailability(ctx, PatientActor(f.patient.ID), morning(testDate))
	assert.ErrorIs(t, err, ErrProviderOnly)

	_, err = f.svc.CreateAvailability(ctx, ProviderActor(uuid.New()), morning(testDate))
	assert.ErrorIs(t, err, ErrProviderNotFound)

	assert.Empty(t, f.repo.Events())
}

func TestCreateAvailabilityDefaultsCurrency(t *testing.T) {
	f := newFixture(t)
	req := morning(testDate)
	req.Pricing = &Pricing{BaseFee: 80}
	req.Location = &Location{Type: LocationClinic, Address: "1 Main St", Room: "2B"}

	res := f.createAvailability(t, req)
	require.NotNil(t, res.Rule.Pricing)
	assert.Equal(t, DefaultCurrency, res.Rule.Pricing.Currency)
	assert.Equal(t, "2B", res.Rule.Location.Room)

	assert.Empty(t, req.Pricing.Currency, "caller's pricing must not be modified")
	req.Location.Room = "9Z"
	assert.Equal(t, "2B", res.Rule.Location.Room)
}

func TestCreateAvailabilityRejectsTouchingWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createAvailability(t, morning(testDate))

	touching := morning(testDate)
	touching.StartTime = timewindow.MustClock("12:00")
	touching.EndTime = timewindow.MustClock("13:00")
	_, err := f.svc.CreateAvailability(ctx, ProviderActor(f.provider.ID), touching)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	overlapping := morning(testDate)
	overlapping.StartTime = timewindow.MustClock("11:45")
	overlapping.EndTime = timewindow.MustClock("13:00")
	_, err = f.svc.CreateAvailability(ctx, ProviderActor(f.provider.ID), overlapping)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	slots, err := f.repo.ListSlotsByProviderAndRange(ctx, f.provider.ID, testDate, testDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, slots, 6)

	gap := morning(testDate)
	gap.StartTime = timewindow.MustClock("12:30")
	gap.EndTime = timewindow.MustClock("13:30")
	f.createAvailability(t, gap)

	// another provider is unaffected
	other := addProvider(f.repo, "Grace", "Hopper", "Dermatology")
	_, err = f.svc.CreateAvailability(ctx, ProviderActor(other.ID), morning(testDate))
	assert.NoError(t, err)
}

func TestCreateAvailabilityConflictOnLaterOccurrence(t *testing.T) {
	f := newFixture(t)
	single := morning(date("2030-03-18"))
	single.EndTime = timewindow.MustClock("10:00")
	f.createAvailability(t, single)

	req := morning(testDate)
	req.StartTime = timewindow.MustClock("09:30")
	req.EndTime = timewindow.MustClock("11:00")
	req.IsRecurring = true
	req.RecurrencePattern = recurrence.Weekly
	end := date("2030-03-25")
	req.RecurrenceEndDate = &end

	_, err := f.svc.CreateAvailability(context.Background(), ProviderActor(f.provider.ID), req)
	require.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "2030-03-18")

	slots, err := f.repo.ListSlotsByProviderAndRange(context.Background(), f.provider.ID, testDate, end.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func spacedMorning() CreateAvailabilityRequest {
	req := morning(testDate)
	req.BreakDurationMinutes = 30 // 09:00, 10:00, 11:00
	return req
}

func TestUpdateSlotBlockAndUnblock(t *testing.T) {
	f := newFixture(t)
	res := f.createAvailability(t, morning(testDate))
	slotID := res.Slots[0].ID
	ctx := context.Background()
	owner := ProviderActor(f.provider.ID)

	blocked, err := f.svc.UpdateAvailabilitySlot(ctx, owner, slotID, UpdateSlotRequest{Status: statusPtr(SlotBlocked)})
	require.NoError(t, err)
	assert.Equal(t, SlotBlocked, blocked.Status)
	assert.Contains(t, f.eventTypes(), EventSlotBlocked)

	_, err = f.svc.BookAppointment(ctx, PatientActor(f.patient.ID), BookAppointmentRequest{SlotID: slotID, Mode: ModeInPerson})
	assert.ErrorIs(t, err, ErrSlotNotAvailable)

	open, err := f.svc.UpdateAvailabilitySlot(ctx, owner, slotID, UpdateSlotRequest{Status: statusPtr(SlotAvailable)})
	require.NoError(t, err)
	assert.Equal(t, SlotAvailable, open.Status)

	f.book(t, f.patient.ID, slotID)
}

func TestUnblockFullSlotStaysBooked(t *testing.T) {
	f := newFixture(t)
	res := f.createAvailability(t, morning(testDate))
	slotID := res.Slots[0].ID
	ctx := context.Background()
	owner := ProviderActor(f.provider.ID)

	f.book(t, f.patient.ID, slotID)

	_, err := f.svc.UpdateAvailabilitySlot(ctx, owner, slotID, UpdateSlotRequest{Status: statusPtr(SlotBlocked)})
	require.NoError(t, err)

	unblocked, err := f.svc.UpdateAvailabilitySlot(ctx, owner, slotID, UpdateSlotRequest{Status: statusPtr(SlotAvailable)})
	require.NoError(t, err)
	assert.Equal(t, SlotBooked, unblocked.Status)
}

func TestUpdateSlotMove(t *testing.T) {
	f := newFixture(t)
	res := f.createAvailability(t, spacedMorning())
	require.Len(t, res.Slots, 3)
	ctx := context.Background()
	owner := ProviderActor(f.provider.ID)
	first := res.Slots[0].ID

	moved, err := f.svc.UpdateAvailabilitySlot(ctx, owner, first, UpdateSlotRequest{StartTime: clockPtr("09:30")})
	require.NoError(t, err)
	assert.Equal(t, "09:30-10:00", moved.Window().String(), "touching the next slot is allowed when moving")
	assert.Equal(t, testDate, moved.Date())

	_, err = f.svc.UpdateAvailabilitySlot(ctx, owner, first, UpdateSlotRequest{StartTime: clockPtr("09:50")})
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	_, err = f.svc.UpdateAvailabilitySlot(ctx, owner, first, UpdateSlotRequest{StartTime: clockPtr("11:45")})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.UpdateAvailabilitySlot(ctx, owner, first, UpdateSlotRequest{StartTime: clockPtr("08:30")})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	assert.Equal(t, "09:30-10:00", f.slot(t, first).Window().String())

	booked := res.Slots[1].ID
	f.book(t, f.patient.ID, booked)
	_, err = f.svc.UpdateAvailabilitySlot(ctx, owner, booked, UpdateSlotRequest{StartTime: clockPtr("10:15")})
	assert.ErrorIs(t, err, ErrSlotHasBookings)
}

func TestUpdateSlotNotesAndAuthorization(t *testing.T) {
	f := newFixture(t)
	res := f.createAvailability(t, morning(testDate))
	slotID := res.Slots[0].ID
	ctx := context.Background()

	notes := "bring referral letter"
	_, err := f.svc.UpdateAvailabilitySlot(ctx, ProviderActor(f.provider.ID), slotID, UpdateSlotRequest{Notes: &notes})
	require.NoError(t, err)
	rule, err := f.repo.GetRuleByID(ctx, res.Rule.ID)
	require.NoError(t, err)
	assert.Equal(t, notes, rule.Notes)

	_, err = f.svc.UpdateAvailabilitySlot(ctx, ProviderActor(f.provider.ID), slotID, UpdateSlotRequest{})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.UpdateAvailabilitySlot(ctx, ProviderActor(f.provider.ID), slotID, UpdateSlotRequest{Status: statusPtr(SlotBooked)})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	other := addProvider(f.repo, "Grace", "Hopper", "Dermatology")
	_, err = f.svc.UpdateAvailabilitySlot(ctx, ProviderActor(other.ID), slotID, UpdateSlotRequest{Notes: &notes})
	assert.ErrorIs(t, err, ErrNotSlotOwner)

	_, err = f.svc.UpdateAvailabilitySlot(ctx, PatientActor(f.patient.ID), slotID, UpdateSlotRequest{Notes: &notes})
	assert.ErrorIs(t, err, ErrProviderOnly)

	_, err = f.svc.UpdateAvailabilitySlot(ctx, ProviderActor(f.provider.ID), uuid.New(), UpdateSlotRequest{Notes: &notes})
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestDeleteAvailabilitySlot(t *testing.T) {
	f := newFixture(t)
	res := f.createAvailability(t, morning(testDate))
	ctx := context.Background()
	owner := ProviderActor(f.provider.ID)

	appt := f.book(t, f.patient.ID, res.Slots[0].ID)

	_, err := f.svc.DeleteAvailabilitySlot(ctx, owner, res.Slots[0].ID, false)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	n, err := f.svc.DeleteAvailabilitySlot(ctx, owner, res.Slots[1].ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = f.repo.GetSlotByID(ctx, res.Slots[1].ID)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	// all or nothing while one slot of the rule is still booked
	_, err = f.svc.DeleteAvailabilitySlot(ctx, owner, res.Slots[2].ID, true)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	remaining, err := f.repo.ListSlotsByRule(ctx, res.Rule.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 5)

	_, err = f.svc.DeleteAvailabilitySlot(ctx, ProviderActor(uuid.New()), res.Slots[2].ID, true)
	assert.ErrorIs(t, err, ErrNotSlotOwner)

	_, err = f.svc.CancelAppointment(ctx, PatientActor(f.patient.ID), appt.ID, "")
	require.NoError(t, err)

	n, err = f.svc.DeleteAvailabilitySlot(ctx, owner, res.Slots[2].ID, true)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = f.repo.GetRuleByID(ctx, res.Rule.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)

	// the cancelled appointment survives with its slot detached
	stored, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, stored.SlotID)

	detail, err := f.svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Nil(t, detail.Slot)
}

func TestGetAvailableSlots(t *testing.T) {
	f := newFixture(t)
	req := morning(testDate)
	req.MaxAppointmentsPerSlot = 2
	req.Location = &Location{Type: LocationClinic, Address: "1 Main St"}
	res := f.createAvailability(t, req)
	ctx := context.Background()

	f.book(t, f.patient.ID, res.Slots[0].ID)
	_, err := f.svc.UpdateAvailabilitySlot(ctx, ProviderActor(f.provider.ID), res.Slots[1].ID, UpdateSlotRequest{Status: statusPtr(SlotBlocked)})
	require.NoError(t, err)

	oneDay := func(day time.Time, apptType AppointmentType) AvailableSlotsRequest {
		return AvailableSlotsRequest{ProviderID: f.provider.ID, StartDate: day, EndDate: day, AppointmentType: apptType}
	}

	slots, err := f.svc.GetAvailableSlots(ctx, oneDay(testDate.Add(15*time.Hour), ""))
	require.NoError(t, err)
	require.Len(t, slots, 5)
	assert.Equal(t, res.Slots[0].ID, slots[0].Slot.ID)
	assert.Equal(t, 1, slots[0].RemainingCapacity)
	assert.Equal(t, 2, slots[1].RemainingCapacity)
	assert.Equal(t, "UTC", slots[0].Timezone)
	assert.Equal(t, LocationClinic, slots[0].Location.Type)

	none, err := f.svc.GetAvailableSlots(ctx, oneDay(testDate, TypeEmergency))
	require.NoError(t, err)
	assert.Empty(t, none)

	none, err = f.svc.GetAvailableSlots(ctx, oneDay(testDate.AddDate(0, 0, 1), ""))
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.GetAvailableSlots(ctx, oneDay(testDate, "SURGERY"))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.GetAvailableSlots(ctx, AvailableSlotsRequest{ProviderID: uuid.New(), StartDate: testDate, EndDate: testDate})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestGetAvailableSlotsDateRange(t *testing.T) {
	f := newFixture(t)
	req := morning(testDate)
	req.IsRecurring = true
	req.RecurrencePattern = recurrence.Daily
	end := testDate.AddDate(0, 0, 2)
	req.RecurrenceEndDate = &end
	res := f.createAvailability(t, req)
	require.Equal(t, 18, res.SlotsCreated)
	ctx := context.Background()

	lastDay := testDate.AddDate(0, 0, 2)
	var blocked uuid.UUID
	for _, slot := range res.Slots {
		if recurrence.Day(slot.StartTime).Equal(lastDay) {
			blocked = slot.ID
			break
		}
	}
	_, err := f.svc.UpdateAvailabilitySlot(ctx, ProviderActor(f.provider.ID), blocked, UpdateSlotRequest{Status: statusPtr(SlotBlocked)})
	require.NoError(t, err)

	slots, err := f.svc.GetAvailableSlots(ctx, AvailableSlotsRequest{
		ProviderID: f.provider.ID,
		StartDate:  testDate,
		EndDate:    lastDay,
	})
	require.NoError(t, err)
	require.Len(t, slots, 17)
	assert.Equal(t, testDate, recurrence.Day(slots[0].Slot.StartTime))
	assert.Equal(t, lastDay, recurrence.Day(slots[16].Slot.StartTime))
	for i := 1; i < len(slots); i++ {
		assert.True(t, slots[i-1].Slot.StartTime.Before(slots[i].Slot.StartTime))
	}

	// range past the rule end only returns the days that have slots
	slots, err = f.svc.GetAvailableSlots(ctx, AvailableSlotsRequest{
		ProviderID: f.provider.ID,
		StartDate:  testDate.AddDate(0, 0, 1),
		EndDate:    testDate.AddDate(0, 0, 10),
	})
	require.NoError(t, err)
	assert.Len(t, slots, 11)

	invalid := []AvailableSlotsRequest{
		{ProviderID: f.provider.ID},
		{ProviderID: f.provider.ID, StartDate: testDate},
		{ProviderID: f.provider.ID, StartDate: testDate, EndDate: testDate.AddDate(0, 0, -1)},
		{ProviderID: f.provider.ID, StartDate: testDate, EndDate: testDate.AddDate(0, 0, MaxSearchRangeDay+1)},
	}
	for _, r := range invalid {
		_, err := f.svc.GetAvailableSlots(ctx, r)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err), "%+v", r)
	}
}

func TestGetProviderAvailability(t *testing.T) {
	f := newFixture(t)
	req := morning(testDate)
	req.IsRecurring = true
	req.RecurrencePattern = recurrence.Daily
	end := testDate.AddDate(0, 0, 1)
	req.RecurrenceEndDate = &end
	res := f.createAvailability(t, req)
	ctx := context.Background()

	f.book(t, f.patient.ID, res.Slots[0].ID)
	_, err := f.svc.UpdateAvailabilitySlot(ctx, ProviderActor(f.provider.ID), res.Slots[1].ID, UpdateSlotRequest{Status: statusPtr(SlotBlocked)})
	require.NoError(t, err)

	got, err := f.svc.GetProviderAvailability(ctx, ProviderAvailabilityRequest{
		ProviderID: f.provider.ID,
		StartDate:  testDate,
		EndDate:    end,
	})
	require.NoError(t, err)
	require.Len(t, got.Days, 2)
	assert.Equal(t, testDate, got.Days[0].Date)
	assert.Len(t, got.Days[0].Slots, 6)
	assert.Equal(t, AvailabilitySummary{TotalSlots: 12, AvailableSlots: 10, BookedSlots: 1, BlockedSlots: 1}, got.Summary)

	onlyOpen, err := f.svc.GetProviderAvailability(ctx, ProviderAvailabilityRequest{
		ProviderID: f.provider.ID,
		StartDate:  testDate,
		EndDate:    testDate,
		Status:     SlotAvailable,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, onlyOpen.Summary.TotalSlots)
	require.Len(t, onlyOpen.Days, 1)

	_, err = f.svc.GetProviderAvailability(ctx, ProviderAvailabilityRequest{
		ProviderID: f.provider.ID,
		StartDate:  testDate,
		EndDate:    testDate.AddDate(0, 0, MaxSearchRangeDay+1),
	})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.GetProviderAvailability(ctx, ProviderAvailabilityRequest{
		ProviderID: f.provider.ID,
		StartDate:  end,
		EndDate:    testDate,
	})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.GetProviderAvailability(ctx, ProviderAvailabilityRequest{
		ProviderID: uuid.New(),
		StartDate:  testDate,
		EndDate:    testDate,
	})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
