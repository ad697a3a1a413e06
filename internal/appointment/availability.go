package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
	"github.com/hackgods/provider-availability-booking/internal/recurrence"
	"github.com/hackgods/provider-availability-booking/internal/timewindow"
)

type CreateAvailabilityRequest struct {
	Date                   time.Time
	StartTime              timewindow.Clock
	EndTime                timewindow.Clock
	Timezone               string
	IsRecurring            bool
	RecurrencePattern      recurrence.Pattern
	RecurrenceEndDate      *time.Time
	SlotDurationMinutes    int
	BreakDurationMinutes   int
	MaxAppointmentsPerSlot int             // defaults to 1
	AppointmentType        AppointmentType // defaults to CONSULTATION
	Location               *Location
	Pricing                *Pricing
	Notes                  string
	SpecialRequirements    []string
}

type DateRange struct {
	Start time.Time
	End   time.Time
}

type CreateAvailabilityResult struct {
	Rule          AvailabilityRule
	Slots         []Slot
	SlotsCreated  int
	TotalCapacity int
	DateRange     DateRange
}

// CreateAvailability saves a rule for the calling provider and generates its
// slots. The conflict check and both inserts run in one transaction under the
// provider lock, so no booking can see a half-created rule.
func (s *Service) CreateAvailability(ctx context.Context, actor Actor, req CreateAvailabilityRequest) (*CreateAvailabilityResult, error) {
	if actor.Role != RoleProvider {
		return nil, ErrProviderOnly
	}
	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	rule := AvailabilityRule{
		ID:                     uuid.New(),
		ProviderID:             actor.ID,
		Date:                   recurrence.Day(req.Date),
		StartTime:              req.StartTime,
		EndTime:                req.EndTime,
		Timezone:               req.Timezone,
		IsRecurring:            req.IsRecurring,
		RecurrencePattern:      req.RecurrencePattern,
		RecurrenceEndDate:      req.RecurrenceEndDate,
		SlotDurationMinutes:    req.SlotDurationMinutes,
		BreakDurationMinutes:   req.BreakDurationMinutes,
		MaxAppointmentsPerSlot: req.MaxAppointmentsPerSlot,
		AppointmentType:        req.AppointmentType,
		Location:               req.Location,
		Pricing:                req.Pricing,
		Notes:                  req.Notes,
		SpecialRequirements:    req.SpecialRequirements,
		Status:                 SlotAvailable,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	spec := rule.Recurrence()
	dates, err := recurrence.Expand(spec)
	if err != nil {
		return nil, err
	}
	if rule.IsRecurring {
		end := spec.EffectiveEnd()
		rule.RecurrenceEndDate = &end
	}

	slots := GenerateSlots(rule, dates)
	if len(slots) == 0 {
		return nil, apperrors.Validation("window %s is shorter than one %d-minute slot", rule.Window(), rule.SlotDurationMinutes)
	}

	if _, err := s.repo.GetProviderByID(ctx, rule.ProviderID); err != nil {
		return nil, wrap(err, "load provider")
	}

	err = s.inProvider(ctx, rule.ProviderID, func(ctx context.Context, tx Store) error {
		if err := CheckConflicts(ctx, tx, rule.ProviderID, dates, rule.Window()); err != nil {
			return err
		}

		refs, err := reserveReferences(ctx, tx, len(slots), func(i int) string {
			return SlotReference(rule.ProviderID, slots[i].StartTime)
		})
		if err != nil {
			return err
		}
		for i := range slots {
			slots[i].BookingReference = refs[i]
			slots[i].CreatedAt = now
			slots[i].UpdatedAt = now
		}

		if err := tx.CreateRule(ctx, &rule); err != nil {
			return wrap(err, "create availability")
		}
		if err := tx.CreateSlots(ctx, slots); err != nil {
			return wrap(err, "create slots")
		}

		return s.recordEvent(ctx, tx, EventAvailabilityCreated,
			eventRefs{provider: rule.ProviderID},
			map[string]any{
				"availability_id": rule.ID.String(),
				"slots_created":   len(slots),
				"first_date":      dates[0].Format(time.DateOnly),
				"last_date":       dates[len(dates)-1].Format(time.DateOnly),
			})
	})
	if err != nil {
		return nil, wrap(err, "create availability")
	}

	s.logger.Info().
		Str("provider_id", rule.ProviderID.String()).
		Str("availability_id", rule.ID.String()).
		Int("slots_created", len(slots)).
		Int("dates", len(dates)).
		Msg("availability created")

	return &CreateAvailabilityResult{
		Rule:          rule,
		Slots:         slots,
		SlotsCreated:  len(slots),
		TotalCapacity: len(slots) * rule.MaxAppointmentsPerSlot,
		DateRange:     DateRange{Start: dates[0], End: dates[len(dates)-1]},
	}, nil
}

// UpdateSlotRequest changes one slot. Nil fields are left alone.
type UpdateSlotRequest struct {
	// StartTime moves the slot within its rule's window; the end follows
	// from the rule's slot duration.
	StartTime *timewindow.Clock
	// Status may be BLOCKED, or AVAILABLE to unblock.
	Status *SlotStatus
	// Notes replaces the owning rule's notes.
	Notes *string
}

// UpdateAvailabilitySlot applies a provider's edit to one of their slots.
func (s *Service) UpdateAvailabilitySlot(ctx context.Context, actor Actor, slotID uuid.UUID, req UpdateSlotRequest) (*Slot, error) {
	if actor.Role != RoleProvider {
		return nil, ErrProviderOnly
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, wrap(err, "load slot")
	}
	if !actor.IsProvider(slot.ProviderID) {
		return nil, ErrNotSlotOwner
	}

	var updated *Slot
	err = s.inProvider(ctx, slot.ProviderID, func(ctx context.Context, tx Store) error {
		locked, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if locked.Status == SlotCancelled {
			return ErrSlotCancelled
		}
		rule, err := tx.GetRuleByID(ctx, locked.AvailabilityID)
		if err != nil {
			return wrap(err, "load availability")
		}

		changes := map[string]any{}

		if req.StartTime != nil && *req.StartTime != locked.Window().Start {
			if err := s.moveSlot(ctx, tx, locked, rule, *req.StartTime); err != nil {
				return err
			}
			changes["start_time"] = req.StartTime.String()
		}

		if req.Notes != nil {
			if err := tx.UpdateRuleNotes(ctx, rule.ID, *req.Notes); err != nil {
				return wrap(err, "update notes")
			}
			changes["notes"] = true
		}

		eventType := EventSlotUpdated
		if req.Status != nil {
			switch {
			case *req.Status == SlotBlocked && locked.Status != SlotBlocked:
				if err := tx.UpdateSlotStatus(ctx, locked.ID, SlotBlocked); err != nil {
					return wrap(err, "block slot")
				}
				eventType = EventSlotBlocked
			case *req.Status == SlotAvailable && locked.Status == SlotBlocked:
				if err := tx.UpdateSlotStatus(ctx, locked.ID, SlotAvailable); err != nil {
					return wrap(err, "unblock slot")
				}
			}
			// unblocking lands on BOOKED if the slot is still full
			status, err := reconcileSlot(ctx, tx, locked.ID)
			if err != nil {
				return err
			}
			changes["status"] = status
		}

		if err := s.recordEvent(ctx, tx, eventType,
			eventRefs{slot: locked.ID, provider: locked.ProviderID}, changes); err != nil {
			return err
		}

		updated, err = tx.GetSlotByID(ctx, locked.ID)
		return err
	})
	if err != nil {
		return nil, wrap(err, "update slot")
	}

	s.logger.Info().
		Str("slot_id", updated.ID.String()).
		Str("provider_id", updated.ProviderID.String()).
		Str("status", string(updated.Status)).
		Msg("slot updated")

	return updated, nil
}

// moveSlot shifts an unbooked slot to start at start, keeping its duration.
// The new window must lie within the rule's window and must not overlap any
// other slot of the provider that day.
func (s *Service) moveSlot(ctx context.Context, tx Store, slot *Slot, rule *AvailabilityRule, start timewindow.Clock) error {
	active, err := tx.CountActiveAppointments(ctx, slot.ID)
	if err != nil {
		return wrap(err, "count active appointments")
	}
	if active > 0 {
		return ErrSlotHasBookings
	}

	next := timewindow.New(start, start.Add(rule.SlotDurationMinutes))
	if !rule.Window().Contains(next) {
		return apperrors.Validation("slot %s must stay within the availability window %s", next, rule.Window())
	}

	day := slot.Date()
	siblings, err := tx.ListSlotsByProviderAndRange(ctx, slot.ProviderID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return wrap(err, "load sibling slots")
	}
	for _, sib := range siblings {
		if sib.ID != slot.ID && next.Overlaps(sib.Window()) {
			return apperrors.Conflict(fmt.Sprintf("slot %s would overlap slot %s", next, sib.Window()))
		}
	}

	startAt := next.Start.On(day)
	endAt := startAt.Add(time.Duration(rule.SlotDurationMinutes) * time.Minute)
	if err := tx.UpdateSlotTimes(ctx, slot.ID, startAt, endAt); err != nil {
		return wrap(err, "move slot")
	}
	return nil
}

// DeleteAvailabilitySlot removes a slot, or with deleteRecurring every slot
// generated by the same rule. Nothing is deleted if any targeted slot still
// has active appointments. The rule is removed together with its last slot.
func (s *Service) DeleteAvailabilitySlot(ctx context.Context, actor Actor, slotID uuid.UUID, deleteRecurring bool) (int, error) {
	if actor.Role != RoleProvider {
		return 0, ErrProviderOnly
	}

	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return 0, wrap(err, "load slot")
	}
	if !actor.IsProvider(slot.ProviderID) {
		return 0, ErrNotSlotOwner
	}

	var deleted int
	err = s.inProvider(ctx, slot.ProviderID, func(ctx context.Context, tx Store) error {
		locked, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			return err
		}

		targets := []Slot{*locked}
		if deleteRecurring {
			targets, err = tx.ListSlotsByRule(ctx, locked.AvailabilityID)
			if err != nil {
				return wrap(err, "load availability slots")
			}
		}

		ids := make([]uuid.UUID, 0, len(targets))
		for _, t := range targets {
			if t.ID != locked.ID {
				if _, err := tx.LockSlot(ctx, t.ID); err != nil {
					return err
				}
			}
			active, err := tx.CountActiveAppointments(ctx, t.ID)
			if err != nil {
				return wrap(err, "count active appointments")
			}
			if active > 0 {
				return apperrors.Conflict(fmt.Sprintf("slot %s on %s has active appointments",
					t.Window(), t.Date().Format(time.DateOnly)))
			}
			ids = append(ids, t.ID)
		}

		if err := tx.DeleteSlots(ctx, ids); err != nil {
			return wrap(err, "delete slots")
		}

		remaining, err := tx.ListSlotsByRule(ctx, locked.AvailabilityID)
		if err != nil {
			return wrap(err, "load availability slots")
		}
		if len(remaining) == 0 {
			if err := tx.DeleteRule(ctx, locked.AvailabilityID); err != nil {
				return wrap(err, "delete availability")
			}
		}

		deleted = len(ids)
		return s.recordEvent(ctx, tx, EventSlotDeleted,
			eventRefs{slot: locked.ID, provider: locked.ProviderID},
			map[string]any{
				"availability_id":   locked.AvailabilityID.String(),
				"delete_recurring":  deleteRecurring,
				"slots_deleted":     len(ids),
				"availability_gone": len(remaining) == 0,
			})
	})
	if err != nil {
		return 0, wrap(err, "delete slot")
	}

	s.logger.Info().
		Str("slot_id", slotID.String()).
		Bool("delete_recurring", deleteRecurring).
		Int("slots_deleted", deleted).
		Msg("slots deleted")

	return deleted, nil
}

type AvailableSlot struct {
	Slot                Slot
	RemainingCapacity   int
	Timezone            string
	Location            *Location
	Pricing             *Pricing
	SpecialRequirements []string
}

type AvailableSlotsRequest struct {
	ProviderID      uuid.UUID
	StartDate       time.Time
	EndDate         time.Time
	AppointmentType AppointmentType // optional
}

// GetAvailableSlots lists the provider's bookable slots in an inclusive date
// range, optionally restricted to one appointment type.
func (s *Service) GetAvailableSlots(ctx context.Context, req AvailableSlotsRequest) ([]AvailableSlot, error) {
	from, to, err := dayRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	apptType := req.AppointmentType
	if apptType != "" && !apptType.Valid() {
		return nil, apperrors.Validation("unknown appointment type %q", apptType)
	}
	if _, err := s.repo.GetProviderByID(ctx, req.ProviderID); err != nil {
		return nil, wrap(err, "load provider")
	}

	slots, err := s.repo.ListSlotsByProviderAndRange(ctx, req.ProviderID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	rules := make(map[uuid.UUID]*AvailabilityRule)
	out := make([]AvailableSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.Status != SlotAvailable {
			continue
		}
		if apptType != "" && slot.AppointmentType != apptType {
			continue
		}

		rule, ok := rules[slot.AvailabilityID]
		if !ok {
			rule, err = s.repo.GetRuleByID(ctx, slot.AvailabilityID)
			if err != nil {
				return nil, wrap(err, "load availability")
			}
			rules[slot.AvailabilityID] = rule
		}

		active, err := s.repo.CountActiveAppointments(ctx, slot.ID)
		if err != nil {
			return nil, fmt.Errorf("count active appointments: %w", err)
		}
		remaining := rule.MaxAppointmentsPerSlot - active
		if remaining <= 0 {
			continue
		}

		out = append(out, AvailableSlot{
			Slot:                slot,
			RemainingCapacity:   remaining,
			Timezone:            rule.Timezone,
			Location:            rule.Location,
			Pricing:             rule.Pricing,
			SpecialRequirements: rule.SpecialRequirements,
		})
	}
	return out, nil
}

// dayRange truncates start and end to calendar days and checks they form an
// inclusive range of at most MaxSearchRangeDay days.
func dayRange(start, end time.Time) (from, to time.Time, err error) {
	from, to = recurrence.Day(start), recurrence.Day(end)
	switch {
	case start.IsZero() || end.IsZero():
		return time.Time{}, time.Time{}, apperrors.Validation("start and end date are required")
	case to.Before(from):
		return time.Time{}, time.Time{}, apperrors.Validation("end date must not be before start date")
	case to.Sub(from) > MaxSearchRangeDay*24*time.Hour:
		return time.Time{}, time.Time{}, apperrors.Validation("date range must be at most %d days", MaxSearchRangeDay)
	}
	return from, to, nil
}

type ProviderAvailabilityRequest struct {
	ProviderID      uuid.UUID
	StartDate       time.Time
	EndDate         time.Time
	Status          SlotStatus      // optional
	AppointmentType AppointmentType // optional
}

type DaySlots struct {
	Date  time.Time
	Slots []Slot
}

type AvailabilitySummary struct {
	TotalSlots     int
	AvailableSlots int
	BookedSlots    int
	CancelledSlots int
	BlockedSlots   int
}

type ProviderAvailability struct {
	ProviderID uuid.UUID
	DateRange  DateRange
	Days       []DaySlots
	Summary    AvailabilitySummary
}

// GetProviderAvailability returns the provider's slots in an inclusive date
// range, grouped by day, with per-status totals.
func (s *Service) GetProviderAvailability(ctx context.Context, req ProviderAvailabilityRequest) (*ProviderAvailability, error) {
	from, to, err := dayRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetProviderByID(ctx, req.ProviderID); err != nil {
		return nil, wrap(err, "load provider")
	}

	slots, err := s.repo.ListSlotsByProviderAndRange(ctx, req.ProviderID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	result := &ProviderAvailability{
		ProviderID: req.ProviderID,
		DateRange:  DateRange{Start: from, End: to},
	}
	for _, slot := range slots {
		if req.Status != "" && slot.Status != req.Status {
			continue
		}
		if req.AppointmentType != "" && slot.AppointmentType != req.AppointmentType {
			continue
		}

		n := len(result.Days)
		if n == 0 || !result.Days[n-1].Date.Equal(slot.Date()) {
			result.Days = append(result.Days, DaySlots{Date: slot.Date()})
			n++
		}
		result.Days[n-1].Slots = append(result.Days[n-1].Slots, slot)

		result.Summary.TotalSlots++
		switch slot.Status {
		case SlotAvailable:
			result.Summary.AvailableSlots++
		case SlotBooked:
			result.Summary.BookedSlots++
		case SlotCancelled:
			result.Summary.CancelledSlots++
		case SlotBlocked:
			result.Summary.BlockedSlots++
		}
	}
	return result, nil
}
