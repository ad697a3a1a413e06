package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
)

type BookAppointmentRequest struct {
	SlotID          uuid.UUID
	Mode            AppointmentMode
	AppointmentType AppointmentType // defaults to the slot's type
	EstimatedAmount *float64        // defaults to the base fee, or 0
	Reason          string
}

// BookAppointment books a slot for the calling patient.
//
// The slot, provider and patient are checked first; the capacity and
// patient-overlap checks and the insert then run under the slot lock, so two
// concurrent bookings cannot both take the last place.
func (s *Service) BookAppointment(ctx context.Context, actor Actor, req BookAppointmentRequest) (*Appointment, error) {
	if actor.Role != RolePatient {
		return nil, ErrPatientOnly
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	slot, err := s.repo.GetSlotByID(ctx, req.SlotID)
	if err != nil {
		return nil, wrap(err, "load slot")
	}
	if slot.Status != SlotAvailable {
		return nil, ErrSlotNotAvailable
	}

	provider, err := s.repo.GetProviderByID(ctx, slot.ProviderID)
	if err != nil {
		return nil, wrap(err, "load provider")
	}
	patient, err := s.repo.GetPatientByID(ctx, actor.ID)
	if err != nil {
		return nil, wrap(err, "load patient")
	}

	var created *Appointment

	err = s.inSlot(ctx, slot.ID, func(ctx context.Context, tx Store, locked *Slot) error {
		// Re-check everything that may have changed since the unlocked read.
		if locked.Status != SlotAvailable {
			return ErrSlotNotAvailable
		}

		rule, err := tx.GetRuleByID(ctx, locked.AvailabilityID)
		if err != nil {
			return wrap(err, "load availability")
		}

		active, err := tx.CountActiveAppointments(ctx, locked.ID)
		if err != nil {
			return wrap(err, "count active appointments")
		}
		if active >= rule.MaxAppointmentsPerSlot {
			return ErrSlotFull
		}

		clashes, err := tx.FindActiveAppointmentsForPatientAt(ctx, patient.ID, locked.StartTime)
		if err != nil {
			return wrap(err, "check patient appointments")
		}
		if len(clashes) > 0 {
			return ErrOverlappingAppointment
		}

		refs, err := reserveReferences(ctx, tx, 1, func(int) string {
			return AppointmentReference(provider.ID, patient.ID, locked.StartTime)
		})
		if err != nil {
			return err
		}

		appt := &Appointment{
			ID:               uuid.New(),
			SlotID:           locked.ID,
			ProviderID:       provider.ID,
			PatientID:        patient.ID,
			Mode:             req.Mode,
			AppointmentType:  req.AppointmentType,
			EstimatedAmount:  estimatedAmount(req.EstimatedAmount, rule),
			DateTime:         locked.StartTime,
			Reason:           req.Reason,
			Status:           StatusConfirmed,
			BookingReference: refs[0],
			CreatedAt:        s.now(),
			UpdatedAt:        s.now(),
		}
		if appt.AppointmentType == "" {
			appt.AppointmentType = locked.AppointmentType
		}
		if !s.cfg.AutoConfirmBookings {
			appt.Status = StatusPending
		}

		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return wrap(err, "create appointment")
		}

		slotStatus, err := reconcileSlot(ctx, tx, locked.ID)
		if err != nil {
			return err
		}

		if err := s.recordEvent(ctx, tx, EventAppointmentBooked,
			eventRefs{appointment: appt.ID, slot: locked.ID, provider: provider.ID},
			map[string]any{
				"patient_id":        patient.ID.String(),
				"status":            appt.Status,
				"booking_reference": appt.BookingReference,
				"slot_status":       slotStatus,
			}); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, wrap(err, "book appointment")
	}

	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("slot_id", created.SlotID.String()).
		Str("booking_reference", created.BookingReference).
		Str("status", string(created.Status)).
		Msg("appointment booked")

	return created, nil
}

func estimatedAmount(requested *float64, rule *AvailabilityRule) float64 {
	if requested != nil {
		return *requested
	}
	if rule.Pricing != nil {
		return rule.Pricing.BaseFee
	}
	return 0
}

// CancelAppointment cancels an active appointment on behalf of its patient or
// its provider and frees the place on the slot.
func (s *Service) CancelAppointment(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	if len(reason) > MaxReasonLen {
		return nil, apperrors.Validation("cancellation reason must be at most %d characters", MaxReasonLen)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, wrap(err, "load appointment")
	}
	if !actor.IsPatient(appt.PatientID) && !actor.IsProvider(appt.ProviderID) {
		return nil, ErrNotAppointmentParty
	}
	if appt.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	cancelled, err := s.cancelInSlot(ctx, appt, reason, EventAppointmentCancelled, map[string]any{
		"cancelled_by": string(actor.Role),
		"reason":       reason,
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrAlreadyCancelled
		}
		return nil, wrap(err, "cancel appointment")
	}

	s.logger.Info().
		Str("appointment_id", cancelled.ID.String()).
		Str("slot_id", cancelled.SlotID.String()).
		Str("cancelled_by", string(actor.Role)).
		Msg("appointment cancelled")

	return cancelled, nil
}

// cancelInSlot moves an active appointment to CANCELLED and reconciles its
// slot. ErrAppointmentNotFound means it was no longer active.
func (s *Service) cancelInSlot(ctx context.Context, appt *Appointment, reason, eventType string, payload map[string]any) (*Appointment, error) {
	var cancelled *Appointment

	err := s.inSlot(ctx, appt.SlotID, func(ctx context.Context, tx Store, slot *Slot) error {
		updated, err := tx.UpdateAppointmentStatus(ctx, appt.ID, ActiveStatuses, StatusCancelled, reason)
		if err != nil {
			return err
		}

		slotStatus, err := reconcileSlot(ctx, tx, slot.ID)
		if err != nil {
			return err
		}
		payload["slot_status"] = slotStatus

		if err := s.recordEvent(ctx, tx, eventType,
			eventRefs{appointment: updated.ID, slot: slot.ID, provider: updated.ProviderID},
			payload); err != nil {
			return err
		}

		cancelled = updated
		return nil
	})
	return cancelled, err
}

// ConfirmAppointment moves a pending appointment to confirmed. Only the
// appointment's provider may confirm.
func (s *Service) ConfirmAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, wrap(err, "load appointment")
	}
	if !actor.IsProvider(appt.ProviderID) {
		return nil, ErrNotAppointmentProvider
	}
	if appt.Status != StatusPending {
		return nil, ErrNotPending
	}

	var confirmed *Appointment
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		updated, err := tx.UpdateAppointmentStatus(ctx, appt.ID, []AppointmentStatus{StatusPending}, StatusConfirmed, "")
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrNotPending
		}
		if err != nil {
			return err
		}

		if err := s.recordEvent(ctx, tx, EventAppointmentConfirmed,
			eventRefs{appointment: updated.ID, slot: updated.SlotID, provider: updated.ProviderID},
			nil); err != nil {
			return err
		}

		confirmed = updated
		return nil
	})
	if err != nil {
		return nil, wrap(err, "confirm appointment")
	}

	s.logger.Info().Str("appointment_id", confirmed.ID.String()).Msg("appointment confirmed")
	return confirmed, nil
}
