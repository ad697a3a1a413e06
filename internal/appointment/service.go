package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
	"github.com/hackgods/provider-availability-booking/internal/config"
)

var (
	ErrSlotNotAvailable       = apperrors.Conflict("slot is not available")
	ErrSlotFull               = apperrors.Capacity("slot has reached its maximum number of appointments")
	ErrOverlappingAppointment = apperrors.Conflict("patient already has an appointment at this time")
	ErrAlreadyCancelled       = apperrors.Conflict("appointment is already cancelled")
	ErrNotPending             = apperrors.Conflict("only pending appointments can be confirmed")
	ErrSlotHasBookings        = apperrors.Conflict("slot has active appointments")
	ErrSlotCancelled          = apperrors.Conflict("slot is cancelled")

	ErrProviderOnly           = apperrors.Authorization("only providers can manage availability")
	ErrPatientOnly            = apperrors.Authorization("only patients can book appointments")
	ErrNotSlotOwner           = apperrors.Authorization("slot belongs to another provider")
	ErrNotAppointmentParty    = apperrors.Authorization("only the patient or provider of the appointment can cancel it")
	ErrNotAppointmentProvider = apperrors.Authorization("only the provider of the appointment can confirm it")
)

type Service struct {
	repo   Repository
	locker Locker
	cfg    config.Config
	logger zerolog.Logger
	now    func() time.Time

	// searchCap bounds the slots one search may match.
	searchCap int
}

func NewService(repo Repository, locker Locker, cfg config.Config, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		logger: logger.With().Str("component", "appointment").Logger(),
		now:    time.Now,

		searchCap: MaxSearchSlots,
	}
}

// inSlot runs fn under the slot's lock and inside a transaction that holds
// the slot row. Bookings on one slot are serialized here.
func (s *Service) inSlot(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context, tx Store, slot *Slot) error) error {
	return s.locker.WithLock(ctx, slotLockKey(slotID), func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Store) error {
			slot, err := tx.LockSlot(ctx, slotID)
			if err != nil {
				return err
			}
			return fn(ctx, tx, slot)
		})
	})
}

// inProvider serializes availability changes for one provider.
func (s *Service) inProvider(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context, tx Store) error) error {
	return s.locker.WithLock(ctx, providerLockKey(providerID), func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Store) error {
			if err := tx.LockProvider(ctx, providerID); err != nil {
				return err
			}
			return fn(ctx, tx)
		})
	})
}

// wrap returns business errors unchanged and adds op context to anything else.
func wrap(err error, op string) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// GetAppointment returns the appointment with its slot, patient and provider.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, wrap(err, "get appointment")
	}
	return s.hydrate(ctx, appt)
}

func (s *Service) GetAppointmentByReference(ctx context.Context, ref string) (*AppointmentDetail, error) {
	appt, err := s.repo.GetAppointmentByReference(ctx, ref)
	if err != nil {
		return nil, wrap(err, "get appointment by reference")
	}
	return s.hydrate(ctx, appt)
}

func (s *Service) hydrate(ctx context.Context, appt *Appointment) (*AppointmentDetail, error) {
	detail := &AppointmentDetail{Appointment: *appt}

	if appt.SlotID != uuid.Nil {
		slot, err := s.repo.GetSlotByID(ctx, appt.SlotID)
		switch {
		case err == nil:
			detail.Slot = slot
		case !errors.Is(err, ErrSlotNotFound):
			return nil, wrap(err, "load slot")
		}
	}

	patient, err := s.repo.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		return nil, wrap(err, "load patient")
	}
	detail.Patient = patient

	provider, err := s.repo.GetProviderByID(ctx, appt.ProviderID)
	if err != nil {
		return nil, wrap(err, "load provider")
	}
	detail.Provider = provider

	return detail, nil
}

// ClampPage applies the listing defaults: 20 per page, at most 100.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = ClampPage(limit, offset)
	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListAppointmentsByProvider retrieves appointments for a specific provider
func (s *Service) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = ClampPage(limit, offset)
	appointments, err := s.repo.ListAppointmentsByProvider(ctx, providerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by provider: %w", err)
	}
	return appointments, nil
}
