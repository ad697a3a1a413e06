package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
)

var (
	ErrProviderNotFound    = apperrors.NotFound("provider not found")
	ErrPatientNotFound     = apperrors.NotFound("patient not found")
	ErrRuleNotFound        = apperrors.NotFound("availability not found")
	ErrSlotNotFound        = apperrors.NotFound("slot not found")
	ErrAppointmentNotFound = apperrors.NotFound("appointment not found")

	// ErrDuplicateReference is returned by inserts that hit an existing
	// booking reference.
	ErrDuplicateReference = apperrors.Conflict("booking reference already in use")
)

// Store is the persistence surface the service uses, both directly and
// inside a transaction.
type Store interface {
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetRuleByID(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// LockSlot loads the slot and holds a row lock on it until the
	// transaction ends.
	LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// LockProvider serializes availability changes for one provider until
	// the transaction ends.
	LockProvider(ctx context.Context, id uuid.UUID) error

	// ListSlotsByProviderAndRange returns slots starting in [from, to), by start time.
	ListSlotsByProviderAndRange(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Slot, error)
	ListSlotsByRule(ctx context.Context, ruleID uuid.UUID) ([]Slot, error)
	CountActiveAppointments(ctx context.Context, slotID uuid.UUID) (int, error)
	FindActiveAppointmentsForPatientAt(ctx context.Context, patientID uuid.UUID, at time.Time) ([]Appointment, error)
	// ReferencesInUse returns the subset of refs already taken by a slot or appointment.
	ReferencesInUse(ctx context.Context, refs []string) (map[string]bool, error)

	CreateRule(ctx context.Context, rule *AvailabilityRule) error
	UpdateRuleNotes(ctx context.Context, id uuid.UUID, notes string) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
	CreateSlots(ctx context.Context, slots []Slot) error
	UpdateSlotTimes(ctx context.Context, id uuid.UUID, start, end time.Time) error
	UpdateSlotStatus(ctx context.Context, id uuid.UUID, status SlotStatus) error
	DeleteSlots(ctx context.Context, ids []uuid.UUID) error

	CreateAppointment(ctx context.Context, appt *Appointment) error
	// UpdateAppointmentStatus moves the appointment to `to` only if its
	// current status is one of from. It returns ErrAppointmentNotFound when
	// no row matched.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus, reason string) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// SlotQuery selects AVAILABLE slots for search. Empty or nil filters match
// everything; Location is a case-insensitive substring of the rule's address.
type SlotQuery struct {
	From              time.Time
	To                time.Time
	Specialization    string
	AppointmentType   AppointmentType
	Location          string
	LocationType      LocationType
	InsuranceAccepted *bool
	MaxPrice          *float64
	Timezone          string
	// Limit caps the number of listings returned. Zero means no cap.
	Limit int
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Store

	GetAppointmentByReference(ctx context.Context, ref string) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error)
	SearchSlots(ctx context.Context, q SlotQuery) ([]SlotListing, error)

	// FindStalePending returns PENDING appointments created before cutoff.
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)

	// WithinTx runs fn in a single transaction. Returning an error rolls it back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
