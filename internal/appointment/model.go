package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability-booking/internal/recurrence"
	"github.com/hackgods/provider-availability-booking/internal/timewindow"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

// ActiveStatuses are the statuses that occupy slot capacity.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed}

func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// SlotStatus is shared by slots and availability rules. MAINTENANCE only
// applies to rules.
type SlotStatus string

const (
	SlotAvailable   SlotStatus = "AVAILABLE"
	SlotBooked      SlotStatus = "BOOKED"
	SlotCancelled   SlotStatus = "CANCELLED"
	SlotBlocked     SlotStatus = "BLOCKED"
	SlotMaintenance SlotStatus = "MAINTENANCE"
)

type AppointmentType string

const (
	TypeConsultation AppointmentType = "CONSULTATION"
	TypeFollowUp     AppointmentType = "FOLLOW_UP"
	TypeEmergency    AppointmentType = "EMERGENCY"
	TypeTelemedicine AppointmentType = "TELEMEDICINE"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeEmergency, TypeTelemedicine:
		return true
	}
	return false
}

type AppointmentMode string

const (
	ModeInPerson  AppointmentMode = "IN_PERSON"
	ModeVideoCall AppointmentMode = "VIDEO_CALL"
	ModeHome      AppointmentMode = "HOME"
)

func (m AppointmentMode) Valid() bool {
	switch m {
	case ModeInPerson, ModeVideoCall, ModeHome:
		return true
	}
	return false
}

type LocationType string

const (
	LocationClinic       LocationType = "CLINIC"
	LocationHospital     LocationType = "HOSPITAL"
	LocationTelemedicine LocationType = "TELEMEDICINE"
	LocationHomeVisit    LocationType = "HOME_VISIT"
)

func (l LocationType) Valid() bool {
	switch l {
	case LocationClinic, LocationHospital, LocationTelemedicine, LocationHomeVisit:
		return true
	}
	return false
}

type Address struct {
	Street string
	City   string
	State  string
	Zip    string
}

// String renders "street, city, state".
func (a Address) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.Street, a.City, a.State} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type Provider struct {
	ID                uuid.UUID
	FirstName         string
	LastName          string
	Specialization    string
	YearsOfExperience int
	ClinicAddress     Address
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (p Provider) Name() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type Patient struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Location struct {
	Type    LocationType
	Address string
	Room    string
}

type Pricing struct {
	BaseFee           float64
	InsuranceAccepted bool
	Currency          string
}

// AvailabilityRule is a provider's offered window on Date, optionally
// repeated by RecurrencePattern until RecurrenceEndDate.
type AvailabilityRule struct {
	ID                     uuid.UUID
	ProviderID             uuid.UUID
	Date                   time.Time
	StartTime              timewindow.Clock
	EndTime                timewindow.Clock
	Timezone               string
	IsRecurring            bool
	RecurrencePattern      recurrence.Pattern
	RecurrenceEndDate      *time.Time
	SlotDurationMinutes    int
	BreakDurationMinutes   int
	MaxAppointmentsPerSlot int
	AppointmentType        AppointmentType
	Location               *Location
	Pricing                *Pricing
	Notes                  string
	SpecialRequirements    []string
	Status                 SlotStatus
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (r AvailabilityRule) Window() timewindow.Window {
	return timewindow.New(r.StartTime, r.EndTime)
}

func (r AvailabilityRule) Recurrence() recurrence.Spec {
	return recurrence.Spec{
		Start:     r.Date,
		Recurring: r.IsRecurring,
		Pattern:   r.RecurrencePattern,
		EndDate:   r.RecurrenceEndDate,
	}
}

// Slot is one bookable interval generated from a rule. Start and end are
// wall-clock times stored with a UTC location.
type Slot struct {
	ID               uuid.UUID
	AvailabilityID   uuid.UUID
	ProviderID       uuid.UUID
	StartTime        time.Time
	EndTime          time.Time
	Status           SlotStatus
	AppointmentType  AppointmentType
	BookingReference string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Date is the slot's calendar day.
func (s Slot) Date() time.Time {
	return recurrence.Day(s.StartTime)
}

// Window is the slot's time of day. A slot ending at midnight keeps an end
// of 24:00 rather than wrapping to 00:00.
func (s Slot) Window() timewindow.Window {
	start := timewindow.ClockOf(s.StartTime)
	return timewindow.New(start, start.Add(int(s.EndTime.Sub(s.StartTime)/time.Minute)))
}

type Appointment struct {
	ID                 uuid.UUID
	SlotID             uuid.UUID
	ProviderID         uuid.UUID
	PatientID          uuid.UUID
	Mode               AppointmentMode
	AppointmentType    AppointmentType
	EstimatedAmount    float64
	DateTime           time.Time
	Reason             string
	Status             AppointmentStatus
	BookingReference   string
	CancellationReason string
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	SlotID        *uuid.UUID
	ProviderID    *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Slot     *Slot
	Patient  *Patient
	Provider *Provider
}

// SlotListing is a slot joined with the rule and provider it belongs to.
type SlotListing struct {
	Slot     Slot
	Rule     AvailabilityRule
	Provider Provider
}

type ActorRole string

const (
	RoleProvider ActorRole = "provider"
	RolePatient  ActorRole = "patient"
)

// Actor is the authenticated caller of a mutating operation.
type Actor struct {
	Role ActorRole
	ID   uuid.UUID
}

func ProviderActor(id uuid.UUID) Actor { return Actor{Role: RoleProvider, ID: id} }
func PatientActor(id uuid.UUID) Actor  { return Actor{Role: RolePatient, ID: id} }

func (a Actor) IsProvider(id uuid.UUID) bool {
	return a.Role == RoleProvider && a.ID == id
}

func (a Actor) IsPatient(id uuid.UUID) bool {
	return a.Role == RolePatient && a.ID == id
}
