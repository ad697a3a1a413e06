package appointment

import (
	"time"
	_ "time/tzdata" // timezone checks must not depend on the host's zoneinfo

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
	"github.com/hackgods/provider-availability-booking/internal/recurrence"
)

const (
	MinSlotDuration   = 15
	MaxSlotDuration   = 480
	MaxBreakDuration  = 120
	MaxPerSlot        = 10
	MaxFee            = 10000
	MaxNotesLen       = 500
	MaxReasonLen      = 1000
	MaxAddressLen     = 500
	MaxRoomLen        = 50
	MaxCurrencyLen    = 3
	DefaultCurrency   = "USD"
	MaxSearchRangeDay = 92
	MaxSearchSlots    = 5000
)

func (r *CreateAvailabilityRequest) normalize() {
	if r.MaxAppointmentsPerSlot == 0 {
		r.MaxAppointmentsPerSlot = 1
	}
	if r.AppointmentType == "" {
		r.AppointmentType = TypeConsultation
	}
	// copies keep the defaults and the stored rule off the caller's structs
	if r.Location != nil {
		loc := *r.Location
		r.Location = &loc
	}
	if r.Pricing != nil {
		price := *r.Pricing
		if price.Currency == "" {
			price.Currency = DefaultCurrency
		}
		r.Pricing = &price
	}
}

func (r CreateAvailabilityRequest) validate() error {
	switch {
	case r.Date.IsZero():
		return apperrors.Validation("date is required")
	case !r.StartTime.Valid() || !r.EndTime.Valid():
		return apperrors.Validation("start and end time must be within the day")
	case r.StartTime >= r.EndTime:
		return apperrors.Validation("start time %s must be before end time %s", r.StartTime, r.EndTime)
	case r.Timezone == "":
		return apperrors.Validation("timezone is required")
	case r.SlotDurationMinutes < MinSlotDuration || r.SlotDurationMinutes > MaxSlotDuration:
		return apperrors.Validation("slot duration must be between %d and %d minutes", MinSlotDuration, MaxSlotDuration)
	case r.BreakDurationMinutes < 0 || r.BreakDurationMinutes > MaxBreakDuration:
		return apperrors.Validation("break duration must be between 0 and %d minutes", MaxBreakDuration)
	case r.MaxAppointmentsPerSlot < 1 || r.MaxAppointmentsPerSlot > MaxPerSlot:
		return apperrors.Validation("max appointments per slot must be between 1 and %d", MaxPerSlot)
	case !r.AppointmentType.Valid():
		return apperrors.Validation("unknown appointment type %q", r.AppointmentType)
	case len(r.Notes) > MaxNotesLen:
		return apperrors.Validation("notes must be at most %d characters", MaxNotesLen)
	}

	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return apperrors.Validation("unknown timezone %q", r.Timezone)
	}

	if loc := r.Location; loc != nil {
		switch {
		case !loc.Type.Valid():
			return apperrors.Validation("unknown location type %q", loc.Type)
		case len(loc.Address) > MaxAddressLen:
			return apperrors.Validation("address must be at most %d characters", MaxAddressLen)
		case len(loc.Room) > MaxRoomLen:
			return apperrors.Validation("room number must be at most %d characters", MaxRoomLen)
		}
	}

	if p := r.Pricing; p != nil {
		switch {
		case p.BaseFee < 0 || p.BaseFee > MaxFee:
			return apperrors.Validation("base fee must be between 0 and %d", MaxFee)
		case len(p.Currency) > MaxCurrencyLen:
			return apperrors.Validation("currency must be at most %d characters", MaxCurrencyLen)
		}
	}

	return nil
}

func (r BookAppointmentRequest) validate() error {
	switch {
	case !r.Mode.Valid():
		return apperrors.Validation("unknown appointment mode %q", r.Mode)
	case r.AppointmentType != "" && !r.AppointmentType.Valid():
		return apperrors.Validation("unknown appointment type %q", r.AppointmentType)
	case r.EstimatedAmount != nil && (*r.EstimatedAmount < 0 || *r.EstimatedAmount > MaxFee):
		return apperrors.Validation("estimated amount must be between 0 and %d", MaxFee)
	case len(r.Reason) > MaxReasonLen:
		return apperrors.Validation("reason must be at most %d characters", MaxReasonLen)
	}
	return nil
}

func (r UpdateSlotRequest) validate() error {
	if r.StartTime == nil && r.Status == nil && r.Notes == nil {
		return apperrors.Validation("nothing to update")
	}
	if r.StartTime != nil && !r.StartTime.Valid() {
		return apperrors.Validation("start time must be within the day")
	}
	if r.Status != nil && *r.Status != SlotBlocked && *r.Status != SlotAvailable {
		return apperrors.Validation("slot status can only be set to %s or %s", SlotAvailable, SlotBlocked)
	}
	if r.Notes != nil && len(*r.Notes) > MaxNotesLen {
		return apperrors.Validation("notes must be at most %d characters", MaxNotesLen)
	}
	return nil
}

// resolve turns the request into an inclusive [from, to] day range.
func (r SearchRequest) resolve() (from, to time.Time, err error) {
	switch {
	case r.Date != nil:
		d := recurrence.Day(*r.Date)
		return d, d, nil
	case r.StartDate != nil && r.EndDate != nil:
		from, to = recurrence.Day(*r.StartDate), recurrence.Day(*r.EndDate)
		if to.Before(from) {
			return time.Time{}, time.Time{}, apperrors.Validation("end date must not be before start date")
		}
		if to.Sub(from) > MaxSearchRangeDay*24*time.Hour {
			return time.Time{}, time.Time{}, apperrors.Validation("search range must be at most %d days", MaxSearchRangeDay)
		}
		return from, to, nil
	default:
		return time.Time{}, time.Time{}, apperrors.Validation("either a date or a start and end date is required")
	}
}
