package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability-booking/internal/appointment"
	"github.com/hackgods/provider-availability-booking/internal/recurrence"
	"github.com/hackgods/provider-availability-booking/internal/timewindow"
)

// Date is a calendar date encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.Format(time.DateOnly)), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	t, err := time.Parse(time.DateOnly, string(b))
	if err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", b)
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(time.DateOnly) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date %s, expected YYYY-MM-DD", s)
	}
	return d.UnmarshalText([]byte(s[1 : len(s)-1]))
}

func datePtr(d *Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

type LocationPayload struct {
	Type       string `json:"type"`
	Address    string `json:"address,omitempty"`
	RoomNumber string `json:"room_number,omitempty"`
}

type PricingPayload struct {
	BaseFee           float64 `json:"base_fee"`
	InsuranceAccepted bool    `json:"insurance_accepted"`
	Currency          string  `json:"currency,omitempty"`
}

func (l *LocationPayload) model() *appointment.Location {
	if l == nil {
		return nil
	}
	return &appointment.Location{Type: appointment.LocationType(l.Type), Address: l.Address, Room: l.RoomNumber}
}

func (p *PricingPayload) model() *appointment.Pricing {
	if p == nil {
		return nil
	}
	return &appointment.Pricing{BaseFee: p.BaseFee, InsuranceAccepted: p.InsuranceAccepted, Currency: p.Currency}
}

func locationPayload(l *appointment.Location) *LocationPayload {
	if l == nil {
		return nil
	}
	return &LocationPayload{Type: string(l.Type), Address: l.Address, RoomNumber: l.Room}
}

func pricingPayload(p *appointment.Pricing) *PricingPayload {
	if p == nil {
		return nil
	}
	return &PricingPayload{BaseFee: p.BaseFee, InsuranceAccepted: p.InsuranceAccepted, Currency: p.Currency}
}

type CreateAvailabilityRequest struct {
	Date                   Date             `json:"date"`
	StartTime              timewindow.Clock `json:"start_time"`
	EndTime                timewindow.Clock `json:"end_time"`
	Timezone               string           `json:"timezone"`
	IsRecurring            bool             `json:"is_recurring"`
	RecurrencePattern      string           `json:"recurrence_pattern,omitempty"`
	RecurrenceEndDate      *Date            `json:"recurrence_end_date,omitempty"`
	SlotDuration           int              `json:"slot_duration"`
	BreakDuration          int              `json:"break_duration"`
	MaxAppointmentsPerSlot int              `json:"max_appointments_per_slot"`
	AppointmentType        string           `json:"appointment_type,omitempty"`
	Location               *LocationPayload `json:"location,omitempty"`
	Pricing                *PricingPayload  `json:"pricing,omitempty"`
	Notes                  string           `json:"notes,omitempty"`
	SpecialRequirements    []string         `json:"special_requirements,omitempty"`
}

func (r CreateAvailabilityRequest) model() appointment.CreateAvailabilityRequest {
	return appointment.CreateAvailabilityRequest{
		Date:                   r.Date.Time,
		StartTime:              r.StartTime,
		EndTime:                r.EndTime,
		Timezone:               r.Timezone,
		IsRecurring:            r.IsRecurring,
		RecurrencePattern:      recurrence.Pattern(r.RecurrencePattern),
		RecurrenceEndDate:      datePtr(r.RecurrenceEndDate),
		SlotDurationMinutes:    r.SlotDuration,
		BreakDurationMinutes:   r.BreakDuration,
		MaxAppointmentsPerSlot: r.MaxAppointmentsPerSlot,
		AppointmentType:        appointment.AppointmentType(r.AppointmentType),
		Location:               r.Location.model(),
		Pricing:                r.Pricing.model(),
		Notes:                  r.Notes,
		SpecialRequirements:    r.SpecialRequirements,
	}
}

type UpdateSlotRequest struct {
	StartTime *timewindow.Clock `json:"start_time,omitempty"`
	Status    *string           `json:"status,omitempty"`
	Notes     *string           `json:"notes,omitempty"`
}

func (r UpdateSlotRequest) model() appointment.UpdateSlotRequest {
	out := appointment.UpdateSlotRequest{StartTime: r.StartTime, Notes: r.Notes}
	if r.Status != nil {
		s := appointment.SlotStatus(*r.Status)
		out.Status = &s
	}
	return out
}

type BookAppointmentRequest struct {
	SlotID          string   `json:"slot_id"`
	Mode            string   `json:"mode"`
	AppointmentType string   `json:"appointment_type,omitempty"`
	EstimatedAmount *float64 `json:"estimated_amount,omitempty"`
	Reason          string   `json:"reason,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type DateRangeResponse struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

func dateRange(r appointment.DateRange) DateRangeResponse {
	return DateRangeResponse{Start: Date{r.Start}, End: Date{r.End}}
}

type AvailabilityResponse struct {
	ID                     uuid.UUID        `json:"id"`
	ProviderID             uuid.UUID        `json:"provider_id"`
	Date                   Date             `json:"date"`
	StartTime              timewindow.Clock `json:"start_time"`
	EndTime                timewindow.Clock `json:"end_time"`
	Timezone               string           `json:"timezone"`
	IsRecurring            bool             `json:"is_recurring"`
	RecurrencePattern      string           `json:"recurrence_pattern,omitempty"`
	RecurrenceEndDate      *Date            `json:"recurrence_end_date,omitempty"`
	SlotDuration           int              `json:"slot_duration"`
	BreakDuration          int              `json:"break_duration"`
	MaxAppointmentsPerSlot int              `json:"max_appointments_per_slot"`
	AppointmentType        string           `json:"appointment_type"`
	Location               *LocationPayload `json:"location,omitempty"`
	Pricing                *PricingPayload  `json:"pricing,omitempty"`
	Notes                  string           `json:"notes,omitempty"`
	SpecialRequirements    []string         `json:"special_requirements,omitempty"`
	Status                 string           `json:"status"`
}

func availabilityResponse(r appointment.AvailabilityRule) AvailabilityResponse {
	resp := AvailabilityResponse{
		ID:                     r.ID,
		ProviderID:             r.ProviderID,
		Date:                   Date{r.Date},
		StartTime:              r.StartTime,
		EndTime:                r.EndTime,
		Timezone:               r.Timezone,
		IsRecurring:            r.IsRecurring,
		RecurrencePattern:      string(r.RecurrencePattern),
		SlotDuration:           r.SlotDurationMinutes,
		BreakDuration:          r.BreakDurationMinutes,
		MaxAppointmentsPerSlot: r.MaxAppointmentsPerSlot,
		AppointmentType:        string(r.AppointmentType),
		Location:               locationPayload(r.Location),
		Pricing:                pricingPayload(r.Pricing),
		Notes:                  r.Notes,
		SpecialRequirements:    r.SpecialRequirements,
		Status:                 string(r.Status),
	}
	if r.RecurrenceEndDate != nil {
		resp.RecurrenceEndDate = &Date{*r.RecurrenceEndDate}
	}
	return resp
}

type SlotResponse struct {
	ID               uuid.UUID `json:"id"`
	AvailabilityID   uuid.UUID `json:"availability_id"`
	ProviderID       uuid.UUID `json:"provider_id"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Status           string    `json:"status"`
	AppointmentType  string    `json:"appointment_type"`
	BookingReference string    `json:"booking_reference"`
}

func slotResponse(s appointment.Slot) SlotResponse {
	return SlotResponse{
		ID:               s.ID,
		AvailabilityID:   s.AvailabilityID,
		ProviderID:       s.ProviderID,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		Status:           string(s.Status),
		AppointmentType:  string(s.AppointmentType),
		BookingReference: s.BookingReference,
	}
}

func slotResponses(slots []appointment.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse(s))
	}
	return out
}

type CreateAvailabilityResponse struct {
	AvailabilityID uuid.UUID            `json:"availability_id"`
	SlotsCreated   int                  `json:"slots_created"`
	TotalCapacity  int                  `json:"total_appointments_available"`
	DateRange      DateRangeResponse    `json:"date_range"`
	Availability   AvailabilityResponse `json:"availability"`
	Slots          []SlotResponse       `json:"slots"`
}

type SlotOfferResponse struct {
	SlotResponse
	RemainingCapacity   int              `json:"remaining_capacity,omitempty"`
	Timezone            string           `json:"timezone"`
	Location            *LocationPayload `json:"location,omitempty"`
	Pricing             *PricingPayload  `json:"pricing,omitempty"`
	SpecialRequirements []string         `json:"special_requirements,omitempty"`
}

type ProviderSummaryResponse struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Specialization    string    `json:"specialization"`
	YearsOfExperience int       `json:"years_of_experience"`
	ClinicAddress     string    `json:"clinic_address,omitempty"`
}

type ProviderResultResponse struct {
	Provider       ProviderSummaryResponse `json:"provider"`
	AvailableSlots []SlotOfferResponse     `json:"available_slots"`
}

type SearchResponse struct {
	DateRange    DateRangeResponse        `json:"date_range"`
	TotalResults int                      `json:"total_results"`
	Results      []ProviderResultResponse `json:"results"`
}

func searchResponse(res *appointment.SearchResult) SearchResponse {
	out := SearchResponse{
		DateRange:    dateRange(res.DateRange),
		TotalResults: res.TotalResults,
		Results:      make([]ProviderResultResponse, 0, len(res.Results)),
	}
	for _, m := range res.Results {
		pr := ProviderResultResponse{
			Provider: ProviderSummaryResponse{
				ID:                m.Provider.ID,
				Name:              m.Provider.Name,
				Specialization:    m.Provider.Specialization,
				YearsOfExperience: m.Provider.YearsOfExperience,
				ClinicAddress:     m.Provider.ClinicAddress,
			},
			AvailableSlots: make([]SlotOfferResponse, 0, len(m.Slots)),
		}
		for _, s := range m.Slots {
			pr.AvailableSlots = append(pr.AvailableSlots, SlotOfferResponse{
				SlotResponse:        slotResponse(s.Slot),
				Timezone:            s.Timezone,
				Location:            locationPayload(s.Location),
				Pricing:             pricingPayload(s.Pricing),
				SpecialRequirements: s.SpecialRequirements,
			})
		}
		out.Results = append(out.Results, pr)
	}
	return out
}

func availableSlotsResponse(slots []appointment.AvailableSlot) []SlotOfferResponse {
	out := make([]SlotOfferResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotOfferResponse{
			SlotResponse:        slotResponse(s.Slot),
			RemainingCapacity:   s.RemainingCapacity,
			Timezone:            s.Timezone,
			Location:            locationPayload(s.Location),
			Pricing:             pricingPayload(s.Pricing),
			SpecialRequirements: s.SpecialRequirements,
		})
	}
	return out
}

type DaySlotsResponse struct {
	Date  Date           `json:"date"`
	Slots []SlotResponse `json:"slots"`
}

type AvailabilitySummaryResponse struct {
	TotalSlots     int `json:"total_slots"`
	AvailableSlots int `json:"available_slots"`
	BookedSlots    int `json:"booked_slots"`
	CancelledSlots int `json:"cancelled_slots"`
	BlockedSlots   int `json:"blocked_slots"`
}

type ProviderAvailabilityResponse struct {
	ProviderID   uuid.UUID                   `json:"provider_id"`
	DateRange    DateRangeResponse           `json:"date_range"`
	Availability []DaySlotsResponse          `json:"availability"`
	Summary      AvailabilitySummaryResponse `json:"summary"`
}

func providerAvailabilityResponse(pa *appointment.ProviderAvailability) ProviderAvailabilityResponse {
	out := ProviderAvailabilityResponse{
		ProviderID:   pa.ProviderID,
		DateRange:    dateRange(pa.DateRange),
		Availability: make([]DaySlotsResponse, 0, len(pa.Days)),
		Summary: AvailabilitySummaryResponse{
			TotalSlots:     pa.Summary.TotalSlots,
			AvailableSlots: pa.Summary.AvailableSlots,
			BookedSlots:    pa.Summary.BookedSlots,
			CancelledSlots: pa.Summary.CancelledSlots,
			BlockedSlots:   pa.Summary.BlockedSlots,
		},
	}
	for _, d := range pa.Days {
		out.Availability = append(out.Availability, DaySlotsResponse{Date: Date{d.Date}, Slots: slotResponses(d.Slots)})
	}
	return out
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	SlotID             *uuid.UUID `json:"slot_id,omitempty"`
	ProviderID         uuid.UUID  `json:"provider_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	Mode               string     `json:"mode"`
	AppointmentType    string     `json:"appointment_type"`
	EstimatedAmount    float64    `json:"estimated_amount"`
	DateTime           time.Time  `json:"date_time"`
	Reason             string     `json:"reason,omitempty"`
	Status             string     `json:"status"`
	BookingReference   string     `json:"booking_reference"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func appointmentResponse(a appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                 a.ID,
		ProviderID:         a.ProviderID,
		PatientID:          a.PatientID,
		Mode:               string(a.Mode),
		AppointmentType:    string(a.AppointmentType),
		EstimatedAmount:    a.EstimatedAmount,
		DateTime:           a.DateTime,
		Reason:             a.Reason,
		Status:             string(a.Status),
		BookingReference:   a.BookingReference,
		CancellationReason: a.CancellationReason,
		CancelledAt:        a.CancelledAt,
		CreatedAt:          a.CreatedAt,
	}
	if a.SlotID != uuid.Nil {
		id := a.SlotID
		resp.SlotID = &id
	}
	return resp
}

func appointmentResponses(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, appointmentResponse(a))
	}
	return out
}

type PatientResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	Slot     *SlotResponse            `json:"slot,omitempty"`
	Patient  *PatientResponse         `json:"patient,omitempty"`
	Provider *ProviderSummaryResponse `json:"provider,omitempty"`
}

func appointmentDetailResponse(d *appointment.AppointmentDetail) AppointmentDetailResponse {
	out := AppointmentDetailResponse{AppointmentResponse: appointmentResponse(d.Appointment)}
	if d.Slot != nil {
		s := slotResponse(*d.Slot)
		out.Slot = &s
	}
	if p := d.Patient; p != nil {
		out.Patient = &PatientResponse{ID: p.ID, Name: p.FirstName + " " + p.LastName, Email: p.Email}
	}
	if p := d.Provider; p != nil {
		out.Provider = &ProviderSummaryResponse{
			ID:                p.ID,
			Name:              p.Name(),
			Specialization:    p.Specialization,
			YearsOfExperience: p.YearsOfExperience,
			ClinicAddress:     p.ClinicAddress.String(),
		}
	}
	return out
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type DeleteSlotResponse struct {
	SlotsDeleted int `json:"slots_deleted"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
