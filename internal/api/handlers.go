package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/provider-availability-booking/internal/appointment"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (appointment.Actor, bool) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated",
			HeaderActorRole+" and "+HeaderActorID+" headers are required")
	}
	return actor, ok
}

// queryParams parses optional query values and keeps the first error.
type queryParams struct {
	values url.Values
	err    error
	field  string
}

func (q *queryParams) fail(field string, err error) {
	if q.err == nil {
		q.err, q.field = err, field
	}
}

func (q *queryParams) getDate(key string) *time.Time {
	raw := q.values.Get(key)
	if raw == "" {
		return nil
	}
	var d Date
	if err := d.UnmarshalText([]byte(raw)); err != nil {
		q.fail(key, err)
		return nil
	}
	return &d.Time
}

func (q *queryParams) getInt(key string) int {
	raw := q.values.Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		q.fail(key, err)
	}
	return n
}

func (q *queryParams) getBool(key string) *bool {
	raw := q.values.Get(key)
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		q.fail(key, err)
		return nil
	}
	return &b
}

func (q *queryParams) getFloat(key string) *float64 {
	raw := q.values.Get(key)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		q.fail(key, err)
		return nil
	}
	return &f
}

func (q *queryParams) ok(w http.ResponseWriter) bool {
	if q.err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", q.field+": "+q.err.Error())
		return false
	}
	return true
}

func createAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CreateAvailabilityRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := svc.CreateAvailability(r.Context(), actor, req.model())
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateAvailabilityResponse{
			AvailabilityID: res.Rule.ID,
			SlotsCreated:   res.SlotsCreated,
			TotalCapacity:  res.TotalCapacity,
			DateRange:      dateRange(res.DateRange),
			Availability:   availabilityResponse(res.Rule),
			Slots:          slotResponses(res.Slots),
		})
	}
}

func searchAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := &queryParams{values: r.URL.Query()}
		req := appointment.SearchRequest{
			Date:              q.getDate("date"),
			StartDate:         q.getDate("start_date"),
			EndDate:           q.getDate("end_date"),
			Specialization:    q.values.Get("specialization"),
			Location:          q.values.Get("location"),
			LocationType:      appointment.LocationType(q.values.Get("location_type")),
			AppointmentType:   appointment.AppointmentType(q.values.Get("appointment_type")),
			InsuranceAccepted: q.getBool("insurance_accepted"),
			MaxPrice:          q.getFloat("max_price"),
			Timezone:          q.values.Get("timezone"),
		}
		if !q.ok(w) {
			return
		}

		res, err := svc.SearchAvailability(r.Context(), req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, searchResponse(res))
	}
}

func providerAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "id", "invalid_provider_id")
		if !ok {
			return
		}

		q := &queryParams{values: r.URL.Query()}
		start, end := q.getDate("start_date"), q.getDate("end_date")
		if !q.ok(w) {
			return
		}
		if start == nil || end == nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "start_date and end_date are required")
			return
		}

		res, err := svc.GetProviderAvailability(r.Context(), appointment.ProviderAvailabilityRequest{
			ProviderID:      providerID,
			StartDate:       *start,
			EndDate:         *end,
			Status:          appointment.SlotStatus(q.values.Get("status")),
			AppointmentType: appointment.AppointmentType(q.values.Get("appointment_type")),
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, providerAvailabilityResponse(res))
	}
}

func availableSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "id", "invalid_provider_id")
		if !ok {
			return
		}

		// date is shorthand for start_date=end_date=date
		q := &queryParams{values: r.URL.Query()}
		day := q.getDate("date")
		start, end := q.getDate("start_date"), q.getDate("end_date")
		if !q.ok(w) {
			return
		}
		if day != nil {
			start, end = day, day
		}
		if start == nil || end == nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "date or start_date and end_date are required")
			return
		}

		slots, err := svc.GetAvailableSlots(r.Context(), appointment.AvailableSlotsRequest{
			ProviderID:      providerID,
			StartDate:       *start,
			EndDate:         *end,
			AppointmentType: appointment.AppointmentType(q.values.Get("appointment_type")),
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, availableSlotsResponse(slots))
	}
}

func updateSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		slotID, ok := pathUUID(w, r, "id", "invalid_slot_id")
		if !ok {
			return
		}

		var req UpdateSlotRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		slot, err := svc.UpdateAvailabilitySlot(r.Context(), actor, slotID, req.model())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, slotResponse(*slot))
	}
}

func deleteSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		slotID, ok := pathUUID(w, r, "id", "invalid_slot_id")
		if !ok {
			return
		}

		q := &queryParams{values: r.URL.Query()}
		recurring := q.getBool("delete_recurring")
		if !q.ok(w) {
			return
		}

		n, err := svc.DeleteAvailabilitySlot(r.Context(), actor, slotID, recurring != nil && *recurring)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, DeleteSlotResponse{SlotsDeleted: n})
	}
}

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req BookAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		appt, err := svc.BookAppointment(r.Context(), actor, appointment.BookAppointmentRequest{
			SlotID:          slotID,
			Mode:            appointment.AppointmentMode(req.Mode),
			AppointmentType: appointment.AppointmentType(req.AppointmentType),
			EstimatedAmount: req.EstimatedAmount,
			Reason:          req.Reason,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, appointmentResponse(*appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentDetailResponse(detail))
	}
}

func getAppointmentByReferenceHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := svc.GetAppointmentByReference(r.Context(), chi.URLParam(r, "ref"))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentDetailResponse(detail))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), actor, id, req.Reason)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(*appt))
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.ConfirmAppointment(r.Context(), actor, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(*appt))
	}
}

type listFunc func(svc *appointment.Service, r *http.Request, id uuid.UUID, limit, offset int) ([]appointment.Appointment, error)

func listAppointmentsHandler(svc *appointment.Service, code string, list listFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", code)
		if !ok {
			return
		}

		q := &queryParams{values: r.URL.Query()}
		limit, offset := appointment.ClampPage(q.getInt("limit"), q.getInt("offset"))
		if !q.ok(w) {
			return
		}

		appts, err := list(svc, r, id, limit, offset)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ListAppointmentsResponse{
			Appointments: appointmentResponses(appts),
			Limit:        limit,
			Offset:       offset,
		})
	}
}

func listPatientAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return listAppointmentsHandler(svc, "invalid_patient_id",
		func(svc *appointment.Service, r *http.Request, id uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
			return svc.ListAppointmentsByPatient(r.Context(), id, limit, offset)
		})
}

func listProviderAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return listAppointmentsHandler(svc, "invalid_provider_id",
		func(svc *appointment.Service, r *http.Request, id uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
			return svc.ListAppointmentsByProvider(r.Context(), id, limit, offset)
		})
}
