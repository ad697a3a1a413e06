package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
	"github.com/hackgods/provider-availability-booking/internal/appointment"
	"github.com/hackgods/provider-availability-booking/internal/logging"
	redisclient "github.com/hackgods/provider-availability-booking/internal/redis"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

var kindStatus = map[apperrors.Kind]int{
	apperrors.KindValidation:    http.StatusBadRequest,
	apperrors.KindNotFound:      http.StatusNotFound,
	apperrors.KindConflict:      http.StatusConflict,
	apperrors.KindCapacity:      http.StatusConflict,
	apperrors.KindAuthorization: http.StatusForbidden,
	apperrors.KindTimeout:       http.StatusGatewayTimeout,
	apperrors.KindInternal:      http.StatusInternalServerError,
}

var kindCode = map[apperrors.Kind]string{
	apperrors.KindValidation:    "validation_error",
	apperrors.KindNotFound:      "not_found",
	apperrors.KindConflict:      "conflict",
	apperrors.KindCapacity:      "capacity_exceeded",
	apperrors.KindAuthorization: "forbidden",
	apperrors.KindTimeout:       "timeout",
	apperrors.KindInternal:      "internal_error",
}

// sentinelCodes gives well-known errors a more specific code than their kind.
var sentinelCodes = []struct {
	err  error
	code string
}{
	{redisclient.ErrLockNotAcquired, "slot_being_booked"},
	{appointment.ErrSlotNotFound, "slot_not_found"},
	{appointment.ErrProviderNotFound, "provider_not_found"},
	{appointment.ErrPatientNotFound, "patient_not_found"},
	{appointment.ErrAppointmentNotFound, "appointment_not_found"},
	{appointment.ErrSlotNotAvailable, "slot_not_available"},
	{appointment.ErrSlotFull, "slot_full"},
	{appointment.ErrOverlappingAppointment, "overlapping_appointment"},
	{appointment.ErrAlreadyCancelled, "already_cancelled"},
	{appointment.ErrNotPending, "invalid_status_transition"},
}

// writeAppError maps err to a status by its kind. Internal details are
// logged, never returned.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperrors.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		kind, status = apperrors.KindInternal, http.StatusInternalServerError
	}

	code := kindCode[kind]
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			code = s.code
			break
		}
	}

	details := err.Error()
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if kind == apperrors.KindInternal {
			details = "internal server error"
		}
	}

	writeError(w, status, code, details)
}
