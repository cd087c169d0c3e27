package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/physiobook/booking-engine/internal/availability"
	"github.com/physiobook/booking-engine/internal/booking"
	"github.com/physiobook/booking-engine/internal/calendar"
	"github.com/physiobook/booking-engine/internal/payment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps domain errors onto status codes. Retryable errors
// tell the client to refresh availability and try again.
func writeServiceError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal_error"

	switch {
	case errors.Is(err, booking.ErrSlotConflict):
		status, code = http.StatusConflict, "slot_conflict"
	case errors.Is(err, booking.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_status_transition"
	case errors.Is(err, booking.ErrPaymentExists):
		status, code = http.StatusConflict, "payment_exists"
	case errors.Is(err, booking.ErrTherapistUnavailable):
		status, code = http.StatusConflict, "therapist_unavailable"
	case errors.Is(err, booking.ErrPaymentsDisabled):
		status, code = http.StatusConflict, "payments_disabled"
	case errors.Is(err, availability.ErrTemplateOverlap):
		status, code = http.StatusConflict, "template_overlap"
	case errors.Is(err, booking.ErrPaymentRequired):
		status, code = http.StatusPaymentRequired, "payment_required"
	case errors.Is(err, booking.ErrPatientNotFound):
		status, code = http.StatusNotFound, "patient_not_found"
	case errors.Is(err, booking.ErrTherapistNotFound):
		status, code = http.StatusNotFound, "therapist_not_found"
	case errors.Is(err, booking.ErrClinicNotFound):
		status, code = http.StatusNotFound, "clinic_not_found"
	case errors.Is(err, booking.ErrBookingNotFound):
		status, code = http.StatusNotFound, "booking_not_found"
	case errors.Is(err, booking.ErrPaymentNotFound):
		status, code = http.StatusNotFound, "payment_not_found"
	case errors.Is(err, booking.ErrSpecializationNotFound):
		status, code = http.StatusNotFound, "specialization_not_found"
	case errors.Is(err, booking.ErrInvalidRequest),
		errors.Is(err, calendar.ErrInvalidInterval),
		errors.Is(err, availability.ErrInvalidWeekday):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, payment.ErrGateway):
		status, code = http.StatusBadGateway, "payment_gateway_error"
	}

	details := err.Error()
	if status == http.StatusInternalServerError {
		details = "unexpected error"
	}
	writeJSON(w, status, ErrorResponse{
		Error:     code,
		Details:   details,
		Retryable: booking.IsRetryable(err),
	})
}
