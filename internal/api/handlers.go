package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/physiobook/booking-engine/internal/booking"
	"github.com/physiobook/booking-engine/internal/calendar"
)

func createBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		therapistID, err := uuid.Parse(req.TherapistID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_therapist_id", "therapist_id must be a valid UUID")
			return
		}
		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}
		date, err := calendar.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		start, err := calendar.ParseTimeOfDay(req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
			return
		}

		var treatmentTypeID *uuid.UUID
		if req.TreatmentTypeID != nil {
			id, err := uuid.Parse(*req.TreatmentTypeID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_treatment_type_id", "treatment_type_id must be a valid UUID")
				return
			}
			treatmentTypeID = &id
		}

		b, err := svc.CreateBooking(r.Context(), booking.CreateBookingRequest{
			PatientID:       patientID,
			TherapistID:     therapistID,
			ClinicID:        clinicID,
			Date:            date,
			StartTime:       start,
			DurationMinutes: req.DurationMinutes,
			TreatmentTypeID: treatmentTypeID,
			Notes:           req.Notes,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, newBookingResponse(b))
	}
}

func getBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingIDParam(w, r)
		if !ok {
			return
		}

		b, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newBookingResponse(b))
	}
}

// listBookingsHandler serves GET /bookings?patient_id= or ?therapist_id=
func listBookingsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		var (
			bookings []booking.Booking
			err      error
		)
		switch {
		case q.Get("patient_id") != "":
			patientID, perr := uuid.Parse(q.Get("patient_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			bookings, err = svc.ListBookingsByPatient(r.Context(), patientID, limit, offset)
		case q.Get("therapist_id") != "":
			therapistID, perr := uuid.Parse(q.Get("therapist_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_therapist_id", "therapist_id must be a valid UUID")
				return
			}
			bookings, err = svc.ListBookingsByTherapist(r.Context(), therapistID, limit, offset)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or therapist_id is required")
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := BookingListResponse{
			Bookings: make([]BookingResponse, 0, len(bookings)),
			Limit:    limit,
			Offset:   offset,
		}
		for i := range bookings {
			resp.Bookings = append(resp.Bookings, newBookingResponse(&bookings[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func requestPaymentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingIDParam(w, r)
		if !ok {
			return
		}

		p, err := svc.RequestPayment(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newPaymentResponse(p))
	}
}

func confirmPaymentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingIDParam(w, r)
		if !ok {
			return
		}

		b, err := svc.ConfirmPayment(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newBookingResponse(b))
	}
}

func refundPaymentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingIDParam(w, r)
		if !ok {
			return
		}

		var req RefundRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		p, err := svc.RefundPayment(r.Context(), id, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPaymentResponse(p))
	}
}

func cancelBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingIDParam(w, r)
		if !ok {
			return
		}

		var req CancelBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		b, err := svc.CancelBooking(r.Context(), id, booking.Actor(req.Actor))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newBookingResponse(b))
	}
}

func completeBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingIDParam(w, r)
		if !ok {
			return
		}

		b, err := svc.CompleteBooking(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newBookingResponse(b))
	}
}

func noShowBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingIDParam(w, r)
		if !ok {
			return
		}

		b, err := svc.MarkNoShow(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newBookingResponse(b))
	}
}

func rescheduleBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingIDParam(w, r)
		if !ok {
			return
		}

		var req RescheduleBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, err := calendar.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		start, err := calendar.ParseTimeOfDay(req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
			return
		}

		b, err := svc.RescheduleBooking(r.Context(), id, date, start)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newBookingResponse(b))
	}
}

func bookingIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
