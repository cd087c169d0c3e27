package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/physiobook/booking-engine/internal/booking"
	"github.com/physiobook/booking-engine/internal/payment"
)

// GET /therapists?city=&specialization=&limit=&offset=
func searchTherapistsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		profiles, err := svc.SearchTherapists(r.Context(), booking.TherapistSearch{
			City:           q.Get("city"),
			Specialization: q.Get("specialization"),
			Limit:          limit,
			Offset:         offset,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := TherapistListResponse{
			Therapists: make([]TherapistResponse, 0, len(profiles)),
			Limit:      limit,
			Offset:     offset,
		}
		for i := range profiles {
			resp.Therapists = append(resp.Therapists, newProfileResponse(&profiles[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// PATCH /therapists/{id}
func updateTherapistHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := therapistIDParam(w, r)
		if !ok {
			return
		}

		var req UpdateTherapistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		t, err := svc.UpdateTherapistStatus(r.Context(), therapistID, booking.TherapistFlags{
			IsVerified:  req.IsVerified,
			IsAvailable: req.IsAvailable,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newTherapistResponse(t))
	}
}

// PUT /therapists/{id}/specializations/{specializationID}
func assignSpecializationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := therapistIDParam(w, r)
		if !ok {
			return
		}
		specializationID, err := uuid.Parse(chi.URLParam(r, "specializationID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_specialization_id", "specialization id must be a valid UUID")
			return
		}

		if err := svc.AssignSpecialization(r.Context(), therapistID, specializationID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listSpecializationsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		specs, err := svc.ListSpecializations(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := make([]SpecializationResponse, 0, len(specs))
		for i := range specs {
			resp = append(resp, newSpecializationResponse(&specs[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createSpecializationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSpecializationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		sp, err := svc.AddSpecialization(r.Context(), req.Name, req.Description)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newSpecializationResponse(sp))
	}
}

func listCitiesHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cities, err := svc.ListCities(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if cities == nil {
			cities = []string{}
		}
		writeJSON(w, http.StatusOK, cities)
	}
}

// GET /bookings/{id}/payments
func listBookingPaymentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingIDParam(w, r)
		if !ok {
			return
		}

		payments, err := svc.ListPaymentsByBooking(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPaymentListResponse(payments, 0, 0))
	}
}

// GET /payments?status=&limit=&offset=
func listPaymentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		payments, err := svc.ListPayments(r.Context(), booking.PaymentFilter{
			Status: payment.Status(q.Get("status")),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPaymentListResponse(payments, limit, offset))
	}
}

// POST /payments/{id}/release
func releasePaymentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payment_id", "id must be a valid UUID")
			return
		}

		p, err := svc.ReleasePayment(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPaymentResponse(p))
	}
}
