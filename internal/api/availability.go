package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/physiobook/booking-engine/internal/availability"
	"github.com/physiobook/booking-engine/internal/booking"
	"github.com/physiobook/booking-engine/internal/calendar"
)

const defaultSlotMinutes = 60

// GET /therapists/{id}/availability?date=&clinic_id=
func availabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := therapistIDParam(w, r)
		if !ok {
			return
		}
		date, clinicID, ok := dateAndClinic(w, r)
		if !ok {
			return
		}

		open, err := svc.ResolveAvailability(r.Context(), therapistID, clinicID, date)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := AvailabilityResponse{
			TherapistID: therapistID,
			Date:        date.Format(calendar.DateLayout),
			Intervals:   make([]IntervalResponse, 0, len(open)),
		}
		for _, iv := range open {
			resp.Intervals = append(resp.Intervals, IntervalResponse{Start: iv.Start.String(), End: iv.End.String()})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// GET /therapists/{id}/slots?date=&clinic_id=&duration=
func slotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := therapistIDParam(w, r)
		if !ok {
			return
		}
		date, clinicID, ok := dateAndClinic(w, r)
		if !ok {
			return
		}

		duration := defaultSlotMinutes
		if raw := r.URL.Query().Get("duration"); raw != "" {
			d, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a number of minutes")
				return
			}
			duration = d
		}

		offered, err := svc.ListAvailableSlots(r.Context(), therapistID, clinicID, date, duration)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			TherapistID: therapistID,
			Date:        date.Format(calendar.DateLayout),
			Slots:       newSlotResponses(offered),
		})
	}
}

func createTemplateHandler(schedule *availability.Schedule) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := therapistIDParam(w, r)
		if !ok {
			return
		}

		var req CreateTemplateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}
		start, end, ok := window(w, req.Start, req.End)
		if !ok {
			return
		}

		tmpl, err := availability.NewTemplate(therapistID, clinicID, req.DayOfWeek, start, end)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		created, err := schedule.AddTemplate(r.Context(), tmpl)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, TemplateResponse{
			ID:          created.ID,
			TherapistID: created.TherapistID,
			ClinicID:    created.ClinicID,
			DayOfWeek:   created.DayOfWeek,
			Start:       created.Window.Start.String(),
			End:         created.Window.End.String(),
		})
	}
}

func createOverrideHandler(schedule *availability.Schedule) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := therapistIDParam(w, r)
		if !ok {
			return
		}

		var req CreateOverrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		var clinicID *uuid.UUID
		if req.ClinicID != nil {
			id, err := uuid.Parse(*req.ClinicID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
				return
			}
			clinicID = &id
		}
		date, err := calendar.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		start, end, ok := window(w, req.Start, req.End)
		if !ok {
			return
		}

		o, err := availability.NewOverride(therapistID, clinicID, date, start, end, req.IsAvailable, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		created, err := schedule.AddOverride(r.Context(), o)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, OverrideResponse{
			ID:          created.ID,
			TherapistID: created.TherapistID,
			ClinicID:    created.ClinicID,
			Date:        created.Date.Format(calendar.DateLayout),
			Start:       created.Window.Start.String(),
			End:         created.Window.End.String(),
			IsAvailable: created.IsAvailable,
			Reason:      created.Reason,
		})
	}
}

func therapistIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_therapist_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func dateAndClinic(w http.ResponseWriter, r *http.Request) (time.Time, *uuid.UUID, bool) {
	q := r.URL.Query()
	date, err := calendar.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return time.Time{}, nil, false
	}
	var clinicID *uuid.UUID
	if raw := q.Get("clinic_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return time.Time{}, nil, false
		}
		clinicID = &id
	}
	return date, clinicID, true
}

func window(w http.ResponseWriter, rawStart, rawEnd string) (calendar.TimeOfDay, calendar.TimeOfDay, bool) {
	start, err := calendar.ParseTimeOfDay(rawStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", "start must be HH:MM")
		return 0, 0, false
	}
	end, err := calendar.ParseTimeOfDay(rawEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", "end must be HH:MM")
		return 0, 0, false
	}
	return start, end, true
}
