package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/physiobook/booking-engine/internal/booking"
	"github.com/physiobook/booking-engine/internal/calendar"
	"github.com/physiobook/booking-engine/internal/payment"
	"github.com/physiobook/booking-engine/internal/slots"
)

type CreateBookingRequest struct {
	PatientID       string  `json:"patient_id"`
	TherapistID     string  `json:"therapist_id"`
	ClinicID        string  `json:"clinic_id"`
	Date            string  `json:"date"` // YYYY-MM-DD
	Time            string  `json:"time"` // HH:MM
	DurationMinutes int     `json:"duration_minutes"`
	TreatmentTypeID *string `json:"treatment_type_id,omitempty"`
	Notes           string  `json:"notes,omitempty"`
}

type CancelBookingRequest struct {
	Actor string `json:"actor"`
}

type RescheduleBookingRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

type CreateTemplateRequest struct {
	ClinicID  string `json:"clinic_id"`
	DayOfWeek int    `json:"day_of_week"` // 0 = Monday
	Start     string `json:"start"`
	End       string `json:"end"`
}

type CreateOverrideRequest struct {
	ClinicID    *string `json:"clinic_id,omitempty"`
	Date        string  `json:"date"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	IsAvailable bool    `json:"is_available"`
	Reason      string  `json:"reason,omitempty"`
}

type BookingResponse struct {
	ID               uuid.UUID  `json:"id"`
	Reference        string     `json:"reference"`
	PatientID        uuid.UUID  `json:"patient_id"`
	TherapistID      uuid.UUID  `json:"therapist_id"`
	ClinicID         uuid.UUID  `json:"clinic_id"`
	Date             string     `json:"date"`
	Time             string     `json:"time"`
	DurationMinutes  int        `json:"duration_minutes"`
	Status           string     `json:"status"`
	TreatmentTypeID  *uuid.UUID `json:"treatment_type_id,omitempty"`
	TotalAmountCents int64      `json:"total_amount_cents"`
	Currency         string     `json:"currency"`
	Notes            string     `json:"notes,omitempty"`
	CancelledBy      *string    `json:"cancelled_by,omitempty"`
	RescheduledFrom  *uuid.UUID `json:"rescheduled_from,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func newBookingResponse(b *booking.Booking) BookingResponse {
	resp := BookingResponse{
		ID:               b.ID,
		Reference:        b.Reference,
		PatientID:        b.PatientID,
		TherapistID:      b.TherapistID,
		ClinicID:         b.ClinicID,
		Date:             b.Date.Format(calendar.DateLayout),
		Time:             b.StartTime.String(),
		DurationMinutes:  b.DurationMinutes,
		Status:           string(b.Status),
		TreatmentTypeID:  b.TreatmentTypeID,
		TotalAmountCents: b.TotalAmountCents,
		Currency:         b.Currency,
		Notes:            b.Notes,
		RescheduledFrom:  b.RescheduledFrom,
		ExpiresAt:        b.ExpiresAt,
		CreatedAt:        b.CreatedAt,
	}
	if b.CancelledBy != nil {
		actor := string(*b.CancelledBy)
		resp.CancelledBy = &actor
	}
	return resp
}

type BookingListResponse struct {
	Bookings []BookingResponse `json:"bookings"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type PaymentResponse struct {
	ID          uuid.UUID  `json:"id"`
	BookingID   uuid.UUID  `json:"booking_id"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	ClientToken string     `json:"client_token,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
}

func newPaymentResponse(p *payment.Payment) PaymentResponse {
	resp := PaymentResponse{
		ID:          p.ID,
		BookingID:   p.BookingID,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		Status:      string(p.Status),
		ProcessedAt: p.ProcessedAt,
		ReleasedAt:  p.ReleasedAt,
	}
	// the client secret is only useful while the payment can still be completed
	if p.Status == payment.StatusPending {
		resp.ClientToken = p.ClientToken
	}
	return resp
}

type IntervalResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type AvailabilityResponse struct {
	TherapistID uuid.UUID          `json:"therapist_id"`
	Date        string             `json:"date"`
	Intervals   []IntervalResponse `json:"intervals"`
}

type SlotResponse struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"duration_minutes"`
}

type SlotsResponse struct {
	TherapistID uuid.UUID      `json:"therapist_id"`
	Date        string         `json:"date"`
	Slots       []SlotResponse `json:"slots"`
}

func newSlotResponses(in []slots.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(in))
	for _, s := range in {
		iv := s.Interval()
		out = append(out, SlotResponse{Start: iv.Start.String(), End: iv.End.String(), DurationMinutes: s.DurationMinutes})
	}
	return out
}

type TemplateResponse struct {
	ID          uuid.UUID `json:"id"`
	TherapistID uuid.UUID `json:"therapist_id"`
	ClinicID    uuid.UUID `json:"clinic_id"`
	DayOfWeek   int       `json:"day_of_week"`
	Start       string    `json:"start"`
	End         string    `json:"end"`
}

type OverrideResponse struct {
	ID          uuid.UUID  `json:"id"`
	TherapistID uuid.UUID  `json:"therapist_id"`
	ClinicID    *uuid.UUID `json:"clinic_id,omitempty"`
	Date        string     `json:"date"`
	Start       string     `json:"start"`
	End         string     `json:"end"`
	IsAvailable bool       `json:"is_available"`
	Reason      string     `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

type UpdateTherapistRequest struct {
	IsVerified  *bool `json:"is_verified,omitempty"`
	IsAvailable *bool `json:"is_available,omitempty"`
}

type CreateSpecializationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type SpecializationResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

func newSpecializationResponse(sp *booking.Specialization) SpecializationResponse {
	return SpecializationResponse{ID: sp.ID, Name: sp.Name, Description: sp.Description}
}

type ClinicResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	City string    `json:"city,omitempty"`
}

type TherapistResponse struct {
	ID              uuid.UUID        `json:"id"`
	Name            string           `json:"name"`
	RateCents       int64            `json:"rate_cents"`
	Currency        string           `json:"currency"`
	IsVerified      bool             `json:"is_verified"`
	IsAvailable     bool             `json:"is_available"`
	Specializations []string         `json:"specializations,omitempty"`
	Clinics         []ClinicResponse `json:"clinics,omitempty"`
}

func newTherapistResponse(t *booking.Therapist) TherapistResponse {
	return TherapistResponse{
		ID:          t.ID,
		Name:        t.Name,
		RateCents:   t.RateCents,
		Currency:    t.Currency,
		IsVerified:  t.IsVerified,
		IsAvailable: t.IsAvailable,
	}
}

func newProfileResponse(p *booking.TherapistProfile) TherapistResponse {
	resp := newTherapistResponse(&p.Therapist)
	resp.Specializations = p.Specializations
	for _, c := range p.Clinics {
		resp.Clinics = append(resp.Clinics, ClinicResponse{ID: c.ID, Name: c.Name, City: c.City})
	}
	return resp
}

type TherapistListResponse struct {
	Therapists []TherapistResponse `json:"therapists"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
}

type PaymentListResponse struct {
	Payments []PaymentResponse `json:"payments"`
	Limit    int               `json:"limit,omitempty"`
	Offset   int               `json:"offset,omitempty"`
}

func newPaymentListResponse(payments []payment.Payment, limit, offset int) PaymentListResponse {
	resp := PaymentListResponse{
		Payments: make([]PaymentResponse, 0, len(payments)),
		Limit:    limit,
		Offset:   offset,
	}
	for i := range payments {
		resp.Payments = append(resp.Payments, newPaymentResponse(&payments[i]))
	}
	return resp
}
