package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/physiobook/booking-engine/internal/availability"
	"github.com/physiobook/booking-engine/internal/payment"
)

// Repository contains all persistence the service needs.
type Repository interface {
	availability.Store

	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetTherapistByID(ctx context.Context, id uuid.UUID) (*Therapist, error)
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)

	InsertPatient(ctx context.Context, p Patient) (*Patient, error)
	InsertTherapist(ctx context.Context, t Therapist) (*Therapist, error)
	InsertClinic(ctx context.Context, c Clinic) (*Clinic, error)

	// UpdateTherapistFlags applies the non-nil flags and returns the therapist.
	UpdateTherapistFlags(ctx context.Context, id uuid.UUID, flags TherapistFlags) (*Therapist, error)
	// SearchTherapists matches available therapists against q; clinics come
	// from the therapist's weekly templates.
	SearchTherapists(ctx context.Context, q TherapistSearch) ([]TherapistProfile, error)
	ListCities(ctx context.Context) ([]string, error)

	// InsertSpecialization creates a specialization or, when the name exists,
	// updates its description and returns it.
	InsertSpecialization(ctx context.Context, sp Specialization) (*Specialization, error)
	AssignSpecialization(ctx context.Context, therapistID, specializationID uuid.UUID) error
	// ListSpecializations returns the active specializations by name.
	ListSpecializations(ctx context.Context) ([]Specialization, error)

	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// InsertBooking is the atomic check-and-insert. It returns ErrSlotConflict
	// when the new booking would overlap another slot-holding booking of the
	// same therapist on the same date, at any clinic.
	InsertBooking(ctx context.Context, b Booking) (*Booking, error)

	// UpdateBookingStatus moves a booking from one status to another and
	// returns ErrBookingNotFound when the booking is not in status from.
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status, actor *Actor) (*Booking, error)

	// ListActiveBookings returns slot-holding bookings of a therapist on a date, at any clinic.
	ListActiveBookings(ctx context.Context, therapistID uuid.UUID, date time.Time) ([]Booking, error)
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]Booking, error)
	ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error)
	ListBookingsByTherapist(ctx context.Context, therapistID uuid.UUID, limit, offset int) ([]Booking, error)

	InsertPayment(ctx context.Context, p payment.Payment) (*payment.Payment, error)
	// GetOpenPayment returns the pending or completed payment of a booking.
	GetOpenPayment(ctx context.Context, bookingID uuid.UUID) (*payment.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to payment.Status, processedAt *time.Time) (*payment.Payment, error)
	MovePayments(ctx context.Context, fromBookingID, toBookingID uuid.UUID) error
	GetPaymentByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	ListPaymentsByBooking(ctx context.Context, bookingID uuid.UUID) ([]payment.Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]payment.Payment, error)
	// MarkPaymentReleased stamps a completed, unreleased payment and returns
	// ErrPaymentNotFound for any other payment.
	MarkPaymentReleased(ctx context.Context, id uuid.UUID, at time.Time) (*payment.Payment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
