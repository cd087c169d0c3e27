package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotConflict means the slot was taken or is no longer offered.
	// Clients should refresh the slot list and retry.
	ErrSlotConflict      = errors.New("slot is no longer available")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPaymentRequired   = errors.New("payment confirmation required")
	ErrPaymentsDisabled  = errors.New("payments are not enabled")
	ErrInvalidRequest    = errors.New("invalid booking request")

	ErrTherapistUnavailable = errors.New("therapist is not accepting bookings")

	ErrNotFound          = errors.New("not found")
	ErrPatientNotFound   = fmt.Errorf("patient %w", ErrNotFound)
	ErrTherapistNotFound = fmt.Errorf("therapist %w", ErrNotFound)
	ErrClinicNotFound    = fmt.Errorf("clinic %w", ErrNotFound)
	ErrBookingNotFound   = fmt.Errorf("booking %w", ErrNotFound)
	ErrPaymentNotFound   = fmt.Errorf("payment %w", ErrNotFound)

	ErrSpecializationNotFound = fmt.Errorf("specialization %w", ErrNotFound)

	// ErrDuplicateReference is returned by InsertBooking when the generated
	// reference already exists; the service retries with a fresh one.
	ErrDuplicateReference = errors.New("booking reference already exists")

	// ErrPaymentExists is returned by InsertPayment when the booking already
	// has a pending or completed payment.
	ErrPaymentExists = errors.New("booking already has an open payment")
)

// IsRetryable reports whether the caller may succeed by refreshing and retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSlotConflict)
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
