package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/physiobook/booking-engine/internal/notify"
	"github.com/physiobook/booking-engine/internal/payment"
)

const EventPaymentReleased = "PAYMENT_RELEASED"

// PaymentFilter selects payments for the admin listing, newest first.
type PaymentFilter struct {
	Status payment.Status // empty matches every status
	Limit  int
	Offset int
}

// ListPaymentsByBooking returns every payment attempt of a booking, newest first.
func (s *Service) ListPaymentsByBooking(ctx context.Context, bookingID uuid.UUID) ([]payment.Payment, error) {
	if _, err := s.repo.GetBookingByID(ctx, bookingID); err != nil {
		return nil, err
	}
	return s.repo.ListPaymentsByBooking(ctx, bookingID)
}

func (s *Service) ListPayments(ctx context.Context, f PaymentFilter) ([]payment.Payment, error) {
	switch f.Status {
	case "", payment.StatusPending, payment.StatusCompleted, payment.StatusFailed,
		payment.StatusRefunded, payment.StatusVoided:
	default:
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrInvalidRequest, f.Status)
	}
	f.Limit, f.Offset = page(f.Limit, f.Offset)
	return s.repo.ListPayments(ctx, f)
}

// ReleasePayment records that a completed payment was paid out to the
// therapist and tells them so. Releasing twice returns the first release.
func (s *Service) ReleasePayment(ctx context.Context, paymentID uuid.UUID) (*payment.Payment, error) {
	p, err := s.repo.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.ReleasedAt != nil {
		return p, nil
	}
	if p.Status != payment.StatusCompleted {
		return nil, fmt.Errorf("%w: payment is %s, only completed payments are released", ErrInvalidTransition, p.Status)
	}

	b, err := s.repo.GetBookingByID(ctx, p.BookingID)
	if err != nil {
		return nil, err
	}

	released, err := s.repo.MarkPaymentReleased(ctx, p.ID, s.clock.Now())
	if errors.Is(err, ErrPaymentNotFound) {
		// refunded or released by someone else in the meantime
		current, getErr := s.repo.GetPaymentByID(ctx, p.ID)
		if getErr != nil {
			return nil, getErr
		}
		if current.ReleasedAt != nil {
			return current, nil
		}
		return nil, fmt.Errorf("%w: payment is %s, only completed payments are released", ErrInvalidTransition, current.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("release payment: %w", err)
	}

	s.logEvent(ctx, b.ID, EventPaymentReleased, map[string]any{
		"payment_id":   released.ID.String(),
		"amount_cents": released.AmountCents,
		"currency":     released.Currency,
	})
	s.logger.Info("payment released",
		zap.String("payment_id", released.ID.String()),
		zap.String("booking_id", b.ID.String()),
		zap.String("therapist_id", b.TherapistID.String()),
		zap.Int64("amount_cents", released.AmountCents),
	)
	s.notify(ctx, b.TherapistID, notify.KindPaymentReleased, map[string]any{
		"payment_id":   released.ID.String(),
		"reference":    b.Reference,
		"amount_cents": released.AmountCents,
		"currency":     released.Currency,
	})
	return released, nil
}
