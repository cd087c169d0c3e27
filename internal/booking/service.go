package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/physiobook/booking-engine/internal/availability"
	"github.com/physiobook/booking-engine/internal/calendar"
	"github.com/physiobook/booking-engine/internal/config"
	"github.com/physiobook/booking-engine/internal/metrics"
	"github.com/physiobook/booking-engine/internal/notify"
	"github.com/physiobook/booking-engine/internal/payment"
	redisclient "github.com/physiobook/booking-engine/internal/redis"
	"github.com/physiobook/booking-engine/internal/slots"
)

const (
	EventBookingCreated     = "BOOKING_CREATED"
	EventBookingScheduled   = "BOOKING_SCHEDULED"
	EventBookingCancelled   = "BOOKING_CANCELLED"
	EventBookingCompleted   = "BOOKING_COMPLETED"
	EventBookingNoShow      = "BOOKING_NO_SHOW"
	EventBookingRescheduled = "BOOKING_RESCHEDULED"
	EventBookingExpired     = "BOOKING_EXPIRED"
	EventPaymentRequested   = "PAYMENT_REQUESTED"
	EventPaymentCompleted   = "PAYMENT_COMPLETED"
	EventPaymentFailed      = "PAYMENT_FAILED"
	EventPaymentRefunded    = "PAYMENT_REFUNDED"
	EventPaymentVoided      = "PAYMENT_VOIDED"
	EventPaymentSettleError = "PAYMENT_SETTLE_FAILED"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	referenceAttempts = 3
)

type CreateBookingRequest struct {
	PatientID       uuid.UUID
	TherapistID     uuid.UUID
	ClinicID        uuid.UUID
	Date            time.Time
	StartTime       calendar.TimeOfDay
	DurationMinutes int
	TreatmentTypeID *uuid.UUID
	Notes           string
}

type Service struct {
	repo     Repository
	resolver *availability.Resolver
	locker   Locker
	gateway  payment.Gateway
	emitter  notify.Emitter
	metrics  *metrics.Metrics
	clock    Clock
	logger   *zap.Logger
	cfg      config.Config
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the allocator. gateway may be nil when cfg requires no
// up-front payment.
func NewService(repo Repository, locker Locker, gateway payment.Gateway, emitter notify.Emitter, cfg config.Config, logger *zap.Logger, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{
		repo:     repo,
		resolver: availability.NewResolver(repo, logger),
		locker:   locker,
		gateway:  gateway,
		emitter:  emitter,
		clock:    RealClock{},
		logger:   logger,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) paymentRequired() bool {
	return s.cfg.PaymentRequired() && s.gateway != nil
}

// ResolveAvailability returns the open intervals of a therapist on a date.
func (s *Service) ResolveAvailability(ctx context.Context, therapistID uuid.UUID, clinicID *uuid.UUID, date time.Time) ([]calendar.Interval, error) {
	if _, err := s.repo.GetTherapistByID(ctx, therapistID); err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, therapistID, date, clinicID)
}

// ListAvailableSlots returns the bookable slots of a therapist on a date.
// Slots already started (in the configured zone) are not offered.
func (s *Service) ListAvailableSlots(ctx context.Context, therapistID uuid.UUID, clinicID *uuid.UUID, date time.Time, durationMinutes int) ([]slots.Slot, error) {
	if durationMinutes <= 0 || durationMinutes > calendar.MinutesPerDay {
		return nil, fmt.Errorf("%w: duration must be between 1 and %d minutes", ErrInvalidRequest, calendar.MinutesPerDay)
	}
	if _, err := s.repo.GetTherapistByID(ctx, therapistID); err != nil {
		return nil, err
	}
	return s.availableSlots(ctx, therapistID, clinicID, date, durationMinutes, uuid.Nil)
}

// availableSlots treats bookings of every clinic as busy; ignore is left out
// of the busy set so a booking can move within its own window.
func (s *Service) availableSlots(ctx context.Context, therapistID uuid.UUID, clinicID *uuid.UUID, date time.Time, durationMinutes int, ignore uuid.UUID) ([]slots.Slot, error) {
	day := calendar.DateOf(date)
	now := s.clock.Now().In(s.cfg.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if day.Before(today) {
		return nil, nil
	}
	opts := slots.Options{GapMinutes: s.cfg.SlotGapMinutes}
	if day.Equal(today) {
		opts.NotBefore = calendar.TimeOfDay(now.Hour()*60 + now.Minute())
	}

	open, err := s.resolver.Resolve(ctx, therapistID, day, clinicID)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.ListActiveBookings(ctx, therapistID, day)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}
	busy := make([]calendar.Interval, 0, len(active))
	for _, b := range active {
		if b.ID == ignore {
			continue
		}
		busy = append(busy, b.Window())
	}

	return slots.Generate(open, durationMinutes, busy, opts)
}

// CreateBooking reserves a generated slot for a patient. Writers for the same
// therapist and date queue on one lock; a request whose window is taken by the
// time it gets the lock, or that waits past the lock wait, gets ErrSlotConflict.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*Booking, error) {
	req.Date = calendar.DateOf(req.Date)
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidRequest)
	}
	if _, err := calendar.NewInterval(req.StartTime, req.StartTime+calendar.TimeOfDay(req.DurationMinutes)); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, err
	}
	therapist, err := s.repo.GetTherapistByID(ctx, req.TherapistID)
	if err != nil {
		return nil, err
	}
	if !therapist.IsAvailable {
		return nil, ErrTherapistUnavailable
	}
	if _, err := s.repo.GetClinicByID(ctx, req.ClinicID); err != nil {
		return nil, err
	}

	key := dayKey(req.TherapistID, req.Date)
	var created *Booking

	err = s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		offered, err := s.availableSlots(lockCtx, req.TherapistID, &req.ClinicID, req.Date, req.DurationMinutes, uuid.Nil)
		if err != nil {
			return err
		}
		if !slots.Contains(offered, req.StartTime, req.DurationMinutes) {
			s.metrics.SlotConflict("not_offered")
			return ErrSlotConflict
		}

		now := s.clock.Now()
		b := Booking{
			ID:               uuid.New(),
			PatientID:        req.PatientID,
			TherapistID:      req.TherapistID,
			ClinicID:         req.ClinicID,
			Date:             req.Date,
			StartTime:        req.StartTime,
			DurationMinutes:  req.DurationMinutes,
			Status:           StatusScheduled,
			TreatmentTypeID:  req.TreatmentTypeID,
			TotalAmountCents: therapist.PriceFor(req.DurationMinutes),
			Currency:         s.currencyFor(therapist),
			Notes:            req.Notes,
			CreatedAt:        now,
		}
		if s.paymentRequired() {
			expiresAt := now.Add(s.cfg.PendingTTL)
			b.Status = StatusPending
			b.ExpiresAt = &expiresAt
		}

		created, err = s.insertWithReference(lockCtx, b)
		if err != nil {
			if errors.Is(err, ErrSlotConflict) {
				s.metrics.SlotConflict("unique_violation")
			}
			return err
		}

		s.logEvent(lockCtx, created.ID, EventBookingCreated, map[string]any{
			"reference":  created.Reference,
			"patient_id": created.PatientID.String(),
			"date":       created.Date.Format(calendar.DateLayout),
			"time":       created.StartTime.String(),
			"status":     string(created.Status),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.metrics.SlotConflict("lock")
			return nil, ErrSlotConflict
		}
		return nil, err
	}

	s.metrics.BookingCreated(string(created.Status))
	s.logger.Info("booking created",
		zap.String("booking_id", created.ID.String()),
		zap.String("reference", created.Reference),
		zap.String("status", string(created.Status)),
	)

	kind := notify.KindBookingCreated
	if created.Status == StatusScheduled {
		kind = notify.KindBookingScheduled
	}
	s.notifyParties(ctx, created, kind, nil)

	return created, nil
}

func (s *Service) insertWithReference(ctx context.Context, b Booking) (*Booking, error) {
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		ref, err := NewReference()
		if err != nil {
			return nil, err
		}
		b.Reference = ref

		created, err := s.repo.InsertBooking(ctx, b)
		if errors.Is(err, ErrDuplicateReference) {
			continue
		}
		return created, err
	}
	return nil, fmt.Errorf("insert booking: %w after %d attempts", ErrDuplicateReference, referenceAttempts)
}

func (s *Service) currencyFor(t *Therapist) string {
	if t.Currency != "" {
		return t.Currency
	}
	return s.cfg.Currency
}

// RequestPayment opens a gateway payment for a pending booking. A pending
// payment already open is returned as is.
func (s *Service) RequestPayment(ctx context.Context, bookingID uuid.UUID) (*payment.Payment, error) {
	if s.gateway == nil {
		return nil, ErrPaymentsDisabled
	}

	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusPending {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidTransition, b.Status)
	}

	existing, err := s.repo.GetOpenPayment(ctx, bookingID)
	switch {
	case err == nil && existing.Status == payment.StatusPending:
		return existing, nil
	case err == nil:
		return nil, fmt.Errorf("%w: payment is %s", ErrInvalidTransition, existing.Status)
	case !errors.Is(err, ErrPaymentNotFound):
		return nil, fmt.Errorf("load payment: %w", err)
	}

	intent, err := s.gateway.RequestPayment(ctx, b.ID, b.TotalAmountCents, b.Currency)
	if err != nil {
		return nil, fmt.Errorf("request payment: %w", err)
	}

	p, err := s.repo.InsertPayment(ctx, payment.Payment{
		ID:                    uuid.New(),
		BookingID:             b.ID,
		AmountCents:           b.TotalAmountCents,
		Currency:              b.Currency,
		Status:                payment.StatusPending,
		ExternalTransactionID: intent.ExternalID,
		ClientToken:           intent.ClientToken,
	})
	if err != nil {
		if errors.Is(err, ErrPaymentExists) {
			// a concurrent request won; drop our intent and hand back theirs
			s.voidIntent(ctx, intent.ExternalID)
			return s.repo.GetOpenPayment(ctx, bookingID)
		}
		return nil, fmt.Errorf("store payment: %w", err)
	}

	s.logEvent(ctx, b.ID, EventPaymentRequested, map[string]any{
		"payment_id":   p.ID.String(),
		"amount_cents": p.AmountCents,
		"currency":     p.Currency,
	})
	return p, nil
}

func (s *Service) voidIntent(ctx context.Context, externalID string) {
	if _, err := s.gateway.Void(ctx, externalID); err != nil {
		s.logger.Warn("void duplicate payment intent failed", zap.String("external_id", externalID), zap.Error(err))
	}
}

// ConfirmPayment asks the gateway for the outcome of the booking's open
// payment. Success schedules the booking; failure leaves it pending, where it
// stays eligible for expiry, and returns ErrPaymentRequired.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if b.Status == StatusScheduled {
		if p, err := s.repo.GetOpenPayment(ctx, bookingID); err == nil && p.Status == payment.StatusCompleted {
			return b, nil
		}
	}
	if b.Status != StatusPending {
		return nil, transitionError(b.Status, StatusScheduled)
	}
	if s.gateway == nil {
		return nil, ErrPaymentRequired
	}

	if b.ExpiresAt != nil && !s.clock.Now().Before(*b.ExpiresAt) {
		if _, err := s.expireOne(ctx, *b, "confirm_after_expiry"); err != nil {
			s.logger.Warn("expire on confirm failed", zap.String("booking_id", b.ID.String()), zap.Error(err))
		}
		return nil, fmt.Errorf("%w: booking expired", ErrInvalidTransition)
	}

	p, err := s.repo.GetOpenPayment(ctx, bookingID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, ErrPaymentRequired
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}

	status, err := s.gateway.ConfirmPayment(ctx, p.ExternalTransactionID)
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}

	now := s.clock.Now()
	switch status {
	case payment.StatusCompleted:
		if p.Status == payment.StatusPending {
			if _, err := s.repo.UpdatePaymentStatus(ctx, p.ID, payment.StatusPending, payment.StatusCompleted, &now); err != nil {
				return nil, fmt.Errorf("mark payment completed: %w", err)
			}
			s.logEvent(ctx, b.ID, EventPaymentCompleted, map[string]any{"payment_id": p.ID.String()})
		}

		updated, err := s.repo.UpdateBookingStatus(ctx, b.ID, StatusPending, StatusScheduled, nil)
		if err != nil {
			if errors.Is(err, ErrBookingNotFound) {
				// expired or cancelled while the patient was paying
				s.settlePayment(ctx, b.ID, "booking_left_pending")
				return nil, s.currentTransitionError(ctx, b.ID, StatusScheduled)
			}
			return nil, fmt.Errorf("schedule booking: %w", err)
		}

		s.metrics.Transition(string(StatusPending), string(StatusScheduled))
		s.logEvent(ctx, updated.ID, EventBookingScheduled, map[string]any{"payment_id": p.ID.String()})
		s.notifyParties(ctx, updated, notify.KindBookingScheduled, nil)
		return updated, nil

	case payment.StatusFailed:
		if _, err := s.repo.UpdatePaymentStatus(ctx, p.ID, p.Status, payment.StatusFailed, &now); err != nil &&
			!errors.Is(err, ErrPaymentNotFound) {
			return nil, fmt.Errorf("mark payment failed: %w", err)
		}
		s.logEvent(ctx, b.ID, EventPaymentFailed, map[string]any{"payment_id": p.ID.String()})
		s.notify(ctx, b.PatientID, notify.KindPaymentFailed, bookingPayload(b, nil))
		return nil, fmt.Errorf("%w: payment failed", ErrPaymentRequired)

	default:
		return nil, fmt.Errorf("%w: payment is %s", ErrPaymentRequired, status)
	}
}

// CancelBooking cancels a pending or scheduled booking, settles any payment
// and notifies patient and therapist.
func (s *Service) CancelBooking(ctx context.Context, bookingID uuid.UUID, actor Actor) (*Booking, error) {
	if !actor.Valid() {
		return nil, fmt.Errorf("%w: unknown actor %q", ErrInvalidRequest, actor)
	}

	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.HoldsSlot() {
		return nil, transitionError(b.Status, StatusCancelled)
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, b.ID, b.Status, StatusCancelled, &actor)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, s.currentTransitionError(ctx, b.ID, StatusCancelled)
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	s.metrics.Transition(string(b.Status), string(StatusCancelled))
	s.logEvent(ctx, updated.ID, EventBookingCancelled, map[string]any{
		"actor": string(actor),
		"from":  string(b.Status),
	})
	s.settlePayment(ctx, updated.ID, "booking_cancelled")
	s.notifyParties(ctx, updated, notify.KindBookingCancelled, map[string]any{"actor": string(actor)})

	return updated, nil
}

// CompleteBooking marks a scheduled booking completed once it has ended.
// Completing an already completed booking returns it unchanged.
func (s *Service) CompleteBooking(ctx context.Context, bookingID uuid.UUID) (*Booking, error) {
	return s.finish(ctx, bookingID, StatusCompleted, EventBookingCompleted, notify.KindBookingCompleted)
}

// MarkNoShow records that the patient did not attend a scheduled booking.
func (s *Service) MarkNoShow(ctx context.Context, bookingID uuid.UUID) (*Booking, error) {
	return s.finish(ctx, bookingID, StatusNoShow, EventBookingNoShow, notify.KindBookingNoShow)
}

func (s *Service) finish(ctx context.Context, bookingID uuid.UUID, to Status, event string, kind notify.Kind) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == to {
		return b, nil
	}
	if b.Status != StatusScheduled {
		return nil, transitionError(b.Status, to)
	}

	// completion waits for the session to end; a no-show only for it to start
	gate := b.EndsAt(s.cfg.Location)
	if to == StatusNoShow {
		gate = b.StartsAt(s.cfg.Location)
	}
	if s.clock.Now().Before(gate) {
		return nil, fmt.Errorf("%w: appointment at %s has not passed", ErrInvalidTransition, gate.Format(time.RFC3339))
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, b.ID, StatusScheduled, to, nil)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			current, getErr := s.repo.GetBookingByID(ctx, b.ID)
			if getErr == nil && current.Status == to {
				return current, nil
			}
			return nil, s.currentTransitionError(ctx, b.ID, to)
		}
		return nil, fmt.Errorf("update booking: %w", err)
	}

	s.metrics.Transition(string(StatusScheduled), string(to))
	s.logEvent(ctx, updated.ID, event, map[string]any{})
	s.notifyParties(ctx, updated, kind, nil)
	return updated, nil
}

// RescheduleBooking moves a scheduled booking to a new slot. The new booking is
// Scheduled, linked through RescheduledFrom, and takes over the payments before
// the old one becomes Rescheduled. If either step fails the replacement is
// cancelled and the old booking keeps its slot and payments.
func (s *Service) RescheduleBooking(ctx context.Context, bookingID uuid.UUID, newDate time.Time, newStart calendar.TimeOfDay) (*Booking, error) {
	newDate = calendar.DateOf(newDate)

	old, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if old.Status != StatusScheduled {
		return nil, transitionError(old.Status, StatusRescheduled)
	}
	if old.Date.Equal(newDate) && old.StartTime == newStart {
		return nil, fmt.Errorf("%w: new slot equals the current one", ErrInvalidRequest)
	}

	key := dayKey(old.TherapistID, newDate)
	var created *Booking

	err = s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		offered, err := s.availableSlots(lockCtx, old.TherapistID, &old.ClinicID, newDate, old.DurationMinutes, old.ID)
		if err != nil {
			return err
		}
		if !slots.Contains(offered, newStart, old.DurationMinutes) {
			s.metrics.SlotConflict("not_offered")
			return ErrSlotConflict
		}

		from := old.ID
		next := *old
		next.ID = uuid.New()
		next.Date = newDate
		next.StartTime = newStart
		next.Status = StatusScheduled
		next.RescheduledFrom = &from
		next.CancelledBy = nil
		next.ExpiresAt = nil
		next.CreatedAt = s.clock.Now()

		created, err = s.insertWithReference(lockCtx, next)
		if errors.Is(err, ErrSlotConflict) {
			s.metrics.SlotConflict("unique_violation")
		}
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.metrics.SlotConflict("lock")
			return nil, ErrSlotConflict
		}
		return nil, err
	}

	if err := s.repo.MovePayments(ctx, old.ID, created.ID); err != nil {
		s.releaseReplacement(ctx, created.ID)
		return nil, fmt.Errorf("move payments: %w", err)
	}

	if _, err := s.repo.UpdateBookingStatus(ctx, old.ID, StatusScheduled, StatusRescheduled, nil); err != nil {
		if moveErr := s.repo.MovePayments(ctx, created.ID, old.ID); moveErr != nil {
			s.logger.Error("failed to return payments to original booking",
				zap.String("from", created.ID.String()),
				zap.String("to", old.ID.String()),
				zap.Error(moveErr),
			)
		}
		s.releaseReplacement(ctx, created.ID)
		if errors.Is(err, ErrBookingNotFound) {
			return nil, s.currentTransitionError(ctx, old.ID, StatusRescheduled)
		}
		return nil, fmt.Errorf("mark booking rescheduled: %w", err)
	}

	s.metrics.Transition(string(StatusScheduled), string(StatusRescheduled))
	s.logEvent(ctx, old.ID, EventBookingRescheduled, map[string]any{"new_booking_id": created.ID.String()})
	s.logEvent(ctx, created.ID, EventBookingCreated, map[string]any{
		"reference":        created.Reference,
		"rescheduled_from": old.ID.String(),
	})
	s.notifyParties(ctx, created, notify.KindBookingRescheduled, map[string]any{
		"previous_date": old.Date.Format(calendar.DateLayout),
		"previous_time": old.StartTime.String(),
	})
	return created, nil
}

// releaseReplacement cancels a replacement booking whose reschedule could not
// be completed, freeing its slot again.
func (s *Service) releaseReplacement(ctx context.Context, id uuid.UUID) {
	system := ActorSystem
	if _, err := s.repo.UpdateBookingStatus(ctx, id, StatusScheduled, StatusCancelled, &system); err != nil {
		s.logger.Error("failed to release replacement booking",
			zap.String("booking_id", id.String()),
			zap.Error(err),
		)
	}
}

// RefundPayment refunds the completed payment of a booking without changing
// the booking itself.
func (s *Service) RefundPayment(ctx context.Context, bookingID uuid.UUID, reason string) (*payment.Payment, error) {
	if s.gateway == nil {
		return nil, ErrPaymentsDisabled
	}

	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetOpenPayment(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if p.Status != payment.StatusCompleted {
		return nil, fmt.Errorf("%w: payment is %s", ErrInvalidTransition, p.Status)
	}

	refunded, err := s.refund(ctx, b, p, reason)
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

func (s *Service) refund(ctx context.Context, b *Booking, p *payment.Payment, reason string) (*payment.Payment, error) {
	status, err := s.gateway.Refund(ctx, p.ExternalTransactionID)
	if err != nil {
		return nil, fmt.Errorf("refund payment: %w", err)
	}
	if status != payment.StatusRefunded {
		return nil, fmt.Errorf("%w: refund ended %s", payment.ErrGateway, status)
	}

	now := s.clock.Now()
	updated, err := s.repo.UpdatePaymentStatus(ctx, p.ID, p.Status, payment.StatusRefunded, &now)
	if err != nil {
		return nil, fmt.Errorf("mark payment refunded: %w", err)
	}

	s.logEvent(ctx, b.ID, EventPaymentRefunded, map[string]any{
		"payment_id": p.ID.String(),
		"reason":     reason,
	})
	s.notify(ctx, b.PatientID, notify.KindPaymentRefunded, bookingPayload(b, map[string]any{
		"amount_cents": p.AmountCents,
		"currency":     p.Currency,
	}))
	return updated, nil
}

// settlePayment brings the open payment of a booking that no longer holds a
// slot to rest: completed payments are refunded, pending intents voided, and
// intents captured before the void landed are refunded. Errors are logged and
// recorded in the event log.
func (s *Service) settlePayment(ctx context.Context, bookingID uuid.UUID, reason string) {
	if s.gateway == nil {
		return
	}

	p, err := s.repo.GetOpenPayment(ctx, bookingID)
	if err != nil {
		if !errors.Is(err, ErrPaymentNotFound) {
			s.logger.Error("load payment for settlement", zap.String("booking_id", bookingID.String()), zap.Error(err))
		}
		return
	}
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		s.logger.Error("load booking for settlement", zap.String("booking_id", bookingID.String()), zap.Error(err))
		return
	}

	if p.Status == payment.StatusPending {
		status, err := s.gateway.Void(ctx, p.ExternalTransactionID)
		switch {
		case errors.Is(err, payment.ErrAlreadyCaptured):
			now := s.clock.Now()
			captured, updErr := s.repo.UpdatePaymentStatus(ctx, p.ID, payment.StatusPending, payment.StatusCompleted, &now)
			if updErr != nil {
				s.settleFailed(ctx, bookingID, p, updErr)
				return
			}
			p = captured
		case err != nil:
			s.settleFailed(ctx, bookingID, p, err)
			return
		default:
			now := s.clock.Now()
			if _, err := s.repo.UpdatePaymentStatus(ctx, p.ID, payment.StatusPending, status, &now); err != nil {
				s.settleFailed(ctx, bookingID, p, err)
				return
			}
			s.logEvent(ctx, bookingID, EventPaymentVoided, map[string]any{
				"payment_id": p.ID.String(),
				"reason":     reason,
			})
			return
		}
	}

	if _, err := s.refund(ctx, b, p, reason); err != nil {
		s.settleFailed(ctx, bookingID, p, err)
	}
}

func (s *Service) settleFailed(ctx context.Context, bookingID uuid.UUID, p *payment.Payment, err error) {
	s.logger.Error("payment settlement failed",
		zap.String("booking_id", bookingID.String()),
		zap.String("payment_id", p.ID.String()),
		zap.Error(err),
	)
	s.logEvent(ctx, bookingID, EventPaymentSettleError, map[string]any{
		"payment_id": p.ID.String(),
		"error":      err.Error(),
	})
}

// ExpirePendingBookings cancels pending bookings created before olderThan and
// settles their payments. It returns how many bookings it expired.
func (s *Service) ExpirePendingBookings(ctx context.Context, olderThan time.Time) (int, error) {
	candidates, err := s.repo.ListPendingCreatedBefore(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("find expired pending bookings: %w", err)
	}

	expired := 0
	for _, b := range candidates {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ok, err := s.expireOne(ctx, b, "worker")
		if err != nil {
			s.logger.Error("failed to expire booking", zap.String("booking_id", b.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			expired++
		}
	}

	s.metrics.Expired(expired)
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, b Booking, reason string) (bool, error) {
	system := ActorSystem
	updated, err := s.repo.UpdateBookingStatus(ctx, b.ID, StatusPending, StatusCancelled, &system)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// already moved on
			return false, nil
		}
		return false, err
	}

	s.metrics.Transition(string(StatusPending), string(StatusCancelled))
	s.logEvent(ctx, updated.ID, EventBookingExpired, map[string]any{"reason": reason})
	s.settlePayment(ctx, updated.ID, "booking_expired")
	s.notify(ctx, updated.PatientID, notify.KindBookingExpired, bookingPayload(updated, nil))
	return true, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetBookingByID(ctx, id)
}

func (s *Service) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	limit, offset = page(limit, offset)
	bookings, err := s.repo.ListBookingsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings by patient: %w", err)
	}
	return bookings, nil
}

func (s *Service) ListBookingsByTherapist(ctx context.Context, therapistID uuid.UUID, limit, offset int) ([]Booking, error) {
	limit, offset = page(limit, offset)
	bookings, err := s.repo.ListBookingsByTherapist(ctx, therapistID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings by therapist: %w", err)
	}
	return bookings, nil
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) currentTransitionError(ctx context.Context, id uuid.UUID, to Status) error {
	current, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return err
	}
	return transitionError(current.Status, to)
}

func (s *Service) notifyParties(ctx context.Context, b *Booking, kind notify.Kind, extra map[string]any) {
	payload := bookingPayload(b, extra)
	s.notify(ctx, b.PatientID, kind, payload)
	s.notify(ctx, b.TherapistID, kind, payload)
}

// notify never fails the caller; the transition has already happened, so a
// cancelled request must not drop the notification either.
func (s *Service) notify(ctx context.Context, userID uuid.UUID, kind notify.Kind, payload map[string]any) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Notify(context.WithoutCancel(ctx), userID, kind, payload); err != nil {
		s.logger.Warn("notification failed",
			zap.String("user_id", userID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

func bookingPayload(b *Booking, extra map[string]any) map[string]any {
	payload := map[string]any{
		"booking_id": b.ID.String(),
		"reference":  b.Reference,
		"date":       b.Date.Format(calendar.DateLayout),
		"time":       b.StartTime.String(),
		"status":     string(b.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	id := bookingID
	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
	}
}
