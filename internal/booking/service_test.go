package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/physiobook/booking-engine/internal/availability"
	"github.com/physiobook/booking-engine/internal/calendar"
	"github.com/physiobook/booking-engine/internal/config"
	"github.com/physiobook/booking-engine/internal/metrics"
	"github.com/physiobook/booking-engine/internal/notify"
	"github.com/physiobook/booking-engine/internal/payment"
)

var (
	monday    = time.Date(2024, 12, 23, 0, 0, 0, 0, time.UTC)
	christmas = time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC)
	tuesday   = time.Date(2024, 12, 24, 0, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type sent struct {
	userID uuid.UUID
	kind   notify.Kind
}

type recordingEmitter struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (e *recordingEmitter) Notify(_ context.Context, userID uuid.UUID, kind notify.Kind, _ map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, sent{userID: userID, kind: kind})
	return e.err
}

func (e *recordingEmitter) count(kind notify.Kind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.sent {
		if s.kind == kind {
			n++
		}
	}
	return n
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) RequestPayment(ctx context.Context, bookingID uuid.UUID, amountCents int64, currency string) (*payment.Intent, error) {
	args := m.Called(ctx, bookingID, amountCents, currency)
	intent, _ := args.Get(0).(*payment.Intent)
	return intent, args.Error(1)
}

func (m *mockGateway) ConfirmPayment(ctx context.Context, externalID string) (payment.Status, error) {
	args := m.Called(ctx, externalID)
	return args.Get(0).(payment.Status), args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, externalID string) (payment.Status, error) {
	args := m.Called(ctx, externalID)
	return args.Get(0).(payment.Status), args.Error(1)
}

func (m *mockGateway) Void(ctx context.Context, externalID string) (payment.Status, error) {
	args := m.Called(ctx, externalID)
	return args.Get(0).(payment.Status), args.Error(1)
}

// passLocker never blocks, leaving the repository as the only guard.
type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	cfg       config.Config
	svc       *Service
	repo      *MemoryRepository
	clock     *fakeClock
	emitter   *recordingEmitter
	gateway   *mockGateway
	patient   *Patient
	therapist *Therapist
	clinic    *Clinic
}

type fixtureOption func(*fixtureSettings)

type fixtureSettings struct {
	paid   bool
	locker Locker
}

func withPayments() fixtureOption {
	return func(s *fixtureSettings) { s.paid = true }
}

func withLocker(l Locker) fixtureOption {
	return func(s *fixtureSettings) { s.locker = l }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	settings := fixtureSettings{locker: NewLocalLocker(time.Second)}
	for _, opt := range opts {
		opt(&settings)
	}

	ctx := context.Background()
	repo := NewMemoryRepository()

	patient, err := repo.InsertPatient(ctx, Patient{Name: "Aoife Byrne"})
	require.NoError(t, err)
	therapist, err := repo.InsertTherapist(ctx, Therapist{
		Name:        "Cian Walsh",
		RateCents:   6000,
		Currency:    "EUR",
		IsVerified:  true,
		IsAvailable: true,
	})
	require.NoError(t, err)
	clinic, err := repo.InsertClinic(ctx, Clinic{Name: "Harbour Physio", City: "Cork"})
	require.NoError(t, err)

	for day := 0; day < 5; day++ {
		tmpl, err := availability.NewTemplate(therapist.ID, clinic.ID, day,
			calendar.MustTimeOfDay("09:00"), calendar.MustTimeOfDay("17:00"))
		require.NoError(t, err)
		_, err = repo.InsertTemplate(ctx, tmpl)
		require.NoError(t, err)
	}

	cfg := config.Config{
		Location:   time.UTC,
		Currency:   "EUR",
		PendingTTL: 15 * time.Minute,
	}
	var gateway *mockGateway
	var gw payment.Gateway
	if settings.paid {
		cfg.StripeSecretKey = "sk_test_fixture"
		gateway = &mockGateway{}
		gw = gateway
	}

	clock := &fakeClock{now: time.Date(2024, 12, 20, 8, 0, 0, 0, time.UTC)}
	emitter := &recordingEmitter{}

	svc := NewService(repo, settings.locker, gw, emitter, cfg, zaptest.NewLogger(t),
		WithClock(clock),
		WithMetrics(metrics.New()),
	)

	return &fixture{
		cfg:       cfg,
		svc:       svc,
		repo:      repo,
		clock:     clock,
		emitter:   emitter,
		gateway:   gateway,
		patient:   patient,
		therapist: therapist,
		clinic:    clinic,
	}
}

func (f *fixture) request(date time.Time, start string) CreateBookingRequest {
	return CreateBookingRequest{
		PatientID:       f.patient.ID,
		TherapistID:     f.therapist.ID,
		ClinicID:        f.clinic.ID,
		Date:            date,
		StartTime:       calendar.MustTimeOfDay(start),
		DurationMinutes: 60,
	}
}

func (f *fixture) slots(t *testing.T, date time.Time) []string {
	t.Helper()
	got, err := f.svc.ListAvailableSlots(context.Background(), f.therapist.ID, &f.clinic.ID, date, 60)
	require.NoError(t, err)
	out := make([]string, 0, len(got))
	for _, s := range got {
		out = append(out, s.Start.String())
	}
	return out
}

func TestListAvailableSlots_FullWorkingDay(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t,
		[]string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00", "16:00"},
		f.slots(t, monday))
}

func TestListAvailableSlots_ExcludesScheduledBooking(t *testing.T) {
	f := newFixture(t)

	b, err := f.svc.CreateBooking(context.Background(), f.request(monday, "11:00"))
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, b.Status)

	got := f.slots(t, monday)
	assert.Len(t, got, 7)
	assert.NotContains(t, got, "11:00")
}

func TestListAvailableSlots_HolidayOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := availability.NewOverride(f.therapist.ID, nil, christmas,
		calendar.MustTimeOfDay("00:00"), calendar.MustTimeOfDay("23:59"), false, "Christmas Day")
	require.NoError(t, err)
	_, err = f.repo.InsertOverride(ctx, o)
	require.NoError(t, err)

	open, err := f.svc.ResolveAvailability(ctx, f.therapist.ID, nil, christmas)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Empty(t, f.slots(t, christmas))
}

func TestListAvailableSlots_HidesPastAndToday(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(monday.Add(13*time.Hour + 30*time.Minute))

	assert.Equal(t, []string{"14:00", "15:00", "16:00"}, f.slots(t, monday))
	assert.Empty(t, f.slots(t, monday.AddDate(0, 0, -7)))
}

func TestListAvailableSlots_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ListAvailableSlots(ctx, f.therapist.ID, nil, monday, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.ListAvailableSlots(ctx, uuid.New(), nil, monday, 60)
	assert.ErrorIs(t, err, ErrTherapistNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateBooking_GeneratedSlotsRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	offered, err := f.svc.ListAvailableSlots(ctx, f.therapist.ID, &f.clinic.ID, monday, 60)
	require.NoError(t, err)
	require.Len(t, offered, 8)

	seen := make(map[string]bool)
	for _, s := range offered {
		req := f.request(monday, s.Start.String())
		b, err := f.svc.CreateBooking(ctx, req)
		require.NoError(t, err, "slot %s", s.Start)
		assert.Regexp(t, `^BK[A-Z2-9]{8}$`, b.Reference)
		assert.False(t, seen[b.Reference])
		seen[b.Reference] = true
		assert.Equal(t, int64(6000), b.TotalAmountCents)
		assert.Equal(t, "EUR", b.Currency)
	}

	assert.Empty(t, f.slots(t, monday))
	assert.Equal(t, 8, f.emitter.count(notify.KindBookingScheduled)/2)
}

func TestCreateBooking_SlotNotOffered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateBooking(ctx, f.request(monday, "08:00"))
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.True(t, IsRetryable(err))

	// misaligned start inside an open window
	_, err = f.svc.CreateBooking(ctx, f.request(monday, "09:30"))
	assert.ErrorIs(t, err, ErrSlotConflict)

	// Saturday has no template
	_, err = f.svc.CreateBooking(ctx, f.request(monday.AddDate(0, 0, 5), "10:00"))
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestCreateBooking_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(monday, "10:00")
	req.DurationMinutes = 0
	_, err := f.svc.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = f.request(monday, "23:30")
	_, err = f.svc.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, calendar.ErrInvalidInterval)

	req = f.request(monday, "10:00")
	req.PatientID = uuid.New()
	_, err = f.svc.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, ErrPatientNotFound)

	req = f.request(monday, "10:00")
	req.ClinicID = uuid.New()
	_, err = f.svc.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, ErrClinicNotFound)
}

func TestCreateBooking_TherapistUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t2 := *f.therapist
	t2.IsAvailable = false
	_, err := f.repo.InsertTherapist(ctx, t2)
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	assert.ErrorIs(t, err, ErrTherapistUnavailable)
	assert.False(t, IsRetryable(err))
}

func TestCreateBooking_ConcurrentRequestsSingleWinner(t *testing.T) {
	lockers := map[string]Locker{
		"local lock": NewLocalLocker(time.Second),
		"no lock":    passLocker{},
	}

	for name, locker := range lockers {
		t.Run(name, func(t *testing.T) {
			for _, n := range []int{2, 25} {
				f := newFixture(t, withLocker(locker))

				var (
					wg        sync.WaitGroup
					mu        sync.Mutex
					wins      int
					conflicts int
					others    []error
				)
				start := make(chan struct{})
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						<-start
						_, err := f.svc.CreateBooking(context.Background(), f.request(monday, "10:00"))
						mu.Lock()
						defer mu.Unlock()
						switch {
						case err == nil:
							wins++
						case errors.Is(err, ErrSlotConflict):
							conflicts++
						default:
							others = append(others, err)
						}
					}()
				}
				close(start)
				wg.Wait()

				assert.Empty(t, others)
				assert.Equal(t, 1, wins, "n=%d", n)
				assert.Equal(t, n-1, conflicts, "n=%d", n)

				active, err := f.repo.ListActiveBookings(context.Background(), f.therapist.ID, monday)
				require.NoError(t, err)
				assert.Len(t, active, 1)
			}
		})
	}
}

func TestPaymentFlow_ConfirmSchedulesBooking(t *testing.T) {
	f := newFixture(t, withPayments())
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)
	require.Equal(t, StatusPending, b.Status)
	require.NotNil(t, b.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), *b.ExpiresAt)
	assert.Equal(t, 2, f.emitter.count(notify.KindBookingCreated))

	_, err = f.svc.ConfirmPayment(ctx, b.ID)
	assert.ErrorIs(t, err, ErrPaymentRequired)

	f.gateway.On("RequestPayment", mock.Anything, b.ID, int64(6000), "EUR").
		Return(&payment.Intent{ExternalID: "pi_123", ClientToken: "pi_123_secret", Status: payment.StatusPending}, nil).Once()

	p, err := f.svc.RequestPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_123_secret", p.ClientToken)

	again, err := f.svc.RequestPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	f.gateway.On("ConfirmPayment", mock.Anything, "pi_123").Return(payment.StatusCompleted, nil).Once()

	scheduled, err := f.svc.ConfirmPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, scheduled.Status)
	assert.Nil(t, scheduled.ExpiresAt)

	// confirming twice is harmless
	scheduled, err = f.svc.ConfirmPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, scheduled.Status)

	stored, err := f.repo.GetOpenPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)

	f.gateway.AssertExpectations(t)
}

func TestPaymentFlow_FailureKeepsBookingPending(t *testing.T) {
	f := newFixture(t, withPayments())
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)

	f.gateway.On("RequestPayment", mock.Anything, b.ID, int64(6000), "EUR").
		Return(&payment.Intent{ExternalID: "pi_fail", ClientToken: "tok"}, nil).Once()
	f.gateway.On("ConfirmPayment", mock.Anything, "pi_fail").Return(payment.StatusFailed, nil).Once()

	_, err = f.svc.RequestPayment(ctx, b.ID)
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, b.ID)
	assert.ErrorIs(t, err, ErrPaymentRequired)

	current, err := f.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, current.Status)
	assert.Equal(t, 1, f.emitter.count(notify.KindPaymentFailed))

	// the failed attempt no longer blocks a new one
	f.gateway.On("RequestPayment", mock.Anything, b.ID, int64(6000), "EUR").
		Return(&payment.Intent{ExternalID: "pi_retry", ClientToken: "tok2"}, nil).Once()
	retry, err := f.svc.RequestPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_retry", retry.ExternalTransactionID)

	f.gateway.AssertExpectations(t)
}

func TestPaymentFlow_DisabledWithoutGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)

	_, err = f.svc.RequestPayment(ctx, b.ID)
	assert.ErrorIs(t, err, ErrPaymentsDisabled)
	_, err = f.svc.RefundPayment(ctx, b.ID, "goodwill")
	assert.ErrorIs(t, err, ErrPaymentsDisabled)
}

func payFor(t *testing.T, f *fixture, b *Booking, externalID string) {
	t.Helper()
	ctx := context.Background()
	f.gateway.On("RequestPayment", mock.Anything, b.ID, b.TotalAmountCents, b.Currency).
		Return(&payment.Intent{ExternalID: externalID, ClientToken: externalID + "_secret"}, nil).Once()
	f.gateway.On("ConfirmPayment", mock.Anything, externalID).Return(payment.StatusCompleted, nil).Once()

	_, err := f.svc.RequestPayment(ctx, b.ID)
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, b.ID)
	require.NoError(t, err)
}

func TestCancelBooking_RefundsCompletedPayment(t *testing.T) {
	f := newFixture(t, withPayments())
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)
	payFor(t, f, b, "pi_paid")

	f.gateway.On("Refund", mock.Anything, "pi_paid").Return(payment.StatusRefunded, nil).Once()

	cancelled, err := f.svc.CancelBooking(ctx, b.ID, ActorPatient)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, ActorPatient, *cancelled.CancelledBy)

	_, err = f.repo.GetOpenPayment(ctx, b.ID)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
	assert.Equal(t, 1, f.emitter.count(notify.KindPaymentRefunded))
	assert.Equal(t, 2, f.emitter.count(notify.KindBookingCancelled))

	assert.Contains(t, f.slots(t, monday), "10:00")

	_, err = f.svc.CancelBooking(ctx, b.ID, ActorPatient)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, IsRetryable(err))

	f.gateway.AssertExpectations(t)
}

func TestCancelBooking_NotificationFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)

	f.emitter.err = errors.New("broker down")
	cancelled, err := f.svc.CancelBooking(ctx, b.ID, ActorTherapist)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.svc.CancelBooking(ctx, b.ID, Actor("robot"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCompleteBooking_IdempotentAfterEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "11:00"))
	require.NoError(t, err)

	f.clock.Set(monday.Add(11*time.Hour + 30*time.Minute))
	_, err = f.svc.CompleteBooking(ctx, b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.clock.Set(monday.Add(12 * time.Hour))
	first, err := f.svc.CompleteBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, first.Status)

	second, err := f.svc.CompleteBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, second.Status)

	assert.Equal(t, 2, f.emitter.count(notify.KindBookingCompleted), "one per party, no duplicates")

	_, err = f.svc.CancelBooking(ctx, b.ID, ActorAdmin)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteBooking_RequiresScheduled(t *testing.T) {
	f := newFixture(t, withPayments())
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "11:00"))
	require.NoError(t, err)

	f.clock.Set(monday.Add(13 * time.Hour))
	_, err = f.svc.CompleteBooking(ctx, b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.CompleteBooking(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestMarkNoShow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "09:00"))
	require.NoError(t, err)

	_, err = f.svc.MarkNoShow(ctx, b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.clock.Set(monday.Add(9*time.Hour + 15*time.Minute))
	noShow, err := f.svc.MarkNoShow(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, noShow.Status)

	_, err = f.svc.CompleteBooking(ctx, b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExpirePendingBookings_VoidsIntent(t *testing.T) {
	f := newFixture(t, withPayments())
	ctx := context.Background()

	stale, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)
	f.gateway.On("RequestPayment", mock.Anything, stale.ID, int64(6000), "EUR").
		Return(&payment.Intent{ExternalID: "pi_stale", ClientToken: "tok"}, nil).Once()
	_, err = f.svc.RequestPayment(ctx, stale.ID)
	require.NoError(t, err)

	f.clock.Set(f.clock.Now().Add(10 * time.Minute))
	fresh, err := f.svc.CreateBooking(ctx, f.request(monday, "11:00"))
	require.NoError(t, err)

	f.clock.Set(f.clock.Now().Add(10 * time.Minute))
	f.gateway.On("Void", mock.Anything, "pi_stale").Return(payment.StatusVoided, nil).Once()

	n, err := f.svc.ExpirePendingBookings(ctx, f.clock.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := f.svc.GetBooking(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, expired.Status)
	require.NotNil(t, expired.CancelledBy)
	assert.Equal(t, ActorSystem, *expired.CancelledBy)

	stillPending, err := f.svc.GetBooking(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stillPending.Status)

	assert.Contains(t, f.slots(t, monday), "10:00")
	assert.Equal(t, 1, f.emitter.count(notify.KindBookingExpired))

	var types []string
	for _, ev := range f.repo.Events(stale.ID) {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{EventBookingCreated, EventPaymentRequested, EventBookingExpired, EventPaymentVoided}, types)

	// a second sweep finds nothing new
	n, err = f.svc.ExpirePendingBookings(ctx, f.clock.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.gateway.AssertExpectations(t)
}

func TestExpirePendingBookings_RefundsCapturedIntent(t *testing.T) {
	f := newFixture(t, withPayments())
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)
	f.gateway.On("RequestPayment", mock.Anything, b.ID, int64(6000), "EUR").
		Return(&payment.Intent{ExternalID: "pi_late", ClientToken: "tok"}, nil).Once()
	_, err = f.svc.RequestPayment(ctx, b.ID)
	require.NoError(t, err)

	f.clock.Set(f.clock.Now().Add(time.Hour))
	f.gateway.On("Void", mock.Anything, "pi_late").Return(payment.StatusCompleted, payment.ErrAlreadyCaptured).Once()
	f.gateway.On("Refund", mock.Anything, "pi_late").Return(payment.StatusRefunded, nil).Once()

	n, err := f.svc.ExpirePendingBookings(ctx, f.clock.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.repo.GetOpenPayment(ctx, b.ID)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
	assert.Equal(t, 1, f.emitter.count(notify.KindPaymentRefunded))

	f.gateway.AssertExpectations(t)
}

func TestConfirmPayment_AfterExpiryCancels(t *testing.T) {
	f := newFixture(t, withPayments())
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)

	f.clock.Set(f.clock.Now().Add(16 * time.Minute))
	_, err = f.svc.ConfirmPayment(ctx, b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	current, err := f.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, current.Status)
}

func TestRescheduleBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.svc.CreateBooking(ctx, f.request(monday, "11:00"))
	require.NoError(t, err)
	blocker, err := f.svc.CreateBooking(ctx, f.request(tuesday, "09:00"))
	require.NoError(t, err)

	_, err = f.svc.RescheduleBooking(ctx, old.ID, tuesday, blocker.StartTime)
	assert.ErrorIs(t, err, ErrSlotConflict)

	_, err = f.svc.RescheduleBooking(ctx, old.ID, monday, old.StartTime)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	moved, err := f.svc.RescheduleBooking(ctx, old.ID, tuesday, calendar.MustTimeOfDay("14:00"))
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, moved.Status)
	require.NotNil(t, moved.RescheduledFrom)
	assert.Equal(t, old.ID, *moved.RescheduledFrom)
	assert.NotEqual(t, old.Reference, moved.Reference)

	previous, err := f.svc.GetBooking(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, previous.Status)

	assert.Contains(t, f.slots(t, monday), "11:00")
	assert.NotContains(t, f.slots(t, tuesday), "14:00")
	assert.Equal(t, 2, f.emitter.count(notify.KindBookingRescheduled))

	_, err = f.svc.RescheduleBooking(ctx, old.ID, tuesday, calendar.MustTimeOfDay("15:00"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRescheduleBooking_WithinOwnWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)

	moved, err := f.svc.RescheduleBooking(ctx, old.ID, monday, calendar.MustTimeOfDay("11:00"))
	require.NoError(t, err)
	assert.Equal(t, "11:00", moved.StartTime.String())
}

// flakyMoveRepository fails payment moves, or runs before first on each move.
type flakyMoveRepository struct {
	*MemoryRepository
	err    error
	before func()
}

func (r *flakyMoveRepository) MovePayments(ctx context.Context, fromBookingID, toBookingID uuid.UUID) error {
	if r.before != nil {
		r.before()
		r.before = nil
	}
	if r.err != nil {
		return r.err
	}
	return r.MemoryRepository.MovePayments(ctx, fromBookingID, toBookingID)
}

func assertRescheduleUndone(t *testing.T, f *fixture, original *Booking, want Status) {
	t.Helper()
	ctx := context.Background()

	current, err := f.repo.GetBookingByID(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, want, current.Status)

	p, err := f.repo.GetOpenPayment(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)

	active, err := f.repo.ListActiveBookings(ctx, f.therapist.ID, tuesday)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Zero(t, f.emitter.count(notify.KindBookingRescheduled))
}

func TestRescheduleBooking_PaymentMoveFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t, withPayments())
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)
	payFor(t, f, b, "pi_move")

	repo := &flakyMoveRepository{MemoryRepository: f.repo, err: errors.New("connection reset")}
	svc := NewService(repo, NewLocalLocker(time.Second), f.gateway, f.emitter, f.cfg, zaptest.NewLogger(t), WithClock(f.clock))

	_, err = svc.RescheduleBooking(ctx, b.ID, tuesday, calendar.MustTimeOfDay("14:00"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "move payments")

	assertRescheduleUndone(t, f, b, StatusScheduled)
	assert.Contains(t, f.slots(t, tuesday), "14:00")
}

func TestRescheduleBooking_ConcurrentCancelReturnsPayments(t *testing.T) {
	f := newFixture(t, withPayments())
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)
	payFor(t, f, b, "pi_race")

	patient := ActorPatient
	repo := &flakyMoveRepository{
		MemoryRepository: f.repo,
		before: func() {
			_, err := f.repo.UpdateBookingStatus(ctx, b.ID, StatusScheduled, StatusCancelled, &patient)
			require.NoError(t, err)
		},
	}
	svc := NewService(repo, NewLocalLocker(time.Second), f.gateway, f.emitter, f.cfg, zaptest.NewLogger(t), WithClock(f.clock))

	_, err = svc.RescheduleBooking(ctx, b.ID, tuesday, calendar.MustTimeOfDay("14:00"))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assertRescheduleUndone(t, f, b, StatusCancelled)
}

func TestRefundPayment_KeepsBooking(t *testing.T) {
	f := newFixture(t, withPayments())
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, f.request(monday, "10:00"))
	require.NoError(t, err)

	_, err = f.svc.RefundPayment(ctx, b.ID, "goodwill")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	payFor(t, f, b, "pi_goodwill")
	f.gateway.On("Refund", mock.Anything, "pi_goodwill").Return(payment.StatusRefunded, nil).Once()

	refunded, err := f.svc.RefundPayment(ctx, b.ID, "goodwill")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, refunded.Status)

	current, err := f.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, current.Status)

	f.gateway.AssertExpectations(t)
}

func TestListBookings_Paging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, start := range []string{"09:00", "10:00", "11:00"} {
		_, err := f.svc.CreateBooking(ctx, f.request(monday, start))
		require.NoError(t, err)
	}

	all, err := f.svc.ListBookingsByPatient(ctx, f.patient.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "11:00", all[0].StartTime.String())

	paged, err := f.svc.ListBookingsByTherapist(ctx, f.therapist.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "09:00", paged[0].StartTime.String())

	limit, offset := page(500, -3)
	assert.Equal(t, maxPageSize, limit)
	assert.Equal(t, 0, offset)
}

func TestStatus(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.HoldsSlot(), s)
	}
	assert.True(t, StatusPending.HoldsSlot())
	assert.True(t, StatusScheduled.HoldsSlot())
	assert.False(t, StatusRescheduled.HoldsSlot())
	assert.False(t, StatusRescheduled.Terminal())
}
