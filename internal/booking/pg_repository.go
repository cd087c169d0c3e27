package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/physiobook/booking-engine/internal/availability"
	"github.com/physiobook/booking-engine/internal/calendar"
	"github.com/physiobook/booking-engine/internal/payment"
)

const (
	uniqueViolation     = "23505"
	exclusionViolation  = "23P01"
	foreignKeyViolation = "23503"

	constraintBookingReference = "bookings_reference_key"
	constraintOpenPayment      = "payments_open_per_booking_key"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const bookingColumns = `id, reference, patient_id, therapist_id, clinic_id, appointment_date, start_minute,
	duration_minutes, status, treatment_type_id, total_amount_cents, currency, notes, cancelled_by,
	rescheduled_from, expires_at, created_at, updated_at`

const paymentColumns = `id, booking_id, amount_cents, currency, status, external_transaction_id,
	client_token, processed_at, released_at, created_at, updated_at`

const therapistColumns = `id, name, email, rate_cents, currency, is_verified, is_available, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanTherapist(row pgx.Row) (*Therapist, error) {
	var t Therapist
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Email,
		&t.RateCents,
		&t.Currency,
		&t.IsVerified,
		&t.IsAvailable,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTherapistNotFound
		}
		return nil, err
	}
	return &t, nil
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	var city *string
	err := row.Scan(&c.ID, &c.Name, &city, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}
	if city != nil {
		c.City = *city
	}
	return &c, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var start, duration int
	var cancelledBy *string

	err := row.Scan(
		&b.ID,
		&b.Reference,
		&b.PatientID,
		&b.TherapistID,
		&b.ClinicID,
		&b.Date,
		&start,
		&duration,
		&b.Status,
		&b.TreatmentTypeID,
		&b.TotalAmountCents,
		&b.Currency,
		&b.Notes,
		&cancelledBy,
		&b.RescheduledFrom,
		&b.ExpiresAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.Date = calendar.DateOf(b.Date)
	b.StartTime = calendar.TimeOfDay(start)
	b.DurationMinutes = duration
	if cancelledBy != nil {
		a := Actor(*cancelledBy)
		b.CancelledBy = &a
	}
	return &b, nil
}

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID,
		&p.BookingID,
		&p.AmountCents,
		&p.Currency,
		&p.Status,
		&p.ExternalTransactionID,
		&p.ClientToken,
		&p.ProcessedAt,
		&p.ReleasedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func violation(err error, code string) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == code {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func uniqueConstraint(err error) (string, bool) {
	return violation(err, uniqueViolation)
}

// bookingInsertError maps constraint violations raised by INSERT INTO bookings.
// bookings_active_slot_key and bookings_no_overlap both mean the time is taken.
func bookingInsertError(err error) error {
	if constraint, ok := uniqueConstraint(err); ok {
		if constraint == constraintBookingReference {
			return ErrDuplicateReference
		}
		return ErrSlotConflict
	}
	if _, ok := violation(err, exclusionViolation); ok {
		return ErrSlotConflict
	}
	return fmt.Errorf("insert booking: %w", err)
}

func templateInsertError(err error) error {
	if _, ok := violation(err, exclusionViolation); ok {
		return availability.ErrTemplateOverlap
	}
	return fmt.Errorf("insert template: %w", err)
}

func collectPayments(rows pgx.Rows) ([]payment.Payment, error) {
	defer rows.Close()

	var result []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanSpecialization(row pgx.Row) (*Specialization, error) {
	var sp Specialization
	err := row.Scan(&sp.ID, &sp.Name, &sp.Description, &sp.IsActive, &sp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSpecializationNotFound
		}
		return nil, err
	}
	return &sp, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetTherapistByID(ctx context.Context, id uuid.UUID) (*Therapist, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+therapistColumns+`
		FROM therapists
		WHERE id = $1
	`, id)
	return scanTherapist(row)
}

func (r *PgRepository) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, city, created_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) InsertPatient(ctx context.Context, p Patient) (*Patient, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id, name, email, created_at, updated_at
	`, p.ID, p.Name, p.Email)
	return scanPatient(row)
}

func (r *PgRepository) InsertTherapist(ctx context.Context, t Therapist) (*Therapist, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO therapists (id, name, email, rate_cents, currency, is_verified, is_available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+therapistColumns,
		t.ID, t.Name, t.Email, t.RateCents, t.Currency, t.IsVerified, t.IsAvailable)
	return scanTherapist(row)
}

func (r *PgRepository) InsertClinic(ctx context.Context, c Clinic) (*Clinic, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO clinics (id, name, city, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, name, city, created_at
	`, c.ID, c.Name, c.City)
	return scanClinic(row)
}

func (r *PgRepository) ListTemplates(ctx context.Context, therapistID uuid.UUID, dayOfWeek int) ([]availability.Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, therapist_id, clinic_id, day_of_week, start_minute, end_minute, created_at
		FROM availability_templates
		WHERE therapist_id = $1 AND day_of_week = $2
		ORDER BY start_minute
	`, therapistID, dayOfWeek)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []availability.Template
	for rows.Next() {
		var t availability.Template
		var start, end int
		if err := rows.Scan(&t.ID, &t.TherapistID, &t.ClinicID, &t.DayOfWeek, &start, &end, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Window = calendar.Interval{Start: calendar.TimeOfDay(start), End: calendar.TimeOfDay(end)}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListOverrides(ctx context.Context, therapistID uuid.UUID, date time.Time) ([]availability.Override, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, therapist_id, clinic_id, date, start_minute, end_minute, is_available, reason, created_at
		FROM specific_availability
		WHERE therapist_id = $1 AND date = $2
		ORDER BY start_minute
	`, therapistID, calendar.DateOf(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []availability.Override
	for rows.Next() {
		var o availability.Override
		var start, end int
		if err := rows.Scan(&o.ID, &o.TherapistID, &o.ClinicID, &o.Date, &start, &end, &o.IsAvailable, &o.Reason, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Date = calendar.DateOf(o.Date)
		o.Window = calendar.Interval{Start: calendar.TimeOfDay(start), End: calendar.TimeOfDay(end)}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertTemplate(ctx context.Context, t availability.Template) (*availability.Template, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO availability_templates (id, therapist_id, clinic_id, day_of_week, start_minute, end_minute, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at
	`, t.ID, t.TherapistID, t.ClinicID, t.DayOfWeek, int(t.Window.Start), int(t.Window.End)).Scan(&t.CreatedAt)
	if err != nil {
		return nil, templateInsertError(err)
	}
	return &t, nil
}

func (r *PgRepository) InsertOverride(ctx context.Context, o availability.Override) (*availability.Override, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.Date = calendar.DateOf(o.Date)
	err := r.pool.QueryRow(ctx, `
		INSERT INTO specific_availability (id, therapist_id, clinic_id, date, start_minute, end_minute, is_available, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING created_at
	`, o.ID, o.TherapistID, o.ClinicID, o.Date, int(o.Window.Start), int(o.Window.End), o.IsAvailable, o.Reason).Scan(&o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *PgRepository) InsertBooking(ctx context.Context, b Booking) (*Booking, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (id, reference, patient_id, therapist_id, clinic_id, appointment_date, start_minute,
			duration_minutes, status, treatment_type_id, total_amount_cents, currency, notes, rescheduled_from,
			expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			COALESCE($16, now()), COALESCE($16, now()))
		RETURNING `+bookingColumns,
		b.ID, b.Reference, b.PatientID, b.TherapistID, b.ClinicID, calendar.DateOf(b.Date), int(b.StartTime),
		b.DurationMinutes, string(b.Status), b.TreatmentTypeID, b.TotalAmountCents, b.Currency, b.Notes,
		b.RescheduledFrom, b.ExpiresAt, nullableTime(b.CreatedAt),
	)

	created, err := scanBooking(row)
	if err != nil {
		return nil, bookingInsertError(err)
	}
	return created, nil
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status, actor *Actor) (*Booking, error) {
	var actorArg *string
	if actor != nil {
		s := string(*actor)
		actorArg = &s
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    cancelled_by = COALESCE($4, cancelled_by),
		    expires_at = CASE WHEN $2 = 'pending' THEN expires_at ELSE NULL END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns,
		id, string(to), string(from), actorArg)

	return scanBooking(row)
}

func (r *PgRepository) ListActiveBookings(ctx context.Context, therapistID uuid.UUID, date time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE therapist_id = $1
		  AND appointment_date = $2
		  AND status IN ('pending', 'scheduled')
		ORDER BY start_minute
	`, therapistID, calendar.DateOf(date))
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
		  AND created_at < $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, start_minute DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListBookingsByTherapist(ctx context.Context, therapistID uuid.UUID, limit, offset int) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE therapist_id = $1
		ORDER BY appointment_date DESC, start_minute DESC
		LIMIT $2 OFFSET $3
	`, therapistID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) InsertPayment(ctx context.Context, p payment.Payment) (*payment.Payment, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO payments (id, booking_id, amount_cents, currency, status, external_transaction_id,
			client_token, processed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+paymentColumns,
		p.ID, p.BookingID, p.AmountCents, p.Currency, string(p.Status), p.ExternalTransactionID,
		p.ClientToken, p.ProcessedAt,
	)

	created, err := scanPayment(row)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok && constraint == constraintOpenPayment {
			return nil, ErrPaymentExists
		}
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetOpenPayment(ctx context.Context, bookingID uuid.UUID) (*payment.Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE booking_id = $1
		  AND status IN ('pending', 'completed')
		ORDER BY created_at DESC
		LIMIT 1
	`, bookingID)
	return scanPayment(row)
}

func (r *PgRepository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to payment.Status, processedAt *time.Time) (*payment.Payment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payments
		SET status = $2,
		    processed_at = COALESCE($4, processed_at),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+paymentColumns,
		id, string(to), string(from), processedAt)
	return scanPayment(row)
}

func (r *PgRepository) MovePayments(ctx context.Context, fromBookingID, toBookingID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET booking_id = $2,
		    updated_at = now()
		WHERE booking_id = $1
	`, fromBookingID, toBookingID)
	if err != nil {
		return fmt.Errorf("move payments: %w", err)
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateTherapistFlags(ctx context.Context, id uuid.UUID, flags TherapistFlags) (*Therapist, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE therapists
		SET is_verified = COALESCE($2, is_verified),
		    is_available = COALESCE($3, is_available),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+therapistColumns,
		id, flags.IsVerified, flags.IsAvailable)
	return scanTherapist(row)
}

func (r *PgRepository) SearchTherapists(ctx context.Context, q TherapistSearch) ([]TherapistProfile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.name, t.email, t.rate_cents, t.currency, t.is_verified, t.is_available,
		       t.created_at, t.updated_at,
		       COALESCE(array_agg(DISTINCT sp.name) FILTER (WHERE sp.id IS NOT NULL), '{}') AS specializations
		FROM therapists t
		LEFT JOIN therapist_specializations ts ON ts.therapist_id = t.id
		LEFT JOIN specializations sp ON sp.id = ts.specialization_id AND sp.is_active
		WHERE t.is_available
		  AND ($1 = '' OR EXISTS (
		        SELECT 1
		        FROM therapist_specializations ts2
		        JOIN specializations sp2 ON sp2.id = ts2.specialization_id
		        WHERE ts2.therapist_id = t.id AND sp2.is_active AND lower(sp2.name) = lower($1)))
		  AND ($2 = '' OR EXISTS (
		        SELECT 1
		        FROM availability_templates at
		        JOIN clinics c ON c.id = at.clinic_id
		        WHERE at.therapist_id = t.id AND lower(c.city) = lower($2)))
		GROUP BY t.id
		ORDER BY t.is_verified DESC, t.name
		LIMIT $3 OFFSET $4
	`, q.Specialization, q.City, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("search therapists: %w", err)
	}

	var profiles []TherapistProfile
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var p TherapistProfile
		err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.RateCents, &p.Currency, &p.IsVerified,
			&p.IsAvailable, &p.CreatedAt, &p.UpdatedAt, &p.Specializations)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan therapist: %w", err)
		}
		index[p.ID] = len(profiles)
		profiles = append(profiles, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}

	clinicRows, err := r.pool.Query(ctx, `
		SELECT DISTINCT at.therapist_id, c.id, c.name, COALESCE(c.city, ''), c.created_at
		FROM availability_templates at
		JOIN clinics c ON c.id = at.clinic_id
		WHERE at.therapist_id = ANY($1::uuid[])
		  AND ($2 = '' OR lower(c.city) = lower($2))
		ORDER BY c.name
	`, ids, q.City)
	if err != nil {
		return nil, fmt.Errorf("list therapist clinics: %w", err)
	}
	defer clinicRows.Close()

	for clinicRows.Next() {
		var therapistID uuid.UUID
		var c Clinic
		if err := clinicRows.Scan(&therapistID, &c.ID, &c.Name, &c.City, &c.CreatedAt); err != nil {
			return nil, err
		}
		i := index[therapistID]
		profiles[i].Clinics = append(profiles[i].Clinics, c)
	}
	if err := clinicRows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *PgRepository) ListCities(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT city
		FROM clinics
		WHERE city IS NOT NULL AND city <> ''
		ORDER BY city
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *PgRepository) InsertSpecialization(ctx context.Context, sp Specialization) (*Specialization, error) {
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO specializations (id, name, description, is_active, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		RETURNING id, name, description, is_active, created_at
	`, sp.ID, sp.Name, sp.Description, sp.IsActive)
	return scanSpecialization(row)
}

func (r *PgRepository) AssignSpecialization(ctx context.Context, therapistID, specializationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO therapist_specializations (therapist_id, specialization_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, therapistID, specializationID)
	if err != nil {
		return assignError(err)
	}
	return nil
}

// assignError maps the foreign keys of therapist_specializations.
func assignError(err error) error {
	constraint, ok := violation(err, foreignKeyViolation)
	switch {
	case !ok:
		return fmt.Errorf("assign specialization: %w", err)
	case strings.Contains(constraint, "specialization_id"):
		return ErrSpecializationNotFound
	default:
		return ErrTherapistNotFound
	}
}

func (r *PgRepository) ListSpecializations(ctx context.Context) ([]Specialization, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, is_active, created_at
		FROM specializations
		WHERE is_active
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Specialization
	for rows.Next() {
		sp, err := scanSpecialization(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) GetPaymentByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
	`, id)
	return scanPayment(row)
}

func (r *PgRepository) ListPaymentsByBooking(ctx context.Context, bookingID uuid.UUID) ([]payment.Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE booking_id = $1
		ORDER BY created_at DESC
	`, bookingID)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (r *PgRepository) ListPayments(ctx context.Context, f PaymentFilter) ([]payment.Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (r *PgRepository) MarkPaymentReleased(ctx context.Context, id uuid.UUID, at time.Time) (*payment.Payment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payments
		SET released_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'completed'
		  AND released_at IS NULL
		RETURNING `+paymentColumns,
		id, at)
	return scanPayment(row)
}
