package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/physiobook/booking-engine/internal/availability"
	"github.com/physiobook/booking-engine/internal/calendar"
	"github.com/physiobook/booking-engine/internal/payment"
)

// MemoryRepository keeps everything in maps behind one mutex. It enforces the
// same uniqueness and exclusion rules as the Postgres schema.
type MemoryRepository struct {
	mu sync.RWMutex

	patients   map[uuid.UUID]Patient
	therapists map[uuid.UUID]Therapist
	clinics    map[uuid.UUID]Clinic
	templates  []availability.Template
	overrides  []availability.Override
	bookings   map[uuid.UUID]Booking
	payments   map[uuid.UUID]payment.Payment
	events     []EventLog

	specializations map[uuid.UUID]Specialization
	assigned        map[uuid.UUID]map[uuid.UUID]struct{} // therapist -> specializations

	nextEvent  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:   make(map[uuid.UUID]Patient),
		therapists: make(map[uuid.UUID]Therapist),
		clinics:    make(map[uuid.UUID]Clinic),
		bookings:   make(map[uuid.UUID]Booking),
		payments:   make(map[uuid.UUID]payment.Payment),

		specializations: make(map[uuid.UUID]Specialization),
		assigned:        make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetTherapistByID(_ context.Context, id uuid.UUID) (*Therapist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.therapists[id]
	if !ok {
		return nil, ErrTherapistNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) GetClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) InsertPatient(_ context.Context, p Patient) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.patients[p.ID] = p
	return &p, nil
}

func (r *MemoryRepository) InsertTherapist(_ context.Context, t Therapist) (*Therapist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	r.therapists[t.ID] = t
	return &t, nil
}

func (r *MemoryRepository) InsertClinic(_ context.Context, c Clinic) (*Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	r.clinics[c.ID] = c
	return &c, nil
}

func (r *MemoryRepository) ListTemplates(_ context.Context, therapistID uuid.UUID, dayOfWeek int) ([]availability.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []availability.Template
	for _, t := range r.templates {
		if t.TherapistID == therapistID && t.DayOfWeek == dayOfWeek {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListOverrides(_ context.Context, therapistID uuid.UUID, date time.Time) ([]availability.Override, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	day := calendar.DateOf(date)
	var out []availability.Override
	for _, o := range r.overrides {
		if o.TherapistID == therapistID && o.Date.Equal(day) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertTemplate(_ context.Context, t availability.Template) (*availability.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.templates {
		if e.TherapistID == t.TherapistID && e.ClinicID == t.ClinicID &&
			e.DayOfWeek == t.DayOfWeek && calendar.Overlaps(e.Window, t.Window) {
			return nil, fmt.Errorf("%w: %s on day %d", availability.ErrTemplateOverlap, e.Window, e.DayOfWeek)
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now()
	r.templates = append(r.templates, t)
	return &t, nil
}

func (r *MemoryRepository) InsertOverride(_ context.Context, o availability.Override) (*availability.Override, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.Date = calendar.DateOf(o.Date)
	o.CreatedAt = time.Now()
	r.overrides = append(r.overrides, o)
	return &o, nil
}

func (r *MemoryRepository) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *MemoryRepository) InsertBooking(_ context.Context, b Booking) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.bookings {
		if existing.Reference == b.Reference {
			return nil, ErrDuplicateReference
		}
		// mirrors bookings_no_overlap: one therapist, one place at a time
		if b.Status.HoldsSlot() && existing.Status.HoldsSlot() &&
			existing.TherapistID == b.TherapistID &&
			existing.Date.Equal(b.Date) &&
			calendar.Overlaps(existing.Window(), b.Window()) {
			return nil, ErrSlotConflict
		}
	}

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.UpdatedAt = b.CreatedAt
	r.bookings[b.ID] = b
	return &b, nil
}

func (r *MemoryRepository) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to Status, actor *Actor) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrBookingNotFound
	}
	b.Status = to
	if actor != nil {
		a := *actor
		b.CancelledBy = &a
	}
	if to != StatusPending {
		b.ExpiresAt = nil
	}
	b.UpdatedAt = time.Now()
	r.bookings[id] = b
	return &b, nil
}

func (r *MemoryRepository) ListActiveBookings(_ context.Context, therapistID uuid.UUID, date time.Time) ([]Booking, error) {
	day := calendar.DateOf(date)
	return r.filter(func(b Booking) bool {
		return b.TherapistID == therapistID && b.Date.Equal(day) && b.Status.HoldsSlot()
	}, byStart, 0, 0), nil
}

func (r *MemoryRepository) ListPendingCreatedBefore(_ context.Context, cutoff time.Time) ([]Booking, error) {
	return r.filter(func(b Booking) bool {
		return b.Status == StatusPending && b.CreatedAt.Before(cutoff)
	}, byCreated, 0, 0), nil
}

func (r *MemoryRepository) ListBookingsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	return r.filter(func(b Booking) bool { return b.PatientID == patientID }, byStartDesc, limit, offset), nil
}

func (r *MemoryRepository) ListBookingsByTherapist(_ context.Context, therapistID uuid.UUID, limit, offset int) ([]Booking, error) {
	return r.filter(func(b Booking) bool { return b.TherapistID == therapistID }, byStartDesc, limit, offset), nil
}

func (r *MemoryRepository) InsertPayment(_ context.Context, p payment.Payment) (*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !p.Settled() {
		for _, existing := range r.payments {
			if existing.BookingID == p.BookingID && !existing.Settled() {
				return nil, ErrPaymentExists
			}
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.payments[p.ID] = p
	return &p, nil
}

func (r *MemoryRepository) GetOpenPayment(_ context.Context, bookingID uuid.UUID) (*payment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payments {
		if p.BookingID == bookingID && !p.Settled() {
			return &p, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (r *MemoryRepository) UpdatePaymentStatus(_ context.Context, id uuid.UUID, from, to payment.Status, processedAt *time.Time) (*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != from {
		return nil, ErrPaymentNotFound
	}
	p.Status = to
	if processedAt != nil {
		p.ProcessedAt = processedAt
	}
	p.UpdatedAt = time.Now()
	r.payments[id] = p
	return &p, nil
}

func (r *MemoryRepository) MovePayments(_ context.Context, fromBookingID, toBookingID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.payments {
		if p.BookingID == fromBookingID {
			p.BookingID = toBookingID
			r.payments[id] = p
		}
	}
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextEvent++
	ev.ID = r.nextEvent
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns the event log of one booking, oldest first.
func (r *MemoryRepository) Events(bookingID uuid.UUID) []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []EventLog
	for _, ev := range r.events {
		if ev.BookingID != nil && *ev.BookingID == bookingID {
			out = append(out, ev)
		}
	}
	return out
}

type bookingOrder func(a, b Booking) bool

func byStart(a, b Booking) bool { return a.StartTime < b.StartTime }

func byCreated(a, b Booking) bool { return a.CreatedAt.Before(b.CreatedAt) }

func byStartDesc(a, b Booking) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	return a.StartTime > b.StartTime
}

func (r *MemoryRepository) filter(keep func(Booking) bool, less bookingOrder, limit, offset int) []Booking {
	r.mu.RLock()
	var out []Booking
	for _, b := range r.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return window(out, limit, offset)
}

// window applies LIMIT/OFFSET semantics; limit 0 means no limit.
func window[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (r *MemoryRepository) UpdateTherapistFlags(_ context.Context, id uuid.UUID, flags TherapistFlags) (*Therapist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.therapists[id]
	if !ok {
		return nil, ErrTherapistNotFound
	}
	if flags.IsVerified != nil {
		t.IsVerified = *flags.IsVerified
	}
	if flags.IsAvailable != nil {
		t.IsAvailable = *flags.IsAvailable
	}
	t.UpdatedAt = time.Now()
	r.therapists[id] = t
	return &t, nil
}

func (r *MemoryRepository) SearchTherapists(_ context.Context, q TherapistSearch) ([]TherapistProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TherapistProfile
	for _, t := range r.therapists {
		if !t.IsAvailable {
			continue
		}
		names := r.activeSpecializations(t.ID)
		if q.Specialization != "" && !containsFold(names, q.Specialization) {
			continue
		}
		clinics := r.clinicsOf(t.ID, q.City)
		if q.City != "" && len(clinics) == 0 {
			continue
		}
		out = append(out, TherapistProfile{Therapist: t, Specializations: names, Clinics: clinics})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsVerified != out[j].IsVerified {
			return out[i].IsVerified
		}
		return out[i].Name < out[j].Name
	})
	return window(out, q.Limit, q.Offset), nil
}

func (r *MemoryRepository) activeSpecializations(therapistID uuid.UUID) []string {
	names := make([]string, 0)
	for id := range r.assigned[therapistID] {
		if sp := r.specializations[id]; sp.IsActive {
			names = append(names, sp.Name)
		}
	}
	sort.Strings(names)
	return names
}

// clinicsOf returns the clinics a therapist holds templates at, optionally in one city.
func (r *MemoryRepository) clinicsOf(therapistID uuid.UUID, city string) []Clinic {
	seen := make(map[uuid.UUID]bool)
	var out []Clinic
	for _, t := range r.templates {
		if t.TherapistID != therapistID || seen[t.ClinicID] {
			continue
		}
		seen[t.ClinicID] = true
		c, ok := r.clinics[t.ClinicID]
		if !ok || (city != "" && !strings.EqualFold(c.City, city)) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) ListCities(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.clinics {
		if c.City == "" || seen[c.City] {
			continue
		}
		seen[c.City] = true
		out = append(out, c.City)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepository) InsertSpecialization(_ context.Context, sp Specialization) (*Specialization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.specializations {
		if existing.Name == sp.Name {
			existing.Description = sp.Description
			r.specializations[id] = existing
			return &existing, nil
		}
	}
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}
	sp.CreatedAt = time.Now()
	r.specializations[sp.ID] = sp
	return &sp, nil
}

func (r *MemoryRepository) AssignSpecialization(_ context.Context, therapistID, specializationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.therapists[therapistID]; !ok {
		return ErrTherapistNotFound
	}
	if _, ok := r.specializations[specializationID]; !ok {
		return ErrSpecializationNotFound
	}
	if r.assigned[therapistID] == nil {
		r.assigned[therapistID] = make(map[uuid.UUID]struct{})
	}
	r.assigned[therapistID][specializationID] = struct{}{}
	return nil
}

func (r *MemoryRepository) ListSpecializations(_ context.Context) ([]Specialization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Specialization
	for _, sp := range r.specializations {
		if sp.IsActive {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) GetPaymentByID(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) ListPaymentsByBooking(_ context.Context, bookingID uuid.UUID) ([]payment.Payment, error) {
	return r.filterPayments(func(p payment.Payment) bool { return p.BookingID == bookingID }, 0, 0), nil
}

func (r *MemoryRepository) ListPayments(_ context.Context, f PaymentFilter) ([]payment.Payment, error) {
	return r.filterPayments(func(p payment.Payment) bool {
		return f.Status == "" || p.Status == f.Status
	}, f.Limit, f.Offset), nil
}

func (r *MemoryRepository) filterPayments(keep func(payment.Payment) bool, limit, offset int) []payment.Payment {
	r.mu.RLock()
	var out []payment.Payment
	for _, p := range r.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return window(out, limit, offset)
}

func (r *MemoryRepository) MarkPaymentReleased(_ context.Context, id uuid.UUID, at time.Time) (*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != payment.StatusCompleted || p.ReleasedAt != nil {
		return nil, ErrPaymentNotFound
	}
	p.ReleasedAt = &at
	p.UpdatedAt = time.Now()
	r.payments[id] = p
	return &p, nil
}
