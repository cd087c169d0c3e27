package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/physiobook/booking-engine/internal/calendar"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusScheduled   Status = "scheduled"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// HoldsSlot reports whether a booking in this status occupies its slot.
func (s Status) HoldsSlot() bool {
	return s == StatusPending || s == StatusScheduled
}

// Actor identifies who drove a transition.
type Actor string

const (
	ActorPatient   Actor = "patient"
	ActorTherapist Actor = "therapist"
	ActorAdmin     Actor = "admin"
	ActorSystem    Actor = "system"
)

func (a Actor) Valid() bool {
	switch a {
	case ActorPatient, ActorTherapist, ActorAdmin, ActorSystem:
		return true
	}
	return false
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Therapist struct {
	ID          uuid.UUID
	Name        string
	Email       *string
	RateCents   int64 // per hour
	Currency    string
	IsVerified  bool
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PriceFor returns the charge for a session of the given length.
func (t Therapist) PriceFor(durationMinutes int) int64 {
	return t.RateCents * int64(durationMinutes) / 60
}

type Clinic struct {
	ID        uuid.UUID
	Name      string
	City      string
	CreatedAt time.Time
}

type Booking struct {
	ID               uuid.UUID
	Reference        string
	PatientID        uuid.UUID
	TherapistID      uuid.UUID
	ClinicID         uuid.UUID
	Date             time.Time // midnight UTC
	StartTime        calendar.TimeOfDay
	DurationMinutes  int
	Status           Status
	TreatmentTypeID  *uuid.UUID
	TotalAmountCents int64
	Currency         string
	Notes            string
	CancelledBy      *Actor
	RescheduledFrom  *uuid.UUID
	ExpiresAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (b Booking) Window() calendar.Interval {
	return calendar.Interval{Start: b.StartTime, End: b.StartTime + calendar.TimeOfDay(b.DurationMinutes)}
}

func (b Booking) StartsAt(loc *time.Location) time.Time {
	return calendar.At(b.Date, b.StartTime, loc)
}

func (b Booking) EndsAt(loc *time.Location) time.Time {
	return b.StartsAt(loc).Add(time.Duration(b.DurationMinutes) * time.Minute)
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
