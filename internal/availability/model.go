package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/physiobook/booking-engine/internal/calendar"
)

var (
	ErrTemplateOverlap = errors.New("template overlaps an existing template for the same day and clinic")
	ErrInvalidWeekday  = errors.New("day of week must be between 0 (Monday) and 6 (Sunday)")
)

// Template is a standing weekly open window for a therapist at a clinic.
type Template struct {
	ID          uuid.UUID
	TherapistID uuid.UUID
	ClinicID    uuid.UUID
	DayOfWeek   int
	Window      calendar.Interval
	CreatedAt   time.Time
}

func NewTemplate(therapistID, clinicID uuid.UUID, dayOfWeek int, start, end calendar.TimeOfDay) (Template, error) {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return Template{}, fmt.Errorf("%w: got %d", ErrInvalidWeekday, dayOfWeek)
	}
	window, err := calendar.NewInterval(start, end)
	if err != nil {
		return Template{}, err
	}
	return Template{
		ID:          uuid.New(),
		TherapistID: therapistID,
		ClinicID:    clinicID,
		DayOfWeek:   dayOfWeek,
		Window:      window,
	}, nil
}

// Override adds (IsAvailable) or removes (!IsAvailable) a window on one date.
// A nil ClinicID applies to every clinic the therapist works at.
type Override struct {
	ID          uuid.UUID
	TherapistID uuid.UUID
	ClinicID    *uuid.UUID
	Date        time.Time
	Window      calendar.Interval
	IsAvailable bool
	Reason      string
	CreatedAt   time.Time
}

func NewOverride(therapistID uuid.UUID, clinicID *uuid.UUID, date time.Time, start, end calendar.TimeOfDay, isAvailable bool, reason string) (Override, error) {
	window, err := calendar.NewInterval(start, end)
	if err != nil {
		return Override{}, err
	}
	return Override{
		ID:          uuid.New(),
		TherapistID: therapistID,
		ClinicID:    clinicID,
		Date:        calendar.DateOf(date),
		Window:      window,
		IsAvailable: isAvailable,
		Reason:      reason,
	}, nil
}

func (o Override) appliesTo(clinicID *uuid.UUID) bool {
	if clinicID == nil || o.ClinicID == nil {
		return true
	}
	return *o.ClinicID == *clinicID
}

// Reader is the read side the resolver needs from persistence.
type Reader interface {
	ListTemplates(ctx context.Context, therapistID uuid.UUID, dayOfWeek int) ([]Template, error)
	ListOverrides(ctx context.Context, therapistID uuid.UUID, date time.Time) ([]Override, error)
}

// Store adds the writes used when therapists edit their availability.
type Store interface {
	Reader
	InsertTemplate(ctx context.Context, t Template) (*Template, error)
	InsertOverride(ctx context.Context, o Override) (*Override, error)
}
