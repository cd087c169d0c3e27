package availability

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/physiobook/booking-engine/internal/calendar"
)

// Schedule is the write path for therapist availability.
type Schedule struct {
	store  Store
	logger *zap.Logger
}

func NewSchedule(store Store, logger *zap.Logger) *Schedule {
	return &Schedule{store: store, logger: logger}
}

// AddTemplate stores a weekly window, refusing one that overlaps an existing
// template for the same therapist, day and clinic.
func (s *Schedule) AddTemplate(ctx context.Context, t Template) (*Template, error) {
	if t.DayOfWeek < 0 || t.DayOfWeek > 6 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWeekday, t.DayOfWeek)
	}
	if err := t.Window.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.store.ListTemplates(ctx, t.TherapistID, t.DayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	for _, e := range existing {
		if e.ClinicID == t.ClinicID && calendar.Overlaps(e.Window, t.Window) {
			return nil, fmt.Errorf("%w: %s on day %d", ErrTemplateOverlap, e.Window, e.DayOfWeek)
		}
	}

	created, err := s.store.InsertTemplate(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}

	s.logger.Info("availability template added",
		zap.String("therapist_id", t.TherapistID.String()),
		zap.Int("day_of_week", t.DayOfWeek),
		zap.String("window", t.Window.String()),
	)
	return created, nil
}

func (s *Schedule) AddOverride(ctx context.Context, o Override) (*Override, error) {
	if err := o.Window.Validate(); err != nil {
		return nil, err
	}
	o.Date = calendar.DateOf(o.Date)

	created, err := s.store.InsertOverride(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("insert override: %w", err)
	}

	s.logger.Info("availability override added",
		zap.String("therapist_id", o.TherapistID.String()),
		zap.String("date", o.Date.Format(calendar.DateLayout)),
		zap.String("window", o.Window.String()),
		zap.Bool("available", o.IsAvailable),
	)
	return created, nil
}
