package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/physiobook/booking-engine/internal/calendar"
)

// Resolver combines weekly templates with date overrides. It never writes.
type Resolver struct {
	store  Reader
	logger *zap.Logger
}

func NewResolver(store Reader, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the disjoint, time-ordered open intervals for a therapist on
// date. When clinicID is nil every clinic is considered.
func (r *Resolver) Resolve(ctx context.Context, therapistID uuid.UUID, date time.Time, clinicID *uuid.UUID) ([]calendar.Interval, error) {
	date = calendar.DateOf(date)

	templates, err := r.store.ListTemplates(ctx, therapistID, calendar.Weekday(date))
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	overrides, err := r.store.ListOverrides(ctx, therapistID, date)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}

	return r.combine(templates, overrides, clinicID)
}

func (r *Resolver) combine(templates []Template, overrides []Override, clinicID *uuid.UUID) ([]calendar.Interval, error) {
	var base []calendar.Interval
	for _, t := range templates {
		if clinicID != nil && t.ClinicID != *clinicID {
			continue
		}
		if err := t.Window.Validate(); err != nil {
			return nil, fmt.Errorf("template %s: %w", t.ID, err)
		}
		base = append(base, t.Window)
	}

	// Overlapping templates are bad data but still resolvable.
	open := calendar.Union(base)
	if len(open) < len(base) && r.logger != nil {
		r.logger.Debug("merged overlapping templates", zap.Int("templates", len(base)), zap.Int("intervals", len(open)))
	}

	var extra []calendar.Interval
	for _, o := range overrides {
		if !o.appliesTo(clinicID) {
			continue
		}
		if err := o.Window.Validate(); err != nil {
			return nil, fmt.Errorf("override %s: %w", o.ID, err)
		}
		if o.IsAvailable {
			extra = append(extra, o.Window)
			continue
		}
		open = calendar.Subtract(open, o.Window)
	}

	return calendar.Union(append(open, extra...)), nil
}
