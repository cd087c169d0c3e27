package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Specialization struct {
	ID          uuid.UUID
	Name        string
	Description string
	IsActive    bool
	CreatedAt   time.Time
}

// TherapistSearch filters the therapist directory. Empty fields match any
// value; both comparisons ignore case.
type TherapistSearch struct {
	City           string
	Specialization string
	Limit          int
	Offset         int
}

// TherapistProfile is one directory entry. Clinics lists where the therapist
// holds weekly hours, narrowed to the searched city when one was given.
type TherapistProfile struct {
	Therapist
	Specializations []string
	Clinics         []Clinic
}

// TherapistFlags is a partial update; nil fields are left unchanged.
type TherapistFlags struct {
	IsVerified  *bool
	IsAvailable *bool
}

// SearchTherapists lists therapists accepting bookings that hold an active
// specialization and work at a clinic in the given city.
func (s *Service) SearchTherapists(ctx context.Context, q TherapistSearch) ([]TherapistProfile, error) {
	q.City = strings.TrimSpace(q.City)
	q.Specialization = strings.TrimSpace(q.Specialization)
	q.Limit, q.Offset = page(q.Limit, q.Offset)

	profiles, err := s.repo.SearchTherapists(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search therapists: %w", err)
	}
	return profiles, nil
}

func (s *Service) ListSpecializations(ctx context.Context) ([]Specialization, error) {
	return s.repo.ListSpecializations(ctx)
}

// ListCities returns the distinct cities that have a clinic, by name.
func (s *Service) ListCities(ctx context.Context) ([]string, error) {
	return s.repo.ListCities(ctx)
}

func (s *Service) AddSpecialization(ctx context.Context, name, description string) (*Specialization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: specialization name is required", ErrInvalidRequest)
	}
	return s.repo.InsertSpecialization(ctx, Specialization{
		Name:        name,
		Description: strings.TrimSpace(description),
		IsActive:    true,
	})
}

func (s *Service) AssignSpecialization(ctx context.Context, therapistID, specializationID uuid.UUID) error {
	if _, err := s.repo.GetTherapistByID(ctx, therapistID); err != nil {
		return err
	}
	return s.repo.AssignSpecialization(ctx, therapistID, specializationID)
}

// UpdateTherapistStatus sets the verification and availability flags an admin
// controls. Existing bookings are not touched when availability is switched off.
func (s *Service) UpdateTherapistStatus(ctx context.Context, therapistID uuid.UUID, flags TherapistFlags) (*Therapist, error) {
	if flags.IsVerified == nil && flags.IsAvailable == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidRequest)
	}

	t, err := s.repo.UpdateTherapistFlags(ctx, therapistID, flags)
	if err != nil {
		return nil, err
	}

	s.logger.Info("therapist status updated",
		zap.String("therapist_id", t.ID.String()),
		zap.Bool("is_verified", t.IsVerified),
		zap.Bool("is_available", t.IsAvailable),
	)
	return t, nil
}
