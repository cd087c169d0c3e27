package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/physiobook/booking-engine/internal/availability"
	"github.com/physiobook/booking-engine/internal/booking"
	"github.com/physiobook/booking-engine/internal/calendar"
	"github.com/physiobook/booking-engine/internal/config"
	"github.com/physiobook/booking-engine/internal/db"
	"github.com/physiobook/booking-engine/internal/logging"
)

const (
	clinicCount    = 5
	therapistCount = 40
	patientCount   = 2000
)

var cities = []string{"Lisbon", "Porto", "Madrid", "Berlin", "Dublin", "Amsterdam"}

var specializations = []string{
	"Sports Injury",
	"Musculoskeletal",
	"Neurological",
	"Paediatric",
	"Pelvic Health",
	"Post-operative Rehabilitation",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.Migrate(context.Background(), pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	repo := booking.NewPgRepository(pool)
	schedule := availability.NewSchedule(repo, logger)
	s := &seeder{repo: repo, schedule: schedule, faker: faker, logger: logger, currency: cfg.Currency}

	bg := context.Background()
	clinics, err := s.clinics(bg, clinicCount)
	if err != nil {
		logger.Fatal("seed clinics", zap.Error(err))
	}
	specs, err := s.specializations(bg)
	if err != nil {
		logger.Fatal("seed specializations", zap.Error(err))
	}
	if err := s.therapists(bg, therapistCount, clinics, specs); err != nil {
		logger.Fatal("seed therapists", zap.Error(err))
	}
	if err := s.patients(bg, patientCount); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	logger.Info("seed complete")
}

type seeder struct {
	repo     *booking.PgRepository
	schedule *availability.Schedule
	faker    *gofakeit.Faker
	logger   *zap.Logger
	currency string
}

func (s *seeder) clinics(ctx context.Context, count int) ([]uuid.UUID, error) {
	s.logger.Info("seeding clinics", zap.Int("count", count))

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		c, err := s.repo.InsertClinic(ctx, booking.Clinic{
			Name: s.faker.Company() + " Physio",
			City: cities[s.faker.Number(0, len(cities)-1)],
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// therapists gives every therapist a Mon-Fri 09:00-17:00 week at one clinic,
// a day off on the next 25 December and a late session two weeks out.
func (s *seeder) specializations(ctx context.Context) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(specializations))
	for _, name := range specializations {
		sp, err := s.repo.InsertSpecialization(ctx, booking.Specialization{
			Name:        name,
			Description: s.faker.Sentence(8),
			IsActive:    true,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, sp.ID)
	}
	return ids, nil
}

func (s *seeder) therapists(ctx context.Context, count int, clinics, specs []uuid.UUID) error {
	s.logger.Info("seeding therapists", zap.Int("count", count))

	open := calendar.MustTimeOfDay("09:00")
	closing := calendar.MustTimeOfDay("17:00")
	now := time.Now().UTC()
	christmas := time.Date(now.Year(), time.December, 25, 0, 0, 0, 0, time.UTC)
	if christmas.Before(calendar.DateOf(now)) {
		christmas = christmas.AddDate(1, 0, 0)
	}
	lateDay := calendar.DateOf(now.AddDate(0, 0, 14))

	for i := 0; i < count; i++ {
		email := s.faker.Email()
		t, err := s.repo.InsertTherapist(ctx, booking.Therapist{
			Name:        s.faker.Name(),
			Email:       &email,
			RateCents:   int64(s.faker.Number(40, 90)) * 100,
			Currency:    s.currency,
			IsVerified:  s.faker.Float64() < 0.9,
			IsAvailable: true,
		})
		if err != nil {
			return err
		}
		clinicID := clinics[s.faker.Number(0, len(clinics)-1)]

		// one or two specializations each
		for n := s.faker.Number(1, 2); n > 0; n-- {
			if err := s.repo.AssignSpecialization(ctx, t.ID, specs[s.faker.Number(0, len(specs)-1)]); err != nil {
				return err
			}
		}

		for day := 0; day < 5; day++ {
			tmpl, err := availability.NewTemplate(t.ID, clinicID, day, open, closing)
			if err != nil {
				return err
			}
			if _, err := s.schedule.AddTemplate(ctx, tmpl); err != nil && !errors.Is(err, availability.ErrTemplateOverlap) {
				return err
			}
		}

		holiday, err := availability.NewOverride(t.ID, nil, christmas, 0, calendar.MinutesPerDay, false, "Christmas")
		if err != nil {
			return err
		}
		if _, err := s.schedule.AddOverride(ctx, holiday); err != nil {
			return err
		}

		late, err := availability.NewOverride(t.ID, &clinicID, lateDay, closing, calendar.MustTimeOfDay("20:00"), true, "evening clinic")
		if err != nil {
			return err
		}
		if _, err := s.schedule.AddOverride(ctx, late); err != nil {
			return err
		}
	}

	s.logger.Info("therapists seeded")
	return nil
}

func (s *seeder) patients(ctx context.Context, count int) error {
	s.logger.Info("seeding patients", zap.Int("count", count))

	const reportEvery = 500
	for i := 1; i <= count; i++ {
		email := s.faker.Email()
		if _, err := s.repo.InsertPatient(ctx, booking.Patient{Name: s.faker.Name(), Email: &email}); err != nil {
			return err
		}
		if i%reportEvery == 0 || i == count {
			s.logger.Info("patients seeded", zap.Int("done", i), zap.Int("total", count))
		}
	}
	return nil
}
