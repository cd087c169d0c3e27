package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/physiobook/booking-engine/internal/calendar"
)

type stubStore struct {
	templates []Template
	overrides []Override
	err       error
}

func (s *stubStore) ListTemplates(_ context.Context, therapistID uuid.UUID, day int) ([]Template, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []Template
	for _, t := range s.templates {
		if t.TherapistID == therapistID && t.DayOfWeek == day {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubStore) ListOverrides(_ context.Context, therapistID uuid.UUID, date time.Time) ([]Override, error) {
	var out []Override
	for _, o := range s.overrides {
		if o.TherapistID == therapistID && o.Date.Equal(calendar.DateOf(date)) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *stubStore) InsertTemplate(_ context.Context, t Template) (*Template, error) {
	s.templates = append(s.templates, t)
	return &t, nil
}

func (s *stubStore) InsertOverride(_ context.Context, o Override) (*Override, error) {
	s.overrides = append(s.overrides, o)
	return &o, nil
}

func tod(s string) calendar.TimeOfDay { return calendar.MustTimeOfDay(s) }

func window(start, end string) calendar.Interval {
	return calendar.Interval{Start: tod(start), End: tod(end)}
}

func weekdayTemplates(t *testing.T, therapistID, clinicID uuid.UUID) []Template {
	t.Helper()
	var out []Template
	for day := 0; day < 5; day++ {
		tpl, err := NewTemplate(therapistID, clinicID, day, tod("09:00"), tod("17:00"))
		require.NoError(t, err)
		out = append(out, tpl)
	}
	return out
}

var (
	monday    = time.Date(2024, 12, 23, 0, 0, 0, 0, time.UTC)
	christmas = time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC)
)

func assertDisjointOrdered(t *testing.T, ivs []calendar.Interval) {
	t.Helper()
	for i := range ivs {
		require.NoError(t, ivs[i].Validate())
		if i > 0 {
			assert.Less(t, ivs[i-1].End, ivs[i].Start, "intervals %s and %s not disjoint/ordered", ivs[i-1], ivs[i])
		}
	}
}

func TestResolve_TemplateOnly(t *testing.T) {
	therapist, clinic := uuid.New(), uuid.New()
	store := &stubStore{templates: weekdayTemplates(t, therapist, clinic)}
	r := NewResolver(store, zaptest.NewLogger(t))

	got, err := r.Resolve(context.Background(), therapist, monday, nil)
	require.NoError(t, err)
	assert.Equal(t, []calendar.Interval{window("09:00", "17:00")}, got)

	sunday := monday.AddDate(0, 0, 6)
	got, err = r.Resolve(context.Background(), therapist, sunday, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolve_HolidayOverrideEmptiesDay(t *testing.T) {
	therapist, clinic := uuid.New(), uuid.New()
	holiday, err := NewOverride(therapist, &clinic, christmas, tod("00:00"), tod("23:59"), false, "Christmas Holiday")
	require.NoError(t, err)

	store := &stubStore{
		templates: weekdayTemplates(t, therapist, clinic),
		overrides: []Override{holiday},
	}
	r := NewResolver(store, zaptest.NewLogger(t))

	require.Equal(t, 2, calendar.Weekday(christmas))
	got, err := r.Resolve(context.Background(), therapist, christmas, &clinic)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolve_UnavailableOverrideSplitsWindow(t *testing.T) {
	therapist, clinic := uuid.New(), uuid.New()
	lunch, err := NewOverride(therapist, nil, monday, tod("12:00"), tod("13:00"), false, "training")
	require.NoError(t, err)

	store := &stubStore{templates: weekdayTemplates(t, therapist, clinic), overrides: []Override{lunch}}
	got, err := NewResolver(store, zaptest.NewLogger(t)).Resolve(context.Background(), therapist, monday, &clinic)
	require.NoError(t, err)
	assert.Equal(t, []calendar.Interval{window("09:00", "12:00"), window("13:00", "17:00")}, got)
}

func TestResolve_AvailableOverrideExtendsAndMerges(t *testing.T) {
	therapist, clinic := uuid.New(), uuid.New()
	extended, err := NewOverride(therapist, &clinic, monday, tod("08:00"), tod("20:00"), true, "extended hours")
	require.NoError(t, err)
	evening, err := NewOverride(therapist, &clinic, monday, tod("20:00"), tod("21:00"), true, "late clinic")
	require.NoError(t, err)

	store := &stubStore{templates: weekdayTemplates(t, therapist, clinic), overrides: []Override{extended, evening}}
	got, err := NewResolver(store, zaptest.NewLogger(t)).Resolve(context.Background(), therapist, monday, nil)
	require.NoError(t, err)
	assert.Equal(t, []calendar.Interval{window("08:00", "21:00")}, got)
}

func TestResolve_OverlappingTemplatesAreMerged(t *testing.T) {
	therapist, clinic := uuid.New(), uuid.New()
	a, _ := NewTemplate(therapist, clinic, 0, tod("09:00"), tod("13:00"))
	b, _ := NewTemplate(therapist, clinic, 0, tod("12:00"), tod("15:00"))
	c, _ := NewTemplate(therapist, clinic, 0, tod("16:00"), tod("18:00"))

	store := &stubStore{templates: []Template{c, a, b}}
	got, err := NewResolver(store, zaptest.NewLogger(t)).Resolve(context.Background(), therapist, monday, nil)
	require.NoError(t, err)
	assert.Equal(t, []calendar.Interval{window("09:00", "15:00"), window("16:00", "18:00")}, got)
	assertDisjointOrdered(t, got)
}

func TestResolve_ClinicFilter(t *testing.T) {
	therapist, clinicA, clinicB := uuid.New(), uuid.New(), uuid.New()
	a, _ := NewTemplate(therapist, clinicA, 0, tod("09:00"), tod("12:00"))
	b, _ := NewTemplate(therapist, clinicB, 0, tod("14:00"), tod("17:00"))
	closedB, _ := NewOverride(therapist, &clinicB, monday, tod("14:00"), tod("15:00"), false, "")

	store := &stubStore{templates: []Template{a, b}, overrides: []Override{closedB}}
	r := NewResolver(store, zaptest.NewLogger(t))

	got, err := r.Resolve(context.Background(), therapist, monday, &clinicA)
	require.NoError(t, err)
	assert.Equal(t, []calendar.Interval{window("09:00", "12:00")}, got)

	got, err = r.Resolve(context.Background(), therapist, monday, &clinicB)
	require.NoError(t, err)
	assert.Equal(t, []calendar.Interval{window("15:00", "17:00")}, got)
}

func TestResolve_MalformedRowIsInvalidInterval(t *testing.T) {
	therapist, clinic := uuid.New(), uuid.New()
	bad := Template{ID: uuid.New(), TherapistID: therapist, ClinicID: clinic, DayOfWeek: 0, Window: window("17:00", "09:00")}

	_, err := NewResolver(&stubStore{templates: []Template{bad}}, zaptest.NewLogger(t)).
		Resolve(context.Background(), therapist, monday, nil)
	assert.ErrorIs(t, err, calendar.ErrInvalidInterval)
}

func TestResolve_StoreError(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewResolver(&stubStore{err: boom}, zaptest.NewLogger(t)).
		Resolve(context.Background(), uuid.New(), monday, nil)
	assert.ErrorIs(t, err, boom)
}

func TestResolve_OutputAlwaysDisjointOrdered(t *testing.T) {
	therapist, clinic := uuid.New(), uuid.New()
	var templates []Template
	var overrides []Override
	for i := 0; i < 8; i++ {
		start := calendar.TimeOfDay(6*60 + i*97%600)
		tpl, err := NewTemplate(therapist, clinic, 0, start, start+calendar.TimeOfDay(45+i*13))
		require.NoError(t, err)
		templates = append(templates, tpl)

		oStart := calendar.TimeOfDay(7*60 + i*71%700)
		o, err := NewOverride(therapist, nil, monday, oStart, oStart+30, i%2 == 0, "")
		require.NoError(t, err)
		overrides = append(overrides, o)
	}

	got, err := NewResolver(&stubStore{templates: templates, overrides: overrides}, zaptest.NewLogger(t)).
		Resolve(context.Background(), therapist, monday, nil)
	require.NoError(t, err)
	assertDisjointOrdered(t, got)
}

func TestSchedule_AddTemplateRejectsOverlap(t *testing.T) {
	therapist, clinic := uuid.New(), uuid.New()
	store := &stubStore{}
	s := NewSchedule(store, zaptest.NewLogger(t))

	first, _ := NewTemplate(therapist, clinic, 1, tod("09:00"), tod("12:00"))
	_, err := s.AddTemplate(context.Background(), first)
	require.NoError(t, err)

	overlapping, _ := NewTemplate(therapist, clinic, 1, tod("11:00"), tod("14:00"))
	_, err = s.AddTemplate(context.Background(), overlapping)
	assert.ErrorIs(t, err, ErrTemplateOverlap)

	otherClinic, _ := NewTemplate(therapist, uuid.New(), 1, tod("11:00"), tod("14:00"))
	_, err = s.AddTemplate(context.Background(), otherClinic)
	assert.NoError(t, err)

	adjacent, _ := NewTemplate(therapist, clinic, 1, tod("12:00"), tod("14:00"))
	_, err = s.AddTemplate(context.Background(), adjacent)
	assert.NoError(t, err)
}

func TestNewTemplate_Validation(t *testing.T) {
	_, err := NewTemplate(uuid.New(), uuid.New(), 7, tod("09:00"), tod("10:00"))
	assert.ErrorIs(t, err, ErrInvalidWeekday)

	_, err = NewTemplate(uuid.New(), uuid.New(), 0, tod("10:00"), tod("09:00"))
	assert.ErrorIs(t, err, calendar.ErrInvalidInterval)
}
