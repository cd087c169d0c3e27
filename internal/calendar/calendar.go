package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	MinutesPerDay = 24 * 60
	DateLayout    = "2006-01-02"
)

var ErrInvalidInterval = errors.New("invalid interval")

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
// MinutesPerDay is a valid value and means end of day.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM". "24:00" is accepted as end of day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "24:00" {
		return MinutesPerDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// MustTimeOfDay is ParseTimeOfDay for literals; it panics on malformed input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t <= MinutesPerDay
}

// Interval is a half-open range [Start, End) within a single day.
type Interval struct {
	Start TimeOfDay
	End   TimeOfDay
}

func NewInterval(start, end TimeOfDay) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

func (i Interval) Validate() error {
	if !i.Start.Valid() || !i.End.Valid() {
		return fmt.Errorf("%w: %s-%s out of day range", ErrInvalidInterval, i.Start, i.End)
	}
	if i.Start >= i.End {
		return fmt.Errorf("%w: start %s not before end %s", ErrInvalidInterval, i.Start, i.End)
	}
	return nil
}

func (i Interval) Minutes() int {
	return int(i.End - i.Start)
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return o.Start >= i.Start && o.End <= i.End
}

// Overlaps reports whether two half-open intervals share at least one minute.
func Overlaps(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// Quantize slices iv into back-to-back slots of stepMinutes. A trailing
// remainder shorter than the step is dropped.
func Quantize(iv Interval, stepMinutes int) ([]Interval, error) {
	return QuantizeStride(iv, stepMinutes, stepMinutes)
}

// QuantizeStride slices iv into slots of length minutes whose starts are
// stride minutes apart, beginning at iv.Start.
func QuantizeStride(iv Interval, length, stride int) ([]Interval, error) {
	if err := iv.Validate(); err != nil {
		return nil, err
	}
	if length <= 0 || stride < length {
		return nil, fmt.Errorf("%w: length %d stride %d", ErrInvalidInterval, length, stride)
	}

	var out []Interval
	for s := iv.Start; s+TimeOfDay(length) <= iv.End; s += TimeOfDay(stride) {
		out = append(out, Interval{Start: s, End: s + TimeOfDay(length)})
	}
	return out, nil
}

// Union merges overlapping and adjacent intervals and returns them ordered by start.
func Union(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return nil
	}

	sorted := make([]Interval, len(ivs))
	copy(sorted, ivs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Subtract removes cut from every interval in base. An interval may split in two.
func Subtract(base []Interval, cut Interval) []Interval {
	var out []Interval
	for _, iv := range base {
		if !Overlaps(iv, cut) {
			out = append(out, iv)
			continue
		}
		if iv.Start < cut.Start {
			out = append(out, Interval{Start: iv.Start, End: cut.Start})
		}
		if cut.End < iv.End {
			out = append(out, Interval{Start: cut.End, End: iv.End})
		}
	}
	return out
}

// Weekday returns 0 for Monday through 6 for Sunday.
func Weekday(date time.Time) int {
	return (int(date.Weekday()) + 6) % 7
}

// DateOf truncates t to its civil date, expressed as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// At places a civil date and time of day in loc.
func At(date time.Time, t TimeOfDay, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(time.Duration(t) * time.Minute)
}
