package slots

import (
	"fmt"

	"github.com/physiobook/booking-engine/internal/calendar"
)

// Slot is one bookable appointment window.
type Slot struct {
	Start           calendar.TimeOfDay
	DurationMinutes int
}

func (s Slot) Interval() calendar.Interval {
	return calendar.Interval{Start: s.Start, End: s.Start + calendar.TimeOfDay(s.DurationMinutes)}
}

type Options struct {
	// GapMinutes is an optional buffer between consecutive slot starts.
	GapMinutes int
	// NotBefore hides slots starting earlier, e.g. the past part of today.
	NotBefore calendar.TimeOfDay
}

// Generate slices each open interval into slots of durationMinutes aligned to
// the interval start, and drops any slot overlapping a busy interval.
func Generate(open []calendar.Interval, durationMinutes int, busy []calendar.Interval, opts Options) ([]Slot, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: slot duration %d", calendar.ErrInvalidInterval, durationMinutes)
	}
	if opts.GapMinutes < 0 {
		return nil, fmt.Errorf("%w: negative gap %d", calendar.ErrInvalidInterval, opts.GapMinutes)
	}

	var out []Slot
	for _, iv := range calendar.Union(open) {
		candidates, err := calendar.QuantizeStride(iv, durationMinutes, durationMinutes+opts.GapMinutes)
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			if c.Start < opts.NotBefore || conflicts(c, busy) {
				continue
			}
			out = append(out, Slot{Start: c.Start, DurationMinutes: durationMinutes})
		}
	}
	return out, nil
}

// Contains reports whether slots offers exactly start with the given duration.
func Contains(slots []Slot, start calendar.TimeOfDay, durationMinutes int) bool {
	for _, s := range slots {
		if s.Start == start && s.DurationMinutes == durationMinutes {
			return true
		}
	}
	return false
}

func conflicts(c calendar.Interval, busy []calendar.Interval) bool {
	for _, b := range busy {
		if calendar.Overlaps(c, b) {
			return true
		}
	}
	return false
}
