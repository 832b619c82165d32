// Package recurrence expands daily and weekly recurrence rules into concrete occurrences.
package recurrence

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

type Frequency string

const (
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
)

var (
	ErrInvalidRule    = errors.New("invalid recurrence rule")
	ErrTooManyResults = errors.New("recurrence exceeds the maximum number of occurrences")
)

// Rule describes a recurrence. Exactly one of Count or Until bounds it.
type Rule struct {
	Frequency Frequency      `json:"frequency"`
	Interval  int            `json:"interval"`
	Count     int            `json:"count,omitempty"`
	Until     *time.Time     `json:"until,omitempty"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
}

type Occurrence struct {
	Order int       `json:"order"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Rule) Validate() error {
	if r.Frequency != Daily && r.Frequency != Weekly {
		return fmt.Errorf("%w: frequency must be daily or weekly", ErrInvalidRule)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be at least 1", ErrInvalidRule)
	}
	if (r.Count > 0) == (r.Until != nil) {
		return fmt.Errorf("%w: exactly one of count or until is required", ErrInvalidRule)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: count must be positive", ErrInvalidRule)
	}
	if len(r.Weekdays) > 0 && r.Frequency != Weekly {
		return fmt.Errorf("%w: weekdays apply to weekly rules only", ErrInvalidRule)
	}
	for _, wd := range r.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, wd)
		}
	}
	return nil
}

// Expand produces occurrences starting at the base occurrence [start, end). Dates advance
// on the wall clock of start's location, so local times survive DST changes.
func (r Rule) Expand(start, end time.Time, max int) ([]Occurrence, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: base occurrence has no duration", ErrInvalidRule)
	}
	if r.Until != nil && r.Until.Before(start) {
		return nil, fmt.Errorf("%w: until precedes the first occurrence", ErrInvalidRule)
	}
	if r.Count > max {
		return nil, ErrTooManyResults
	}

	duration := end.Sub(start)
	var out []Occurrence
	add := func(s time.Time) bool {
		if r.Until != nil && s.After(*r.Until) {
			return false
		}
		if r.Count > 0 && len(out) == r.Count {
			return false
		}
		out = append(out, Occurrence{Order: len(out), Start: s, End: s.Add(duration)})
		return true
	}

	switch {
	case r.Frequency == Daily:
		for k := 0; ; k++ {
			if len(out) > max {
				return nil, ErrTooManyResults
			}
			if !add(start.AddDate(0, 0, k*r.Interval)) {
				break
			}
		}
	case len(r.Weekdays) == 0:
		for k := 0; ; k++ {
			if len(out) > max {
				return nil, ErrTooManyResults
			}
			if !add(start.AddDate(0, 0, 7*k*r.Interval)) {
				break
			}
		}
	default:
		offset := int(start.Weekday())
		for d := 0; ; d++ {
			if len(out) > max {
				return nil, ErrTooManyResults
			}
			day := start.AddDate(0, 0, d)
			week := (d + offset) / 7
			if week%r.Interval != 0 || !slices.Contains(r.Weekdays, day.Weekday()) {
				continue
			}
			if !add(day) {
				break
			}
		}
	}

	if len(out) > max {
		return nil, ErrTooManyResults
	}
	return out, nil
}
