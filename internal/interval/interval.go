// Package interval implements half-open time ranges and their overlap arithmetic.
package interval

import (
	"errors"
	"time"
)

var ErrInvalid = errors.New("interval start must be before end")

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New returns an error instead of clamping when start is not before end.
func New(start, end time.Time) (Interval, error) {
	i := Interval{Start: start, End: end}
	if !i.Valid() {
		return Interval{}, ErrInvalid
	}
	return i, nil
}

func (i Interval) Valid() bool {
	return !i.Start.IsZero() && i.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps is true when the ranges share any instant. Touching endpoints do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func (i Interval) Overlaps(o Interval) bool {
	return Overlaps(i, o)
}

// Contains reports whether o lies entirely within i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Pad widens the interval by before and after.
func (i Interval) Pad(before, after time.Duration) Interval {
	return Interval{Start: i.Start.Add(-before), End: i.End.Add(after)}
}

func (i Interval) Shift(d time.Duration) Interval {
	return Interval{Start: i.Start.Add(d), End: i.End.Add(d)}
}

// AnyOverlap reports whether c overlaps any member of set.
func AnyOverlap(c Interval, set []Interval) bool {
	for _, s := range set {
		if Overlaps(c, s) {
			return true
		}
	}
	return false
}

// OverlappingPairs returns index pairs (i < j) of overlapping members.
func OverlappingPairs(set []Interval) [][2]int {
	var out [][2]int
	for i := 0; i < len(set); i++ {
		for j := i + 1; j < len(set); j++ {
			if Overlaps(set[i], set[j]) {
				out = append(out, [2]int{i, j})
			}
		}
	}
	return out
}
