// Package availability generates free booking slots from a working window and busy intervals.
package availability

import (
	"iter"
	"time"

	"reserva/internal/interval"
)

const DefaultStep = 15 * time.Minute

// Slot is a free candidate block. Start/End span the buffers; ServiceStart/ServiceEnd
// is the appointment interval a booking taken from this slot would occupy.
type Slot struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	ServiceStart time.Time `json:"service_start"`
	ServiceEnd   time.Time `json:"service_end"`
}

type Request struct {
	Window       interval.Interval
	Duration     time.Duration
	BufferBefore time.Duration
	BufferAfter  time.Duration
	Step         time.Duration
	// Busy holds already booked appointment intervals on the resource for the day.
	Busy []interval.Interval
}

func (r Request) slotDuration() time.Duration {
	return r.Duration + r.BufferBefore + r.BufferAfter
}

// Slots lazily yields every free slot in the window. It performs no I/O and may be
// ranged over any number of times with identical results.
func Slots(req Request) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if !req.Window.Valid() || req.Duration <= 0 {
			return
		}
		step := req.Step
		if step <= 0 {
			step = DefaultStep
		}
		length := req.slotDuration()

		occupied := make([]interval.Interval, 0, len(req.Busy))
		for _, b := range req.Busy {
			occupied = append(occupied, b.Pad(req.BufferBefore, req.BufferAfter))
		}

		for t := req.Window.Start; !t.Add(length).After(req.Window.End); t = t.Add(step) {
			candidate := interval.Interval{Start: t, End: t.Add(length)}
			if interval.AnyOverlap(candidate, occupied) {
				continue
			}
			slot := Slot{
				Start:        candidate.Start,
				End:          candidate.End,
				ServiceStart: t.Add(req.BufferBefore),
				ServiceEnd:   t.Add(req.BufferBefore + req.Duration),
			}
			if !yield(slot) {
				return
			}
		}
	}
}
