package timeutil

import (
	"context"
	"math"
	"time"
)

// ToEpochSeconds converts an instant to epoch seconds.
func ToEpochSeconds(t time.Time) int64 {
	return t.Unix()
}

// FromEpochSeconds converts epoch seconds back to an instant.
func FromEpochSeconds(s int64) time.Time {
	return time.Unix(s, 0)
}

// Midnight returns t truncated to its local midnight.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DaysUntil returns the distance from now's local midnight to the event
// instant, in fractional days. Measuring from midnight keeps the whole-day
// count stable across sweeps within the same day.
func DaysUntil(now, event time.Time) float64 {
	return event.Sub(Midnight(now)).Hours() / 24
}

// WholeDaysUntil returns the calendar-day distance from now's date to the
// event's date: 0 for today, 1 for tomorrow, negative for past days. The
// event's time of day does not influence the count.
func WholeDaysUntil(now, event time.Time) int {
	return int(math.Round(Midnight(event).Sub(Midnight(now)).Hours() / 24))
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Chunks decomposes d into floor(d/max) chunks of exactly max followed by
// one remainder chunk. The chunks sum to d exactly. A non-positive d yields
// no chunks.
func Chunks(d, max time.Duration) []time.Duration {
	if d <= 0 {
		return nil
	}
	full := d / max
	rest := d % max
	chunks := make([]time.Duration, 0, full+1)
	for i := time.Duration(0); i < full; i++ {
		chunks = append(chunks, max)
	}
	if rest > 0 {
		chunks = append(chunks, rest)
	}
	return chunks
}

// Sleep waits for d, decomposed into max-bounded chunks. Cancellation is
// observed only at chunk boundaries, so cancellation latency is at most one
// max. Returns ctx.Err() if the context ended before the full duration.
func Sleep(ctx context.Context, d, max time.Duration) error {
	for _, chunk := range Chunks(d, max) {
		timer := time.NewTimer(chunk)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
