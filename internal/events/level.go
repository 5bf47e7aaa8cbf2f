package events

import (
	"time"

	"remindbot/internal/timeutil"
)

// Reminder levels, coarsest first. The stored level seeds the next
// checkpoint when an event is created or its date edited; the sweep itself
// re-derives its decisions from remaining days.
const (
	LevelNone      = 0 // under a day out, or already past
	LevelMonth     = 1 // 30 or more days out, next checkpoint 30d before
	LevelFortnight = 2 // 14-29 days out, next checkpoint 14d before
	LevelWeek      = 3 // 7-13 days out, next checkpoint 7d before
	LevelEve       = 4 // 1-6 days out, next checkpoint 1d before
)

// CalculateSchedule classifies how far out an event is and returns the next
// scheduled reminder checkpoint (epoch seconds, 0 when none), the level, and
// whether the event is already expired at calculation time.
func CalculateSchedule(eventAt, now time.Time) (nextReminderAt int64, level int, expired bool) {
	whole := timeutil.WholeDaysUntil(now, eventAt)

	switch {
	case whole >= 30:
		return eventAt.Add(-30 * 24 * time.Hour).Unix(), LevelMonth, false
	case whole >= 14:
		return eventAt.Add(-14 * 24 * time.Hour).Unix(), LevelFortnight, false
	case whole >= 7:
		return eventAt.Add(-7 * 24 * time.Hour).Unix(), LevelWeek, false
	case whole >= 1:
		return eventAt.Add(-24 * time.Hour).Unix(), LevelEve, false
	default:
		// Under a day out. The event only counts as expired when its
		// instant is already behind us; later today stays live so the
		// sweep's same-day tier can still fire.
		return 0, LevelNone, !eventAt.After(now)
	}
}
