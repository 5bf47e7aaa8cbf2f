package scheduler

import (
	"fmt"
	"time"

	"remindbot/internal/db/models"
)

// ComposeMessage renders the delivery text for a reminder. A dispatch after
// the due time states how late it is. Self-addressed reminders use second
// person; everything else addresses the target with attribution to the
// initiator.
func ComposeMessage(r *models.Reminder, now time.Time) string {
	late := now.After(r.DueTime())
	lateness := now.Sub(r.DueTime()).Round(time.Second)

	if r.SelfAddressed() {
		if late {
			return fmt.Sprintf("%s you wanted to be reminded %s ago: %s",
				r.TargetMention, formatDuration(lateness), r.Content)
		}
		return fmt.Sprintf("%s you wanted to be reminded: %s", r.TargetMention, r.Content)
	}

	initiator := "<@" + r.UserID + ">"
	if late {
		return fmt.Sprintf("%s %s asked me to remind you %s ago: %s",
			r.TargetMention, initiator, formatDuration(lateness), r.Content)
	}
	return fmt.Sprintf("%s %s asked me to remind you: %s", r.TargetMention, initiator, r.Content)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	day := d / (24 * time.Hour)
	d -= day * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if day > 0 {
		return fmt.Sprintf("%dd %dh %dm", day, h, m)
	}
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
