package models

import (
	"time"

	"github.com/lib/pq"
)

// Event is a tracked future occurrence with two independent decaying
// reminder tracks. PreviouslyReminded covers the event-date track,
// ProposalReminded the proposal-submission track; each only ever flips
// false to true, except when an event-date edit resets the schedule.
type Event struct {
	ID                 int64          `db:"id"`
	Name               string         `db:"name"`
	Description        string         `db:"description"`
	PersonInCharge     string         `db:"person_in_charge"`
	EventAt            int64          `db:"event_at"`
	ReminderDisabled   bool           `db:"reminder_disabled"`
	Expired            bool           `db:"expired"`
	PreviouslyReminded bool           `db:"previously_reminded"`
	ProposalReminded   bool           `db:"proposal_reminded"`
	NextReminderAt     int64          `db:"next_reminder_at"`
	ReminderLevel      int            `db:"reminder_level"`
	Attachments        pq.StringArray `db:"attachments"`
	CreatedAt          time.Time      `db:"created_at"`
}

// EventTime returns the event instant.
func (e *Event) EventTime() time.Time {
	return time.Unix(e.EventAt, 0)
}
