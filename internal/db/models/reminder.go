package models

import "time"

// Reminder is a one-shot scheduled notification. The row is deleted once it
// has been dispatched or its cancellation has been processed; there is no
// "done" state.
type Reminder struct {
	ID              int64  `db:"id"`
	UserID          string `db:"user_id"`
	TargetMention   string `db:"target_mention"`
	DisplayTarget   string `db:"display_target"`
	DueAt           int64  `db:"due_at"`
	GuildID         string `db:"guild_id"`
	OriginMessageID string `db:"origin_message_id"`
	ChannelID       string `db:"channel_id"`
	Content         string `db:"content"`
	Cancelled       *bool  `db:"cancelled"`
}

// IsCancelled reports whether the cancellation flag has been set. The column
// is nullable; an unset flag means the reminder is live.
func (r *Reminder) IsCancelled() bool {
	return r.Cancelled != nil && *r.Cancelled
}

// DueTime returns the due instant.
func (r *Reminder) DueTime() time.Time {
	return time.Unix(r.DueAt, 0)
}

// SelfAddressed reports whether the initiator asked to be reminded themselves.
func (r *Reminder) SelfAddressed() bool {
	return r.TargetMention == "<@"+r.UserID+">" || r.TargetMention == "<@!"+r.UserID+">"
}
