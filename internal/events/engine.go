package events

import (
	"context"
	"fmt"
	"log"
	"math"
	"runtime"
	"time"

	"remindbot/internal/db/models"
	"remindbot/internal/timeutil"
)

// EventStore is the slice of the durable store the sweep needs.
type EventStore interface {
	GetAllEvents(ctx context.Context) ([]*models.Event, error)
	UpdateEvent(ctx context.Context, ev *models.Event) error
}

// Notifier delivers a text message to a channel.
type Notifier interface {
	Send(channelID, message string) (string, error)
}

// Config carries the immutable engine settings loaded at startup.
type Config struct {
	EventChannelID    string
	ProposalChannelID string
	ErrorChannelID    string
	SweepInterval     time.Duration
}

// Engine runs the tiered event-reminder sweep: once per interval it
// evaluates every tracked event against the decay thresholds for the
// event-date track and the proposal track, sends what is due, and persists
// flag transitions per event before moving on.
type Engine struct {
	store EventStore
	sink  Notifier
	cfg   Config
	now   func() time.Time
}

func New(store EventStore, sink Notifier, cfg Config) *Engine {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Engine{
		store: store,
		sink:  sink,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Run drives the sweep loop until ctx ends. The cadence is self-correcting:
// the next sweep is scheduled interval minus elapsed processing time after
// the previous one started. A panic inside a sweep is fail-stop: it is
// logged, reported to the error channel, and the loop terminates without
// restarting, since duplicate sends are worse than a manual restart.
func (e *Engine) Run(ctx context.Context) error {
	log.Printf("Event reminder sweep started (interval %s)", e.cfg.SweepInterval)

	for {
		start := time.Now()
		if err := e.runSweep(ctx); err != nil {
			log.Printf("CRITICAL: event sweep terminated: %v", err)
			e.reportFatal(err)
			return err
		}

		delay := e.cfg.SweepInterval - time.Since(start)
		if delay < 0 {
			delay = 0
		}
		select {
		case <-ctx.Done():
			log.Println("Event reminder sweep stopped")
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runSweep converts a panic anywhere below into the loop-fatal error.
func (e *Engine) runSweep(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("panic in sweep: %v\n%s", rec, string(buf[:n]))
		}
	}()
	e.Sweep(ctx)
	return nil
}

// Sweep evaluates all tracked events once. Store failures are transient:
// logged, the affected item (or the whole cycle) is skipped and retried on
// the next cadence tick.
func (e *Engine) Sweep(ctx context.Context) {
	events, err := e.store.GetAllEvents(ctx)
	if err != nil {
		log.Printf("Error loading events, skipping this sweep: %v", err)
		return
	}

	now := e.now()
	for _, ev := range events {
		if ev.EventAt <= 0 {
			log.Printf("Event %d has an unusable date, skipping", ev.ID)
			continue
		}

		dirty := e.evaluateDateTrack(ev, now)
		dirty = e.evaluateProposalTrack(ev, now) || dirty

		// Persist-then-continue: a crash mid-sweep leaves at most one
		// event ambiguous and never re-fires the ones already written.
		if dirty {
			if err := e.store.UpdateEvent(ctx, ev); err != nil {
				log.Printf("Error persisting event %d, will retry next sweep: %v", ev.ID, err)
			}
		}
	}
}

// evaluateDateTrack advances the event-date reminder state for one event.
// Returns true when the event row changed.
func (e *Engine) evaluateDateTrack(ev *models.Event, now time.Time) bool {
	if ev.Expired {
		return false
	}

	eventTime := ev.EventTime()
	whole := timeutil.WholeDaysUntil(now, eventTime)
	dirty := false

	if whole < 0 {
		// The window was missed entirely; catch up without sending.
		ev.Expired = true
		ev.PreviouslyReminded = true
		ev.ProposalReminded = true
		return true
	}

	if !ev.PreviouslyReminded && !ev.ReminderDisabled {
		var tier string
		switch {
		case whole == 7:
			tier = fmt.Sprintf("📅 **%s** is next week (%s). %s",
				ev.Name, eventTime.Format("Mon, 02 Jan"), ev.Description)
		case whole > 1 && whole < 7:
			tier = fmt.Sprintf("📅 **%s** is in %d days (%s). %s",
				ev.Name, whole, eventTime.Format("Mon, 02 Jan"), ev.Description)
		case whole == 1:
			tier = fmt.Sprintf("📅 **%s** is tomorrow! %s", ev.Name, ev.Description)
		case whole == 0 && eventTime.After(now):
			hours := int(math.Ceil(eventTime.Sub(now).Hours()))
			tier = fmt.Sprintf("⏰ **%s** starts in %d hour(s)!", ev.Name, hours)
		}
		if tier != "" {
			e.send(e.cfg.EventChannelID, tier)
			ev.PreviouslyReminded = true
			dirty = true
		}
	}

	// Same-day check, independent of the threshold table above.
	if timeutil.SameDay(now, eventTime) {
		if !ev.ReminderDisabled {
			e.send(e.cfg.EventChannelID, fmt.Sprintf("🎉 **%s** is today! %s", ev.Name, ev.Description))
		}
		ev.Expired = true
		ev.PreviouslyReminded = true
		dirty = true
	}

	return dirty
}

// evaluateProposalTrack advances the proposal-submission reminder for one
// event. Addressed to the person in charge, not a broadcast target.
func (e *Engine) evaluateProposalTrack(ev *models.Event, now time.Time) bool {
	if ev.ProposalReminded {
		return false
	}

	whole := timeutil.WholeDaysUntil(now, ev.EventTime())
	switch {
	case whole <= 0:
		// The date arrived without a proposal reminder; same catch-up
		// policy as the date track, flag only.
		ev.ProposalReminded = true
		return true
	case whole == 30 || (whole > 6 && whole < 30):
		if ev.ReminderDisabled {
			return false
		}
		e.send(e.cfg.ProposalChannelID, fmt.Sprintf(
			"%s the proposal for **%s** is due, %d day(s) until the event.",
			ev.PersonInCharge, ev.Name, whole))
		ev.ProposalReminded = true
		return true
	}
	return false
}

// send delivers a message, logging sink failures. A failed send still counts
// as processed so a permanently broken target cannot cause a retry storm.
func (e *Engine) send(channelID, message string) {
	if _, err := e.sink.Send(channelID, message); err != nil {
		log.Printf("Error sending event notification to channel %s: %v", channelID, err)
	}
}

// reportFatal surfaces a loop-fatal error to the operator channel.
func (e *Engine) reportFatal(err error) {
	if e.cfg.ErrorChannelID == "" {
		return
	}
	msg := fmt.Sprintf("`[%s] CRITICAL - event sweep terminated: %v`",
		time.Now().Format("2006-01-02 15:04:05"), err)
	if _, sendErr := e.sink.Send(e.cfg.ErrorChannelID, msg); sendErr != nil {
		log.Printf("Error reporting fatal sweep error: %v", sendErr)
	}
}
