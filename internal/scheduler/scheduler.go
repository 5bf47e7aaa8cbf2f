package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/db/models"
	"remindbot/internal/timeutil"
)

// ReminderStore is the slice of the durable store the scheduler needs.
type ReminderStore interface {
	GetAllReminders(ctx context.Context) ([]*models.Reminder, error)
	GetReminderByID(ctx context.Context, id int64) (*models.Reminder, error)
	CreateReminder(ctx context.Context, r *models.Reminder) error
	DeleteReminder(ctx context.Context, id int64) error
}

// Notifier delivers a text message to a channel.
type Notifier interface {
	Send(channelID, message string) (string, error)
}

// Scheduler owns the one-shot reminder lifecycle: recovery at startup,
// arming waits for future reminders, and dispatch-then-delete. A reminder
// gets at most one delivery attempt; the row is deleted even when delivery
// fails.
type Scheduler struct {
	store   ReminderStore
	sink    Notifier
	maxWait time.Duration
	started atomic.Bool
	now     func() time.Time
	wg      sync.WaitGroup
}

// Registration carries the fields of a new reminder. Lead-time validation
// is the caller's responsibility; the scheduler persists what it is given.
type Registration struct {
	UserID          string
	GuildID         string
	ChannelID       string
	OriginMessageID string
	TargetMention   string
	DisplayTarget   string
	Content         string
	Remaining       time.Duration
}

func New(store ReminderStore, sink Notifier, maxWait time.Duration) *Scheduler {
	return &Scheduler{
		store:   store,
		sink:    sink,
		maxWait: maxWait,
		now:     time.Now,
	}
}

// Start loads every persisted reminder and either processes it immediately
// or arms a wait task. Idempotent: only the first call does anything.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	reminders, err := s.store.GetAllReminders(ctx)
	if err != nil {
		return fmt.Errorf("error loading reminders: %w", err)
	}
	log.Printf("Recovered %d reminder(s) from store", len(reminders))

	for _, r := range reminders {
		// Isolation: one bad reminder must not abort the rest.
		if err := s.recover(ctx, r); err != nil {
			log.Printf("Error recovering reminder %d: %v", r.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) recover(ctx context.Context, r *models.Reminder) error {
	if r.IsCancelled() {
		return s.store.DeleteReminder(ctx, r.ID)
	}

	remaining := r.DueTime().Sub(s.now())
	if remaining <= 0 {
		s.dispatch(ctx, r)
		return nil
	}

	s.CreateReminderTask(ctx, r, remaining)
	return nil
}

// CreateReminderTask arms a background wait for the reminder. After the full
// wait, the reminder is re-fetched by id: the stored row, not the snapshot
// taken before the wait, decides whether anything is sent. That re-fetch is
// the only mechanism resolving races with cancellation and with the
// recovery scan.
func (s *Scheduler) CreateReminderTask(ctx context.Context, r *models.Reminder, remaining time.Duration) {
	id := r.ID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				log.Printf("Panic in reminder task %d: %v\n%s", id, rec, string(buf[:n]))
			}
		}()

		if err := timeutil.Sleep(ctx, remaining, s.maxWait); err != nil {
			// Shutdown while waiting; the row survives and the next
			// startup scan picks it up.
			return
		}
		s.fire(ctx, id)
	}()
}

// fire re-validates and dispatches a reminder whose wait has elapsed.
func (s *Scheduler) fire(ctx context.Context, id int64) {
	r, err := s.store.GetReminderByID(ctx, id)
	if err != nil {
		log.Printf("Error re-fetching reminder %d: %v", id, err)
		return
	}
	if r == nil {
		// Already processed by another path.
		return
	}
	if r.IsCancelled() {
		if err := s.store.DeleteReminder(ctx, id); err != nil {
			log.Printf("Error deleting cancelled reminder %d: %v", id, err)
		}
		return
	}
	s.dispatch(ctx, r)
}

// dispatch sends the reminder message and deletes the row. Delivery failure
// is logged but the row is still deleted: one attempt per reminder.
func (s *Scheduler) dispatch(ctx context.Context, r *models.Reminder) {
	message := ComposeMessage(r, s.now())
	if _, err := s.sink.Send(r.ChannelID, message); err != nil {
		log.Printf("Error delivering reminder %d to channel %s: %v", r.ID, r.ChannelID, err)
	}
	if err := s.store.DeleteReminder(ctx, r.ID); err != nil {
		log.Printf("Error deleting dispatched reminder %d: %v", r.ID, err)
	}
}

// RegisterReminder persists a new reminder, arms its wait task, and returns
// a receipt for the command layer to show the user.
func (s *Scheduler) RegisterReminder(ctx context.Context, reg Registration) (string, error) {
	r := &models.Reminder{
		UserID:          reg.UserID,
		TargetMention:   reg.TargetMention,
		DisplayTarget:   reg.DisplayTarget,
		DueAt:           timeutil.ToEpochSeconds(s.now().Add(reg.Remaining)),
		GuildID:         reg.GuildID,
		OriginMessageID: reg.OriginMessageID,
		ChannelID:       reg.ChannelID,
		Content:         reg.Content,
	}
	if err := s.store.CreateReminder(ctx, r); err != nil {
		return "", fmt.Errorf("error persisting reminder: %w", err)
	}

	s.CreateReminderTask(ctx, r, reg.Remaining)

	return fmt.Sprintf("Reminder #%d set for %s, due in %s (%s)",
		r.ID, reg.DisplayTarget, formatDuration(reg.Remaining),
		r.DueTime().UTC().Format("2006-01-02 15:04 MST")), nil
}

// Wait blocks until all outstanding reminder tasks have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
