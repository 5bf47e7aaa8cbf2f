package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/db/models"
	"remindbot/internal/timeutil"
)

type fakeStore struct {
	mu        sync.Mutex
	reminders map[int64]*models.Reminder
	nextID    int64
	loadCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{reminders: make(map[int64]*models.Reminder), nextID: 1}
}

func (f *fakeStore) GetAllReminders(ctx context.Context) ([]*models.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++
	var out []*models.Reminder
	for _, r := range f.reminders {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) GetReminderByID(ctx context.Context, id int64) (*models.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) CreateReminder(ctx context.Context, r *models.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = f.nextID
	f.nextID++
	cp := *r
	f.reminders[r.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteReminder(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reminders, id)
	return nil
}

func (f *fakeStore) cancel(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reminders[id]; ok {
		yes := true
		r.Cancelled = &yes
	}
}

type fakeSink struct {
	mu       sync.Mutex
	messages []string
	channels []string
	fail     bool
}

func (f *fakeSink) Send(channelID, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("channel unreachable")
	}
	f.channels = append(f.channels, channelID)
	f.messages = append(f.messages, message)
	return "msg-1", nil
}

func (f *fakeSink) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func seedReminder(f *fakeStore, dueAt time.Time, cancelled bool) *models.Reminder {
	r := &models.Reminder{
		UserID:        "100",
		TargetMention: "<@100>",
		DisplayTarget: "alice",
		DueAt:         timeutil.ToEpochSeconds(dueAt),
		GuildID:       "g1",
		ChannelID:     "c1",
		Content:       "stand-up",
	}
	if cancelled {
		yes := true
		r.Cancelled = &yes
	}
	f.CreateReminder(context.Background(), r)
	return r
}

func TestStartDispatchesOverdueExactlyOnce(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	seedReminder(store, time.Now().Add(-2*time.Hour), false)

	s := New(store, sink, time.Minute)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	if got := len(sink.sent()); got != 1 {
		t.Fatalf("want 1 dispatch, got %d", got)
	}
	if len(store.reminders) != 0 {
		t.Error("overdue reminder row not deleted after dispatch")
	}
	if !strings.Contains(sink.sent()[0], "ago") {
		t.Errorf("late dispatch should state lateness: %q", sink.sent()[0])
	}
}

func TestStartDeletesCancelledWithoutDispatch(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	seedReminder(store, time.Now().Add(time.Hour), true)

	s := New(store, sink, time.Minute)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	if len(sink.sent()) != 0 {
		t.Error("cancelled reminder must not be dispatched")
	}
	if len(store.reminders) != 0 {
		t.Error("cancelled reminder row not deleted")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	store := newFakeStore()
	s := New(store, &fakeSink{}, time.Minute)

	for i := 0; i < 3; i++ {
		if err := s.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if store.loadCalls != 1 {
		t.Errorf("store scanned %d times, want 1", store.loadCalls)
	}
}

func TestTaskRefetchesBeforeDispatch(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	r := seedReminder(store, time.Now().Add(50*time.Millisecond), false)

	s := New(store, sink, time.Minute)
	s.CreateReminderTask(context.Background(), r, 50*time.Millisecond)

	// Cancel through the store while the task is still waiting.
	store.cancel(r.ID)
	s.Wait()

	if len(sink.sent()) != 0 {
		t.Error("reminder cancelled mid-wait must not be dispatched")
	}
	if len(store.reminders) != 0 {
		t.Error("cancelled reminder row not deleted by the waking task")
	}
}

func TestTaskAbortsSilentlyWhenRowGone(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	r := seedReminder(store, time.Now().Add(20*time.Millisecond), false)

	s := New(store, sink, time.Minute)
	s.CreateReminderTask(context.Background(), r, 20*time.Millisecond)

	store.DeleteReminder(context.Background(), r.ID)
	s.Wait()

	if len(sink.sent()) != 0 {
		t.Error("deleted reminder must not be dispatched")
	}
}

func TestRegisterReminderPersistsAndFires(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	s := New(store, sink, time.Minute)

	receipt, err := s.RegisterReminder(context.Background(), Registration{
		UserID:        "100",
		GuildID:       "g1",
		ChannelID:     "c1",
		TargetMention: "<@100>",
		DisplayTarget: "alice",
		Content:       "submit the report",
		Remaining:     20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(receipt, "#1") {
		t.Errorf("receipt missing store-assigned id: %q", receipt)
	}
	s.Wait()

	sent := sink.sent()
	if len(sent) != 1 {
		t.Fatalf("want 1 dispatch, got %d", len(sent))
	}
	if !strings.Contains(sent[0], "submit the report") {
		t.Errorf("dispatched message missing content: %q", sent[0])
	}
	if len(store.reminders) != 0 {
		t.Error("reminder row not deleted after dispatch")
	}
}

func TestDeliveryFailureStillDeletesRow(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{fail: true}
	seedReminder(store, time.Now().Add(-time.Minute), false)

	s := New(store, sink, time.Minute)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	if len(store.reminders) != 0 {
		t.Error("row must be deleted after a failed delivery attempt")
	}
}

func TestComposeMessage(t *testing.T) {
	due := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	self := &models.Reminder{UserID: "100", TargetMention: "<@100>", DueAt: due.Unix(), Content: "water plants"}
	other := &models.Reminder{UserID: "100", TargetMention: "<@200>", DueAt: due.Unix(), Content: "water plants"}

	onTime := due.Add(-time.Second)
	if msg := ComposeMessage(self, onTime); !strings.Contains(msg, "you wanted to be reminded") {
		t.Errorf("self-addressed message not in second person: %q", msg)
	}
	if msg := ComposeMessage(other, onTime); !strings.Contains(msg, "<@100> asked me to remind you") {
		t.Errorf("third-person message missing attribution: %q", msg)
	}

	late := due.Add(90 * time.Minute)
	if msg := ComposeMessage(self, late); !strings.Contains(msg, "1h 30m 0s ago") {
		t.Errorf("late message missing lateness: %q", msg)
	}
}
