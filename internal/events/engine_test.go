package events

import (
	"context"
	"strings"
	"testing"
	"time"

	"remindbot/internal/db/models"
)

type fakeEventStore struct {
	events   []*models.Event
	updates  int
	panicked bool
}

func (f *fakeEventStore) GetAllEvents(ctx context.Context) ([]*models.Event, error) {
	if f.panicked {
		panic("store exploded")
	}
	return f.events, nil
}

func (f *fakeEventStore) UpdateEvent(ctx context.Context, ev *models.Event) error {
	f.updates++
	return nil
}

type recordingSink struct {
	channels []string
	messages []string
}

func (r *recordingSink) Send(channelID, message string) (string, error) {
	r.channels = append(r.channels, channelID)
	r.messages = append(r.messages, message)
	return "msg-1", nil
}

var testCfg = Config{
	EventChannelID:    "events",
	ProposalChannelID: "proposals",
	ErrorChannelID:    "errors",
	SweepInterval:     time.Minute,
}

// sweepAt runs one sweep with a pinned clock.
func sweepAt(store *fakeEventStore, sink *recordingSink, now time.Time) *Engine {
	e := New(store, sink, testCfg)
	e.now = func() time.Time { return now }
	e.Sweep(context.Background())
	return e
}

func eventIn(now time.Time, days int, hourOfDay int) *models.Event {
	target := now.AddDate(0, 0, days)
	at := time.Date(target.Year(), target.Month(), target.Day(), hourOfDay, 0, 0, 0, now.Location())
	return &models.Event{
		ID:             1,
		Name:           "Summer Festival",
		Description:    "Annual community gathering.",
		PersonInCharge: "<@300>",
		EventAt:        at.Unix(),
	}
}

var sweepNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestWeekTierFiresExactlyOnce(t *testing.T) {
	ev := eventIn(sweepNow, 7, 18)
	// Proposal window (6 < d < 30) also matches at 7 days; pin the flag so
	// only the date track is under test.
	ev.ProposalReminded = true
	store := &fakeEventStore{events: []*models.Event{ev}}
	sink := &recordingSink{}

	e := sweepAt(store, sink, sweepNow)

	if len(sink.messages) != 1 || !strings.Contains(sink.messages[0], "next week") {
		t.Fatalf("want one 'next week' notification, got %v", sink.messages)
	}
	if !ev.PreviouslyReminded {
		t.Error("previously-reminded flag not set")
	}
	if store.updates != 1 {
		t.Errorf("event persisted %d times, want 1", store.updates)
	}

	// Second sweep with unchanged inputs fires nothing.
	e.Sweep(context.Background())
	if len(sink.messages) != 1 {
		t.Errorf("second sweep re-fired: %v", sink.messages)
	}
}

func TestMidRangeTierCountsDays(t *testing.T) {
	ev := eventIn(sweepNow, 3, 18)
	ev.ProposalReminded = true
	sink := &recordingSink{}
	sweepAt(&fakeEventStore{events: []*models.Event{ev}}, sink, sweepNow)

	if len(sink.messages) != 1 || !strings.Contains(sink.messages[0], "in 3 days") {
		t.Fatalf("want 'in 3 days' notification, got %v", sink.messages)
	}
}

func TestTomorrowTier(t *testing.T) {
	ev := eventIn(sweepNow, 1, 18)
	ev.ProposalReminded = true
	sink := &recordingSink{}
	sweepAt(&fakeEventStore{events: []*models.Event{ev}}, sink, sweepNow)

	if len(sink.messages) != 1 || !strings.Contains(sink.messages[0], "tomorrow") {
		t.Fatalf("want 'tomorrow' notification, got %v", sink.messages)
	}
}

func TestSameDayFiresHoursAndTodayAndExpires(t *testing.T) {
	ev := eventIn(sweepNow, 0, 18) // today at 18:00, sweeping at 09:00
	ev.ProposalReminded = true
	store := &fakeEventStore{events: []*models.Event{ev}}
	sink := &recordingSink{}
	sweepAt(store, sink, sweepNow)

	if len(sink.messages) != 2 {
		t.Fatalf("want hours tier plus today tier, got %v", sink.messages)
	}
	if !strings.Contains(sink.messages[0], "in 9 hour(s)") {
		t.Errorf("hours tier wrong: %q", sink.messages[0])
	}
	if !strings.Contains(sink.messages[1], "today") {
		t.Errorf("today tier wrong: %q", sink.messages[1])
	}
	if !ev.Expired || !ev.PreviouslyReminded {
		t.Error("same-day firing must set expired and previously-reminded")
	}
}

func TestSameDayFiresEvenAfterEarlierTier(t *testing.T) {
	ev := eventIn(sweepNow, 0, 18)
	ev.PreviouslyReminded = true // an earlier-day tier already fired
	ev.ProposalReminded = true
	sink := &recordingSink{}
	sweepAt(&fakeEventStore{events: []*models.Event{ev}}, sink, sweepNow)

	if len(sink.messages) != 1 || !strings.Contains(sink.messages[0], "today") {
		t.Fatalf("want exactly the 'today' notification, got %v", sink.messages)
	}
	if !ev.Expired {
		t.Error("expired not set by same-day branch")
	}
}

func TestMissedWindowCatchUpSendsNothing(t *testing.T) {
	ev := eventIn(sweepNow, -1, 18)
	store := &fakeEventStore{events: []*models.Event{ev}}
	sink := &recordingSink{}
	sweepAt(store, sink, sweepNow)

	if len(sink.messages) != 0 {
		t.Fatalf("catch-up must be silent, got %v", sink.messages)
	}
	if !ev.Expired || !ev.PreviouslyReminded || !ev.ProposalReminded {
		t.Error("catch-up must force all flags true")
	}
	if store.updates != 1 {
		t.Errorf("catch-up not persisted: %d updates", store.updates)
	}
}

func TestExpiredEventIsSkipped(t *testing.T) {
	ev := eventIn(sweepNow, 7, 18)
	ev.Expired = true
	ev.ProposalReminded = true
	store := &fakeEventStore{events: []*models.Event{ev}}
	sink := &recordingSink{}
	sweepAt(store, sink, sweepNow)

	if len(sink.messages) != 0 || store.updates != 0 {
		t.Error("expired event must not fire or persist")
	}
}

func TestDisabledSuppressesSendsButNotExpiry(t *testing.T) {
	upcoming := eventIn(sweepNow, 7, 18)
	upcoming.ReminderDisabled = true
	upcoming.ProposalReminded = true
	past := eventIn(sweepNow, -2, 18)
	past.ID = 2
	past.ReminderDisabled = true
	store := &fakeEventStore{events: []*models.Event{upcoming, past}}
	sink := &recordingSink{}
	sweepAt(store, sink, sweepNow)

	if len(sink.messages) != 0 {
		t.Fatalf("disabled events must not send, got %v", sink.messages)
	}
	if upcoming.PreviouslyReminded {
		t.Error("suppressed tier must not consume the reminded flag")
	}
	if !past.Expired {
		t.Error("disabled flag must not block the expired transition")
	}
}

func TestProposalTrackFiresToPersonInCharge(t *testing.T) {
	ev := eventIn(sweepNow, 30, 18)
	store := &fakeEventStore{events: []*models.Event{ev}}
	sink := &recordingSink{}
	e := sweepAt(store, sink, sweepNow)

	if len(sink.messages) != 1 {
		t.Fatalf("want one proposal notification, got %v", sink.messages)
	}
	if sink.channels[0] != "proposals" {
		t.Errorf("proposal sent to %q, want the proposal channel", sink.channels[0])
	}
	if !strings.Contains(sink.messages[0], "<@300>") {
		t.Errorf("proposal must address the person in charge: %q", sink.messages[0])
	}
	if !ev.ProposalReminded {
		t.Error("proposal-reminded flag not set")
	}

	e.Sweep(context.Background())
	if len(sink.messages) != 1 {
		t.Error("proposal track re-fired")
	}
}

func TestProposalTrackWindowBounds(t *testing.T) {
	outside := eventIn(sweepNow, 31, 18)
	store := &fakeEventStore{events: []*models.Event{outside}}
	sink := &recordingSink{}
	sweepAt(store, sink, sweepNow)
	if len(sink.messages) != 0 {
		t.Errorf("31 days out must not fire the proposal track: %v", sink.messages)
	}

	inside := eventIn(sweepNow, 12, 18)
	sink2 := &recordingSink{}
	sweepAt(&fakeEventStore{events: []*models.Event{inside}}, sink2, sweepNow)
	if len(sink2.messages) != 1 || sink2.channels[0] != "proposals" {
		t.Errorf("12 days out must fire the proposal track: %v", sink2.messages)
	}
}

func TestTracksAreIndependent(t *testing.T) {
	// Date track already consumed, proposal still pending.
	ev := eventIn(sweepNow, 12, 18)
	ev.PreviouslyReminded = true
	sink := &recordingSink{}
	sweepAt(&fakeEventStore{events: []*models.Event{ev}}, sink, sweepNow)

	if len(sink.messages) != 1 || sink.channels[0] != "proposals" {
		t.Fatalf("proposal track blocked by date-track flag: %v", sink.messages)
	}
}

func TestUnusableDateRowIsSkipped(t *testing.T) {
	bad := &models.Event{ID: 9, Name: "broken"}
	good := eventIn(sweepNow, 3, 18)
	good.ProposalReminded = true
	store := &fakeEventStore{events: []*models.Event{bad, good}}
	sink := &recordingSink{}
	sweepAt(store, sink, sweepNow)

	if len(sink.messages) != 1 {
		t.Errorf("bad row must not abort the sweep: %v", sink.messages)
	}
}

func TestRunIsFailStopOnPanic(t *testing.T) {
	store := &fakeEventStore{panicked: true}
	sink := &recordingSink{}
	e := New(store, sink, testCfg)

	err := e.Run(context.Background())
	if err == nil {
		t.Fatal("Run must terminate with an error after a sweep panic")
	}
	if len(sink.channels) != 1 || sink.channels[0] != "errors" {
		t.Errorf("fatal error not reported to the error channel: %v", sink.channels)
	}
}

func TestCalculateSchedule(t *testing.T) {
	now := sweepNow
	cases := []struct {
		name      string
		daysOut   int
		wantLevel int
		wantBack  time.Duration
	}{
		{"month out", 45, LevelMonth, 30 * 24 * time.Hour},
		{"exactly 30", 30, LevelMonth, 30 * 24 * time.Hour},
		{"fortnight", 20, LevelFortnight, 14 * 24 * time.Hour},
		{"ten days", 10, LevelWeek, 7 * 24 * time.Hour},
		{"three days", 3, LevelEve, 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eventAt := now.AddDate(0, 0, tc.daysOut)
			next, level, expired := CalculateSchedule(eventAt, now)
			if level != tc.wantLevel {
				t.Errorf("level = %d, want %d", level, tc.wantLevel)
			}
			if expired {
				t.Error("future event marked expired")
			}
			if want := eventAt.Add(-tc.wantBack).Unix(); next != want {
				t.Errorf("next checkpoint = %d, want %d", next, want)
			}
		})
	}
}

func TestCalculateSchedulePastEventExpired(t *testing.T) {
	next, level, expired := CalculateSchedule(sweepNow.AddDate(0, 0, -1), sweepNow)
	if !expired || level != LevelNone || next != 0 {
		t.Errorf("past event: got (%d, %d, %v)", next, level, expired)
	}
}

func TestCalculateScheduleIdempotentAtCheckpoint(t *testing.T) {
	eventAt := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	first, level, _ := CalculateSchedule(eventAt, sweepNow)
	if level != LevelMonth {
		t.Fatalf("seed level = %d, want %d", level, LevelMonth)
	}

	// Re-applying the calculator at its own 30d-before checkpoint yields
	// level 1 again.
	checkpoint := time.Unix(first, 0)
	_, again, expired := CalculateSchedule(eventAt, checkpoint)
	if again != LevelMonth || expired {
		t.Errorf("recomputation at checkpoint: level %d expired %v", again, expired)
	}
}
