package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pathakanu/medimate/internal/config"
	"github.com/pathakanu/medimate/internal/kv"
	"github.com/pathakanu/medimate/internal/logger"
	"github.com/pathakanu/medimate/internal/notify"
	"github.com/pathakanu/medimate/internal/reminder"
)

type call struct {
	id      string
	content notify.Content
	trigger notify.Trigger
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   []call
	failFor map[string]bool
	called  chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failFor: map[string]bool{}, called: make(chan struct{}, 64)}
}

func (g *fakeGateway) Authorize(context.Context) error { return nil }

func (g *fakeGateway) Schedule(_ context.Context, id string, content notify.Content, trigger notify.Trigger) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{id: id, content: content, trigger: trigger})
	select {
	case g.called <- struct{}{}:
	default:
	}
	if g.failFor[id] {
		return errors.New("notification service rejected the request")
	}
	return nil
}

func (g *fakeGateway) Cancel(context.Context, string) error { return nil }

func (g *fakeGateway) callsFor(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.id == id {
			n++
		}
	}
	return n
}

var now = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestPoller(t *testing.T, mode string, seed ...reminder.Reminder) (*Poller, *reminder.Store, *fakeGateway) {
	t.Helper()
	store := reminder.NewStore(kv.NewMemoryStore(), logger.Discard())
	t.Cleanup(store.Close)
	for _, r := range seed {
		if _, err := store.Append(context.Background(), r); err != nil {
			t.Fatalf("seed reminder %s: %v", r.ID, err)
		}
	}

	gateway := newFakeGateway()
	p := New(store, gateway, mode, time.Second, time.UTC, logger.Discard())
	p.now = func() time.Time { return now }
	t.Cleanup(p.Deactivate)
	return p, store, gateway
}

func TestTickNotifiesDueReminders(t *testing.T) {
	t.Parallel()
	past := reminder.Reminder{ID: "past", Description: "aspirin", Message: "Reminder for aspirin", Time: now.Add(-time.Hour)}
	exact := reminder.Reminder{ID: "exact", Description: "insulin", Message: "Reminder for insulin", Time: now}
	future := reminder.Reminder{ID: "future", Description: "vitamin", Message: "Reminder for vitamin", Time: now.Add(time.Hour)}
	p, _, gateway := newTestPoller(t, config.ModeParity, past, exact, future)

	if got := p.Tick(context.Background()); got != 2 {
		t.Fatalf("expected 2 notifications, got %d", got)
	}
	if gateway.callsFor("future") != 0 {
		t.Fatalf("future reminder must not be notified")
	}

	first := gateway.calls[0]
	if first.content.Body != "Reminder for aspirin" || first.content.Title != "Reminder" {
		t.Fatalf("unexpected content %+v", first.content)
	}
	if first.trigger.Kind != notify.TriggerAt || !first.trigger.At.Equal(past.Time) {
		t.Fatalf("expected absolute trigger at reminder time, got %+v", first.trigger)
	}
}

func TestParityModeRetriggersUntilDeleted(t *testing.T) {
	t.Parallel()
	due := reminder.Reminder{ID: "due", Message: "Reminder for aspirin", Time: now.Add(-time.Minute)}
	p, store, gateway := newTestPoller(t, config.ModeParity, due)
	ctx := context.Background()

	p.Tick(ctx)
	p.Tick(ctx)
	p.Tick(ctx)
	if got := gateway.callsFor("due"); got != 3 {
		t.Fatalf("parity mode should notify on every tick, got %d calls", got)
	}

	if err := store.Remove(ctx, "due"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	p.Tick(ctx)
	if got := gateway.callsFor("due"); got != 3 {
		t.Fatalf("deleted reminder must not be notified, got %d calls", got)
	}
}

func TestTrackedModeNotifiesOnce(t *testing.T) {
	t.Parallel()
	due := reminder.Reminder{ID: "due", Message: "Reminder for aspirin", Time: now.Add(-time.Minute)}
	p, store, gateway := newTestPoller(t, config.ModeTracked, due)
	ctx := context.Background()

	p.Tick(ctx)
	p.Tick(ctx)
	if got := gateway.callsFor("due"); got != 1 {
		t.Fatalf("tracked mode should notify once, got %d calls", got)
	}

	stored := store.Load(ctx)
	if stored[0].LastFiredAt == nil || !stored[0].LastFiredAt.Equal(now) {
		t.Fatalf("expected LastFiredAt persisted, got %v", stored[0].LastFiredAt)
	}
}

func TestFailureDoesNotBlockOtherReminders(t *testing.T) {
	t.Parallel()
	bad := reminder.Reminder{ID: "bad", Time: now.Add(-2 * time.Minute)}
	good := reminder.Reminder{ID: "good", Time: now.Add(-time.Minute)}
	p, store, gateway := newTestPoller(t, config.ModeTracked, bad, good)
	gateway.failFor["bad"] = true
	ctx := context.Background()

	if got := p.Tick(ctx); got != 1 {
		t.Fatalf("expected 1 successful notification, got %d", got)
	}
	stats := p.Stats()
	if stats.Processed != 1 || stats.Errors != 1 || !stats.LastRun.Equal(now) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	for _, r := range store.Load(ctx) {
		if r.ID == "bad" && r.LastFiredAt != nil {
			t.Fatalf("failed reminder must stay pending")
		}
	}

	// the failed reminder is retried on the next tick
	p.Tick(ctx)
	if got := gateway.callsFor("bad"); got != 2 {
		t.Fatalf("expected failed reminder retried, got %d calls", got)
	}
}

func TestTickWithNoRemindersIsNoop(t *testing.T) {
	t.Parallel()
	p, _, gateway := newTestPoller(t, config.ModeParity)

	if got := p.Tick(context.Background()); got != 0 {
		t.Fatalf("expected no notifications, got %d", got)
	}
	if len(gateway.calls) != 0 {
		t.Fatalf("gateway should not be called")
	}
	if !p.Stats().LastRun.IsZero() {
		t.Fatalf("empty tick should not record a run")
	}
}

func TestActivateDeactivateLifecycle(t *testing.T) {
	t.Parallel()
	due := reminder.Reminder{ID: "due", Time: now.Add(-time.Minute)}
	p, _, gateway := newTestPoller(t, config.ModeParity, due)

	if err := p.Activate(); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if err := p.Activate(); err != nil {
		t.Fatalf("second Activate returned error: %v", err)
	}
	if !p.Active() || !p.Stats().Active {
		t.Fatalf("poller should report active")
	}

	select {
	case <-gateway.called:
	case <-time.After(3 * time.Second):
		t.Fatalf("poller did not tick while active")
	}

	p.Deactivate()
	if p.Active() {
		t.Fatalf("poller should be inactive after Deactivate")
	}
	seen := gateway.callsFor("due")
	time.Sleep(1500 * time.Millisecond)
	if got := gateway.callsFor("due"); got != seen {
		t.Fatalf("poller kept ticking after Deactivate: %d -> %d", seen, got)
	}
}

func TestActivateRejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()
	store := reminder.NewStore(kv.NewMemoryStore(), logger.Discard())
	defer store.Close()

	p := New(store, newFakeGateway(), config.ModeTracked, 0, time.UTC, logger.Discard())
	if err := p.Activate(); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestTickSkipsStoredRemindersWithoutTime(t *testing.T) {
	t.Parallel()
	blobs := kv.NewMemoryStore()
	raw := `[{"id":"1","description":"x","message":"Reminder for x","frequency":null}]`
	if err := blobs.Set(context.Background(), kv.KeyReminders, raw); err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	store := reminder.NewStore(blobs, logger.Discard())
	defer store.Close()

	gateway := newFakeGateway()
	p := New(store, gateway, config.ModeParity, time.Second, time.UTC, logger.Discard())
	p.now = func() time.Time { return now }

	if got := p.Tick(context.Background()); got != 0 {
		t.Fatalf("reminder without a time must not fire, got %d", got)
	}
	if gateway.callsFor("1") != 0 {
		t.Fatalf("gateway should not be called")
	}
}

type countingSender struct {
	mu   sync.Mutex
	sent int
}

func (s *countingSender) Ready() error { return nil }

func (s *countingSender) Send(context.Context, notify.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	return nil
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func TestUnifiedDeliveryIsNotRepeatedByTrackedPoller(t *testing.T) {
	t.Parallel()
	log := logger.Discard()
	ctx := context.Background()

	store := reminder.NewStore(kv.NewMemoryStore(), log)
	defer store.Close()

	sender := &countingSender{}
	gateway := notify.NewLocalGateway(sender, time.UTC, 100, 10, log)
	delivered := make(chan string, 1)
	gateway.OnDelivered = func(id string, at time.Time) {
		store.RecordDelivery(id, at)
		delivered <- id
	}
	gateway.Start()
	defer gateway.Stop()

	service := reminder.NewService(store, gateway, config.TriggerUnified, time.UTC, log)
	created, err := service.Create(ctx, reminder.Draft{
		Description: "aspirin",
		Date:        time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Clock:       time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		Frequency:   reminder.FrequencyOnce,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	select {
	case id := <-delivered:
		if id != created.ID {
			t.Fatalf("delivered %q, want %q", id, created.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("creation notification not delivered")
	}

	p := New(store, gateway, config.ModeTracked, time.Second, time.UTC, log)
	if got := p.Tick(ctx); got != 0 {
		t.Fatalf("poller re-sent a delivered reminder, %d notifications", got)
	}
	if got := sender.count(); got != 1 {
		t.Fatalf("expected exactly one delivery, got %d", got)
	}
}
