package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pathakanu/medimate/internal/logger"
	"github.com/robfig/cron/v3"
)

type fakeSender struct {
	mu       sync.Mutex
	readyErr error
	sendErr  error
	sent     chan Content
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan Content, 16)}
}

func (f *fakeSender) Ready() error { return f.readyErr }

func (f *fakeSender) Send(_ context.Context, content Content) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sent <- content
	return nil
}

func newTestGateway(t *testing.T, sender Sender) *LocalGateway {
	t.Helper()
	g := NewLocalGateway(sender, time.UTC, 100, 10, logger.Discard())
	g.Start()
	t.Cleanup(g.Stop)
	return g
}

func waitForContent(t *testing.T, ch <-chan Content) Content {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
	return Content{}
}

func TestScheduleAtPastDeliversImmediately(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	g := newTestGateway(t, sender)

	delivered := make(chan string, 1)
	g.OnDelivered = func(id string, _ time.Time) { delivered <- id }

	content := Content{Title: "Reminder", Body: "Reminder for aspirin"}
	if err := g.Schedule(context.Background(), "1", content, At(time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	got := waitForContent(t, sender.sent)
	if got != content {
		t.Fatalf("unexpected content: %+v", got)
	}
	select {
	case id := <-delivered:
		if id != "1" {
			t.Fatalf("OnDelivered got id %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnDelivered not called")
	}
}

func TestCancelStopsPendingNotifications(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	g := newTestGateway(t, sender)
	ctx := context.Background()

	if err := g.Schedule(ctx, "42", Content{Body: "later"}, At(time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("schedule absolute: %v", err)
	}
	if err := g.Schedule(ctx, "42", Content{Body: "daily"}, Daily(8, 30, true)); err != nil {
		t.Fatalf("schedule daily: %v", err)
	}
	if got := g.Pending("42"); got != 2 {
		t.Fatalf("expected 2 pending notifications, got %d", got)
	}
	if got := len(g.cron.Entries()); got != 1 {
		t.Fatalf("expected 1 cron entry, got %d", got)
	}

	if err := g.Cancel(ctx, "42"); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if got := g.Pending("42"); got != 0 {
		t.Fatalf("expected nothing pending after cancel, got %d", got)
	}
	if got := len(g.cron.Entries()); got != 0 {
		t.Fatalf("expected cron entry removed, got %d", got)
	}

	// cancelling again is harmless
	if err := g.Cancel(ctx, "42"); err != nil {
		t.Fatalf("second Cancel returned error: %v", err)
	}
}

func TestNonRepeatingDailyTriggerIsRemovedAfterFirstFire(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	g := newTestGateway(t, sender)

	if err := g.Schedule(context.Background(), "7", Content{Body: "once"}, Daily(8, 30, false)); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	g.mu.Lock()
	var entry cron.EntryID
	for _, h := range g.pending["7"] {
		entry = h.entry
	}
	g.mu.Unlock()

	g.cron.Entry(entry).Job.Run()

	if got := waitForContent(t, sender.sent); got.Body != "once" {
		t.Fatalf("unexpected content %+v", got)
	}
	if got := g.Pending("7"); got != 0 {
		t.Fatalf("expected nothing pending after first fire, got %d", got)
	}
	if got := len(g.cron.Entries()); got != 0 {
		t.Fatalf("expected cron entry removed, got %d", got)
	}
}

func TestRepeatingDailyTriggerStaysScheduled(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	g := newTestGateway(t, sender)

	if err := g.Schedule(context.Background(), "8", Content{Body: "daily"}, Daily(8, 30, true)); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	entries := g.cron.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 cron entry, got %d", len(entries))
	}

	entries[0].Job.Run()
	waitForContent(t, sender.sent)

	if got := g.Pending("8"); got != 1 {
		t.Fatalf("repeating trigger should stay pending, got %d", got)
	}
	if got := len(g.cron.Entries()); got != 1 {
		t.Fatalf("repeating cron entry should remain, got %d", got)
	}
}

func TestPermissionDeniedDegradesSilently(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	sender.readyErr = errors.New("no recipient configured")
	g := newTestGateway(t, sender)
	ctx := context.Background()

	if err := g.Authorize(ctx); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := g.Authorize(ctx); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("denial must stick, got %v", err)
	}
	if err := g.Schedule(ctx, "1", Content{Body: "x"}, At(time.Now())); err != nil {
		t.Fatalf("Schedule without permission should not fail, got %v", err)
	}
	if got := g.Pending("1"); got != 0 {
		t.Fatalf("nothing should be scheduled without permission, got %d", got)
	}
}

func TestSendFailureIsNotReportedAsDelivered(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	sender.sendErr = errors.New("twilio down")
	g := newTestGateway(t, sender)

	delivered := make(chan string, 1)
	g.OnDelivered = func(id string, _ time.Time) { delivered <- id }

	if err := g.Schedule(context.Background(), "1", Content{Body: "x"}, At(time.Now())); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	select {
	case <-delivered:
		t.Fatalf("failed send must not call OnDelivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTriggerString(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	if got := At(at).String(); got != "at 2024-03-10T14:30:00Z" {
		t.Fatalf("unexpected absolute trigger string %q", got)
	}
	if got := Daily(7, 5, false).String(); got != "daily 07:05 repeats=false" {
		t.Fatalf("unexpected daily trigger string %q", got)
	}
}
