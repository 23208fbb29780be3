// Package notify schedules and delivers reminder notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPermissionDenied means notifications cannot be delivered on this install.
var ErrPermissionDenied = errors.New("notification permission denied")

// Content is what the user sees.
type Content struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TriggerKind distinguishes absolute triggers from time-of-day ones.
type TriggerKind int

const (
	// TriggerAt fires once at an absolute instant.
	TriggerAt TriggerKind = iota
	// TriggerDaily fires at Hour:Minute, every day when Repeats is set.
	TriggerDaily
)

// Trigger describes when a Gateway delivers a notification.
type Trigger struct {
	Kind    TriggerKind
	At      time.Time
	Hour    int
	Minute  int
	Repeats bool
}

// At returns an absolute trigger.
func At(t time.Time) Trigger {
	return Trigger{Kind: TriggerAt, At: t}
}

// Daily returns a time-of-day trigger.
func Daily(hour, minute int, repeats bool) Trigger {
	return Trigger{Kind: TriggerDaily, Hour: hour, Minute: minute, Repeats: repeats}
}

func (t Trigger) String() string {
	if t.Kind == TriggerAt {
		return "at " + t.At.Format(time.RFC3339)
	}
	return fmt.Sprintf("daily %02d:%02d repeats=%t", t.Hour, t.Minute, t.Repeats)
}

// Gateway schedules notifications. id groups everything scheduled for one
// reminder so Cancel can withdraw it.
type Gateway interface {
	Authorize(ctx context.Context) error
	Schedule(ctx context.Context, id string, content Content, trigger Trigger) error
	Cancel(ctx context.Context, id string) error
}

// Sender delivers a notification right away.
type Sender interface {
	// Ready reports whether the sender is able to deliver at all.
	Ready() error
	Send(ctx context.Context, content Content) error
}
