package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const deliveryTimeout = 30 * time.Second

type handle struct {
	timer *time.Timer
	entry cron.EntryID
	cron  bool
}

// LocalGateway keeps scheduled notifications in process. Absolute triggers
// run on timers, daily triggers on cron entries. Deliveries share one rate
// limiter.
type LocalGateway struct {
	sender  Sender
	cron    *cron.Cron
	limiter *rate.Limiter
	log     logrus.FieldLogger

	// OnDelivered, when set, is called after an absolute trigger was delivered.
	OnDelivered func(id string, at time.Time)

	mu         sync.Mutex
	pending    map[string]map[int]handle
	nextHandle int
	checked    bool
	denied     bool
}

// NewLocalGateway builds a gateway. ratePerSecond and burst bound outgoing sends.
func NewLocalGateway(sender Sender, loc *time.Location, ratePerSecond float64, burst int, log logrus.FieldLogger) *LocalGateway {
	if loc == nil {
		loc = time.Local
	}
	if burst < 1 {
		burst = 1
	}
	return &LocalGateway{
		sender:  sender,
		cron:    cron.New(cron.WithLocation(loc)),
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		log:     log,
		pending: make(map[string]map[int]handle),
	}
}

// Start runs the cron loop for daily triggers.
func (g *LocalGateway) Start() {
	g.cron.Start()
}

// Stop halts the cron loop, waits for running deliveries and drops all pending timers.
func (g *LocalGateway) Stop() {
	<-g.cron.Stop().Done()

	g.mu.Lock()
	defer g.mu.Unlock()
	for id, handles := range g.pending {
		for _, h := range handles {
			if !h.cron {
				h.timer.Stop()
			}
		}
		delete(g.pending, id)
	}
}

// Authorize checks the sender once. A denial is logged a single time and
// later calls keep returning ErrPermissionDenied.
func (g *LocalGateway) Authorize(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authorizeLocked()
}

func (g *LocalGateway) authorizeLocked() error {
	if g.checked {
		if g.denied {
			return ErrPermissionDenied
		}
		return nil
	}
	g.checked = true
	if err := g.sender.Ready(); err != nil {
		g.denied = true
		g.log.WithError(err).Warn("Failed to get permission for notifications, reminders will not be delivered")
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return nil
}

// Schedule registers a notification. Without permission it does nothing.
func (g *LocalGateway) Schedule(_ context.Context, id string, content Content, trigger Trigger) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.authorizeLocked(); err != nil {
		g.log.WithField("reminder_id", id).Debug("notification skipped, permission denied")
		return nil
	}

	key := g.nextHandle
	g.nextHandle++

	var h handle
	switch trigger.Kind {
	case TriggerAt:
		delay := time.Until(trigger.At)
		if delay < 0 {
			delay = 0
		}
		h.timer = time.AfterFunc(delay, func() {
			g.forget(id, key)
			if g.deliver(id, content) && g.OnDelivered != nil {
				g.OnDelivered(id, trigger.At)
			}
		})
	case TriggerDaily:
		spec := fmt.Sprintf("%d %d * * *", trigger.Minute, trigger.Hour)
		entry, err := g.cron.AddFunc(spec, func() {
			if !trigger.Repeats {
				g.removeCronHandle(id, key)
			}
			g.deliver(id, content)
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", trigger, err)
		}
		h.entry = entry
		h.cron = true
	default:
		return fmt.Errorf("unknown trigger kind %d", trigger.Kind)
	}

	if g.pending[id] == nil {
		g.pending[id] = make(map[int]handle)
	}
	g.pending[id][key] = h

	g.log.WithFields(logrus.Fields{
		"reminder_id": id,
		"trigger":     trigger.String(),
	}).Debug("notification scheduled")
	return nil
}

// Cancel withdraws every pending notification for id.
func (g *LocalGateway) Cancel(_ context.Context, id string) error {
	g.mu.Lock()
	handles := g.pending[id]
	delete(g.pending, id)
	g.mu.Unlock()

	for _, h := range handles {
		if h.cron {
			g.cron.Remove(h.entry)
		} else {
			h.timer.Stop()
		}
	}
	if len(handles) > 0 {
		g.log.WithFields(logrus.Fields{
			"reminder_id": id,
			"cancelled":   len(handles),
		}).Info("pending notifications cancelled")
	}
	return nil
}

// Pending returns how many notifications are scheduled for id.
func (g *LocalGateway) Pending(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending[id])
}

func (g *LocalGateway) forget(id string, key int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending[id], key)
	if len(g.pending[id]) == 0 {
		delete(g.pending, id)
	}
}

func (g *LocalGateway) removeCronHandle(id string, key int) {
	g.mu.Lock()
	h, ok := g.pending[id][key]
	g.mu.Unlock()
	if ok {
		g.cron.Remove(h.entry)
		g.forget(id, key)
	}
}

func (g *LocalGateway) deliver(id string, content Content) bool {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		g.log.WithError(err).WithField("reminder_id", id).Error("notification rate limit wait failed")
		return false
	}
	if err := g.sender.Send(ctx, content); err != nil {
		g.log.WithError(err).WithField("reminder_id", id).Error("Failed to deliver notification")
		return false
	}
	g.log.WithField("reminder_id", id).Info("Reminder triggered")
	return true
}
