// Package scheduler polls stored reminders and notifies the ones that are due.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pathakanu/medimate/internal/config"
	"github.com/pathakanu/medimate/internal/notify"
	"github.com/pathakanu/medimate/internal/reminder"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const tickTimeout = 2 * time.Minute

// Stats describes the most recent poll.
type Stats struct {
	LastRun   time.Time `json:"last_run"`
	Processed int       `json:"reminders_processed"`
	Errors    int       `json:"errors"`
	Active    bool      `json:"is_running"`
}

// Poller evaluates reminders on a fixed interval while it is active. The
// owner flips it with Activate and Deactivate, typically when the reminder
// list is shown and hidden.
type Poller struct {
	store    *reminder.Store
	gateway  notify.Gateway
	mode     string
	interval time.Duration
	loc      *time.Location
	log      logrus.FieldLogger
	now      func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	active bool

	statsMu sync.Mutex
	stats   Stats
}

// New builds an inactive poller. mode is config.ModeTracked or config.ModeParity.
func New(store *reminder.Store, gateway notify.Gateway, mode string, interval time.Duration, loc *time.Location, log logrus.FieldLogger) *Poller {
	if loc == nil {
		loc = time.Local
	}
	return &Poller{
		store:    store,
		gateway:  gateway,
		mode:     mode,
		interval: interval,
		loc:      loc,
		log:      log,
		now:      time.Now,
	}
}

// Activate starts polling. Calling it while active does nothing.
func (p *Poller) Activate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return nil
	}
	if p.interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", p.interval)
	}

	c := cron.New(
		cron.WithLocation(p.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", p.interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
		defer cancel()
		p.Tick(ctx)
	}); err != nil {
		return err
	}
	c.Start()

	p.cron = c
	p.active = true
	p.setActive(true)
	p.log.WithField("interval", p.interval.String()).Info("reminder poller started")
	return nil
}

// Deactivate stops polling and waits for a running poll to finish.
func (p *Poller) Deactivate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	<-p.cron.Stop().Done()
	p.cron = nil
	p.active = false
	p.setActive(false)
	p.log.Info("reminder poller stopped")
}

// Active reports whether the poller is running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Stats returns a copy of the latest poll statistics.
func (p *Poller) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Poller) setActive(active bool) {
	p.statsMu.Lock()
	p.stats.Active = active
	p.statsMu.Unlock()
}

// Tick evaluates every stored reminder once and returns how many were
// notified. A failure for one reminder does not stop the others.
//
// In parity mode nothing is recorded, so a due reminder is notified again on
// every tick until it is deleted. In tracked mode a reminder is notified once
// and LastFiredAt is persisted.
func (p *Poller) Tick(ctx context.Context) int {
	reminders := p.store.Load(ctx)
	if len(reminders) == 0 {
		return 0
	}

	now := p.now()
	var processed, errCount int

	for _, r := range reminders {
		if !r.Due(now) {
			p.log.WithField("reminder_id", r.ID).Debug("Reminder not triggered yet")
			continue
		}
		if p.mode == config.ModeTracked && r.LastFiredAt != nil {
			continue
		}

		if err := p.gateway.Schedule(ctx, r.ID, reminder.DueContent(r), reminder.DueTrigger(r)); err != nil {
			p.log.WithError(err).WithField("reminder_id", r.ID).Error("Failed to schedule due reminder")
			errCount++
			continue
		}

		if p.mode == config.ModeTracked {
			if err := p.store.MarkFired(ctx, r.ID, now); err != nil {
				p.log.WithError(err).WithField("reminder_id", r.ID).Error("Failed to mark reminder as fired")
				errCount++
			}
		}

		processed++
		p.log.WithField("reminder_id", r.ID).Info("Reminder triggered")
	}

	p.statsMu.Lock()
	p.stats.LastRun = now
	p.stats.Processed = processed
	p.stats.Errors = errCount
	p.statsMu.Unlock()

	if processed > 0 || errCount > 0 {
		p.log.WithFields(logrus.Fields{
			"processed": processed,
			"errors":    errCount,
		}).Info("Processed due reminders")
	}
	return processed
}
