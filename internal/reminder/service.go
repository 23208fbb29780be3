package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/pathakanu/medimate/internal/config"
	"github.com/pathakanu/medimate/internal/notify"
	"github.com/sirupsen/logrus"
)

// ErrEditNotSupported is returned by Edit. Reminders can only be created and deleted.
var ErrEditNotSupported = errors.New("editing reminders is not supported")

// Draft is what the editor collects before a reminder exists.
type Draft struct {
	Description string
	Date        time.Time
	Clock       time.Time
	Frequency   Frequency
}

// Service runs the reminder lifecycle: creation, listing and deletion.
type Service struct {
	store       *Store
	gateway     notify.Gateway
	triggerMode string
	loc         *time.Location
	log         logrus.FieldLogger
	now         func() time.Time
}

// NewService wires the store to a notification gateway. triggerMode is one of
// config.TriggerParity or config.TriggerUnified.
func NewService(store *Store, gateway notify.Gateway, triggerMode string, loc *time.Location, log logrus.FieldLogger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:       store,
		gateway:     gateway,
		triggerMode: triggerMode,
		loc:         loc,
		log:         log,
		now:         time.Now,
	}
}

// TriggerFor computes the trigger scheduled when a reminder is created.
//
// In parity mode the trigger keeps only the hour and minute of the reminder
// time and repeats for every frequency except Once, whatever date was chosen.
// In unified mode a one-off reminder gets the absolute reminder time, the same
// trigger the poller uses for due reminders, and a recurring one gets a
// repeating daily trigger at its hour and minute.
func TriggerFor(r Reminder, mode string) notify.Trigger {
	if mode == config.TriggerUnified {
		switch r.Frequency {
		case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
			return notify.Daily(r.Time.Hour(), r.Time.Minute(), true)
		}
		return DueTrigger(r)
	}
	return notify.Daily(r.Time.Hour(), r.Time.Minute(), r.Frequency.Repeats())
}

// DueTrigger is the trigger used when a reminder is found due.
func DueTrigger(r Reminder) notify.Trigger {
	return notify.At(r.Time)
}

// CreationContent is the notification scheduled when a reminder is saved.
func CreationContent(r Reminder) notify.Content {
	return notify.Content{Title: "Reminder!", Body: r.Message}
}

// DueContent is the notification sent when the poller finds a reminder due.
func DueContent(r Reminder) notify.Content {
	body := r.Message
	if body == "" {
		body = r.Description
	}
	return notify.Content{Title: "Reminder", Body: body}
}

// Create stores a new reminder and schedules its notification. The reminder
// is kept even if scheduling fails; that failure is only logged.
func (s *Service) Create(ctx context.Context, d Draft) (Reminder, error) {
	if d.Date.IsZero() || d.Clock.IsZero() {
		return Reminder{}, ErrMissingTime
	}

	r := Reminder{
		ID:          NewID(s.now()),
		Description: d.Description,
		Time:        Combine(d.Date, d.Clock, s.loc),
		Message:     MessageFor(d.Description),
		Frequency:   d.Frequency,
	}

	stored, err := s.store.Append(ctx, r)
	if err != nil {
		s.log.WithError(err).Error("Failed to save reminder")
		return Reminder{}, err
	}

	trigger := TriggerFor(stored, s.triggerMode)
	if err := s.gateway.Schedule(ctx, stored.ID, CreationContent(stored), trigger); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"reminder_id": stored.ID,
			"trigger":     trigger.String(),
		}).Error("Failed to schedule reminder notification")
	}

	s.log.WithFields(logrus.Fields{
		"reminder_id": stored.ID,
		"time":        stored.Time,
		"frequency":   stored.Frequency,
	}).Info("Reminder saved and scheduled")
	return stored, nil
}

// List returns the reminders latest first.
func (s *Service) List(ctx context.Context) []Reminder {
	return SortByTimeDesc(s.store.Load(ctx))
}

// Delete removes the reminder and withdraws its pending notifications.
// Deleting an unknown id succeeds.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Remove(ctx, id); err != nil {
		s.log.WithError(err).WithField("reminder_id", id).Error("Error deleting reminder")
		return err
	}
	if err := s.gateway.Cancel(ctx, id); err != nil {
		s.log.WithError(err).WithField("reminder_id", id).Warn("Failed to cancel pending notifications")
	}
	return nil
}

// Edit is exposed for the list view's edit action but not implemented.
func (s *Service) Edit(_ context.Context, _ string, _ Draft) (Reminder, error) {
	return Reminder{}, ErrEditNotSupported
}
