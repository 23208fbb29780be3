package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pathakanu/medimate/internal/kv"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMissingTime is returned when a reminder without a time is appended.
	ErrMissingTime = errors.New("reminder time is required")
	// ErrStoreClosed is returned by mutations after Close.
	ErrStoreClosed = errors.New("reminder store closed")

	errUnchanged = errors.New("unchanged")
)

type mutation struct {
	ctx    context.Context
	apply  func([]Reminder) ([]Reminder, error)
	result chan error
}

// Store keeps the reminder collection as a single blob under kv.KeyReminders.
// Reads go straight to the blob store. Every mutation is a read-modify-write
// executed by one writer goroutine, so concurrent mutations never clobber
// each other.
type Store struct {
	kv  kv.Store
	log logrus.FieldLogger

	mutations chan mutation
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStore starts the writer goroutine. Call Close to stop it.
func NewStore(blobs kv.Store, log logrus.FieldLogger) *Store {
	s := &Store{
		kv:        blobs,
		log:       log,
		mutations: make(chan mutation),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Store) run() {
	defer s.wg.Done()
	for {
		select {
		case m := <-s.mutations:
			m.result <- s.execute(m)
		case <-s.done:
			return
		}
	}
}

func (s *Store) execute(m mutation) error {
	current, err := s.read(m.ctx)
	if err != nil {
		return err
	}
	next, err := m.apply(current)
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.write(m.ctx, next)
}

func (s *Store) mutate(ctx context.Context, apply func([]Reminder) ([]Reminder, error)) error {
	m := mutation{ctx: ctx, apply: apply, result: make(chan error, 1)}
	select {
	case s.mutations <- m:
	case <-s.done:
		return ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once accepted the mutation runs to completion, even if ctx ends first.
	return <-m.result
}

// read returns backend errors. An undecodable blob is logged and treated as
// empty, and elements without a time are logged and dropped.
func (s *Store) read(ctx context.Context) ([]Reminder, error) {
	raw, err := s.kv.Get(ctx, kv.KeyReminders)
	if errors.Is(err, kv.ErrNotFound) {
		return []Reminder{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reminders: %w", err)
	}

	var reminders []Reminder
	if err := json.Unmarshal([]byte(raw), &reminders); err != nil {
		s.log.WithError(err).Error("Error retrieving reminders")
		return []Reminder{}, nil
	}
	valid := make([]Reminder, 0, len(reminders))
	for _, r := range reminders {
		if r.Time.IsZero() {
			s.log.WithField("reminder_id", r.ID).Warn("Dropping stored reminder without a time")
			continue
		}
		valid = append(valid, r)
	}
	return valid, nil
}

func (s *Store) write(ctx context.Context, reminders []Reminder) error {
	if reminders == nil {
		reminders = []Reminder{}
	}
	raw, err := json.Marshal(reminders)
	if err != nil {
		return fmt.Errorf("encode reminders: %w", err)
	}
	if err := s.kv.Set(ctx, kv.KeyReminders, string(raw)); err != nil {
		return fmt.Errorf("write reminders: %w", err)
	}
	return nil
}

// Load returns the stored reminders in storage order. Failures are logged and
// yield an empty collection.
func (s *Store) Load(ctx context.Context) []Reminder {
	reminders, err := s.read(ctx)
	if err != nil {
		s.log.WithError(err).Error("Error retrieving reminders")
		return []Reminder{}
	}
	return reminders
}

// Save replaces the whole collection.
func (s *Store) Save(ctx context.Context, all []Reminder) error {
	for _, r := range all {
		if r.Time.IsZero() {
			return fmt.Errorf("reminder %s: %w", r.ID, ErrMissingTime)
		}
	}
	replacement := make([]Reminder, len(all))
	copy(replacement, all)
	return s.mutate(ctx, func([]Reminder) ([]Reminder, error) {
		return replacement, nil
	})
}

// Append adds r to the end of the collection and returns it as stored. The
// id is made unique within the collection if it collides.
func (s *Store) Append(ctx context.Context, r Reminder) (Reminder, error) {
	if r.Time.IsZero() {
		return Reminder{}, ErrMissingTime
	}
	var stored Reminder
	err := s.mutate(ctx, func(current []Reminder) ([]Reminder, error) {
		stored = r
		stored.ID = uniqueID(current, r.ID)
		return append(current, stored), nil
	})
	if err != nil {
		return Reminder{}, err
	}
	return stored, nil
}

// Remove drops the reminder with id. Removing an unknown id is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(current []Reminder) ([]Reminder, error) {
		kept := current[:0:0]
		for _, r := range current {
			if r.ID != id {
				kept = append(kept, r)
			}
		}
		if len(kept) == len(current) {
			return nil, errUnchanged
		}
		return kept, nil
	})
}

// Update applies fn to the reminder with id in place. Unknown ids are ignored.
func (s *Store) Update(ctx context.Context, id string, fn func(*Reminder)) error {
	return s.mutate(ctx, func(current []Reminder) ([]Reminder, error) {
		for i := range current {
			if current[i].ID == id {
				fn(&current[i])
				return current, nil
			}
		}
		return nil, errUnchanged
	})
}

// MarkFired records that the reminder's notification went out at.
func (s *Store) MarkFired(ctx context.Context, id string, at time.Time) error {
	return s.Update(ctx, id, func(r *Reminder) {
		fired := at
		r.LastFiredAt = &fired
	})
}

// RecordDelivery marks id fired at the delivery time. It matches the
// notify.LocalGateway OnDelivered hook.
func (s *Store) RecordDelivery(id string, at time.Time) {
	if err := s.MarkFired(context.Background(), id, at); err != nil {
		s.log.WithError(err).WithField("reminder_id", id).Error("Failed to mark reminder as fired")
	}
}

// Close stops the writer. Pending callers receive ErrStoreClosed.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
