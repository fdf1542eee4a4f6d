package scheduler

import (
	"errors"
	"log"
	"time"

	"github.com/pathakanu/taskMemo/internal/model"
	"github.com/pathakanu/taskMemo/internal/store"
	"github.com/robfig/cron/v3"
)

// MaxMinutes caps the reminder delay at ten years. Beyond roughly 1.5e11
// minutes the delay arithmetic would overflow time.Duration and produce a
// due time in the past, so anything near that is rejected long before.
const MaxMinutes = 10 * 365 * 24 * 60

// ErrInvalidMinutes is returned when a reminder delay is not a positive
// number of minutes. Nothing is persisted in that case.
var ErrInvalidMinutes = errors.New("minutes must be a positive integer")

// ErrMinutesTooLarge is returned when a reminder delay exceeds MaxMinutes.
// Nothing is persisted in that case.
var ErrMinutesTooLarge = errors.New("minutes exceeds the maximum reminder delay")

// Sender delivers an out-of-band message to a user.
type Sender interface {
	SendMessage(to, body string) error
}

// Scheduler owns one-shot reminder delivery. Scheduling is represented as
// data: every reminder row carries an absolute due time, an in-memory timer
// is armed per pending reminder, and a recovery scan plus a periodic sweep
// pick up anything a dead process or a lost timer left behind.
type Scheduler struct {
	store  *store.Store
	sender Sender
	cron   *cron.Cron
	logger *log.Logger

	// Overridable in tests.
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source and timer constructor. Tests use it
// to drive virtual time instead of arming live timers.
func WithClock(now func() time.Time, afterFunc func(d time.Duration, f func()) *time.Timer) Option {
	return func(s *Scheduler) {
		s.now = now
		s.afterFunc = afterFunc
	}
}

// New creates a scheduler. The cron sweep runs in the given location.
func New(st *store.Store, sender Sender, location *time.Location, logger *log.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     st,
		sender:    sender,
		cron:      cron.New(cron.WithLocation(location)),
		logger:    logger,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule persists a pending reminder due minutes from now and arms its
// timer. The row exists before the timer does, so a crash between the two
// is recoverable on restart.
func (s *Scheduler) Schedule(userID, text string, minutes int) (*model.Reminder, error) {
	if minutes < 1 {
		return nil, ErrInvalidMinutes
	}
	if minutes > MaxMinutes {
		return nil, ErrMinutesTooLarge
	}
	dueAt := s.now().Add(time.Duration(minutes) * time.Minute)
	reminder, err := s.store.CreateReminder(userID, text, minutes, dueAt, nil)
	if err != nil {
		return nil, err
	}
	s.arm(*reminder)
	return reminder, nil
}

// Recover scans for unfired reminders at startup and re-arms each with its
// remaining delay. Past-due ones get a zero delay, so their deliveries run
// on timer goroutines and cannot stall the boot path behind a slow sender.
func (s *Scheduler) Recover() error {
	pending, err := s.store.PendingReminders()
	if err != nil {
		return err
	}
	for _, reminder := range pending {
		s.arm(reminder)
	}
	if len(pending) > 0 {
		s.logger.Printf("scheduler: recovered %d pending reminder(s)", len(pending))
	}
	return nil
}

// Start registers the sweep job and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("* * * * *", s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron scheduler gracefully, waiting for a running sweep.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) arm(reminder model.Reminder) {
	delay := reminder.DueAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.afterFunc(delay, func() {
		s.fire(reminder)
	})
}

// fire marks the reminder completed and delivers it. The completed flag is
// flipped before delivery under a guarded update, so a timer racing the
// sweep delivers at most once; a delivery failure after the flip is logged
// and not retried.
func (s *Scheduler) fire(reminder model.Reminder) {
	flipped, err := s.store.CompleteReminder(reminder.ID)
	if err != nil {
		s.logger.Printf("scheduler: complete reminder %d: %v", reminder.ID, err)
		return
	}
	if !flipped {
		return
	}
	message := "🔔 Reminder: " + reminder.Text
	if err := s.sender.SendMessage(reminder.UserID, message); err != nil {
		s.logger.Printf("scheduler: deliver reminder %d to %s: %v", reminder.ID, reminder.UserID, err)
	}
}

// sweep fires any due reminder whose timer never ran, e.g. after clock
// drift or when arm was skipped by an earlier error.
func (s *Scheduler) sweep() {
	due, err := s.store.DueReminders(s.now())
	if err != nil {
		s.logger.Printf("scheduler: sweep: %v", err)
		return
	}
	for _, reminder := range due {
		s.fire(reminder)
	}
}
