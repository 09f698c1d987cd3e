// Package reminder delivers due todo reminders exactly once.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kalambet/dashbot/internal/apperr"
	"github.com/kalambet/dashbot/internal/command"
	"github.com/kalambet/dashbot/internal/storage"
)

const (
	DefaultInterval     = 60 * time.Second
	DefaultInitialDelay = 10 * time.Second
	DefaultClaimTTL     = 5 * time.Minute
	DefaultStoreTimeout = 10 * time.Second
)

// Store is the subset of the entry store the scheduler uses.
type Store interface {
	QueryEntries(ctx context.Context, q storage.EntryQuery) ([]storage.Entry, error)
	ClaimReminder(ctx context.Context, id, token string, at time.Time) (bool, error)
	MarkReminded(ctx context.Context, id, token string) error
	ReleaseReminder(ctx context.Context, id, token string) error
}

// Sender delivers a reminder text to a recipient.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

// Config tunes the scheduler. Zero fields take the package defaults.
type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
	ClaimTTL     time.Duration
	StoreTimeout time.Duration
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Due       int `json:"due"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Finalized int `json:"finalized"`
}

// Scheduler periodically scans todos for due reminders. Each due entry is
// claimed in the store before delivery, so concurrent sweeps and restarts
// never deliver the same reminder twice.
type Scheduler struct {
	store  Store
	sender Sender
	clock  Clock
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex
	// unreleased holds claim tokens whose delivery failed but whose release
	// did not reach the store. Such claims are released and retried, never
	// finalized as delivered.
	unreleased map[string]struct{}
}

// New creates a Scheduler on the real clock.
func New(store Store, sender Sender, cfg Config) *Scheduler {
	return NewWithClock(store, sender, cfg, realClock{})
}

// NewWithClock creates a Scheduler with a custom clock (for testing).
func NewWithClock(store Store, sender Sender, cfg Config, clock Clock) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return &Scheduler{
		store:      store,
		sender:     sender,
		clock:      clock,
		cfg:        cfg,
		logger:     slog.Default(),
		unreleased: make(map[string]struct{}),
	}
}

// Run sweeps after the initial delay and then once per interval until ctx
// is cancelled. A failed sweep is logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	wait := s.cfg.InitialDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wait):
		}
		wait = s.cfg.Interval

		res, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Error("reminder sweep failed", "error", err)
			continue
		}
		if res.Due > 0 {
			s.logger.Info("reminder sweep", "due", res.Due, "delivered", res.Delivered,
				"failed", res.Failed, "skipped", res.Skipped, "finalized", res.Finalized)
		}
	}
}

// Sweep runs one scan. It returns an error only when the candidate query
// fails; per-entry failures are logged and counted.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	qctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	entries, err := s.store.QueryEntries(qctx, storage.EntryQuery{Category: string(command.Todos)})
	cancel()
	if err != nil {
		return res, apperr.Wrap(apperr.KindPersistence, "reminder.sweep", err)
	}

	now := s.clock.Now()
	for _, e := range entries {
		todo, ok := pending(e)
		if !ok || todo.ReminderTime.After(now) {
			continue
		}
		res.Due++

		if todo.ReminderClaim != "" {
			s.resolveClaim(ctx, e, todo, now, &res)
			continue
		}
		s.deliver(ctx, e, todo, now, &res)
	}
	return res, nil
}

// pending decodes e and reports whether it has an undelivered reminder on an
// open todo.
func pending(e storage.Entry) (command.TodoPayload, bool) {
	p, err := command.DecodeLenient(command.Todos, e.Data)
	if err != nil {
		return command.TodoPayload{}, false
	}
	todo := p.(command.TodoPayload)
	if todo.ReminderTime == nil || todo.Reminded || todo.Status == command.StatusDone {
		return todo, false
	}
	return todo, true
}

func (s *Scheduler) deliver(ctx context.Context, e storage.Entry, todo command.TodoPayload, now time.Time, res *SweepResult) {
	token := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()

	won, err := s.withStore(ctx, func(ctx context.Context) (bool, error) {
		return s.store.ClaimReminder(ctx, e.ID, token, now)
	})
	if err != nil {
		s.logger.Error("claiming reminder failed", "entry_id", e.ID, "error", err)
		res.Skipped++
		return
	}
	if !won {
		res.Skipped++
		return
	}

	if err := s.sender.Send(ctx, e.UserID, Message(todo)); err != nil {
		err = apperr.Wrap(apperr.KindDelivery, "reminder.send", err)
		s.logger.Warn("reminder delivery failed", "entry_id", e.ID, "error", err)
		res.Failed++
		if _, rerr := s.withStore(ctx, func(ctx context.Context) (bool, error) {
			return true, s.store.ReleaseReminder(ctx, e.ID, token)
		}); rerr != nil {
			s.logger.Error("releasing reminder claim failed", "entry_id", e.ID, "error", rerr)
			s.setUnreleased(token, true)
		}
		return
	}

	res.Delivered++
	if _, err := s.withStore(ctx, func(ctx context.Context) (bool, error) {
		return true, s.store.MarkReminded(ctx, e.ID, token)
	}); err != nil {
		// The claim stays; it is finalized once it expires.
		s.logger.Error("marking reminder delivered failed", "entry_id", e.ID, "error", err)
	}
}

// resolveClaim handles an entry another sweep already claimed. A claim older
// than the TTL belongs to a sweep that died after delivering or before
// finishing; it is finalized without sending again.
func (s *Scheduler) resolveClaim(ctx context.Context, e storage.Entry, todo command.TodoPayload, now time.Time, res *SweepResult) {
	if s.isUnreleased(todo.ReminderClaim) {
		s.retryFailedClaim(ctx, e, todo, now, res)
		return
	}
	if todo.ReminderClaimedAt != nil && now.Sub(*todo.ReminderClaimedAt) < s.cfg.ClaimTTL {
		res.Skipped++
		return
	}
	if _, err := s.withStore(ctx, func(ctx context.Context) (bool, error) {
		return true, s.store.MarkReminded(ctx, e.ID, todo.ReminderClaim)
	}); err != nil {
		s.logger.Error("finalizing stale reminder claim failed", "entry_id", e.ID, "error", err)
		res.Skipped++
		return
	}
	s.logger.Warn("finalized stale reminder claim without delivery", "entry_id", e.ID, "claim", todo.ReminderClaim)
	res.Finalized++
}

// retryFailedClaim releases a claim left behind by a failed delivery and
// delivers again under a fresh claim.
func (s *Scheduler) retryFailedClaim(ctx context.Context, e storage.Entry, todo command.TodoPayload, now time.Time, res *SweepResult) {
	_, err := s.withStore(ctx, func(ctx context.Context) (bool, error) {
		return true, s.store.ReleaseReminder(ctx, e.ID, todo.ReminderClaim)
	})
	if errors.Is(err, storage.ErrNotFound) {
		// The claim changed hands or the entry is gone.
		s.setUnreleased(todo.ReminderClaim, false)
		res.Skipped++
		return
	}
	if err != nil {
		s.logger.Error("releasing failed reminder claim failed", "entry_id", e.ID, "error", err)
		res.Skipped++
		return
	}
	s.setUnreleased(todo.ReminderClaim, false)
	s.deliver(ctx, e, todo, now, res)
}

func (s *Scheduler) isUnreleased(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unreleased[token]
	return ok
}

func (s *Scheduler) setUnreleased(token string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if failed {
		s.unreleased[token] = struct{}{}
	} else {
		delete(s.unreleased, token)
	}
}

func (s *Scheduler) withStore(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	ok, err := fn(ctx)
	if err != nil {
		return ok, apperr.Wrap(apperr.KindPersistence, "reminder.store", err)
	}
	return ok, nil
}

// Message is the text delivered for a due todo.
func Message(todo command.TodoPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⏰ Reminder: %s", todo.Task)
	if todo.Priority != "" {
		fmt.Fprintf(&sb, " (%s priority)", todo.Priority)
	}
	if todo.Due != "" {
		fmt.Fprintf(&sb, "\nDue: %s", todo.Due)
	}
	return sb.String()
}
