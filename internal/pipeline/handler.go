// Package pipeline runs one message through extraction, validation,
// defaulting and persistence or reconciliation, and renders the outcome.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/dashbot/internal/apperr"
	"github.com/kalambet/dashbot/internal/command"
	"github.com/kalambet/dashbot/internal/reconcile"
	"github.com/kalambet/dashbot/internal/storage"
)

const (
	DefaultConfidenceThreshold = 0.7
	DefaultCandidateLimit      = 50
	DefaultStoreTimeout        = 10 * time.Second
)

// Extractor turns free text into a raw command.
type Extractor interface {
	Extract(ctx context.Context, text string) (command.Command, error)
}

// Store is the subset of the entry store the handler uses.
type Store interface {
	InsertEntry(ctx context.Context, e storage.Entry) (storage.Entry, error)
	QueryEntries(ctx context.Context, q storage.EntryQuery) ([]storage.Entry, error)
	DeleteEntry(ctx context.Context, id, userID string) error
	CountByCategory(ctx context.Context, userID string, since time.Time) ([]storage.CategoryCount, error)
}

// Settings is the immutable engine configuration.
type Settings struct {
	ConfidenceThreshold float64
	Location            *time.Location
	CandidateLimit      int
	StoreTimeout        time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.ConfidenceThreshold <= 0 {
		s.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if s.Location == nil {
		s.Location = time.Local
	}
	if s.CandidateLimit <= 0 {
		s.CandidateLimit = DefaultCandidateLimit
	}
	if s.StoreTimeout <= 0 {
		s.StoreTimeout = DefaultStoreTimeout
	}
	return s
}

// OutcomeKind names the result of handling one message.
type OutcomeKind string

const (
	AskClarification  OutcomeKind = "ask_clarification"
	Rephrase          OutcomeKind = "rephrase"
	Logged            OutcomeKind = "logged"
	PersistenceFailed OutcomeKind = "persistence_failed"
	Removed           OutcomeKind = "removed"
	NothingMatched    OutcomeKind = "nothing_matched"
	Welcome           OutcomeKind = "welcome"
)

// Outcome is what the user is told. Err keeps the internal cause for logs
// and is never rendered.
type Outcome struct {
	Kind          OutcomeKind      `json:"outcome"`
	Category      command.Category `json:"category,omitempty"`
	Question      string           `json:"question,omitempty"`
	Entry         *storage.Entry   `json:"entry,omitempty"`
	LowConfidence bool             `json:"low_confidence,omitempty"`
	Err           error            `json:"-"`
}

// Handler runs the command pipeline. Messages are independent: it keeps no
// state between calls besides the store.
type Handler struct {
	extractor Extractor
	store     Store
	settings  Settings
	now       func() time.Time
	logger    *slog.Logger
}

// NewHandler creates a Handler. extractor may be nil when only
// HandleCommand is used.
func NewHandler(extractor Extractor, store Store, settings Settings) *Handler {
	return &Handler{
		extractor: extractor,
		store:     store,
		settings:  settings.withDefaults(),
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Handle extracts a command from text and runs it for userID. The chat
// commands /start and /help get the welcome text without an oracle call.
func (h *Handler) Handle(ctx context.Context, userID, text string) Outcome {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/start", "/help":
		return Outcome{Kind: Welcome}
	}
	if h.extractor == nil {
		return Outcome{Kind: Rephrase, Err: errors.New("no extractor configured")}
	}
	cmd, err := h.extractor.Extract(ctx, text)
	if err != nil {
		h.logger.Warn("extraction failed", "user_id", userID, "kind", apperr.KindOf(err), "error", err)
		return Outcome{Kind: Rephrase, Err: err}
	}
	return h.HandleCommand(ctx, userID, cmd)
}

// HandleCommand validates, defaults and dispatches an already extracted command.
func (h *Handler) HandleCommand(ctx context.Context, userID string, cmd command.Command) Outcome {
	if cmd.NeedsClarification {
		return Outcome{Kind: AskClarification, Category: cmd.Category, Question: cmd.ClarificationQuestion}
	}

	typed, err := command.Validate(cmd)
	if err != nil {
		h.logger.Warn("command rejected", "user_id", userID, "category", cmd.Category, "action", cmd.Action, "error", err)
		return Outcome{Kind: Rephrase, Category: cmd.Category, Err: err}
	}
	typed = command.ApplyDefaults(typed, h.now().In(h.settings.Location))

	if typed.Action == command.ActionAdd {
		return h.add(ctx, userID, typed)
	}
	return h.remove(ctx, userID, typed)
}

func (h *Handler) add(ctx context.Context, userID string, typed command.Typed) Outcome {
	ctx, cancel := context.WithTimeout(ctx, h.settings.StoreTimeout)
	defer cancel()

	entry, err := h.store.InsertEntry(ctx, storage.Entry{
		UserID:   userID,
		Category: string(typed.Category),
		Data:     typed.Payload.Fields(),
	})
	if err != nil {
		err = apperr.Wrap(apperr.KindPersistence, "pipeline.add", err)
		h.logger.Error("saving entry failed", "user_id", userID, "category", typed.Category, "error", err)
		return Outcome{Kind: PersistenceFailed, Category: typed.Category, Err: err}
	}
	h.logger.Info("entry logged", "entry_id", entry.ID, "user_id", userID, "category", entry.Category)
	return Outcome{
		Kind:          Logged,
		Category:      typed.Category,
		Entry:         &entry,
		LowConfidence: typed.Confidence < h.settings.ConfidenceThreshold,
	}
}

func (h *Handler) remove(ctx context.Context, userID string, typed command.Typed) Outcome {
	ctx, cancel := context.WithTimeout(ctx, h.settings.StoreTimeout)
	defer cancel()

	candidates, err := h.store.QueryEntries(ctx, storage.EntryQuery{
		UserID:   userID,
		Category: string(typed.Category),
		Limit:    h.settings.CandidateLimit,
	})
	if err != nil {
		err = apperr.Wrap(apperr.KindPersistence, "pipeline.remove", err)
		h.logger.Error("loading candidates failed", "user_id", userID, "category", typed.Category, "error", err)
		return Outcome{Kind: PersistenceFailed, Category: typed.Category, Err: err}
	}

	match, ok := reconcile.Reconcile(typed.Payload, candidates)
	if !ok {
		err := apperr.New(apperr.KindReconciliation, "pipeline.remove", "no candidate matched")
		h.logger.Info("nothing matched", "user_id", userID, "category", typed.Category, "candidates", len(candidates))
		return Outcome{Kind: NothingMatched, Category: typed.Category, Err: err}
	}

	if err := h.store.DeleteEntry(ctx, match.ID, userID); err != nil {
		err = apperr.Wrap(apperr.KindPersistence, "pipeline.remove", err)
		h.logger.Error("deleting entry failed", "entry_id", match.ID, "error", err)
		return Outcome{Kind: PersistenceFailed, Category: typed.Category, Err: err}
	}
	h.logger.Info("entry removed", "entry_id", match.ID, "user_id", userID, "category", match.Category)
	return Outcome{Kind: Removed, Category: typed.Category, Entry: &match}
}

// CategoryStats counts one category's entries.
type CategoryStats struct {
	Category  command.Category `json:"category"`
	Total     int              `json:"total"`
	ThisMonth int              `json:"this_month"`
}

// Stats summarizes a user's entries per category.
type Stats struct {
	Categories []CategoryStats `json:"categories"`
	Total      int             `json:"total"`
	ThisMonth  int             `json:"this_month"`
}

// Stats counts userID's entries per category, overall and since the first
// day of the current month in the configured timezone.
func (h *Handler) Stats(ctx context.Context, userID string) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, h.settings.StoreTimeout)
	defer cancel()

	now := h.now().In(h.settings.Location)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, h.settings.Location)

	all, err := h.store.CountByCategory(ctx, userID, time.Time{})
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.KindPersistence, "pipeline.stats", err)
	}
	month, err := h.store.CountByCategory(ctx, userID, monthStart)
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.KindPersistence, "pipeline.stats", err)
	}

	byCat := make(map[string]*CategoryStats)
	var st Stats
	for _, c := range command.Categories {
		st.Categories = append(st.Categories, CategoryStats{Category: c})
	}
	for i := range st.Categories {
		byCat[string(st.Categories[i].Category)] = &st.Categories[i]
	}
	for _, c := range all {
		if cs, ok := byCat[c.Category]; ok {
			cs.Total = c.Count
		}
		st.Total += c.Count
	}
	for _, c := range month {
		if cs, ok := byCat[c.Category]; ok {
			cs.ThisMonth = c.Count
		}
		st.ThisMonth += c.Count
	}
	return st, nil
}
