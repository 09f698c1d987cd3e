// Package oracle turns free text into a raw Command by asking a language
// model backend for a structured guess.
package oracle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/dashbot/internal/apperr"
	"github.com/kalambet/dashbot/internal/command"
)

const DefaultTimeout = 30 * time.Second

// Backend completes one system+user exchange and returns the reply text.
type Backend interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Extractor asks a Backend to classify messages.
type Extractor struct {
	backend Backend
	timeout time.Duration
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
}

// NewExtractor creates an Extractor. A zero timeout selects DefaultTimeout;
// a nil loc selects time.Local.
func NewExtractor(backend Backend, timeout time.Duration, loc *time.Location) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if loc == nil {
		loc = time.Local
	}
	return &Extractor{
		backend: backend,
		timeout: timeout,
		loc:     loc,
		now:     time.Now,
		logger:  slog.Default(),
	}
}

// Extract sends text to the backend and parses the reply. Backend errors and
// timeouts are apperr.KindExtraction; malformed replies are KindParse or
// KindExtraction as described by Parse.
func (e *Extractor) Extract(ctx context.Context, text string) (command.Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return command.Command{}, apperr.New(apperr.KindExtraction, "oracle.extract", "empty message")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	system := BuildSystemPrompt(e.now().In(e.loc))
	raw, err := e.backend.Complete(ctx, system, BuildUserPrompt(text))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("extraction timed out", "timeout", e.timeout)
		} else {
			e.logger.Warn("extraction backend failed", "error", err)
		}
		return command.Command{}, apperr.Wrap(apperr.KindExtraction, "oracle.extract", err)
	}

	cmd, err := Parse(raw)
	if err != nil {
		e.logger.Warn("failed to parse extraction reply", "error", err, "kind", apperr.KindOf(err))
		return command.Command{}, err
	}
	return cmd, nil
}
