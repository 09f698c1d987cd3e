package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dashbot/internal/command"
	"github.com/kalambet/dashbot/internal/pipeline"
	"github.com/kalambet/dashbot/internal/reminder"
	"github.com/kalambet/dashbot/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Pipeline runs messages and aggregates stats for a user.
type Pipeline interface {
	Handle(ctx context.Context, userID, text string) pipeline.Outcome
	Stats(ctx context.Context, userID string) (pipeline.Stats, error)
}

// EntryStore is the part of the entry store exposed over HTTP.
type EntryStore interface {
	GetEntry(ctx context.Context, id string) (storage.Entry, error)
	QueryEntries(ctx context.Context, q storage.EntryQuery) ([]storage.Entry, error)
	PatchEntry(ctx context.Context, id string, fields map[string]any) error
	DeleteEntry(ctx context.Context, id, userID string) error
}

// Sweeper runs one reminder sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (reminder.SweepResult, error)
}

type Deps struct {
	Pipeline Pipeline
	Entries  EntryStore
	Sweeper  Sweeper // optional; if nil, /reminders/sweep returns 503
	Token    string
}

// NewHandler returns the dashboard HTTP API. Everything except /health
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/messages", handleMessage(deps))
		r.Get("/entries", handleListEntries(deps))
		r.Patch("/entries/{id}", handlePatchEntry(deps))
		r.Delete("/entries/{id}", handleDeleteEntry(deps))
		r.Get("/stats", handleStats(deps))
		r.Post("/reminders/sweep", handleSweep(deps))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type MessageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type MessageResponse struct {
	pipeline.Outcome
	Reply string `json:"reply"`
}

func handleMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		out := deps.Pipeline.Handle(r.Context(), req.UserID, req.Text)
		writeJSON(w, http.StatusOK, MessageResponse{Outcome: out, Reply: pipeline.Render(out)})
	}
}

func handleListEntries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := storage.EntryQuery{
			UserID:   r.URL.Query().Get("user_id"),
			Category: r.URL.Query().Get("category"),
			Limit:    defaultListLimit,
		}
		if q.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		if q.Category != "" {
			if _, ok := command.Lookup(command.Category(q.Category)); !ok {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown category %q", q.Category)
				return
			}
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			q.Limit = min(n, maxListLimit)
		}

		entries, err := deps.Entries.QueryEntries(r.Context(), q)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list entries: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.Entry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

// reservedFields are maintained by the reminder scheduler and cannot be
// patched over HTTP. A delivered reminder stays delivered.
var reservedFields = []string{command.FieldReminded, command.FieldReminderClaim, command.FieldReminderClaimedAt}

func handlePatchEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		id := chi.URLParam(r, "id")
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(fields) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no fields to update")
			return
		}
		for _, k := range reservedFields {
			if _, ok := fields[k]; ok {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "field %q cannot be updated", k)
				return
			}
		}

		entry, err := deps.Entries.GetEntry(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && entry.UserID != userID) {
			httpError(w, http.StatusNotFound, "not_found_error", "entry %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load entry: %v", err)
			return
		}

		if err := validatePatch(entry, fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid update: %v", err)
			return
		}

		if err := deps.Entries.PatchEntry(r.Context(), id, fields); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update entry: %v", err)
			return
		}
		updated, err := deps.Entries.GetEntry(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reload entry: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// validatePatch merges fields into the stored data and validates the result
// as a new entry of the same category. Keys outside the category's schema
// may only be changed if the entry already carries them.
func validatePatch(e storage.Entry, fields map[string]any) error {
	schema, ok := command.Lookup(command.Category(e.Category))
	if !ok {
		return fmt.Errorf("entry has unknown category %q", e.Category)
	}

	merged := make(map[string]any, len(e.Data)+len(fields))
	maps.Copy(merged, e.Data)
	for k, v := range fields {
		if v == nil {
			delete(merged, k)
			continue
		}
		if _, known := schema.Fields[k]; !known {
			if _, stored := e.Data[k]; !stored {
				return fmt.Errorf("field %q is not part of %s entries", k, e.Category)
			}
		}
		merged[k] = v
	}

	_, err := command.Validate(command.Command{
		Action:   command.ActionAdd,
		Category: schema.Category,
		Data:     merged,
	})
	return err
}

func handleDeleteEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		err := deps.Entries.DeleteEntry(r.Context(), id, userID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "entry %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete entry: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		st, err := deps.Pipeline.Stats(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stats": st, "reply": pipeline.RenderStats(st)})
	}
}

func handleSweep(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Sweeper == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "reminders are disabled")
			return
		}
		res, err := deps.Sweeper.Sweep(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "sweep failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
