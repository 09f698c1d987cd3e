package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/dashbot/internal/command"
	"github.com/kalambet/dashbot/internal/pipeline"
	"github.com/kalambet/dashbot/internal/reminder"
	"github.com/kalambet/dashbot/internal/storage"
)

const testToken = "test-token"

type mockExtractor struct {
	cmd command.Command
	err error
}

func (m *mockExtractor) Extract(ctx context.Context, text string) (command.Command, error) {
	return m.cmd, m.err
}

type mockSweeper struct {
	res   reminder.SweepResult
	err   error
	calls int
}

func (m *mockSweeper) Sweep(ctx context.Context) (reminder.SweepResult, error) {
	m.calls++
	return m.res, m.err
}

type testEnv struct {
	handler   http.Handler
	store     *storage.Store
	extractor *mockExtractor
	sweeper   *mockSweeper
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ex := &mockExtractor{}
	sw := &mockSweeper{}
	p := pipeline.NewHandler(ex, store, pipeline.Settings{Location: time.UTC})
	return &testEnv{
		handler:   NewHandler(Deps{Pipeline: p, Entries: store, Sweeper: sw, Token: testToken}),
		store:     store,
		extractor: ex,
		sweeper:   sw,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) insert(t *testing.T, userID, category string, data map[string]any) storage.Entry {
	t.Helper()
	entry, err := e.store.InsertEntry(context.Background(), storage.Entry{UserID: userID, Category: category, Data: data})
	if err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	return entry
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, auth := range []string{"", "Bearer wrong", testToken} {
		req := httptest.NewRequest(http.MethodGet, "/entries?user_id=u1", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: status = %d, want 401", auth, rr.Code)
		}
	}
}

func TestMessage_Logged(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.cmd = command.Command{
		Action:     command.ActionAdd,
		Category:   command.Finance,
		Data:       map[string]any{"amount": 47.0, "description": "dinner", "subcategory": "dining_out"},
		Confidence: 0.95,
	}

	rr := env.do(t, http.MethodPost, "/messages", `{"user_id":"u1","text":"Spent $47 on dinner"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}

	var resp struct {
		Outcome string         `json:"outcome"`
		Reply   string         `json:"reply"`
		Entry   *storage.Entry `json:"entry"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Outcome != "logged" || resp.Reply != "💰 Logged to finance:\n$47 - dinner" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Entry == nil || resp.Entry.UserID != "u1" {
		t.Fatalf("entry = %+v", resp.Entry)
	}

	stored, err := env.store.GetEntry(context.Background(), resp.Entry.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if stored.Data["description"] != "dinner" {
		t.Errorf("stored data = %v", stored.Data)
	}
}

func TestMessage_RephraseHidesCause(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.err = errors.New("anthropic: status 529 overloaded")

	rr := env.do(t, http.MethodPost, "/messages", `{"user_id":"u1","text":"hmm"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Contains(body, "529") || strings.Contains(body, "overloaded") {
		t.Errorf("internal cause leaked: %s", body)
	}
	if !strings.Contains(body, `"outcome":"rephrase"`) {
		t.Errorf("body = %s", body)
	}
}

func TestMessage_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`not json`, `{"text":"hi"}`, `{"user_id":"u1","text":"  "}`} {
		if rr := env.do(t, http.MethodPost, "/messages", body); rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestListEntries(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, "u1", "finance", map[string]any{"amount": 10.0})
	env.insert(t, "u1", "sleep", map[string]any{"score": 7.0})
	env.insert(t, "u2", "finance", map[string]any{"amount": 99.0})

	rr := env.do(t, http.MethodGet, "/entries?user_id=u1&category=finance", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	var resp struct {
		Entries []storage.Entry `json:"entries"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Entries) != 1 || resp.Entries[0].Data["amount"] != 10.0 {
		t.Errorf("entries = %+v", resp.Entries)
	}

	for _, target := range []string{"/entries", "/entries?user_id=u1&category=fitness", "/entries?user_id=u1&limit=-1"} {
		if rr := env.do(t, http.MethodGet, target, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rr.Code)
		}
	}
}

func TestListEntries_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/entries?user_id=nobody", "")
	if !strings.Contains(rr.Body.String(), `"entries":[]`) {
		t.Errorf("body = %s", rr.Body)
	}
}

func TestPatchEntry(t *testing.T) {
	env := newTestEnv(t)
	e := env.insert(t, "u1", "todos", map[string]any{"task": "call mom", "priority": "high", "status": "pending", "due": "2026-10-20"})

	rr := env.do(t, http.MethodPatch, "/entries/"+e.ID+"?user_id=u1", `{"status":"done","due":null}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	got, _ := env.store.GetEntry(context.Background(), e.ID)
	if got.Data["status"] != "done" {
		t.Errorf("status = %v, want done", got.Data["status"])
	}
	if _, ok := got.Data["due"]; ok {
		t.Errorf("due not removed: %v", got.Data)
	}

	if rr := env.do(t, http.MethodPatch, "/entries/"+e.ID+"?user_id=u2", `{"status":"done"}`); rr.Code != http.StatusNotFound {
		t.Errorf("other user: status = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodPatch, "/entries/"+e.ID+"?user_id=u1", `{"reminder_claim":"x"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("reserved field: status = %d, want 400", rr.Code)
	}
	if rr := env.do(t, http.MethodPatch, "/entries/missing?user_id=u1", `{"status":"done"}`); rr.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", rr.Code)
	}
}

func TestPatchEntry_RejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)
	expense := env.insert(t, "u1", "finance", map[string]any{
		"amount": 47.0, "description": "dinner", "subcategory": "dining_out", "date": "2026-10-18", "memo": "team",
	})
	todo := env.insert(t, "u1", "todos", map[string]any{"task": "call mom", "priority": "high", "status": "pending"})

	tests := []struct {
		name  string
		entry storage.Entry
		body  string
	}{
		{"negative amount", expense, `{"amount":-5}`},
		{"amount not a number", expense, `{"amount":"a lot"}`},
		{"field of another category", expense, `{"reminder_time":"tomorrow"}`},
		{"required field removed", expense, `{"description":null}`},
		{"priority outside enum", todo, `{"priority":"urgent"}`},
		{"status outside enum", todo, `{"status":"someday"}`},
		{"reminder time without offset", todo, `{"reminder_time":"tomorrow"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPatch, "/entries/"+tt.entry.ID+"?user_id=u1", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rr.Code, rr.Body)
			}
			got, _ := env.store.GetEntry(context.Background(), tt.entry.ID)
			if len(got.Data) != len(tt.entry.Data) {
				t.Errorf("data changed by rejected patch: %v", got.Data)
			}
			for k, v := range tt.entry.Data {
				if got.Data[k] != v {
					t.Errorf("data[%s] = %v, want %v", k, got.Data[k], v)
				}
			}
		})
	}

	// Extra keys the entry already carries stay editable.
	if rr := env.do(t, http.MethodPatch, "/entries/"+expense.ID+"?user_id=u1", `{"memo":"family","amount":52.5}`); rr.Code != http.StatusOK {
		t.Errorf("valid patch: status = %d, body = %s", rr.Code, rr.Body)
	}
}

type countingSender struct{ n int }

func (c *countingSender) Send(ctx context.Context, recipient, text string) error {
	c.n++
	return nil
}

func TestPatchEntry_DeliveredReminderStaysDelivered(t *testing.T) {
	env := newTestEnv(t)
	sender := &countingSender{}
	sched := reminder.New(env.store, sender, reminder.Config{})
	e := env.insert(t, "u1", "todos", map[string]any{
		"task": "call mom", "priority": "high", "status": "pending", "tags": []string{},
		"reminder_time": time.Now().Add(-time.Minute).Format(time.RFC3339), "reminded": false,
	})

	sweep := func() {
		t.Helper()
		if _, err := sched.Sweep(context.Background()); err != nil {
			t.Fatalf("Sweep: %v", err)
		}
	}
	sweep()
	sweep()
	if sender.n != 1 {
		t.Fatalf("deliveries = %d, want 1", sender.n)
	}

	if rr := env.do(t, http.MethodPatch, "/entries/"+e.ID+"?user_id=u1", `{"reminded":false}`); rr.Code != http.StatusBadRequest {
		t.Errorf("reset reminded: status = %d, want 400", rr.Code)
	}
	later := time.Now().Add(-time.Second).Format(time.RFC3339)
	if rr := env.do(t, http.MethodPatch, "/entries/"+e.ID+"?user_id=u1", `{"reminder_time":"`+later+`"}`); rr.Code != http.StatusOK {
		t.Errorf("move reminder time: status = %d, body = %s", rr.Code, rr.Body)
	}

	sweep()
	if sender.n != 1 {
		t.Errorf("deliveries after patches = %d, want 1", sender.n)
	}
	got, _ := env.store.GetEntry(context.Background(), e.ID)
	if got.Data["reminded"] != true {
		t.Errorf("reminded = %v, want true", got.Data["reminded"])
	}
}

func TestDeleteEntry(t *testing.T) {
	env := newTestEnv(t)
	e := env.insert(t, "u1", "habits", map[string]any{"habit": "pm"})

	if rr := env.do(t, http.MethodDelete, "/entries/"+e.ID+"?user_id=u2", ""); rr.Code != http.StatusNotFound {
		t.Errorf("other user: status = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/entries/"+e.ID+"?user_id=u1", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if _, err := env.store.GetEntry(context.Background(), e.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("entry still present: %v", err)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.insert(t, "u1", "finance", map[string]any{"amount": 10.0})
	env.insert(t, "u1", "finance", map[string]any{"amount": 20.0})

	rr := env.do(t, http.MethodGet, "/stats?user_id=u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	var resp struct {
		Stats pipeline.Stats `json:"stats"`
		Reply string         `json:"reply"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Stats.Total != 2 || resp.Stats.ThisMonth != 2 {
		t.Errorf("stats = %+v", resp.Stats)
	}
	if !strings.Contains(resp.Reply, "💰 Finance: 2 entries") {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestSweep(t *testing.T) {
	env := newTestEnv(t)
	env.sweeper.res = reminder.SweepResult{Due: 2, Delivered: 1, Failed: 1}

	rr := env.do(t, http.MethodPost, "/reminders/sweep", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var res reminder.SweepResult
	json.NewDecoder(rr.Body).Decode(&res)
	if res != env.sweeper.res || env.sweeper.calls != 1 {
		t.Errorf("res = %+v, calls = %d", res, env.sweeper.calls)
	}

	env.sweeper.err = errors.New("db down")
	if rr := env.do(t, http.MethodPost, "/reminders/sweep", ""); rr.Code != http.StatusInternalServerError {
		t.Errorf("failing sweep: status = %d, want 500", rr.Code)
	}
}

func TestSweep_Disabled(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	h := NewHandler(Deps{Pipeline: pipeline.NewHandler(nil, store, pipeline.Settings{}), Entries: store, Token: testToken})

	req := httptest.NewRequest(http.MethodPost, "/reminders/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}
