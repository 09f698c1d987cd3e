package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsert(t *testing.T, s *Store, e Entry) Entry {
	t.Helper()
	got, err := s.InsertEntry(context.Background(), e)
	if err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	return got
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_entries_user_category_created", "idx_entries_category_created"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestInsertAndGetEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := Entry{
		UserID:   "u1",
		Category: "finance",
		Data: map[string]any{
			"amount":      47.0,
			"description": "dinner",
			"subcategory": "dining_out",
			"date":        "2026-10-18",
		},
	}
	stored := mustInsert(t, s, in)
	if stored.ID == "" {
		t.Fatal("InsertEntry did not assign an id")
	}
	if stored.CreatedAt.IsZero() {
		t.Fatal("InsertEntry did not assign created_at")
	}

	got, err := s.GetEntry(ctx, stored.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.UserID != "u1" || got.Category != "finance" {
		t.Errorf("got %+v", got)
	}
	if got.Data["amount"] != 47.0 || got.Data["description"] != "dinner" || got.Data["date"] != "2026-10-18" {
		t.Errorf("Data = %v", got.Data)
	}
	if !got.CreatedAt.Equal(stored.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, stored.CreatedAt)
	}
}

func TestGetEntryNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetEntry(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestQueryEntries_FiltersAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	mustInsert(t, s, Entry{ID: "old", UserID: "u1", Category: "finance", CreatedAt: base})
	mustInsert(t, s, Entry{ID: "new", UserID: "u1", Category: "finance", CreatedAt: base.Add(time.Millisecond)})
	mustInsert(t, s, Entry{ID: "other-cat", UserID: "u1", Category: "sleep", CreatedAt: base.Add(time.Hour)})
	mustInsert(t, s, Entry{ID: "other-user", UserID: "u2", Category: "finance", CreatedAt: base.Add(time.Hour)})

	got, err := s.QueryEntries(ctx, EntryQuery{UserID: "u1", Category: "finance"})
	if err != nil {
		t.Fatalf("QueryEntries: %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "old" {
		t.Fatalf("got %v, want [new old]", ids(got))
	}

	got, err = s.QueryEntries(ctx, EntryQuery{UserID: "u1", Category: "finance", Limit: 1})
	if err != nil {
		t.Fatalf("QueryEntries: %v", err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("limit 1 got %v", ids(got))
	}

	got, err = s.QueryEntries(ctx, EntryQuery{Category: "finance"})
	if err != nil {
		t.Fatalf("QueryEntries: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("all users got %v", ids(got))
	}

	got, err = s.QueryEntries(ctx, EntryQuery{UserID: "u1", Since: base.Add(time.Minute)})
	if err != nil {
		t.Fatalf("QueryEntries: %v", err)
	}
	if len(got) != 1 || got[0].ID != "other-cat" {
		t.Errorf("since got %v", ids(got))
	}
}

func TestPatchEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := mustInsert(t, s, Entry{UserID: "u1", Category: "todos", Data: map[string]any{
		"task": "call mom", "status": "pending", "notes": "evening",
	}})

	if err := s.PatchEntry(ctx, e.ID, map[string]any{"status": "done", "notes": nil}); err != nil {
		t.Fatalf("PatchEntry: %v", err)
	}
	got, err := s.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Data["status"] != "done" || got.Data["task"] != "call mom" {
		t.Errorf("Data = %v", got.Data)
	}
	if _, ok := got.Data["notes"]; ok {
		t.Errorf("notes not removed: %v", got.Data)
	}

	if err := s.PatchEntry(ctx, "missing", map[string]any{"x": 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("patch missing = %v, want ErrNotFound", err)
	}
}

func TestDeleteEntry_OwnerOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := mustInsert(t, s, Entry{UserID: "u1", Category: "dating", Data: map[string]any{"person": "Sarah"}})

	if err := s.DeleteEntry(ctx, e.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete by other user = %v, want ErrNotFound", err)
	}
	if err := s.DeleteEntry(ctx, e.ID, "u1"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if _, err := s.GetEntry(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("entry still present: %v", err)
	}
}

func TestCountByCategory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	monthStart := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	mustInsert(t, s, Entry{UserID: "u1", Category: "finance", CreatedAt: monthStart.Add(-time.Hour)})
	mustInsert(t, s, Entry{UserID: "u1", Category: "finance", CreatedAt: monthStart.Add(time.Hour)})
	mustInsert(t, s, Entry{UserID: "u1", Category: "sleep", CreatedAt: monthStart.Add(2 * time.Hour)})
	mustInsert(t, s, Entry{UserID: "u2", Category: "sleep", CreatedAt: monthStart.Add(2 * time.Hour)})

	all, err := s.CountByCategory(ctx, "u1", time.Time{})
	if err != nil {
		t.Fatalf("CountByCategory: %v", err)
	}
	want := []CategoryCount{{"finance", 2}, {"sleep", 1}}
	if len(all) != 2 || all[0] != want[0] || all[1] != want[1] {
		t.Errorf("all = %v, want %v", all, want)
	}

	month, err := s.CountByCategory(ctx, "u1", monthStart)
	if err != nil {
		t.Fatalf("CountByCategory: %v", err)
	}
	if len(month) != 2 || month[0].Count != 1 || month[1].Count != 1 {
		t.Errorf("month = %v", month)
	}
}

func TestClaimReminder_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	e := mustInsert(t, s, Entry{UserID: "u1", Category: "todos", Data: map[string]any{
		"task": "stretch", "status": "pending", "reminder_time": "2026-10-18T08:00:00Z", "reminded": false,
	}})

	won, err := s.ClaimReminder(ctx, e.ID, "tok-a", now)
	if err != nil || !won {
		t.Fatalf("first claim = %v, %v; want true", won, err)
	}
	won, err = s.ClaimReminder(ctx, e.ID, "tok-b", now)
	if err != nil || won {
		t.Fatalf("second claim = %v, %v; want false", won, err)
	}

	got, _ := s.GetEntry(ctx, e.ID)
	if got.Data["reminder_claim"] != "tok-a" || got.Data["reminder_claimed_at"] != "2026-10-18T09:00:00Z" {
		t.Errorf("claim fields = %v", got.Data)
	}

	if err := s.MarkReminded(ctx, e.ID, "tok-b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkReminded with wrong token = %v, want ErrNotFound", err)
	}
	if err := s.MarkReminded(ctx, e.ID, "tok-a"); err != nil {
		t.Fatalf("MarkReminded: %v", err)
	}

	got, _ = s.GetEntry(ctx, e.ID)
	if got.Data["reminded"] != true {
		t.Errorf("reminded = %v, want true", got.Data["reminded"])
	}
	if _, ok := got.Data["reminder_claim"]; ok {
		t.Errorf("claim not cleared: %v", got.Data)
	}

	won, err = s.ClaimReminder(ctx, e.ID, "tok-c", now)
	if err != nil || won {
		t.Errorf("claim after reminded = %v, %v; want false", won, err)
	}
}

func TestPatchEntry_KeepsReminderState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	e := mustInsert(t, s, Entry{UserID: "u1", Category: "todos", Data: map[string]any{
		"task": "stretch", "priority": "low", "status": "pending",
		"reminder_time": "2026-10-18T08:00:00Z", "reminded": false,
	}})

	if won, err := s.ClaimReminder(ctx, e.ID, "tok-a", now); err != nil || !won {
		t.Fatalf("claim = %v, %v", won, err)
	}
	if err := s.PatchEntry(ctx, e.ID, map[string]any{"priority": "high"}); err != nil {
		t.Fatalf("PatchEntry during claim: %v", err)
	}
	got, _ := s.GetEntry(ctx, e.ID)
	if got.Data["reminder_claim"] != "tok-a" {
		t.Errorf("claim lost by unrelated patch: %v", got.Data)
	}

	if err := s.MarkReminded(ctx, e.ID, "tok-a"); err != nil {
		t.Fatalf("MarkReminded: %v", err)
	}
	if err := s.PatchEntry(ctx, e.ID, map[string]any{"task": "stretch twice", "reminder_time": "2026-10-18T08:30:00Z"}); err != nil {
		t.Fatalf("PatchEntry after delivery: %v", err)
	}
	got, _ = s.GetEntry(ctx, e.ID)
	if got.Data["reminded"] != true || got.Data["priority"] != "high" || got.Data["task"] != "stretch twice" {
		t.Errorf("Data = %v", got.Data)
	}
	if won, err := s.ClaimReminder(ctx, e.ID, "tok-b", now); err != nil || won {
		t.Errorf("claim after delivered entry was patched = %v, %v; want false", won, err)
	}
}

func TestReleaseReminder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	e := mustInsert(t, s, Entry{UserID: "u1", Category: "todos", Data: map[string]any{
		"task": "stretch", "reminder_time": "2026-10-18T08:00:00Z", "reminded": false,
	}})

	if won, err := s.ClaimReminder(ctx, e.ID, "tok-a", now); err != nil || !won {
		t.Fatalf("claim = %v, %v", won, err)
	}
	if err := s.ReleaseReminder(ctx, e.ID, "tok-a"); err != nil {
		t.Fatalf("ReleaseReminder: %v", err)
	}

	got, _ := s.GetEntry(ctx, e.ID)
	if got.Data["reminded"] != false {
		t.Errorf("reminded = %v, want false", got.Data["reminded"])
	}
	if won, err := s.ClaimReminder(ctx, e.ID, "tok-b", now); err != nil || !won {
		t.Errorf("re-claim after release = %v, %v; want true", won, err)
	}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
