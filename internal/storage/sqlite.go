package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store keeps entries in a local SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "dashbot.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: the scheduler and request handlers share the file.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that are not yet recorded in
// schema_version, in ascending version order.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(f.Name())
		if err != nil {
			return err
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + f.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", f.Name(), err)
		}
		if err := s.applyMigration(version, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(version int, content string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(content); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Entries ---

// InsertEntry stores e, assigning an id and creation time when unset, and
// returns the stored entry.
func (s *Store) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	e = prepare(e)
	data, err := json.Marshal(e.Data)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding entry data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dashboard_entries (id, user_id, category, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Category, string(data), e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("inserting entry: %w", err)
	}
	return e, nil
}

// GetEntry returns the entry with the given id.
func (s *Store) GetEntry(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, category, data, created_at
		FROM dashboard_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// QueryEntries returns entries matching q, most recent first.
func (s *Store) QueryEntries(ctx context.Context, q EntryQuery) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, q.Category)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UTC().Format(timeLayout))
	}

	query := "SELECT id, user_id, category, data, created_at FROM dashboard_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// PatchEntry merges fields into the entry's data. A nil value removes the key.
func (s *Store) PatchEntry(ctx context.Context, id string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE dashboard_entries SET data = json_patch(data, ?) WHERE id = ?`, string(patch), id)
	if err != nil {
		return fmt.Errorf("patching entry %s: %w", id, err)
	}
	return expectOne(res)
}

// DeleteEntry removes the entry only if it belongs to userID.
func (s *Store) DeleteEntry(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dashboard_entries WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}
	return expectOne(res)
}

// CountByCategory counts a user's entries per category created at or after
// since. A zero since counts everything.
func (s *Store) CountByCategory(ctx context.Context, userID string, since time.Time) ([]CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM dashboard_entries
		WHERE user_id = ? AND created_at >= ?
		GROUP BY category ORDER BY category`,
		userID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	defer rows.Close()

	var counts []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// --- Reminder claims ---

// ClaimReminder records token as the in-flight delivery claim on a todo,
// provided it is neither reminded nor already claimed. It reports whether
// this caller won the claim.
func (s *Store) ClaimReminder(ctx context.Context, id, token string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dashboard_entries
		SET data = json_set(data, '$.reminder_claim', ?, '$.reminder_claimed_at', ?)
		WHERE id = ?
		  AND COALESCE(json_extract(data, '$.reminded'), 0) = 0
		  AND COALESCE(json_extract(data, '$.reminder_claim'), '') = ''`,
		token, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("claiming reminder %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkReminded sets reminded=true and drops the claim, if token still holds it.
func (s *Store) MarkReminded(ctx context.Context, id, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dashboard_entries
		SET data = json_remove(json_set(data, '$.reminded', json('true')), '$.reminder_claim', '$.reminder_claimed_at')
		WHERE id = ? AND json_extract(data, '$.reminder_claim') = ?`, id, token)
	if err != nil {
		return fmt.Errorf("marking reminder %s: %w", id, err)
	}
	return expectOne(res)
}

// ReleaseReminder drops the claim held by token so a later sweep can retry.
func (s *Store) ReleaseReminder(ctx context.Context, id, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dashboard_entries
		SET data = json_remove(data, '$.reminder_claim', '$.reminder_claimed_at')
		WHERE id = ? AND json_extract(data, '$.reminder_claim') = ?`, id, token)
	if err != nil {
		return fmt.Errorf("releasing reminder %s: %w", id, err)
	}
	return expectOne(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e         Entry
		data      string
		createdAt string
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Category, &data, &createdAt); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
		return Entry{}, fmt.Errorf("decoding data for entry %s: %w", e.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing created_at for entry %s: %w", e.ID, err)
	}
	e.CreatedAt = t
	return e, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
