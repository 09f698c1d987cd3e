package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps entries in a remote Postgres table with a jsonb data
// column, laid out like a Supabase dashboard_entries table.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string // sanitized identifier
}

// OpenPostgres connects to dsn and makes sure table exists.
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	if table == "" {
		table = DefaultTable
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	if err := s.ensureSchema(ctx, table); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context, table string) error {
	index := pgx.Identifier{"idx_" + table + "_user_category_created"}.Sanitize()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			category    TEXT NOT NULL,
			data        JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + s.table + ` (user_id, category, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return pgError("ensuring schema", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	e = prepare(e)
	data, err := json.Marshal(e.Data)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding entry data: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (id, user_id, category, data, created_at) VALUES ($1, $2, $3, $4::jsonb, $5)`,
		e.ID, e.UserID, e.Category, string(data), e.CreatedAt)
	if err != nil {
		return Entry{}, pgError("inserting entry", err)
	}
	return e, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, id string) (Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, category, data, created_at FROM `+s.table+` WHERE id = $1`, id)
	e, err := scanPgEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, pgError("getting entry", err)
	}
	return e, nil
}

func (s *PostgresStore) QueryEntries(ctx context.Context, q EntryQuery) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.UserID != "" {
		where = append(where, "user_id = "+arg(q.UserID))
	}
	if q.Category != "" {
		where = append(where, "category = "+arg(q.Category))
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= "+arg(q.Since))
	}

	query := `SELECT id, user_id, category, data, created_at FROM ` + s.table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgError("querying entries", err)
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, pgError("scanning entry", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("querying entries", err)
	}
	return results, nil
}

func (s *PostgresStore) PatchEntry(ctx context.Context, id string, fields map[string]any) error {
	set, del := splitPatch(fields)
	patch, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}
	if del == nil {
		del = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table+` SET data = (data - $2::text[]) || $3::jsonb WHERE id = $1`,
		id, del, string(patch))
	if err != nil {
		return pgError("patching entry", err)
	}
	return expectOneTag(tag)
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return pgError("deleting entry", err)
	}
	return expectOneTag(tag)
}

func (s *PostgresStore) CountByCategory(ctx context.Context, userID string, since time.Time) ([]CategoryCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category, COUNT(*) FROM `+s.table+`
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY category ORDER BY category`, userID, since)
	if err != nil {
		return nil, pgError("counting entries", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CategoryCount, error) {
		var c CategoryCount
		err := row.Scan(&c.Category, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, pgError("counting entries", err)
	}
	return counts, nil
}

func (s *PostgresStore) ClaimReminder(ctx context.Context, id, token string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET data = data || jsonb_build_object('reminder_claim', $2::text, 'reminder_claimed_at', $3::text)
		WHERE id = $1
		  AND COALESCE((data->>'reminded')::boolean, false) = false
		  AND COALESCE(data->>'reminder_claim', '') = ''`,
		id, token, at.UTC().Format(time.RFC3339))
	if err != nil {
		return false, pgError("claiming reminder", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkReminded(ctx context.Context, id, token string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET data = ((data - 'reminder_claim') - 'reminder_claimed_at') || '{"reminded": true}'::jsonb
		WHERE id = $1 AND data->>'reminder_claim' = $2`, id, token)
	if err != nil {
		return pgError("marking reminder", err)
	}
	return expectOneTag(tag)
}

func (s *PostgresStore) ReleaseReminder(ctx context.Context, id, token string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET data = (data - 'reminder_claim') - 'reminder_claimed_at'
		WHERE id = $1 AND data->>'reminder_claim' = $2`, id, token)
	if err != nil {
		return pgError("releasing reminder", err)
	}
	return expectOneTag(tag)
}

func scanPgEntry(row pgx.Row) (Entry, error) {
	var (
		e    Entry
		data []byte
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Category, &data, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal(data, &e.Data); err != nil {
		return Entry{}, fmt.Errorf("decoding data for entry %s: %w", e.ID, err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func expectOneTag(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// pgError adds the SQLSTATE code to server-side errors.
func pgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %s (sqlstate %s): %w", op, pgErr.Message, pgErr.Code, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
