package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultTable is the progress table name.
	DefaultTable = "user_progress"
	dbTimeout    = 5 * time.Second
)

// QueryShape describes one way of reading the latest score from the
// progress table. Rows written before the timestamp column existed only
// carry created_at.
type QueryShape struct {
	Name        string
	OrderColumn string
}

var (
	// PercentShape orders by the explicit attempt timestamp.
	PercentShape = QueryShape{Name: "percent", OrderColumn: "timestamp"}
	// LegacyShape orders by the row creation time.
	LegacyShape = QueryShape{Name: "legacy", OrderColumn: "created_at"}
)

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string
	latest LatestReader
}

// NewPostgresStore creates a PostgreSQL-backed progress store over table.
// Latest tries PercentShape first and LegacyShape second.
func NewPostgresStore(pool *pgxpool.Pool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	if table == "" {
		table = DefaultTable
	}

	s := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
	}
	s.latest = NewFallbackReader(
		Named(PercentShape.Name, s.Reader(PercentShape)),
		Named(LegacyShape.Name, s.Reader(LegacyShape)),
	)
	return s, nil
}

// SchemaStatements returns idempotent DDL for the progress and events tables.
func SchemaStatements(table string) []string {
	if table == "" {
		table = DefaultTable
	}
	t := pgx.Identifier{table}.Sanitize()
	idx := pgx.Identifier{table + "_user_lesson_idx"}.Sanitize()
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
		   id                  uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		   user_id             text NOT NULL,
		   lesson_id           text NOT NULL,
		   completed           boolean NOT NULL DEFAULT false,
		   score               integer,
		   material_downloaded boolean NOT NULL DEFAULT false,
		   "timestamp"         timestamptz,
		   created_at          timestamptz NOT NULL DEFAULT NOW()
		 )`,
		`CREATE INDEX IF NOT EXISTS ` + idx + ` ON ` + t + ` (user_id, lesson_id, "timestamp" DESC)`,
		`CREATE TABLE IF NOT EXISTS lesson_events (
		   id         bigserial PRIMARY KEY,
		   user_id    text,
		   lesson_id  text NOT NULL,
		   event_type text NOT NULL,
		   data       jsonb NOT NULL DEFAULT '{}'::jsonb,
		   created_at timestamptz NOT NULL DEFAULT NOW()
		 )`,
	}
}

func (s *PostgresStore) Latest(ctx context.Context, userID, lessonID string) (Attempt, bool, error) {
	return s.latest.Latest(ctx, userID, lessonID)
}

// Reader returns a LatestReader that only uses the given query shape.
func (s *PostgresStore) Reader(shape QueryShape) LatestReader {
	return &shapeReader{store: s, shape: shape}
}

type shapeReader struct {
	store *PostgresStore
	shape QueryShape
}

func (r *shapeReader) Latest(ctx context.Context, userID, lessonID string) (Attempt, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	col := pgx.Identifier{r.shape.OrderColumn}.Sanitize()
	query := `SELECT id::text, score, completed, material_downloaded, ` + col + `
		 FROM ` + r.store.table + `
		 WHERE user_id = $1
		   AND lesson_id = $2
		   AND ` + col + ` IS NOT NULL
		 ORDER BY ` + col + ` DESC
		 LIMIT 1`

	a := Attempt{UserID: userID, LessonID: lessonID}
	var score *int
	var completed, downloaded *bool
	err := r.store.pool.QueryRow(ctx, query, userID, lessonID).Scan(
		&a.ID,
		&score,
		&completed,
		&downloaded,
		&a.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, false, nil
		}
		return Attempt{}, false, fmt.Errorf("latest attempt (%s): %w", r.shape.Name, err)
	}

	if score == nil {
		return Attempt{}, false, nil
	}
	a.Score = *score
	if completed != nil {
		a.Completed = *completed
	}
	if downloaded != nil {
		a.MaterialDownloaded = *downloaded
	}
	return a, true, nil
}

func (s *PostgresStore) Append(ctx context.Context, a Attempt) (Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if a.UserID == "" {
		return Attempt{}, fmt.Errorf("user_id is required")
	}
	if a.LessonID == "" {
		return Attempt{}, fmt.Errorf("lesson_id is required")
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table+` (user_id, lesson_id, completed, score, material_downloaded, "timestamp")
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id::text`,
		a.UserID,
		a.LessonID,
		a.Completed,
		a.Score,
		a.MaterialDownloaded,
		a.Timestamp,
	).Scan(&a.ID)
	if err != nil {
		return Attempt{}, fmt.Errorf("insert attempt: %w", err)
	}

	return a, nil
}

func (s *PostgresStore) History(ctx context.Context, userID, lessonID string, limit int) ([]Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	query := `SELECT id::text, COALESCE(score, 0), completed, material_downloaded,
		        COALESCE("timestamp", created_at)
		 FROM ` + s.table + `
		 WHERE user_id = $1
		   AND lesson_id = $2
		 ORDER BY COALESCE("timestamp", created_at) DESC`
	args := []any{userID, lessonID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a := Attempt{UserID: userID, LessonID: lessonID}
		if err := rows.Scan(
			&a.ID,
			&a.Score,
			&a.Completed,
			&a.MaterialDownloaded,
			&a.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return out, nil
}
