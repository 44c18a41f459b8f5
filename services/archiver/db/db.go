package db

import (
	"context"
	"database/sql"
	"time"

	_ "embed"

	"nriva-archiver/lib/fetch"
)

//go:embed schema.sql
var Schema string

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

func (s Store) InsertOutcome(ctx context.Context, e fetch.Entry) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO outcomes (kind, target, class, error, attempts, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.Id, e.Class.String(), e.Err, e.Attempts,
		e.Elapsed.Milliseconds(), e.Time.Unix(),
	)
	return err
}

type KindSummary struct {
	Kind      string
	Success   int
	Fatal     int
	AvgMs     int64
	TotalOps  int
	TotalTime time.Duration
}

func (s Store) SummarizeByKind(ctx context.Context) ([]KindSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind,
		       SUM(CASE WHEN class = 'success' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN class = 'fatal' THEN 1 ELSE 0 END),
		       CAST(AVG(elapsed_ms) AS INTEGER),
		       COUNT(*),
		       SUM(elapsed_ms)
		FROM outcomes
		GROUP BY kind
		ORDER BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KindSummary
	for rows.Next() {
		var k KindSummary
		var totalMs int64
		if err := rows.Scan(&k.Kind, &k.Success, &k.Fatal, &k.AvgMs, &k.TotalOps, &totalMs); err != nil {
			return nil, err
		}
		k.TotalTime = time.Duration(totalMs) * time.Millisecond
		out = append(out, k)
	}
	return out, rows.Err()
}

type Failure struct {
	Kind     string
	Target   string
	Error    string
	Attempts int
	Time     time.Time
}

func (s Store) ListFailures(ctx context.Context, limit int) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, target, error, attempts, created_at
		FROM outcomes
		WHERE class = 'fatal'
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var createdAt int64
		if err := rows.Scan(&f.Kind, &f.Target, &f.Error, &f.Attempts, &createdAt); err != nil {
			return nil, err
		}
		f.Time = time.Unix(createdAt, 0)
		out = append(out, f)
	}
	return out, rows.Err()
}
