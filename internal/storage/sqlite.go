package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_url TEXT NOT NULL,
		total INTEGER NOT NULL,
		success INTEGER NOT NULL,
		failure INTEGER NOT NULL,
		mean_latency_ms INTEGER NOT NULL,
		completed_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS verified_proxies (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		position INTEGER NOT NULL,
		address TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Save(result *Result) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO runs (target_url, total, success, failure, mean_latency_ms, completed_at) VALUES (?, ?, ?, ?, ?, ?)",
		result.TargetURL, result.Total, result.Success, result.Failure, result.MeanLatencyMs, result.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO verified_proxies (run_id, position, address) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, addr := range result.Verified {
		if _, err := stmt.Exec(runID, i, addr); err != nil {
			return fmt.Errorf("insert proxy: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
