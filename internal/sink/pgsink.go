package sink

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/shortontech/consentry/internal/engine"
)

// PGSink archives violation records to a Postgres table, append-only. The
// per-page retention sweep never touches the archive; it exists precisely to
// outlive the ledger's window.
type PGSink struct {
	DSN   string
	Table string

	db   *sql.DB
	stmt *sql.Stmt
}

func NewPGSink(dsn string) *PGSink {
	return &PGSink{DSN: dsn, Table: "consentry_violations"}
}

func (s *PGSink) Start(ctx context.Context) error {
	db, err := sql.Open("postgres", s.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		context_id BIGINT NOT NULL,
		page_url TEXT NOT NULL,
		domain TEXT NOT NULL,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		tracker TEXT NOT NULL,
		details TEXT NOT NULL,
		observed_at BIGINT NOT NULL,
		inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, s.Table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("ensure archive table: %w", err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s
		(context_id, page_url, domain, kind, severity, tracker, details, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.Table)
	stmt, err := db.PrepareContext(ctx, insert)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("prepare insert: %w", err)
	}

	s.db = db
	s.stmt = stmt
	return nil
}

func (s *PGSink) Enqueue(r engine.Record) error {
	if s.stmt == nil {
		return fmt.Errorf("pg sink not started")
	}
	_, err := s.stmt.Exec(
		r.ContextID, r.PageURL, r.Domain,
		r.Violation.Type, r.Violation.Severity, r.Violation.Tracker,
		r.Violation.Details, r.Violation.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("archive violation: %w", err)
	}
	return nil
}

func (s *PGSink) Close() error {
	if s.stmt != nil {
		_ = s.stmt.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PGSink) Name() string { return "pg" }
