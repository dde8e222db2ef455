package sink

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGSinkEnqueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	insert := `INSERT INTO consentry_violations
		(context_id, page_url, domain, kind, severity, tracker, details, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	prep := mock.ExpectPrepare(regexp.QuoteMeta(insert))

	stmt, err := db.Prepare(insert)
	if err != nil {
		t.Fatal(err)
	}
	s := &PGSink{Table: "consentry_violations", db: db, stmt: stmt}

	r := sampleRecord()
	prep.ExpectExec().
		WithArgs(r.ContextID, r.PageURL, r.Domain,
			r.Violation.Type, r.Violation.Severity, r.Violation.Tracker,
			r.Violation.Details, r.Violation.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Enqueue(r); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGSinkEnqueueBeforeStart(t *testing.T) {
	s := NewPGSink("postgres://localhost/x")
	if err := s.Enqueue(sampleRecord()); err == nil {
		t.Fatal("enqueue before start should fail")
	}
}

func TestPGSinkCloseWithoutStart(t *testing.T) {
	s := NewPGSink("postgres://localhost/x")
	if err := s.Close(); err != nil {
		t.Fatalf("close without start: %v", err)
	}
}
