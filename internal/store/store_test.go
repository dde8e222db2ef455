package store

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// TestValidateTableName tests SQL injection prevention
func TestValidateTableName(t *testing.T) {
	tests := []struct {
		name      string
		tableName string
		wantError bool
	}{
		{
			name:      "valid simple name",
			tableName: "consentry_state",
			wantError: false,
		},
		{
			name:      "valid with numbers",
			tableName: "state_2024",
			wantError: false,
		},
		{
			name:      "empty string",
			tableName: "",
			wantError: true,
		},
		{
			name:      "SQL injection attempt with semicolon",
			tableName: "state; DROP TABLE users;--",
			wantError: true,
		},
		{
			name:      "contains spaces",
			tableName: "my state",
			wantError: true,
		},
		{
			name:      "starts with number",
			tableName: "2024_state",
			wantError: true,
		},
		{
			name:      "too long (>63 chars)",
			tableName: "this_is_a_very_long_table_name_that_exceeds_the_postgresql_limit_of_63_characters",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTableName(tt.tableName)
			if (err != nil) != tt.wantError {
				t.Errorf("validateTableName(%q) error = %v, wantError = %v", tt.tableName, err, tt.wantError)
			}
		})
	}
}

func TestMemStore(t *testing.T) {
	m := NewMemStore()

	t.Run("get missing key", func(t *testing.T) {
		_, ok, err := m.Get("nope")
		if err != nil || ok {
			t.Errorf("Get(missing) = ok=%v err=%v", ok, err)
		}
	})

	t.Run("set and get", func(t *testing.T) {
		if err := m.Set("settings", []byte(`{"a":1}`)); err != nil {
			t.Fatal(err)
		}
		v, ok, err := m.Get("settings")
		if err != nil || !ok || string(v) != `{"a":1}` {
			t.Errorf("Get = %q ok=%v err=%v", v, ok, err)
		}
	})

	t.Run("scan by prefix", func(t *testing.T) {
		_ = m.Set("page:1", []byte("a"))
		_ = m.Set("page:2", []byte("b"))
		_ = m.Set("other", []byte("c"))
		got, err := m.Scan("page:")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("Scan returned %d keys, want 2", len(got))
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		if err := m.Delete("page:1"); err != nil {
			t.Fatal(err)
		}
		if err := m.Delete("page:1"); err != nil {
			t.Errorf("second delete: %v", err)
		}
	})

	t.Run("closed store errors", func(t *testing.T) {
		_ = m.Close()
		if err := m.Set("x", nil); err != ErrClosed {
			t.Errorf("Set after close = %v, want ErrClosed", err)
		}
	})
}

func TestMemStoreCopiesValues(t *testing.T) {
	m := NewMemStore()
	buf := []byte("original")
	_ = m.Set("k", buf)
	buf[0] = 'X'

	v, _, _ := m.Get("k")
	if string(v) != "original" {
		t.Errorf("stored value aliased caller buffer: %q", v)
	}
}

func TestPGStoreSetUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := &PGStore{db: db, table: "consentry_state"}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO consentry_state`)).
		WithArgs("settings", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Set("settings", []byte(`{}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := &PGStore{db: db, table: "consentry_state"}

	t.Run("hit", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM consentry_state WHERE key = $1`)).
			WithArgs("page:7").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"contextId":7}`)))

		v, ok, err := s.Get("page:7")
		if err != nil || !ok {
			t.Fatalf("Get = ok=%v err=%v", ok, err)
		}
		if string(v) != `{"contextId":7}` {
			t.Errorf("value = %q", v)
		}
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM consentry_state WHERE key = $1`)).
			WithArgs("page:8").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		_, ok, err := s.Get("page:8")
		if err != nil || ok {
			t.Errorf("Get(miss) = ok=%v err=%v", ok, err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGStoreScan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := &PGStore{db: db, table: "consentry_state"}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT key, value FROM consentry_state WHERE key LIKE $1`)).
		WithArgs(`page:%`).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("page:1", []byte("a")).
			AddRow("page:2", []byte("b")))

	got, err := s.Scan("page:")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || string(got["page:1"]) != "a" {
		t.Errorf("Scan = %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "page:", want: `page:%`},
		{prefix: "a%b", want: `a\%b%`},
		{prefix: "a_b", want: `a\_b%`},
	}
	for _, tt := range tests {
		if got := likePattern(tt.prefix); got != tt.want {
			t.Errorf("likePattern(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}
