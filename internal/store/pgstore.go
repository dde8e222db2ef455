package store

import (
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
)

// PGStore is the Postgres-backed KV. One row per key, upserted in place.
type PGStore struct {
	db    *sql.DB
	table string
}

// tableNameRe matches valid PostgreSQL identifiers (prevents SQL injection
// through the configurable table name, which cannot be parameterized).
var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("table name exceeds PostgreSQL's 63 character limit")
	}
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// NewPGStore opens the database and ensures the state table exists.
func NewPGStore(dsn string) (*PGStore, error) {
	table := os.Getenv("STORE_TABLE")
	if table == "" {
		table = "consentry_state"
	}
	return newPGStore(dsn, table)
}

func newPGStore(dsn, table string) (*PGStore, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	s := &PGStore{db: db, table: table}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) ensureSchema() error {
	_, err := s.db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table))
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PGStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table), key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *PGStore) Set(key string, value []byte) error {
	_, err := s.db.Exec(
		fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, s.table),
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *PGStore) Delete(key string) error {
	_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table), key)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *PGStore) Scan(prefix string) (map[string][]byte, error) {
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT key, value FROM %s WHERE key LIKE $1`, s.table),
		likePattern(prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

// likePattern escapes LIKE metacharacters so prefixes are matched literally.
func likePattern(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
