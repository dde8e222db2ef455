// Package tracker matches request URLs against a database of known trackers.
package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/shortontech/consentry/internal/assets"
)

// Entry is one known tracker: substring patterns plus classification.
type Entry struct {
	Name     string   `json:"-"`
	Domains  []string `json:"domains"`
	Category string   `json:"category"`
	Severity string   `json:"severity"`
}

// Match is the classification result for a URL.
type Match struct {
	Name     string
	Category string
	Severity string
}

// Database holds tracker entries in declaration order. Order matters: the
// first entry whose pattern occurs in the URL wins.
type Database struct {
	entries []Entry
}

// Parse decodes a tracker database from JSON, preserving key order so that
// classification stays deterministic across runs.
func Parse(data []byte) (*Database, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("tracker db: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("tracker db: expected object, got %v", tok)
	}

	db := &Database{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("tracker db: %w", err)
		}
		name, _ := keyTok.(string)
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("tracker db entry %q: %w", name, err)
		}
		e.Name = name
		db.entries = append(db.entries, e)
	}
	return db, nil
}

var (
	defaultOnce sync.Once
	defaultDB   *Database
)

// Default returns the embedded tracker database.
func Default() *Database {
	defaultOnce.Do(func() {
		db, err := Parse(assets.TrackerDB)
		if err != nil {
			// The embedded database is validated by tests; a decode failure
			// here is a build defect.
			panic(fmt.Sprintf("embedded tracker db: %v", err))
		}
		defaultDB = db
	})
	return defaultDB
}

// Len reports the number of entries.
func (db *Database) Len() int { return len(db.entries) }

// Classify returns the first tracker with a pattern occurring as a
// case-insensitive substring of the URL, or nil when nothing matches.
// Substring matching (not host equality) is intentional: it covers
// path-qualified endpoints like facebook.com/tr at the cost of occasional
// over-matching.
func (db *Database) Classify(rawURL string) *Match {
	u := strings.ToLower(rawURL)
	for i := range db.entries {
		e := &db.entries[i]
		for _, d := range e.Domains {
			if strings.Contains(u, strings.ToLower(d)) {
				return &Match{Name: e.Name, Category: e.Category, Severity: e.Severity}
			}
		}
	}
	return nil
}
