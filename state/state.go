// Package state persists per-branch crawl statistics between runs.
//
// The whole state lives in one JSON document that is read once at
// startup and rewritten after every cycle. There is a single writer by
// design, so read-modify-write with last-writer-wins is sufficient.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/firmendata/wko-crawler/models"
)

// Meta carries document bookkeeping timestamps.
type Meta struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Document is the on-disk crawl state shape, keyed by branch name.
type Document struct {
	Meta     Meta                           `json:"meta"`
	Branches map[string]*models.BranchState `json:"branches"`
}

// Branch returns the state entry for a branch, creating it on demand.
func (d *Document) Branch(name string) *models.BranchState {
	if d.Branches == nil {
		d.Branches = make(map[string]*models.BranchState)
	}
	st, ok := d.Branches[name]
	if !ok {
		st = &models.BranchState{}
		d.Branches[name] = st
	}
	return st
}

// Store loads and saves the crawl state document.
type Store struct {
	path string
}

// NewStore returns a store bound to the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the state document. A missing file yields a fresh empty
// document, which is the normal first-run case.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Document{
			Meta:     Meta{CreatedAt: time.Now().UTC()},
			Branches: make(map[string]*models.BranchState),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", s.path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", s.path, err)
	}
	if doc.Branches == nil {
		doc.Branches = make(map[string]*models.BranchState)
	}
	return &doc, nil
}

// Save writes the whole document back, stamping updated_at.
func (s *Store) Save(doc *Document) error {
	doc.Meta.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write state %s: %w", s.path, err)
	}
	return nil
}
