// Package dedupe guarantees at-most-once ingestion of extracted
// records across process restarts.
//
// The durable index is a badgerhold store keyed by the normalized
// dedupe key, so the insert itself is the existence check: a second
// insert of the same key fails with ErrKeyExists no matter which
// process run performed the first one. An LRU cache in front skips the
// store round-trip for keys already answered this session.
package dedupe

import (
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/timshannon/badgerhold/v4"

	"github.com/firmendata/wko-crawler/models"
	"github.com/firmendata/wko-crawler/parser"
)

// Entry is the denormalized diagnostic row stored per dedupe key. The
// full record goes to the sink, not here.
type Entry struct {
	FirstSeenAt time.Time `json:"first_seen_at"`
	Branch      string    `json:"branche,omitempty"`
	Name        string    `json:"name,omitempty"`
	Street      string    `json:"street,omitempty"`
	ZipCity     string    `json:"zip_city,omitempty"`
	DetailURL   string    `json:"wko_detail_url,omitempty"`
}

// Store is the durable dedupe index.
type Store struct {
	db    *badgerhold.Store
	cache *lru.Cache[string, struct{}]
}

// Key derives the deterministic dedupe key from normalized name and
// address. Records from different branches that describe the same
// company collapse to the same key.
func Key(r *models.Record) string {
	addr := parser.CleanText(r.Street + " " + r.ZipCity)
	return parser.KeyText(r.Name) + "|" + parser.KeyText(addr)
}

// Open opens (or creates) the store under dir.
func Open(dir string, cacheSize int) (*Store, error) {
	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open dedupe store %s: %w", dir, err)
	}

	cache, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	return &Store{db: db, cache: cache}, nil
}

// AddIfNew atomically records the key for r if unseen. It returns true
// when the record is novel and false when the key already existed.
func (s *Store) AddIfNew(r *models.Record) (bool, error) {
	key := Key(r)
	if _, ok := s.cache.Get(key); ok {
		return false, nil
	}

	entry := Entry{
		FirstSeenAt: time.Now().UTC(),
		Branch:      r.Branch,
		Name:        r.Name,
		Street:      r.Street,
		ZipCity:     r.ZipCity,
		DetailURL:   r.DetailURL,
	}
	if err := s.db.Insert(key, &entry); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			s.cache.Add(key, struct{}{})
			return false, nil
		}
		return false, fmt.Errorf("insert dedupe key: %w", err)
	}

	s.cache.Add(key, struct{}{})
	return true, nil
}

// Close releases the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}
