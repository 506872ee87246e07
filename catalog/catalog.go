// Package catalog loads the branch catalog document produced out of
// band by the category discovery step.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/firmendata/wko-crawler/models"
)

// Meta describes how and when the catalog was generated.
type Meta struct {
	GeneratedAt    time.Time `json:"generated_at"`
	Source         string    `json:"source,omitempty"`
	Count          int       `json:"count"`
	LettersCrawled int       `json:"letters_crawled,omitempty"`
	FailedLetters  []string  `json:"failed_letters,omitempty"`
}

// Document is the on-disk catalog shape.
type Document struct {
	Meta     Meta            `json:"meta"`
	Branches []models.Branch `json:"branches"`
}

// Load reads and decodes the catalog file. A missing or unreadable
// catalog is the one unrecoverable startup failure of the crawler.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return &doc, nil
}
