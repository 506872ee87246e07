package state

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsEmptyDocument(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "crawl_state.json"))

	doc, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Branches) != 0 {
		t.Fatalf("branches = %d, want 0", len(doc.Branches))
	}
	if doc.Meta.CreatedAt.IsZero() {
		t.Fatal("created_at should be stamped on first load")
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawl_state.json")
	store := NewStore(path)

	doc, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	crawled := time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)
	st := doc.Branch("Elektrotechnik")
	st.CrawlCount = 3
	st.LastRows = 42
	st.TotalRowsInserted = 120
	st.LastSteps = 7
	st.LastDurationS = 12.5
	st.LastCrawledAt = &crawled
	st.AccessDeniedCount = 1

	if err := store.Save(doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.Branches["Elektrotechnik"]
	if !ok {
		t.Fatal("branch missing after reload")
	}
	if got.CrawlCount != 3 || got.LastRows != 42 || got.TotalRowsInserted != 120 {
		t.Fatalf("counters not preserved: %+v", got)
	}
	if got.LastCrawledAt == nil || !got.LastCrawledAt.Equal(crawled) {
		t.Fatalf("last_crawled_at = %v, want %v", got.LastCrawledAt, crawled)
	}
	if got.NextAllowedAt != nil {
		t.Fatalf("next_allowed_at = %v, want nil", got.NextAllowedAt)
	}
	if reloaded.Meta.UpdatedAt.IsZero() {
		t.Fatal("updated_at should be stamped by save")
	}
}

func TestBranchCreatesEntryOnDemand(t *testing.T) {
	doc := &Document{}
	st := doc.Branch("Handel")
	if st == nil {
		t.Fatal("expected state entry")
	}
	st.CrawlCount++
	if doc.Branches["Handel"].CrawlCount != 1 {
		t.Fatal("entry not shared with document map")
	}
}
