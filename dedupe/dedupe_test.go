package dedupe

import (
	"testing"

	"github.com/firmendata/wko-crawler/models"
)

func TestKeyNormalization(t *testing.T) {
	a := &models.Record{Name: "  Muster   GmbH ", Street: "Hauptstraße 1", ZipCity: "1010 Wien"}
	b := &models.Record{Name: "muster gmbh", Street: "Hauptstraße 1", ZipCity: "1010  Wien"}
	if Key(a) != Key(b) {
		t.Fatalf("keys differ: %q vs %q", Key(a), Key(b))
	}

	c := &models.Record{Name: "Muster GmbH", Street: "Hauptstraße 2", ZipCity: "1010 Wien"}
	if Key(a) == Key(c) {
		t.Fatal("different addresses must not collide")
	}
}

func TestAddIfNewIdempotent(t *testing.T) {
	store, err := Open(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	rec := &models.Record{
		Branch:  "Elektrotechnik",
		Name:    "Muster GmbH",
		Street:  "Hauptstraße 1",
		ZipCity: "1010 Wien",
	}

	novel, err := store.AddIfNew(rec)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if !novel {
		t.Fatal("first add should be novel")
	}

	novel, err = store.AddIfNew(rec)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if novel {
		t.Fatal("second add should be a duplicate")
	}
}

func TestAddIfNewSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	rec := &models.Record{Name: "Muster GmbH", Street: "Hauptstraße 1", ZipCity: "1010 Wien"}

	store, err := Open(dir, 16)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if novel, err := store.AddIfNew(rec); err != nil || !novel {
		t.Fatalf("first add: novel=%v err=%v", novel, err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A fresh process has an empty cache; the durable index must still
	// answer duplicate.
	reopened, err := Open(dir, 16)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if novel, err := reopened.AddIfNew(rec); err != nil || novel {
		t.Fatalf("add after reopen: novel=%v err=%v, want duplicate", novel, err)
	}
}

func TestAddIfNewAcrossBranches(t *testing.T) {
	store, err := Open(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	first := &models.Record{Branch: "Elektrotechnik", Name: "Muster GmbH", Street: "Hauptstraße 1", ZipCity: "1010 Wien"}
	second := &models.Record{Branch: "Handel", Name: "Muster GmbH", Street: "Hauptstraße 1", ZipCity: "1010 Wien"}

	if novel, _ := store.AddIfNew(first); !novel {
		t.Fatal("first branch sighting should be novel")
	}
	if novel, _ := store.AddIfNew(second); novel {
		t.Fatal("same company in a second branch must be a duplicate")
	}
}
