package parser

import (
	"testing"

	"github.com/firmendata/wko-crawler/models"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"Muster GmbH", "Muster GmbH"},
		{"  Muster \t GmbH \n ", "Muster GmbH"},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Fatalf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Großhandel", "grosshandel"},
		{"Müller & Söhne GmbH", "mueller soehne gmbh"},
		{"Café Zentral", "cafe zentral"},
		{"  IT-Dienstleistungen  ", "it dienstleistungen"},
		{"1010 Wien", "1010 wien"},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Fatalf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddress(t *testing.T) {
	if got := Address("Hauptstraße 1", "1010 Wien"); got != "Hauptstraße 1 1010 Wien" {
		t.Fatalf("address = %q", got)
	}
	if got := Address("", "1010 Wien"); got != "1010 Wien" {
		t.Fatalf("address without street = %q", got)
	}
	if got := Address("", ""); got != "" {
		t.Fatalf("empty address = %q", got)
	}
}

func TestValidateRecord(t *testing.T) {
	if err := ValidateRecord(nil); err == nil {
		t.Fatal("nil record should fail validation")
	}
	if err := ValidateRecord(&models.Record{Branch: "Handel"}); err == nil {
		t.Fatal("record without name and address should fail validation")
	}
	if err := ValidateRecord(&models.Record{Name: "Muster GmbH"}); err != nil {
		t.Fatalf("record with name should validate, got %v", err)
	}
	if err := ValidateRecord(&models.Record{ZipCity: "1010 Wien"}); err != nil {
		t.Fatalf("record with address should validate, got %v", err)
	}
}
