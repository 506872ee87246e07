package sink

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/firmendata/wko-crawler/config"
	"github.com/firmendata/wko-crawler/models"
	"github.com/firmendata/wko-crawler/parser"
)

const companiesTable = "wko_companies"

// SupabaseSink batch-upserts novel records into a Supabase (PostgREST)
// table, keyed by a content-derived key so re-crawls merge instead of
// duplicating. It is strictly opportunistic: callers log and skip on
// failure.
type SupabaseSink struct {
	baseURL   string
	key       string
	table     string
	batchSize int
	client    *http.Client
}

// NewSupabaseFromEnv builds the sink from SUPABASE_URL and
// SUPABASE_SERVICE_ROLE_KEY. Returns nil when either is missing, which
// disables the external push.
func NewSupabaseFromEnv(client *http.Client, batchSize int) *SupabaseSink {
	baseURL, okURL := config.EnvString("SUPABASE_URL")
	key, okKey := config.EnvString("SUPABASE_SERVICE_ROLE_KEY")
	if !okURL || !okKey {
		slog.Info("supabase env vars missing; external upsert disabled")
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SupabaseSink{
		baseURL:   strings.TrimRight(baseURL, "/"),
		key:       key,
		table:     companiesTable,
		batchSize: batchSize,
		client:    client,
	}
}

// companyRow is the upsert payload shape.
type companyRow struct {
	WKOKey     string         `json:"wko_key"`
	Branch     string         `json:"branche,omitempty"`
	Name       string         `json:"name,omitempty"`
	Street     string         `json:"street,omitempty"`
	ZipCity    string         `json:"zip_city,omitempty"`
	Address    string         `json:"address,omitempty"`
	DetailURL  string         `json:"wko_detail_url,omitempty"`
	Website    string         `json:"company_website,omitempty"`
	Email      string         `json:"email,omitempty"`
	Phone      string         `json:"phone,omitempty"`
	SourceURL  string         `json:"source_list_url,omitempty"`
	CrawledAt  string         `json:"crawled_at,omitempty"`
	SearchText string         `json:"search_text,omitempty"`
	RawRow     *models.Record `json:"raw_row"`
}

// ContentKey derives the stable upsert key from the normalized name and
// address.
func ContentKey(name, address string) string {
	sum := sha1.Sum([]byte(parser.NormalizeText(name) + "|" + parser.NormalizeText(address)))
	return hex.EncodeToString(sum[:])
}

func buildRow(rec *models.Record) (companyRow, bool) {
	if err := parser.ValidateRecord(rec); err != nil {
		return companyRow{}, false
	}
	address := parser.Address(rec.Street, rec.ZipCity)
	searchText := parser.NormalizeText(strings.Join([]string{
		rec.Name, rec.Branch, address, rec.Website, rec.Email, rec.Phone,
	}, " "))

	return companyRow{
		WKOKey:     ContentKey(rec.Name, address),
		Branch:     rec.Branch,
		Name:       rec.Name,
		Street:     rec.Street,
		ZipCity:    rec.ZipCity,
		Address:    address,
		DetailURL:  rec.DetailURL,
		Website:    rec.Website,
		Email:      rec.Email,
		Phone:      rec.Phone,
		SourceURL:  rec.SourceListURL,
		CrawledAt:  rec.CrawledAt.UTC().Format(time.RFC3339),
		SearchText: searchText,
		RawRow:     rec,
	}, true
}

// Preflight verifies the target table is reachable before enabling the
// sink. Callers disable the sink when this fails.
func (s *SupabaseSink) Preflight(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?select=wko_key&limit=1", s.baseURL, s.table)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build preflight request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("preflight %s: %w", s.table, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("preflight %s: status %d", s.table, resp.StatusCode)
	}
	return nil
}

// Upsert pushes records in batches, merging on the content key. It
// returns the number of rows sent.
func (s *SupabaseSink) Upsert(ctx context.Context, records []*models.Record) (int, error) {
	rows := make([]companyRow, 0, len(records))
	for _, rec := range records {
		if row, ok := buildRow(rec); ok {
			rows = append(rows, row)
		}
	}

	total := 0
	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.upsertBatch(ctx, rows[start:end]); err != nil {
			return total, err
		}
		total += end - start
	}
	return total, nil
}

func (s *SupabaseSink) upsertBatch(ctx context.Context, rows []companyRow) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode upsert batch: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?on_conflict=wko_key", s.baseURL, s.table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build upsert request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", s.table, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("upsert %s: status %d: %s", s.table, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (s *SupabaseSink) authorize(req *http.Request) {
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
}
