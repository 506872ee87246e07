// Package stepper drains one branch's paginated listing through the
// directory's full-postback web-form protocol.
package stepper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/firmendata/wko-crawler/backoff"
	"github.com/firmendata/wko-crawler/config"
	"github.com/firmendata/wko-crawler/dedupe"
	"github.com/firmendata/wko-crawler/models"
)

const deniedMarker = "access denied"

// RecordSink receives batches of novel records.
type RecordSink interface {
	Write(records []*models.Record) error
}

// Upserter pushes novel records to an external store. Failures are
// logged and skipped; the crawl never depends on it.
type Upserter interface {
	Upsert(ctx context.Context, records []*models.Record) (int, error)
}

// Stepper executes one branch's fetch-extract-postback cycle.
type Stepper struct {
	cfg     *config.Config
	client  *http.Client
	backoff *backoff.Controller
	dedupe  *dedupe.Store
	sink    RecordSink
	upsert  Upserter
	metrics *Metrics

	now func() time.Time
}

// New builds a stepper. upsert may be nil when no external store is
// configured.
func New(cfg *config.Config, client *http.Client, bo *backoff.Controller, store *dedupe.Store, sink RecordSink, upsert Upserter, metrics *Metrics) *Stepper {
	if client == nil {
		client = NewHTTPClient(cfg)
	}
	return &Stepper{
		cfg:     cfg,
		client:  client,
		backoff: bo,
		dedupe:  store,
		sink:    sink,
		upsert:  upsert,
		metrics: metrics,
		now:     time.Now,
	}
}

// NewHTTPClient builds the shared HTTP client with the crawl transport
// tuning. The scheduler owns exactly one of these.
func NewHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.RequestTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

type page struct {
	status int
	body   []byte
	url    *url.URL
}

func (p *page) denied() bool {
	return p.status == http.StatusForbidden ||
		strings.Contains(strings.ToLower(string(p.body)), deniedMarker)
}

// Crawl walks the branch listing from startURL until pagination ends,
// a budget runs out, or the site pushes back. Expected failures land in
// the outcome flags; the returned error is reserved for faults the
// scheduler should treat as unexpected (sink write failures and the
// like).
func (s *Stepper) Crawl(ctx context.Context, branch, startURL string) (models.CrawlOutcome, error) {
	start := s.now()
	out := models.CrawlOutcome{}
	finish := func() models.CrawlOutcome {
		out.Duration = s.now().Sub(start)
		return out
	}

	s.backoff.BeforeRequest()
	pg, err := s.fetchWithRetry(ctx, http.MethodGet, startURL, nil)
	if err != nil {
		slog.Warn("branch start failed", slog.String("branch", branch), slog.Any("error", err))
		out.TransientError = true
		out.Waited = s.backoff.OnError(branch + " GET")
		return finish(), nil
	}
	if pg.denied() {
		s.metrics.IncDenied()
		out.AccessDenied = true
		out.Waited = s.backoff.OnDenied()
		return finish(), nil
	}
	if pg.status != http.StatusOK {
		s.metrics.IncError("status")
		slog.Warn("branch start status", slog.String("branch", branch), slog.Int("status", pg.status))
		out.TransientError = true
		out.Waited = s.backoff.OnError(branch + " GET")
		return finish(), nil
	}
	s.backoff.OnSuccess()

	html := pg.body
	currentURL := pg.url
	deadline := start.Add(s.cfg.BranchTimeBudget)

	for step := 0; ; step++ {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
		if err != nil {
			// Unparseable page ends the branch; not an error condition.
			slog.Warn("unparseable page", slog.String("branch", branch), slog.Any("error", err))
			break
		}

		records := extractRecords(doc, branch, currentURL, s.now().UTC())
		novel := make([]*models.Record, 0, len(records))
		for _, rec := range records {
			isNew, err := s.dedupe.AddIfNew(rec)
			if err != nil {
				return finish(), fmt.Errorf("dedupe insert: %w", err)
			}
			if isNew {
				novel = append(novel, rec)
			}
		}
		s.metrics.AddDuplicates(len(records) - len(novel))

		if len(novel) > 0 {
			if err := s.sink.Write(novel); err != nil {
				return finish(), fmt.Errorf("write records: %w", err)
			}
			s.metrics.AddInserted(len(novel))
			if s.upsert != nil {
				if n, err := s.upsert.Upsert(ctx, novel); err != nil {
					slog.Warn("external upsert failed, skipping batch",
						slog.String("branch", branch), slog.Any("error", err))
				} else {
					slog.Debug("external upsert", slog.String("branch", branch), slog.Int("rows", n))
				}
			}
		}
		out.Inserted += len(novel)
		out.Steps = step + 1
		slog.Info("branch step",
			slog.String("branch", branch),
			slog.Int("step", out.Steps),
			slog.Int("page_rows", len(records)),
			slog.Int("new", len(novel)),
			slog.Int("total_new", out.Inserted),
		)

		if !hasLoadMore(doc) {
			break
		}
		fields, action, ok := parseFormFields(doc)
		if !ok {
			break
		}
		// Budgets are checked before paying for another postback;
		// running out of budget is a normal end with partial results.
		if step+1 > s.cfg.MaxLoadMoreSteps || s.now().After(deadline) || ctx.Err() != nil {
			break
		}
		fields.Set(loadMoreField, loadMoreValue)
		postURL := currentURL.String()
		if action != "" {
			postURL = resolveRef(currentURL, action)
		}

		s.backoff.BeforeRequest()
		pg, err = s.fetchWithRetry(ctx, http.MethodPost, postURL, fields)
		if err != nil {
			slog.Warn("load more failed", slog.String("branch", branch), slog.Any("error", err))
			out.TransientError = true
			out.Waited = s.backoff.OnError(branch + " POST")
			return finish(), nil
		}
		if pg.denied() {
			s.metrics.IncDenied()
			out.AccessDenied = true
			out.Waited = s.backoff.OnDenied()
			return finish(), nil
		}
		if pg.status != http.StatusOK {
			s.metrics.IncError("status")
			slog.Warn("load more status", slog.String("branch", branch), slog.Int("status", pg.status))
			out.TransientError = true
			out.Waited = s.backoff.OnError(branch + " POST")
			return finish(), nil
		}
		s.backoff.OnSuccess()

		// The server stopped returning new content; avoid spinning on
		// broken pagination.
		if bytes.Equal(pg.body, html) {
			break
		}
		html = pg.body
		if pg.url != nil {
			currentURL = pg.url
		}
	}

	return finish(), nil
}

func (s *Stepper) fetchWithRetry(ctx context.Context, method, rawURL string, form url.Values) (*page, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		pg, err := s.fetch(ctx, method, rawURL, form)
		if err == nil {
			return pg, nil
		}
		lastErr = err
		s.metrics.IncError(errorLabel(err))
		slog.Debug("request attempt failed",
			slog.String("method", method),
			slog.Int("attempt", attempt),
			slog.Int("max", s.cfg.MaxRetries),
			slog.Any("error", err),
		)
		if ctx.Err() != nil {
			break
		}
		if attempt < s.cfg.MaxRetries {
			time.Sleep(s.cfg.RetrySleep)
		}
	}
	return nil, lastErr
}

func (s *Stepper) fetch(ctx context.Context, method, rawURL string, form url.Values) (*page, error) {
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, rawURL, err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if s.cfg.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", s.cfg.AcceptLanguage)
	}
	if s.cfg.Referer != "" {
		req.Header.Set("Referer", s.cfg.Referer)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	t0 := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", rawURL, err)
	}

	took := time.Since(t0)
	s.metrics.IncRequest(method)
	s.metrics.ObserveDuration(took)
	slog.Debug("request done",
		slog.String("method", method),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", took),
	)

	finalURL := resp.Request.URL
	if finalURL == nil {
		finalURL, _ = url.Parse(rawURL)
	}
	return &page{status: resp.StatusCode, body: data, url: finalURL}, nil
}
