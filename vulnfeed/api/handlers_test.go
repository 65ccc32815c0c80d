package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/ingest"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/normalize"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/postgres/models"
)

type fakeIngester struct {
	calls   int
	trigger string
	result  ingest.Result
	err     error
	panics  bool
}

func (f *fakeIngester) Run(_ context.Context, trigger string) (ingest.Result, error) {
	f.calls++
	f.trigger = trigger
	if f.panics {
		panic("nil map write")
	}
	return f.result, f.err
}

type fakeSearcher struct {
	calls   int
	term    string
	limit   int
	records []vulnfeed.Vulnerability
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, term string, limit int) ([]vulnfeed.Vulnerability, error) {
	f.calls++
	f.term = term
	f.limit = limit
	return f.records, f.err
}

type fakeStats struct {
	calls int
	stats vulnfeed.Stats
	err   error
}

func (f *fakeStats) Stats(context.Context) (vulnfeed.Stats, error) {
	f.calls++
	return f.stats, f.err
}

type fixture struct {
	ingester *fakeIngester
	searcher *fakeSearcher
	stats    *fakeStats
	handler  http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		ingester: &fakeIngester{},
		searcher: &fakeSearcher{},
		stats:    &fakeStats{},
	}
	f.handler = Routes(NewHandler(f.ingester, f.searcher, f.stats, Options{SearchLimit: 50}))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func (f *fixture) untouched() bool {
	return f.ingester.calls == 0 && f.searcher.calls == 0 && f.stats.calls == 0
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "authorization, x-client-info, apikey, content-type", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestFetchLatest(t *testing.T) {
	f := newFixture()
	f.ingester.result = ingest.Result{
		RunID:   "run-1",
		Fetched: 3,
		Stored:  2,
		Skipped: []*normalize.RecordError{{Index: 1, ExternalID: "CVE-2024-0002", Err: normalize.ErrMissingPublished}},
	}

	rec, body := f.do(t, http.MethodPost, PathVulnerabilities, `{"action":"fetch_latest"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 1, body["skipped"])
	assert.Equal(t, "Fetched and stored 2 latest vulnerabilities (1 skipped)", body["message"])
	assert.Equal(t, models.TriggerAPI, f.ingester.trigger)
}

func TestFetchLatestFailure(t *testing.T) {
	f := newFixture()
	f.ingester.err = errors.New("CVE feed API error: 503")

	rec, body := f.do(t, http.MethodPost, PathFunction, `{"action":"fetch_latest"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "CVE feed API error: 503", body["error"])
}

func TestSearch(t *testing.T) {
	f := newFixture()
	f.searcher.records = []vulnfeed.Vulnerability{{
		ExternalID:    "CVE-2024-0001",
		Title:         "CVE-2024-0001 - Dell advisory...",
		Severity:      vulnfeed.SeverityHigh,
		PublishedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Vendor:        "Dell",
	}}

	rec, body := f.do(t, http.MethodPost, PathVulnerabilities, `{"action":"search","query":"dell"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, "dell", f.searcher.term)
	assert.Equal(t, 50, f.searcher.limit)

	vulns, ok := body["vulnerabilities"].([]any)
	require.True(t, ok)
	require.Len(t, vulns, 1)
	first := vulns[0].(map[string]any)
	assert.Equal(t, "CVE-2024-0001", first["cve_id"])
	assert.Equal(t, "high", first["severity"])
}

func TestSearchWithoutQueryReturnsEmptyArray(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodPost, PathVulnerabilities, `{"action":"search"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"vulnerabilities":[]`)
	assert.Equal(t, "", f.searcher.term)
}

func TestGetStats(t *testing.T) {
	f := newFixture()
	stats := vulnfeed.NewStats()
	stats.Add(vulnfeed.SeverityCritical.String(), "Dell")
	stats.Add(vulnfeed.SeverityLow.String(), "Multiple")
	f.stats.stats = stats

	rec, body := f.do(t, http.MethodPost, PathVulnerabilities, `{"action":"get_stats"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	got := body["stats"].(map[string]any)
	assert.EqualValues(t, 2, got["total"])
	assert.Equal(t, map[string]any{"critical": float64(1), "low": float64(1)}, got["severityCounts"])
	assert.Equal(t, map[string]any{"Dell": float64(1), "Multiple": float64(1)}, got["vendorCounts"])
}

func TestInvalidActionTouchesNothing(t *testing.T) {
	f := newFixture()

	rec, body := f.do(t, http.MethodPost, PathVulnerabilities, `{"action":"delete_all"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Invalid action", body["error"])
	assert.True(t, f.untouched())
}

func TestInvalidBody(t *testing.T) {
	for _, raw := range []string{"", "{not json", `"fetch_latest"`} {
		f := newFixture()
		rec, body := f.do(t, http.MethodPost, PathVulnerabilities, raw)

		assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
		assert.Equal(t, "Invalid request body", body["error"], raw)
		assert.True(t, f.untouched())
	}
}

func TestPreflight(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodOptions, PathFunction, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assertCORS(t, rec)
	assert.True(t, f.untouched())
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture()

	rec, body := f.do(t, http.MethodGet, PathVulnerabilities, "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, false, body["success"])
}

func TestPanicBecomesServerError(t *testing.T) {
	f := newFixture()
	f.ingester.panics = true

	rec, body := f.do(t, http.MethodPost, PathVulnerabilities, `{"action":"fetch_latest"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Internal server error", body["error"])
}

func TestRequestID(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodPost, PathVulnerabilities, `{"action":"get_stats"}`)
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)

	req := httptest.NewRequest(http.MethodPost, PathVulnerabilities, strings.NewReader(`{"action":"get_stats"}`))
	req.Header.Set(HeaderRequestID, "abc-123")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))
}

func TestHealth(t *testing.T) {
	f := newFixture()

	rec, body := f.do(t, http.MethodGet, PathHealth, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "healthy", "service": "vulnfeed-api"}, body)
}

func TestRequestIDRejectsOversizedOrUnprintable(t *testing.T) {
	f := newFixture()

	for _, inbound := range []string{strings.Repeat("a", maxRequestIDLen+1), "id with spaces", "id\x07bell"} {
		req := httptest.NewRequest(http.MethodPost, PathVulnerabilities, strings.NewReader(`{"action":"get_stats"}`))
		req.Header.Set(HeaderRequestID, inbound)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		got := rec.Header().Get(HeaderRequestID)
		assert.NotEqual(t, inbound, got)
		assert.Len(t, got, 36)
	}

	req := httptest.NewRequest(http.MethodPost, PathVulnerabilities, strings.NewReader(`{"action":"get_stats"}`))
	req.Header.Set(HeaderRequestID, strings.Repeat("b", maxRequestIDLen))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, strings.Repeat("b", maxRequestIDLen), rec.Header().Get(HeaderRequestID))
}

func TestPanicAfterResponseStartedKeepsBody(t *testing.T) {
	h := withRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, fetchResponse{Success: true, Count: 1})
		panic("late failure")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, PathVulnerabilities, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, rec.Body.String(), "Internal server error")
}
