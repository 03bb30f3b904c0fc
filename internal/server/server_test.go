package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/truth-cli/internal/enrich"
	"github.com/sells-group/truth-cli/internal/fetcher"
	"github.com/sells-group/truth-cli/internal/metrics"
	"github.com/sells-group/truth-cli/internal/model"
	"github.com/sells-group/truth-cli/internal/pipeline"
	"github.com/sells-group/truth-cli/internal/store"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, in pipeline.Input) (*model.BatchResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*model.BatchResult)
	return res, args.Error(1)
}

func (m *mockRunner) RunScrape(ctx context.Context, in pipeline.ScrapeInput) (*model.BatchResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*model.BatchResult)
	return res, args.Error(1)
}

// downRecords fails every call.
type downRecords struct {
	store.Store
}

func (downRecords) Ping(context.Context) error { return errors.New("connection refused") }

const ts = "2026-01-02 03:04:05"

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "truth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seed(t *testing.T, st *store.SQLiteStore, rows ...map[string]string) {
	t.Helper()
	for _, r := range rows {
		r[model.ColUpdatedAt] = ts
		_, err := st.Upsert(context.Background(), r, nil)
		require.NoError(t, err)
	}
}

type harness struct {
	runner *mockRunner
	store  *store.SQLiteStore
	srv    *httptest.Server
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{runner: &mockRunner{}, store: newStore(t)}
	reader := fetcher.NewReader(fetcher.Limits{MaxBytes: 1 << 20, MaxRows: 100})
	s := New(cfg, h.runner, h.store, reader, opts...)
	h.srv = httptest.NewServer(s.Router())
	t.Cleanup(h.srv.Close)
	t.Cleanup(func() { h.runner.AssertExpectations(t) })
	return h
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func upload(t *testing.T, url, name string, content []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	h := newHarness(t, Config{})
	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestHealth_StoreDown(t *testing.T) {
	s := New(Config{}, &mockRunner{}, downRecords{}, fetcher.NewReader(fetcher.Limits{}))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	m.RecordBatch(model.LeadSourceExcel, pipeline.StatusOK, time.Second)
	h := newHarness(t, Config{}, WithMetrics(m))

	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	assert.Contains(t, body.String(), "truth_batches_total")
}

func TestMetrics_Disabled(t *testing.T) {
	h := newHarness(t, Config{})
	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngest_CSV(t *testing.T) {
	h := newHarness(t, Config{LeadSource: model.LeadSourceExcel, Enrich: enrich.Options{Companies: true}})
	want := &model.BatchResult{RunID: "run-1", Processed: 1, Inserted: 1}
	h.runner.On("Run", mock.Anything, mock.MatchedBy(func(in pipeline.Input) bool {
		return in.Source == "leads.csv" &&
			assert.ObjectsAreEqual([]string{"Email", "Company"}, in.Headers) &&
			len(in.Rows) == 1 &&
			in.LeadSource == model.LeadSourceExcel &&
			in.Enrich == enrich.Options{People: true, Companies: true}
	})).Return(want, nil).Once()

	resp := upload(t, h.srv.URL+"/api/v1/ingest", "leads.csv", []byte("Email,Company\nada@acme.com,Acme\n"),
		map[string]string{"enrich_people": "true"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.BatchResult](t, resp)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 1, got.Inserted)
}

func TestIngest_XLSXWithLeadSource(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	require.NoError(t, err)
	for _, vals := range [][]string{{"Email"}, {"ada@acme.com"}} {
		row := sheet.AddRow()
		for _, v := range vals {
			row.AddCell().SetString(v)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	h := newHarness(t, Config{LeadSource: model.LeadSourceExcel})
	h.runner.On("Run", mock.Anything, mock.MatchedBy(func(in pipeline.Input) bool {
		return in.LeadSource == "Trade Show" && len(in.Rows) == 1 && !in.Enrich.Any()
	})).Return(&model.BatchResult{}, nil).Once()

	resp := upload(t, h.srv.URL+"/api/v1/ingest", "leads.xlsx", buf.Bytes(), map[string]string{"lead_source": "Trade Show"})
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		fields  map[string]string
		want    int
	}{
		{name: "missing file", want: http.StatusBadRequest},
		{name: "unsupported format", file: "leads.pdf", content: "x", want: http.StatusUnsupportedMediaType},
		{name: "bad flag", file: "leads.csv", content: "Email\n", fields: map[string]string{"enrich_people": "maybe"}, want: http.StatusBadRequest},
		{name: "too many rows", file: "leads.csv", content: "Email\n" + strings.Repeat("a@x.com\n", 101), want: http.StatusUnprocessableEntity},
		{name: "too large", file: "leads.csv", content: strings.Repeat("x", 2<<20), want: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{MaxUploadBytes: 4 << 20})
			resp := upload(t, h.srv.URL+"/api/v1/ingest", tt.file, []byte(tt.content), tt.fields)
			body := decode[errorBody](t, resp)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestIngest_StoreUnreachable(t *testing.T) {
	h := newHarness(t, Config{})
	h.runner.On("Run", mock.Anything, mock.Anything).
		Return(&model.BatchResult{RunID: "run-2"}, errors.New("pipeline: store unreachable")).Once()

	resp := upload(t, h.srv.URL+"/api/v1/ingest", "leads.csv", []byte("Email\na@x.com\n"), nil)
	body := decode[errorBody](t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body.Error, "store unreachable")
	require.NotNil(t, body.Result)
	assert.Equal(t, "run-2", body.Result.RunID)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestScrape(t *testing.T) {
	h := newHarness(t, Config{Enrich: enrich.Options{People: true}})
	want := &model.BatchResult{
		LeadSource: model.LeadSourceScrape,
		Saved:      []model.RecordSummary{{FirstName: "Ada", LastName: "Lovelace", Company: "Acme"}},
	}
	h.runner.On("RunScrape", mock.Anything, pipeline.ScrapeInput{
		URL:    "https://acme.com/team",
		Enrich: enrich.Options{People: false, Companies: true},
	}).Return(want, nil).Once()

	resp := postJSON(t, h.srv.URL+"/api/v1/scrape",
		`{"url":" https://acme.com/team ","enrich_people":false,"enrich_companies":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.BatchResult](t, resp)
	require.Len(t, got.Saved, 1)
	assert.Equal(t, "Ada", got.Saved[0].FirstName)
}

func TestScrape_DefaultsFromConfig(t *testing.T) {
	h := newHarness(t, Config{Enrich: enrich.Options{People: true}})
	h.runner.On("RunScrape", mock.Anything, pipeline.ScrapeInput{
		URL:    "https://acme.com",
		Enrich: enrich.Options{People: true},
	}).Return(&model.BatchResult{}, nil).Once()

	resp := postJSON(t, h.srv.URL+"/api/v1/scrape", `{"url":"https://acme.com"}`)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestScrape_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		runErr  error
		want    int
		callRun bool
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "bad url", body: `{"url":"ftp://acme.com"}`, want: http.StatusBadRequest},
		{name: "not configured", body: `{"url":"https://acme.com"}`, runErr: pipeline.ErrScrapeNotConfigured, want: http.StatusServiceUnavailable, callRun: true},
		{name: "extraction failed", body: `{"url":"https://acme.com"}`, runErr: errors.New("pipeline: extract people: boom"), want: http.StatusBadGateway, callRun: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			if tt.callRun {
				h.runner.On("RunScrape", mock.Anything, mock.Anything).Return(&model.BatchResult{}, tt.runErr).Once()
			}
			resp := postJSON(t, h.srv.URL+"/api/v1/scrape", tt.body)
			body := decode[errorBody](t, resp)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func seeded(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, Config{}, WithClock(func() time.Time {
		return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	}))
	seed(t, h.store,
		map[string]string{model.ColEmail: "ada@acme.com", model.ColCompanyName: "Acme", model.ColLeadSource: model.LeadSourceExcel},
		map[string]string{model.ColEmail: "bo@beta.io", model.ColCompanyName: "Beta", model.ColLeadSource: model.LeadSourceScrape},
		map[string]string{model.ColEmail: "cy@acme.com", model.ColCompanyName: "Acme Labs", model.ColLeadSource: model.LeadSourceExcel},
	)
	return h
}

func TestListRecords(t *testing.T) {
	h := seeded(t)
	q := url.Values{}
	q.Set("filter["+model.ColCompanyName+"]", "Acme")
	q.Set("limit", "1")

	resp, err := http.Get(h.srv.URL + "/api/v1/records?" + q.Encode())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[recordsPage](t, resp)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 1, page.Limit)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "ada@acme.com", page.Records[0][model.ColEmail])
	assert.Equal(t, "1", page.Records[0][model.ColSN])
}

func TestListRecords_BadParams(t *testing.T) {
	h := seeded(t)
	for _, q := range []string{"limit=x", "offset=-1", "filter[Nope]=x"} {
		resp, err := http.Get(h.srv.URL + "/api/v1/records?" + q)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestGetRecord(t *testing.T) {
	h := seeded(t)

	resp, err := http.Get(h.srv.URL + "/api/v1/records/BO@beta.io")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[map[string]string](t, resp)
	assert.Equal(t, "Beta", rec[model.ColCompanyName])

	resp, err = http.Get(h.srv.URL + "/api/v1/records/nobody@x.com")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStats(t *testing.T) {
	h := seeded(t)
	resp, err := http.Get(h.srv.URL + "/api/v1/records/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[store.Stats](t, resp)
	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, int64(2), st.ByLeadSource[model.LeadSourceExcel])
	assert.Equal(t, len(model.FixedColumns), st.TotalColumns)
}

func TestColumns(t *testing.T) {
	h := seeded(t)
	resp, err := http.Get(h.srv.URL + "/api/v1/columns")
	require.NoError(t, err)
	body := decode[map[string][]string](t, resp)
	assert.Equal(t, model.FixedColumns, body["columns"])
}

func TestExport(t *testing.T) {
	h := seeded(t)
	q := url.Values{}
	q.Set("filter["+model.ColLeadSource+"]", "Scrape")

	resp, err := http.Get(h.srv.URL + "/api/v1/export?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="truth_export_20260506_070809.xlsx"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "1", resp.Header.Get("X-Record-Count"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, f.Sheets[0].Rows, 2)
}

func TestExport_NoData(t *testing.T) {
	h := newHarness(t, Config{})
	resp, err := http.Get(h.srv.URL + "/api/v1/export")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	h := newHarness(t, Config{AllowedOrigins: []string{"https://app.example.com"}})
	req, err := http.NewRequest(http.MethodOptions, h.srv.URL+"/api/v1/scrape", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSearchQuery(t *testing.T) {
	q, err := searchQuery(url.Values{"filter[Industry]": {" Software "}, "filter[State]": {""}, "offset": {"10"}})
	require.NoError(t, err)
	assert.Equal(t, 50, q.Limit)
	assert.Equal(t, 10, q.Offset)
	assert.Equal(t, map[string]string{"Industry": "Software"}, q.Filters)

	_, err = searchQuery(url.Values{"filter[]": {"x"}})
	assert.EqualError(t, err, "filter column is empty")

	_, err = searchQuery(url.Values{"limit": {"-1"}})
	assert.EqualError(t, err, "limit must be a non-negative integer")
}

func TestEnrichFlags(t *testing.T) {
	s := &Server{cfg: Config{Enrich: enrich.Options{People: true}}}

	opts, err := s.enrichFlags("", "true")
	require.NoError(t, err)
	assert.True(t, opts.People)
	assert.True(t, opts.Companies)

	_, err = s.enrichFlags("maybe", "")
	assert.EqualError(t, err, "enrich_people must be a boolean")
}
