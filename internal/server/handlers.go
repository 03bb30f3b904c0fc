package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/truth-cli/internal/enrich"
	"github.com/sells-group/truth-cli/internal/export"
	"github.com/sells-group/truth-cli/internal/ingest"
	"github.com/sells-group/truth-cli/internal/model"
	"github.com/sells-group/truth-cli/internal/pii"
	"github.com/sells-group/truth-cli/internal/pipeline"
	"github.com/sells-group/truth-cli/internal/scrape"
	"github.com/sells-group/truth-cli/internal/store"
)

// multipartOverhead leaves room for form fields around the file part.
const multipartOverhead = 1 << 20

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, statusFor(err), "invalid multipart upload: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	opts, err := s.enrichFlags(r.FormValue("enrich_people"), r.FormValue("enrich_companies"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sheet, err := s.reader.ReadFrom(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	leadSource := strings.TrimSpace(r.FormValue("lead_source"))
	if leadSource == "" {
		leadSource = s.cfg.LeadSource
	}
	res, err := s.runner.Run(r.Context(), pipeline.Input{
		Headers:    sheet.Headers,
		Rows:       sheet.Rows,
		LeadSource: leadSource,
		Enrich:     opts,
		Source:     header.Filename,
		Warnings:   sheet.Warnings,
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Result: res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type scrapeRequest struct {
	URL             string `json:"url"`
	EnrichPeople    *bool  `json:"enrich_people"`
	EnrichCompanies *bool  `json:"enrich_companies"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := scrape.ValidateURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := s.cfg.Enrich
	if req.EnrichPeople != nil {
		opts.People = *req.EnrichPeople
	}
	if req.EnrichCompanies != nil {
		opts.Companies = *req.EnrichCompanies
	}

	res, err := s.runner.RunScrape(r.Context(), pipeline.ScrapeInput{URL: target, Enrich: opts})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, pipeline.ErrScrapeNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorBody{Error: err.Error(), Result: res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// enrichFlags parses optional form booleans over the configured defaults.
func (s *Server) enrichFlags(people, companies string) (enrich.Options, error) {
	opts := s.cfg.Enrich
	for _, f := range []struct {
		name string
		raw  string
		dst  *bool
	}{
		{"enrich_people", people, &opts.People},
		{"enrich_companies", companies, &opts.Companies},
	} {
		if f.raw == "" {
			continue
		}
		v, err := strconv.ParseBool(f.raw)
		if err != nil {
			return opts, eris.Errorf("%s must be a boolean", f.name)
		}
		*f.dst = v
	}
	return opts, nil
}

type recordsPage struct {
	Records []map[string]string `json:"records"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q, err := searchQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, total, err := s.records.Search(r.Context(), q)
	if err != nil {
		zap.L().Error("server: search records", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := recordsPage{Records: make([]map[string]string, 0, len(recs)), Total: total, Limit: q.Limit, Offset: q.Offset}
	for _, rec := range recs {
		page.Records = append(page.Records, recordJSON(rec))
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	email := ingest.NormalizeEmail(chi.URLParam(r, "email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	rec, err := s.records.FindByEmail(r.Context(), email)
	if err != nil {
		zap.L().Error("server: find record", pii.EmailField("email", email), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, recordJSON(rec))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.records.Stats(r.Context())
	if err != nil {
		zap.L().Error("server: stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	cols, err := s.records.ListColumns(r.Context())
	if err != nil {
		zap.L().Error("server: list columns", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "columns unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"columns": cols})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q, err := searchQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var buf bytes.Buffer
	n, err := export.XLSX(r.Context(), s.records, &buf, q.Filters)
	switch {
	case errors.Is(err, export.ErrNoData):
		writeError(w, http.StatusNotFound, "no data to export")
		return
	case err != nil:
		zap.L().Error("server: export", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(s.now())+`"`)
	w.Header().Set("X-Record-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// searchQuery reads limit, offset and filter[col]=value parameters.
func searchQuery(v url.Values) (store.SearchQuery, error) {
	q := store.SearchQuery{Filters: make(map[string]string)}
	for key, vals := range v {
		switch {
		case key == "limit":
			n, err := strconv.Atoi(vals[0])
			if err != nil || n < 0 {
				return q, eris.New("limit must be a non-negative integer")
			}
			q.Limit = n
		case key == "offset":
			n, err := strconv.Atoi(vals[0])
			if err != nil || n < 0 {
				return q, eris.New("offset must be a non-negative integer")
			}
			q.Offset = n
		case strings.HasPrefix(key, "filter[") && strings.HasSuffix(key, "]"):
			col := key[len("filter[") : len(key)-1]
			if col == "" {
				return q, eris.New("filter column is empty")
			}
			if val := strings.TrimSpace(vals[0]); val != "" {
				q.Filters[col] = val
			}
		}
	}
	if q.Limit == 0 {
		q.Limit = 50
	}
	return q, nil
}

// recordJSON renders a stored record keyed by column name.
func recordJSON(rec *model.ContactRecord) map[string]string {
	out := rec.Columns()
	if rec.SN != 0 {
		out[model.ColSN] = rec.Get(model.ColSN)
	}
	return out
}
