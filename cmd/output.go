package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/truth-cli/internal/model"
	"github.com/sells-group/truth-cli/internal/store"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// writeValue renders v as JSON or YAML.
func writeValue(out io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	case outputYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		return eris.Errorf("unknown output format %q (use table, json or yaml)", format)
	}
}

// writeBatch renders a batch result in the requested format.
func writeBatch(out io.Writer, format string, res *model.BatchResult) error {
	if format != outputTable {
		return writeValue(out, format, res)
	}
	formatBatch(out, res)
	return nil
}

// formatBatch writes a human-readable batch summary to out.
func formatBatch(out io.Writer, res *model.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	if res.Source != "" {
		_, _ = fmt.Fprintf(w, "Source:\t%s\n", res.Source)
	}
	_, _ = fmt.Fprintf(w, "Lead source:\t%s\n", res.LeadSource)
	_, _ = fmt.Fprintf(w, "Processed:\t%d\n", res.Processed)
	_, _ = fmt.Fprintf(w, "Inserted:\t%d\n", res.Inserted)
	_, _ = fmt.Fprintf(w, "Updated:\t%d\n", res.Updated)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", res.Failed)
	_, _ = fmt.Fprintf(w, "Skipped (no email):\t%d\n", res.SkippedNoEmail)
	if res.PeopleEnriched > 0 || res.CompaniesEnriched > 0 || res.CompaniesSkippedNoDomain > 0 {
		_, _ = fmt.Fprintf(w, "People enriched:\t%d\n", res.PeopleEnriched)
		_, _ = fmt.Fprintf(w, "Companies enriched:\t%d\n", res.CompaniesEnriched)
		_, _ = fmt.Fprintf(w, "Org enrichment skipped (no domain):\t%d\n", res.CompaniesSkippedNoDomain)
	}
	if res.ColumnsAdded > 0 {
		_, _ = fmt.Fprintf(w, "Columns added:\t%d\n", res.ColumnsAdded)
	}
	if res.TimedOut {
		_, _ = fmt.Fprintln(w, "Timed out:\tyes")
	}
	if res.EmptyReason != "" {
		_, _ = fmt.Fprintf(w, "Nothing to import:\t%s\n", res.EmptyReason)
	}
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", res.Duration().Round(time.Millisecond))
	_ = w.Flush()

	for _, warn := range res.Warnings {
		_, _ = fmt.Fprintf(out, "warning: %s\n", warn)
	}
	if len(res.Saved) > 0 {
		_, _ = fmt.Fprintf(out, "\nSaved (%d):\n", len(res.Saved))
		writeSummaries(out, res.Saved)
	}
	if len(res.Skipped) > 0 {
		_, _ = fmt.Fprintf(out, "\nSkipped, no email found (%d):\n", len(res.Skipped))
		writeSummaries(out, res.Skipped)
	}
	if len(res.Failures) > 0 {
		_, _ = fmt.Fprintf(out, "\nFailures (%d):\n", len(res.Failures))
		fw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(fw, "KEY\tKIND\tREASON")
		for _, f := range res.Failures {
			_, _ = fmt.Fprintf(fw, "%s\t%s\t%s\n", f.Key, f.Kind, f.Reason)
		}
		_ = fw.Flush()
	}
}

func writeSummaries(out io.Writer, recs []model.RecordSummary) {
	for _, r := range recs {
		name := strings.TrimSpace(r.FirstName + " " + r.LastName)
		if r.Company != "" {
			name += " (" + r.Company + ")"
		}
		_, _ = fmt.Fprintf(out, "  - %s\n", name)
	}
}

// formatRecords writes a compact table of records to out.
func formatRecords(out io.Writer, recs []*model.ContactRecord, total int64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "S.N.\tEMAIL\tNAME\tCOMPANY\tLEAD SOURCE\tUPDATED")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.SN,
			r.Email,
			truncate(strings.TrimSpace(r.FirstName+" "+r.LastName), 30),
			truncate(r.CompanyName, 30),
			r.LeadSource,
			r.UpdatedAt,
		)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "%d of %d records\n", len(recs), total)
}

// formatRecord writes every non-empty column of rec, fixed columns first.
func formatRecord(out io.Writer, rec *model.ContactRecord) {
	cols := rec.Columns()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s:\t%d\n", model.ColSN, rec.SN)
	for _, c := range model.FixedColumns {
		if v, ok := cols[c]; ok {
			_, _ = fmt.Fprintf(w, "%s:\t%s\n", c, v)
			delete(cols, c)
		}
	}
	extra := make([]string, 0, len(cols))
	for c := range cols {
		extra = append(extra, c)
	}
	sort.Strings(extra)
	for _, c := range extra {
		_, _ = fmt.Fprintf(w, "%s:\t%s\n", c, truncate(cols[c], 80))
	}
	_ = w.Flush()
}

// formatStats writes truth-table statistics to out.
func formatStats(out io.Writer, st *store.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total records:\t%d\n", st.Total)
	_, _ = fmt.Fprintf(w, "Updated in last 7 days:\t%d\n", st.RecentUpdates)
	_, _ = fmt.Fprintf(w, "Columns:\t%d\n", st.TotalColumns)
	sources := make([]string, 0, len(st.ByLeadSource))
	for s := range st.ByLeadSource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		label := s
		if label == "" {
			label = "(none)"
		}
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", label, st.ByLeadSource[s])
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
