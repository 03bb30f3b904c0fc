package model

import "time"

// ErrorKind classifies a per-record failure.
type ErrorKind string

const (
	ErrValidation       ErrorKind = "validation"
	ErrRetryableAPI     ErrorKind = "retryable_api"
	ErrFatalAPI         ErrorKind = "fatal_api"
	ErrEnrichmentFailed ErrorKind = "enrichment_failed"
	ErrSchema           ErrorKind = "schema"
	ErrStorage          ErrorKind = "storage"
)

// Failure is one per-record error captured in a batch.
type Failure struct {
	Key    string    `json:"key" yaml:"key"`
	Kind   ErrorKind `json:"kind" yaml:"kind"`
	Reason string    `json:"reason" yaml:"reason"`
}

// RecordSummary names a record without exposing contact details.
type RecordSummary struct {
	FirstName string `json:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" yaml:"last_name"`
	Company   string `json:"company" yaml:"company"`
}

// SummaryOf returns the name and company of rec.
func SummaryOf(rec *ContactRecord) RecordSummary {
	return RecordSummary{FirstName: rec.FirstName, LastName: rec.LastName, Company: rec.CompanyName}
}

// BatchResult aggregates one pipeline run.
type BatchResult struct {
	RunID      string `json:"run_id" yaml:"run_id"`
	LeadSource string `json:"lead_source" yaml:"lead_source"`
	// Source is the file path or URL the batch was read from.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	Processed      int `json:"processed" yaml:"processed"`
	Inserted       int `json:"inserted" yaml:"inserted"`
	Updated        int `json:"updated" yaml:"updated"`
	Failed         int `json:"failed" yaml:"failed"`
	SkippedNoEmail int `json:"skipped_no_email" yaml:"skipped_no_email"`

	PeopleEnriched           int `json:"people_enriched" yaml:"people_enriched"`
	CompaniesEnriched        int `json:"companies_enriched" yaml:"companies_enriched"`
	CompaniesSkippedNoDomain int `json:"org_enrichment_skipped_no_domain" yaml:"org_enrichment_skipped_no_domain"`
	ColumnsAdded             int `json:"columns_added" yaml:"columns_added"`

	Failures []Failure `json:"failures" yaml:"failures"`
	Warnings []string  `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// Saved and Skipped are filled by the scrape flow.
	Saved   []RecordSummary `json:"saved_records,omitempty" yaml:"saved_records,omitempty"`
	Skipped []RecordSummary `json:"skipped_no_email_records,omitempty" yaml:"skipped_no_email_records,omitempty"`

	TimedOut    bool   `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
	EmptyReason string `json:"empty_reason,omitempty" yaml:"empty_reason,omitempty"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// AddFailure appends a failure in call order.
func (b *BatchResult) AddFailure(key string, kind ErrorKind, reason string) {
	b.Failures = append(b.Failures, Failure{Key: key, Kind: kind, Reason: reason})
}

// AddWarning appends a non-fatal warning.
func (b *BatchResult) AddWarning(msg string) {
	b.Warnings = append(b.Warnings, msg)
}

// Balanced reports whether every processed record is accounted for.
func (b *BatchResult) Balanced() bool {
	return b.Processed == b.Inserted+b.Updated+b.Failed+b.SkippedNoEmail
}

// Duration returns the wall-clock time of the run.
func (b *BatchResult) Duration() time.Duration {
	return b.FinishedAt.Sub(b.StartedAt)
}
