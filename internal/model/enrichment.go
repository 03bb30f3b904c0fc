package model

import "strings"

// Origin namespaces an enrichment field.
type Origin string

const (
	OriginPerson  Origin = "person"
	OriginCompany Origin = "company"
)

// Column prefixes for dynamic enrichment columns.
const (
	PersonPrefix  = "Apollo Person: "
	CompanyPrefix = "Apollo Company: "
)

// Prefix returns the column prefix for the origin.
func (o Origin) Prefix() string {
	if o == OriginCompany {
		return CompanyPrefix
	}
	return PersonPrefix
}

// EnrichmentField is a dynamically discovered value returned by the
// enrichment API.
type EnrichmentField struct {
	Origin Origin `json:"origin"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

// Column returns the persisted column name, e.g. "Apollo Company: Founded Year".
func (f EnrichmentField) Column() string {
	return f.Origin.Prefix() + f.Name
}

// ParseEnrichmentColumn splits a prefixed column name into its origin and
// field name. ok is false when the name carries no enrichment prefix.
func ParseEnrichmentColumn(col string) (Origin, string, bool) {
	switch {
	case strings.HasPrefix(col, PersonPrefix) && len(col) > len(PersonPrefix):
		return OriginPerson, col[len(PersonPrefix):], true
	case strings.HasPrefix(col, CompanyPrefix) && len(col) > len(CompanyPrefix):
		return OriginCompany, col[len(CompanyPrefix):], true
	default:
		return "", "", false
	}
}
