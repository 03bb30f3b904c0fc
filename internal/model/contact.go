package model

import (
	"strconv"
	"strings"
)

// Fixed truth-table column names. These are persisted verbatim and must not
// change, since existing tables are keyed by them.
const (
	ColSN              = "S.N."
	ColCompanyName     = "Company Name (Based on Website Domain)"
	ColIndustry        = "Industry"
	ColRevenue         = "Revenue"
	ColSize            = "Size"
	ColAddress         = "Company Address / Headquarters"
	ColCompanyPhone    = "Contact Number (Company)"
	ColListedCompany   = "Listed Company"
	ColWebsite         = "Website URLs"
	ColCompanyLinkedIn = "LinkedIn Company Page"
	ColEmployees       = "# Employees"
	ColFirstName       = "First Name"
	ColLastName        = "Last Name"
	ColJobTitle        = "Job Title"
	ColEmail           = "Email ID (unique)"
	ColPersonLinkedIn  = "Person LinkedIn Profile"
	ColPersonPhone     = "Contact Number (Person)"
	ColCountry         = "Country"
	ColState           = "State"
	ColLeadSource      = "Lead Source"
	ColClientType      = "Client Type"
	ColUpdatedAt       = "UPDATE AS ON"
	ColEmailSend       = "Email Send (Yes/No)"
)

// FixedColumns lists the canonical columns in table order.
var FixedColumns = []string{
	ColSN, ColCompanyName, ColIndustry, ColRevenue, ColSize, ColAddress,
	ColCompanyPhone, ColListedCompany, ColWebsite, ColCompanyLinkedIn,
	ColEmployees, ColFirstName, ColLastName, ColJobTitle, ColEmail,
	ColPersonLinkedIn, ColPersonPhone, ColCountry, ColState, ColLeadSource,
	ColClientType, ColUpdatedAt, ColEmailSend,
}

var fixedSet = func() map[string]bool {
	m := make(map[string]bool, len(FixedColumns))
	for _, c := range FixedColumns {
		m[c] = true
	}
	return m
}()

// IsFixedColumn reports whether name is one of the canonical columns.
func IsFixedColumn(name string) bool {
	return fixedSet[name]
}

// Lead sources.
const (
	LeadSourceExcel  = "Excel Upload"
	LeadSourceScrape = "Website Scrape"
)

// TimestampLayout is the persisted format of ColUpdatedAt.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Numeric holds a value that is numeric when the input looked numeric and
// text otherwise.
type Numeric struct {
	Text     string  `json:"text,omitempty"`
	Value    float64 `json:"value,omitempty"`
	IsNumber bool    `json:"is_number,omitempty"`
}

// NumberValue returns a numeric Numeric.
func NumberValue(v float64) Numeric {
	return Numeric{Value: v, IsNumber: true}
}

// TextValue returns a textual Numeric.
func TextValue(s string) Numeric {
	return Numeric{Text: s}
}

// IsZero reports whether n carries no value.
func (n Numeric) IsZero() bool {
	return !n.IsNumber && n.Text == ""
}

// String renders the value for storage. Whole numbers render without a
// decimal point.
func (n Numeric) String() string {
	if !n.IsNumber {
		return n.Text
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

// ContactRecord is one person and company tuple.
type ContactRecord struct {
	SN              int64
	CompanyName     string
	Industry        string
	Revenue         Numeric
	Size            string
	Address         string
	CompanyPhone    string
	ListedCompany   string
	Website         string
	CompanyLinkedIn string
	Employees       Numeric
	FirstName       string
	LastName        string
	JobTitle        string
	Email           string
	PersonLinkedIn  string
	PersonPhone     string
	Country         string
	State           string
	LeadSource      string
	ClientType      string
	UpdatedAt       string
	EmailSend       string

	// Enrichment holds dynamic columns (already prefixed) carried on the
	// record, for example from re-ingesting an enriched export.
	Enrichment map[string]string

	// Row is the 1-based source row, zero when unknown.
	Row int
	// SkippedNoEmail is set when no valid email could be resolved.
	SkippedNoEmail bool
}

// Key identifies the record in failure reports: its email, or the source row.
func (r *ContactRecord) Key() string {
	if r.Email != "" {
		return r.Email
	}
	if r.Row > 0 {
		return "row " + strconv.Itoa(r.Row)
	}
	name := strings.TrimSpace(r.FirstName + " " + r.LastName)
	if name != "" {
		return name
	}
	return "unknown"
}

// HasPeopleIdentifier reports whether the record carries enough identity to
// match a person: email, first and last name, company, or website.
func (r *ContactRecord) HasPeopleIdentifier() bool {
	return r.Email != "" || (r.FirstName != "" && r.LastName != "") ||
		r.CompanyName != "" || r.Website != ""
}

// fieldRefs binds each textual fixed column to its struct field.
func (r *ContactRecord) fieldRefs() map[string]*string {
	return map[string]*string{
		ColCompanyName:     &r.CompanyName,
		ColIndustry:        &r.Industry,
		ColSize:            &r.Size,
		ColAddress:         &r.Address,
		ColCompanyPhone:    &r.CompanyPhone,
		ColListedCompany:   &r.ListedCompany,
		ColWebsite:         &r.Website,
		ColCompanyLinkedIn: &r.CompanyLinkedIn,
		ColFirstName:       &r.FirstName,
		ColLastName:        &r.LastName,
		ColJobTitle:        &r.JobTitle,
		ColEmail:           &r.Email,
		ColPersonLinkedIn:  &r.PersonLinkedIn,
		ColPersonPhone:     &r.PersonPhone,
		ColCountry:         &r.Country,
		ColState:           &r.State,
		ColLeadSource:      &r.LeadSource,
		ColClientType:      &r.ClientType,
		ColUpdatedAt:       &r.UpdatedAt,
		ColEmailSend:       &r.EmailSend,
	}
}

// Get returns the value stored under a column name.
func (r *ContactRecord) Get(col string) string {
	switch col {
	case ColSN:
		if r.SN == 0 {
			return ""
		}
		return strconv.FormatInt(r.SN, 10)
	case ColRevenue:
		return r.Revenue.String()
	case ColEmployees:
		return r.Employees.String()
	}
	if p, ok := r.fieldRefs()[col]; ok {
		return *p
	}
	return r.Enrichment[col]
}

// Set stores value under a column name. Unknown names go to Enrichment.
func (r *ContactRecord) Set(col, value string) {
	switch col {
	case ColSN:
		r.SN, _ = strconv.ParseInt(value, 10, 64)
		return
	case ColRevenue:
		r.Revenue = TextValue(value)
		return
	case ColEmployees:
		r.Employees = TextValue(value)
		return
	}
	if p, ok := r.fieldRefs()[col]; ok {
		*p = value
		return
	}
	if r.Enrichment == nil {
		r.Enrichment = make(map[string]string)
	}
	r.Enrichment[col] = value
}

// Columns renders every non-empty value keyed by column name, excluding the
// sequence number, which storage assigns.
func (r *ContactRecord) Columns() map[string]string {
	out := make(map[string]string, len(FixedColumns)+len(r.Enrichment))
	for _, col := range FixedColumns {
		if col == ColSN {
			continue
		}
		if v := r.Get(col); v != "" {
			out[col] = v
		}
	}
	for k, v := range r.Enrichment {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// ContactFromColumns builds a record from a stored row.
func ContactFromColumns(cols map[string]string) *ContactRecord {
	rec := &ContactRecord{}
	for k, v := range cols {
		if v == "" {
			continue
		}
		rec.Set(k, v)
	}
	return rec
}
