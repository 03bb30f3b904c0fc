package ingest

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/truth-cli/internal/model"
)

// EmailMaxLength is the RFC 5321 limit on an address.
const EmailMaxLength = 254

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Options controls normalization.
type Options struct {
	// LeadSource, when set, is stamped on every record. Otherwise a record
	// keeps its own value or defaults to model.LeadSourceExcel.
	LeadSource string
}

// Normalize maps rows onto records using the header row. Completely empty
// rows are dropped. Records without a valid email are kept and flagged
// SkippedNoEmail. The returned warnings describe dropped headers and values.
func Normalize(headers []string, rows [][]string, opts Options) ([]*model.ContactRecord, []string) {
	hm := MapHeaders(headers)
	warnings := append([]string{}, hm.Warnings...)
	if hm.Mapped() == 0 {
		return nil, warnings
	}

	var (
		out          []*model.ContactRecord
		invalidEmail int
	)
	for i, row := range rows {
		if blankRow(row) {
			continue
		}
		rec := &model.ContactRecord{Row: i + 2}
		var fullName string
		for j, col := range hm.Columns {
			if col == "" || j >= len(row) {
				continue
			}
			v := CleanText(row[j])
			if v == "" {
				continue
			}
			if col == ColFullName {
				fullName = v
				continue
			}
			setNormalized(rec, col, v)
		}
		if fullName != "" && rec.FirstName == "" && rec.LastName == "" {
			rec.FirstName, rec.LastName = splitName(Person{Name: fullName})
		}

		if rec.Email != "" && !ValidEmail(rec.Email) {
			invalidEmail++
			rec.Email = ""
		}
		applyDefaults(rec, opts)
		rec.SkippedNoEmail = rec.Email == ""
		out = append(out, rec)
	}

	if invalidEmail > 0 {
		warnings = append(warnings, fmt.Sprintf("%d rows had an invalid email address", invalidEmail))
	}
	return out, warnings
}

func setNormalized(rec *model.ContactRecord, col, v string) {
	switch col {
	case model.ColEmail:
		rec.Email = NormalizeEmail(v)
	case model.ColWebsite:
		rec.Website = ExtractDomain(v)
	case model.ColCompanyName:
		rec.CompanyName = NormalizeCompanyName(v)
	case model.ColEmployees:
		rec.Employees = ParseNumber(v)
	case model.ColRevenue:
		rec.Revenue = ParseRevenue(v)
	case model.ColEmailSend:
		rec.EmailSend = normalizeYesNo(v)
	case model.ColSN, model.ColUpdatedAt:
		// Assigned by storage.
	default:
		rec.Set(col, v)
	}
}

func applyDefaults(rec *model.ContactRecord, opts Options) {
	switch {
	case opts.LeadSource != "":
		rec.LeadSource = opts.LeadSource
	case rec.LeadSource == "":
		rec.LeadSource = model.LeadSourceExcel
	}
	if rec.EmailSend == "" {
		rec.EmailSend = "No"
	}
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// CleanText trims and collapses runs of whitespace.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeEmail trims and lower-cases an address without validating it.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s is a syntactically valid address.
func ValidEmail(s string) bool {
	return s != "" && len(s) <= EmailMaxLength && emailRe.MatchString(s)
}

// ExtractDomain returns the bare host of a URL or domain string: no scheme,
// no "www.", no port, no path. Values without a dot yield "".
func ExtractDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + strings.TrimPrefix(s, "//")
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(u.Hostname(), ".")
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

// NormalizeCompanyName collapses whitespace and title-cases the name.
func NormalizeCompanyName(s string) string {
	s = CleanText(s)
	if s == "" {
		return ""
	}
	return cases.Title(language.English).String(s)
}

// ParseNumber returns a numeric value when s looks like a number, tolerating
// currency symbols and thousands separators. Anything else is kept as text.
func ParseNumber(s string) model.Numeric {
	clean := numericCleaner.Replace(strings.TrimSpace(s))
	if f, ok := parseFinite(clean); ok {
		return model.NumberValue(f)
	}
	return model.TextValue(s)
}

// parseFinite parses a plain decimal number, rejecting NaN and infinities.
func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var numericCleaner = strings.NewReplacer("$", "", ",", "", " ", "")

var revenueSuffixes = map[byte]float64{
	'k': 1e3,
	'm': 1e6,
	'b': 1e9,
}

// ParseRevenue is ParseNumber with k/m/b magnitude suffixes, so "$1.5M"
// becomes 1500000.
func ParseRevenue(s string) model.Numeric {
	if n := ParseNumber(s); n.IsNumber {
		return n
	}
	clean := strings.ToLower(numericCleaner.Replace(strings.TrimSpace(s)))
	if len(clean) < 2 {
		return model.TextValue(s)
	}
	mult, ok := revenueSuffixes[clean[len(clean)-1]]
	if !ok {
		return model.TextValue(s)
	}
	f, ok := parseFinite(clean[:len(clean)-1])
	if !ok {
		return model.TextValue(s)
	}
	return model.NumberValue(f * mult)
}

func normalizeYesNo(s string) string {
	switch strings.ToLower(s) {
	case "yes", "y", "true", "1":
		return "Yes"
	case "no", "n", "false", "0":
		return "No"
	default:
		return s
	}
}
