package enrich

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/truth-cli/internal/ingest"
	"github.com/sells-group/truth-cli/internal/model"
)

// maxDepth bounds how far nested objects are flattened. Top-level keys are
// depth 1.
const maxDepth = 2

// lockedEmailPrefix marks an address Apollo withholds until it is unlocked.
const lockedEmailPrefix = "email_not_unlocked"

// blobKeys are payload sections that never become columns. Some feed fixed
// or curated columns through explicit paths.
var blobKeys = map[string]bool{
	"employment_history":    true,
	"account":               true,
	"suborganizations":      true,
	"organization":          true,
	"phone_numbers":         true,
	"funding_events":        true,
	"current_technologies":  true,
	"contact_emails":        true,
	"personal_emails":       true,
	"intent_signal_account": true,
	"org_chart_root_people": true,
	"org_chart_sector":      true,
	"typed_custom_fields":   true,
}

// curated is a payload key rendered under a fixed field name.
type curated struct {
	name   string
	key    string
	render func(gjson.Result) string
}

var personCurated = []curated{
	{"Email Status", "email_status", scalar},
	{"Headline", "headline", scalar},
	{"Seniority", "seniority", scalar},
	{"Departments", "departments", scalarList},
	{"Subdepartments", "subdepartments", scalarList},
	{"Functions", "functions", scalarList},
	{"Photo URL", "photo_url", scalar},
	{"Twitter URL", "twitter_url", scalar},
	{"Github URL", "github_url", scalar},
	{"Facebook URL", "facebook_url", scalar},
	{"Is Likely To Engage", "is_likely_to_engage", scalar},
	{"Current Org", "employment_history.0.organization_name", scalar},
	{"Current Role Start Date", "employment_history.0.start_date", scalar},
}

var companyCurated = []curated{
	{"Primary Domain", "primary_domain", scalar},
	{"Founded Year", "founded_year", scalar},
	{"Alexa Ranking", "alexa_ranking", scalar},
	{"SEO Description", "seo_description", scalar},
	{"Short Description", "short_description", scalar},
	{"Keywords", "keywords", scalarList},
	{"Public Ticker", "publicly_traded_symbol", scalar},
	{"Public Exchange", "publicly_traded_exchange", scalar},
	{"Logo URL", "logo_url", scalar},
	{"Twitter URL", "twitter_url", scalar},
	{"Facebook URL", "facebook_url", scalar},
	{"Revenue Range", "revenue_range", scalar},
	{"Employee Range", "employee_count_range", scalar},
	{"Total Funding", "total_funding", scalar},
	{"Latest Funding Round Date", "latest_funding_round_date", scalar},
	{"Technologies", "technology_names", scalarList},
}

// Keys consumed by fixed columns. They are not flattened again.
var (
	personFixedKeys = []string{
		"first_name", "last_name", "name", "title", "email", "linkedin_url",
		"country", "state",
	}
	companyFixedKeys = []string{
		"name", "industry", "industries", "website_url", "linkedin_url",
		"estimated_num_employees", "phone", "primary_phone", "raw_address",
		"street_address", "city", "state", "country", "postal_code",
		"estimated_annual_revenue", "annual_revenue", "size", "organization_size",
		"sanitized_phone",
	}
)

// Mapped is one payload mapped onto the truth table.
type Mapped struct {
	// Fixed holds canonical column values.
	Fixed map[string]string
	// Fields holds dynamic enrichment columns in payload order.
	Fields []model.EnrichmentField
}

// MapPerson maps a people match payload. The embedded organization, when
// present, is returned separately and maps into the company namespace.
func MapPerson(p gjson.Result) (person, org Mapped) {
	person.Fixed = make(map[string]string)
	set := func(col, v string) {
		if v != "" {
			person.Fixed[col] = v
		}
	}
	set(model.ColFirstName, scalar(p.Get("first_name")))
	set(model.ColLastName, scalar(p.Get("last_name")))
	set(model.ColJobTitle, scalar(p.Get("title")))
	set(model.ColEmail, apolloEmail(p.Get("email")))
	set(model.ColPersonLinkedIn, scalar(p.Get("linkedin_url")))
	set(model.ColCountry, scalar(p.Get("country")))
	set(model.ColState, scalar(p.Get("state")))
	set(model.ColPersonPhone, firstPhone(p.Get("phone_numbers")))

	person.Fields = mapFields(model.OriginPerson, p, personCurated, personFixedKeys)

	if o := p.Get("organization"); o.IsObject() && len(o.Map()) > 0 {
		org = MapOrganization(o)
	}
	return person, org
}

// MapOrganization maps an organization payload.
func MapOrganization(o gjson.Result) Mapped {
	m := Mapped{Fixed: make(map[string]string)}
	set := func(col, v string) {
		if v != "" {
			m.Fixed[col] = v
		}
	}
	set(model.ColCompanyName, scalar(o.Get("name")))
	set(model.ColIndustry, first(scalar(o.Get("industry")), scalar(o.Get("industries.0"))))
	set(model.ColWebsite, ingest.ExtractDomain(scalar(o.Get("website_url"))))
	set(model.ColCompanyLinkedIn, scalar(o.Get("linkedin_url")))
	set(model.ColEmployees, scalar(o.Get("estimated_num_employees")))
	set(model.ColCompanyPhone, first(
		scalar(o.Get("phone")),
		scalar(o.Get("primary_phone.number")),
		scalar(o.Get("account.phone")),
	))
	set(model.ColAddress, first(scalar(o.Get("raw_address")), joinNonEmpty(", ",
		scalar(o.Get("city")), scalar(o.Get("state")), scalar(o.Get("country")))))
	if scalar(o.Get("publicly_traded_symbol")) != "" {
		set(model.ColListedCompany, "Yes")
	} else {
		set(model.ColListedCompany, "No")
	}
	set(model.ColRevenue, first(scalar(o.Get("estimated_annual_revenue")), scalar(o.Get("annual_revenue"))))
	set(model.ColSize, first(scalar(o.Get("size")), scalar(o.Get("organization_size"))))

	m.Fields = mapFields(model.OriginCompany, o, companyCurated, companyFixedKeys)
	return m
}

// mapFields renders curated fields first, then flattens every remaining
// key not already consumed.
func mapFields(origin model.Origin, obj gjson.Result, cur []curated, fixedKeys []string) []model.EnrichmentField {
	consumed := make(map[string]bool, len(cur)+len(fixedKeys))
	for _, k := range fixedKeys {
		consumed[k] = true
	}
	seen := make(map[string]bool)

	var out []model.EnrichmentField
	add := func(name, v string) {
		if v == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, model.EnrichmentField{Origin: origin, Name: name, Value: v})
	}

	for _, c := range cur {
		top, _, _ := strings.Cut(c.key, ".")
		consumed[top] = true
		add(c.name, c.render(obj.Get(c.key)))
	}

	obj.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		if consumed[key] || excludedKey(key) {
			return true
		}
		flatten([]string{key}, v, 1, add)
		return true
	})
	return out
}

// flatten emits scalar and scalar-array leaves of v under path.
func flatten(path []string, v gjson.Result, depth int, add func(name, value string)) {
	switch {
	case v.IsObject():
		if depth >= maxDepth {
			return
		}
		v.ForEach(func(k, c gjson.Result) bool {
			key := k.String()
			if excludedKey(key) {
				return true
			}
			next := append(path[:len(path):len(path)], key)
			flatten(next, c, depth+1, add)
			return true
		})
	case v.IsArray():
		add(FieldName(path...), scalarList(v))
	default:
		add(FieldName(path...), scalar(v))
	}
}

func excludedKey(key string) bool {
	return key == "id" || strings.HasSuffix(key, "_id") || strings.HasSuffix(key, "_ids") || blobKeys[key]
}

// acronyms keep their upper case in generated field names.
var acronyms = map[string]string{
	"url":   "URL",
	"seo":   "SEO",
	"uid":   "UID",
	"sic":   "SIC",
	"naics": "NAICS",
	"hq":    "HQ",
	"ceo":   "CEO",
}

// FieldName renders a payload path as a column field name:
// ("departmental_head_count", "sales") becomes "Departmental Head Count Sales".
func FieldName(path ...string) string {
	caser := cases.Title(language.English)
	var words []string
	for _, seg := range path {
		for _, w := range strings.FieldsFunc(seg, func(r rune) bool { return r == '_' || r == '-' || r == ' ' || r == '.' }) {
			if a, ok := acronyms[strings.ToLower(w)]; ok {
				words = append(words, a)
				continue
			}
			words = append(words, caser.String(w))
		}
	}
	return strings.Join(words, " ")
}

// scalar renders a leaf value. Objects, arrays and null render empty.
func scalar(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return ingest.CleanText(v.String())
	case gjson.Number:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case gjson.True:
		return "Yes"
	case gjson.False:
		return "No"
	default:
		return ""
	}
}

// scalarList joins a scalar array. Arrays holding objects or arrays render
// empty.
func scalarList(v gjson.Result) string {
	if !v.IsArray() {
		return scalar(v)
	}
	var parts []string
	for _, e := range v.Array() {
		if e.IsObject() || e.IsArray() {
			return ""
		}
		if s := scalar(e); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func firstPhone(v gjson.Result) string {
	p := v.Get("0")
	if p.IsObject() {
		return first(scalar(p.Get("sanitized_number")), scalar(p.Get("raw_number")))
	}
	return scalar(p)
}

// apolloEmail returns a valid, unlocked address or "".
func apolloEmail(v gjson.Result) string {
	e := ingest.NormalizeEmail(scalar(v))
	if strings.HasPrefix(e, lockedEmailPrefix) || !ingest.ValidEmail(e) {
		return ""
	}
	return e
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, vals ...string) string {
	var parts []string
	for _, v := range vals {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}
