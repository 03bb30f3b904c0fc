package ingest

import "github.com/sells-group/truth-cli/internal/model"

// synonym lists the header spellings accepted for one canonical column.
// Every canonical column also matches its own name.
type synonym struct {
	column  string
	aliases []string
}

// synonyms is the curated header table. Order breaks ties in substring
// matching.
var synonyms = []synonym{
	{model.ColEmail, []string{
		"email", "email address", "e-mail", "email id", "email id (unique)", "mail", "email_address",
		"work email", "business email",
	}},
	{model.ColFirstName, []string{
		"first name", "firstname", "fname", "given name", "first_name", "given_name",
	}},
	{model.ColLastName, []string{
		"last name", "lastname", "lname", "surname", "family name", "last_name", "family_name",
	}},
	{ColFullName, []string{
		"name", "full name", "contact name", "person name", "contact person", "full_name", "contact_name",
	}},
	{model.ColCompanyName, []string{
		"company", "company name", "account name", "organization", "organisation", "org name", "org", "account",
		"company_name", "organization_name", "organisation_name",
	}},
	{model.ColWebsite, []string{
		"website", "domain", "url", "website url", "website_url", "website urls", "web", "site",
		"company website",
	}},
	{model.ColJobTitle, []string{
		"title", "job title", "position", "role", "job_title", "job", "designation",
	}},
	{model.ColPersonPhone, []string{
		"phone", "phone number", "contact", "contact number", "mobile", "telephone", "tel",
		"contact_number", "phone_number", "person phone",
	}},
	{model.ColCompanyPhone, []string{
		"company phone", "company phone number", "company contact", "office phone", "company_phone", "office_phone",
	}},
	{model.ColCountry, []string{"country", "nation", "country_name"}},
	{model.ColState, []string{"state", "province", "region", "state_name"}},
	{model.ColCompanyLinkedIn, []string{
		"company linkedin", "linkedin company", "company_linkedin", "linkedin_company", "org linkedin",
	}},
	{model.ColPersonLinkedIn, []string{
		"linkedin", "linkedin url", "linkedin profile", "person linkedin", "linkedin_url", "linkedin_profile",
	}},
	{model.ColIndustry, []string{"industry", "sector", "vertical", "industry_name"}},
	{model.ColRevenue, []string{"revenue", "annual revenue", "annual_revenue"}},
	{model.ColSize, []string{"size", "company size", "company_size"}},
	{model.ColAddress, []string{"address", "company address", "headquarters", "hq", "company_address"}},
	{model.ColListedCompany, []string{"listed company", "publicly listed", "listed"}},
	{model.ColEmployees, []string{
		"employees", "# employees", "employee count", "number of employees", "headcount", "num_employees",
	}},
	{model.ColLeadSource, []string{"lead source", "lead_source"}},
	{model.ColClientType, []string{"client type", "client_type"}},
	{model.ColEmailSend, []string{"email send", "email send (yes/no)", "email_send"}},
	{model.ColUpdatedAt, []string{"update as on", "updated at", "updated_at"}},
	{model.ColSN, []string{"s.n.", "sn", "s.no", "serial number"}},
}

// exactOnly holds aliases too generic to match inside a longer header:
// "Contact Name" is not a phone number and "Account Owner" is not a company.
var exactOnly = map[string]bool{
	"name": true, "contact": true, "account": true, "role": true, "job": true,
	"site": true, "web": true, "tel": true, "mail": true, "org": true,
}
