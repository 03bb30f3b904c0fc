package ingest

import (
	"strings"

	"github.com/sells-group/truth-cli/internal/model"
)

// Person is one extracted name and organization from a scraped page. Name
// holds a full name when the extractor could not split it.
type Person struct {
	Name         string `json:"name,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	Organization string `json:"organization,omitempty"`
	Email        string `json:"email,omitempty"`
}

// scrapeHeaders is the header row produced by RowsFromScrape.
var scrapeHeaders = []string{
	model.ColFirstName,
	model.ColLastName,
	model.ColCompanyName,
	model.ColEmail,
}

// RowsFromScrape turns extracted people into a header row and data rows for
// Normalize. A full name is split on its first space when no last name was
// given. People with no name and no organization are dropped.
func RowsFromScrape(people []Person) ([]string, [][]string) {
	rows := make([][]string, 0, len(people))
	for _, p := range people {
		first, last := splitName(p)
		org := CleanText(p.Organization)
		if first == "" && last == "" && org == "" {
			continue
		}
		rows = append(rows, []string{first, last, org, strings.TrimSpace(p.Email)})
	}
	return append([]string{}, scrapeHeaders...), rows
}

func splitName(p Person) (string, string) {
	first, last := CleanText(p.FirstName), CleanText(p.LastName)
	if first == "" && last == "" {
		first = CleanText(p.Name)
	}
	if last == "" {
		if f, l, ok := strings.Cut(first, " "); ok {
			return f, l
		}
	}
	return first, last
}
