package ingest

import (
	"strings"

	"github.com/sells-group/truth-cli/internal/model"
)

// DedupeByEmail collapses records sharing an email. The last occurrence's
// values win but the record keeps the position of the first occurrence.
// Records without an email are never collapsed. It returns the number of
// records removed.
func DedupeByEmail(recs []*model.ContactRecord) ([]*model.ContactRecord, int) {
	pos := make(map[string]int, len(recs))
	out := make([]*model.ContactRecord, 0, len(recs))
	for _, r := range recs {
		if r.Email == "" {
			out = append(out, r)
			continue
		}
		if i, ok := pos[r.Email]; ok {
			out[i] = r
			continue
		}
		pos[r.Email] = len(out)
		out = append(out, r)
	}
	return out, len(recs) - len(out)
}

// DedupeByNameAndCompany keeps the first record for each case-insensitive
// (first name, last name, company) triple. It returns the number removed.
func DedupeByNameAndCompany(recs []*model.ContactRecord) ([]*model.ContactRecord, int) {
	seen := make(map[[3]string]bool, len(recs))
	out := make([]*model.ContactRecord, 0, len(recs))
	for _, r := range recs {
		key := [3]string{
			strings.ToLower(r.FirstName),
			strings.ToLower(r.LastName),
			strings.ToLower(r.CompanyName),
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out, len(recs) - len(out)
}
