// Package ingest maps raw spreadsheet and scrape rows onto canonical contact
// records, normalizes their values and removes duplicates.
package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/truth-cli/internal/model"
)

var (
	unnamedRe   = regexp.MustCompile(`(?i)^unnamed:\s*\d+$`)
	dupSuffixRe = regexp.MustCompile(`^(.+)\.\d+$`)
)

// Short enrichment prefixes accepted on input and rewritten to the stored ones.
const (
	shortPersonPrefix  = "Person: "
	shortCompanyPrefix = "Company: "
)

// ColFullName is the pseudo column for a single name header. Normalize splits
// it into First Name and Last Name; it is never stored.
const ColFullName = "Full Name"

// HeaderMap is the result of matching a header row. Columns[i] is the
// canonical or preserved column for header i, or "" when the header is ignored.
type HeaderMap struct {
	Columns  []string
	Warnings []string
}

// Mapped returns the number of headers that resolved to a column.
func (h HeaderMap) Mapped() int {
	n := 0
	for _, c := range h.Columns {
		if c != "" {
			n++
		}
	}
	return n
}

// Has reports whether any header resolved to col.
func (h HeaderMap) Has(col string) bool {
	for _, c := range h.Columns {
		if c == col {
			return true
		}
	}
	return false
}

type aliasEntry struct {
	column string
	words  []string
	order  int
}

var (
	exactAliases = map[string]string{}
	allAliases   []aliasEntry
)

func init() {
	for i, s := range synonyms {
		for _, a := range append([]string{s.column}, s.aliases...) {
			key := headerKey(a)
			if _, dup := exactAliases[key]; !dup {
				exactAliases[key] = s.column
			}
			if exactOnly[key] {
				continue
			}
			allAliases = append(allAliases, aliasEntry{column: s.column, words: strings.Fields(key), order: i})
		}
	}
}

// headerKey folds case, underscores, hyphens and runs of whitespace.
func headerKey(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// MapHeaders resolves each header to a canonical column. Exact synonym
// matches are assigned first, then remaining headers are matched by the
// longest synonym they contain as a whole-word sequence. Generic one-word
// aliases only match exactly. The first header to claim a column keeps it.
// Headers carrying an enrichment prefix are kept verbatim.
func MapHeaders(headers []string) HeaderMap {
	hm := HeaderMap{Columns: make([]string, len(headers))}
	claimed := make(map[string]bool)
	seen := make(map[string]bool)
	keys := make([]string, len(headers))
	skip := make([]bool, len(headers))

	for i, h := range headers {
		trimmed := strings.TrimSpace(h)
		keys[i] = headerKey(trimmed)
		switch {
		case trimmed == "" || unnamedRe.MatchString(trimmed):
			skip[i] = true
			continue
		case seen[keys[i]]:
			hm.Warnings = append(hm.Warnings, fmt.Sprintf("duplicate column %q ignored", trimmed))
			skip[i] = true
			continue
		}
		seen[keys[i]] = true
	}
	for i, h := range headers {
		if skip[i] {
			continue
		}
		if m := dupSuffixRe.FindStringSubmatch(keys[i]); m != nil && seen[m[1]] {
			hm.Warnings = append(hm.Warnings, fmt.Sprintf("duplicate column %q ignored", strings.TrimSpace(h)))
			skip[i] = true
		}
	}

	// Enrichment columns.
	for i, h := range headers {
		if skip[i] {
			continue
		}
		if col, ok := enrichmentHeader(h); ok {
			hm.Columns[i] = col
			skip[i] = true
		}
	}

	// Exact synonyms.
	for i := range headers {
		if skip[i] {
			continue
		}
		col, ok := exactAliases[keys[i]]
		if !ok {
			continue
		}
		skip[i] = true
		if claimed[col] {
			hm.Warnings = append(hm.Warnings, fmt.Sprintf("column %q also maps to %q; first match kept", strings.TrimSpace(headers[i]), col))
			continue
		}
		claimed[col] = true
		hm.Columns[i] = col
	}

	// Longest contained synonym.
	for i := range headers {
		if skip[i] {
			continue
		}
		if col := bestContained(keys[i], claimed); col != "" {
			claimed[col] = true
			hm.Columns[i] = col
		}
	}
	return hm
}

// enrichmentHeader returns the stored column for a prefixed header.
func enrichmentHeader(h string) (string, bool) {
	h = strings.Join(strings.Fields(h), " ")
	if _, _, ok := model.ParseEnrichmentColumn(h); ok {
		return h, true
	}
	for short, full := range map[string]string{
		shortPersonPrefix:  model.PersonPrefix,
		shortCompanyPrefix: model.CompanyPrefix,
	} {
		if strings.HasPrefix(h, short) && len(h) > len(short) {
			return full + h[len(short):], true
		}
	}
	return "", false
}

// bestContained returns the unclaimed column whose alias is the longest
// whole-word subsequence of key.
func bestContained(key string, claimed map[string]bool) string {
	words := strings.Fields(key)
	best, bestLen, bestOrder := "", 0, len(synonyms)
	for _, a := range allAliases {
		if claimed[a.column] || !containsWords(words, a.words) {
			continue
		}
		if len(a.words) > bestLen || (len(a.words) == bestLen && a.order < bestOrder) {
			best, bestLen, bestOrder = a.column, len(a.words), a.order
		}
	}
	return best
}

func containsWords(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, w := range needle {
			if haystack[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}
