package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/truth-cli/internal/model"
)

func TestMapHeaders_Synonyms(t *testing.T) {
	hm := MapHeaders([]string{"E-Mail", "FIRST_NAME", "surname", "Organisation", "Company Website", "Designation", "Mobile"})

	assert.Equal(t, []string{
		model.ColEmail,
		model.ColFirstName,
		model.ColLastName,
		model.ColCompanyName,
		model.ColWebsite,
		model.ColJobTitle,
		model.ColPersonPhone,
	}, hm.Columns)
	assert.Empty(t, hm.Warnings)
	assert.Equal(t, 7, hm.Mapped())
}

func TestMapHeaders_CanonicalNames(t *testing.T) {
	hm := MapHeaders(model.FixedColumns)
	assert.Equal(t, model.FixedColumns, hm.Columns)
}

func TestMapHeaders_Substring(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Primary Email Address", model.ColEmail},
		{"Work Phone", model.ColPersonPhone},
		{"Company Phone Ext", model.ColCompanyPhone},
		{"LinkedIn Company URL", model.ColCompanyLinkedIn},
		{"Company Website URL", model.ColWebsite},
		{"Statement", ""},
		{"Notes", ""},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			hm := MapHeaders([]string{tt.header})
			assert.Equal(t, tt.want, hm.Columns[0])
		})
	}
}

func TestMapHeaders_FirstHeaderWins(t *testing.T) {
	hm := MapHeaders([]string{"Email", "Mail", "Email Backup"})

	assert.Equal(t, model.ColEmail, hm.Columns[0])
	assert.Equal(t, "", hm.Columns[1])
	assert.Equal(t, "", hm.Columns[2])
	assert.Len(t, hm.Warnings, 1)
	assert.Contains(t, hm.Warnings[0], "first match kept")
}

func TestMapHeaders_ExactBeatsSubstring(t *testing.T) {
	// "Contact Email" would match by substring, but "Email" is exact.
	hm := MapHeaders([]string{"Contact Email", "Email"})

	assert.Equal(t, model.ColEmail, hm.Columns[1])
	assert.NotEqual(t, model.ColEmail, hm.Columns[0])
}

func TestMapHeaders_EnrichmentPreserved(t *testing.T) {
	hm := MapHeaders([]string{"Apollo Person: Seniority", "Apollo  Company:  Founded Year", "Company: Keywords", "Person: Headline"})

	assert.Equal(t, []string{
		"Apollo Person: Seniority",
		"Apollo Company: Founded Year",
		"Apollo Company: Keywords",
		"Apollo Person: Headline",
	}, hm.Columns)
}

func TestMapHeaders_IgnoresIndexAndDuplicates(t *testing.T) {
	hm := MapHeaders([]string{"Unnamed: 0", "email", "email.1", "Email", ""})

	assert.Equal(t, []string{"", model.ColEmail, "", "", ""}, hm.Columns)
	assert.Len(t, hm.Warnings, 2)
	assert.True(t, hm.Has(model.ColEmail))
	assert.False(t, hm.Has(model.ColFirstName))
}

func TestMapHeaders_NameHeaders(t *testing.T) {
	hm := MapHeaders([]string{"Email", "Contact Name", "Account Owner", "Name"})

	assert.Equal(t, []string{model.ColEmail, ColFullName, "", ""}, hm.Columns)
	require.Len(t, hm.Warnings, 1)
	assert.Contains(t, hm.Warnings[0], "first match kept")
}

func TestMapHeaders_GenericAliasesExactOnly(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Name", ColFullName},
		{"Person Name", ColFullName},
		{"Contact", model.ColPersonPhone},
		{"Contact Name", ColFullName},
		{"Account", model.ColCompanyName},
		{"Account Name", model.ColCompanyName},
		{"Account Owner", ""},
		{"Owner Name", ""},
		{"Role", model.ColJobTitle},
		{"Role Owner", ""},
		{"Job Function", ""},
		{"Site Manager", ""},
		{"Contact First Name", model.ColFirstName},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			hm := MapHeaders([]string{tt.header})
			assert.Equal(t, tt.want, hm.Columns[0])
		})
	}
}
