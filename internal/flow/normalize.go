package flow

import (
	"strings"

	"github.com/CampusCompass/VoiceIntake/internal/models"
)

// keywordEntry maps a spoken keyword to its canonical value. Entries are
// scanned in declared order and the first substring match wins; the order is
// the tie-break contract, so do not reorder these tables.
type keywordEntry struct {
	keyword   string
	canonical string
}

var educationLevelTable = []keywordEntry{
	{"bachelors", "Bachelor's Degree"},
	{"bachelor", "Bachelor's Degree"},
	{"masters", "Master's Degree"},
	{"master", "Master's Degree"},
	{"phd", "PhD"},
	{"doctorate", "PhD"},
	{"school", "High School"},
}

var intendedDegreeTable = []keywordEntry{
	{"bachelor", "Bachelor's"},
	{"master", "Master's"},
	{"mba", "MBA"},
	{"phd", "PhD"},
}

var budgetRangeTable = []keywordEntry{
	{"under 20", "Under $20K"},
	{"20k", "$20K - $40K"},
	{"40k", "$40K - $60K"},
	{"60k", "Over $60K"},
	{"over", "Over $60K"},
}

var fundingPlanTable = []keywordEntry{
	{"self", "Self-Funded"},
	{"family", "Self-Funded"},
	{"scholarship", "Scholarship-Dependent"},
	{"grant", "Scholarship-Dependent"},
	{"loan", "Loan-Dependent"},
}

var statusTable = []keywordEntry{
	{"not", "Not Started"},
	{"started", "In Progress"},
	{"progress", "In Progress"},
	{"completed", "Completed"},
	{"done", "Completed"},
}

var targetIntakeTable = []keywordEntry{
	{"fall 2025", "Fall 2025"},
	{"spring 2025", "Spring 2025"},
	{"fall 2026", "Fall 2026"},
	{"spring 2026", "Spring 2026"},
}

// CatalogCountries is the fixed set of recognizable countries for the
// preferredCountries field, in canonical spelling.
var CatalogCountries = []string{
	"USA",
	"UK",
	"Canada",
	"Australia",
	"Germany",
	"Singapore",
	"Netherlands",
}

// tables selects the canonicalization table for a field key. Status-typed
// fields share one table.
func tableForKey(key string) []keywordEntry {
	switch key {
	case "educationLevel":
		return educationLevelTable
	case "intendedDegree":
		return intendedDegreeTable
	case "budgetRange":
		return budgetRangeTable
	case "fundingPlan":
		return fundingPlanTable
	case "targetIntake":
		return targetIntakeTable
	}
	if strings.HasSuffix(key, "Status") {
		return statusTable
	}
	return nil
}

// Normalize maps a raw recognized utterance to its canonical value for the
// given field key. It is pure and total: unmatched table-backed input yields
// an empty value, never an error.
//
// Table-backed keys return the first declared keyword found as a substring
// of the lowercased, period-stripped input. preferredCountries returns every
// catalog country whose name appears in the input. All other keys return the
// trimmed text with a single trailing period removed.
func Normalize(raw, key string) models.CanonicalValue {
	if raw == "" {
		if key == "preferredCountries" {
			return models.CanonicalValue{List: []string{}}
		}
		return models.CanonicalValue{}
	}

	t := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(raw), ".", ""))

	if key == "preferredCountries" {
		matched := []string{}
		for _, country := range CatalogCountries {
			if strings.Contains(t, strings.ToLower(country)) {
				matched = append(matched, country)
			}
		}
		return models.CanonicalValue{List: matched}
	}

	if table := tableForKey(key); table != nil {
		for _, entry := range table {
			if strings.Contains(t, entry.keyword) {
				return models.CanonicalValue{Text: entry.canonical}
			}
		}
		return models.CanonicalValue{}
	}

	// Free-text field: keep the utterance, minus one trailing period.
	return models.CanonicalValue{Text: strings.TrimSuffix(strings.TrimSpace(raw), ".")}
}
