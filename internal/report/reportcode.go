package report

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// sequenceRe captures the digits following the unit code's assay prefix and
// the literal dash, e.g. "MIC-7" and "MIC25-7" both yield "7".
var sequenceRe = regexp.MustCompile(`^[A-Za-z]+\d*-(\d+)$`)

// assayPrefixes maps case-insensitive assay-name substrings to report-code
// prefixes. Order matters: culture/isolation is matched before fungi so
// combined assay names resolve to the culture certificate series.
var assayPrefixes = []struct {
	term   string
	prefix string
}{
	{"culture", "CU"},
	{"isolation", "CU"},
	{"fungi", "FUNGI"},
	{"mold", "FUNGI"},
	{"mould", "FUNGI"},
	{"salmonella", "SALM"},
	{"water", "WATER"},
	{"total count", "COUNT"},
}

// DeriveReportCode maps (unit code, received date, assay name) to the
// deterministic per-assay certificate identifier, e.g.
// ("MIC25-7", 2025, "Salmonella spp.") -> "SALM25-7". When the unit code
// carries no sequence number, or the assay name matches no known series,
// the unit code passes through unchanged. The function is pure; persisted
// codes are a cache and callers must re-derive at render time.
func DeriveReportCode(unitCode string, receivedDate time.Time, assayName string) string {
	m := sequenceRe.FindStringSubmatch(strings.TrimSpace(unitCode))
	if m == nil {
		return unitCode
	}
	sequence := m[1]

	year := receivedDate.Year()
	if receivedDate.IsZero() {
		year = time.Now().Year()
	}

	name := strings.ToLower(assayName)
	for _, p := range assayPrefixes {
		if strings.Contains(name, p.term) {
			return fmt.Sprintf("%s%02d-%s", p.prefix, year%100, sequence)
		}
	}
	return unitCode
}

// DeriveReportCodes computes the report code for every assay of a unit.
// The returned map replaces any cached test_report_numbers on read.
func DeriveReportCodes(unitCode string, receivedDate time.Time, assays []string) map[string]string {
	codes := make(map[string]string, len(assays))
	for _, assay := range assays {
		codes[assay] = DeriveReportCode(unitCode, receivedDate, assay)
	}
	return codes
}
