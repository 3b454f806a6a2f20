// Package report implements the certificate compilation pipeline: raw value
// normalization and classification, per-assay report-code derivation, page
// planning, and section composition into a renderable block tree.
package report

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"coacore/pkg/domain"
)

// Classification is the pass/fail verdict attached to a rendered cell.
type Classification string

const (
	ClassPass    Classification = "pass"
	ClassFail    Classification = "fail"
	ClassNeutral Classification = "neutral"
)

// ChannelKind selects the classification rule applied to a raw value.
type ChannelKind string

const (
	// ChannelKindTotalCount applies the matrix-dependent CFU threshold.
	ChannelKindTotalCount ChannelKind = "total_count"
	// ChannelKindWaterPrimary applies the TBC drinking-water limit.
	ChannelKindWaterPrimary ChannelKind = "water_primary"
	// ChannelKindWaterSecondary applies the coliform/e.coli/pseudomonas limit.
	ChannelKindWaterSecondary ChannelKind = "water_secondary"
	// ChannelKindQualitative applies detected/not-detected term matching.
	ChannelKindQualitative ChannelKind = "qualitative"
)

// Thresholds for numeric classification. Counts at or above the total-count
// limit fail; water metrics fail strictly above their limit.
const (
	totalCountLimit     = 1000
	totalCountFeedLimit = 100000
	waterPrimaryLimit   = 56
	waterSecondaryLimit = 1
)

var (
	lessThanRe    = regexp.MustCompile(`(?i)less\s+than\s*(\d+(?:\.\d+)?)?`)
	scientificRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[x×]\s*10\s*(?:\^\s*([+-]?\d+)|([⁰¹²³⁴⁵⁶⁷⁸⁹⁻]+))`)
	firstNumberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// ParseNumeric extracts a numeric magnitude from a raw lab result string.
// It returns ok=false for empty values, dash placeholders, and text without
// digits. "Less than n" reads one unit below the stated detection floor,
// never below zero.
func ParseNumeric(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.Trim(s, "-") == "" {
		return 0, false
	}
	if m := lessThanRe.FindStringSubmatch(s); m != nil {
		if m[1] == "" {
			return 0, true
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil || n < 1 {
			return 0, true
		}
		return n - 1, true
	}
	if m := scientificRe.FindStringSubmatch(s); m != nil {
		mantissa, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			expText := m[2]
			if expText == "" {
				expText = fromSuperscript(m[3])
			}
			exp, err := strconv.Atoi(expText)
			if err == nil {
				return mantissa * math.Pow10(exp), true
			}
		}
	}
	if m := firstNumberRe.FindString(s); m != "" {
		if n, err := strconv.ParseFloat(m, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// FormatScientific renders counts of 10 or more as "m×10ⁿ" with the
// exponent in Unicode superscript digits. Values below the rescale
// threshold, and unparseable text, pass through unchanged, which makes the
// function idempotent on already-formatted small values.
func FormatScientific(raw string) string {
	v, ok := ParseNumeric(raw)
	if !ok || v < 10 {
		return raw
	}
	exp := int(math.Floor(math.Log10(v)))
	mantissa := math.Round(v/math.Pow10(exp)*10) / 10
	if mantissa >= 10 {
		mantissa /= 10
		exp++
	}
	return strconv.FormatFloat(mantissa, 'f', -1, 64) + "×10" + toSuperscript(exp)
}

// Classify applies the matrix-aware pass/fail rule for a channel kind.
// Malformed numeric text degrades to neutral rather than raising.
func Classify(raw string, kind ChannelKind, feedMatrix bool) Classification {
	switch kind {
	case ChannelKindTotalCount:
		v, ok := ParseNumeric(raw)
		if !ok {
			return ClassNeutral
		}
		limit := float64(totalCountLimit)
		if feedMatrix {
			limit = totalCountFeedLimit
		}
		if v >= limit {
			return ClassFail
		}
		return ClassPass
	case ChannelKindWaterPrimary:
		v, ok := ParseNumeric(raw)
		if !ok {
			return ClassNeutral
		}
		if v > waterPrimaryLimit {
			return ClassFail
		}
		return ClassPass
	case ChannelKindWaterSecondary:
		v, ok := ParseNumeric(raw)
		if !ok {
			return ClassNeutral
		}
		if v > waterSecondaryLimit {
			return ClassFail
		}
		return ClassPass
	default:
		return classifyQualitative(raw)
	}
}

func classifyQualitative(raw string) Classification {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ClassNeutral
	}
	switch s {
	case "not detected":
		return ClassPass
	case "detected", "positive", "pos":
		return ClassFail
	}
	for _, term := range []string{"less than", "no bacterial", "no coliform", "no fungal"} {
		if strings.Contains(s, term) {
			return ClassPass
		}
	}
	return ClassNeutral
}

// KindForChannel resolves the classification rule for one channel of an
// assay kind. Total-count tables apply the CFU threshold to every metric;
// water tables distinguish TBC from the secondary organisms.
func KindForChannel(assay domain.AssayKind, ch domain.Channel) ChannelKind {
	switch assay {
	case domain.KindTotalCount:
		return ChannelKindTotalCount
	case domain.KindWater:
		if ch == domain.ChannelValue {
			return ChannelKindWaterPrimary
		}
		return ChannelKindWaterSecondary
	default:
		return ChannelKindQualitative
	}
}

var superscripts = map[rune]rune{
	'0': '⁰', '1': '¹', '2': '²', '3': '³', '4': '⁴',
	'5': '⁵', '6': '⁶', '7': '⁷', '8': '⁸', '9': '⁹', '-': '⁻',
}

func toSuperscript(exp int) string {
	var b strings.Builder
	for _, r := range strconv.Itoa(exp) {
		b.WriteRune(superscripts[r])
	}
	return b.String()
}

func fromSuperscript(s string) string {
	normal := map[rune]rune{
		'⁰': '0', '¹': '1', '²': '2', '³': '3', '⁴': '4',
		'⁵': '5', '⁶': '6', '⁷': '7', '⁸': '8', '⁹': '9', '⁻': '-',
	}
	var b strings.Builder
	for _, r := range s {
		if n, ok := normal[r]; ok {
			b.WriteRune(n)
		}
	}
	return b.String()
}
