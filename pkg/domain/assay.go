package domain

import "strings"

// AssayKind selects the printed table layout and the required result
// channels for an assay. Kinds are derived from the assay name; unknown
// names fall back to the qualitative layout.
type AssayKind string

const (
	// KindQualitative renders the three-column detected/not-detected table.
	KindQualitative AssayKind = "qualitative"
	// KindSalmonella renders the qualitative table with a portion column.
	KindSalmonella AssayKind = "salmonella"
	// KindTotalCount renders the TBC/mould/fungi three-metric table.
	KindTotalCount AssayKind = "total_count"
	// KindWater renders the TBC/coliform/e.coli/pseudomonas four-metric table.
	KindWater AssayKind = "water"
	// KindCulture renders the culture-isolation qualitative table.
	KindCulture AssayKind = "culture"
)

// KindOf maps an assay name to its kind by case-insensitive substring match.
// Culture/isolation is checked first so "Culture Isolation incl. fungi"
// resolves to the culture layout, matching the report-code priority order.
func KindOf(assay string) AssayKind {
	name := strings.ToLower(assay)
	switch {
	case strings.Contains(name, "culture"), strings.Contains(name, "isolation"):
		return KindCulture
	case strings.Contains(name, "salmonella"):
		return KindSalmonella
	case strings.Contains(name, "water"):
		return KindWater
	case strings.Contains(name, "total count"):
		return KindTotalCount
	case strings.Contains(name, "fungi"), strings.Contains(name, "mold"), strings.Contains(name, "mould"):
		return KindQualitative
	default:
		return KindQualitative
	}
}

// RequiredChannels returns the channels a cell of this kind must carry
// before the certificate may leave draft.
func (k AssayKind) RequiredChannels() []Channel {
	switch k {
	case KindTotalCount:
		return []Channel{ChannelValue, ChannelMould, ChannelFungi}
	case KindWater:
		return []Channel{ChannelValue, ChannelColiform, ChannelEcoli, ChannelPseudomonas}
	default:
		return []Channel{ChannelValue}
	}
}
