package report

// RowsPerPage is the fixed data-row capacity of a printed page. It is
// uniform across assay kinds regardless of column count; the trailing
// footnote and signature sections always fit below the final row block.
const RowsPerPage = 23

// Page assigns one contiguous slice of an assay's rows to an absolute page.
// Offset is the count of the assay's rows printed on earlier pages, used to
// continue row ordinals across page breaks.
type Page struct {
	Assay      string
	Rows       []string
	Number     int
	TotalPages int
	Offset     int
	First      bool
	Last       bool
}

// PlanPages partitions each assay's ordered row labels into fixed-capacity
// pages with globally contiguous numbering starting at 1. An assay with no
// rows still occupies one page so every assay appears in the document, and
// every page carries the same document-wide total for "Page X of Y" footers.
func PlanPages(assays []string, rows map[string][]string) []Page {
	total := 0
	for _, assay := range assays {
		total += pageCount(len(rows[assay]))
	}

	pages := make([]Page, 0, total)
	number := 0
	for _, assay := range assays {
		labels := rows[assay]
		count := pageCount(len(labels))
		for p := 0; p < count; p++ {
			start := p * RowsPerPage
			end := start + RowsPerPage
			if end > len(labels) {
				end = len(labels)
			}
			number++
			pages = append(pages, Page{
				Assay:      assay,
				Rows:       labels[start:end],
				Number:     number,
				TotalPages: total,
				Offset:     start,
				First:      p == 0,
				Last:       p == count-1,
			})
		}
	}
	return pages
}

func pageCount(rows int) int {
	if rows == 0 {
		return 1
	}
	return (rows + RowsPerPage - 1) / RowsPerPage
}
