package report

import (
	"coacore/pkg/domain"
)

// Block is one renderable section of a certificate page. Concrete block
// types carry layout-free content only; renderers decide presentation.
type Block interface {
	blockName() string
}

// HeaderBlock opens every page.
type HeaderBlock struct {
	Title    string
	UnitCode string
}

// SampleInfoBlock appears exactly once per document, on the very first page.
type SampleInfoBlock struct {
	SampleCode    string
	UnitCode      string
	Company       string
	Farm          string
	Cycle         string
	Flock         string
	Houses        []string
	Age           string
	Source        string
	SampleTypes   []string
	DateReceived  string
	SamplesNumber int
}

// AssayTitleBlock introduces an assay's table; continuation pages carry the
// continued marker instead of repeating the method text.
type AssayTitleBlock struct {
	Assay      string
	ReportCode string
	Method     string
	Continued  bool
}

// TableCell is one normalized, classified measurement.
type TableCell struct {
	Channel domain.Channel
	Raw     string
	Display string
	Class   Classification
}

// TableRow is one printed result line.
type TableRow struct {
	Ordinal int
	Index   string
	Cells   []TableCell
	Portion string
	Isolate string
	Range   string
}

// TableBlock holds the page's slice of an assay's result table.
type TableBlock struct {
	Kind    domain.AssayKind
	Columns []string
	Rows    []TableRow
}

// FootnoteBlock closes an assay with its row total and free-text notes.
type FootnoteBlock struct {
	SampleCount int
	Notes       string
}

// SignatureLine is one approval slot with its bound signer.
type SignatureLine struct {
	Slot     string
	Name     string
	ImageKey string
}

// SignatureBlock renders the approval slots on an assay's last page.
type SignatureBlock struct {
	Lines []SignatureLine
}

// WarningBlock renders the confidentiality statement on an assay's last page.
type WarningBlock struct {
	Lines []string
}

// FooterBlock carries the running page number on every page.
type FooterBlock struct {
	Page  int
	Total int
}

func (HeaderBlock) blockName() string     { return "header" }
func (SampleInfoBlock) blockName() string { return "sample_info" }
func (AssayTitleBlock) blockName() string { return "assay_title" }
func (TableBlock) blockName() string      { return "table" }
func (FootnoteBlock) blockName() string   { return "footnote" }
func (SignatureBlock) blockName() string  { return "signatures" }
func (WarningBlock) blockName() string    { return "warning" }
func (FooterBlock) blockName() string     { return "footer" }

// PageContent is one fully composed page.
type PageContent struct {
	Number int
	Total  int
	Blocks []Block
}

// Document is the ordered page sequence for one certificate, self-contained
// for output to a print or PDF surface.
type Document struct {
	UnitCode string
	Pages    []PageContent
}

var confidentialityLines = []string{
	"This report relates only to the samples tested and shall not be reproduced except in full.",
	"Results are confidential between the laboratory and the submitting party.",
}

// NormalizedCell pairs a classified value with its display form. Cells are
// precomputed once so composition never re-runs classification.
type NormalizedCell map[domain.Channel]TableCell

// NormalizeCells formats and classifies every result cell of the
// certificate against the unit's matrix context.
func NormalizeCells(unit domain.Unit, coa domain.COA) map[string]map[string]NormalizedCell {
	feed := unit.HasMatrix(domain.MatrixFeed)
	out := make(map[string]map[string]NormalizedCell, len(coa.TestResults))
	for assay, cells := range coa.TestResults {
		kind := domain.KindOf(assay)
		byIndex := make(map[string]NormalizedCell, len(cells))
		for index, cell := range cells {
			normalized := make(NormalizedCell)
			for _, ch := range kind.RequiredChannels() {
				raw := cell.Get(ch)
				normalized[ch] = TableCell{
					Channel: ch,
					Raw:     raw,
					Display: FormatScientific(raw),
					Class:   Classify(raw, KindForChannel(kind, ch), feed),
				}
			}
			byIndex[index] = normalized
		}
		out[assay] = byIndex
	}
	return out
}

// visibleIndexes drops rows the certificate hides from the printed table
// while preserving the unit's registered order.
func visibleIndexes(unit domain.Unit, coa domain.COA) map[string][]string {
	rows := make(map[string][]string, len(unit.Assays))
	for _, assay := range unit.Assays {
		var visible []string
		for _, index := range unit.IndexesFor(assay) {
			if !coa.Hidden(assay, index) {
				visible = append(visible, index)
			}
		}
		rows[assay] = visible
	}
	return rows
}

// BuildDocument runs the full compilation pipeline: normalize every cell,
// derive report codes from the unit, plan pages, and compose each page.
// The persisted test_report_numbers cache is ignored by construction.
func BuildDocument(unit domain.Unit, sample domain.Sample, coa domain.COA) Document {
	cells := NormalizeCells(unit, coa)
	codes := DeriveReportCodes(unit.Code, unit.ReceivedAt, unit.Assays)
	rows := visibleIndexes(unit, coa)
	pages := PlanPages(unit.Assays, rows)

	doc := Document{UnitCode: unit.Code, Pages: make([]PageContent, 0, len(pages))}
	for i, page := range pages {
		doc.Pages = append(doc.Pages, ComposePage(page, unit, sample, coa, cells, codes, i == 0, len(rows[page.Assay])))
	}
	return doc
}

// ComposePage assembles the ordered block sequence for one planned page.
// It is a pure function of its inputs and never recomputes classification
// or report codes, which keeps it independently testable.
func ComposePage(page Page, unit domain.Unit, sample domain.Sample, coa domain.COA,
	cells map[string]map[string]NormalizedCell, codes map[string]string,
	documentFirst bool, assayRowTotal int) PageContent {

	kind := domain.KindOf(page.Assay)
	blocks := []Block{HeaderBlock{Title: "Certificate of Analysis", UnitCode: unit.Code}}

	if documentFirst {
		blocks = append(blocks, SampleInfoBlock{
			SampleCode:    sample.Code,
			UnitCode:      unit.Code,
			Company:       sample.Company,
			Farm:          sample.Farm,
			Cycle:         sample.Cycle,
			Flock:         sample.Flock,
			Houses:        unit.Houses,
			Age:           unit.Age,
			Source:        unit.Source,
			SampleTypes:   unit.SampleTypes,
			DateReceived:  sample.DateReceived.Format("2006-01-02"),
			SamplesNumber: unit.SamplesNumber,
		})
	}

	title := AssayTitleBlock{
		Assay:      page.Assay,
		ReportCode: codes[page.Assay],
		Continued:  !page.First,
	}
	if page.First {
		title.Method = coa.TestMethods[page.Assay]
	}
	blocks = append(blocks, title)

	table := TableBlock{Kind: kind, Columns: columnsFor(kind)}
	for i, index := range page.Rows {
		row := TableRow{Ordinal: page.Offset + i + 1, Index: index}
		for _, ch := range kind.RequiredChannels() {
			row.Cells = append(row.Cells, cells[page.Assay][index][ch])
		}
		if kind == domain.KindSalmonella {
			row.Portion = coa.Portion(page.Assay, index)
		}
		if kind == domain.KindCulture {
			row.Isolate = coa.IsolateTypes[page.Assay][index]
		}
		if r := coa.TestRanges[page.Assay]; r != nil {
			row.Range = r[index]
		}
		table.Rows = append(table.Rows, row)
	}
	blocks = append(blocks, table)

	if page.Last {
		blocks = append(blocks,
			FootnoteBlock{SampleCount: assayRowTotal, Notes: coa.Notes},
			SignatureBlock{Lines: signatureLines(coa)},
			WarningBlock{Lines: confidentialityLines},
		)
	}

	blocks = append(blocks, FooterBlock{Page: page.Number, Total: page.TotalPages})
	return PageContent{Number: page.Number, Total: page.TotalPages, Blocks: blocks}
}

func columnsFor(kind domain.AssayKind) []string {
	switch kind {
	case domain.KindTotalCount:
		return []string{"No.", "Sample Index", "TBC (CFU/g)", "Mould (CFU/g)", "Fungi (CFU/g)"}
	case domain.KindWater:
		return []string{"No.", "Sample Index", "TBC (CFU/ml)", "Coliform", "E. coli", "Pseudomonas"}
	case domain.KindSalmonella:
		return []string{"No.", "Sample Index", "Result", "Test Portion"}
	case domain.KindCulture:
		return []string{"No.", "Sample Index", "Result", "Isolate Type"}
	default:
		return []string{"No.", "Sample Index", "Result"}
	}
}

var signatureSlots = []string{"tested_by", "reviewed_by", "lab_supervisor", "lab_manager"}

func signatureLines(coa domain.COA) []SignatureLine {
	names := map[string]string{
		"tested_by":      coa.TestedBy,
		"reviewed_by":    coa.ReviewedBy,
		"lab_supervisor": coa.LabSupervisor,
		"lab_manager":    coa.LabManager,
	}
	lines := make([]SignatureLine, 0, len(signatureSlots))
	for _, slot := range signatureSlots {
		line := SignatureLine{Slot: slot, Name: names[slot]}
		if b, ok := coa.Signatures[slot]; ok {
			line.ImageKey = b.ImageKey
			if line.Name == "" {
				line.Name = b.Name
			}
		}
		lines = append(lines, line)
	}
	return lines
}
