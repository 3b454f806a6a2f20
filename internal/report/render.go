package report

import (
	"fmt"
	"html"
	"strings"
)

// RenderHTML serializes a composed document to a standalone HTML page per
// printed certificate page. Classification drives a CSS class per cell so a
// print stylesheet can colour failures without re-running the pipeline.
func RenderHTML(doc Document) []byte {
	buf := &strings.Builder{}
	buf.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>Certificate of Analysis ")
	buf.WriteString(html.EscapeString(doc.UnitCode))
	buf.WriteString("</title></head><body>")
	for _, page := range doc.Pages {
		buf.WriteString("<section class=\"page\">")
		for _, block := range page.Blocks {
			writeHTMLBlock(buf, block)
		}
		buf.WriteString("</section>")
	}
	buf.WriteString("</body></html>")
	return []byte(buf.String())
}

func writeHTMLBlock(buf *strings.Builder, block Block) {
	switch b := block.(type) {
	case HeaderBlock:
		buf.WriteString("<header><h1>")
		buf.WriteString(html.EscapeString(b.Title))
		buf.WriteString("</h1><p class=\"unit\">")
		buf.WriteString(html.EscapeString(b.UnitCode))
		buf.WriteString("</p></header>")
	case SampleInfoBlock:
		buf.WriteString("<dl class=\"sample-info\">")
		writeHTMLField(buf, "Sample", b.SampleCode)
		writeHTMLField(buf, "Unit", b.UnitCode)
		writeHTMLField(buf, "Company", b.Company)
		writeHTMLField(buf, "Farm", b.Farm)
		writeHTMLField(buf, "Cycle", b.Cycle)
		writeHTMLField(buf, "Flock", b.Flock)
		writeHTMLField(buf, "House", strings.Join(b.Houses, ", "))
		writeHTMLField(buf, "Age", b.Age)
		writeHTMLField(buf, "Source", b.Source)
		writeHTMLField(buf, "Sample Type", strings.Join(b.SampleTypes, ", "))
		writeHTMLField(buf, "Date Received", b.DateReceived)
		writeHTMLField(buf, "No. of Samples", fmt.Sprintf("%d", b.SamplesNumber))
		buf.WriteString("</dl>")
	case AssayTitleBlock:
		buf.WriteString("<h2>")
		buf.WriteString(html.EscapeString(b.Assay))
		if b.Continued {
			buf.WriteString(" (Continued)")
		}
		buf.WriteString("</h2><p class=\"report-code\">")
		buf.WriteString(html.EscapeString(b.ReportCode))
		buf.WriteString("</p>")
		if b.Method != "" {
			buf.WriteString("<p class=\"method\">")
			buf.WriteString(html.EscapeString(b.Method))
			buf.WriteString("</p>")
		}
	case TableBlock:
		buf.WriteString("<table><thead><tr>")
		for _, column := range b.Columns {
			buf.WriteString("<th>")
			buf.WriteString(html.EscapeString(column))
			buf.WriteString("</th>")
		}
		buf.WriteString("</tr></thead><tbody>")
		for _, row := range b.Rows {
			buf.WriteString("<tr><td>")
			buf.WriteString(fmt.Sprintf("%d", row.Ordinal))
			buf.WriteString("</td><td>")
			buf.WriteString(html.EscapeString(row.Index))
			buf.WriteString("</td>")
			for _, cell := range row.Cells {
				buf.WriteString("<td class=\"")
				buf.WriteString(string(cell.Class))
				buf.WriteString("\">")
				buf.WriteString(html.EscapeString(cell.Display))
				buf.WriteString("</td>")
			}
			if row.Portion != "" {
				buf.WriteString("<td>")
				buf.WriteString(html.EscapeString(row.Portion))
				buf.WriteString("</td>")
			}
			if row.Isolate != "" {
				buf.WriteString("<td>")
				buf.WriteString(html.EscapeString(row.Isolate))
				buf.WriteString("</td>")
			}
			buf.WriteString("</tr>")
		}
		buf.WriteString("</tbody></table>")
	case FootnoteBlock:
		buf.WriteString("<p class=\"footnote\">Total samples tested: ")
		buf.WriteString(fmt.Sprintf("%d", b.SampleCount))
		buf.WriteString("</p>")
		if b.Notes != "" {
			buf.WriteString("<p class=\"notes\">")
			buf.WriteString(html.EscapeString(b.Notes))
			buf.WriteString("</p>")
		}
	case SignatureBlock:
		buf.WriteString("<div class=\"signatures\">")
		for _, line := range b.Lines {
			buf.WriteString("<div class=\"signature\"><span class=\"slot\">")
			buf.WriteString(html.EscapeString(slotLabel(line.Slot)))
			buf.WriteString("</span><span class=\"name\">")
			buf.WriteString(html.EscapeString(line.Name))
			buf.WriteString("</span>")
			if line.ImageKey != "" {
				buf.WriteString("<img src=\"")
				buf.WriteString(html.EscapeString(line.ImageKey))
				buf.WriteString("\" alt=\"signature\">")
			}
			buf.WriteString("</div>")
		}
		buf.WriteString("</div>")
	case WarningBlock:
		buf.WriteString("<div class=\"warning\">")
		for _, line := range b.Lines {
			buf.WriteString("<p>")
			buf.WriteString(html.EscapeString(line))
			buf.WriteString("</p>")
		}
		buf.WriteString("</div>")
	case FooterBlock:
		buf.WriteString("<footer>Page ")
		buf.WriteString(fmt.Sprintf("%d of %d", b.Page, b.Total))
		buf.WriteString("</footer>")
	}
}

func writeHTMLField(buf *strings.Builder, label, value string) {
	buf.WriteString("<dt>")
	buf.WriteString(html.EscapeString(label))
	buf.WriteString("</dt><dd>")
	buf.WriteString(html.EscapeString(value))
	buf.WriteString("</dd>")
}

// RenderText serializes a composed document to plain text for terminal
// inspection. The layout mirrors the page/block order of the HTML form.
func RenderText(doc Document) []byte {
	buf := &strings.Builder{}
	for i, page := range doc.Pages {
		if i > 0 {
			buf.WriteString("\n" + strings.Repeat("=", 72) + "\n\n")
		}
		for _, block := range page.Blocks {
			writeTextBlock(buf, block)
		}
	}
	return []byte(buf.String())
}

func writeTextBlock(buf *strings.Builder, block Block) {
	switch b := block.(type) {
	case HeaderBlock:
		fmt.Fprintf(buf, "%s  [%s]\n\n", b.Title, b.UnitCode)
	case SampleInfoBlock:
		fmt.Fprintf(buf, "Sample: %s  Unit: %s\n", b.SampleCode, b.UnitCode)
		fmt.Fprintf(buf, "Company: %s  Farm: %s  Cycle: %s  Flock: %s\n", b.Company, b.Farm, b.Cycle, b.Flock)
		fmt.Fprintf(buf, "House: %s  Age: %s  Source: %s\n", strings.Join(b.Houses, ", "), b.Age, b.Source)
		fmt.Fprintf(buf, "Sample Type: %s  Received: %s  Samples: %d\n\n", strings.Join(b.SampleTypes, ", "), b.DateReceived, b.SamplesNumber)
	case AssayTitleBlock:
		name := b.Assay
		if b.Continued {
			name += " (Continued)"
		}
		fmt.Fprintf(buf, "%s  %s\n", name, b.ReportCode)
		if b.Method != "" {
			fmt.Fprintf(buf, "Method: %s\n", b.Method)
		}
		buf.WriteString("\n")
	case TableBlock:
		buf.WriteString(strings.Join(b.Columns, " | ") + "\n")
		for _, row := range b.Rows {
			fields := []string{fmt.Sprintf("%d", row.Ordinal), row.Index}
			for _, cell := range row.Cells {
				display := cell.Display
				if cell.Class == ClassFail {
					display += " (!)"
				}
				fields = append(fields, display)
			}
			if row.Portion != "" {
				fields = append(fields, row.Portion)
			}
			if row.Isolate != "" {
				fields = append(fields, row.Isolate)
			}
			buf.WriteString(strings.Join(fields, " | ") + "\n")
		}
		buf.WriteString("\n")
	case FootnoteBlock:
		fmt.Fprintf(buf, "Total samples tested: %d\n", b.SampleCount)
		if b.Notes != "" {
			fmt.Fprintf(buf, "Notes: %s\n", b.Notes)
		}
		buf.WriteString("\n")
	case SignatureBlock:
		for _, line := range b.Lines {
			fmt.Fprintf(buf, "%s: %s\n", slotLabel(line.Slot), line.Name)
		}
		buf.WriteString("\n")
	case WarningBlock:
		for _, line := range b.Lines {
			buf.WriteString(line + "\n")
		}
		buf.WriteString("\n")
	case FooterBlock:
		fmt.Fprintf(buf, "Page %d of %d\n", b.Page, b.Total)
	}
}

func slotLabel(slot string) string {
	switch slot {
	case "tested_by":
		return "Tested By"
	case "reviewed_by":
		return "Reviewed By"
	case "lab_supervisor":
		return "Lab Supervisor"
	case "lab_manager":
		return "Lab Manager"
	default:
		return slot
	}
}
