package reporting

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"

	"github.com/mohammad-safakhou/thesisgrey/internal/store"
)

// Report types.
const (
	TypePRISMA  = "prisma"
	TypeResults = "results"
	TypeFull    = "full"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

var contentTypes = map[string]string{
	FormatCSV:  "text/csv",
	FormatJSON: "application/json",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatPDF:  "application/pdf",
}

// ContentType returns the MIME type served for a format.
func ContentType(format string) string {
	if ct, ok := contentTypes[format]; ok {
		return ct
	}
	return "application/octet-stream"
}

func ValidReportType(t string) bool {
	return t == TypePRISMA || t == TypeResults || t == TypeFull
}

func ValidFormat(f string) bool {
	_, ok := contentTypes[f]
	return ok
}

// Exporter renders a report of the given type.
type Exporter interface {
	Export(w io.Writer, r Report, reportType string) error
}

// NewExporter resolves a format to its exporter.
func NewExporter(format string) (Exporter, error) {
	switch format {
	case FormatCSV:
		return CSVExporter{}, nil
	case FormatJSON:
		return JSONExporter{}, nil
	case FormatXLSX:
		return XLSXExporter{}, nil
	case FormatPDF:
		return PDFExporter{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// ResultColumns are the per-result export fields, in column order.
var ResultColumns = []string{
	"title", "url", "domain", "document_type", "publication_year", "is_pdf",
	"decision", "exclusion_reason", "notes", "tags", "snippet", "duplicate_count",
}

func resultRow(p store.ProcessedResult) []string {
	year := ""
	if p.PublicationYear != nil {
		year = strconv.Itoa(*p.PublicationYear)
	}
	return []string{
		p.Title, p.URL, p.Domain, p.DocumentType, year, strconv.FormatBool(p.IsPDF),
		p.Decision, p.ExclusionReason, p.Notes, strings.Join(p.Tags, "; "), p.Snippet, strconv.Itoa(p.DuplicateCount),
	}
}

func flowRows(f Flow) [][]string {
	rows := [][]string{
		{"Records identified", strconv.Itoa(f.Identified)},
		{"Duplicates removed", strconv.Itoa(f.DuplicatesRemoved)},
		{"Unusable records removed", strconv.Itoa(f.InvalidRemoved)},
		{"Records screened", strconv.Itoa(f.Screened)},
		{"Records excluded", strconv.Itoa(f.Excluded)},
	}
	for _, rc := range f.ExclusionReasons {
		rows = append(rows, []string{"  Excluded: " + rc.Label, strconv.Itoa(rc.Count)})
	}
	return append(rows,
		[]string{"Marked maybe", strconv.Itoa(f.Maybe)},
		[]string{"Pending review", strconv.Itoa(f.Pending)},
		[]string{"Records included", strconv.Itoa(f.Included)},
	)
}

// CSVExporter writes result rows, or the flow table for PRISMA reports.
type CSVExporter struct{}

func (CSVExporter) Export(w io.Writer, r Report, reportType string) error {
	cw := csv.NewWriter(w)
	if reportType == TypePRISMA {
		if err := cw.Write([]string{"stage", "count"}); err != nil {
			return err
		}
		if err := cw.WriteAll(flowRows(r.Flow)); err != nil {
			return err
		}
		return cw.Error()
	}
	if err := cw.Write(ResultColumns); err != nil {
		return err
	}
	for _, p := range r.Results {
		if err := cw.Write(resultRow(p)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// JSONExporter writes a single document.
type JSONExporter struct{}

type jsonSession struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type jsonResult struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	Domain          string   `json:"domain"`
	DocumentType    string   `json:"document_type"`
	PublicationYear *int     `json:"publication_year"`
	IsPDF           bool     `json:"is_pdf"`
	Decision        string   `json:"decision"`
	ExclusionReason string   `json:"exclusion_reason"`
	Notes           string   `json:"notes"`
	Tags            []string `json:"tags"`
	Snippet         string   `json:"snippet"`
	DuplicateCount  int      `json:"duplicate_count"`
}

type jsonExport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	ReportType  string       `json:"report_type"`
	Session     jsonSession  `json:"session"`
	Strategy    any          `json:"strategy,omitempty"`
	Queries     []string     `json:"queries,omitempty"`
	PRISMA      *Flow        `json:"prisma,omitempty"`
	Results     []jsonResult `json:"results,omitempty"`
}

func (JSONExporter) Export(w io.Writer, r Report, reportType string) error {
	doc := jsonExport{
		GeneratedAt: r.GeneratedAt.UTC(),
		ReportType:  reportType,
		Session: jsonSession{
			ID: r.Session.ID, Title: r.Session.Title, Description: r.Session.Description,
			Status: string(r.Session.Status), StartedAt: r.Session.StartedAt, CompletedAt: r.Session.CompletedAt,
		},
	}
	if reportType != TypeResults {
		flow := r.Flow
		doc.PRISMA = &flow
		if r.Strategy != nil {
			doc.Strategy = r.Strategy
		}
		for _, q := range r.Queries {
			doc.Queries = append(doc.Queries, q.Text)
		}
	}
	if reportType != TypePRISMA {
		doc.Results = make([]jsonResult, 0, len(r.Results))
		for _, p := range r.Results {
			tags := p.Tags
			if tags == nil {
				tags = []string{}
			}
			doc.Results = append(doc.Results, jsonResult{
				ID: p.ID, Title: p.Title, URL: p.URL, Domain: p.Domain, DocumentType: p.DocumentType,
				PublicationYear: p.PublicationYear, IsPDF: p.IsPDF, Decision: p.Decision,
				ExclusionReason: p.ExclusionReason, Notes: p.Notes, Tags: tags, Snippet: p.Snippet,
				DuplicateCount: p.DuplicateCount,
			})
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// XLSXExporter writes Results, PRISMA and Strategy sheets.
type XLSXExporter struct{}

const (
	sheetResults  = "Results"
	sheetPRISMA   = "PRISMA"
	sheetStrategy = "Strategy"
)

func (XLSXExporter) Export(w io.Writer, r Report, reportType string) error {
	f := excelize.NewFile()
	defer f.Close()

	first := f.GetSheetName(0)
	var sheets []string
	if reportType != TypePRISMA {
		sheets = append(sheets, sheetResults)
	}
	if reportType != TypeResults {
		sheets = append(sheets, sheetPRISMA, sheetStrategy)
	}
	if err := f.SetSheetName(first, sheets[0]); err != nil {
		return err
	}
	for _, s := range sheets[1:] {
		if _, err := f.NewSheet(s); err != nil {
			return err
		}
	}

	for _, s := range sheets {
		var rows [][]string
		switch s {
		case sheetResults:
			rows = append(rows, ResultColumns)
			for _, p := range r.Results {
				rows = append(rows, resultRow(p))
			}
		case sheetPRISMA:
			rows = append([][]string{{"Stage", "Count"}}, flowRows(r.Flow)...)
		case sheetStrategy:
			rows = strategyRows(r)
		}
		if err := writeSheet(f, s, rows); err != nil {
			return fmt.Errorf("sheet %s: %w", s, err)
		}
	}
	return f.Write(w)
}

func writeSheet(f *excelize.File, sheet string, rows [][]string) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			return err
		}
	}
	return nil
}

func strategyRows(r Report) [][]string {
	rows := [][]string{{"Field", "Value"}}
	if s := r.Strategy; s != nil {
		rows = append(rows,
			[]string{"Population", strings.Join(s.PopulationTerms, "; ")},
			[]string{"Interest", strings.Join(s.InterestTerms, "; ")},
			[]string{"Context", strings.Join(s.ContextTerms, "; ")},
			[]string{"Domains", strings.Join(s.Domains, "; ")},
			[]string{"File types", strings.Join(s.FileTypes, "; ")},
			[]string{"Search type", s.SearchType},
		)
	}
	for i, q := range r.Queries {
		rows = append(rows, []string{fmt.Sprintf("Query %d", i+1), q.Text})
	}
	rows = append(rows,
		[]string{"Engines", strings.Join(r.Engines, ", ")},
		[]string{"Credits used", strconv.Itoa(r.Executions.TotalCredits)},
		[]string{"Estimated cost (USD)", strconv.FormatFloat(r.Executions.TotalCost, 'f', 4, 64)},
	)
	return rows
}

// PDFExporter renders the PRISMA narrative, and a result list for results
// and full reports.
type PDFExporter struct{}

func (PDFExporter) Export(w io.Writer, r Report, reportType string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(r.Session.Title, true)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 8, tr(r.Session.Title), "", "L", false)
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, "Generated "+r.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	if reportType != TypeResults {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 7, "PRISMA flow", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		for _, row := range flowRows(r.Flow) {
			pdf.CellFormat(120, 6, tr(row[0]), "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 6, row[1], "1", 1, "R", false, 0, "")
		}
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 4.5, tr(RenderSummary(r)), "", "L", false)
	}

	if reportType != TypePRISMA && len(r.Results) > 0 {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 7, fmt.Sprintf("Results (%d)", len(r.Results)), "", 1, "L", false, 0, "")
		for i, p := range r.Results {
			pdf.SetFont("Helvetica", "B", 9)
			pdf.MultiCell(0, 5, tr(fmt.Sprintf("%d. %s", i+1, p.Title)), "", "L", false)
			pdf.SetFont("Helvetica", "", 8)
			meta := fmt.Sprintf("%s | %s | %s", p.Domain, p.DocumentType, p.Decision)
			if p.PublicationYear != nil {
				meta += fmt.Sprintf(" | %d", *p.PublicationYear)
			}
			if p.ExclusionReason != "" {
				meta += " | " + p.ExclusionReason
			}
			pdf.MultiCell(0, 4, tr(meta), "", "L", false)
			pdf.MultiCell(0, 4, tr(p.URL), "", "L", false)
			pdf.Ln(1.5)
		}
	}
	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}
