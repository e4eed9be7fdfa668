/*
Package pdf renders quotes as A4 PDF documents.

PURPOSE:
  Stateless, fixed-layout export. Render writes to any io.Writer; Export
  writes a file named after the quote number.

LAYOUT:
  Header    company block (name, CNPJ, phone, e-mail, address), date
  Title     ORÇAMENTO <number>
  Client    name, phone, e-mail
  Items     # | Descrição | Qtd | Preço | Total
  Total     TOTAL: R$ ...
  Notes     Observações (when present)
  Footer    "Página N de M" and company name on every page

FILE NAMES:
  orcamento_2025_001.pdf
  orcamento_2025_001_<client>_<YYYY-MM-DD>.pdf   (dated variant)

SEE ALSO:
  - quote/format.go: BRL and phone formatting
*/
package pdf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/phpdave11/gofpdf"
	"github.com/warp/quotebook/quote"
)

const (
	margin     = 15.0
	lineHeight = 6.0
	rowHeight  = 8.0
)

var (
	headerFill = [3]int{41, 128, 185}
	totalFill  = [3]int{240, 240, 240}
	textColor  = [3]int{50, 50, 50}
)

// Options tunes Export.
type Options struct {
	// Dated appends the client name and export date to the file name.
	Dated bool

	// Now is the export date. Zero uses time.Now.
	Now time.Time
}

// Render writes q as a PDF to w.
func Render(w io.Writer, q quote.Quote) error {
	if len(q.Items) == 0 {
		return &quote.ValidationError{Fields: []quote.FieldError{{Field: "itens", Message: "nothing to render"}}}
	}
	q.Recalculate()

	doc := gofpdf.New("P", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")
	pageW, pageH := doc.GetPageSize()
	contentW := pageW - 2*margin

	doc.SetMargins(margin, margin, margin)
	doc.SetAutoPageBreak(true, 25)
	doc.SetTitle(tr("Orçamento "+q.Number), false)
	doc.SetCreator("quotebook", false)
	doc.AliasNbPages("{nb}")
	doc.SetFooterFunc(func() {
		doc.SetY(pageH - 20)
		doc.SetFont("Helvetica", "", 8)
		doc.SetTextColor(100, 100, 100)
		doc.CellFormat(0, 4, tr(fmt.Sprintf("Página %d de {nb}", doc.PageNo())), "", 1, "C", false, 0, "")
		doc.CellFormat(0, 4, tr(q.Company.Name), "", 1, "C", false, 0, "")
	})

	doc.AddPage()
	doc.SetTextColor(textColor[0], textColor[1], textColor[2])

	// Company
	if q.Company.Name != "" {
		doc.SetFont("Helvetica", "B", 14)
		doc.CellFormat(contentW, 8, tr(strings.ToUpper(q.Company.Name)), "", 1, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 9)
		for _, line := range companyLines(q.Company) {
			doc.CellFormat(contentW, 5, tr(line), "", 1, "L", false, 0, "")
		}
		doc.Ln(4)
	}

	// Title and date
	doc.SetFont("Helvetica", "B", 18)
	doc.CellFormat(contentW, 10, tr("ORÇAMENTO "+q.Number), "", 1, "C", false, 0, "")
	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(contentW, lineHeight, "Data: "+q.CreatedAt.Format("02/01/2006"), "", 1, "R", false, 0, "")
	doc.Ln(4)

	// Client
	doc.SetFont("Helvetica", "B", 11)
	doc.CellFormat(contentW, lineHeight, "CLIENTE", "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(contentW, lineHeight, tr("Nome: "+q.Client.Name), "", 1, "L", false, 0, "")
	if q.Client.Phone != "" {
		doc.CellFormat(contentW, lineHeight, "Telefone: "+quote.FormatPhone(q.Client.Phone), "", 1, "L", false, 0, "")
	}
	if q.Client.Email != "" {
		doc.CellFormat(contentW, lineHeight, tr("Email: "+q.Client.Email), "", 1, "L", false, 0, "")
	}
	doc.Ln(6)

	// Items
	cols := []struct {
		title string
		width float64
		align string
	}{
		{"Item", 15, "C"},
		{"Descrição", contentW - 15 - 20 - 35 - 35, "L"},
		{"Qtd", 20, "C"},
		{"Preço", 35, "R"},
		{"Total", 35, "R"},
	}

	doc.SetFont("Helvetica", "B", 10)
	doc.SetFillColor(headerFill[0], headerFill[1], headerFill[2])
	doc.SetTextColor(255, 255, 255)
	for _, c := range cols {
		doc.CellFormat(c.width, rowHeight, tr(c.title), "1", 0, "C", true, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont("Helvetica", "", 10)
	doc.SetTextColor(textColor[0], textColor[1], textColor[2])
	for i, it := range q.Items {
		desc := it.Description
		if it.Detail != "" {
			desc += " - " + it.Detail
		}
		cells := []string{
			fmt.Sprint(i + 1),
			desc,
			quote.FormatQuantity(it.Quantity),
			quote.FormatBRL(it.UnitPrice),
			quote.FormatBRL(it.Subtotal()),
		}
		for j, c := range cols {
			doc.CellFormat(c.width, rowHeight, tr(fit(doc, cells[j], c.width-2)), "1", 0, c.align, false, 0, "")
		}
		doc.Ln(-1)
	}
	doc.Ln(4)

	// Total
	doc.SetFont("Helvetica", "B", 12)
	doc.SetFillColor(totalFill[0], totalFill[1], totalFill[2])
	doc.CellFormat(contentW, 10, "TOTAL: "+quote.FormatBRL(q.Total), "", 1, "R", true, 0, "")

	// Notes
	if strings.TrimSpace(q.Notes) != "" {
		doc.Ln(6)
		doc.SetFont("Helvetica", "B", 11)
		doc.CellFormat(contentW, lineHeight, tr("Observações:"), "", 1, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 10)
		doc.MultiCell(contentW, 5, tr(q.Notes), "", "L", false)
	}

	if err := doc.Error(); err != nil {
		return fmt.Errorf("pdf: rendering %s: %w", q.Number, err)
	}
	return doc.Output(w)
}

// Export renders q into dir and returns the file path.
func Export(dir string, q quote.Quote, opts Options) (string, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("pdf: creating %s: %w", dir, err)
	}

	path := filepath.Join(dir, FileName(q, opts.Dated, opts.Now))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("pdf: creating file: %w", err)
	}
	if err := Render(f, q); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("pdf: closing file: %w", err)
	}
	return path, nil
}

// FileName builds "orcamento_2025_001.pdf", or with dated set
// "orcamento_2025_001_<client>_<YYYY-MM-DD>.pdf".
func FileName(q quote.Quote, dated bool, now time.Time) string {
	number := q.Number
	if number == "" {
		number = q.ID
	}
	name := "orcamento_" + strings.ReplaceAll(number, "/", "_")
	if dated {
		if client := slug(q.Client.Name); client != "" {
			name += "_" + client
		}
		name += "_" + now.Format("2006-01-02")
	}
	return name + ".pdf"
}

func companyLines(c quote.Company) []string {
	var lines []string
	if c.TaxID != "" {
		lines = append(lines, "CNPJ: "+c.TaxID)
	}
	if c.Phone != "" {
		lines = append(lines, "Telefone: "+quote.FormatPhone(c.Phone))
	}
	if c.Email != "" {
		lines = append(lines, "Email: "+c.Email)
	}
	if c.Address != "" {
		lines = append(lines, "Endereço: "+c.Address)
	}
	return lines
}

// fit truncates s with "..." until it fits width.
func fit(doc *gofpdf.Fpdf, s string, width float64) string {
	if doc.GetStringWidth(s) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && doc.GetStringWidth(string(r)+"...") > width {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}

// slug keeps letters and digits, joining words with "_".
func slug(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, "_")
}
