// Package cli implements the quotebook command-line client.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/warp/quotebook/quote"
)

// Theme colors
var (
	ColorBorder    = lipgloss.Color("#282726")
	ColorTextDim   = lipgloss.Color("#575653")
	ColorTextMuted = lipgloss.Color("#6F6E69")
	ColorText      = lipgloss.Color("#FFFCF0")
	ColorAccent    = lipgloss.Color("#3AA99F")
	ColorGreen     = lipgloss.Color("#879A39")
	ColorOrange    = lipgloss.Color("#DA702C")
	ColorRed       = lipgloss.Color("#D14D41")
	ColorBlue      = lipgloss.Color("#4385BE")
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText).
			Align(lipgloss.Center)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	valueStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	mutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	moneyStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	warnStyle = lipgloss.NewStyle().
			Foreground(ColorOrange)

	dimStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim)
)

var statusColors = map[quote.Status]lipgloss.Color{
	quote.StatusPending:  ColorOrange,
	quote.StatusSent:     ColorBlue,
	quote.StatusApproved: ColorGreen,
	quote.StatusRejected: ColorRed,
}

// Table represents a bordered text table for CLI output.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
	Right   []bool // right-align column i
}

// RenderTitle renders a centered title bar in a bordered box.
func RenderTitle(title string) string {
	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Width(55).
		Align(lipgloss.Center).
		Padding(0, 1)

	return border.Render(titleStyle.Render(title))
}

// RenderTable renders a bordered table with headers and rows.
func RenderTable(t Table) string {
	numCols := len(t.Headers)
	if numCols == 0 && len(t.Rows) > 0 {
		numCols = len(t.Rows[0])
	}
	if numCols == 0 {
		return ""
	}

	widths := make([]int, numCols)
	for i, h := range t.Headers {
		widths[i] = max(widths[i], lipgloss.Width(h))
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < numCols {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var b strings.Builder

	if t.Title != "" {
		b.WriteString("  ")
		b.WriteString(headerStyle.Render(t.Title))
		b.WriteString("\n")
	}

	rule := func(left, mid, right string) {
		b.WriteString(dimStyle.Render(left))
		for i, w := range widths {
			b.WriteString(dimStyle.Render(strings.Repeat("─", w+2)))
			if i < numCols-1 {
				b.WriteString(dimStyle.Render(mid))
			}
		}
		b.WriteString(dimStyle.Render(right))
		b.WriteString("\n")
	}

	rule("╭", "┬", "╮")

	if len(t.Headers) > 0 {
		b.WriteString(dimStyle.Render("│"))
		for i, h := range t.Headers {
			b.WriteString(headerStyle.Render(" " + pad(h, widths[i], false) + " "))
			if i < numCols-1 {
				b.WriteString(dimStyle.Render("│"))
			}
		}
		b.WriteString(dimStyle.Render("│"))
		b.WriteString("\n")
		rule("├", "┼", "┤")
	}

	for _, row := range t.Rows {
		b.WriteString(dimStyle.Render("│"))
		for i := 0; i < numCols; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			right := i < len(t.Right) && t.Right[i]
			b.WriteString(valueStyle.Render(" " + pad(cell, widths[i], right) + " "))
			if i < numCols-1 {
				b.WriteString(dimStyle.Render("│"))
			}
		}
		b.WriteString(dimStyle.Render("│"))
		b.WriteString("\n")
	}

	rule("╰", "┴", "╯")
	return b.String()
}

// pad fills s to width display cells.
func pad(s string, width int, right bool) string {
	gap := width - lipgloss.Width(s)
	if gap <= 0 {
		return s
	}
	if right {
		return strings.Repeat(" ", gap) + s
	}
	return s + strings.Repeat(" ", gap)
}

// RenderStatus colors a status label.
func RenderStatus(s quote.Status) string {
	c, ok := statusColors[s]
	if !ok {
		return mutedStyle.Render(string(s))
	}
	return lipgloss.NewStyle().Foreground(c).Bold(true).Render(string(s))
}

// RenderQuoteList renders the dashboard table.
func RenderQuoteList(quotes []quote.Quote, offline bool) string {
	if len(quotes) == 0 {
		return mutedStyle.Render("  No quotes yet.") + "\n"
	}

	t := Table{
		Title:   "Orçamentos",
		Headers: []string{"Número", "Cliente", "Data", "Status", "Valor", "ID"},
		Right:   []bool{false, false, false, false, true, false},
	}
	for _, q := range quotes {
		t.Rows = append(t.Rows, []string{
			q.Number,
			q.Client.Name,
			q.CreatedAt.Local().Format("02/01/2006"),
			string(q.Status),
			quote.FormatBRL(q.Total),
			shortID(q.ID),
		})
	}

	out := RenderTable(t)
	if offline {
		out += warnStyle.Render("  Offline: showing local data") + "\n"
	}
	return out
}

// RenderQuote renders one quote in detail.
func RenderQuote(q quote.Quote, queued bool) string {
	var b strings.Builder

	b.WriteString(RenderTitle("ORÇAMENTO " + q.Number))
	b.WriteString("\n\n")

	field := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "  %s %s\n", mutedStyle.Render(fmt.Sprintf("%-11s", label)), valueStyle.Render(value))
	}

	field("ID", q.ID)
	field("Data", q.CreatedAt.Local().Format("02/01/2006 15:04"))
	fmt.Fprintf(&b, "  %s %s\n", mutedStyle.Render(fmt.Sprintf("%-11s", "Status")), RenderStatus(q.Status))
	if queued {
		b.WriteString("  " + warnStyle.Render("Pending sync") + "\n")
	}
	b.WriteString("\n")

	b.WriteString("  " + headerStyle.Render("Cliente") + "\n")
	field("Nome", q.Client.Name)
	field("Telefone", quote.FormatPhone(q.Client.Phone))
	field("Email", q.Client.Email)
	b.WriteString("\n")

	t := Table{
		Headers: []string{"#", "Descrição", "Qtd", "Preço", "Total"},
		Right:   []bool{false, false, true, true, true},
	}
	for i, it := range q.Items {
		desc := it.Description
		if it.Detail != "" {
			desc += " - " + it.Detail
		}
		t.Rows = append(t.Rows, []string{
			fmt.Sprint(i + 1),
			desc,
			quote.FormatQuantity(it.Quantity),
			quote.FormatBRL(it.UnitPrice),
			quote.FormatBRL(it.Subtotal()),
		})
	}
	b.WriteString(RenderTable(t))
	b.WriteString("  " + headerStyle.Render("Total") + " " + moneyStyle.Render(quote.FormatBRL(q.Total)) + "\n")

	if q.Notes != "" {
		b.WriteString("\n  " + headerStyle.Render("Observações") + "\n")
		b.WriteString("  " + valueStyle.Render(q.Notes) + "\n")
	}
	if q.Company.Name != "" {
		b.WriteString("\n  " + dimStyle.Render(q.Company.Name) + "\n")
	}
	return b.String()
}

// RenderSyncResult summarizes a drain pass.
func RenderSyncResult(r quote.SyncResult, at time.Time) string {
	if r.Synced == 0 && r.Failed == 0 {
		return mutedStyle.Render("  Nothing to sync.") + "\n"
	}
	line := fmt.Sprintf("  %s synced, %d pending (%s)", moneyStyle.Render(fmt.Sprint(r.Synced)), r.Failed, at.Format("15:04:05"))
	return line + "\n"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
