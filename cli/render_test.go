package cli_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quotebook/cli"
	"github.com/warp/quotebook/quote"
)

func TestParseItem(t *testing.T) {
	it, err := cli.ParseItem("Pintura|2|50")
	require.NoError(t, err)
	assert.Equal(t, "Pintura", it.Description)
	assert.Equal(t, 2.0, it.Quantity)
	assert.Equal(t, "R$ 100,00", quote.FormatBRL(it.Subtotal()))
	assert.Empty(t, it.Detail)

	it, err = cli.ParseItem(" Reparo | 1,5 | R$ 1.234,50 | Quadro de luz ")
	require.NoError(t, err)
	assert.Equal(t, "Reparo", it.Description)
	assert.Equal(t, 1.5, it.Quantity)
	assert.Equal(t, "R$ 1.234,50", quote.FormatBRL(it.UnitPrice))
	assert.Equal(t, "Quadro de luz", it.Detail)

	for _, raw := range []string{"x|y", "a|b|1", "a|1|zz", "a|1|2|3|4"} {
		_, err := cli.ParseItem(raw)
		assert.Error(t, err, raw)
	}
}

func TestRenderTable(t *testing.T) {
	out := cli.RenderTable(cli.Table{
		Title:   "Itens",
		Headers: []string{"Nome", "Valor"},
		Rows:    [][]string{{"Pintura", "R$ 100,00"}, {"Verniz", "R$ 5,00"}},
		Right:   []bool{false, true},
	})

	assert.Contains(t, out, "Itens")
	assert.Contains(t, out, "Pintura")
	assert.Contains(t, out, "  R$ 5,00")
	assert.True(t, strings.Contains(out, "╭") && strings.Contains(out, "╯"))

	assert.Empty(t, cli.RenderTable(cli.Table{}))
}

func TestRenderQuoteList(t *testing.T) {
	assert.Contains(t, cli.RenderQuoteList(nil, false), "No quotes yet.")

	q := quote.New(quote.Client{Name: "Ana"}, quote.Company{}, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	q.ID = "0123456789abcdef"
	q.Number = "2025/001"
	q.AddItem(quote.NewLineItem("Pintura", 2, quote.NewMoney(50)))

	out := cli.RenderQuoteList([]quote.Quote{*q}, false)
	assert.Contains(t, out, "2025/001")
	assert.Contains(t, out, "Ana")
	assert.Contains(t, out, "R$ 100,00")
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789")
	assert.NotContains(t, out, "Offline")

	assert.Contains(t, cli.RenderQuoteList([]quote.Quote{*q}, true), "Offline: showing local data")
}

func TestRenderQuote(t *testing.T) {
	q := quote.New(
		quote.Client{Name: "Ana", Phone: "21972625476"},
		quote.Company{Name: "Warp Reformas"},
		time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	)
	q.Number = "2025/007"
	q.Notes = "Validade de 15 dias"
	item := quote.NewLineItem("Reparo", 1.5, quote.NewMoney(10))
	item.Detail = "Quadro de luz"
	q.AddItem(item)

	out := cli.RenderQuote(*q, false)
	assert.Contains(t, out, "ORÇAMENTO 2025/007")
	assert.Contains(t, out, "(21) 97262-5476")
	assert.Contains(t, out, "Reparo - Quadro de luz")
	assert.Contains(t, out, "1,5")
	assert.Contains(t, out, "R$ 15,00")
	assert.Contains(t, out, "Validade de 15 dias")
	assert.Contains(t, out, "Warp Reformas")
	assert.NotContains(t, out, "Pending sync")

	assert.Contains(t, cli.RenderQuote(*q, true), "Pending sync")
}

func TestRenderSyncResult(t *testing.T) {
	at := time.Date(2025, 3, 10, 14, 5, 9, 0, time.UTC)

	assert.Contains(t, cli.RenderSyncResult(quote.SyncResult{}, at), "Nothing to sync.")

	out := cli.RenderSyncResult(quote.SyncResult{Synced: 2, Failed: 1}, at)
	assert.Contains(t, out, "synced, 1 pending (14:05:09)")
}
