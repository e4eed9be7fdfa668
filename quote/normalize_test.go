package quote_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quotebook/quote"
)

// =============================================================================
// NORMALIZATION
// =============================================================================

func TestNormalize_CurrentShape(t *testing.T) {
	q := newQuote("Ana", march10, item("Pintura", 2, 50))
	q.Number = "2025/001"
	data, err := quote.Encode(*q)
	require.NoError(t, err)

	got, err := quote.Normalize(data, "")
	require.NoError(t, err)
	assert.Equal(t, q.ID, got.ID)
	assert.Equal(t, "2025/001", got.Number)
	assert.True(t, got.CreatedAt.Equal(march10))
	assert.True(t, got.Total.Equal(quote.NewMoney(100)))
	assert.Equal(t, quote.StatusPending, got.Status)
}

func TestNormalize_LegacyShapes(t *testing.T) {
	// GIVEN: A record written by an older client: client as a string,
	//        alternate number/price/total fields, epoch-millis date
	// THEN: It reads as a regular quote with a recomputed total

	raw := `{
		"firestoreId": "fs-1",
		"numero": "2023/010",
		"cliente": "Dona Maria",
		"itens": [{"descricao": "Reboco", "quantidade": 3, "valorUnitario": 20}],
		"valorTotal": 999,
		"data": 1700000000000,
		"status": "Aprovado"
	}`

	got, err := quote.Normalize([]byte(raw), "fallback")
	require.NoError(t, err)

	assert.Equal(t, "fs-1", got.ID)
	assert.Equal(t, "2023/010", got.Number)
	assert.Equal(t, "Dona Maria", got.Client.Name)
	assert.True(t, got.Total.Equal(quote.NewMoney(60)), "total is derived from items, got %s", got.Total)
	assert.Equal(t, quote.StatusApproved, got.Status)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), got.CreatedAt)
}

func TestNormalize_Fallbacks(t *testing.T) {
	raw := `{"cliente": {"nome": "Ana"}, "valor": 42, "status": "Arquivado",
		"dataCriacao": {"seconds": 1700000000, "nanoseconds": 0}}`

	got, err := quote.Normalize([]byte(raw), "doc-7")
	require.NoError(t, err)

	assert.Equal(t, "doc-7", got.ID)
	assert.Equal(t, "doc-7", got.Number, "number falls back to the id")
	assert.Equal(t, quote.StatusPending, got.Status, "unknown status reads as pending")
	assert.True(t, got.Total.Equal(quote.NewMoney(42)), "no items keeps stored total")
	assert.Equal(t, int64(1700000000), got.CreatedAt.Unix())
}

func TestNormalize_Malformed(t *testing.T) {
	_, err := quote.Normalize([]byte(`[1,2`), "x")
	assert.Error(t, err)
}

func TestNormalizeDocument(t *testing.T) {
	doc := quote.Document{ID: "remote-id", Data: json.RawMessage(`{"cliente":"Ana"}`)}

	got, err := quote.NormalizeDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, "remote-id", got.ID)
}

// =============================================================================
// MODEL
// =============================================================================

func TestMoney_MarshalsAsNumber(t *testing.T) {
	b, err := json.Marshal(struct {
		V quote.Money `json:"v"`
	}{quote.MustParseMoney("1234.50")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v": 1234.5}`, string(b))
}

func TestEncode_CreatedAtSortsAsText(t *testing.T) {
	// GIVEN: Two quotes, one created on a whole second, one half a second later
	// WHEN: Encoding them
	// THEN: dataCriacao is fixed width, so text order matches time order,
	//       and it decodes back to the same instant

	whole := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	later := whole.Add(500 * time.Millisecond)

	var stamps []string
	for _, at := range []time.Time{whole, later} {
		raw, err := quote.Encode(*quote.New(quote.Client{Name: "Ana"}, quote.Company{}, at))
		require.NoError(t, err)
		var fields map[string]any
		require.NoError(t, json.Unmarshal(raw, &fields))
		stamps = append(stamps, fields["dataCriacao"].(string))

		got, err := quote.Normalize(raw, "q1")
		require.NoError(t, err)
		assert.True(t, got.CreatedAt.Equal(at))
	}

	assert.Equal(t, "2025-03-10T12:00:00.000000000Z", stamps[0])
	assert.Less(t, stamps[0], stamps[1])
}

func TestQuote_ItemEditsRecalculate(t *testing.T) {
	q := newQuote("Ana", march10)
	a := q.AddItem(item("Pintura", 2, 50))
	b := q.AddItem(item("Verniz", 1, 0.1))
	assert.True(t, q.Total.Equal(quote.MustParseMoney("100.1")), "decimal sum, got %s", q.Total)

	a.Quantity = 3
	require.True(t, q.UpdateItem(a))
	assert.True(t, q.Total.Equal(quote.MustParseMoney("150.1")))

	require.True(t, q.RemoveItem(b.ID))
	require.True(t, q.RemoveItem(a.ID))
	assert.True(t, q.Total.IsZero())
	assert.False(t, q.RemoveItem("missing"))
}

func TestParseStatus(t *testing.T) {
	s, err := quote.ParseStatus("approved")
	require.NoError(t, err)
	assert.Equal(t, quote.StatusApproved, s)

	s, err = quote.ParseStatus("")
	require.NoError(t, err)
	assert.Equal(t, quote.StatusPending, s)

	_, err = quote.ParseStatus("Arquivado")
	assert.ErrorIs(t, err, quote.ErrValidation)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate(t *testing.T) {
	q := newQuote("Ana", march10, item("", -1, 10))
	q.Items[0].UnitPrice = quote.NewMoney(-5)
	q.Status = "Arquivado"

	err := quote.Validate(*q)
	var vErr *quote.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.True(t, vErr.Has("itens[0].descricao"))
	assert.True(t, vErr.Has("itens[0].quantidade"))
	assert.True(t, vErr.Has("itens[0].precoUnitario"))
	assert.True(t, vErr.Has("status"))
	assert.False(t, vErr.Has("cliente.nome"))

	assert.NoError(t, quote.Validate(*newQuote("Ana", march10, item("Pintura", 1, 10))))
}
