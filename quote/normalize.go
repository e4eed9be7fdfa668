package quote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// NORMALIZATION - The one place loose stored shapes become a Quote
// =============================================================================

// looseQuote accepts every shape older clients have written: client as a
// plain string, several interchangeable number/total/date fields.
type looseQuote struct {
	ID          string          `json:"id"`
	FirestoreID string          `json:"firestoreId"`
	Number      string          `json:"numeroOrcamento"`
	NumberAlt   string          `json:"numero"`
	Client      json.RawMessage `json:"cliente"`
	Items       []looseItem     `json:"itens"`
	Notes       string          `json:"observacoes"`
	CreatedAt   json.RawMessage `json:"dataCriacao"`
	Date        json.RawMessage `json:"data"`
	Company     *Company        `json:"empresa"`
	Status      string          `json:"status"`
	Total       *Money          `json:"valor"`
	TotalAlt    *Money          `json:"valorTotal"`
}

type looseItem struct {
	ID           string  `json:"id"`
	Description  string  `json:"descricao"`
	Detail       string  `json:"detalhes"`
	Quantity     float64 `json:"quantidade"`
	UnitPrice    *Money  `json:"precoUnitario"`
	UnitPriceAlt *Money  `json:"valorUnitario"`
}

// Normalize decodes a stored document into a Quote. fallbackID is used
// when the payload carries no id of its own (remote document ids live
// outside the payload).
func Normalize(data []byte, fallbackID string) (Quote, error) {
	var lq looseQuote
	if err := json.Unmarshal(data, &lq); err != nil {
		return Quote{}, fmt.Errorf("decoding quote: %w", err)
	}

	q := Quote{
		ID:     firstNonEmpty(lq.ID, lq.FirestoreID, fallbackID),
		Number: firstNonEmpty(lq.Number, lq.NumberAlt),
		Notes:  lq.Notes,
	}
	if q.Number == "" {
		q.Number = q.ID
	}

	client, err := decodeClient(lq.Client)
	if err != nil {
		return Quote{}, err
	}
	q.Client = client

	if lq.Company != nil {
		q.Company = *lq.Company
	}

	status, err := ParseStatus(lq.Status)
	if err != nil {
		status = StatusPending
	}
	q.Status = status

	q.CreatedAt = decodeTime(lq.CreatedAt)
	if q.CreatedAt.IsZero() {
		q.CreatedAt = decodeTime(lq.Date)
	}

	for _, li := range lq.Items {
		item := LineItem{
			ID:          li.ID,
			Description: li.Description,
			Detail:      li.Detail,
			Quantity:    li.Quantity,
		}
		switch {
		case li.UnitPrice != nil:
			item.UnitPrice = *li.UnitPrice
		case li.UnitPriceAlt != nil:
			item.UnitPrice = *li.UnitPriceAlt
		}
		q.Items = append(q.Items, item)
	}

	switch {
	case lq.Total != nil:
		q.Total = *lq.Total
	case lq.TotalAlt != nil:
		q.Total = *lq.TotalAlt
	}
	q.Recalculate()

	return q, nil
}

// NormalizeDocument decodes a remote document, using its id as fallback.
func NormalizeDocument(doc Document) (Quote, error) {
	return Normalize(doc.Data, doc.ID)
}

// Encode marshals a quote with a freshly computed total.
func Encode(q Quote) (json.RawMessage, error) {
	q.Recalculate()
	return json.Marshal(q)
}

func decodeClient(raw json.RawMessage) (Client, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Client{}, nil
	}
	if raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return Client{}, fmt.Errorf("decoding client: %w", err)
		}
		return Client{Name: name}, nil
	}
	var c Client
	if err := json.Unmarshal(raw, &c); err != nil {
		return Client{}, fmt.Errorf("decoding client: %w", err)
	}
	return c, nil
}

// decodeTime accepts RFC3339 strings, epoch milliseconds, and the
// {seconds, nanoseconds} object document stores emit for timestamps.
func decodeTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return time.Time{}
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(int64(ms)).UTC()
	}
	var ts struct {
		Seconds     int64 `json:"seconds"`
		Nanoseconds int64 `json:"nanoseconds"`
	}
	if err := json.Unmarshal(raw, &ts); err == nil && ts.Seconds > 0 {
		return time.Unix(ts.Seconds, ts.Nanoseconds).UTC()
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
