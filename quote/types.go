/*
Package quote provides the offline-tolerant persistence core for quotes.

PURPOSE:
  A quote ("orçamento") is the business document a user assembles from a
  client snapshot, a company snapshot and a list of line items. This
  package owns the quote model and the machinery that keeps quotes safe
  when the remote document store is unreachable:

  - Storage:    local key-value store (opaque strings)
  - RemoteStore: hierarchical document store (users/{uid}/orcamentos/{id})
  - Cache:      read-through cache over RemoteStore reads
  - Outbox:     locally queued quotes waiting for a remote write
  - Syncer:     drains the outbox when connectivity returns
  - Sequence:   human-readable YEAR/NNN numbering

KEY CONCEPTS IN THIS FILE (types.go):
  - Money:    decimal amount that marshals as a bare JSON number
  - Quote:    the normalized document
  - LineItem: quantity x unit price, addressable by a local ID
  - Status:   closed set {Pendente, Enviado, Aprovado, Recusado}

DESIGN PRINCIPLES:
  1. Precision: totals use decimal.Decimal, never float addition
  2. Derived totals: Total is recomputed from items, never trusted
  3. One shape: loose stored records are normalized once (normalize.go)

SEE ALSO:
  - store.go: Storage and RemoteStore interfaces
  - service.go: save/list/delete flows
  - sync.go: offline outbox drain
*/
package quote

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount, JSON number on the wire
// =============================================================================

// Money wraps decimal.Decimal so stored documents carry numbers
// ("valor": 100) instead of decimal's default quoted strings.
type Money struct {
	decimal.Decimal
}

func NewMoney(value float64) Money { return Money{decimal.NewFromFloat(value)} }
func NewMoneyFromDecimal(d decimal.Decimal) Money { return Money{d} }

// MustParseMoney parses s, returning zero on malformed input.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{decimal.Zero}
	}
	return Money{d}
}

func (m Money) Add(o Money) Money { return Money{m.Decimal.Add(o.Decimal)} }
func (m Money) Mul(q float64) Money { return Money{m.Decimal.Mul(decimal.NewFromFloat(q))} }
func (m Money) Equal(o Money) bool { return m.Decimal.Equal(o.Decimal) }
func (m Money) Float() float64 { return m.Decimal.InexactFloat64() }

// MarshalJSON writes the amount as a JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "Pendente"
	StatusSent     Status = "Enviado"
	StatusApproved Status = "Aprovado"
	StatusRejected Status = "Recusado"
)

// Statuses lists the closed set in display order.
var Statuses = []Status{StatusPending, StatusSent, StatusApproved, StatusRejected}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStatus accepts the stored value or its English alias.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "", "pending", "Pendente":
		return StatusPending, nil
	case "sent", "Enviado":
		return StatusSent, nil
	case "approved", "Aprovado":
		return StatusApproved, nil
	case "rejected", "Recusado":
		return StatusRejected, nil
	}
	return "", &ValidationError{Fields: []FieldError{{Field: "status", Message: "unknown status " + s}}}
}

// =============================================================================
// SNAPSHOTS - Client and company are copied into each quote
// =============================================================================

type Client struct {
	Name     string `json:"nome"`
	Phone    string `json:"telefone,omitempty"`
	Email    string `json:"email,omitempty"`
	WhatsApp string `json:"whatsapp,omitempty"`
}

type Company struct {
	Name    string `json:"nome"`
	TaxID   string `json:"cnpj,omitempty"`
	Phone   string `json:"telefone,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"endereco,omitempty"`
}

// =============================================================================
// LINE ITEM
// =============================================================================

// LineItem has no identity outside its quote. ID only addresses the item
// for edit/delete while the quote is being edited.
type LineItem struct {
	ID          string  `json:"id"`
	Description string  `json:"descricao"`
	Detail      string  `json:"detalhes,omitempty"`
	Quantity    float64 `json:"quantidade"`
	UnitPrice   Money   `json:"precoUnitario"`
}

// NewLineItem returns an item with a fresh local ID.
func NewLineItem(description string, quantity float64, unitPrice Money) LineItem {
	return LineItem{
		ID:          uuid.NewString(),
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
	}
}

func (li LineItem) Subtotal() Money {
	return li.UnitPrice.Mul(li.Quantity)
}

// =============================================================================
// QUOTE
// =============================================================================

type Quote struct {
	ID        string     `json:"id"`
	Number    string     `json:"numeroOrcamento,omitempty"`
	Client    Client     `json:"cliente"`
	Items     []LineItem `json:"itens"`
	Notes     string     `json:"observacoes,omitempty"`
	CreatedAt time.Time  `json:"dataCriacao"`
	Company   Company    `json:"empresa"`
	Status    Status     `json:"status"`
	Total     Money      `json:"valor"`
}

// TimestampLayout is the fixed-width UTC form dataCriacao is stored in.
// Stores order it as text, so every value must have the same width.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// quoteFields is Quote without its methods.
type quoteFields Quote

// MarshalJSON writes dataCriacao in TimestampLayout.
func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		quoteFields
		CreatedAt string `json:"dataCriacao"`
	}{quoteFields(q), FormatTimestamp(q.CreatedAt)})
}

// New starts an unsaved quote. It has no number until it is saved.
func New(client Client, company Company, now time.Time) *Quote {
	return &Quote{
		ID:        uuid.NewString(),
		Client:    client,
		Company:   company,
		CreatedAt: now,
		Status:    StatusPending,
		Total:     Money{decimal.Zero},
	}
}

// ComputeTotal sums quantity x unit price over the items.
func (q *Quote) ComputeTotal() Money {
	total := Money{decimal.Zero}
	for _, it := range q.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Recalculate refreshes Total from the items. A quote without items keeps
// whatever total it was stored with.
func (q *Quote) Recalculate() {
	if len(q.Items) > 0 {
		q.Total = q.ComputeTotal()
	}
}

// AddItem appends an item, assigning a local ID when missing.
func (q *Quote) AddItem(item LineItem) LineItem {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	q.Items = append(q.Items, item)
	q.Recalculate()
	return item
}

// UpdateItem replaces the item with the same ID. Returns false if absent.
func (q *Quote) UpdateItem(item LineItem) bool {
	for i := range q.Items {
		if q.Items[i].ID == item.ID {
			q.Items[i] = item
			q.Recalculate()
			return true
		}
	}
	return false
}

// RemoveItem drops the item with the given ID. Returns false if absent.
func (q *Quote) RemoveItem(id string) bool {
	for i := range q.Items {
		if q.Items[i].ID == id {
			q.Items = append(q.Items[:i], q.Items[i+1:]...)
			if len(q.Items) == 0 {
				q.Total = Money{decimal.Zero}
			}
			q.Recalculate()
			return true
		}
	}
	return false
}

// Clone returns a deep copy, used for outbox snapshots.
func (q Quote) Clone() Quote {
	c := q
	c.Items = append([]LineItem(nil), q.Items...)
	return c
}
