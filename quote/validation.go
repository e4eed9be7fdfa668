package quote

import (
	"strconv"
	"strings"
)

// Validate checks a quote before any I/O. All failures are collected so
// the caller can show them together.
func Validate(q Quote) error {
	var fields []FieldError

	if strings.TrimSpace(q.Client.Name) == "" {
		fields = append(fields, FieldError{Field: "cliente.nome", Message: "client name is required"})
	}
	if len(q.Items) == 0 {
		fields = append(fields, FieldError{Field: "itens", Message: "at least one item is required"})
	}
	for i, it := range q.Items {
		if strings.TrimSpace(it.Description) == "" {
			fields = append(fields, FieldError{Field: itemField(i, "descricao"), Message: "description is required"})
		}
		if it.Quantity < 0 {
			fields = append(fields, FieldError{Field: itemField(i, "quantidade"), Message: "quantity must not be negative"})
		}
		if it.UnitPrice.IsNegative() {
			fields = append(fields, FieldError{Field: itemField(i, "precoUnitario"), Message: "unit price must not be negative"})
		}
	}
	if q.Status != "" && !q.Status.Valid() {
		fields = append(fields, FieldError{Field: "status", Message: "unknown status " + string(q.Status)})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func itemField(i int, name string) string {
	return "itens[" + strconv.Itoa(i) + "]." + name
}
