package quote

import (
	"fmt"
	"net/url"
	"strings"
)

// =============================================================================
// SHARE LINKS - WhatsApp and e-mail deep links
// =============================================================================

const (
	whatsAppBase    = "https://wa.me/"
	whatsAppCountry = "55"
	gmailCompose    = "https://mail.google.com/mail/?view=cm&fs=1"
)

// ShareMessage is the body shared over WhatsApp and e-mail.
func ShareMessage(q Quote, greeting string) string {
	var b strings.Builder
	b.WriteString(greeting)
	b.WriteString("\n\n")
	for i, it := range q.Items {
		fmt.Fprintf(&b, "%d. %s - Qtd: %s - %s\n", i+1, it.Description, FormatQuantity(it.Quantity), FormatBRL(it.UnitPrice))
	}
	q.Recalculate()
	fmt.Fprintf(&b, "\nValor Total: %s", FormatBRL(q.Total))

	notes := q.Notes
	if notes == "" {
		notes = "-"
	}
	fmt.Fprintf(&b, "\n\nObservações: %s\n\nAtenciosamente,\n%s", notes, companyName(q.Company))
	return b.String()
}

// WhatsAppLink builds a wa.me link to the client's phone. Falls back to
// the WhatsApp field when no phone is stored.
func WhatsAppLink(q Quote) (string, error) {
	phone := Digits(firstNonEmpty(q.Client.Phone, q.Client.WhatsApp))
	if phone == "" {
		return "", &ValidationError{Fields: []FieldError{{Field: "cliente.telefone", Message: "client has no phone number"}}}
	}
	if !strings.HasPrefix(phone, whatsAppCountry) || len(phone) <= 11 {
		phone = whatsAppCountry + phone
	}

	greeting := fmt.Sprintf("Olá %s, segue o orçamento nº %s:", q.Client.Name, q.Number)
	return whatsAppBase + phone + "?text=" + url.QueryEscape(ShareMessage(q, greeting)), nil
}

// EmailLink builds a Gmail compose URL addressed to the client.
func EmailLink(q Quote) (string, error) {
	if q.Client.Email == "" {
		return "", &ValidationError{Fields: []FieldError{{Field: "cliente.email", Message: "client has no e-mail"}}}
	}

	subject := strings.TrimSpace("Orçamento " + q.Number)
	greeting := fmt.Sprintf("Olá %s,\n\nSegue o orçamento solicitado:", q.Client.Name)

	v := url.Values{}
	v.Set("to", q.Client.Email)
	v.Set("su", subject)
	v.Set("body", ShareMessage(q, greeting))
	return gmailCompose + "&" + v.Encode(), nil
}

func companyName(c Company) string {
	if c.Name == "" {
		return "Empresa"
	}
	return c.Name
}
