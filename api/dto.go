/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Documents themselves
  travel as raw JSON (quote.Document); these types cover the envelopes
  around them.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

TYPES:
  Auth:      CredentialsRequest, SessionResponse (auth.Session)
  Documents: DocumentResponse, QueryResponse
  Health:    HealthResponse
  Errors:    ErrorResponse

SEE ALSO:
  - handlers.go: Uses these types
  - remote/client.go: Client side of the same contract
*/
package api

import (
	"encoding/json"

	"github.com/warp/quotebook/quote"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// CredentialsRequest is the body of sign-up and sign-in.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// DocumentResponse is a single document.
type DocumentResponse struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// QueryResponse is the result of a collection read.
type QueryResponse struct {
	Collection string             `json:"collection"`
	Documents  []DocumentResponse `json:"documents"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string             `json:"error"`
	Details string             `json:"details,omitempty"`
	Fields  []quote.FieldError `json:"fields,omitempty"`
}

func toDocumentResponses(docs []quote.Document) []DocumentResponse {
	out := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		out[i] = DocumentResponse{ID: d.ID, Data: d.Data}
	}
	return out
}
