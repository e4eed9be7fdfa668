/*
handlers.go - HTTP API handlers for the quotebook document server

PURPOSE:
  Exposes a document store over REST so the CLI can use it as its
  remote. Handles auth, path parsing and JSON serialization, and
  delegates storage to a quote.RemoteStore.

ENDPOINTS:
  Auth:
    POST   /api/auth/signup     Create account, returns session
    POST   /api/auth/signin     Returns session
    POST   /api/auth/signout    Revokes bearer token

  Documents (bearer token required):
    GET    /api/docs/{path}     Document (even segments) or collection query
    PUT    /api/docs/{path}     Upsert document
    PATCH  /api/docs/{path}     Merge fields into existing document
    DELETE /api/docs/{path}     Delete document (missing is not an error)

  Collection query parameters:
    where=field:value (repeatable), orderBy=field, direction=asc|desc, limit=N

ACCESS RULES:
  A caller may touch users/{own uid}/... and the legacy flat
  "orcamentos" collection. Everything else is 403.

  Legacy documents are stamped with the writer's id (quote.OwnerField)
  on PUT. Reads, patches and deletes of someone else's legacy document
  are 403, collection queries only return the caller's own documents,
  and the owner field cannot be patched.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing or unknown bearer token
  - 403: Path outside the caller's subtree
  - 404: Document not found
  - 409: E-mail already registered
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/quotebook/auth"
	"github.com/warp/quotebook/quote"
	"github.com/warp/quotebook/remote"
)

const maxDocumentSize = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Docs quote.RemoteStore
	Auth *auth.Service
}

// NewHandler creates a new handler.
func NewHandler(docs quote.RemoteStore, authSvc *auth.Service) *Handler {
	return &Handler{Docs: docs, Auth: authSvc}
}

type ctxKey string

const userIDCtxKey = ctxKey("userID")

// UserID returns the authenticated user stored by RequireUser.
func UserID(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userIDCtxKey).(string)
	return uid, ok && uid != ""
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// SignUp creates an account.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sess, err := h.Auth.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "Email already registered", nil)
			return
		}
		writeStoreError(w, "Failed to sign up", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// SignIn opens a session.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sess, err := h.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid email or password", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to sign in", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SignOut revokes the caller's token.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.Auth.SignOut(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sign out", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequireUser rejects requests without a valid bearer token.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := h.Auth.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			if errors.Is(err, quote.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "Authentication required", nil)
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to authenticate", err)
			return
		}
		ctx := context.WithValue(r.Context(), userIDCtxKey, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Health reports liveness. The CLI's connectivity monitor polls it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// docRef is a parsed /api/docs path.
type docRef struct {
	Collection string
	ID         string // empty for a collection path
}

// GetDocs returns a document or runs a collection query.
func (h *Handler) GetDocs(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.resolve(w, r)
	if !ok {
		return
	}

	uid, _ := UserID(r.Context())
	legacy := ref.Collection == quote.LegacyQuotesCollection

	if ref.ID != "" {
		doc, err := h.Docs.Get(r.Context(), ref.Collection, ref.ID)
		if err != nil {
			writeStoreError(w, "Failed to get document", err)
			return
		}
		if legacy && documentOwner(doc.Data) != uid {
			writeError(w, http.StatusForbidden, "Access denied", nil)
			return
		}
		writeJSON(w, http.StatusOK, DocumentResponse{ID: doc.ID, Data: doc.Data})
		return
	}

	q, err := remote.DecodeQuery(r.URL.Query())
	if err != nil {
		writeStoreError(w, "Invalid query", err)
		return
	}
	if legacy {
		q.Where = append(q.Where, quote.Filter{Field: quote.OwnerField, Value: uid})
	}
	docs, err := h.Docs.Query(r.Context(), ref.Collection, q)
	if err != nil {
		writeStoreError(w, "Failed to query documents", err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Collection: ref.Collection,
		Documents:  toDocumentResponses(docs),
	})
}

// PutDoc creates or replaces a document.
func (h *Handler) PutDoc(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.resolveDocument(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		writeError(w, http.StatusBadRequest, "Document must be a JSON object", err)
		return
	}

	if ref.Collection == quote.LegacyQuotesCollection {
		if _, ok := h.authorizeLegacy(w, r, ref); !ok {
			return
		}
		uid, _ := UserID(r.Context())
		obj[quote.OwnerField] = uid
		if body, err = json.Marshal(obj); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encode document", err)
			return
		}
	}

	if err := h.Docs.Set(r.Context(), ref.Collection, ref.ID, body); err != nil {
		writeStoreError(w, "Failed to save document", err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentResponse{ID: ref.ID, Data: body})
}

// PatchDoc merges fields into an existing document.
func (h *Handler) PatchDoc(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.resolveDocument(w, r)
	if !ok {
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxDocumentSize)).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, ok := fields[quote.OwnerField]; ok && ref.Collection == quote.LegacyQuotesCollection {
		writeError(w, http.StatusBadRequest, "The owner field cannot be changed", nil)
		return
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "No fields to update", nil)
		return
	}
	if ref.Collection == quote.LegacyQuotesCollection {
		exists, ok := h.authorizeLegacy(w, r, ref)
		if !ok {
			return
		}
		if !exists {
			writeError(w, http.StatusNotFound, "Document not found", nil)
			return
		}
	}

	if err := h.Docs.Update(r.Context(), ref.Collection, ref.ID, fields); err != nil {
		writeStoreError(w, "Failed to update document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteDoc removes a document.
func (h *Handler) DeleteDoc(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.resolveDocument(w, r)
	if !ok {
		return
	}
	if ref.Collection == quote.LegacyQuotesCollection {
		if _, ok := h.authorizeLegacy(w, r, ref); !ok {
			return
		}
	}

	if err := h.Docs.Delete(r.Context(), ref.Collection, ref.ID); err != nil {
		writeStoreError(w, "Failed to delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolve parses the wildcard path and checks the caller may access it.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (docRef, bool) {
	ref, err := parseDocPath(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid document path", err)
		return docRef{}, false
	}
	uid, _ := UserID(r.Context())
	if !canAccess(uid, ref.Collection) {
		writeError(w, http.StatusForbidden, "Access denied", nil)
		return docRef{}, false
	}
	return ref, true
}

func (h *Handler) resolveDocument(w http.ResponseWriter, r *http.Request) (docRef, bool) {
	ref, ok := h.resolve(w, r)
	if !ok {
		return docRef{}, false
	}
	if ref.ID == "" {
		writeError(w, http.StatusBadRequest, "Path must name a document, not a collection", nil)
		return docRef{}, false
	}
	return ref, true
}

// authorizeLegacy checks the caller owns ref in the legacy collection.
// A missing document is allowed and reported with exists false. On
// failure the response has been written.
func (h *Handler) authorizeLegacy(w http.ResponseWriter, r *http.Request, ref docRef) (exists, ok bool) {
	doc, err := h.Docs.Get(r.Context(), ref.Collection, ref.ID)
	if quote.IsNotFound(err) {
		return false, true
	}
	if err != nil {
		writeStoreError(w, "Failed to get document", err)
		return false, false
	}
	uid, _ := UserID(r.Context())
	if documentOwner(doc.Data) != uid {
		writeError(w, http.StatusForbidden, "Access denied", nil)
		return true, false
	}
	return true, true
}

// documentOwner reads quote.OwnerField from a document; "" when absent.
func documentOwner(data json.RawMessage) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	var owner string
	if err := json.Unmarshal(doc[quote.OwnerField], &owner); err != nil {
		return ""
	}
	return owner
}

// parseDocPath splits "a/b/c/d" into collection "a/b/c" and id "d".
// An odd number of segments names a collection.
func parseDocPath(path string) (docRef, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return docRef{}, errors.New("empty path")
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return docRef{}, errors.New("empty or relative path segment")
		}
	}
	if len(segs)%2 == 1 {
		return docRef{Collection: path}, nil
	}
	return docRef{
		Collection: strings.Join(segs[:len(segs)-1], "/"),
		ID:         segs[len(segs)-1],
	}, nil
}

func canAccess(uid, collection string) bool {
	if uid == "" {
		return false
	}
	if collection == quote.LegacyQuotesCollection {
		return true
	}
	return collection == "users/"+uid || strings.HasPrefix(collection, "users/"+uid+"/")
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeStoreError maps core errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, message string, err error) {
	var ve *quote.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Details: err.Error(), Fields: ve.Fields})
	case quote.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Document not found", err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
