/*
Package remote talks to the quotebook document API over HTTP.

PURPOSE:
  Client implements quote.RemoteStore against /api/docs and wraps the
  /api/auth endpoints. Monitor probes /api/health and turns reachability
  into the quote.Connectivity signal the Syncer listens to.

ERROR MAPPING:
  transport error, 5xx  -> quote.ErrRemoteUnavailable (wrapped)
  401 / 403             -> quote.ErrUnauthorized
  404                   -> *quote.DocumentNotFoundError
  400 / 422             -> *quote.ValidationError when details are present

SEE ALSO:
  - api/handlers.go: the server side of these routes
  - monitor.go: connectivity polling
*/
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/warp/quotebook/auth"
	"github.com/warp/quotebook/quote"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 10 * time.Second

	maxBodySize = 4 << 20
	userAgent   = "quotebook/1.0"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() string
}

// Client is an HTTP RemoteStore.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a client for the server at baseURL
// (e.g. "http://localhost:8080"). tokens may be nil for unauthenticated
// calls such as sign-in.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{},
		timeout: timeout,
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// =============================================================================
// DOCUMENTS (quote.RemoteStore)
// =============================================================================

func (c *Client) Get(ctx context.Context, collection, id string) (quote.Document, error) {
	body, err := c.do(ctx, http.MethodGet, docPath(collection, id), nil, nil)
	if err != nil {
		return quote.Document{}, notFoundAs(err, collection, id)
	}
	var doc quote.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return quote.Document{}, fmt.Errorf("remote: parsing document: %w", err)
	}
	return doc, nil
}

func (c *Client) Query(ctx context.Context, collection string, q quote.Query) ([]quote.Document, error) {
	params, err := EncodeQuery(q)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, docPath(collection, ""), params, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Documents []quote.Document `json:"documents"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("remote: parsing query result: %w", err)
	}
	if resp.Documents == nil {
		resp.Documents = []quote.Document{}
	}
	return resp.Documents, nil
}

func (c *Client) Set(ctx context.Context, collection, id string, data json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPut, docPath(collection, id), nil, data)
	return err
}

func (c *Client) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("remote: encoding fields: %w", err)
	}
	_, err = c.do(ctx, http.MethodPatch, docPath(collection, id), nil, payload)
	return notFoundAs(err, collection, id)
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	_, err := c.do(ctx, http.MethodDelete, docPath(collection, id), nil, nil)
	return err
}

// =============================================================================
// AUTH
// =============================================================================

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp registers an account and returns its session.
func (c *Client) SignUp(ctx context.Context, email, password string) (auth.Session, error) {
	return c.credentialCall(ctx, "/api/auth/signup", email, password)
}

// SignIn opens a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (auth.Session, error) {
	return c.credentialCall(ctx, "/api/auth/signin", email, password)
}

// SignOut revokes the current token on the server.
func (c *Client) SignOut(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/signout", nil, nil)
	return err
}

func (c *Client) credentialCall(ctx context.Context, path, email, password string) (auth.Session, error) {
	payload, err := json.Marshal(credentials{Email: email, Password: password})
	if err != nil {
		return auth.Session{}, err
	}
	body, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return auth.Session{}, err
	}
	var sess auth.Session
	if err := json.Unmarshal(body, &sess); err != nil {
		return auth.Session{}, fmt.Errorf("remote: parsing session: %w", err)
	}
	return sess, nil
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/health", nil, nil)
	return err
}

// =============================================================================
// TRANSPORT
// =============================================================================

// StatusError is a non-2xx response that maps to no sentinel.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Message)
}

type errorBody struct {
	Error   string             `json:"error"`
	Details string             `json:"details,omitempty"`
	Fields  []quote.FieldError `json:"fields,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("remote: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %s %s: %v: %w", method, path, err, quote.ErrRemoteUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("remote: reading response: %v: %w", err, quote.ErrRemoteUnavailable)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, statusError(resp.StatusCode, body)
}

func statusError(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Error
	if eb.Details != "" {
		msg += ": " + eb.Details
	}

	switch {
	case status >= 500:
		return fmt.Errorf("remote: status %d %s: %w", status, msg, quote.ErrRemoteUnavailable)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("remote: %s: %w", msg, quote.ErrUnauthorized)
	case status == http.StatusNotFound:
		return fmt.Errorf("remote: %s: %w", msg, quote.ErrNotFound)
	case len(eb.Fields) > 0:
		return &quote.ValidationError{Fields: eb.Fields}
	}
	return &StatusError{Status: status, Message: msg}
}

// notFoundAs upgrades a bare not-found into a DocumentNotFoundError.
func notFoundAs(err error, collection, id string) error {
	if err != nil && errors.Is(err, quote.ErrNotFound) {
		return &quote.DocumentNotFoundError{Collection: collection, ID: id}
	}
	return err
}

// docPath builds /api/docs/<collection>[/<id>] with escaped segments.
func docPath(collection, id string) string {
	segs := strings.Split(strings.Trim(collection, "/"), "/")
	if id != "" {
		segs = append(segs, id)
	}
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return "/api/docs/" + strings.Join(segs, "/")
}

// EncodeQuery renders q as query parameters. Filter values are JSON so
// numbers and booleans keep their type.
func EncodeQuery(q quote.Query) (url.Values, error) {
	v := url.Values{}
	for _, f := range q.Where {
		b, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("remote: encoding filter %s: %w", f.Field, err)
		}
		v.Add("where", f.Field+":"+string(b))
	}
	if len(q.OrderBy) > 1 {
		return nil, fmt.Errorf("remote: at most one orderBy is supported, got %d", len(q.OrderBy))
	}
	if len(q.OrderBy) == 1 {
		v.Set("orderBy", q.OrderBy[0].Field)
		if q.OrderBy[0].Desc {
			v.Set("direction", "desc")
		} else {
			v.Set("direction", "asc")
		}
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v, nil
}

// DecodeQuery is the inverse of EncodeQuery. Filter values that are not
// valid JSON are taken as plain strings.
func DecodeQuery(v url.Values) (quote.Query, error) {
	var q quote.Query
	for _, w := range v["where"] {
		field, raw, ok := strings.Cut(w, ":")
		if !ok || field == "" {
			return q, &quote.ValidationError{Fields: []quote.FieldError{{Field: "where", Message: "expected field:value, got " + w}}}
		}
		var val any
		if err := json.Unmarshal([]byte(raw), &val); err != nil {
			val = raw
		}
		q.Where = append(q.Where, quote.Filter{Field: field, Value: val})
	}
	if field := v.Get("orderBy"); field != "" {
		dir := strings.ToLower(v.Get("direction"))
		if dir != "" && dir != "asc" && dir != "desc" {
			return q, &quote.ValidationError{Fields: []quote.FieldError{{Field: "direction", Message: "must be asc or desc"}}}
		}
		q.OrderBy = []quote.Order{{Field: field, Desc: dir == "desc"}}
	}
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return q, &quote.ValidationError{Fields: []quote.FieldError{{Field: "limit", Message: "must be a non-negative integer"}}}
		}
		q.Limit = n
	}
	return q, nil
}
