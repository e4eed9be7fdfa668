package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quotebook/quote"
	"github.com/warp/quotebook/quote/store"
)

func TestMemory_KV(t *testing.T) {
	m := store.NewMemory()

	_, ok, err := m.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set("b", "2"))
	require.NoError(t, m.Set("a", "1"))
	v, ok, _ := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	keys, _ := m.Keys()
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, m.Remove("a"))
	require.NoError(t, m.Remove("missing"))
	keys, _ = m.Keys()
	assert.Equal(t, []string{"b"}, keys)
}

func seed(t *testing.T, d *store.Documents, id, data string) {
	t.Helper()
	require.NoError(t, d.Set(context.Background(), "c", id, json.RawMessage(data)))
}

func TestDocuments_QueryFiltersOrdersLimits(t *testing.T) {
	d := store.NewDocuments()
	seed(t, d, "1", `{"status":"Pendente","valor":30,"dataCriacao":"2025-03-01T00:00:00Z"}`)
	seed(t, d, "2", `{"status":"Aprovado","valor":10,"dataCriacao":"2025-03-03T00:00:00Z"}`)
	seed(t, d, "3", `{"status":"Pendente","valor":20,"dataCriacao":"2025-03-02T00:00:00Z"}`)
	seed(t, d, "4", `{"status":"Pendente","valor":5,"dataCriacao":"2025-03-04T00:00:00Z"}`)
	ctx := context.Background()

	docs, err := d.Query(ctx, "c", quote.Query{
		Where:   []quote.Filter{{Field: "status", Value: quote.StatusPending}},
		OrderBy: []quote.Order{{Field: "dataCriacao", Desc: true}},
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "4", docs[0].ID)
	assert.Equal(t, "3", docs[1].ID)

	docs, err = d.Query(ctx, "c", quote.Query{
		Where:   []quote.Filter{{Field: "valor", Value: 10}},
		OrderBy: []quote.Order{{Field: "valor"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2", docs[0].ID)

	docs, err = d.Query(ctx, "c", quote.Query{OrderBy: []quote.Order{{Field: "valor"}}})
	require.NoError(t, err)
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	assert.Equal(t, []string{"4", "2", "3", "1"}, ids)
}

func TestDocuments_UpdateMergesFields(t *testing.T) {
	d := store.NewDocuments()
	seed(t, d, "1", `{"status":"Pendente","valor":30}`)
	ctx := context.Background()

	require.NoError(t, d.Update(ctx, "c", "1", map[string]any{"status": quote.StatusSent}))

	doc, err := d.Get(ctx, "c", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Enviado","valor":30}`, string(doc.Data))

	err = d.Update(ctx, "c", "missing", map[string]any{"status": "x"})
	assert.True(t, quote.IsNotFound(err))
}

func TestDocuments_DeleteIsIdempotent(t *testing.T) {
	d := store.NewDocuments()
	seed(t, d, "1", `{}`)
	ctx := context.Background()

	require.NoError(t, d.Delete(ctx, "c", "1"))
	require.NoError(t, d.Delete(ctx, "c", "1"))
	assert.Equal(t, 0, d.Count("c"))
}

func TestDocuments_FailureInjection(t *testing.T) {
	d := store.NewDocuments()
	ctx := context.Background()

	d.FailWrites("bad")
	err := d.Set(ctx, "c", "bad", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, quote.ErrRemoteUnavailable)
	require.NoError(t, d.Set(ctx, "c", "good", json.RawMessage(`{}`)))

	d.SetOffline(true)
	_, err = d.Get(ctx, "c", "good")
	assert.ErrorIs(t, err, quote.ErrRemoteUnavailable)
	_, err = d.Query(ctx, "c", quote.Query{})
	assert.ErrorIs(t, err, quote.ErrRemoteUnavailable)
	assert.Equal(t, 0, d.Reads())

	d.SetOffline(false)
	d.ClearFailures()
	require.NoError(t, d.Set(ctx, "c", "bad", json.RawMessage(`{}`)))
	assert.Equal(t, 2, d.Count("c"))
}

func TestDocuments_RejectsInvalidJSON(t *testing.T) {
	d := store.NewDocuments()
	err := d.Set(context.Background(), "c", "1", json.RawMessage(`{`))
	assert.Error(t, err)
}
