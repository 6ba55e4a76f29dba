package repo

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"offsync-go/internal/apierr"
	"offsync-go/internal/queue"
	"offsync-go/internal/transport"
)

type fakeConn struct{ online bool }

func (f *fakeConn) Online() bool { return f.online }

type fakeSender struct {
	calls []*transport.Request
	resp  *transport.Response
	err   error
}

func (f *fakeSender) Do(_ context.Context, req *transport.Request) (*transport.Response, error) {
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

type fakeQueue struct {
	entries []*queue.Entry
	err     error
}

func (f *fakeQueue) Enqueue(_ context.Context, req *transport.Request) (*queue.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	entry := &queue.Entry{
		Seq: int64(len(f.entries) + 1), ID: "entry", Method: req.Method,
		Path: req.Path, Body: req.Body, Status: queue.StatusPending,
	}
	f.entries = append(f.entries, entry)
	return entry, nil
}

func TestGetOnlinePassesThrough(t *testing.T) {
	sender := &fakeSender{resp: &transport.Response{Status: http.StatusOK, Body: []byte(`[]`)}}
	r := New(sender, &fakeQueue{}, &fakeConn{online: true})

	resp, err := r.Get(context.Background(), "/notes")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, http.MethodGet, sender.calls[0].Method)
}

func TestGetOfflineFailsFast(t *testing.T) {
	sender := &fakeSender{}
	q := &fakeQueue{}
	r := New(sender, q, &fakeConn{online: false})

	_, err := r.Get(context.Background(), "/notes")
	require.Error(t, err)
	assert.True(t, apierr.IsNetwork(err))
	assert.Equal(t, "offline", apierr.CodeOf(err))
	assert.Empty(t, sender.calls, "no wire attempt while offline")
	assert.Empty(t, q.entries, "reads are never queued")
}

func TestWriteOnlineReturnsResponse(t *testing.T) {
	sender := &fakeSender{resp: &transport.Response{Status: http.StatusCreated}}
	q := &fakeQueue{}
	r := New(sender, q, &fakeConn{online: true})

	result, err := r.Create(context.Background(), "/notes", []byte(`{"title":"a"}`))
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Equal(t, http.StatusCreated, result.Response.Status)
	assert.Empty(t, q.entries)
}

func TestWriteOfflineEnqueues(t *testing.T) {
	sender := &fakeSender{}
	q := &fakeQueue{}
	r := New(sender, q, &fakeConn{online: false})

	result, err := r.Create(context.Background(), "/notes", []byte(`{"title":"a"}`))
	require.NoError(t, err)
	assert.True(t, result.Queued)
	require.NotNil(t, result.Entry)
	assert.Nil(t, result.Response)
	assert.Empty(t, sender.calls, "offline writes skip the wire")
	require.Len(t, q.entries, 1)
}

func TestWriteNetworkFailureFallsBackToQueue(t *testing.T) {
	sender := &fakeSender{err: apierr.Network("timeout", "request timeout", nil)}
	q := &fakeQueue{}
	r := New(sender, q, &fakeConn{online: true})

	result, err := r.Update(context.Background(), "/notes/1", []byte(`{"title":"b"}`))
	require.NoError(t, err)
	assert.True(t, result.Queued)
	require.Len(t, sender.calls, 1, "online write tries the wire first")
	require.Len(t, q.entries, 1)
}

func TestWriteServerErrorSurfaces(t *testing.T) {
	sender := &fakeSender{err: apierr.Server(http.StatusInternalServerError, "server_error", "boom")}
	q := &fakeQueue{}
	r := New(sender, q, &fakeConn{online: true})

	_, err := r.Create(context.Background(), "/notes", []byte(`{}`))
	require.Error(t, err)
	kind, _ := apierr.KindOf(err)
	assert.Equal(t, apierr.KindServer, kind)
	assert.Empty(t, q.entries, "definitive server answers are not retried")
}

func TestWriteAuthErrorSurfaces(t *testing.T) {
	sender := &fakeSender{err: apierr.Auth(http.StatusUnauthorized, "token rejected")}
	q := &fakeQueue{}
	r := New(sender, q, &fakeConn{online: true})

	_, err := r.Delete(context.Background(), "/notes/1")
	require.Error(t, err)
	assert.True(t, apierr.IsAuth(err))
	assert.Empty(t, q.entries)
}

func TestWriteRejectsNonMutatingMethod(t *testing.T) {
	r := New(&fakeSender{}, &fakeQueue{}, &fakeConn{online: true})
	_, err := r.Write(context.Background(), http.MethodGet, "/notes", nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, apierr.StatusOf(err))
}

func TestWriteCarriesCallerHeaders(t *testing.T) {
	sender := &fakeSender{resp: &transport.Response{Status: http.StatusCreated}}
	r := New(sender, &fakeQueue{}, &fakeConn{online: true})

	_, err := r.Write(context.Background(), http.MethodPost, "/notes", []byte(`{}`),
		map[string]string{"X-Device": "phone-1"})
	require.NoError(t, err)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, "phone-1", sender.calls[0].Headers["X-Device"])
}

func TestWriteStampsMutationID(t *testing.T) {
	sender := &fakeSender{resp: &transport.Response{Status: http.StatusCreated}}
	r := New(sender, &fakeQueue{}, &fakeConn{online: true}, WithMutationIDField("mutation_id"))

	_, err := r.Create(context.Background(), "/notes", []byte(`{"title":"a"}`))
	require.NoError(t, err)
	require.Len(t, sender.calls, 1)
	stamped := gjson.GetBytes(sender.calls[0].Body, "mutation_id")
	assert.True(t, stamped.Exists())
	assert.NotEmpty(t, stamped.String())
	assert.Equal(t, "a", gjson.GetBytes(sender.calls[0].Body, "title").String())
}

func TestWriteKeepsExistingMutationID(t *testing.T) {
	sender := &fakeSender{resp: &transport.Response{Status: http.StatusCreated}}
	r := New(sender, &fakeQueue{}, &fakeConn{online: true}, WithMutationIDField("mutation_id"))

	_, err := r.Create(context.Background(), "/notes", []byte(`{"mutation_id":"caller-chose"}`))
	require.NoError(t, err)
	assert.Equal(t, "caller-chose",
		gjson.GetBytes(sender.calls[0].Body, "mutation_id").String())
}

func TestWriteLeavesNonJSONBodiesAlone(t *testing.T) {
	sender := &fakeSender{resp: &transport.Response{Status: http.StatusCreated}}
	r := New(sender, &fakeQueue{}, &fakeConn{online: true}, WithMutationIDField("mutation_id"))

	_, err := r.Create(context.Background(), "/blob", []byte("raw bytes"))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw bytes"), sender.calls[0].Body)
}

func TestWriteStorageFailurePropagates(t *testing.T) {
	q := &fakeQueue{err: apierr.Storage("disk full", nil)}
	r := New(&fakeSender{}, q, &fakeConn{online: false})

	_, err := r.Create(context.Background(), "/notes", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, apierr.IsStorage(err))
}
