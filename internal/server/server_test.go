package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"offsync-go/internal/connectivity"
	"offsync-go/internal/events"
	"offsync-go/internal/queue"
	"offsync-go/internal/repo"
	"offsync-go/internal/transport"
)

type okSender struct{}

func (okSender) Do(context.Context, *transport.Request) (*transport.Response, error) {
	return &transport.Response{Status: http.StatusOK}, nil
}

func newTestEngine(t *testing.T) (*gin.Engine, Dependencies) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := queue.NewFileStore(filepath.Join(t.TempDir(), "queue.json"))
	require.NoError(t, store.Initialize(context.Background()))

	hub := events.NewHub()
	mgr := queue.NewManager(store, okSender{}, hub)
	monitor := connectivity.NewMonitor(
		connectivity.ProberFunc(func(context.Context) bool { return false }), hub,
		connectivity.WithProbeInterval(time.Hour))

	deps := Dependencies{
		Queue:   mgr,
		Monitor: monitor,
		Hub:     hub,
		Repo:    repo.New(okSender{}, mgr, monitor, repo.WithMutationIDField("mutation_id")),
	}
	return BuildEngine(deps, false), deps
}

func doRequest(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	engine, _ := newTestEngine(t)
	w := doRequest(engine, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", gjson.Get(w.Body.String(), "status").String())
	assert.False(t, gjson.Get(w.Body.String(), "online").Bool())
}

func TestQueueStatsAndPending(t *testing.T) {
	engine, deps := newTestEngine(t)

	_, err := deps.Queue.Enqueue(context.Background(), &transport.Request{
		Method: http.MethodPost, Path: "/notes", Body: []byte(`{"title":"offline note"}`),
	})
	require.NoError(t, err)

	w := doRequest(engine, http.MethodGet, "/debug/queue", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "pending").Int())

	w = doRequest(engine, http.MethodGet, "/debug/queue/pending", "")
	assert.Equal(t, http.StatusOK, w.Code)
	entries := gjson.Get(w.Body.String(), "entries").Array()
	require.Len(t, entries, 1)
	assert.Equal(t, "POST /notes (title=offline note)", entries[0].Get("summary").String())
	assert.Equal(t, "pending", entries[0].Get("status").String())
}

func TestQueueFlushDrains(t *testing.T) {
	engine, deps := newTestEngine(t)

	_, err := deps.Queue.Enqueue(context.Background(), &transport.Request{
		Method: http.MethodPost, Path: "/notes", Body: []byte(`{}`),
	})
	require.NoError(t, err)

	w := doRequest(engine, http.MethodPost, "/debug/queue/flush", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "replayed").Int())
	assert.Equal(t, int64(0), gjson.Get(w.Body.String(), "remaining").Int())
}

func TestCancelPendingEntry(t *testing.T) {
	engine, deps := newTestEngine(t)

	entry, err := deps.Queue.Enqueue(context.Background(), &transport.Request{
		Method: http.MethodPost, Path: "/notes", Body: []byte(`{}`),
	})
	require.NoError(t, err)

	w := doRequest(engine, http.MethodDelete, "/debug/queue/pending/"+entry.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(engine, http.MethodDelete, "/debug/queue/pending/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConnectivityOverride(t *testing.T) {
	engine, deps := newTestEngine(t)

	w := doRequest(engine, http.MethodGet, "/debug/connectivity", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "offline", gjson.Get(w.Body.String(), "state").String())

	w = doRequest(engine, http.MethodPost, "/debug/connectivity", `{"state":"online"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, deps.Monitor.Online())

	w = doRequest(engine, http.MethodPost, "/debug/connectivity", `{"state":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	engine, _ := newTestEngine(t)
	w := doRequest(engine, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "offsync_")
}

func TestProxyWriteOfflineReturnsQueuedReceipt(t *testing.T) {
	engine, deps := newTestEngine(t)

	w := doRequest(engine, http.MethodPost, "/v1/notes", `{"title":"a"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "queued").Bool())
	assert.NotEmpty(t, gjson.Get(w.Body.String(), "entry_id").String())

	pending, err := deps.Queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestProxyWriteOnlinePassesThrough(t *testing.T) {
	engine, deps := newTestEngine(t)
	deps.Monitor.SetState(connectivity.StateOnline)

	w := doRequest(engine, http.MethodPost, "/v1/notes", `{"title":"a"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	pending, err := deps.Queue.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProxyReadOfflineFailsFast(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := doRequest(engine, http.MethodGet, "/v1/notes", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "offline")
}

func TestEventStreamForwardsHubEvents(t *testing.T) {
	engine, deps := newTestEngine(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/debug/events"
	conn, _, err := ws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the subscription a moment to register
	time.Sleep(50 * time.Millisecond)
	deps.Hub.Publish(context.Background(), events.TopicRequestEnqueued,
		map[string]string{"id": "abc"}, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt events.Event
	require.NoError(t, json.Unmarshal(msg, &evt))
	assert.Equal(t, events.TopicRequestEnqueued, evt.Topic)
}
