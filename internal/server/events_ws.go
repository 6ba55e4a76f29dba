package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ws "github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"offsync-go/internal/events"
)

const (
	httpShutdownTimeout = 5 * time.Second
	wsWriteTimeout      = 5 * time.Second
	wsPingInterval      = 30 * time.Second
)

// registerEventStream mounts the live event websocket. Every event
// published on the hub (connectivity transitions, enqueues, replays,
// dead letters, token refreshes) is forwarded as one JSON message.
func registerEventStream(g *gin.RouterGroup, deps Dependencies) {
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// loopback diagnostics surface: same-host origins only
		return origin == "" || strings.Contains(origin, r.Host)
	}}

	g.GET("/events", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		defer conn.Close()

		// buffered so a slow reader drops events instead of blocking
		// the publishers
		feed := make(chan events.Event, 64)
		unsubscribe := deps.Hub.SubscribeAll(func(_ context.Context, evt events.Event) {
			select {
			case feed <- evt:
			default:
				log.Debug("event stream client too slow, dropping event")
			}
		})
		defer unsubscribe()

		// drain the read side so close frames are processed
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case evt := <-feed:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(evt); err != nil {
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(ws.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
