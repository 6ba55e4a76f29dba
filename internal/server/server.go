// Package server exposes the local diagnostics surface: queue
// inspection, connectivity overrides, a live event stream and
// prometheus metrics. It binds to loopback by default and is meant for
// developers and test harnesses, not for the public network.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"offsync-go/internal/apierr"
	"offsync-go/internal/connectivity"
	"offsync-go/internal/events"
	"offsync-go/internal/queue"
	"offsync-go/internal/repo"
	"offsync-go/internal/version"
)

// Dependencies encapsulates the runtime services the diagnostics
// endpoints need. Repo is optional; when set, the server also exposes
// the /v1 passthrough so local callers reach the backend through the
// offline-aware façade.
type Dependencies struct {
	Queue   *queue.Manager
	Monitor *connectivity.Monitor
	Hub     *events.Hub
	Repo    *repo.Repository
}

// BuildEngine constructs the gin engine serving the diagnostics API.
func BuildEngine(deps Dependencies, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": version.Version,
			"online":  deps.Monitor.Online(),
		})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	dbg := engine.Group("/debug")
	registerQueueRoutes(dbg, deps)
	registerConnectivityRoutes(dbg, deps)
	registerEventStream(dbg, deps)
	if deps.Repo != nil {
		registerProxyRoutes(engine, deps)
	}
	return engine
}

// registerProxyRoutes mounts the repository façade under /v1: reads go
// straight through, writes either return the backend response or a 202
// receipt for the queued entry.
func registerProxyRoutes(engine *gin.Engine, deps Dependencies) {
	v1 := engine.Group("/v1")

	v1.GET("/*path", func(c *gin.Context) {
		resp, err := deps.Repo.Get(c.Request.Context(), c.Param("path"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Data(resp.Status, resp.Headers.Get("Content-Type"), resp.Body)
	})

	write := func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := deps.Repo.Write(c.Request.Context(), c.Request.Method,
			c.Param("path"), body, forwardHeaders(c.Request.Header))
		if err != nil {
			abortWithError(c, err)
			return
		}
		if result.Queued {
			c.JSON(http.StatusAccepted, gin.H{
				"queued":   true,
				"entry_id": result.Entry.ID,
				"seq":      result.Entry.Seq,
			})
			return
		}
		c.Data(result.Response.Status,
			result.Response.Headers.Get("Content-Type"), result.Response.Body)
	}
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		v1.Handle(method, "/*path", write)
	}
}

// forwardHeaders picks the caller headers worth replaying upstream.
// Authorization is dropped: the transport attaches its own bearer.
func forwardHeaders(h http.Header) map[string]string {
	out := make(map[string]string)
	for name, values := range h {
		switch name {
		case "Authorization", "Host", "Content-Length", "Connection", "Accept-Encoding":
			continue
		}
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func registerQueueRoutes(g *gin.RouterGroup, deps Dependencies) {
	g.GET("/queue", func(c *gin.Context) {
		stats, err := deps.Queue.Stats(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	g.GET("/queue/pending", func(c *gin.Context) {
		entries, err := deps.Queue.Pending(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entrySummaries(entries)})
	})

	g.GET("/queue/deadletter", func(c *gin.Context) {
		entries, err := deps.Queue.DeadLetters(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entrySummaries(entries)})
	})

	g.POST("/queue/flush", func(c *gin.Context) {
		result, err := deps.Queue.Drain(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		if result == nil {
			// a pass was already running; the trigger coalesced into it
			c.JSON(http.StatusAccepted, gin.H{"coalesced": true})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	g.DELETE("/queue/pending/:id", func(c *gin.Context) {
		if err := deps.Queue.Cancel(c.Request.Context(), c.Param("id")); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": c.Param("id")})
	})

	g.DELETE("/queue/deadletter", func(c *gin.Context) {
		n, err := deps.Queue.PurgeDeadLetters(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"purged": n})
	})
}

func registerConnectivityRoutes(g *gin.RouterGroup, deps Dependencies) {
	g.GET("/connectivity", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"state": deps.Monitor.Current()})
	})

	// lets test harnesses force the monitor into a state without
	// touching the network
	g.POST("/connectivity", func(c *gin.Context) {
		var req struct {
			State string `json:"state" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		switch connectivity.State(req.State) {
		case connectivity.StateOnline, connectivity.StateOffline:
			deps.Monitor.SetState(connectivity.State(req.State))
			c.JSON(http.StatusOK, gin.H{"state": deps.Monitor.Current()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "state must be online or offline"})
		}
	})
}

type entrySummary struct {
	Seq        int64  `json:"seq"`
	ID         string `json:"id"`
	Summary    string `json:"summary"`
	Attempts   int    `json:"attempts"`
	Status     string `json:"status"`
	LastError  string `json:"last_error,omitempty"`
	DeadReason string `json:"dead_reason,omitempty"`
	EnqueuedAt string `json:"enqueued_at"`
}

func entrySummaries(entries []*queue.Entry) []entrySummary {
	out := make([]entrySummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, entrySummary{
			Seq:        e.Seq,
			ID:         e.ID,
			Summary:    e.Summary(),
			Attempts:   e.Attempts,
			Status:     string(e.Status),
			LastError:  e.LastError,
			DeadReason: e.DeadReason,
			EnqueuedAt: e.EnqueuedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out
}

func abortWithError(c *gin.Context, err error) {
	status := apierr.StatusOf(err)
	if status == 0 {
		if apierr.IsNetwork(err) {
			status = http.StatusServiceUnavailable
		} else {
			status = http.StatusInternalServerError
		}
	}
	log.WithError(err).Warn("diagnostics request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

// Run serves the engine until ctx is cancelled.
func Run(ctx context.Context, engine *gin.Engine, addr string) error {
	srv := &http.Server{Addr: addr, Handler: engine}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	log.WithField("addr", addr).Info("diagnostics server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
