package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/appstate/internal/history"
	"github.com/loykin/appstate/internal/metrics"
	"github.com/loykin/appstate/internal/state"
	"github.com/loykin/appstate/internal/store"
)

// Router provides embeddable read-only HTTP handlers over a state file.
// Endpoints:
//
//	GET {basePath}/state          decoded state file as JSON
//	GET {basePath}/record         query: name=... (requires a store)
//	GET {basePath}/history        query: name=...&limit=N (requires a history reader)
//	GET {basePath}/healthz
//	GET /metrics                  when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	path     string
	codec    state.Codec
	basePath string
	st       store.Store
	hist     HistoryReader
	metrics  bool
}

// HistoryReader lists recent events for an application.
type HistoryReader interface {
	Recent(ctx context.Context, name string, limit int) ([]history.Event, error)
}

// RouterOption configures a Router.
type RouterOption func(*Router)

func WithStore(s store.Store) RouterOption { return func(r *Router) { r.st = s } }

func WithHistoryReader(h HistoryReader) RouterOption { return func(r *Router) { r.hist = h } }

func WithCodec(c state.Codec) RouterOption { return func(r *Router) { r.codec = c } }

// WithMetrics mounts the Prometheus handler at /metrics.
func WithMetrics() RouterOption { return func(r *Router) { r.metrics = true } }

// NewRouter serves the state file at path under basePath.
// Example basePath: "/abc" results in /abc/state, /abc/healthz.
func NewRouter(path, basePath string, opts ...RouterOption) *Router {
	r := &Router{path: path, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/state", r.handleState)
	group.GET("/record", r.handleRecord)
	group.GET("/history", r.handleHistory)
	group.GET("/healthz", r.handleHealth)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer binds addr and serves r in the background. A bind failure is
// returned; callers stop the server with Shutdown or Close.
func NewServer(addr string, r *Router) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// stateResp wraps the decoded state with the file it came from.
type stateResp struct {
	Path  string               `json:"path"`
	State state.PersistedState `json:"state"`
}

func (r *Router) handleState(c *gin.Context) {
	s, err := state.LoadStateWith(r.codec, r.path)
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, stateResp{Path: r.path, State: s})
}

func (r *Router) handleRecord(c *gin.Context) {
	if r.st == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "no store configured"})
		return
	}
	name := c.Query("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	rec, err := r.st.GetByName(c.Request.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no record for " + name})
		return
	}
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "no history configured"})
		return
	}
	name := c.Query("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	limit := 50
	if ls := c.Query("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be 1..1000"})
			return
		}
		limit = n
	}
	events, err := r.hist.Recent(c.Request.Context(), name, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
