// ABOUTME: HTTP front ends for the gateway: request/response and SSE streaming.
// ABOUTME: Also serves the info and health endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"pgmcp/internal/pool"
	"pgmcp/internal/protocol"
	"pgmcp/internal/registry"
	"pgmcp/internal/router"
)

const sessionHeader = "Mcp-Session-Id"

// Options carries the server's static knobs.
type Options struct {
	// DBHost and DBName appear in the info endpoint, never the
	// credentials.
	DBHost string
	DBName string

	// IdleTimeout closes streaming sessions with no inbound activity.
	IdleTimeout time.Duration

	// Heartbeat is the SSE comment-frame interval.
	Heartbeat time.Duration

	// ReapInterval is how often idle sessions are collected.
	ReapInterval time.Duration

	Logger *log.Logger
}

// Server owns the transport layer: it frames bytes into envelopes,
// invokes the router, and frames results back out per front end.
type Server struct {
	router   *router.Router
	registry *registry.Registry
	pool     *pool.Pool
	sessions *sessionRegistry
	log      *log.Logger

	dbHost       string
	dbName       string
	idleTimeout  time.Duration
	heartbeat    time.Duration
	reapInterval time.Duration
}

// New builds the server. The router, registry, and pool are shared
// with both front ends.
func New(rt *router.Router, reg *registry.Registry, p *pool.Pool, opts Options) *Server {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Server{
		router:       rt,
		registry:     reg,
		pool:         p,
		sessions:     newSessionRegistry(),
		log:          opts.Logger,
		dbHost:       opts.DBHost,
		dbName:       opts.DBName,
		idleTimeout:  opts.IdleTimeout,
		heartbeat:    opts.Heartbeat,
		reapInterval: opts.ReapInterval,
	}
}

// Handler returns the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleInfo)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/mcp", s.handleMCP)
	return mux
}

// Run serves until the context is canceled, then shuts down
// gracefully. The idle-session reaper runs for the same lifetime.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.reapLoop(ctx)

	errc := make(chan error, 1)
	go func() {
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.reapIdle(s.idleTimeout); n > 0 {
				s.log.Info("reaped idle sessions", "count", n)
			}
		}
	}
}

// handleInfo reports static server identification.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":             protocol.ServerName,
		"version":          protocol.ServerVersion,
		"protocol":         "mcp",
		"protocol_version": protocol.Version,
		"transports":       []string{"sse", "http"},
		"capabilities": map[string]int{
			"tools":     len(s.registry.Descriptors()),
			"resources": 0,
			"prompts":   0,
		},
		"database": map[string]string{
			"host":     s.dbHost,
			"database": s.dbName,
		},
		"pool":   s.pool.Stats(),
		"status": "running",
	})
}

// handleHealth runs one trivial round-trip through the pool. It
// degrades to an unhealthy report; it never propagates a failure.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.checkDatabase(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unhealthy",
			"database": "disconnected",
			"error":    err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"database": "connected",
	})
}

func (s *Server) checkDatabase(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer s.pool.Release(conn)

	if _, err := conn.ExecContext(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("round-trip failed: %w", err)
	}
	return nil
}

// handleMCP is the single protocol endpoint serving both transports.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	setCORS(w)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.serveStream(w, r)
	case http.MethodPost:
		s.servePost(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
			"error": "method not allowed",
		})
	}
}

// servePost handles one inbound envelope: either the plain
// request/response front end, a per-request SSE reply, or an envelope
// addressed to a live streaming session.
func (s *Server) servePost(w http.ResponseWriter, r *http.Request) {
	req, parseErr := decodeEnvelope(w, r)
	if parseErr != nil {
		writeJSON(w, http.StatusOK, parseErr)
		return
	}

	if sid := r.Header.Get(sessionHeader); sid != "" {
		s.dispatchToSession(w, r, sid, req)
		return
	}

	// The handler is allowed to finish even if the client goes away;
	// the pooled connection must come back either way.
	resp := s.router.Dispatch(context.WithoutCancel(r.Context()), req)

	if wantsSSE(r) {
		s.writeSingleEventStream(w, resp)
		return
	}

	if resp == nil {
		// Notification: nothing to send back.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// dispatchToSession routes an envelope to a live streaming session.
// Dispatch and enqueue are serialized per session so replies keep
// request order.
func (s *Server) dispatchToSession(w http.ResponseWriter, r *http.Request, sid string, req *protocol.Request) {
	sess, ok := s.sessions.get(sid)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown session",
		})
		return
	}
	sess.Touch()

	sess.dispatchMu.Lock()
	defer sess.dispatchMu.Unlock()

	resp := s.router.Dispatch(context.WithoutCancel(r.Context()), req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "encode response",
		})
		return
	}

	if !sess.Enqueue(payload) {
		// The session died under us; its stream is gone.
		s.sessions.remove(sid)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "session terminated",
		})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// serveStream opens the streaming front end: a new session, an SSE
// response, and one writer loop until disconnect or idle timeout.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "streaming unsupported",
		})
		return
	}

	sess := newSession()
	s.sessions.add(sess)
	defer func() {
		s.sessions.remove(sess.ID)
		sess.Close()
		s.log.Info("session closed", "session", sess.ID)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(sessionHeader, sess.ID)
	w.WriteHeader(http.StatusOK)

	s.log.Info("session opened", "session", sess.ID)

	// Opening event: the server capabilities banner, numbered like any
	// other event.
	banner, err := json.Marshal(protocol.Response{
		JSONRPC: protocol.JSONRPC,
		Result:  protocol.DefaultInitializeResult(),
	})
	if err == nil {
		sess.Enqueue(banner)
	}

	// Best-effort resume: a reconnect always lands in a fresh session,
	// so a Last-Event-ID from a prior stream finds nothing buffered
	// and simply resumes live.
	if lastID := parseLastEventID(r); lastID > 0 {
		for _, ev := range sess.EventsAfter(lastID) {
			writeEvent(w, ev)
		}
		flusher.Flush()
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev := <-sess.outbound:
			writeEvent(w, ev)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-sess.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

// writeSingleEventStream frames one reply as one SSE event, the way
// the per-request streaming variant of the POST front end replies.
func (s *Server) writeSingleEventStream(w http.ResponseWriter, resp *protocol.Response) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if resp == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, ev event) {
	fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.id, ev.payload)
}

// decodeEnvelope parses and validates one inbound envelope. The
// returned response, when non-nil, is the protocol-level failure to
// send back.
func decodeEnvelope(w http.ResponseWriter, r *http.Request) (*protocol.Request, *protocol.Response) {
	var req protocol.Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(&req); err != nil {
		return nil, protocol.NewErrorResponse(nil,
			protocol.Errorf(protocol.CodeParseError, "Parse error: invalid JSON"))
	}
	if req.JSONRPC != protocol.JSONRPC {
		return nil, protocol.NewErrorResponse(req.ID,
			protocol.Errorf(protocol.CodeInvalidRequest, "invalid JSON-RPC version"))
	}
	if req.Method == "" {
		return nil, protocol.NewErrorResponse(req.ID,
			protocol.Errorf(protocol.CodeInvalidRequest, "missing method"))
	}
	return &req, nil
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func parseLastEventID(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func setCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Expose-Headers", sessionHeader)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing more useful to do than note it.
		log.Default().Error("encode response", "err", err)
	}
}
