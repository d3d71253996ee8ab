// Package server exposes chat sessions over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/threadchat/internal/export"
	"github.com/raphaelgruber/threadchat/internal/llm"
	"github.com/raphaelgruber/threadchat/internal/metrics"
	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/raphaelgruber/threadchat/internal/session"
	"github.com/raphaelgruber/threadchat/internal/store"
)

// Error codes sent in error frames besides the engine's own codes.
const (
	CodeBadRequest = "bad_request"
	CodeEmptyInput = "empty_input"
	CodeNotFound   = "not_found"
	CodeInternal   = "internal"
)

var errUnknownFrame = errors.New("unknown frame type")

// Server serves the chat API. Each WebSocket connection gets its own session
// over the shared store and engine.
type Server struct {
	store   store.Store
	index   store.ThreadIndex // nil when the store keeps no thread metadata
	engine  session.Engine
	logger  *slog.Logger
	metrics *metrics.Collector

	sessionOpts []session.Option
	upgrader    websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics shares a collector with the engine so /api/stats reports both.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		if c != nil {
			s.metrics = c
		}
	}
}

// WithSessionOptions adds options applied to every connection's session.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Server) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// New creates a server.
func New(st store.Store, engine session.Engine, opts ...Option) *Server {
	s := &Server{
		store:   st,
		engine:  engine,
		logger:  slog.Default(),
		metrics: metrics.NewCollector(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if idx, ok := st.(store.ThreadIndex); ok {
		s.index = idx
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// Handler returns the HTTP handler with all routes and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/threads", s.handleThreads)
	mux.HandleFunc("GET /api/threads/{id}/messages", s.handleMessages)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /ws", s.handleWS)
	return LoggingMiddleware(s.logger)(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	threads := []models.Thread{}
	if s.index != nil {
		list, err := s.index.ListThreads(r.Context())
		if err != nil {
			s.httpError(w, http.StatusInternalServerError, fmt.Errorf("list threads: %w", err))
			return
		}
		threads = append(threads, list...)
	}
	s.writeJSON(w, threads)
}

// handleMessages returns a thread with its messages. The format query
// parameter selects json (default), md or html.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatJSON)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, err)
		return
	}

	thread := models.Thread{ID: id, Title: models.DefaultTitle}
	if s.index != nil {
		thread, err = s.index.GetThread(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			s.httpError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			s.httpError(w, http.StatusInternalServerError, err)
			return
		}
	}

	msgs, err := s.store.Load(r.Context(), id)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, fmt.Errorf("load history: %w", err))
		return
	}
	if s.index == nil && len(msgs) == 0 {
		s.httpError(w, http.StatusNotFound, fmt.Errorf("%w: %s", store.ErrNotFound, id))
		return
	}

	w.Header().Set("Content-Type", contentType(format))
	if err := export.Write(w, format, thread, msgs); err != nil {
		s.logger.Warn("failed to write thread", "thread", id, "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.metrics.Snapshot())
}

// handleWS runs one chat session for the lifetime of the connection.
// The optional thread query parameter resumes an existing thread.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	// The server's read timeout still applies to the hijacked connection.
	_ = conn.SetReadDeadline(time.Time{})

	// Hijacked connections are not tied to the request context, so cancel
	// explicitly once the client goes away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ui := newWSUI(conn, s.logger)
	opts := append([]session.Option{
		session.WithLogger(s.logger),
		session.WithMetrics(s.metrics),
	}, s.sessionOpts...)
	sess := session.New(s.store, s.engine, ui, opts...)

	if err := sess.Start(ctx, r.URL.Query().Get("thread")); err != nil {
		ui.sendError(err)
		if !errors.Is(err, session.ErrThreadNotFound) {
			return
		}
		if _, err := sess.NewThread(ctx); err != nil {
			ui.sendError(err)
			return
		}
	}

	frames := make(chan models.ClientFrame)
	go s.readFrames(ctx, cancel, conn, ui, frames)

	for f := range frames {
		s.dispatch(ctx, sess, ui, f)
	}
}

// readFrames decodes client frames until the connection fails. Malformed
// frames are answered with an error frame and skipped.
func (s *Server) readFrames(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, ui *wsUI, out chan<- models.ClientFrame) {
	defer close(out)
	defer cancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var f models.ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			ui.sendError(fmt.Errorf("decode frame: %w", err))
			continue
		}

		select {
		case out <- f:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, ui *wsUI, f models.ClientFrame) {
	switch f.Type {
	case models.FrameSend:
		reply, err := sess.Send(ctx, f.Content)
		if err != nil {
			ui.sendError(err)
			return
		}
		_ = ui.write(models.ServerFrame{Type: models.FrameDone, Message: &reply})

	case models.FrameSwitch:
		if err := sess.SwitchThread(ctx, f.ThreadID); err != nil {
			ui.sendError(err)
		}

	case models.FrameNew:
		if _, err := sess.NewThread(ctx); err != nil {
			ui.sendError(err)
		}

	default:
		ui.sendError(fmt.Errorf("%w: %q", errUnknownFrame, f.Type))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) httpError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", "status", status, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func contentType(f export.Format) string {
	switch f {
	case export.FormatHTML:
		return "text/html; charset=utf-8"
	case export.FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json"
	}
}

// errorCode classifies err for error frames.
func errorCode(err error) string {
	var engineErr *llm.EngineError
	switch {
	case errors.Is(err, session.ErrEmptyInput):
		return CodeEmptyInput
	case errors.Is(err, session.ErrThreadNotFound), errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, errUnknownFrame):
		return CodeBadRequest
	case errors.As(err, &engineErr):
		return string(engineErr.Code)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return CodeBadRequest
	}
	return CodeInternal
}
