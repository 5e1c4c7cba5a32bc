// Package http serves agent sessions over a JSON HTTP API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/waypoint"
	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/pkg/decision"
	"github.com/aretw0/waypoint/pkg/domain"
)

// Agent is the session API served by the handler. *waypoint.Agent implements it.
type Agent interface {
	CreateSession(ctx context.Context, opts ...waypoint.SessionOption) (*waypoint.TurnResult, error)
	StartSession(ctx context.Context, sessionID string, opts ...waypoint.SessionOption) (*waypoint.TurnResult, error)
	Turn(ctx context.Context, sessionID, input string) (*waypoint.TurnResult, error)
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
	History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error)
	EndSession(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context) ([]string, error)
	Schema(stepID string) (*decision.Schema, error)
}

// Server holds the handlers of the API.
type Server struct {
	Agent   Agent
	Streams *StreamManager

	logger   *slog.Logger
	gatherer prometheus.Gatherer
	origins  []string
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics serves g on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithAllowedOrigins restricts CORS origins. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// NewHandler creates the HTTP handler for agent.
func NewHandler(agent Agent, opts ...Option) http.Handler {
	s := &Server{
		Agent:   agent,
		Streams: NewStreamManager(),
		logger:  logging.NewNop(),
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Post("/", s.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.EndSession)
			r.Post("/turns", s.Turn)
			r.Get("/history", s.GetHistory)
			r.Get("/events", s.SubscribeEvents)
		})
	})
	r.Get("/steps/{id}/schema", s.GetSchema)

	return r
}

// CreateSession handles POST /sessions.
// The body is optional; it may carry the session id to use and an initiate override.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body CreateSessionRequest
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, "invalid request body", err)
		return
	}

	var opts []waypoint.SessionOption
	if body.Initiate != nil {
		opts = append(opts, waypoint.Initiate(*body.Initiate))
	}
	var (
		res *waypoint.TurnResult
		err error
	)
	if body.SessionID != "" {
		res, err = s.Agent.StartSession(r.Context(), body.SessionID, opts...)
	} else {
		res, err = s.Agent.CreateSession(r.Context(), opts...)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.publish(res)
	writeJSON(w, http.StatusCreated, NewTurnResponse(res))
}

// Turn handles POST /sessions/{id}/turns.
func (s *Server) Turn(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var body TurnRequest
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, "invalid request body", err)
		return
	}

	res, err := s.Agent.Turn(r.Context(), id, body.Input)
	if res != nil {
		s.publish(res)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewTurnResponse(res))
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.Agent.Session(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GetHistory handles GET /sessions/{id}/history.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	history, err := s.Agent.History(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{SessionID: id, History: history})
}

// EndSession handles DELETE /sessions/{id}.
func (s *Server) EndSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if err := s.Agent.EndSession(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Agent.Sessions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: ids})
}

// GetSchema handles GET /steps/{id}/schema.
// With ?format=openapi the contract is rendered as an OpenAPI schema object.
func (s *Server) GetSchema(w http.ResponseWriter, r *http.Request) {
	var stepID string
	if err := bindPath(r, "id", &stepID); err != nil {
		s.badRequest(w, "invalid step id", err)
		return
	}
	sc, err := s.Agent.Schema(stepID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "openapi" {
		writeJSON(w, http.StatusOK, sc.OpenAPI())
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "waypoint-http",
		"version": strings.TrimSpace(waypoint.Version),
	})
}

// publish broadcasts the diff of a turn to the session's subscribers.
func (s *Server) publish(res *waypoint.TurnResult) {
	if res.Diff == nil {
		return
	}
	b, err := json.Marshal(res.Diff)
	if err != nil {
		s.logger.Warn("failed to encode session diff", "session_id", res.SessionID, "err", err)
		return
	}
	s.Streams.Broadcast(res.SessionID, string(b))
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	if err := bindPath(r, "id", &id); err != nil {
		s.badRequest(w, "invalid session id", err)
		return "", false
	}
	return id, true
}

func (s *Server) badRequest(w http.ResponseWriter, msg string, err error) {
	s.logger.Warn(msg, "err", err)
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg + ": " + err.Error(), Code: "bad_request"})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func bindPath(r *http.Request, name string, dest *string) error {
	return runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}
