// Package mcp exposes agent sessions as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/waypoint"
	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/pkg/decision"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/graph"
)

// GraphURI is the resource holding the step graph.
const GraphURI = "waypoint://graph"

// Agent is the session API exposed over MCP. *waypoint.Agent implements it.
type Agent interface {
	CreateSession(ctx context.Context, opts ...waypoint.SessionOption) (*waypoint.TurnResult, error)
	StartSession(ctx context.Context, sessionID string, opts ...waypoint.SessionOption) (*waypoint.TurnResult, error)
	Turn(ctx context.Context, sessionID, input string) (*waypoint.TurnResult, error)
	History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error)
	EndSession(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context) ([]string, error)
	Schema(stepID string) (*decision.Schema, error)
	Graph() *graph.Graph
}

// TurnResponse is the structured result of create_session and turn.
type TurnResponse struct {
	SessionID     string              `json:"session_id" jsonschema_description:"The session the turn ran on"`
	Decision      *domain.Envelope    `json:"decision,omitempty" jsonschema_description:"The decision that suspended or ended the turn"`
	ToolResults   []domain.ToolResult `json:"tool_results,omitempty" jsonschema_description:"Tool invocations made during the turn"`
	Truncated     bool                `json:"truncated,omitempty" jsonschema_description:"Set when the tool-call bound forced an answer"`
	Suspended     bool                `json:"suspended,omitempty" jsonschema_description:"Set when the turn hit the decision chain bound"`
	Status        string              `json:"status" jsonschema_description:"Session status after the turn"`
	CurrentStepID string              `json:"current_step_id" jsonschema_description:"Step the session is on after the turn"`
}

// HistoryResponse is the structured result of get_history.
type HistoryResponse struct {
	SessionID string                `json:"session_id"`
	History   []domain.HistoryEntry `json:"history"`
}

// SessionArgs identifies a session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// CreateSessionArgs are the arguments of the create_session tool.
type CreateSessionArgs struct {
	SessionID string `json:"session_id"`
	// Initiate overrides the definition's initiate setting when set.
	Initiate *bool `json:"initiate,omitempty"`
}

// TurnArgs are the arguments of the turn tool.
type TurnArgs struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

// Server wraps an Agent and exposes it as an MCP Server.
type Server struct {
	agent     Agent
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(agent Agent, opts ...Option) *Server {
	s := &Server{
		agent:     agent,
		mcpServer: server.NewMCPServer("waypoint-mcp", strings.TrimSpace(waypoint.Version)),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
	})
	mux := http.NewServeMux()
	mux.Handle("/sse", corsHandler(sseServer.SSEHandler()))
	mux.Handle("/message", corsHandler(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("create_session",
		mcp.WithDescription("Start a conversation at the start step. Without session_id a new id is generated."),
		mcp.WithString("session_id", mcp.Description("Id for the new session (optional)")),
		mcp.WithBoolean("initiate", mcp.Description("Let the agent speak first (optional, defaults to the definition)")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleCreateSession))

	s.mcpServer.AddTool(mcp.NewTool("turn",
		mcp.WithDescription("Send one user message and run the agent until it waits for the user again or ends."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("input", mcp.Description("User message; empty continues without one")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleTurn))

	s.mcpServer.AddTool(mcp.NewTool("get_history",
		mcp.WithDescription("Get the ordered history of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithOutputSchema[HistoryResponse](),
	), mcp.NewStructuredToolHandler(s.handleGetHistory))

	s.mcpServer.AddTool(mcp.NewTool("end_session",
		mcp.WithDescription("Destroy a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.agent.EndSession(ctx, id); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("end session failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("session %s ended", id)), nil
	})

	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List stored session ids."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := s.agent.Sessions(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list sessions failed: %v", err)), nil
		}
		if ids == nil {
			ids = []string{}
		}
		b, _ := json.Marshal(ids)
		return mcp.NewToolResultText(string(b)), nil
	})

	s.mcpServer.AddTool(mcp.NewTool("get_schema",
		mcp.WithDescription("Get the decision contract of a step."),
		mcp.WithString("step_id", mcp.Required(), mcp.Description("Step id")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stepID, err := request.RequireString("step_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sc, err := s.agent.Schema(stepID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		b, _ := json.Marshal(sc)
		return mcp.NewToolResultText(string(b)), nil
	})
}

func (s *Server) handleCreateSession(ctx context.Context, _ mcp.CallToolRequest, args CreateSessionArgs) (TurnResponse, error) {
	var opts []waypoint.SessionOption
	if args.Initiate != nil {
		opts = append(opts, waypoint.Initiate(*args.Initiate))
	}
	var (
		res *waypoint.TurnResult
		err error
	)
	if args.SessionID != "" {
		res, err = s.agent.StartSession(ctx, args.SessionID, opts...)
	} else {
		res, err = s.agent.CreateSession(ctx, opts...)
	}
	if err != nil {
		return TurnResponse{}, fmt.Errorf("create session failed: %w", err)
	}
	return newTurnResponse(res), nil
}

func (s *Server) handleTurn(ctx context.Context, _ mcp.CallToolRequest, args TurnArgs) (TurnResponse, error) {
	if args.SessionID == "" {
		return TurnResponse{}, errors.New("session_id is required")
	}
	res, err := s.agent.Turn(ctx, args.SessionID, args.Input)
	if err != nil {
		s.logger.Warn("MCP turn failed", "session_id", args.SessionID, "err", err)
		return TurnResponse{}, fmt.Errorf("turn failed: %w", err)
	}
	return newTurnResponse(res), nil
}

func (s *Server) handleGetHistory(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (HistoryResponse, error) {
	history, err := s.agent.History(ctx, args.SessionID)
	if err != nil {
		return HistoryResponse{}, fmt.Errorf("get history failed: %w", err)
	}
	return HistoryResponse{SessionID: args.SessionID, History: history}, nil
}

func newTurnResponse(res *waypoint.TurnResult) TurnResponse {
	out := TurnResponse{
		SessionID:   res.SessionID,
		ToolResults: res.ToolResults,
		Truncated:   res.Truncated,
		Suspended:   res.Suspended,
	}
	if res.Decision != nil {
		env := domain.ToEnvelope(res.Decision)
		out.Decision = &env
	}
	if res.Session != nil {
		out.Status = string(res.Session.Status)
		out.CurrentStepID = res.Session.CurrentStepID
	}
	return out
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(GraphURI, "Step Graph",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		g := s.agent.Graph()
		jsonBytes, err := json.Marshal(map[string]any{
			"start": g.Start(),
			"steps": g.Steps(),
			"flows": g.Flows(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode graph: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      GraphURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
