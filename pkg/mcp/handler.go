package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ericksa/docchat/internal/analysis"
	"github.com/ericksa/docchat/internal/session"
)

const maxArgLogLen = 200

type SessionInput struct {
	SessionID string `json:"session_id" jsonschema:"ID returned by docchat_create_session"`
}

type SendMessageInput struct {
	SessionID string `json:"session_id" jsonschema:"ID returned by docchat_create_session"`
	Content   string `json:"content" jsonschema:"Message to send to the agent"`
}

type UploadTextInput struct {
	SessionID string `json:"session_id" jsonschema:"ID returned by docchat_create_session"`
	Name      string `json:"name" jsonschema:"File name including extension, e.g. contract.txt"`
	Text      string `json:"text" jsonschema:"Document body"`
}

type TogglePanelInput struct {
	SessionID string `json:"session_id" jsonschema:"ID returned by docchat_create_session"`
	Panel     string `json:"panel" jsonschema:"left, right or comparison"`
}

// stateResult is what docchat_get_state returns.
type stateResult struct {
	Session session.Snapshot      `json:"session"`
	View    analysis.View         `json:"view"`
	Risk    *analysis.RiskSummary `json:"risk,omitempty"`
}

// Handler exposes document chat sessions as MCP tools.
type Handler struct {
	sessions *session.Manager
	recorder session.Recorder
	logger   *slog.Logger
	server   *mcp.Server
	http     http.Handler
}

func NewHandler(sessions *session.Manager, recorder session.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		sessions: sessions,
		recorder: recorder,
		logger:   logger,
	}
	h.initMCPServer()
	return h
}

func (h *Handler) initMCPServer() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "DocChat Gateway",
		Version: "1.0.0",
	}, nil)
	server.AddReceivingMiddleware(loggingMiddleware(h.logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "docchat_create_session",
		Description: "Start a new document chat session and return its snapshot",
	}, h.createSession)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "docchat_send_message",
		Description: "Send a chat message in a session and return the updated conversation",
	}, h.sendMessage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "docchat_upload_text",
		Description: "Upload a text document to a session for contract analysis",
	}, h.uploadText)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "docchat_get_state",
		Description: "Return the conversation, analysis state and risk summary of a session",
	}, h.getState)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "docchat_get_notices",
		Description: "Return and clear the pending notices of a session",
	}, h.getNotices)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "docchat_toggle_panel",
		Description: "Toggle the left, right or comparison panel of a session",
	}, h.togglePanel)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "docchat_reset",
		Description: "Clear the conversation and analysis of a session",
	}, h.reset)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "docchat_reset_analysis",
		Description: "Discard the document analysis of a session and keep its conversation",
	}, h.resetAnalysis)

	h.server = server
	h.http = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

// Server returns the underlying MCP server, for running it over stdio or an
// in-memory transport.
func (h *Handler) Server() *mcp.Server {
	return h.server
}

// ServeHTTP serves the tools over the streamable HTTP transport.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.server == nil {
		http.Error(w, "MCP server not initialized", http.StatusInternalServerError)
		return
	}
	h.http.ServeHTTP(w, r)
}

func (h *Handler) createSession(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	c := h.sessions.Create()
	return h.result("docchat_create_session", c.ID(), nil, c.Snapshot(), nil)
}

func (h *Handler) sendMessage(ctx context.Context, req *mcp.CallToolRequest, in SendMessageInput) (*mcp.CallToolResult, any, error) {
	const tool = "docchat_send_message"
	c, err := h.sessions.Get(in.SessionID)
	if err != nil {
		return h.result(tool, in.SessionID, in, nil, err)
	}
	if err := c.SendMessage(ctx, in.Content); err != nil {
		return h.result(tool, in.SessionID, in, nil, err)
	}
	return h.result(tool, in.SessionID, in, c.Snapshot(), nil)
}

func (h *Handler) uploadText(ctx context.Context, req *mcp.CallToolRequest, in UploadTextInput) (*mcp.CallToolResult, any, error) {
	const tool = "docchat_upload_text"
	logged := map[string]any{"session_id": in.SessionID, "name": in.Name, "size": len(in.Text)}
	c, err := h.sessions.Get(in.SessionID)
	if err != nil {
		return h.result(tool, in.SessionID, logged, nil, err)
	}
	doc := analysis.Document{Name: in.Name, ContentType: "text/plain", Data: []byte(in.Text)}
	if err := c.UploadDocument(ctx, doc); err != nil {
		return h.result(tool, in.SessionID, logged, nil, err)
	}
	return h.result(tool, in.SessionID, logged, c.Snapshot(), nil)
}

func (h *Handler) getState(ctx context.Context, req *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, any, error) {
	c, err := h.sessions.Get(in.SessionID)
	if err != nil {
		return h.result("docchat_get_state", in.SessionID, in, nil, err)
	}
	snap := c.Snapshot()
	out := stateResult{Session: snap, View: analysis.Project(snap.Analysis)}
	if snap.Analysis.Result != nil {
		risk := analysis.Assess(snap.Analysis.Result)
		out.Risk = &risk
	}
	return jsonResult(out), nil, nil
}

func (h *Handler) getNotices(ctx context.Context, req *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, any, error) {
	c, err := h.sessions.Get(in.SessionID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string][]session.Notice{"notices": c.DrainNotices()}), nil, nil
}

func (h *Handler) togglePanel(ctx context.Context, req *mcp.CallToolRequest, in TogglePanelInput) (*mcp.CallToolResult, any, error) {
	c, err := h.sessions.Get(in.SessionID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	layout, ok := c.TogglePanel(in.Panel)
	if !ok {
		return errorResult(fmt.Errorf("unknown panel %q", in.Panel)), nil, nil
	}
	return jsonResult(layout), nil, nil
}

func (h *Handler) reset(ctx context.Context, req *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, any, error) {
	c, err := h.sessions.Get(in.SessionID)
	if err != nil {
		return h.result("docchat_reset", in.SessionID, in, nil, err)
	}
	c.ResetConversation(ctx)
	return jsonResult(c.Snapshot()), nil, nil
}

func (h *Handler) resetAnalysis(ctx context.Context, req *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, any, error) {
	c, err := h.sessions.Get(in.SessionID)
	if err != nil {
		return h.result("docchat_reset_analysis", in.SessionID, in, nil, err)
	}
	c.ResetAnalysis(ctx)
	return jsonResult(c.Snapshot()), nil, nil
}

// result records the tool call and turns its outcome into a tool result.
// Errors are reported to the caller with IsError rather than failing the
// protocol request.
func (h *Handler) result(tool, sessionID string, input, output any, err error) (*mcp.CallToolResult, any, error) {
	if h.recorder != nil {
		h.recorder.Record("mcp:"+tool, sessionID, input, output, err)
	}
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(output), nil, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	text := err.Error()
	switch {
	case errors.Is(err, session.ErrInputDisabled):
		text += ". Wait for the pending reply or analysis to finish"
	case errors.Is(err, session.ErrNotFound):
		text += ". Create a session with docchat_create_session first"
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// loggingMiddleware logs every MCP request with its duration.
func loggingMiddleware(logger *slog.Logger) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			start := time.Now()
			result, err := next(ctx, method, req)

			attrs := []any{"method", method, "duration_ms", time.Since(start).Milliseconds()}
			if params := req.GetParams(); params != nil {
				attrs = append(attrs, "params", truncate(fmt.Sprintf("%+v", params), maxArgLogLen))
			}
			if err != nil {
				logger.Error("mcp request failed", append(attrs, "error", err.Error())...)
			} else {
				logger.Debug("mcp request completed", attrs...)
			}
			return result, err
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
