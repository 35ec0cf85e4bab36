package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go2tv.app/plexcast/internal/domain"
	"go2tv.app/plexcast/internal/plex"
	"go2tv.app/plexcast/internal/session"
)

const protocolVersion = "2024-11-05"
const (
	defaultDiscoveryTimeoutMS = 5000
	minDiscoveryTimeoutMS     = 100
)

type ReceiverLister interface {
	ListReceivers(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Receiver, error)
}

type Server struct {
	in                *bufio.Reader
	out               *bufio.Writer
	serverName        string
	serverVersion     string
	logger            *slog.Logger
	useJSONLineOutput bool
	outputModeLocked  bool
	tools             []tool
	receiverLister    ReceiverLister
	remote            session.Remote
}

type Config struct {
	ServerName     string
	ServerVersion  string
	Logger         *slog.Logger
	ReceiverLister ReceiverLister
	Remote         session.Remote
}

func New(in io.Reader, out io.Writer, cfg Config) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "plexcast"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}

	return &Server{
		in:             bufio.NewReader(in),
		out:            bufio.NewWriter(out),
		serverName:     cfg.ServerName,
		serverVersion:  cfg.ServerVersion,
		logger:         cfg.Logger,
		tools:          staticTools(),
		receiverLister: cfg.ReceiverLister,
		remote:         cfg.Remote,
	}
}

func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.logLifecycle(slog.LevelInfo, "mcp_context_done", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		default:
		}

		payload, jsonLineInput, err := readMessage(s.in)
		if err != nil {
			if err == io.EOF {
				s.logLifecycle(slog.LevelInfo, "mcp_stream_eof")
				return nil
			}
			s.logLifecycle(slog.LevelError, "mcp_read_error", slog.String("error", err.Error()))
			return err
		}
		if !s.outputModeLocked {
			s.useJSONLineOutput = jsonLineInput
			s.outputModeLocked = true
			s.logLifecycle(
				slog.LevelDebug,
				"mcp_output_mode",
				slog.String("mode", map[bool]string{true: "jsonline", false: "framed"}[jsonLineInput]),
			)
		}

		if err := s.handle(ctx, payload); err != nil {
			s.logLifecycle(slog.LevelError, "mcp_handle_error", slog.String("error", err.Error()))
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, payload []byte) error {
	startedAt := time.Now()

	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logCall("parse", startedAt, "-32700")
		return s.send(errorResponse(nil, codeParseError, "parse error"))
	}

	// Notifications carry no id and get no response.
	if len(req.ID) == 0 {
		return nil
	}

	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		s.logCall(req.Method, startedAt, "-32600")
		return s.send(errorResponse(req.ID, codeInvalidRequest, "invalid request"))
	}

	switch req.Method {
	case "initialize":
		s.logCall("initialize", startedAt, "")
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: map[string]any{
				"tools": map[string]any{
					"listChanged": false,
				},
			},
			ServerInfo: map[string]string{
				"name":    s.serverName,
				"version": s.serverVersion,
			},
			Instructions: "Control the Plex app on a Cast receiver. Start with play_media, then use playback_command and get_status.",
		}})
	case "ping":
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}})
	case "tools/list":
		s.logCall("tools/list", startedAt, "")
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: toolsListResult{Tools: s.tools}})
	case "tools/call":
		return s.handleToolCall(ctx, req.ID, req.Params)
	default:
		s.logCall(req.Method, startedAt, "-32601")
		return s.send(errorResponse(req.ID, codeMethodNotFound, "method not found"))
	}
}

func (s *Server) handleToolCall(ctx context.Context, id json.RawMessage, rawParams json.RawMessage) error {
	startedAt := time.Now()

	params, err := decodeToolCallParams(rawParams)
	if err != nil {
		return s.sendInvalidParams("tools/call", startedAt, id)
	}

	switch params.Name {
	case "list_receivers":
		return s.handleListReceiversCall(ctx, id, params.Arguments)
	case "play_media":
		return s.handlePlayMediaCall(ctx, id, params.Arguments)
	case "playback_command":
		return s.handlePlaybackCommandCall(ctx, id, params.Arguments)
	case "set_volume":
		return s.handleSetVolumeCall(ctx, id, params.Arguments)
	case "get_status":
		return s.handleGetStatusCall(ctx, id, params.Arguments)
	default:
		s.logCall(params.Name, startedAt, "TOOL_NOT_FOUND")
		return s.send(response{
			JSONRPC: "2.0",
			ID:      id,
			Result:  toolErrorResult("TOOL_NOT_FOUND", fmt.Sprintf("unknown tool: %s", params.Name)),
		})
	}
}

func decodeToolCallParams(raw json.RawMessage) (toolsCallParams, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return toolsCallParams{}, err
	}

	nameRaw, ok := payload["name"]
	if !ok {
		return toolsCallParams{}, fmt.Errorf("missing tool name")
	}

	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil {
		return toolsCallParams{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return toolsCallParams{}, fmt.Errorf("missing tool name")
	}

	arguments, ok := payload["arguments"]
	if !ok {
		flattened := map[string]json.RawMessage{}
		for key, value := range payload {
			if key == "name" || key == "_meta" {
				continue
			}
			flattened[key] = value
		}
		if len(flattened) > 0 {
			normalized, err := json.Marshal(flattened)
			if err != nil {
				return toolsCallParams{}, err
			}
			arguments = normalized
		}
	}

	if len(bytes.TrimSpace(arguments)) == 0 || bytes.Equal(bytes.TrimSpace(arguments), []byte("null")) {
		arguments = json.RawMessage("{}")
	}

	return toolsCallParams{Name: name, Arguments: arguments}, nil
}

func (s *Server) handlePlayMediaCall(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()
	if s.remote == nil {
		return s.sendToolInternalError("play_media", startedAt, id, "plex controller is not connected")
	}

	var params plex.LoadParams
	if err := decodeStrict(rawArgs, &params); err != nil {
		return s.sendInvalidParams("play_media", startedAt, id)
	}
	if err := params.Validate(); err != nil {
		s.logCall("play_media", startedAt, "INVALID_PARAMS")
		return s.send(response{
			JSONRPC: "2.0",
			ID:      id,
			Result:  toolErrorResult("INVALID_PARAMS", err.Error()),
		})
	}

	if err := s.remote.PlayMedia(ctx, params); err != nil {
		return s.sendToolError("play_media", startedAt, id, err)
	}
	s.logCall("play_media", startedAt, "")

	return s.sendToolResult(id, fmt.Sprintf("Loading %s on the Plex receiver.", params.ContentID), map[string]any{
		"content_id": params.ContentID,
		"queue_id":   params.QueueID,
		"offset":     params.Offset,
	})
}

func (s *Server) handlePlaybackCommandCall(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()
	if s.remote == nil {
		return s.sendToolInternalError("playback_command", startedAt, id, "plex controller is not connected")
	}

	var args struct {
		Command string `json:"command"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return s.sendInvalidParams("playback_command", startedAt, id)
	}
	command := strings.ToLower(strings.TrimSpace(args.Command))
	if !slices.Contains(session.Commands, command) {
		return s.sendInvalidParams("playback_command", startedAt, id)
	}

	if err := session.Dispatch(ctx, s.remote, command); err != nil {
		return s.sendToolError("playback_command", startedAt, id, err)
	}
	s.logCall("playback_command", startedAt, "")

	return s.sendToolResult(id, fmt.Sprintf("Sent %s.", command), map[string]any{"command": command})
}

func (s *Server) handleSetVolumeCall(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()
	if s.remote == nil {
		return s.sendToolInternalError("set_volume", startedAt, id, "plex controller is not connected")
	}

	var args struct {
		Percent *float64 `json:"percent"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil || args.Percent == nil {
		return s.sendInvalidParams("set_volume", startedAt, id)
	}
	if *args.Percent < 0 || *args.Percent > 100 {
		return s.sendInvalidParams("set_volume", startedAt, id)
	}

	if err := s.remote.SetVolume(ctx, *args.Percent); err != nil {
		return s.sendToolError("set_volume", startedAt, id, err)
	}
	s.logCall("set_volume", startedAt, "")

	return s.sendToolResult(id, fmt.Sprintf("Volume set to %g%%.", *args.Percent), map[string]any{"percent": *args.Percent})
}

func (s *Server) handleGetStatusCall(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()
	if s.remote == nil {
		return s.sendToolInternalError("get_status", startedAt, id, "plex controller is not connected")
	}

	var args struct{}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return s.sendInvalidParams("get_status", startedAt, id)
	}

	status, err := s.remote.Status(ctx)
	if err != nil {
		return s.sendToolError("get_status", startedAt, id, err)
	}
	s.logCall("get_status", startedAt, "")

	summary := fmt.Sprintf("State %s, volume %.0f%%", status.State, status.Volume*100)
	if status.Muted {
		summary += " (muted)"
	}
	if !status.Fresh {
		summary += "; receiver did not answer, showing cached state"
	}
	summary += "."
	if last := s.remote.LastMessage(); last != "" {
		summary += " Last sent: " + last + "."
	}
	return s.sendToolResult(id, summary, status)
}

func (s *Server) handleListReceiversCall(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()
	if s.receiverLister == nil {
		return s.sendToolInternalError("list_receivers", startedAt, id, "discovery service is not configured")
	}

	var args struct {
		TimeoutMS          *int  `json:"timeout_ms,omitempty"`
		IncludeUnreachable *bool `json:"include_unreachable,omitempty"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return s.sendInvalidParams("list_receivers", startedAt, id)
	}
	timeoutMS := defaultDiscoveryTimeoutMS
	if args.TimeoutMS != nil {
		if *args.TimeoutMS < minDiscoveryTimeoutMS {
			return s.sendInvalidParams("list_receivers", startedAt, id)
		}
		timeoutMS = *args.TimeoutMS
	}
	includeUnreachable := args.IncludeUnreachable != nil && *args.IncludeUnreachable

	receivers, err := s.receiverLister.ListReceivers(ctx, timeoutMS, includeUnreachable)
	if err != nil {
		return s.sendToolError("list_receivers", startedAt, id, err)
	}
	s.logCall("list_receivers", startedAt, "")

	summary := fmt.Sprintf("Discovered %d receiver(s).", len(receivers))
	if len(receivers) > 0 {
		summary += "\n" + formatReceivers(receivers)
	}
	return s.sendToolResult(id, summary, map[string]any{
		"count":     len(receivers),
		"receivers": receivers,
	})
}

func decodeStrict(raw json.RawMessage, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	var trailing any
	if err := decoder.Decode(&trailing); err != io.EOF {
		return fmt.Errorf("invalid JSON payload")
	}
	return nil
}

func (s *Server) sendToolResult(id json.RawMessage, text string, structured any) error {
	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Result: toolCallResult{
			Content:           []toolContent{{Type: "text", Text: text}},
			StructuredContent: structured,
		},
	})
}

func (s *Server) sendToolError(method string, startedAt time.Time, id json.RawMessage, err error) error {
	tErr := session.ToolError(err)
	s.logCall(method, startedAt, tErr.Code)
	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  toolErrorResultFrom(tErr),
	})
}

func (s *Server) sendInvalidParams(method string, startedAt time.Time, id json.RawMessage) error {
	s.logCall(method, startedAt, "-32602")
	return s.send(errorResponse(id, codeInvalidParams, "invalid params"))
}

func (s *Server) sendToolInternalError(method string, startedAt time.Time, id json.RawMessage, message string) error {
	s.logCall(method, startedAt, "INTERNAL_ERROR")
	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  toolErrorResult("INTERNAL_ERROR", message),
	})
}

func toolErrorResult(code, message string) toolCallResult {
	return toolErrorResultFrom(&domain.ToolError{Code: code, Message: message})
}

func toolErrorResultFrom(tErr *domain.ToolError) toolCallResult {
	return toolCallResult{
		Content: []toolContent{
			{
				Type: "text",
				Text: fmt.Sprintf("%s: %s", tErr.Code, tErr.Message),
			},
		},
		StructuredContent: map[string]any{"error": tErr},
		IsError:           true,
	}
}

func (s *Server) logCall(method string, startedAt time.Time, errorCode string) {
	if s == nil || s.logger == nil {
		return
	}
	level := slog.LevelInfo
	if strings.TrimSpace(errorCode) != "" {
		level = slog.LevelError
	}

	s.logger.Log(
		context.Background(),
		level,
		"mcp_call",
		slog.String("method", strings.TrimSpace(method)),
		slog.Int64("duration_ms", time.Since(startedAt).Milliseconds()),
		slog.String("error_code", strings.TrimSpace(errorCode)),
	)
}

func (s *Server) send(resp response) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	s.logLifecycle(slog.LevelDebug, "mcp_send", slog.Int("bytes", len(encoded)))
	if s.useJSONLineOutput {
		return writeJSONLineMessage(s.out, encoded)
	}
	return writeFramedMessage(s.out, encoded)
}

func (s *Server) logLifecycle(level slog.Level, msg string, attrs ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Log(context.Background(), level, msg, attrs...)
}

func formatReceivers(receivers []domain.Receiver) string {
	var out strings.Builder
	for i, r := range receivers {
		if i > 0 {
			out.WriteByte('\n')
		}
		fmt.Fprintf(&out, "%d. id=%s name=%s host=%s:%d", i+1, r.ID, r.Name, r.Host, r.Port)
	}
	return out.String()
}
