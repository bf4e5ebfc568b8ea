package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Control request subtypes understood on both directions of the protocol.
const (
	ControlSubtypeInitialize        = "initialize"
	ControlSubtypeCanUseTool        = "can_use_tool"
	ControlSubtypeHookCallback      = "hook_callback"
	ControlSubtypeInterrupt         = "interrupt"
	ControlSubtypeSetPermissionMode = "set_permission_mode"
	ControlSubtypeSetModel          = "set_model"
	ControlSubtypeMCPMessage        = "mcp_message"
)

var knownControlSubtypes = map[string]bool{
	ControlSubtypeInitialize:        true,
	ControlSubtypeCanUseTool:        true,
	ControlSubtypeHookCallback:      true,
	ControlSubtypeInterrupt:         true,
	ControlSubtypeSetPermissionMode: true,
	ControlSubtypeSetModel:          true,
	ControlSubtypeMCPMessage:        true,
}

// ControlRequest is a bidirectional control frame: either the CLI asking the
// host something (can_use_tool, hook_callback) or the host reconfiguring the
// CLI (initialize, interrupt, set_permission_mode, set_model).
type ControlRequest struct {
	RequestID string
	Subtype   string
	Payload   map[string]any
}

func (*ControlRequest) MessageType() MessageType { return MessageTypeControlRequest }

// ControlResponse answers a ControlRequest, correlated by request id.
type ControlResponse struct {
	RequestID string
	OK        bool
	Body      map[string]any
	ErrMsg    string
}

func (*ControlResponse) MessageType() MessageType { return MessageTypeControlResponse }

type wireControlRequest struct {
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
}

type wireControlRequestBody struct {
	Subtype string `json:"subtype"`
}

type wireControlResponse struct {
	Response struct {
		Subtype   string         `json:"subtype"`
		RequestID string         `json:"request_id"`
		Response  map[string]any `json:"response,omitempty"`
		Error     string         `json:"error,omitempty"`
	} `json:"response"`
}

func decodeControlRequest(raw []byte) (*ControlRequest, error) {
	var wire wireControlRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed control_request: %v", err)}
	}
	if wire.RequestID == "" {
		return nil, &ProtocolError{Reason: "control_request is missing request_id"}
	}
	var body wireControlRequestBody
	if err := json.Unmarshal(wire.Request, &body); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed control_request body: %v", err)}
	}
	if !knownControlSubtypes[body.Subtype] {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown control subtype %q", body.Subtype)}
	}
	var payload map[string]any
	if err := json.Unmarshal(wire.Request, &payload); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed control_request payload: %v", err)}
	}
	delete(payload, "subtype")
	return &ControlRequest{RequestID: wire.RequestID, Subtype: body.Subtype, Payload: payload}, nil
}

func decodeControlResponse(raw []byte) (*ControlResponse, error) {
	var wire wireControlResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed control_response: %v", err)}
	}
	if wire.Response.RequestID == "" {
		return nil, &ProtocolError{Reason: "control_response is missing request_id"}
	}
	return &ControlResponse{
		RequestID: wire.Response.RequestID,
		OK:        wire.Response.Subtype == "success",
		Body:      wire.Response.Response,
		ErrMsg:    wire.Response.Error,
	}, nil
}

func (r *ControlRequest) encode() ([]byte, error) {
	body := make(map[string]any, len(r.Payload)+1)
	for k, v := range r.Payload {
		body[k] = v
	}
	body["subtype"] = r.Subtype
	return json.Marshal(map[string]any{
		"type":       "control_request",
		"request_id": r.RequestID,
		"request":    body,
	})
}

func (r *ControlResponse) encode() ([]byte, error) {
	inner := map[string]any{"request_id": r.RequestID}
	if r.OK {
		inner["subtype"] = "success"
		if r.Body != nil {
			inner["response"] = r.Body
		}
	} else {
		inner["subtype"] = "error"
		inner["error"] = r.ErrMsg
	}
	return json.Marshal(map[string]any{
		"type":     "control_response",
		"response": inner,
	})
}

// NewControlRequest builds an outbound control request with a fresh id.
func NewControlRequest(subtype string, payload map[string]any) *ControlRequest {
	return &ControlRequest{
		RequestID: uuid.NewString(),
		Subtype:   subtype,
		Payload:   payload,
	}
}

// PermissionResult is the outcome of a tool permission check.
type PermissionResult struct {
	Allowed bool
	// UpdatedInput optionally replaces the tool input on allow.
	UpdatedInput map[string]any
	// Message explains a denial.
	Message string
}

// Allow permits the tool call, optionally rewriting its input.
func Allow(updatedInput map[string]any) PermissionResult {
	return PermissionResult{Allowed: true, UpdatedInput: updatedInput}
}

// Deny refuses the tool call with an explanation.
func Deny(message string) PermissionResult {
	return PermissionResult{Allowed: false, Message: message}
}

// ToolPermissionCallback decides whether the CLI may invoke a tool. It is
// called from the stream-reader task and must return quickly.
type ToolPermissionCallback func(toolName string, input map[string]any, payload map[string]any) PermissionResult

// SendFunc writes one encoded control frame to the subprocess's stdin.
type SendFunc func(frame []byte) error

// Dispatcher correlates outbound control requests with their responses and
// serves inbound requests (tool permissions) from registered callbacks.
type Dispatcher struct {
	send               SendFunc
	permissionCallback ToolPermissionCallback
	callbackTimeout    time.Duration

	mu      sync.Mutex
	pending map[string]chan *ControlResponse
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Send delivers encoded frames to the subprocess. Required for outbound
	// requests and permission responses.
	Send SendFunc
	// PermissionCallback answers can_use_tool requests. Nil denies all.
	PermissionCallback ToolPermissionCallback
	// CallbackTimeout bounds permission callback execution. Defaults to 5s.
	CallbackTimeout time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.CallbackTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		send:               cfg.Send,
		permissionCallback: cfg.PermissionCallback,
		callbackTimeout:    timeout,
		pending:            make(map[string]chan *ControlResponse),
	}
}

// Request sends an outbound control request and blocks until its response
// arrives or the context expires.
func (d *Dispatcher) Request(ctx context.Context, req *ControlRequest) (*ControlResponse, error) {
	if d.send == nil {
		return nil, fmt.Errorf("dispatcher has no send function")
	}

	ch := make(chan *ControlResponse, 1)
	d.mu.Lock()
	d.pending[req.RequestID] = ch
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, req.RequestID)
		d.mu.Unlock()
	}()

	frame, err := req.encode()
	if err != nil {
		return nil, fmt.Errorf("encode control request: %w", err)
	}
	if err := d.send(frame); err != nil {
		return nil, fmt.Errorf("send control request %s: %w", req.Subtype, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("control request %s (%s) timed out: %w", req.Subtype, req.RequestID, ctx.Err())
	}
}

// HandleMessage routes an inbound control frame. Returns true when the
// message was a control frame (and thus consumed).
func (d *Dispatcher) HandleMessage(msg Message) bool {
	switch m := msg.(type) {
	case *ControlResponse:
		d.completePending(m)
		return true
	case *ControlRequest:
		d.serveRequest(m)
		return true
	default:
		return false
	}
}

func (d *Dispatcher) completePending(resp *ControlResponse) {
	d.mu.Lock()
	ch, ok := d.pending[resp.RequestID]
	d.mu.Unlock()
	if !ok {
		slog.Warn("Control response for unknown request id, dropping",
			"request_id", resp.RequestID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// serveRequest answers an inbound control request. Only can_use_tool is
// served; other inbound subtypes are acknowledged with an error response so
// the CLI does not hang waiting.
func (d *Dispatcher) serveRequest(req *ControlRequest) {
	switch req.Subtype {
	case ControlSubtypeCanUseTool:
		d.servePermission(req)
	default:
		d.respond(&ControlResponse{
			RequestID: req.RequestID,
			OK:        false,
			ErrMsg:    fmt.Sprintf("unsupported inbound control subtype %q", req.Subtype),
		})
	}
}

func (d *Dispatcher) servePermission(req *ControlRequest) {
	toolName, _ := req.Payload["tool_name"].(string)
	input, _ := req.Payload["input"].(map[string]any)

	result := d.runPermissionCallback(toolName, input, req.Payload)

	resp := &ControlResponse{RequestID: req.RequestID, OK: true}
	if result.Allowed {
		body := map[string]any{"behavior": "allow"}
		if result.UpdatedInput != nil {
			body["updatedInput"] = result.UpdatedInput
		}
		resp.Body = body
	} else {
		message := result.Message
		if message == "" {
			message = "denied"
		}
		resp.Body = map[string]any{"behavior": "deny", "message": message}
	}
	d.respond(resp)
}

// runPermissionCallback executes the callback with panic recovery and a
// deadline. A missing, panicking, or slow callback denies the tool.
func (d *Dispatcher) runPermissionCallback(toolName string, input, payload map[string]any) PermissionResult {
	if d.permissionCallback == nil {
		return Deny("no permission callback registered")
	}

	done := make(chan PermissionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Tool permission callback panicked",
					"tool", toolName, "panic", r)
				done <- Deny("callback failed")
			}
		}()
		done <- d.permissionCallback(toolName, input, payload)
	}()

	select {
	case result := <-done:
		return result
	case <-time.After(d.callbackTimeout):
		slog.Warn("Tool permission callback timed out, denying",
			"tool", toolName, "timeout", d.callbackTimeout)
		return Deny("callback failed")
	}
}

func (d *Dispatcher) respond(resp *ControlResponse) {
	if d.send == nil {
		slog.Warn("Dropping control response, no send function", "request_id", resp.RequestID)
		return
	}
	frame, err := resp.encode()
	if err != nil {
		slog.Error("Failed to encode control response", "request_id", resp.RequestID, "error", err)
		return
	}
	if err := d.send(frame); err != nil {
		slog.Warn("Failed to send control response", "request_id", resp.RequestID, "error", err)
	}
}

// Interrupt sends an interrupt control request.
func (d *Dispatcher) Interrupt(ctx context.Context) error {
	_, err := d.Request(ctx, NewControlRequest(ControlSubtypeInterrupt, nil))
	return err
}

// SetPermissionMode switches the CLI's permission mode mid-session.
func (d *Dispatcher) SetPermissionMode(ctx context.Context, mode string) error {
	_, err := d.Request(ctx, NewControlRequest(ControlSubtypeSetPermissionMode, map[string]any{"mode": mode}))
	return err
}

// SetModel switches the CLI's model mid-session.
func (d *Dispatcher) SetModel(ctx context.Context, model string) error {
	_, err := d.Request(ctx, NewControlRequest(ControlSubtypeSetModel, map[string]any{"model": model}))
	return err
}

// Initialize registers hooks at session start.
func (d *Dispatcher) Initialize(ctx context.Context, payload map[string]any) (*ControlResponse, error) {
	return d.Request(ctx, NewControlRequest(ControlSubtypeInitialize, payload))
}
