// Package stream implements the stream-json wire protocol spoken by coding
// agent CLIs: an incremental frame parser, the message and control-frame
// taxonomy, an ordering state machine, and a processor that wires them to a
// subprocess's output.
package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates the frames a CLI emits.
type MessageType string

const (
	MessageTypeSystem          MessageType = "system"
	MessageTypeAssistant       MessageType = "assistant"
	MessageTypeUser            MessageType = "user"
	MessageTypeResult          MessageType = "result"
	MessageTypeControlRequest  MessageType = "control_request"
	MessageTypeControlResponse MessageType = "control_response"
)

// Message is a single parsed frame from the stream.
type Message interface {
	MessageType() MessageType
}

// SystemMessage carries out-of-band information from the CLI. The "init"
// subtype opens a session and carries its session id.
type SystemMessage struct {
	Subtype   string
	SessionID string
	// Data holds the remaining fields of the frame, untyped.
	Data map[string]any
}

func (*SystemMessage) MessageType() MessageType { return MessageTypeSystem }

// IsInit reports whether this is the session-opening frame.
func (m *SystemMessage) IsInit() bool { return m.Subtype == "init" }

// AssistantMessage is a model turn composed of content blocks.
type AssistantMessage struct {
	Content []ContentBlock
}

func (*AssistantMessage) MessageType() MessageType { return MessageTypeAssistant }

// Text concatenates the text blocks of the message.
func (m *AssistantMessage) Text() string {
	var out string
	for _, block := range m.Content {
		if text, ok := block.(*TextBlock); ok {
			out += text.Text
		}
	}
	return out
}

// UserMessage is a tool result or follow-up echoed back into the transcript.
type UserMessage struct {
	Content []ContentBlock
}

func (*UserMessage) MessageType() MessageType { return MessageTypeUser }

// ResultSubtype values of the terminal frame.
const (
	ResultSubtypeSuccess = "success"
	ResultSubtypeError   = "error"
)

// Usage holds token accounting reported by the CLI.
type Usage struct {
	InputTokens    int64 `json:"input_tokens"`
	OutputTokens   int64 `json:"output_tokens"`
	ThinkingTokens int64 `json:"thinking_tokens,omitempty"`
}

// ResultMessage terminates a session.
type ResultMessage struct {
	Subtype       string
	SessionID     string
	IsError       bool
	NumTurns      int
	DurationMS    int64
	DurationAPIMS int64
	Result        string
	TotalCostUSD  *float64
	Usage         *Usage
}

func (*ResultMessage) MessageType() MessageType { return MessageTypeResult }

// Duration returns the reported wall-clock duration.
func (m *ResultMessage) Duration() time.Duration {
	return time.Duration(m.DurationMS) * time.Millisecond
}

// ContentBlock is one element of an assistant or user message.
type ContentBlock interface {
	BlockType() string
}

// TextBlock is plain assistant text.
type TextBlock struct {
	Text string
}

func (*TextBlock) BlockType() string { return "text" }

// ThinkingBlock is extended reasoning, optionally signed.
type ThinkingBlock struct {
	Thinking  string
	Signature string
}

func (*ThinkingBlock) BlockType() string { return "thinking" }

// ToolUseBlock is a tool invocation requested by the model.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

func (*ToolUseBlock) BlockType() string { return "tool_use" }

// ToolResultBlock carries the outcome of a tool invocation.
type ToolResultBlock struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (*ToolResultBlock) BlockType() string { return "tool_result" }

// wire envelopes

type wireEnvelope struct {
	Type string `json:"type"`
}

type wireSystem struct {
	Subtype   string         `json:"subtype"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"-"`
}

type wireContentMessage struct {
	Content []json.RawMessage `json:"content"`
}

type wireResult struct {
	Subtype       string   `json:"subtype"`
	SessionID     string   `json:"session_id"`
	IsError       bool     `json:"is_error"`
	NumTurns      int      `json:"num_turns"`
	DurationMS    int64    `json:"duration_ms"`
	DurationAPIMS int64    `json:"duration_api_ms"`
	Result        string   `json:"result"`
	TotalCostUSD  *float64 `json:"total_cost_usd,omitempty"`
	Usage         *Usage   `json:"usage,omitempty"`
}

type wireBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Decode parses a complete stream-json frame into its Message variant.
// An unrecognized or malformed type yields a *ProtocolError.
func Decode(raw []byte) (Message, error) {
	var envelope wireEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("frame is not an object: %v", err)}
	}

	switch MessageType(envelope.Type) {
	case MessageTypeSystem:
		return decodeSystem(raw)
	case MessageTypeAssistant:
		content, err := decodeContent(raw)
		if err != nil {
			return nil, err
		}
		return &AssistantMessage{Content: content}, nil
	case MessageTypeUser:
		content, err := decodeContent(raw)
		if err != nil {
			return nil, err
		}
		return &UserMessage{Content: content}, nil
	case MessageTypeResult:
		var wire wireResult
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("malformed result frame: %v", err)}
		}
		return &ResultMessage{
			Subtype:       wire.Subtype,
			SessionID:     wire.SessionID,
			IsError:       wire.IsError,
			NumTurns:      wire.NumTurns,
			DurationMS:    wire.DurationMS,
			DurationAPIMS: wire.DurationAPIMS,
			Result:        wire.Result,
			TotalCostUSD:  wire.TotalCostUSD,
			Usage:         wire.Usage,
		}, nil
	case MessageTypeControlRequest:
		return decodeControlRequest(raw)
	case MessageTypeControlResponse:
		return decodeControlResponse(raw)
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown frame type %q", envelope.Type)}
	}
}

func decodeSystem(raw []byte) (*SystemMessage, error) {
	var wire wireSystem
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed system frame: %v", err)}
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err == nil {
		delete(data, "type")
		delete(data, "subtype")
		delete(data, "session_id")
	}
	return &SystemMessage{Subtype: wire.Subtype, SessionID: wire.SessionID, Data: data}, nil
}

func decodeContent(raw []byte) ([]ContentBlock, error) {
	var wire wireContentMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed content frame: %v", err)}
	}
	blocks := make([]ContentBlock, 0, len(wire.Content))
	for _, rawBlock := range wire.Content {
		block, err := decodeBlock(rawBlock)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func decodeBlock(raw []byte) (ContentBlock, error) {
	var wire wireBlock
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed content block: %v", err)}
	}
	switch wire.Type {
	case "text":
		return &TextBlock{Text: wire.Text}, nil
	case "thinking":
		return &ThinkingBlock{Thinking: wire.Thinking, Signature: wire.Signature}, nil
	case "tool_use":
		return &ToolUseBlock{ID: wire.ID, Name: wire.Name, Input: wire.Input}, nil
	case "tool_result":
		return &ToolResultBlock{ToolUseID: wire.ToolUseID, Content: wire.Content, IsError: wire.IsError}, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown content block type %q", wire.Type)}
	}
}

// Encode serializes a Message back to its wire form. Decode(Encode(m)) is
// structurally identical to m.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *SystemMessage:
		obj := map[string]any{"type": "system", "subtype": m.Subtype}
		if m.SessionID != "" {
			obj["session_id"] = m.SessionID
		}
		for k, v := range m.Data {
			obj[k] = v
		}
		return json.Marshal(obj)
	case *AssistantMessage:
		return encodeContentMessage("assistant", m.Content)
	case *UserMessage:
		return encodeContentMessage("user", m.Content)
	case *ResultMessage:
		return json.Marshal(map[string]any{
			"type": "result", "subtype": m.Subtype, "session_id": m.SessionID,
			"is_error": m.IsError, "num_turns": m.NumTurns,
			"duration_ms": m.DurationMS, "duration_api_ms": m.DurationAPIMS,
			"result": m.Result, "total_cost_usd": m.TotalCostUSD, "usage": m.Usage,
		})
	case *ControlRequest:
		return m.encode()
	case *ControlResponse:
		return m.encode()
	default:
		return nil, fmt.Errorf("cannot encode message of type %T", msg)
	}
}

func encodeContentMessage(msgType string, content []ContentBlock) ([]byte, error) {
	blocks := make([]map[string]any, 0, len(content))
	for _, block := range content {
		switch b := block.(type) {
		case *TextBlock:
			blocks = append(blocks, map[string]any{"type": "text", "text": b.Text})
		case *ThinkingBlock:
			obj := map[string]any{"type": "thinking", "thinking": b.Thinking}
			if b.Signature != "" {
				obj["signature"] = b.Signature
			}
			blocks = append(blocks, obj)
		case *ToolUseBlock:
			blocks = append(blocks, map[string]any{"type": "tool_use", "id": b.ID, "name": b.Name, "input": b.Input})
		case *ToolResultBlock:
			blocks = append(blocks, map[string]any{"type": "tool_result", "tool_use_id": b.ToolUseID, "content": b.Content, "is_error": b.IsError})
		default:
			return nil, fmt.Errorf("cannot encode content block of type %T", block)
		}
	}
	return json.Marshal(map[string]any{"type": msgType, "content": blocks})
}

// ProtocolError reports a frame that violates the wire protocol: unknown
// type or subtype, missing required fields, or out-of-order delivery.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}
