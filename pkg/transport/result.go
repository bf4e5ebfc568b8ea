package transport

import (
	"strings"

	"github.com/codeready-toolchain/verdict/pkg/stream"
)

// Status classifies the outcome of an agent call.
type Status string

const (
	StatusSuccess   Status = "SUCCESS"
	StatusPartial   Status = "PARTIAL"
	StatusError     Status = "ERROR"
	StatusTimeout   Status = "TIMEOUT"
	StatusCancelled Status = "CANCELLED"
)

// Cost is the token cost accounting of a call.
type Cost struct {
	InputTokenCost  float64
	OutputTokenCost float64
	InputTokens     int64
	OutputTokens    int64
	Model           string
}

// Usage is the token usage of a call.
type Usage struct {
	InputTokens    int64
	OutputTokens   int64
	ThinkingTokens int64
}

// Metadata describes a completed call.
type Metadata struct {
	Model         string
	Cost          *Cost
	Usage         *Usage
	DurationMS    int64
	APIDurationMS int64
	SessionID     string
	NumTurns      int
	TotalCostUSD  *float64
}

// QueryResult is the transport-level outcome: the collected message
// transcript plus projected metadata and status.
type QueryResult struct {
	Messages []stream.Message
	Metadata Metadata
	Status   Status
	// Warnings carries non-fatal parse findings (buffer overflows etc.).
	Warnings []string
}

// AssistantText concatenates the text of every assistant message.
func (r *QueryResult) AssistantText() string {
	var sb strings.Builder
	for _, msg := range r.Messages {
		if assistant, ok := msg.(*stream.AssistantMessage); ok {
			sb.WriteString(assistant.Text())
		}
	}
	return sb.String()
}

// FinalResult returns the terminal result's text, if present.
func (r *QueryResult) FinalResult() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if result, ok := r.Messages[i].(*stream.ResultMessage); ok {
			return result.Result
		}
	}
	return ""
}

// hasAssistant reports whether any assistant message was collected.
func (r *QueryResult) hasAssistant() bool {
	for _, msg := range r.Messages {
		if _, ok := msg.(*stream.AssistantMessage); ok {
			return true
		}
	}
	return false
}

// projectResult derives a QueryResult from collected messages and process
// outcome. Precedence: timeout, non-zero exit, then the terminal result's
// subtype, then the presence of assistant output.
func projectResult(messages []stream.Message, model string, exitCode int, elapsedMS int64, timedOut bool) *QueryResult {
	qr := &QueryResult{
		Messages: messages,
		Metadata: Metadata{Model: model, DurationMS: elapsedMS},
	}

	var terminal *stream.ResultMessage
	for _, msg := range messages {
		switch m := msg.(type) {
		case *stream.SystemMessage:
			if m.IsInit() && qr.Metadata.SessionID == "" {
				qr.Metadata.SessionID = m.SessionID
			}
		case *stream.ResultMessage:
			terminal = m
		}
	}

	if terminal != nil {
		if terminal.SessionID != "" {
			qr.Metadata.SessionID = terminal.SessionID
		}
		qr.Metadata.NumTurns = terminal.NumTurns
		if terminal.DurationMS > 0 {
			qr.Metadata.DurationMS = terminal.DurationMS
		}
		qr.Metadata.APIDurationMS = terminal.DurationAPIMS
		qr.Metadata.TotalCostUSD = terminal.TotalCostUSD
		if terminal.Usage != nil {
			qr.Metadata.Usage = &Usage{
				InputTokens:    terminal.Usage.InputTokens,
				OutputTokens:   terminal.Usage.OutputTokens,
				ThinkingTokens: terminal.Usage.ThinkingTokens,
			}
		}
	}

	switch {
	case timedOut:
		qr.Status = StatusTimeout
	case exitCode != 0:
		qr.Status = StatusError
	case terminal != nil:
		if terminal.IsError || terminal.Subtype == stream.ResultSubtypeError {
			// An error result downgrades, but collected assistant output is
			// still a partial answer.
			if qr.hasAssistant() {
				qr.Status = StatusPartial
			} else {
				qr.Status = StatusError
			}
		} else if qr.hasAssistant() {
			qr.Status = StatusSuccess
		} else {
			qr.Status = StatusPartial
		}
	case qr.hasAssistant():
		qr.Status = StatusPartial
	default:
		// Clean exit with nothing parsed.
		qr.Status = StatusPartial
	}

	return qr
}
