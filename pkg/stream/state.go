package stream

import (
	"fmt"
	"log/slog"
	"time"
)

// State of the message-ordering machine.
type State int

const (
	// StateAwaitingInit expects the System{init} frame that opens a session.
	StateAwaitingInit State = iota
	// StateAwaitingContent accepts assistant/user/system traffic until the
	// terminal Result frame.
	StateAwaitingContent
	// StateCompleted has seen the terminal Result.
	StateCompleted
	// StateError is terminal after an ordering violation.
	StateError
)

func (s State) String() string {
	switch s {
	case StateAwaitingInit:
		return "awaiting_init"
	case StateAwaitingContent:
		return "awaiting_content"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Summary describes a completed stream.
type Summary struct {
	TotalMessages        int
	Duration             time.Duration
	SessionID            string
	HasAssistantResponse bool
}

// StateMachine validates the ordering of regular messages against the
// expected flow init → (assistant | user | system)* → result. Control
// frames are not part of the flow and must not be fed through it.
//
// StateMachine is not safe for concurrent use.
type StateMachine struct {
	state         State
	sessionID     string
	startedAt     time.Time
	totalMessages int
	assistantSeen bool
	failure       error
}

// NewStateMachine returns a machine awaiting the init frame.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateAwaitingInit, startedAt: time.Now()}
}

// State returns the current state.
func (sm *StateMachine) State() State { return sm.state }

// SessionID returns the id captured at init, if any.
func (sm *StateMachine) SessionID() string { return sm.sessionID }

// IsComplete reports whether the terminal Result has been accepted.
func (sm *StateMachine) IsComplete() bool { return sm.state == StateCompleted }

// ProcessMessage advances the machine. An ordering violation moves the
// machine to StateError and returns a *ProtocolError; every subsequent call
// then fails with the original violation.
func (sm *StateMachine) ProcessMessage(msg Message) error {
	sm.totalMessages++

	switch sm.state {
	case StateAwaitingInit:
		return sm.processAwaitingInit(msg)
	case StateAwaitingContent:
		return sm.processAwaitingContent(msg)
	case StateCompleted:
		// Trailing frames after the terminal result are tolerated.
		slog.Debug("Dropping message received after completion",
			"message_type", msg.MessageType(), "session_id", sm.sessionID)
		return nil
	case StateError:
		return sm.failure
	default:
		return sm.fail(fmt.Sprintf("machine in invalid state %d", sm.state))
	}
}

func (sm *StateMachine) processAwaitingInit(msg Message) error {
	system, ok := msg.(*SystemMessage)
	if !ok || !system.IsInit() {
		return sm.fail(fmt.Sprintf("expected system init frame, got %s", describeMessage(msg)))
	}
	sm.sessionID = system.SessionID
	sm.state = StateAwaitingContent
	return nil
}

func (sm *StateMachine) processAwaitingContent(msg Message) error {
	switch m := msg.(type) {
	case *AssistantMessage:
		sm.assistantSeen = true
		return nil
	case *UserMessage, *SystemMessage:
		return nil
	case *ResultMessage:
		if m.SessionID != "" && sm.sessionID != "" && m.SessionID != sm.sessionID {
			return sm.fail(fmt.Sprintf("result session id %q does not match init session id %q",
				m.SessionID, sm.sessionID))
		}
		if !sm.assistantSeen {
			slog.Warn("Stream completed without any assistant message",
				"session_id", sm.sessionID, "result_subtype", m.Subtype)
		}
		sm.state = StateCompleted
		return nil
	default:
		return sm.fail(fmt.Sprintf("unexpected %s frame while awaiting content", describeMessage(msg)))
	}
}

func (sm *StateMachine) fail(reason string) error {
	sm.state = StateError
	sm.failure = &ProtocolError{Reason: reason}
	return sm.failure
}

// ValidateCompletion returns the stream summary. It is valid to call in any
// state; callers typically check IsComplete first.
func (sm *StateMachine) ValidateCompletion() Summary {
	return Summary{
		TotalMessages:        sm.totalMessages,
		Duration:             time.Since(sm.startedAt),
		SessionID:            sm.sessionID,
		HasAssistantResponse: sm.assistantSeen,
	}
}

func describeMessage(msg Message) string {
	if msg == nil {
		return "nil"
	}
	if system, ok := msg.(*SystemMessage); ok {
		return fmt.Sprintf("system/%s", system.Subtype)
	}
	return string(msg.MessageType())
}
