package stream

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Format describes how a vendor CLI emits its output.
type Format int

const (
	// FormatStreamJSON is line-delimited JSON frames, possibly split across
	// writes.
	FormatStreamJSON Format = iota
	// FormatJSON is a single JSON document.
	FormatJSON
	// FormatText is plain text with no framing; the processor synthesizes a
	// terminal result at close.
	FormatText
)

func (f Format) String() string {
	switch f {
	case FormatStreamJSON:
		return "stream-json"
	case FormatJSON:
		return "json"
	case FormatText:
		return "text"
	default:
		return "unknown"
	}
}

// Defaults for the processor watchdog.
const (
	DefaultMessageIdleTimeout = 30 * time.Second
	DefaultTotalTimeout       = 10 * time.Minute

	watchdogInterval = 1 * time.Second
	softCloseDelay   = 100 * time.Millisecond
)

// Consumer receives each regular message in subprocess emission order.
type Consumer func(Message)

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	// Consumer receives regular messages. Required.
	Consumer Consumer
	// Format of the subprocess output. Defaults to FormatStreamJSON.
	Format Format
	// Dispatcher handles control frames. Optional; without one, control
	// frames fail the stream as out-of-order traffic.
	Dispatcher *Dispatcher
	// MessageIdleTimeout triggers a hang warning when no message arrives
	// for this long after the first one. Defaults to 30s.
	MessageIdleTimeout time.Duration
	// TotalTimeout bounds the whole stream. Defaults to 10min.
	TotalTimeout time.Duration
}

// Processor consumes a subprocess's output incrementally: lines go through
// the accumulating Parser, regular messages through the StateMachine and on
// to the consumer, control frames to the Dispatcher. A cooperative watchdog
// logs hangs and observes the total deadline.
type Processor struct {
	consumer   Consumer
	format     Format
	dispatcher *Dispatcher
	idle       time.Duration
	total      time.Duration

	parser  *Parser
	machine *StateMachine

	mu            sync.Mutex
	startedAt     time.Time
	lastMessageAt time.Time
	emitted       int
	textBuf       strings.Builder
	failure       error
	timedOut      bool
	closed        bool

	watchdogStop chan struct{}
	watchdogDone chan struct{}
	closeOnce    sync.Once
}

// NewProcessor creates and starts a processor; its watchdog runs until
// Close.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Consumer == nil {
		return nil, fmt.Errorf("processor requires a consumer")
	}
	idle := cfg.MessageIdleTimeout
	if idle <= 0 {
		idle = DefaultMessageIdleTimeout
	}
	total := cfg.TotalTimeout
	if total <= 0 {
		total = DefaultTotalTimeout
	}

	p := &Processor{
		consumer:     cfg.Consumer,
		format:       cfg.Format,
		dispatcher:   cfg.Dispatcher,
		idle:         idle,
		total:        total,
		parser:       NewParser(),
		machine:      NewStateMachine(),
		startedAt:    time.Now(),
		watchdogStop: make(chan struct{}),
		watchdogDone: make(chan struct{}),
	}
	go p.runWatchdog()
	return p, nil
}

// FeedLine pushes one line of subprocess output through the pipeline. It is
// non-blocking apart from consumer execution. Returns the stream failure, if
// any; feeding continues to be safe after an error (input is discarded).
func (p *Processor) FeedLine(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("processor is closed")
	}
	if p.failure != nil {
		return p.failure
	}

	if p.format == FormatText {
		p.textBuf.WriteString(line)
		p.textBuf.WriteString("\n")
		p.lastMessageAt = time.Now()
		return nil
	}

	msg, err := p.parser.Feed([]byte(line + "\n"))
	if err != nil {
		return p.recordFeedError(err)
	}
	if msg == nil {
		return nil
	}
	return p.deliverLocked(msg)
}

// recordFeedError folds parser errors into the stream state. A buffer
// overflow resets the parser but does not fail the stream; protocol errors
// are fatal.
func (p *Processor) recordFeedError(err error) error {
	if parseErr, ok := err.(*ParseError); ok {
		slog.Error("Stream frame exceeded parser buffer cap, discarding",
			"buffer_bytes", parseErr.BufferSize, "session_id", p.machine.SessionID())
		return nil
	}
	p.failure = err
	return err
}

func (p *Processor) deliverLocked(msg Message) error {
	if p.dispatcher != nil && p.dispatcher.HandleMessage(msg) {
		p.lastMessageAt = time.Now()
		return nil
	}

	// Single-document mode has no framing around its one message; open the
	// session implicitly.
	if p.format == FormatJSON && p.machine.State() == StateAwaitingInit {
		if system, ok := msg.(*SystemMessage); !ok || !system.IsInit() {
			init := &SystemMessage{Subtype: "init"}
			if err := p.machine.ProcessMessage(init); err != nil {
				p.failure = err
				return err
			}
			p.emitted++
			p.consumer(init)
		}
	}

	if err := p.machine.ProcessMessage(msg); err != nil {
		p.failure = err
		return err
	}

	p.emitted++
	p.lastMessageAt = time.Now()
	p.consumer(msg)

	if p.machine.IsComplete() {
		// Allow trailing frames to drain before the owner tears down.
		go func() {
			time.Sleep(softCloseDelay)
			_ = p.Close()
		}()
	}
	return nil
}

// runWatchdog checks the stream's liveness once per second. A message-level
// hang only warns; the subprocess owner kills on the total timeout.
func (p *Processor) runWatchdog() {
	defer close(p.watchdogDone)
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	var hangWarned bool
	for {
		select {
		case <-p.watchdogStop:
			return
		case <-ticker.C:
			p.mu.Lock()
			emitted := p.emitted
			last := p.lastMessageAt
			closed := p.closed
			sessionID := p.machine.SessionID()
			p.mu.Unlock()

			if closed {
				return
			}

			if emitted > 0 && !last.IsZero() && time.Since(last) > p.idle {
				if !hangWarned {
					slog.Warn("No stream messages received recently, subprocess may be hanging",
						"idle", time.Since(last).Round(time.Second),
						"idle_timeout", p.idle,
						"messages", emitted,
						"session_id", sessionID)
					hangWarned = true
				}
			} else {
				hangWarned = false
			}

			if time.Since(p.startedAt) > p.total {
				slog.Error("Stream exceeded total timeout",
					"total_timeout", p.total, "session_id", sessionID)
				p.mu.Lock()
				p.timedOut = true
				p.mu.Unlock()
				return
			}
		}
	}
}

// TimedOut reports whether the watchdog observed the total timeout.
func (p *Processor) TimedOut() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timedOut
}

// Failure returns the fatal stream error, if any.
func (p *Processor) Failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}

// IsComplete reports whether the terminal result was accepted.
func (p *Processor) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.machine.IsComplete()
}

// SessionID returns the session id captured at init.
func (p *Processor) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.machine.SessionID()
}

// Close flushes the parser, emits any synthetic terminal message, validates
// completion, and stops the watchdog. Idempotent.
func (p *Processor) Close() error {
	var closeErr error
	p.closeOnce.Do(func() {
		p.mu.Lock()

		if p.format == FormatText && p.failure == nil {
			closeErr = p.emitSyntheticTextResultLocked()
		} else if p.failure == nil {
			if msg, err := p.parser.Flush(); err == nil && msg != nil {
				closeErr = p.deliverLockedNoSoftClose(msg)
			}
			// Single-document mode: synthesize the terminal result the
			// document itself does not carry.
			if p.format == FormatJSON && !p.machine.IsComplete() && p.failure == nil && p.emitted > 0 {
				result := &ResultMessage{
					Subtype:    ResultSubtypeSuccess,
					SessionID:  p.machine.SessionID(),
					DurationMS: time.Since(p.startedAt).Milliseconds(),
				}
				if err := p.machine.ProcessMessage(result); err == nil {
					p.emitted++
					p.consumer(result)
				}
			}
		}

		p.closed = true
		summary := p.machine.ValidateCompletion()
		stats := p.parser.Stats()
		p.mu.Unlock()

		close(p.watchdogStop)
		<-p.watchdogDone

		slog.Info("Stream closed",
			"format", p.format.String(),
			"messages", summary.TotalMessages,
			"duration", summary.Duration.Round(time.Millisecond),
			"session_id", summary.SessionID,
			"has_assistant_response", summary.HasAssistantResponse,
			"parse_attempts", stats.Attempts,
			"parse_successes", stats.Successes,
			"total_bytes", stats.TotalBytes)
	})
	return closeErr
}

// deliverLockedNoSoftClose delivers a flushed message without scheduling the
// soft close (Close is already running).
func (p *Processor) deliverLockedNoSoftClose(msg Message) error {
	if p.dispatcher != nil && p.dispatcher.HandleMessage(msg) {
		return nil
	}
	if err := p.machine.ProcessMessage(msg); err != nil {
		p.failure = err
		return err
	}
	p.emitted++
	p.consumer(msg)
	return nil
}

// emitSyntheticTextResultLocked converts accumulated plain text into an
// assistant message plus a successful result so text-mode vendors share the
// stream-json downstream path.
func (p *Processor) emitSyntheticTextResultLocked() error {
	text := strings.TrimRight(p.textBuf.String(), "\n")

	init := &SystemMessage{Subtype: "init"}
	if err := p.machine.ProcessMessage(init); err != nil {
		return err
	}
	p.consumer(init)
	p.emitted++

	if text != "" {
		assistant := &AssistantMessage{Content: []ContentBlock{&TextBlock{Text: text}}}
		if err := p.machine.ProcessMessage(assistant); err != nil {
			return err
		}
		p.consumer(assistant)
		p.emitted++
	}

	result := &ResultMessage{
		Subtype:    ResultSubtypeSuccess,
		Result:     text,
		DurationMS: time.Since(p.startedAt).Milliseconds(),
	}
	if err := p.machine.ProcessMessage(result); err != nil {
		return err
	}
	p.consumer(result)
	p.emitted++
	return nil
}

// Summary returns the completion summary.
func (p *Processor) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.machine.ValidateCompletion()
}
