package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// messageCollector is a thread-safe Consumer for tests.
type messageCollector struct {
	mu       sync.Mutex
	messages []Message
}

func (c *messageCollector) consume(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func (c *messageCollector) all() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func TestProcessor_StreamJSONHappyPath(t *testing.T) {
	collector := &messageCollector{}
	p, err := NewProcessor(ProcessorConfig{Consumer: collector.consume})
	require.NoError(t, err)
	defer p.Close()

	lines := []string{
		`{"type":"system","subtype":"init","session_id":"s1"}`,
		`{"type":"assistant","content":[{"type":"text","text":"4"}]}`,
		`{"type":"result","subtype":"success","session_id":"s1","num_turns":1,"duration_ms":500,"result":"4"}`,
	}
	for _, line := range lines {
		require.NoError(t, p.FeedLine(line))
	}

	require.Eventually(t, p.IsComplete, time.Second, 5*time.Millisecond)
	assert.Equal(t, "s1", p.SessionID())

	messages := collector.all()
	require.Len(t, messages, 3)
	assert.IsType(t, &SystemMessage{}, messages[0])
	assert.IsType(t, &AssistantMessage{}, messages[1])
	assert.IsType(t, &ResultMessage{}, messages[2])
}

func TestProcessor_FrameSpanningLines(t *testing.T) {
	collector := &messageCollector{}
	p, err := NewProcessor(ProcessorConfig{Consumer: collector.consume})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.FeedLine(`{"type":"system","subtype":"init","session_id":"s1"}`))
	// One assistant frame split across three lines.
	require.NoError(t, p.FeedLine(`{"type":"assistant",`))
	require.NoError(t, p.FeedLine(`"content":[{"type":"text",`))
	require.NoError(t, p.FeedLine(`"text":"split"}]}`))

	messages := collector.all()
	require.Len(t, messages, 2)
	assert.Equal(t, "split", messages[1].(*AssistantMessage).Text())
}

func TestProcessor_OutOfOrderFails(t *testing.T) {
	p, err := NewProcessor(ProcessorConfig{Consumer: func(Message) {}})
	require.NoError(t, err)
	defer p.Close()

	err = p.FeedLine(`{"type":"assistant","content":[{"type":"text","text":"x"}]}`)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.ErrorAs(t, p.Failure(), &protoErr)
}

func TestProcessor_ControlFramesRoutedToDispatcher(t *testing.T) {
	sink := &frameSink{}
	d := NewDispatcher(DispatcherConfig{
		Send: sink.send,
		PermissionCallback: func(string, map[string]any, map[string]any) PermissionResult {
			return Allow(nil)
		},
	})

	collector := &messageCollector{}
	p, err := NewProcessor(ProcessorConfig{Consumer: collector.consume, Dispatcher: d})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.FeedLine(`{"type":"system","subtype":"init","session_id":"s1"}`))
	require.NoError(t, p.FeedLine(`{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"bash","input":{}}}`))

	// The control frame reached the dispatcher, not the consumer.
	require.Len(t, collector.all(), 1)
	body := sink.last(t)["response"].(map[string]any)["response"].(map[string]any)
	assert.Equal(t, "allow", body["behavior"])
}

func TestProcessor_TextFormat(t *testing.T) {
	collector := &messageCollector{}
	p, err := NewProcessor(ProcessorConfig{Consumer: collector.consume, Format: FormatText})
	require.NoError(t, err)

	require.NoError(t, p.FeedLine("The answer"))
	require.NoError(t, p.FeedLine("is 4."))
	require.NoError(t, p.Close())

	messages := collector.all()
	require.Len(t, messages, 3)
	assert.IsType(t, &SystemMessage{}, messages[0])
	assert.Equal(t, "The answer\nis 4.", messages[1].(*AssistantMessage).Text())
	result := messages[2].(*ResultMessage)
	assert.Equal(t, ResultSubtypeSuccess, result.Subtype)
	assert.Equal(t, "The answer\nis 4.", result.Result)
	assert.True(t, p.IsComplete())
}

func TestProcessor_JSONFormatSynthesizesFraming(t *testing.T) {
	collector := &messageCollector{}
	p, err := NewProcessor(ProcessorConfig{Consumer: collector.consume, Format: FormatJSON})
	require.NoError(t, err)

	// A single document spanning lines, with no init or result framing.
	require.NoError(t, p.FeedLine(`{"type":"assistant",`))
	require.NoError(t, p.FeedLine(`"content":[{"type":"text","text":"only"}]}`))
	require.NoError(t, p.Close())

	messages := collector.all()
	require.Len(t, messages, 3)
	assert.IsType(t, &SystemMessage{}, messages[0])
	assert.Equal(t, "only", messages[1].(*AssistantMessage).Text())
	assert.IsType(t, &ResultMessage{}, messages[2])
	assert.True(t, p.IsComplete())
}

func TestProcessor_CloseIdempotent(t *testing.T) {
	p, err := NewProcessor(ProcessorConfig{Consumer: func(Message) {}})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err = p.FeedLine("anything")
	assert.Error(t, err)
}

func TestProcessor_CloseFlushesPendingFrame(t *testing.T) {
	collector := &messageCollector{}
	p, err := NewProcessor(ProcessorConfig{Consumer: collector.consume})
	require.NoError(t, err)

	require.NoError(t, p.FeedLine(`{"type":"system","subtype":"init","session_id":"s1"}`))
	// Result frame arrives without a trailing newline before EOF.
	require.NoError(t, p.FeedLine(`{"type":"result","subtype":"success","session_id":"s1",`))
	require.NoError(t, p.FeedLine(`"num_turns":1,"duration_ms":10,"result":"ok"}`))
	require.NoError(t, p.Close())

	messages := collector.all()
	require.Len(t, messages, 2)
	assert.True(t, p.IsComplete())
}

func TestProcessor_RequiresConsumer(t *testing.T) {
	_, err := NewProcessor(ProcessorConfig{})
	assert.Error(t, err)
}
