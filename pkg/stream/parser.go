package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// MaxBufferSize caps the parser's accumulation buffer. A frame larger than
// this is a protocol violation and aborts the accumulation.
const MaxBufferSize = 1 << 20 // 1 MiB

// ParserStats exposes parser counters. Counters are monotone over the life
// of the parser; BufferSize reflects the current accumulation.
type ParserStats struct {
	TotalBytes int64
	Attempts   int64
	Successes  int64
	BufferSize int
}

// SuccessRate is the fraction of parse attempts that produced a message.
func (s ParserStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// ParseError reports that the accumulation buffer exceeded MaxBufferSize.
// The buffer has been discarded; the parser is usable again afterwards.
type ParseError struct {
	BufferSize int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("stream parse buffer exceeded %d bytes (had %d)", MaxBufferSize, e.BufferSize)
}

// Parser accumulates bytes and speculatively parses the buffer as a single
// JSON frame on every append. CLIs sometimes split one JSON object across
// several writes, so line-splitting alone is insufficient.
//
// Parser is not safe for concurrent use.
type Parser struct {
	buf   bytes.Buffer
	stats ParserStats
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends data to the buffer and attempts to parse it as one complete
// frame. Returns (nil, nil) when the buffer holds an incomplete frame, the
// parsed Message when complete, a *ParseError when the cap is exceeded, and
// a *ProtocolError when a complete frame has an unknown or malformed type.
// Structurally broken JSON discards the buffer and recovers silently.
func (p *Parser) Feed(data []byte) (Message, error) {
	p.buf.Write(data)
	p.stats.TotalBytes += int64(len(data))
	p.stats.BufferSize = p.buf.Len()

	if p.buf.Len() > MaxBufferSize {
		size := p.buf.Len()
		p.buf.Reset()
		p.stats.BufferSize = 0
		return nil, &ParseError{BufferSize: size}
	}

	trimmed := bytes.TrimSpace(p.buf.Bytes())
	if len(trimmed) == 0 {
		return nil, nil
	}

	p.stats.Attempts++

	var probe json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		if isIncompleteJSON(err) {
			// Keep accumulating; a later chunk completes the frame.
			return nil, nil
		}
		slog.Warn("Discarding malformed stream frame",
			"error", err, "buffer_bytes", p.buf.Len())
		p.buf.Reset()
		p.stats.BufferSize = 0
		return nil, nil
	}

	raw := make([]byte, len(trimmed))
	copy(raw, trimmed)
	p.buf.Reset()
	p.stats.BufferSize = 0

	msg, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	p.stats.Successes++
	return msg, nil
}

// Flush performs one final parse attempt on any remaining buffered bytes at
// end of stream. Returns (nil, nil) when the buffer is empty or incomplete.
func (p *Parser) Flush() (Message, error) {
	trimmed := bytes.TrimSpace(p.buf.Bytes())
	if len(trimmed) == 0 {
		p.buf.Reset()
		p.stats.BufferSize = 0
		return nil, nil
	}

	p.stats.Attempts++

	var probe json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		slog.Warn("Discarding incomplete frame at end of stream",
			"buffer_bytes", len(trimmed), "error", err)
		p.buf.Reset()
		p.stats.BufferSize = 0
		return nil, nil
	}

	raw := make([]byte, len(trimmed))
	copy(raw, trimmed)
	p.buf.Reset()
	p.stats.BufferSize = 0

	msg, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	p.stats.Successes++
	return msg, nil
}

// Stats returns a snapshot of the parser counters.
func (p *Parser) Stats() ParserStats {
	return p.stats
}

// isIncompleteJSON reports whether err indicates truncated input rather than
// structurally invalid input.
func isIncompleteJSON(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return strings.Contains(syntaxErr.Error(), "unexpected end of JSON input")
	}
	return false
}
