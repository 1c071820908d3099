package pipeline

import (
	"bufio"
	"encoding/json"
	"iter"
	"strings"

	"github.com/leofalp/aigo/protocol"
)

// Frame is one decoded unit of a provider's wire stream: the raw parsed
// JSON payload, plus (for SSE variants that carry one) the event type
// named on a preceding "event:" line.
type Frame struct {
	Data      map[string]any
	EventType string // non-empty only for decoders that preserve it (AnthropicSSEDecoder)
}

// Decoder turns a raw byte stream into a sequence of Frames. Malformed
// frames are silently dropped: a stream with one garbled chunk should not
// abort the whole response.
type Decoder interface {
	Decode(r *bufio.Reader) iter.Seq[Frame]
}

// NewDecoder builds the Decoder named by a Manifest's
// streaming.decoder.format, defaulting to SSE.
func NewDecoder(cfg protocol.DecoderConfig) Decoder {
	switch cfg.Format {
	case "json_lines", "ndjson":
		return &JSONLinesDecoder{}
	case "anthropic_sse":
		return &AnthropicSSEDecoder{SSEDecoder: newSSEDecoder(cfg)}
	default:
		return newSSEDecoder(cfg)
	}
}

// SSEDecoder parses a standard Server-Sent-Events stream: records
// separated by a blank line, each carrying a "data: " line; a literal
// "[DONE]" payload ends the stream; "event:" and ":" (comment) lines are
// recognized but not surfaced as frames.
type SSEDecoder struct {
	prefix     string
	doneSignal string
}

func newSSEDecoder(cfg protocol.DecoderConfig) *SSEDecoder {
	d := &SSEDecoder{prefix: "data: ", doneSignal: "[DONE]"}
	if cfg.Prefix != "" {
		d.prefix = cfg.Prefix
	}
	if cfg.DoneSignal != "" {
		d.doneSignal = cfg.DoneSignal
	}
	return d
}

func (d *SSEDecoder) Decode(r *bufio.Reader) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var dataLines []string
		flush := func() bool {
			if len(dataLines) == 0 {
				return true
			}
			payload := strings.Join(dataLines, "\n")
			dataLines = dataLines[:0]
			if payload == d.doneSignal {
				return false
			}
			var parsed map[string]any
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				return true // drop malformed frame, keep reading
			}
			return yield(Frame{Data: parsed})
		}

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, ":"):
				// comment line, ignored
			case strings.HasPrefix(line, "event:"):
				// event-type line, ignored by the plain SSE decoder
			case strings.HasPrefix(line, d.prefix):
				dataLines = append(dataLines, strings.TrimPrefix(line, d.prefix))
			default:
				// tolerate stray lines (e.g. "data:" with no trailing space)
				if strings.HasPrefix(line, "data:") {
					dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
				}
			}
		}
		flush() // trailing buffer with no final blank line
	}
}

// JSONLinesDecoder parses one JSON object per line (NDJSON).
type JSONLinesDecoder struct{}

func (d *JSONLinesDecoder) Decode(r *bufio.Reader) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var parsed map[string]any
			if err := json.Unmarshal([]byte(line), &parsed); err != nil {
				continue
			}
			if !yield(Frame{Data: parsed}) {
				return
			}
		}
	}
}

// AnthropicSSEDecoder is a standard SSE decoder that additionally
// preserves the event type named by the preceding "event:" line, since
// Anthropic's wire format dispatches on that annotation rather than on a
// field inside the JSON payload.
type AnthropicSSEDecoder struct {
	*SSEDecoder
}

func (d *AnthropicSSEDecoder) Decode(r *bufio.Reader) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var dataLines []string
		var eventType string
		flush := func() bool {
			if len(dataLines) == 0 {
				eventType = ""
				return true
			}
			payload := strings.Join(dataLines, "\n")
			dataLines = dataLines[:0]
			et := eventType
			eventType = ""
			if payload == d.doneSignal {
				return false
			}
			var parsed map[string]any
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				return true
			}
			if _, has := parsed["_event_type"]; !has && et != "" {
				parsed["_event_type"] = et
			}
			return yield(Frame{Data: parsed, EventType: et})
		}

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, d.prefix):
				dataLines = append(dataLines, strings.TrimPrefix(line, d.prefix))
			default:
				if strings.HasPrefix(line, "data:") {
					dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
				}
			}
		}
		flush()
	}
}
