package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/toolgate-ai/toolgate/internal/logging"
)

// Frame payloads follow the Anthropic-style SSE protocol: each frame is a
// JSON object tagged by "type".
type framePayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
		Text string `json:"text"`
	} `json:"content_block"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type blockState struct {
	toolID string
	name   string
	input  strings.Builder
	isTool bool
}

// Decoder turns raw byte chunks into StreamEvents. Frames split across
// chunk boundaries are buffered until complete. A Decoder serves exactly
// one turn and cannot be restarted.
type Decoder struct {
	buf    []byte
	queue  []StreamEvent
	blocks map[int]*blockState
	reason string
	failed *DecodeError
	done   bool
}

// NewDecoder creates a decoder for one turn.
func NewDecoder() *Decoder {
	return &Decoder{blocks: make(map[int]*blockState)}
}

// Write feeds raw bytes into the decoder. Complete frames are decoded into
// events retrievable via Next. On a malformed frame the decoder stops
// consuming and returns a DecodeError; already queued events stay valid.
func (d *Decoder) Write(p []byte) error {
	if d.failed != nil {
		return d.failed
	}
	if d.done {
		return &DecodeError{Reason: "write after turn completed"}
	}

	d.buf = append(d.buf, p...)

	for {
		idx := bytes.Index(d.buf, []byte("\n\n"))
		if idx < 0 {
			return nil
		}
		frame := d.buf[:idx]
		d.buf = d.buf[idx+2:]

		if err := d.handleFrame(frame); err != nil {
			d.failed = err
			return err
		}
	}
}

// Next pops the next decoded event. Returns false when no event is ready.
func (d *Decoder) Next() (StreamEvent, bool) {
	if len(d.queue) == 0 {
		return nil, false
	}
	ev := d.queue[0]
	d.queue = d.queue[1:]
	return ev, true
}

// Finish signals end of stream. Trailing partial data or content blocks
// left open count as truncation and are reported as a DecodeError.
func (d *Decoder) Finish() error {
	if d.failed != nil {
		return d.failed
	}
	if len(bytes.TrimSpace(d.buf)) > 0 {
		d.failed = &DecodeError{Reason: "stream ended with incomplete frame", Frame: string(d.buf)}
		return d.failed
	}
	for _, b := range d.blocks {
		if b.isTool {
			d.failed = &DecodeError{Reason: "stream ended with unterminated tool call " + b.toolID}
			return d.failed
		}
	}
	return nil
}

func (d *Decoder) handleFrame(frame []byte) *DecodeError {
	var dataFields []string
	for _, line := range strings.Split(string(frame), "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "data:"):
			dataFields = append(dataFields, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// comment line
		default:
			// event:, id:, retry: carry no payload we need
		}
	}
	if len(dataFields) == 0 {
		return nil
	}

	data := strings.Join(dataFields, "\n")
	if data == "[DONE]" {
		return nil
	}

	var payload framePayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return &DecodeError{Reason: "malformed frame payload: " + err.Error(), Frame: data}
	}

	switch payload.Type {
	case "message_start", "ping":
		// nothing to emit

	case "content_block_start":
		if payload.ContentBlock == nil {
			return &DecodeError{Reason: "content_block_start without content_block", Frame: data}
		}
		b := &blockState{}
		if payload.ContentBlock.Type == "tool_use" {
			b.isTool = true
			b.toolID = payload.ContentBlock.ID
			b.name = payload.ContentBlock.Name
			d.queue = append(d.queue, ToolUseStartEvent{ID: b.toolID, Name: b.name})
		} else if payload.ContentBlock.Text != "" {
			d.queue = append(d.queue, TextDeltaEvent{Text: payload.ContentBlock.Text})
		}
		d.blocks[payload.Index] = b

	case "content_block_delta":
		if payload.Delta == nil {
			return &DecodeError{Reason: "content_block_delta without delta", Frame: data}
		}
		b := d.blocks[payload.Index]
		switch payload.Delta.Type {
		case "text_delta":
			d.queue = append(d.queue, TextDeltaEvent{Text: payload.Delta.Text})
		case "input_json_delta":
			if b == nil || !b.isTool {
				return &DecodeError{Reason: "input_json_delta for unknown tool block", Frame: data}
			}
			b.input.WriteString(payload.Delta.PartialJSON)
			d.queue = append(d.queue, ToolUseInputDeltaEvent{ID: b.toolID, PartialJSON: payload.Delta.PartialJSON})
		}

	case "content_block_stop":
		b := d.blocks[payload.Index]
		if b == nil {
			return &DecodeError{Reason: "content_block_stop for unknown block", Frame: data}
		}
		delete(d.blocks, payload.Index)
		if b.isTool {
			input := b.input.String()
			if strings.TrimSpace(input) == "" {
				input = "{}"
			}
			if !json.Valid([]byte(input)) {
				return &DecodeError{Reason: "tool input did not assemble into valid JSON", Frame: input}
			}
			d.queue = append(d.queue, ToolUseStopEvent{ID: b.toolID, Input: json.RawMessage(input)})
		}

	case "message_delta":
		if payload.Delta != nil && payload.Delta.StopReason != "" {
			d.reason = payload.Delta.StopReason
		}

	case "message_stop":
		d.done = true
		d.queue = append(d.queue, TurnDoneEvent{StopReason: d.reason})

	case "error":
		msg := "provider error"
		if payload.Error != nil {
			msg = payload.Error.Message
		}
		return &DecodeError{Reason: msg, Frame: data}

	default:
		logging.Debug().Str("type", payload.Type).Msg("ignoring unknown stream frame")
	}

	return nil
}

// Reader drives a Decoder from an io.Reader, yielding events one at a time.
// After the underlying stream is drained, Next returns io.EOF forever; the
// sequence is not restartable.
type Reader struct {
	src io.Reader
	dec *Decoder
	err error
}

// NewReader wraps a raw byte stream.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src, dec: NewDecoder()}
}

// Next returns the next event, io.EOF at clean end of stream, or a
// *DecodeError on malformed or truncated data.
func (r *Reader) Next() (StreamEvent, error) {
	for {
		if ev, ok := r.dec.Next(); ok {
			return ev, nil
		}
		if r.err != nil {
			return nil, r.err
		}

		buf := make([]byte, 4096)
		n, err := r.src.Read(buf)
		if n > 0 {
			if werr := r.dec.Write(buf[:n]); werr != nil {
				r.err = werr
				// drain queued events before surfacing the failure
				continue
			}
		}
		if err == io.EOF {
			if ferr := r.dec.Finish(); ferr != nil {
				r.err = ferr
			} else {
				r.err = io.EOF
			}
			continue
		}
		if err != nil {
			r.err = err
			continue
		}
	}
}
