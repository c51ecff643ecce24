// Package stream decodes a raw model byte stream into ordered events.
//
// The decoder consumes server-sent-event frames that may be split or
// coalesced arbitrarily across network chunks and emits a lazy, finite,
// non-restartable sequence of StreamEvents for one turn.
package stream

import (
	"encoding/json"
	"fmt"
)

// StreamEvent represents different types of stream events.
type StreamEvent interface {
	streamEvent()
}

// TextDeltaEvent contains a text delta.
type TextDeltaEvent struct {
	Text string
}

func (TextDeltaEvent) streamEvent() {}

// ToolUseStartEvent indicates the start of a tool call.
type ToolUseStartEvent struct {
	ID   string
	Name string
}

func (ToolUseStartEvent) streamEvent() {}

// ToolUseInputDeltaEvent contains an input fragment for a tool call.
type ToolUseInputDeltaEvent struct {
	ID          string
	PartialJSON string
}

func (ToolUseInputDeltaEvent) streamEvent() {}

// ToolUseStopEvent indicates completion of a tool call. Input carries the
// fully assembled input value; it is only emitted once every input delta
// for the call has arrived and assembled into valid JSON.
type ToolUseStopEvent struct {
	ID    string
	Input json.RawMessage
}

func (ToolUseStopEvent) streamEvent() {}

// TurnDoneEvent indicates stream completion for the turn.
type TurnDoneEvent struct {
	StopReason string
}

func (TurnDoneEvent) streamEvent() {}

// DecodeError reports a malformed or truncated frame. Events emitted before
// the failure remain valid.
type DecodeError struct {
	Reason string
	Frame  string
}

func (e *DecodeError) Error() string {
	if e.Frame == "" {
		return fmt.Sprintf("stream decode error: %s", e.Reason)
	}
	return fmt.Sprintf("stream decode error: %s (frame: %.120q)", e.Reason, e.Frame)
}

// ToolCall is a finalized tool-call request assembled from the stream.
// Immutable once the call-stop event has been observed. TurnIndex records
// the order the call was declared in the stream.
type ToolCall struct {
	ID        string
	Name      string
	Input     json.RawMessage
	TurnIndex int
}
