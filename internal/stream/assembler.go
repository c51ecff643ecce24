package stream

import "sort"

// Assembler folds decode events into finalized tool calls, preserving the
// order the calls were declared in the stream.
type Assembler struct {
	text      []byte
	open      map[string]*ToolCall
	finalized []ToolCall
	reason    string
	done      bool
	next      int
}

// NewAssembler creates an empty assembler for one turn.
func NewAssembler() *Assembler {
	return &Assembler{open: make(map[string]*ToolCall)}
}

// Observe applies one event to the assembler state.
func (a *Assembler) Observe(ev StreamEvent) {
	switch e := ev.(type) {
	case TextDeltaEvent:
		a.text = append(a.text, e.Text...)
	case ToolUseStartEvent:
		a.open[e.ID] = &ToolCall{ID: e.ID, Name: e.Name, TurnIndex: a.next}
		a.next++
	case ToolUseStopEvent:
		if call, ok := a.open[e.ID]; ok {
			call.Input = e.Input
			a.finalized = append(a.finalized, *call)
			delete(a.open, e.ID)
		}
	case TurnDoneEvent:
		a.done = true
		a.reason = e.StopReason
	}
}

// Text returns the accumulated assistant text.
func (a *Assembler) Text() string { return string(a.text) }

// ToolCalls returns finalized calls in declaration order, regardless of
// the order their stop events arrived.
func (a *Assembler) ToolCalls() []ToolCall {
	calls := make([]ToolCall, len(a.finalized))
	copy(calls, a.finalized)
	sort.Slice(calls, func(i, j int) bool { return calls[i].TurnIndex < calls[j].TurnIndex })
	return calls
}

// Done reports whether the turn completed.
func (a *Assembler) Done() bool { return a.done }

// StopReason returns the model's stop reason, if any.
func (a *Assembler) StopReason() string { return a.reason }
