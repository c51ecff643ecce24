package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate-ai/toolgate/internal/permission"
	"github.com/toolgate-ai/toolgate/internal/shell"
	"github.com/toolgate-ai/toolgate/internal/tool"
)

// scriptedClient replays canned SSE byte streams, one per Stream call.
type scriptedClient struct {
	mu      sync.Mutex
	scripts []string
	calls   int
	errs    []error // consumed before scripts; nil entries skipped
}

func (c *scriptedClient) Stream(_ context.Context, _ *Request) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++

	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	if len(c.scripts) == 0 {
		return io.NopCloser(strings.NewReader(textTurn("nothing left"))), nil
	}
	script := c.scripts[0]
	c.scripts = c.scripts[1:]
	return io.NopCloser(strings.NewReader(script)), nil
}

func sseFrame(payload string) string { return "data: " + payload + "\n\n" }

// textTurn renders a turn that ends without tool calls.
func textTurn(text string) string {
	var b strings.Builder
	b.WriteString(sseFrame(`{"type":"message_start"}`))
	b.WriteString(sseFrame(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))
	b.WriteString(sseFrame(fmt.Sprintf(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%q}}`, text)))
	b.WriteString(sseFrame(`{"type":"content_block_stop","index":0}`))
	b.WriteString(sseFrame(`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`))
	b.WriteString(sseFrame(`{"type":"message_stop"}`))
	return b.String()
}

// toolTurn renders a turn declaring the named tool calls in order.
func toolTurn(names ...string) string {
	var b strings.Builder
	b.WriteString(sseFrame(`{"type":"message_start"}`))
	for i, name := range names {
		b.WriteString(sseFrame(fmt.Sprintf(
			`{"type":"content_block_start","index":%d,"content_block":{"type":"tool_use","id":"call_%d","name":%q}}`, i, i, name)))
		b.WriteString(sseFrame(fmt.Sprintf(
			`{"type":"content_block_delta","index":%d,"delta":{"type":"input_json_delta","partial_json":"{}"}}`, i)))
		b.WriteString(sseFrame(fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, i)))
	}
	b.WriteString(sseFrame(`{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`))
	b.WriteString(sseFrame(`{"type":"message_stop"}`))
	return b.String()
}

// stubTool records executions and replies with its own name.
type stubTool struct {
	name string
	capa tool.Capability

	mu   sync.Mutex
	runs int
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub" }
func (s *stubTool) Parameters() json.RawMessage { return json.RawMessage(`{}`) }
func (s *stubTool) Capability() tool.Capability { return s.capa }

func (s *stubTool) Execute(context.Context, json.RawMessage, *tool.Context) (*tool.Result, error) {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	return &tool.Result{Output: "ran " + s.name}, nil
}

func newTestLoop(t *testing.T, client ModelClient, mode permission.Mode, tools ...tool.Tool) (*Loop, *permission.Arbiter) {
	t.Helper()
	reg := tool.NewRegistry(t.TempDir())
	for _, tl := range tools {
		reg.Register(tl)
	}
	arbiter := permission.NewArbiter(permission.NewContext(reg.WorkDir(), mode))
	shells := shell.NewManager()
	t.Cleanup(shells.Shutdown)
	dispatcher := tool.NewDispatcher("sess_test", reg, arbiter, shells)
	return NewLoop(client, dispatcher, arbiter, WithMaxIterations(5)), arbiter
}

func TestRunTextOnlyTurn(t *testing.T) {
	client := &scriptedClient{scripts: []string{textTurn("all done")}}
	loop, _ := newTestLoop(t, client, permission.ModeDefault)

	result, err := loop.Run(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "all done", result.Text)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.Results)
	assert.Equal(t, 1, client.calls)
}

func TestRunDispatchesToolCallsThenFinishes(t *testing.T) {
	st := &stubTool{name: "probe", capa: tool.Capability{ReadOnly: true, ConcurrencySafe: true}}
	client := &scriptedClient{scripts: []string{toolTurn("probe"), textTurn("finished")}}
	loop, _ := newTestLoop(t, client, permission.ModeDefault, st)

	result, err := loop.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, result.Iterations)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "call_0", result.Results[0].ToolUseID)
	assert.Equal(t, "ran probe", result.Results[0].Content)
	assert.Equal(t, 1, st.runs)

	// History carries the assistant tool call and the tool results.
	msgs := loop.Messages()
	require.Len(t, msgs, 4) // user, assistant(tool call), tool results, assistant(final)
	assert.Equal(t, RoleTool, msgs[2].Role)
}

func TestRunResultsKeepDeclarationOrder(t *testing.T) {
	a := &stubTool{name: "alpha", capa: tool.Capability{ReadOnly: true, ConcurrencySafe: true}}
	b := &stubTool{name: "beta", capa: tool.Capability{}} // serialized
	c := &stubTool{name: "gamma", capa: tool.Capability{ReadOnly: true, ConcurrencySafe: true}}
	client := &scriptedClient{scripts: []string{toolTurn("alpha", "beta", "gamma"), textTurn("ok")}}
	loop, _ := newTestLoop(t, client, permission.ModeDefault, a, b, c)

	result, err := loop.Run(context.Background(), "go")
	require.NoError(t, err)
	require.Len(t, result.Results, 3)
	assert.Equal(t, "ran alpha", result.Results[0].Content)
	assert.Equal(t, "ran beta", result.Results[1].Content)
	assert.Equal(t, "ran gamma", result.Results[2].Content)
}

func TestRunIterationLimit(t *testing.T) {
	st := &stubTool{name: "spin", capa: tool.Capability{ReadOnly: true, ConcurrencySafe: true}}
	// Every turn asks for another tool call, forever.
	client := &scriptedClient{scripts: []string{
		toolTurn("spin"), toolTurn("spin"), toolTurn("spin"),
	}}
	loop, arbiter := newTestLoop(t, client, permission.ModeDefault, st)
	loop.maxIterations = 3

	result, err := loop.Run(context.Background(), "go")

	var lim *IterationLimitError
	require.ErrorAs(t, err, &lim)
	assert.Equal(t, 3, lim.Limit)
	assert.Equal(t, StatusIterationLimit, result.Status)
	assert.Equal(t, 3, result.Iterations)
	assert.Len(t, result.Results, 3)
	assert.Empty(t, arbiter.Pending(), "no dangling decisions after limit")
}

func TestRunRetriesTransientStreamErrors(t *testing.T) {
	client := &scriptedClient{
		errs:    []error{errors.New("boom"), errors.New("boom")},
		scripts: []string{textTurn("recovered")},
	}
	loop, _ := newTestLoop(t, client, permission.ModeDefault)
	loop.retryInterval = time.Millisecond

	result, err := loop.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, 3, client.calls)
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{scripts: []string{textTurn("never")}}
	loop, arbiter := newTestLoop(t, client, permission.ModeDefault)

	result, err := loop.Run(ctx, "go")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, result.Status)
	assert.Empty(t, arbiter.Pending())
}

func TestRunDeniedToolProducesErrorResultAndContinues(t *testing.T) {
	st := &stubTool{name: "mutate", capa: tool.Capability{NeedsPermission: true}}
	client := &scriptedClient{scripts: []string{toolTurn("mutate"), textTurn("ok")}}
	loop, _ := newTestLoop(t, client, permission.ModePlan, st)

	result, err := loop.Run(context.Background(), "go")
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].IsError)
	assert.Equal(t, 0, st.runs)
	assert.Equal(t, StatusCompleted, result.Status)
}
