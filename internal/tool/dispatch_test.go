package tool

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate-ai/toolgate/internal/permission"
	"github.com/toolgate-ai/toolgate/internal/shell"
)

// fakeTool is a scriptable tool double for dispatcher tests.
type fakeTool struct {
	name    string
	capa    Capability
	execute func(ctx context.Context, input json.RawMessage, tctx *Context) (*Result, error)
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "fake" }
func (f *fakeTool) Parameters() json.RawMessage { return json.RawMessage(`{}`) }
func (f *fakeTool) Capability() Capability      { return f.capa }

func (f *fakeTool) Execute(ctx context.Context, input json.RawMessage, tctx *Context) (*Result, error) {
	if f.execute != nil {
		return f.execute(ctx, input, tctx)
	}
	return &Result{Output: "ok"}, nil
}

func newTestDispatcher(t *testing.T, mode permission.Mode, tools ...Tool) (*Dispatcher, *shell.Manager) {
	t.Helper()
	reg := NewRegistry(t.TempDir())
	for _, tl := range tools {
		reg.Register(tl)
	}
	arbiter := permission.NewArbiter(permission.NewContext(reg.WorkDir(), mode))
	shells := shell.NewManager()
	t.Cleanup(shells.Shutdown)
	return NewDispatcher("sess_test", reg, arbiter, shells), shells
}

func TestExecuteUnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t, permission.ModeDefault)
	res := d.Execute(context.Background(), Request{ID: "c1", Name: "nope"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "tool not found")
}

func TestExecuteRunsGrantedTool(t *testing.T) {
	var ran bool
	ft := &fakeTool{
		name: "probe",
		capa: Capability{ReadOnly: true, ConcurrencySafe: true},
		execute: func(context.Context, json.RawMessage, *Context) (*Result, error) {
			ran = true
			return &Result{Output: "done"}, nil
		},
	}
	d, _ := newTestDispatcher(t, permission.ModeDefault, ft)

	res := d.Execute(context.Background(), Request{ID: "c1", Name: "probe", Input: json.RawMessage(`{}`)})
	assert.False(t, res.IsError)
	assert.Equal(t, "done", res.Content)
	assert.Equal(t, "c1", res.ToolUseID)
	assert.True(t, ran)
}

func TestDeniedCallNeverRuns(t *testing.T) {
	var ran bool
	ft := &fakeTool{
		name: "mutate",
		capa: Capability{NeedsPermission: true},
		execute: func(context.Context, json.RawMessage, *Context) (*Result, error) {
			ran = true
			return &Result{Output: "done"}, nil
		},
	}
	d, _ := newTestDispatcher(t, permission.ModePlan, ft)

	res := d.Execute(context.Background(), Request{ID: "c1", Name: "mutate", Input: json.RawMessage(`{}`)})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "permission denied")
	assert.False(t, ran, "denied tool must not execute")
}

func TestToolErrorBecomesErrorResult(t *testing.T) {
	ft := &fakeTool{
		name: "flaky",
		capa: Capability{ReadOnly: true, ConcurrencySafe: true},
		execute: func(context.Context, json.RawMessage, *Context) (*Result, error) {
			return nil, assert.AnError
		},
	}
	d, _ := newTestDispatcher(t, permission.ModeDefault, ft)

	res := d.Execute(context.Background(), Request{ID: "c1", Name: "flaky", Input: json.RawMessage(`{}`)})
	assert.True(t, res.IsError)
}

func TestCanParallelize(t *testing.T) {
	safe := &fakeTool{name: "safe", capa: Capability{ConcurrencySafe: true}}
	unsafe := &fakeTool{name: "unsafe", capa: Capability{}}
	d, _ := newTestDispatcher(t, permission.ModeDefault, safe, unsafe)

	assert.True(t, d.CanParallelize(Request{Name: "safe"}))
	assert.False(t, d.CanParallelize(Request{Name: "unsafe"}))
	assert.True(t, d.CanParallelize(Request{Name: "missing"}))
}

func TestNonConcurrencySafeToolsSerialize(t *testing.T) {
	var mu sync.Mutex
	var active, maxActive int

	ft := &fakeTool{
		name: "serial",
		capa: Capability{}, // needs no permission in bypass mode below
		execute: func(context.Context, json.RawMessage, *Context) (*Result, error) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return &Result{Output: "ok"}, nil
		},
	}
	d, _ := newTestDispatcher(t, permission.ModeBypassAll, ft)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Execute(context.Background(), Request{ID: "c", Name: "serial", Input: json.RawMessage(`{}`)})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestBackgroundViaToolInput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell commands")
	}
	d, shells := newTestDispatcher(t, permission.ModeBypassAll)
	d.Registry().Register(NewBashTool(d.Registry().WorkDir()))

	res := d.Execute(context.Background(), Request{
		ID:    "c1",
		Name:  "bash",
		Input: json.RawMessage(`{"command":"echo bg","run_in_background":true}`),
	})
	require.False(t, res.IsError)
	assert.Contains(t, res.Content, "shell ID:")

	// The reported shell is real and queryable.
	parts := strings.Split(res.Content, "shell ID: ")
	require.Len(t, parts, 2)
	id := strings.SplitN(parts[1], ")", 2)[0]
	require.NoError(t, shells.Wait(id))
	snap, err := shells.Output(id, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"bg"}, snap.Stdout)
}

func TestDefaultRegistryTools(t *testing.T) {
	shells := shell.NewManager()
	t.Cleanup(shells.Shutdown)
	reg := DefaultRegistry(t.TempDir(), shells)

	for _, name := range []string{"bash", "bash_output", "kill_bash", "read", "write", "edit", "glob"} {
		_, ok := reg.Get(name)
		assert.True(t, ok, "missing tool %s", name)
	}
	assert.Len(t, reg.List(), 7)
}
