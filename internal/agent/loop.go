package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/toolgate-ai/toolgate/internal/event"
	"github.com/toolgate-ai/toolgate/internal/logging"
	"github.com/toolgate-ai/toolgate/internal/permission"
	"github.com/toolgate-ai/toolgate/internal/stream"
	"github.com/toolgate-ai/toolgate/internal/tool"
)

const (
	// DefaultMaxIterations bounds the autonomous loop.
	DefaultMaxIterations = 25

	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
	maxStreamRetries     = 3
)

// Status reports how a turn ended.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusIterationLimit Status = "iteration_limit"
	StatusCancelled      Status = "cancelled"
	StatusError          Status = "error"
)

// IterationLimitError is returned when the loop exhausts its bound.
type IterationLimitError struct {
	Limit int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("iteration limit exceeded: %d", e.Limit)
}

// TurnResult carries everything a turn produced, including partial results
// collected before cancellation or an error.
type TurnResult struct {
	Text       string
	Results    []tool.ToolResult
	Iterations int
	Status     Status
}

// Loop coordinates one conversation. It is not safe for concurrent Run
// calls.
type Loop struct {
	client        ModelClient
	dispatcher    *tool.Dispatcher
	arbiter       *permission.Arbiter
	maxIterations int
	retryInterval time.Duration
	log           zerolog.Logger

	messages []Message
}

// Option configures the loop.
type Option func(*Loop)

// WithMaxIterations overrides the iteration bound.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// NewLoop creates a coordinator over the model client and dispatcher.
func NewLoop(client ModelClient, dispatcher *tool.Dispatcher, arbiter *permission.Arbiter, opts ...Option) *Loop {
	l := &Loop{
		client:        client,
		dispatcher:    dispatcher,
		arbiter:       arbiter,
		maxIterations: DefaultMaxIterations,
		retryInterval: retryInitialInterval,
		log:           logging.For("agent"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives one user turn to completion. The returned TurnResult is valid
// even on error: it carries whatever was collected before the failure.
func (l *Loop) Run(ctx context.Context, prompt string) (*TurnResult, error) {
	l.messages = append(l.messages, Message{Role: RoleUser, Content: prompt})

	result := &TurnResult{Status: StatusError}
	defer func() {
		event.Publish(event.Event{
			Type: event.TurnDone,
			Data: event.TurnDoneData{Iterations: result.Iterations, Status: string(result.Status)},
		})
	}()

	for iteration := 1; ; iteration++ {
		if iteration > l.maxIterations {
			// Terminate cleanly: resolve anything still suspended so no
			// responder is left dangling.
			l.arbiter.CancelAll()
			result.Status = StatusIterationLimit
			return result, &IterationLimitError{Limit: l.maxIterations}
		}
		result.Iterations = iteration

		select {
		case <-ctx.Done():
			l.arbiter.CancelAll()
			result.Status = StatusCancelled
			return result, ctx.Err()
		default:
		}

		asm, err := l.streamOnce(ctx)
		if asm != nil {
			result.Text += asm.Text()
		}
		if err != nil {
			if ctx.Err() != nil {
				l.arbiter.CancelAll()
				result.Status = StatusCancelled
				return result, ctx.Err()
			}
			return result, err
		}

		calls := asm.ToolCalls()

		if len(calls) == 0 {
			result.Status = StatusCompleted
			l.messages = append(l.messages, Message{Role: RoleAssistant, Content: asm.Text()})
			return result, nil
		}

		assistantMsg := Message{Role: RoleAssistant, Content: asm.Text()}
		for _, c := range calls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, ToolCallRef{ID: c.ID, Name: c.Name, Input: c.Input})
		}
		l.messages = append(l.messages, assistantMsg)

		results := l.dispatchAll(ctx, calls)
		result.Results = append(result.Results, results...)

		if ctx.Err() != nil {
			l.arbiter.CancelAll()
			result.Status = StatusCancelled
			return result, ctx.Err()
		}

		l.messages = append(l.messages, Message{Role: RoleTool, Results: results})
	}
}

// streamOnce opens one model stream and decodes it fully. Transient open
// errors are retried with exponential backoff and jitter.
func (l *Loop) streamOnce(ctx context.Context) (*stream.Assembler, error) {
	req := &Request{Messages: l.messages, Tools: l.toolInfos()}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.retryInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxStreamRetries), ctx)

	var rc io.ReadCloser
	err := backoff.Retry(func() error {
		var serr error
		rc, serr = l.client.Stream(ctx, req)
		return serr
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("opening model stream: %w", err)
	}
	defer rc.Close()

	asm := stream.NewAssembler()
	reader := stream.NewReader(rc)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return asm, nil
		}
		if err != nil {
			// Decode errors abort the turn; events already observed stay
			// valid in the assembler.
			var derr *stream.DecodeError
			if errors.As(err, &derr) {
				l.log.Warn().Err(derr).Msg("stream decode failed")
				return asm, derr
			}
			return asm, err
		}
		asm.Observe(ev)
		if ctx.Err() != nil {
			return asm, ctx.Err()
		}
	}
}

// dispatchAll runs the turn's finalized tool calls. Concurrency-safe calls
// run in parallel; everything else runs serially in declaration order.
// Results are reassembled in declaration order no matter how execution
// interleaved.
func (l *Loop) dispatchAll(ctx context.Context, calls []stream.ToolCall) []tool.ToolResult {
	results := make([]tool.ToolResult, len(calls))

	var wg sync.WaitGroup
	var serialCalls []int

	for i, c := range calls {
		req := tool.Request{ID: c.ID, Name: c.Name, Input: c.Input, TurnIndex: c.TurnIndex}
		if l.dispatcher.CanParallelize(req) {
			wg.Add(1)
			go func(i int, req tool.Request) {
				defer wg.Done()
				results[i] = l.dispatcher.Execute(ctx, req)
			}(i, req)
		} else {
			serialCalls = append(serialCalls, i)
		}
	}

	for _, i := range serialCalls {
		c := calls[i]
		results[i] = l.dispatcher.Execute(ctx, tool.Request{ID: c.ID, Name: c.Name, Input: c.Input, TurnIndex: c.TurnIndex})
	}

	wg.Wait()
	return results
}

// Messages returns the conversation so far.
func (l *Loop) Messages() []Message {
	return l.messages
}

func (l *Loop) toolInfos() []ToolInfo {
	tools := l.dispatcher.Registry().List()
	infos := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		infos = append(infos, ToolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return infos
}
