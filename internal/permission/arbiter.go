package permission

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/toolgate-ai/toolgate/internal/event"
	"github.com/toolgate-ai/toolgate/internal/logging"
)

type response struct {
	decision Decision
	rules    []string
}

type pendingDecision struct {
	req Request
	ch  chan response
}

// Arbiter evaluates tool calls against the session's permission context and
// suspends undecidable calls on fresh single-use decision channels.
type Arbiter struct {
	pctx *Context
	log  zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingDecision
}

// NewArbiter creates an arbiter over the given context.
func NewArbiter(pctx *Context) *Arbiter {
	return &Arbiter{
		pctx:    pctx,
		log:     logging.For("permission"),
		pending: make(map[string]*pendingDecision),
	}
}

// Evaluate decides one tool call. It returns immediately for calls settled
// by mode, capability, or rules; otherwise it suspends until Respond
// delivers a decision or ctx is cancelled. A cancelled wait resolves as a
// rejection, never a grant.
func (a *Arbiter) Evaluate(ctx context.Context, req Request) (Grant, error) {
	mode := a.pctx.Mode()

	// 1. Bypass mode and read-only/concurrency-safe tools never suspend.
	if mode == ModeBypassAll || !req.NeedsPermission || req.ReadOnly {
		return Grant{}, nil
	}

	// Plan mode runs nothing that could mutate.
	if mode == ModePlan {
		return Grant{}, rejected(req, "plan mode: %s is not read-only", req.ToolName)
	}

	subjects := subjectsFor(req)

	// 2. Deny rules win over everything below.
	denyRules := a.pctx.DenyRules(req.ToolName)
	for _, s := range subjects {
		if matchesAny(denyRules, s) {
			return Grant{}, rejected(req, "denied by rule: %s", s)
		}
	}

	// 3. Allow rules must cover every subject of the call.
	if len(subjects) > 0 {
		allowRules := a.pctx.AllowRules(req.ToolName)
		covered := true
		for _, s := range subjects {
			if !matchesAny(allowRules, s) {
				covered = false
				break
			}
		}
		if covered && len(allowRules) > 0 {
			return Grant{}, nil
		}
	}

	if mode == ModeAcceptEdits && req.Edits && len(req.Paths) > 0 {
		inside := true
		for _, p := range req.Paths {
			if !a.pctx.PathWritable(p) {
				inside = false
				break
			}
		}
		if inside {
			return Grant{}, nil
		}
	}

	// 4. Suspend on a fresh single-use decision channel.
	return a.suspend(ctx, req)
}

func (a *Arbiter) suspend(ctx context.Context, req Request) (Grant, error) {
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}

	pd := &pendingDecision{req: req, ch: make(chan response, 1)}

	a.mu.Lock()
	a.pending[req.ID] = pd
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.pending, req.ID)
		a.mu.Unlock()
	}()

	a.log.Debug().
		Str("request", req.ID).
		Str("tool", req.ToolName).
		Msg("suspending on permission decision")

	event.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{
			ID:            req.ID,
			ToolName:      req.ToolName,
			CallID:        req.CallID,
			RenderedInput: req.RenderedInput,
			Patterns:      DefaultRules(req),
		},
	})

	select {
	case <-ctx.Done():
		a.publishResolved(req.ID, false)
		return Grant{}, &RejectedError{
			ToolName:  req.ToolName,
			CallID:    req.CallID,
			Message:   "permission request cancelled",
			Cancelled: true,
		}

	case resp := <-pd.ch:
		switch resp.decision {
		case DecisionAllow:
			a.publishResolved(req.ID, true)
			return Grant{}, nil

		case DecisionAllowAlways:
			rules := resp.rules
			if len(rules) == 0 {
				rules = DefaultRules(req)
			}
			a.pctx.addAllow(req.ToolName, rules)
			a.publishResolved(req.ID, true)
			return Grant{}, nil

		case DecisionBackground:
			a.publishResolved(req.ID, true)
			return Grant{Background: true}, nil

		case DecisionDenyAlways:
			rules := resp.rules
			if len(rules) == 0 {
				rules = DefaultRules(req)
			}
			a.pctx.addDeny(req.ToolName, rules)
			a.publishResolved(req.ID, false)
			return Grant{}, rejected(req, "permission rejected by user")

		default: // DecisionDeny and anything unrecognized fail safe
			a.publishResolved(req.ID, false)
			return Grant{}, rejected(req, "permission rejected by user")
		}
	}
}

// Respond delivers a human decision for a pending request. Responding to an
// unknown or already resolved request is a no-op, not an error, so a
// decision submitted after cancellation is harmless.
func (a *Arbiter) Respond(requestID string, decision Decision, rules ...string) {
	a.mu.Lock()
	pd := a.pending[requestID]
	a.mu.Unlock()
	if pd == nil {
		return
	}

	select {
	case pd.ch <- response{decision: decision, rules: rules}:
	default:
		// already resolved; single-use channel consumed exactly once
	}
}

// Pending returns the requests currently suspended, for the UI collaborator.
func (a *Arbiter) Pending() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Request, 0, len(a.pending))
	for _, pd := range a.pending {
		out = append(out, pd.req)
	}
	return out
}

// CancelAll resolves every outstanding pending decision as denied. Used on
// session shutdown so no responder is left unfulfilled.
func (a *Arbiter) CancelAll() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.pending))
	for id := range a.pending {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.Respond(id, DecisionDeny)
	}
}

// Context returns the arbiter's permission context.
func (a *Arbiter) Context() *Context {
	return a.pctx
}

func (a *Arbiter) publishResolved(id string, granted bool) {
	event.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{ID: id, Granted: granted},
	})
}
