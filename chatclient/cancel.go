package chatclient

import (
	"context"
	"sync"
	"time"
)

// CancelReason names why a CancelToken was cancelled. A plain
// context.Context carries no such reason, so CancelToken wraps one with
// the bookkeeping the concurrency model requires: state, reason,
// timestamp, and a one-shot callback.
type CancelReason string

const (
	ReasonUserRequest   CancelReason = "user_request"
	ReasonTimeout       CancelReason = "timeout"
	ReasonError         CancelReason = "error"
	ReasonResourceLimit CancelReason = "resource_limit"
	ReasonShutdown      CancelReason = "shutdown"
)

// CancelState is a snapshot of a CancelToken: either active, or
// cancelled with a reason and the time it happened.
type CancelState struct {
	Cancelled bool
	Reason    CancelReason
	At        time.Time
}

// CancelToken tracks one streaming operation's cancellation state,
// layering a reason and timestamp on top of context.Context's bare
// cancel signal. Suspension points (transport I/O, rate-limiter sleep,
// backpressure wait, circuit half-open wait, retry sleep, pipeline
// next()) select on Done() the same way they would a bare context, and
// call State() to report why when they unwind.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    CancelState
	onCancel []func(CancelState)
	fired    bool
}

// NewCancelToken derives a CancelToken from parent. Cancelling the
// returned token never cancels parent; cancelling parent does cancel
// the token (propagating ReasonShutdown if parent's cause is otherwise
// unknown).
func NewCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancel(parent)
	t := &CancelToken{ctx: ctx, cancel: cancel, state: CancelState{}}
	go t.watchParent()
	return t
}

// NewCancelTokenWithTimeout builds a CancelToken that self-cancels with
// ReasonTimeout after d, modeling "timeout is a cancel token with a
// scheduled cancel at now + timeout" directly.
func NewCancelTokenWithTimeout(parent context.Context, d time.Duration) *CancelToken {
	t := NewCancelToken(parent)
	timer := time.AfterFunc(d, func() { t.Cancel(ReasonTimeout) })
	t.OnCancel(func(CancelState) { timer.Stop() })
	return t
}

func (t *CancelToken) watchParent() {
	<-t.ctx.Done()
	t.mu.Lock()
	already := t.state.Cancelled
	t.mu.Unlock()
	if !already {
		t.Cancel(ReasonShutdown)
	}
}

// Context returns the underlying context.Context, for passing to
// anything that takes one (HTTP requests, channel selects).
func (t *CancelToken) Context() context.Context { return t.ctx }

// Done returns the channel that closes when the token is cancelled,
// exactly like context.Context.Done. The intended use at a suspension
// point is `select { case <-token.Done(): ...; case <-other: ... }`.
func (t *CancelToken) Done() <-chan struct{} { return t.ctx.Done() }

// Cancel transitions the token to cancelled with reason, recording the
// timestamp, cancelling the underlying context, and firing every
// registered on-cancel callback exactly once. Calling Cancel on an
// already-cancelled token is a no-op; the first reason wins.
func (t *CancelToken) Cancel(reason CancelReason) {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.state = CancelState{Cancelled: true, Reason: reason, At: time.Now()}
	callbacks := t.onCancel
	t.mu.Unlock()

	t.cancel()
	for _, cb := range callbacks {
		cb(t.state)
	}
}

// State returns a snapshot of the token's current state.
func (t *CancelToken) State() CancelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsCancelled reports whether Cancel has been called (or the parent
// context ended).
func (t *CancelToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Cancelled
}

// OnCancel registers a callback that fires exactly once, at cancel time.
// If the token is already cancelled, fn fires immediately (synchronously,
// on the calling goroutine).
func (t *CancelToken) OnCancel(fn func(CancelState)) {
	t.mu.Lock()
	if t.fired {
		state := t.state
		t.mu.Unlock()
		fn(state)
		return
	}
	t.onCancel = append(t.onCancel, fn)
	t.mu.Unlock()
}
