package scheduler

import (
	"context"

	"go.uber.org/atomic"
)

// Sink receives the result of a command. The scheduler calls Deliver exactly once per submitted command. Deliver must
// not block; it returns false when nobody is interested in the result any more.
type Sink interface {
	Deliver(res *Result) bool
}

const (
	callbackPending uint32 = iota
	callbackDelivered
	callbackClosed
)

// Callback is a single-shot Sink read through a channel. Whichever of Deliver and Close moves state first wins.
type Callback struct {
	ch    chan *Result
	fired atomic.Bool
	state atomic.Uint32
}

func NewCallback() *Callback {
	return &Callback{ch: make(chan *Result, 1)}
}

// Deliver hands res to the reader. A second call panics.
func (cb *Callback) Deliver(res *Result) bool {
	if !cb.fired.CAS(false, true) {
		panic("scheduler: callback fired twice")
	}
	if !cb.state.CAS(callbackPending, callbackDelivered) {
		return false
	}
	// The channel has room for exactly one result, this never blocks.
	cb.ch <- res
	return true
}

// Close drops interest in the result. The command still runs to completion. It returns false if the result was
// already delivered, in which case it is on Done.
func (cb *Callback) Close() bool {
	return cb.state.CAS(callbackPending, callbackClosed) || cb.state.Load() == callbackClosed
}

// Done returns the channel the result arrives on.
func (cb *Callback) Done() <-chan *Result {
	return cb.ch
}

// Wait blocks until the result arrives or ctx is done. In the latter case the callback is closed, unless the result
// won the race and is returned instead.
func (cb *Callback) Wait(ctx context.Context) (*Result, error) {
	select {
	case res := <-cb.ch:
		return res, nil
	case <-ctx.Done():
		if cb.Close() {
			return nil, ctx.Err()
		}
		return <-cb.ch, nil
	}
}

type funcSink struct {
	fn    func(res *Result)
	fired atomic.Bool
}

// SinkFunc adapts fn into a Sink. fn runs on a scheduler goroutine and must not block.
func SinkFunc(fn func(res *Result)) Sink {
	return &funcSink{fn: fn}
}

func (s *funcSink) Deliver(res *Result) bool {
	if !s.fired.CAS(false, true) {
		panic("scheduler: sink fired twice")
	}
	s.fn(res)
	return true
}
