package engine

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/IvanBrykalov/pixcache/request"
)

// State is the position of a request in its lifecycle.
type State int32

const (
	StateCreated State = iota
	// StatePending waits for the request's lifecycle to start.
	StatePending
	StateRunning
	StateSuccess
	StateError
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	case StateCanceled:
		return "canceled"
	default:
		return "created"
	}
}

// Done reports whether s is terminal.
func (s State) Done() bool { return s >= StateSuccess }

// Job is an enqueued request.
type Job struct {
	id     uuid.UUID
	req    *request.Request
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	// Written once before done is closed.
	res *Result
	err error
}

func newJob(req *request.Request, cancel context.CancelFunc) *Job {
	return &Job{id: uuid.New(), req: req, cancel: cancel, done: make(chan struct{})}
}

func (j *Job) ID() string                { return j.id.String() }
func (j *Job) Request() *request.Request { return j.req }
func (j *Job) State() State              { return State(j.state.Load()) }

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx is done. A cancelled job
// returns an error wrapping context.Canceled; a failed or refused one
// returns a Result with Err set. The Result stays owned by the job until Dispose.
func (j *Job) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-j.done:
		return j.res, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dispose cancels the job if it is still running and releases its result.
func (j *Job) Dispose() {
	j.cancel()
	go func() {
		<-j.done
		j.res.Release()
	}()
}

func (j *Job) setState(s State) { j.state.Store(int32(s)) }

func (j *Job) finish(res *Result, err error) {
	j.res, j.err = res, err
	switch {
	case err != nil:
		j.setState(StateCanceled)
	case res.Err != nil:
		j.setState(StateError)
	default:
		j.setState(StateSuccess)
	}
	close(j.done)
}
