package workflow

import (
	"context"
	"errors"
	"sync"
)

var ErrSubmitInProgress = errors.New("submit already in progress")

type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateSucceeded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

type SubmitFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// StepController drives one page: it submits the step input, moves forward
// once on success and keeps the input and error on failure.
type StepController[In, Out any] struct {
	route  Route
	nav    Navigator
	submit SubmitFunc[In, Out]

	mu      sync.Mutex
	state   State
	input   In
	result  Out
	lastErr error
}

func NewStepController[In, Out any](route Route, nav Navigator, submit SubmitFunc[In, Out]) *StepController[In, Out] {
	return &StepController[In, Out]{route: route, nav: nav, submit: submit}
}

// Submit calls the step endpoint. A second Submit while one is running
// returns ErrSubmitInProgress without calling the endpoint.
func (c *StepController[In, Out]) Submit(ctx context.Context, in In) (Out, error) {
	c.mu.Lock()
	if c.state == StateSubmitting {
		c.mu.Unlock()
		var zero Out
		return zero, ErrSubmitInProgress
	}
	c.state = StateSubmitting
	c.input = in
	c.lastErr = nil
	c.mu.Unlock()

	out, err := c.submit(ctx, in)

	c.mu.Lock()
	if err != nil {
		c.state = StateIdle
		c.lastErr = err
		c.mu.Unlock()
		return out, err
	}
	c.state = StateSucceeded
	c.result = out
	c.mu.Unlock()

	if next := NextRoute(c.route); next != "" {
		c.nav.Navigate(next)
	}
	return out, nil
}

// Back leaves the step without calling any endpoint.
func (c *StepController[In, Out]) Back() {
	c.nav.Navigate(BackRoute(c.route))
}

func (c *StepController[In, Out]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Input is the last submitted input, kept so a failed step can be retried
// without re-entering it.
func (c *StepController[In, Out]) Input() In {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

func (c *StepController[In, Out]) Result() Out {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

func (c *StepController[In, Out]) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
