// Package syncer drives full sync passes over one album: filtering,
// existence probing, per-size downloads, remote deletion, the watch loop,
// and the shared status machinery that external control planes observe.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is the interactive-input state visible to external controllers.
type Status string

const (
	StatusNoInputNeeded Status = "NO_INPUT_NEEDED"
	StatusNeedPassword  Status = "NEED_PASSWORD"
	StatusNeedMFA       Status = "NEED_MFA"
	StatusSuppliedMFA   Status = "SUPPLIED_MFA"
	StatusCheckingMFA   Status = "CHECKING_MFA"
)

// Command is a control instruction consumed by the watch loop.
type Command string

const (
	CommandSync    Command = "sync"
	CommandSyncAll Command = "sync_all"
	CommandStop    Command = "stop"
)

// ErrMFATimeout means no code arrived within the configured deadline.
var ErrMFATimeout = errors.New("syncer: timed out waiting for MFA code")

// StatusExchange is the rendezvous between the authenticator (waiting for a
// code) and whatever supplies it (web UI, command channel). Transitions are
// compare-and-swap: they succeed only from the expected source state, so
// two submitters cannot race past each other.
type StatusExchange struct {
	mu      sync.Mutex
	status  Status
	payload string
	lastErr string

	commands chan Command
}

// NewStatusExchange starts in NO_INPUT_NEEDED with room for one queued
// command; only one command is processed per sleep window.
func NewStatusExchange() *StatusExchange {
	return &StatusExchange{
		status:   StatusNoInputNeeded,
		commands: make(chan Command, 1),
	}
}

// Status returns the current state.
func (x *StatusExchange) Status() Status {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.status
}

// Transition moves from one state to another, failing when the current
// state is not the expected one.
func (x *StatusExchange) Transition(from, to Status) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.status != from {
		return false
	}

	x.status = to

	return true
}

// SubmitCode hands a security code to the waiting authenticator. Fails
// unless a code is currently needed.
func (x *StatusExchange) SubmitCode(code string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.status != StatusNeedMFA {
		return false
	}

	x.status = StatusSuppliedMFA
	x.payload = code

	return true
}

// takeCode claims a submitted code for validation.
func (x *StatusExchange) takeCode() (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.status != StatusSuppliedMFA {
		return "", false
	}

	x.status = StatusCheckingMFA
	code := x.payload
	x.payload = ""

	return code, true
}

// SetError records the last interactive-input failure for status readers.
func (x *StatusExchange) SetError(msg string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.lastErr = msg
}

// LastError returns the recorded failure message, if any.
func (x *StatusExchange) LastError() string {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.lastErr
}

// Send queues a command without blocking. Returns false when a command is
// already pending.
func (x *StatusExchange) Send(cmd Command) bool {
	select {
	case x.commands <- cmd:
		return true
	default:
		return false
	}
}

// Poll takes the pending command, if any.
func (x *StatusExchange) Poll() (Command, bool) {
	select {
	case cmd := <-x.commands:
		return cmd, true
	default:
		return "", false
	}
}

// WaitCode blocks until a code is submitted through the exchange, polling
// at the given granularity. The deadline bounds how long an unattended host
// waits before giving up the pass.
func (x *StatusExchange) WaitCode(ctx context.Context, poll, deadline time.Duration) (string, error) {
	if !x.Transition(StatusNoInputNeeded, StatusNeedMFA) && x.Status() != StatusNeedMFA {
		return "", errors.New("syncer: status exchange busy")
	}

	timeout := time.After(deadline)

	for {
		if code, ok := x.takeCode(); ok {
			return code, nil
		}

		select {
		case <-ctx.Done():
			x.Transition(StatusNeedMFA, StatusNoInputNeeded)
			return "", ctx.Err()
		case <-timeout:
			x.Transition(StatusNeedMFA, StatusNoInputNeeded)
			return "", ErrMFATimeout
		case <-time.After(poll):
		}
	}
}

// CodeChecked reports the validation outcome, returning the exchange to an
// idle or retry state.
func (x *StatusExchange) CodeChecked(ok bool, msg string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.lastErr = msg

	if ok {
		x.status = StatusNoInputNeeded
		return
	}

	// Wrong code: ask again.
	x.status = StatusNeedMFA
}
