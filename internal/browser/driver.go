// Package browser defines the browser automation capability the search
// engine drives, and its playwright and docker-backed implementations.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by drivers after Close.
var ErrClosed = errors.New("browser session closed")

// Element is a reference to a node on the current page. References go stale
// when the page navigates.
type Element interface {
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	Attached(ctx context.Context) (bool, error)
}

// Condition is polled by WaitUntil
type Condition func(ctx context.Context) bool

// Driver is one live browser-automation context. Every call may fail or
// time out; callers must tolerate both.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Find(ctx context.Context, selector string) ([]Element, error)
	Click(ctx context.Context, el Element) error
	CurrentURL(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	WaitUntil(ctx context.Context, cond Condition, timeout time.Duration) bool

	// ExecuteScript evaluates a JavaScript function expression. arg may be
	// an Element returned by Find.
	ExecuteScript(ctx context.Context, script string, arg interface{}) (interface{}, error)

	WindowHandles(ctx context.Context) ([]string, error)
	CurrentWindow() string
	SwitchWindow(ctx context.Context, handle string) error
	CloseWindow(ctx context.Context, handle string) error

	// Close tears down the whole context.
	Close() error
}

// DevtoolsEndpoint is implemented by drivers that expose a CDP websocket.
type DevtoolsEndpoint interface {
	DevtoolsURL() string
}

// LaunchOptions configures a new driver
type LaunchOptions struct {
	SessionID string
	// Proxy is a host:port egress address; empty means direct.
	Proxy string
}

// Launcher constructs drivers
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Driver, error)
	Close() error
}

// PollInterval is how often WaitUntil re-evaluates its condition.
const PollInterval = 250 * time.Millisecond

// Poll evaluates cond until it holds, timeout elapses or ctx is done.
func Poll(ctx context.Context, cond Condition, timeout, interval time.Duration) bool {
	if cond(ctx) {
		return true
	}
	if timeout <= 0 {
		return false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return cond(ctx)
		case <-ticker.C:
			if cond(ctx) {
				return true
			}
		}
	}
}
