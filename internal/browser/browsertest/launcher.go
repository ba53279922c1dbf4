package browsertest

import (
	"context"
	"sync"

	"github.com/shehryarbajwa/serpwatch/internal/browser"
)

// Launcher hands out scripted drivers.
type Launcher struct {
	mu sync.Mutex

	// NewDriver builds the driver for one launch. Nil yields New().
	NewDriver func(opts browser.LaunchOptions) *Driver
	// Errs fail successive launches in order; a nil entry succeeds.
	Errs []error

	Launched []browser.LaunchOptions
	Drivers  []*Driver
	closed   bool
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Driver, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.Launched = append(l.Launched, opts)
	if len(l.Errs) > 0 {
		err := l.Errs[0]
		l.Errs = l.Errs[1:]
		if err != nil {
			return nil, err
		}
	}

	var d *Driver
	if l.NewDriver != nil {
		d = l.NewDriver(opts)
	} else {
		d = New()
	}
	l.Drivers = append(l.Drivers, d)
	return d, nil
}

func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Proxies returns the proxy of every launch attempt in order.
func (l *Launcher) Proxies() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.Launched))
	for i, o := range l.Launched {
		out[i] = o.Proxy
	}
	return out
}
