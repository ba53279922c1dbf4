// Package session owns the lifecycle of the single live browser session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/serpwatch/internal/browser"
	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

// ErrDriverInit marks failures to construct a browser session.
var ErrDriverInit = errors.New("browser driver init failed")

// ErrBusy is returned by Open while another session holds the slot.
var ErrBusy = errors.New("a session is already open")

// DriverInitError is returned by Open when the launcher fails.
type DriverInitError struct {
	Proxy string
	Err   error
}

func (e *DriverInitError) Error() string {
	if e.Proxy == "" {
		return fmt.Sprintf("%v: %v", ErrDriverInit, e.Err)
	}
	return fmt.Sprintf("%v (proxy %s): %v", ErrDriverInit, e.Proxy, e.Err)
}

func (e *DriverInitError) Unwrap() error { return e.Err }

// Is matches ErrDriverInit
func (e *DriverInitError) Is(target error) bool { return target == ErrDriverInit }

// DefaultLivenessTimeout bounds a liveness check.
const DefaultLivenessTimeout = 5 * time.Second

// Session is one browser context, optionally bound to a proxy.
type Session struct {
	ID       string
	Proxy    string
	OpenedAt time.Time

	driver browser.Driver

	mu       sync.Mutex
	status   models.SessionStatus
	lastURL  string
	released bool
}

// Driver returns the underlying browser capability
func (s *Session) Driver() browser.Driver { return s.driver }

// Status returns the lifecycle state
func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetURL records the last address the session was seen on.
func (s *Session) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastURL = url
}

// Info returns a read-only view for status reporting.
func (s *Session) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := models.SessionInfo{
		ID:         s.ID,
		Status:     s.status,
		Proxy:      s.Proxy,
		OpenedAt:   s.OpenedAt,
		CurrentURL: s.lastURL,
	}
	if ep, ok := s.driver.(browser.DevtoolsEndpoint); ok {
		info.DevtoolsURL = ep.DevtoolsURL()
	}
	return info
}

// Controller creates and tears down sessions. At most one session is live
// at a time.
type Controller struct {
	launcher        browser.Launcher
	slot            *semaphore.Weighted
	livenessTimeout time.Duration
	logger          *zap.Logger

	mu      sync.RWMutex
	current *Session
}

// NewController creates a controller over launcher
func NewController(launcher browser.Launcher, logger *zap.Logger) *Controller {
	return &Controller{
		launcher:        launcher,
		slot:            semaphore.NewWeighted(1),
		livenessTimeout: DefaultLivenessTimeout,
		logger:          logger.With(zap.String("component", "session")),
	}
}

// Open launches a session egressing through proxy, or directly when proxy
// is empty. Launch failures are returned as *DriverInitError and never
// retried here.
func (c *Controller) Open(ctx context.Context, proxy string) (*Session, error) {
	// Check the single-session slot
	if !c.slot.TryAcquire(1) {
		return nil, ErrBusy
	}

	id := uuid.New().String()
	driver, err := c.launcher.Launch(ctx, browser.LaunchOptions{
		SessionID: id,
		Proxy:     proxy,
	})
	if err != nil {
		c.slot.Release(1)
		c.logger.Warn("failed to open session", zap.String("proxy", proxy), zap.Error(err))
		return nil, &DriverInitError{Proxy: proxy, Err: err}
	}

	s := &Session{
		ID:       id,
		Proxy:    proxy,
		OpenedAt: time.Now(),
		driver:   driver,
		status:   models.StatusOpen,
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	c.logger.Info("session opened", zap.String("session_id", id), zap.String("proxy", proxy))
	return s, nil
}

// IsAlive checks the session. It never fails: any error or panic counts as
// dead and moves the session to Dead.
func (c *Controller) IsAlive(ctx context.Context, s *Session) (alive bool) {
	if s == nil || s.Status() != models.StatusOpen {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("liveness check panicked", zap.String("session_id", s.ID), zap.Any("panic", r))
			c.MarkDead(s)
			alive = false
		}
	}()

	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.livenessTimeout)
	defer cancel()

	url, err := s.driver.CurrentURL(checkCtx)
	if err != nil {
		c.logger.Warn("session unresponsive", zap.String("session_id", s.ID), zap.Error(err))
		c.MarkDead(s)
		return false
	}

	s.SetURL(url)
	return true
}

// MarkDead records that the session can no longer be used. It must still
// be closed.
func (c *Controller) MarkDead(s *Session) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.StatusOpen {
		s.status = models.StatusDead
		c.logger.Info("session marked dead", zap.String("session_id", s.ID))
	}
}

// Close tears the session down. It is idempotent and only logs teardown
// errors.
func (c *Controller) Close(s *Session) {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	if s.status == models.StatusOpen {
		s.status = models.StatusClosed
	}
	s.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Warn("session teardown panicked", zap.String("session_id", s.ID), zap.Any("panic", r))
			}
		}()
		if err := s.driver.Close(); err != nil {
			c.logger.Warn("session teardown failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	}()

	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()

	c.slot.Release(1)
	c.logger.Info("session closed", zap.String("session_id", s.ID), zap.String("status", string(s.Status())))
}

// Kill marks the session dead and closes it.
func (c *Controller) Kill(s *Session) {
	c.MarkDead(s)
	c.Close(s)
}

// Current returns the live session, if any
func (c *Controller) Current() (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.current != nil
}
