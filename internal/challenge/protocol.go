package challenge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/internal/pacing"
	"github.com/shehryarbajwa/serpwatch/internal/session"
)

// DefaultGracePeriod is how long Handle waits before killing the session.
const DefaultGracePeriod = 5 * time.Second

// Killer tears down a session
type Killer interface {
	Kill(s *session.Session)
}

// Aborted signals that the session is gone and the caller must acquire a
// new one. It is never a resolution.
type Aborted struct {
	SessionID string
	Proxy     string
	At        time.Time
}

// Protocol detects challenges and recovers by restart.
type Protocol struct {
	detector *Detector
	sessions Killer
	grace    time.Duration
	logger   *zap.Logger
}

// NewProtocol creates a protocol
func NewProtocol(detector *Detector, sessions Killer, grace time.Duration, logger *zap.Logger) *Protocol {
	if grace < 0 {
		grace = 0
	}
	return &Protocol{
		detector: detector,
		sessions: sessions,
		grace:    grace,
		logger:   logger.With(zap.String("component", "challenge")),
	}
}

// IsChallenge reports whether s currently shows a challenge page.
func (p *Protocol) IsChallenge(ctx context.Context, s *session.Session) bool {
	if s == nil {
		return false
	}
	return p.detector.Detect(ctx, s.Driver())
}

// Handle waits out the grace period, then force-closes s. The wait ends
// early on cancellation; the session is killed either way.
func (p *Protocol) Handle(ctx context.Context, s *session.Session) Aborted {
	aborted := Aborted{At: time.Now()}
	if s == nil {
		return aborted
	}
	aborted.SessionID = s.ID
	aborted.Proxy = s.Proxy

	p.logger.Warn("challenge page, abandoning session",
		zap.String("session_id", s.ID),
		zap.String("proxy", s.Proxy),
		zap.Duration("grace", p.grace))

	if err := pacing.Sleep(ctx, p.grace); err != nil {
		p.logger.Debug("grace period interrupted", zap.Error(err))
	}

	p.sessions.Kill(s)
	aborted.At = time.Now()
	return aborted
}
