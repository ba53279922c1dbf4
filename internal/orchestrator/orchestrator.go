// Package orchestrator walks the task list, owns the live session and
// applies the retry, backoff and proxy rotation policy.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/internal/ledger"
	"github.com/shehryarbajwa/serpwatch/internal/pacing"
	"github.com/shehryarbajwa/serpwatch/internal/proxy"
	"github.com/shehryarbajwa/serpwatch/internal/ratelimit"
	"github.com/shehryarbajwa/serpwatch/internal/session"
	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

const (
	DefaultMaxRetries  = 3
	DefaultOpenRetries = 2
)

// ErrNoProxy is returned when a proxy is required and the pool is empty.
var ErrNoProxy = errors.New("no proxy available")

// Sessions opens, checks and closes browser sessions
type Sessions interface {
	Open(ctx context.Context, proxy string) (*session.Session, error)
	IsAlive(ctx context.Context, s *session.Session) bool
	Close(s *session.Session)
}

// Searcher runs the paginated search for one term and keyword
type Searcher interface {
	Run(ctx context.Context, s *session.Session, term, keyword string) models.AttemptResult
}

// Proxies selects egress addresses and records their failures
type Proxies interface {
	Next(mode proxy.SelectMode) (string, bool)
	Rotate(previous string) (string, bool)
	MarkFailed(address string)
}

// Refresher reloads the proxy pool from its sources
type Refresher interface {
	Refresh(ctx context.Context, force bool) int
}

// Remover drops proxies that could not carry a session at all
type Remover interface {
	Remove(ctx context.Context, address string)
}

// Pacer delays searches per egress
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Options holds the retry and pacing policy.
type Options struct {
	// MaxRetries bounds session restarts per term.
	MaxRetries int
	// OpenRetries bounds launch attempts when a term first needs a session.
	OpenRetries    int
	SessionPerTerm bool
	RequireProxy   bool
	Backoff        pacing.Backoff
	TermPauseMin   time.Duration
	TermPauseMax   time.Duration
}

// Orchestrator processes tasks strictly in order.
type Orchestrator struct {
	sessions Sessions
	searcher Searcher
	proxies  Proxies
	loader   Refresher
	remover  Remover
	pacer    Pacer
	ledger   *ledger.Ledger
	opts     Options
	jitter   *pacing.Jitter
	logger   *zap.Logger
}

// Option configures optional collaborators
type Option func(*Orchestrator)

// WithProxies routes sessions through proxies
func WithProxies(p Proxies) Option {
	return func(o *Orchestrator) { o.proxies = p }
}

// WithRefresher refreshes the proxy pool before each selection
func WithRefresher(r Refresher) Option {
	return func(o *Orchestrator) { o.loader = r }
}

// WithRemover removes a proxy when a launch through it fails, instead of
// only marking it failed
func WithRemover(r Remover) Option {
	return func(o *Orchestrator) { o.remover = r }
}

// WithPacer rate limits searches
func WithPacer(p Pacer) Option {
	return func(o *Orchestrator) { o.pacer = p }
}

// WithJitter sets the random source for pauses
func WithJitter(j *pacing.Jitter) Option {
	return func(o *Orchestrator) { o.jitter = j }
}

// New creates an orchestrator that records into l.
func New(sessions Sessions, searcher Searcher, l *ledger.Ledger, opts Options, logger *zap.Logger, options ...Option) *Orchestrator {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.OpenRetries < 1 {
		opts.OpenRetries = 1
	}

	o := &Orchestrator{
		sessions: sessions,
		searcher: searcher,
		ledger:   l,
		opts:     opts,
		jitter:   pacing.NewJitter(time.Now().UnixNano()),
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Ledger returns the ledger results are recorded into
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// runState is the mutable state of one pass over the task list.
type runState struct {
	sess *session.Session
	// lastFailed is excluded from the next proxy selection.
	lastFailed string
	searches   int
}

// Run processes every task in order. It returns ctx.Err() when interrupted;
// the current step finishes and the session is torn down either way.
func (o *Orchestrator) Run(ctx context.Context, tasks []models.SearchTask) error {
	st := &runState{}
	defer o.release(st)

	o.logger.Info("run started", zap.Int("tasks", len(tasks)))

	for i, task := range tasks {
		if ctx.Err() != nil {
			o.logger.Warn("run interrupted, skipping remaining tasks", zap.Int("remaining", len(tasks)-i))
			break
		}
		o.processTask(ctx, st, i, task)
	}

	o.logger.Info("run finished", zap.Int("entries", o.ledger.Len()))
	return ctx.Err()
}

// processTask runs every term of the task against every keyword. Each
// (term, keyword) pair has its own retry budget and ledger entry.
func (o *Orchestrator) processTask(ctx context.Context, st *runState, index int, task models.SearchTask) {
	log := o.logger.With(zap.Int("task", index))

	for _, term := range task.Terms() {
		for _, keyword := range task.TargetKeywords {
			if ctx.Err() != nil {
				return
			}

			if st.searches > 0 {
				pause := o.jitter.Between(o.opts.TermPauseMin, o.opts.TermPauseMax)
				if err := pacing.Sleep(ctx, pause); err != nil {
					return
				}
			}
			st.searches++

			result := o.processTerm(ctx, st, index, task, term, keyword)
			log.Info("term processed",
				zap.String("term", term),
				zap.String("keyword", keyword),
				zap.String("status", result.String()))
		}

		if o.opts.SessionPerTerm {
			o.release(st)
		}
	}
}

// processTerm runs one term and keyword to a final result, a
// retry-exhausted result or an interruption, and returns what was recorded
// last.
func (o *Orchestrator) processTerm(ctx context.Context, st *runState, index int, task models.SearchTask, term, keyword string) models.AttemptResult {
	log := o.logger.With(zap.String("term", term), zap.String("keyword", keyword))

	record := func(r models.AttemptResult) models.AttemptResult {
		o.ledger.Record(task, index, term, keyword, r)
		return r
	}

	retries := 0
	for {
		if err := o.ensureSession(ctx, st, retries > 0); err != nil {
			log.Warn("no session, abandoning term", zap.Int("retries", retries), zap.Error(err))
			return record(models.Error(models.StageOpen, "%v", err).Exhausted(retries))
		}

		if o.pacer != nil {
			if err := o.pacer.Wait(ctx, egressKey(st.sess.Proxy)); err != nil {
				return record(models.Error(models.StageSearch, "interrupted: %v", err))
			}
		}

		result := record(o.searcher.Run(ctx, st.sess, term, keyword))
		if result.Final() || ctx.Err() != nil {
			return result
		}

		if !o.restartable(ctx, st, result) {
			log.Warn("abandoning term without restart", zap.String("status", result.String()))
			return record(result.Exhausted(retries))
		}

		if retries >= o.opts.MaxRetries {
			log.Warn("retry budget exhausted", zap.Int("retries", retries), zap.String("status", result.String()))
			return record(result.Exhausted(retries))
		}
		retries++

		// Restart with a fresh identity
		failed := st.sess.Proxy
		o.discard(st)

		delay := o.opts.Backoff.Delay(retries)
		log.Info("restarting session",
			zap.Int("retry", retries),
			zap.Int("max_retries", o.opts.MaxRetries),
			zap.String("failed_proxy", failed),
			zap.Duration("backoff", delay),
			zap.String("reason", result.String()))

		if err := pacing.Sleep(ctx, delay); err != nil {
			return result
		}
	}
}

// restartable decides whether a provisional result warrants a new session.
func (o *Orchestrator) restartable(ctx context.Context, st *runState, r models.AttemptResult) bool {
	switch r.Kind {
	case models.KindSessionDied:
		return true
	case models.KindError:
		if !o.sessions.IsAlive(ctx, st.sess) {
			return true
		}
		// Search-stage errors are load timeouts and network failures
		return r.Stage == models.StageSearch
	}
	return false
}

// ensureSession makes st.sess a live session. A driver init failure while
// retrying abandons at once; otherwise up to OpenRetries launches are tried.
func (o *Orchestrator) ensureSession(ctx context.Context, st *runState, retrying bool) error {
	if st.sess != nil {
		if o.sessions.IsAlive(ctx, st.sess) {
			return nil
		}
		o.logger.Warn("session found dead, replacing it",
			zap.String("session_id", st.sess.ID),
			zap.String("proxy", st.sess.Proxy))
		o.discard(st)
	}

	attempts := o.opts.OpenRetries
	if retrying {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := pacing.Sleep(ctx, o.opts.Backoff.Delay(attempt-1)); err != nil {
				return err
			}
		}

		addr, err := o.pickProxy(ctx, st)
		if err != nil {
			return err
		}

		s, err := o.sessions.Open(ctx, addr)
		if err == nil {
			st.sess = s
			st.lastFailed = ""
			return nil
		}

		lastErr = err
		if addr != "" && o.proxies != nil {
			if o.remover != nil {
				o.remover.Remove(ctx, addr)
			} else {
				o.proxies.MarkFailed(addr)
			}
			st.lastFailed = addr
		}
		if !errors.Is(err, session.ErrDriverInit) {
			break
		}
		o.logger.Warn("session launch failed", zap.Int("attempt", attempt), zap.Int("attempts", attempts), zap.Error(err))
	}

	return fmt.Errorf("failed to open session: %w", lastErr)
}

// pickProxy selects the egress for the next session. After a failure the
// failed address is avoided whenever another one is eligible.
func (o *Orchestrator) pickProxy(ctx context.Context, st *runState) (string, error) {
	if o.proxies == nil {
		if o.opts.RequireProxy {
			return "", ErrNoProxy
		}
		return "", nil
	}

	if o.loader != nil {
		o.loader.Refresh(ctx, false)
	}

	var (
		addr string
		ok   bool
	)
	if st.lastFailed != "" {
		addr, ok = o.proxies.Rotate(st.lastFailed)
	} else {
		addr, ok = o.proxies.Next(proxy.SelectLRU)
	}

	if !ok {
		if o.opts.RequireProxy {
			return "", ErrNoProxy
		}
		o.logger.Warn("proxy pool empty, connecting directly")
		return "", nil
	}
	return addr, nil
}

// discard releases a session that died and charges the failure to its
// proxy, which the next selection then avoids.
func (o *Orchestrator) discard(st *runState) {
	if st.sess == nil {
		return
	}
	failed := st.sess.Proxy
	o.release(st)
	if failed != "" && o.proxies != nil {
		o.proxies.MarkFailed(failed)
	}
	st.lastFailed = failed
}

func (o *Orchestrator) release(st *runState) {
	if st.sess == nil {
		return
	}
	o.sessions.Close(st.sess)
	st.sess = nil
}

func egressKey(addr string) string {
	if addr == "" {
		return ratelimit.DirectKey
	}
	return addr
}
