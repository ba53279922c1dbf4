package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/internal/browser"
	"github.com/shehryarbajwa/serpwatch/internal/challenge"
	"github.com/shehryarbajwa/serpwatch/internal/pacing"
	"github.com/shehryarbajwa/serpwatch/internal/pagetext"
	"github.com/shehryarbajwa/serpwatch/internal/session"
	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

const (
	DefaultMaxPages      = 5
	DefaultResultTimeout = 20 * time.Second
	DefaultPageTimeout   = 15 * time.Second
	DefaultWindowTimeout = 10 * time.Second
	DefaultDwell         = 5 * time.Second
	DefaultDwellSteps    = 5
)

// Liveness reports and records session health
type Liveness interface {
	IsAlive(ctx context.Context, s *session.Session) bool
	MarkDead(s *session.Session)
}

// Guard detects challenge pages and aborts the session on one
type Guard interface {
	IsChallenge(ctx context.Context, s *session.Session) bool
	Handle(ctx context.Context, s *session.Session) challenge.Aborted
}

// Options bounds the engine's waits and page walk.
type Options struct {
	MaxPages        int
	ResultTimeout   time.Duration
	PageTimeout     time.Duration
	WindowTimeout   time.Duration
	Dwell           time.Duration
	DwellSteps      int
	PaginateRetries int
}

// DefaultOptions returns the engine defaults
func DefaultOptions() Options {
	return Options{
		MaxPages:        DefaultMaxPages,
		ResultTimeout:   DefaultResultTimeout,
		PageTimeout:     DefaultPageTimeout,
		WindowTimeout:   DefaultWindowTimeout,
		Dwell:           DefaultDwell,
		DwellSteps:      DefaultDwellSteps,
		PaginateRetries: 1,
	}
}

// Engine executes searches against one site profile.
type Engine struct {
	profile  Profile
	opts     Options
	sessions Liveness
	guard    Guard
	matcher  *pagetext.Matcher
	logger   *zap.Logger
}

// NewEngine creates an engine
func NewEngine(profile Profile, opts Options, sessions Liveness, guard Guard, logger *zap.Logger) *Engine {
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	return &Engine{
		profile:  profile,
		opts:     opts,
		sessions: sessions,
		guard:    guard,
		matcher:  pagetext.NewMatcher(),
		logger:   logger.With(zap.String("component", "search"), zap.String("profile", profile.Name)),
	}
}

// Profile returns the site profile in use
func (e *Engine) Profile() Profile { return e.profile }

// ExecuteSearch issues the search for term and reports whether results
// appeared. A load failure and an empty result set look the same.
func (e *Engine) ExecuteSearch(ctx context.Context, s *session.Session, term string) bool {
	ok, _ := e.search(ctx, s, term)
	return ok
}

// ScanForKeyword reports whether the current page's visible text contains
// keyword. A challenge page aborts the session and yields false.
func (e *Engine) ScanForKeyword(ctx context.Context, s *session.Session, keyword string) bool {
	ok, _ := e.scan(ctx, s, keyword)
	return ok
}

// ClickMatch opens the first result whose text contains keyword in a new
// window, dwells there, then returns to the results.
func (e *Engine) ClickMatch(ctx context.Context, s *session.Session, keyword string) bool {
	ok, _ := e.click(ctx, s, keyword)
	return ok
}

// AdvancePage moves to the next results page. False means no further page
// or a dead session; callers check liveness to tell them apart.
func (e *Engine) AdvancePage(ctx context.Context, s *session.Session) bool {
	ok, _ := e.advance(ctx, s)
	return ok
}

// Run searches for term and walks at most MaxPages result pages for
// keyword. It never panics and never blocks past its configured timeouts.
func (e *Engine) Run(ctx context.Context, s *session.Session, term, keyword string) (result models.AttemptResult) {
	stage := models.StageSearch
	log := e.logger.With(
		zap.String("session_id", s.ID),
		zap.String("term", term),
		zap.String("keyword", keyword))

	defer func() {
		if r := recover(); r != nil {
			log.Error("search run panicked", zap.Any("panic", r), zap.String("stage", string(stage)))
			result = models.Error(stage, "panic: %v", r)
		}
	}()

	// Steps run to completion once started; cancellation is honored between them
	step := context.WithoutCancel(ctx)

	ok, err := e.search(step, s, term)
	if !ok {
		return e.failure(step, s, stage, err)
	}
	log.Debug("results loaded")

	lastFound := 0
	scanned := 0
	for page := 1; page <= e.opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return e.interrupted(stage, lastFound, err)
		}

		stage = models.StageScan
		found, err := e.scan(step, s, keyword)
		scanned++
		if !found && (err != nil || !e.usable(s)) {
			return e.failure(step, s, stage, err)
		}

		if found {
			lastFound = page
			log.Info("keyword found", zap.Int("page", page))

			stage = models.StageClick
			clicked, err := e.click(ctx, s, keyword)
			if clicked {
				return models.FoundAndClicked(page)
			}
			if !e.alive(step, s) {
				return models.SessionDied(stage)
			}
			log.Warn("could not click matching result, continuing", zap.Int("page", page), zap.Error(err))
		}

		if page == e.opts.MaxPages {
			break
		}
		if err := ctx.Err(); err != nil {
			return e.interrupted(stage, lastFound, err)
		}

		stage = models.StagePaginate
		if !e.paginate(step, s, log) {
			if !e.alive(step, s) {
				return models.SessionDied(stage)
			}
			log.Info("no further result pages", zap.Int("page", page))
			break
		}
	}

	if lastFound > 0 {
		return models.Found(lastFound)
	}
	return models.NotFound(scanned)
}

// paginate advances, reloading the page between attempts when the control
// could not be used.
func (e *Engine) paginate(ctx context.Context, s *session.Session, log *zap.Logger) bool {
	for attempt := 0; ; attempt++ {
		ok, err := e.advance(ctx, s)
		if ok {
			return true
		}
		if err != nil {
			log.Debug("pagination failed", zap.Int("attempt", attempt+1), zap.Error(err))
		}
		if attempt >= e.opts.PaginateRetries || !e.usable(s) {
			return false
		}

		url, uerr := s.Driver().CurrentURL(ctx)
		if uerr != nil || s.Driver().Navigate(ctx, url) != nil {
			return false
		}
		e.waitForResults(ctx, s.Driver(), e.opts.PageTimeout)
	}
}

// failure classifies a failed step: a gone session is SessionDied, a live
// one an Error.
func (e *Engine) failure(ctx context.Context, s *session.Session, stage models.Stage, err error) models.AttemptResult {
	if !e.alive(ctx, s) {
		return models.SessionDied(stage)
	}
	if err == nil {
		err = errors.New("page did not load")
	}
	return models.Error(stage, "%v", err)
}

func (e *Engine) interrupted(stage models.Stage, lastFound int, err error) models.AttemptResult {
	if lastFound > 0 {
		return models.Found(lastFound)
	}
	return models.Error(stage, "interrupted: %v", err)
}

// usable reports whether s is still Open without probing the driver.
func (e *Engine) usable(s *session.Session) bool {
	return s.Status() == models.StatusOpen
}

func (e *Engine) alive(ctx context.Context, s *session.Session) bool {
	return e.usable(s) && e.sessions.IsAlive(ctx, s)
}

// challenged checks for a challenge page and aborts the session on one.
func (e *Engine) challenged(ctx context.Context, s *session.Session) bool {
	if !e.guard.IsChallenge(ctx, s) {
		return false
	}
	e.guard.Handle(ctx, s)
	return true
}

func (e *Engine) waitForResults(ctx context.Context, drv browser.Driver, timeout time.Duration) bool {
	return drv.WaitUntil(ctx, func(ctx context.Context) bool {
		els, err := drv.Find(ctx, e.profile.ResultContainer)
		return err == nil && len(els) > 0
	}, timeout)
}

func (e *Engine) search(ctx context.Context, s *session.Session, term string) (bool, error) {
	drv := s.Driver()
	target := e.profile.SearchFor(term)

	if err := drv.Navigate(ctx, target); err != nil {
		return false, fmt.Errorf("failed to load search page: %w", err)
	}
	s.SetURL(target)

	if e.challenged(ctx, s) {
		return false, nil
	}

	if !e.waitForResults(ctx, drv, e.opts.ResultTimeout) {
		// Some challenges render only after the wait
		if e.challenged(ctx, s) {
			return false, nil
		}
		return false, fmt.Errorf("results did not appear within %s", e.opts.ResultTimeout)
	}

	return true, nil
}

func (e *Engine) scan(ctx context.Context, s *session.Session, keyword string) (bool, error) {
	if e.challenged(ctx, s) {
		return false, nil
	}

	html, err := s.Driver().Content(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read page: %w", err)
	}

	text, err := pagetext.Visible(html)
	if err != nil {
		return false, fmt.Errorf("failed to parse page: %w", err)
	}

	return e.matcher.Contains(text, keyword), nil
}

func (e *Engine) click(ctx context.Context, s *session.Session, keyword string) (bool, error) {
	step := context.WithoutCancel(ctx)
	drv := s.Driver()

	if e.challenged(step, s) {
		return false, nil
	}

	match, err := e.findResult(step, drv, keyword)
	if err != nil || match == nil {
		return false, err
	}

	origin := drv.CurrentWindow()
	before, err := drv.WindowHandles(step)
	if err != nil {
		return false, fmt.Errorf("failed to list windows: %w", err)
	}

	opened, err := e.activate(step, drv, match, before)
	if err != nil {
		return false, err
	}

	if err := drv.SwitchWindow(step, opened); err != nil {
		if cerr := drv.CloseWindow(step, opened); cerr != nil {
			e.logger.Debug("failed to close result window", zap.Error(cerr))
		}
		return false, fmt.Errorf("failed to switch to result window: %w", err)
	}

	if url, err := drv.CurrentURL(step); err == nil {
		s.SetURL(url)
	}

	dwell := pacing.Dwell{
		Duration: e.opts.Dwell,
		Steps:    e.opts.DwellSteps,
		OnStep: func(ctx context.Context, i int) {
			e.logger.Debug("dwelling on result", zap.Int("step", i+1))
		},
	}
	if err := dwell.Do(ctx); err != nil {
		e.logger.Debug("dwell interrupted", zap.Error(err))
	}

	// Restore the results window even when cancelled
	if err := drv.CloseWindow(step, opened); err != nil {
		e.logger.Warn("failed to close result window", zap.Error(err))
	}
	if err := drv.SwitchWindow(step, origin); err != nil {
		return false, fmt.Errorf("failed to return to results: %w", err)
	}

	return true, nil
}

// findResult returns the first result link whose text contains keyword.
func (e *Engine) findResult(ctx context.Context, drv browser.Driver, keyword string) (browser.Element, error) {
	links, err := drv.Find(ctx, e.profile.ResultLinks)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	for _, link := range links {
		text, err := link.Text(ctx)
		if err != nil || !e.matcher.Contains(text, keyword) {
			continue
		}
		if visible, err := link.Visible(ctx); err != nil || !visible {
			continue
		}
		return link, nil
	}
	return nil, nil
}

type activation struct {
	name string
	run  func(ctx context.Context, drv browser.Driver, el browser.Element) error
}

var activations = []activation{
	{
		name: "native",
		run: func(ctx context.Context, drv browser.Driver, el browser.Element) error {
			return drv.Click(ctx, el)
		},
	},
	{
		name: "script",
		run: func(ctx context.Context, drv browser.Driver, el browser.Element) error {
			_, err := drv.ExecuteScript(ctx, "el => el.click()", el)
			return err
		},
	},
}

// activate clicks el until a new window appears and returns its handle.
func (e *Engine) activate(ctx context.Context, drv browser.Driver, el browser.Element, before []string) (string, error) {
	if _, err := drv.ExecuteScript(ctx, "el => el.setAttribute('target', '_blank')", el); err != nil {
		e.logger.Debug("could not retarget result link", zap.Error(err))
	}

	known := make(map[string]bool, len(before))
	for _, h := range before {
		known[h] = true
	}

	var lastErr error
	for _, a := range activations {
		if err := a.run(ctx, drv, el); err != nil {
			e.logger.Debug("activation failed", zap.String("strategy", a.name), zap.Error(err))
			lastErr = err
			continue
		}

		var opened string
		appeared := drv.WaitUntil(ctx, func(ctx context.Context) bool {
			handles, err := drv.WindowHandles(ctx)
			if err != nil {
				return false
			}
			for _, h := range handles {
				if !known[h] {
					opened = h
					return true
				}
			}
			return false
		}, e.opts.WindowTimeout)
		if appeared {
			return opened, nil
		}
		lastErr = fmt.Errorf("no window opened after %s click", a.name)
	}

	if lastErr == nil {
		lastErr = errors.New("no activation strategy")
	}
	return "", fmt.Errorf("failed to open result: %w", lastErr)
}

func (e *Engine) findNext(ctx context.Context, drv browser.Driver) (browser.Element, Locator, bool) {
	for _, loc := range e.profile.NextPage {
		els, err := drv.Find(ctx, loc.Selector)
		if err != nil {
			continue
		}
		for _, el := range els {
			visible, err := el.Visible(ctx)
			if err != nil || !visible {
				continue
			}
			enabled, err := el.Enabled(ctx)
			if err != nil || !enabled {
				continue
			}
			return el, loc, true
		}
	}
	return nil, Locator{}, false
}

func (e *Engine) advance(ctx context.Context, s *session.Session) (bool, error) {
	drv := s.Driver()

	if e.challenged(ctx, s) {
		return false, nil
	}

	before, err := drv.CurrentURL(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read address: %w", err)
	}

	control, loc, ok := e.findNext(ctx, drv)
	if !ok {
		return false, nil
	}

	if err := drv.Click(ctx, control); err != nil {
		return false, fmt.Errorf("failed to click next page (%s): %w", loc.Strategy, err)
	}

	// Advanced once the old control went stale or the address changed
	moved := drv.WaitUntil(ctx, func(ctx context.Context) bool {
		url, err := drv.CurrentURL(ctx)
		if err != nil {
			return false
		}
		if url != before {
			return true
		}
		attached, err := control.Attached(ctx)
		return err != nil || !attached
	}, e.opts.PageTimeout)
	if !moved {
		return false, fmt.Errorf("page did not change after clicking %s", loc.Selector)
	}

	if !e.waitForResults(ctx, drv, e.opts.PageTimeout) {
		if e.challenged(ctx, s) {
			return false, nil
		}
		return false, errors.New("next page has no results")
	}

	if url, err := drv.CurrentURL(ctx); err == nil {
		s.SetURL(url)
	}
	return true, nil
}
