// Package challenge recognizes anti-bot interstitials and recovers from
// them by discarding the session.
package challenge

import (
	"context"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/internal/browser"
	"github.com/shehryarbajwa/serpwatch/internal/pagetext"
)

// DefaultMarkers are structural selectors only present on challenge pages.
var DefaultMarkers = []string{
	`iframe[src*="recaptcha"]`,
	`div.g-recaptcha`,
	`#g-recaptcha-response`,
	`form#captcha-form`,
}

// DefaultPhrases appear in the visible text of challenge pages.
var DefaultPhrases = []string{
	"unusual traffic",
	"prove you're not a robot",
	"prove you are not a robot",
	"請證明這不是自動操作",
	"異常流量",
	"我們的系統偵測到",
	"异常流量",
}

// DefaultURLPatterns match addresses challenge pages are served from.
var DefaultURLPatterns = []string{
	"*://*/sorry/*",
	"*://*/sorry",
}

// Detector inspects the current page for challenge indicators.
type Detector struct {
	markers  []string
	phrases  []string
	patterns []glob.Glob
	matcher  *pagetext.Matcher
	logger   *zap.Logger
}

// NewDetector compiles urlPatterns and returns a detector. Empty arguments
// fall back to the defaults.
func NewDetector(markers, phrases, urlPatterns []string, logger *zap.Logger) (*Detector, error) {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	if len(urlPatterns) == 0 {
		urlPatterns = DefaultURLPatterns
	}

	patterns := make([]glob.Glob, 0, len(urlPatterns))
	for _, p := range urlPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, g)
	}

	return &Detector{
		markers:  markers,
		phrases:  phrases,
		patterns: patterns,
		matcher:  pagetext.NewMatcher(),
		logger:   logger.With(zap.String("component", "challenge")),
	}, nil
}

// Detect reports whether the driver's current page is a challenge. Lookup
// failures count as "no challenge".
func (d *Detector) Detect(ctx context.Context, drv browser.Driver) (detected bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("challenge check panicked", zap.Any("panic", r))
			detected = false
		}
	}()

	url, err := drv.CurrentURL(ctx)
	if err != nil {
		d.logger.Debug("challenge check: url lookup failed", zap.Error(err))
		return false
	}
	for _, g := range d.patterns {
		if g.Match(url) {
			d.logger.Warn("challenge detected", zap.String("url", url), zap.String("by", "url"))
			return true
		}
	}

	for _, selector := range d.markers {
		els, err := drv.Find(ctx, selector)
		if err != nil {
			d.logger.Debug("challenge check: marker lookup failed", zap.String("selector", selector), zap.Error(err))
			continue
		}
		if len(els) > 0 {
			d.logger.Warn("challenge detected", zap.String("url", url), zap.String("by", selector))
			return true
		}
	}

	html, err := drv.Content(ctx)
	if err != nil {
		d.logger.Debug("challenge check: content lookup failed", zap.Error(err))
		return false
	}
	text, err := pagetext.Visible(html)
	if err != nil {
		return false
	}
	if phrase, ok := d.matcher.ContainsAny(text, d.phrases); ok {
		d.logger.Warn("challenge detected", zap.String("url", url), zap.String("by", phrase))
		return true
	}

	return false
}
