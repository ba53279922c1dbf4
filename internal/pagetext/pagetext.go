// Package pagetext extracts and matches the visible text of a page.
package pagetext

import (
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/language"
	"golang.org/x/text/search"
)

// Visible returns the whitespace-collapsed text a reader would see in html.
func Visible(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript, template").Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	return strings.Join(strings.Fields(body.Text()), " "), nil
}

// Matcher performs case-insensitive substring matching across scripts.
type Matcher struct {
	mu sync.Mutex
	m  *search.Matcher
}

// NewMatcher creates a matcher that ignores case and width
func NewMatcher() *Matcher {
	return &Matcher{m: search.New(language.Und, search.IgnoreCase, search.IgnoreWidth)}
}

// Contains reports whether text contains pattern.
func (m *Matcher) Contains(text, pattern string) bool {
	if pattern == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start, _ := m.m.IndexString(text, pattern)
	return start >= 0
}

// ContainsAny returns the first pattern found in text.
func (m *Matcher) ContainsAny(text string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if m.Contains(text, p) {
			return p, true
		}
	}
	return "", false
}
