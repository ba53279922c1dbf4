// Package search runs one search and walks its result pages looking for a
// keyword, clicking through when it is found.
package search

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Locator is one way of finding an element. Strategy only labels the
// locator in logs; Selector is what gets queried.
type Locator struct {
	Strategy string
	Selector string
}

// Profile describes a search site as data.
type Profile struct {
	Name string
	// SearchURL has one %s verb for the escaped query.
	SearchURL string
	// ResultContainer must be present for a results page to count as loaded.
	ResultContainer string
	// ResultLinks are the clickable entries of a results page.
	ResultLinks string
	// NextPage is tried in order until one yields a visible, enabled control.
	NextPage []Locator
}

// SearchFor returns the address that searches for term
func (p Profile) SearchFor(term string) string {
	return fmt.Sprintf(p.SearchURL, url.QueryEscape(term))
}

// DefaultProfile is used when a profile name is unknown.
const DefaultProfile = "google"

var profiles = map[string]Profile{
	"google": {
		Name:            "google",
		SearchURL:       "https://www.google.com/search?q=%s",
		ResultContainer: "#search",
		ResultLinks:     "#search a:has(h3)",
		NextPage: []Locator{
			{Strategy: "id", Selector: "#pnnext"},
			{Strategy: "aria", Selector: `a[aria-label="Next page"]`},
			{Strategy: "aria", Selector: `a[aria-label="下一頁"]`},
			{Strategy: "text", Selector: `a:text-is("Next")`},
			{Strategy: "text", Selector: `a:text-is("下一頁")`},
			{Strategy: "class", Selector: "td.d6cvqb a[id]"},
		},
	},
	"bing": {
		Name:            "bing",
		SearchURL:       "https://www.bing.com/search?q=%s",
		ResultContainer: "#b_results",
		ResultLinks:     "#b_results li.b_algo h2 a",
		NextPage: []Locator{
			{Strategy: "aria", Selector: `a[aria-label="Next page"]`},
			{Strategy: "aria", Selector: `a[aria-label="下一頁"]`},
			{Strategy: "class", Selector: "a.sb_pagN"},
		},
	},
}

// LookupProfile returns the named profile. Unknown names fall back to the
// default profile and report false.
func LookupProfile(name string) (Profile, bool) {
	if p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p, true
	}
	return profiles[DefaultProfile], false
}

// ProfileNames lists the known profiles
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
