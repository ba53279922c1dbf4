// Package ledger accumulates attempt outcomes keyed by "search term -> keyword".
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

// Key builds the ledger key for a term/keyword pair.
func Key(term, keyword string) string {
	return term + " -> " + keyword
}

// Entry is the latest outcome recorded for one pair.
type Entry struct {
	Task        int                  `json:"task"`
	PrimaryTerm string               `json:"primaryTerm"`
	Term        string               `json:"term"`
	Keyword     string               `json:"keyword"`
	Result      models.AttemptResult `json:"result"`
	Status      string               `json:"status"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// Group collects the entries that came from one input task.
type Group struct {
	Task        int     `json:"task"`
	PrimaryTerm string  `json:"primaryTerm"`
	Entries     []Entry `json:"entries"`
}

// member places a pair in the summary of one task.
type member struct {
	task    int
	primary string
	key     string
}

// Ledger is safe for concurrent readers; the orchestrator is its only writer.
// A pair has one result, but is listed under every task that searched it.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	members []member
	joined  map[member]bool
	now     func() time.Time
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		entries: make(map[string]*Entry),
		joined:  make(map[member]bool),
		now:     time.Now,
	}
}

// Record stores r for the term/keyword pair unless the pair already holds a
// final result, and lists the pair under task. It reports whether the
// result was written.
func (l *Ledger) Record(task models.SearchTask, taskIndex int, term, keyword string, r models.AttemptResult) bool {
	key := Key(term, keyword)

	l.mu.Lock()
	defer l.mu.Unlock()

	m := member{task: taskIndex, primary: task.PrimaryTerm, key: key}
	if !l.joined[m] {
		l.joined[m] = true
		l.members = append(l.members, m)
	}

	entry, exists := l.entries[key]
	if exists && entry.Result.Final() {
		return false
	}

	if !exists {
		entry = &Entry{
			Task:        taskIndex,
			PrimaryTerm: task.PrimaryTerm,
			Term:        term,
			Keyword:     keyword,
		}
		l.entries[key] = entry
	}

	entry.Result = r
	entry.Status = r.String()
	entry.UpdatedAt = l.now()
	return true
}

// Get returns the latest result for a pair.
func (l *Ledger) Get(term, keyword string) (models.AttemptResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[Key(term, keyword)]
	if !ok {
		return models.AttemptResult{}, false
	}
	return entry.Result, true
}

// Len returns the number of distinct pairs
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot returns key -> status string for every pair.
func (l *Ledger) Snapshot() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]string, len(l.entries))
	for key, entry := range l.entries {
		out[key] = entry.Status
	}
	return out
}

// Groups returns entries grouped by originating task, tasks in input order
// and entries in the order the task first recorded them. A pair shared by
// several tasks appears in each of their groups.
func (l *Ledger) Groups() []Group {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byTask := make(map[int]*Group)
	for _, m := range l.members {
		group, ok := byTask[m.task]
		if !ok {
			group = &Group{Task: m.task, PrimaryTerm: m.primary}
			byTask[m.task] = group
		}
		entry := *l.entries[m.key]
		entry.Task = m.task
		entry.PrimaryTerm = m.primary
		group.Entries = append(group.Entries, entry)
	}

	groups := make([]Group, 0, len(byTask))
	for _, group := range byTask {
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Task < groups[j].Task
	})

	return groups
}
