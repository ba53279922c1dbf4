package models

import "fmt"

// AttemptKind tags the outcome of one (search term, keyword) attempt.
type AttemptKind string

const (
	KindFound           AttemptKind = "FOUND"
	KindFoundAndClicked AttemptKind = "FOUND_AND_CLICKED"
	KindNotFound        AttemptKind = "NOT_FOUND"
	KindSessionDied     AttemptKind = "SESSION_DIED"
	KindError           AttemptKind = "ERROR"
)

// Stage names the engine step an attempt was in when it stopped.
type Stage string

const (
	StageOpen     Stage = "open"
	StageSearch   Stage = "search"
	StageScan     Stage = "scan"
	StageClick    Stage = "click"
	StagePaginate Stage = "paginate"
)

// AttemptResult is the tagged outcome of one attempt. Only the fields that
// belong to Kind are meaningful.
type AttemptResult struct {
	Kind         AttemptKind `json:"kind"`
	Page         int         `json:"page,omitempty"`
	PagesScanned int         `json:"pagesScanned,omitempty"`
	Stage        Stage       `json:"stage,omitempty"`
	Message      string      `json:"message,omitempty"`

	// Abandoned is set by the orchestrator when it gives up on the term.
	Abandoned bool `json:"abandoned,omitempty"`
	Retries   int  `json:"retries,omitempty"`
}

// Found reports the keyword on page without a click-through.
func Found(page int) AttemptResult {
	return AttemptResult{Kind: KindFound, Page: page}
}

// FoundAndClicked reports the keyword on page with a completed click-through.
func FoundAndClicked(page int) AttemptResult {
	return AttemptResult{Kind: KindFoundAndClicked, Page: page}
}

// NotFound reports that pagesScanned pages were scanned without a match.
func NotFound(pagesScanned int) AttemptResult {
	return AttemptResult{Kind: KindNotFound, PagesScanned: pagesScanned}
}

// SessionDied reports that the session was lost during stage.
func SessionDied(stage Stage) AttemptResult {
	return AttemptResult{Kind: KindSessionDied, Stage: stage}
}

// Error reports a failure that is not a lost session.
func Error(stage Stage, format string, args ...interface{}) AttemptResult {
	return AttemptResult{Kind: KindError, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// Final reports whether the result is terminal. Final results are never
// overwritten in the ledger.
func (r AttemptResult) Final() bool {
	switch r.Kind {
	case KindFound, KindFoundAndClicked, KindNotFound:
		return true
	}
	return false
}

// Exhausted marks a provisional result as abandoned after retries.
func (r AttemptResult) Exhausted(retries int) AttemptResult {
	r.Abandoned = true
	r.Retries = retries
	return r
}

// String renders the human-readable status used in summaries.
func (r AttemptResult) String() string {
	var s string
	switch r.Kind {
	case KindFound:
		s = fmt.Sprintf("found on page %d", r.Page)
	case KindFoundAndClicked:
		s = fmt.Sprintf("found and clicked on page %d", r.Page)
	case KindNotFound:
		s = fmt.Sprintf("not found within %d pages", r.PagesScanned)
	case KindSessionDied:
		s = fmt.Sprintf("session died during %s", r.Stage)
	case KindError:
		s = fmt.Sprintf("error during %s: %s", r.Stage, r.Message)
	default:
		s = string(r.Kind)
	}

	if r.Abandoned {
		return fmt.Sprintf("failed after %d retries (%s)", r.Retries, s)
	}
	return s
}
