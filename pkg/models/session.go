package models

import "time"

// SessionStatus represents the lifecycle state of a browser session
type SessionStatus string

const (
	StatusUninitialized SessionStatus = "UNINITIALIZED"
	StatusOpen          SessionStatus = "OPEN"
	StatusClosed        SessionStatus = "CLOSED"
	StatusDead          SessionStatus = "DEAD"
)

// SessionInfo is a read-only view of the live session
type SessionInfo struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	Proxy       string        `json:"proxy,omitempty"`
	OpenedAt    time.Time     `json:"openedAt"`
	CurrentURL  string        `json:"currentUrl,omitempty"`
	DevtoolsURL string        `json:"-"`
}
