package models

import "time"

// ProxyRecord tracks the health of one egress address.
type ProxyRecord struct {
	Address      string    `json:"address"`
	FailureCount uint      `json:"failureCount"`
	LastUsed     time.Time `json:"lastUsed"`
}

// ProxyStats summarizes a proxy pool
type ProxyStats struct {
	Total      int  `json:"total"`
	Exhausted  int  `json:"exhausted"`
	FailureSum uint `json:"failureSum"`
}
