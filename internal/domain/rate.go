package domain

import "time"

// RateBudget is the request budget reported by the GitHub API
type RateBudget struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
	Known     bool      `json:"known"` // false until the first response carrying rate headers
}
