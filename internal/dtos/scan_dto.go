package dtos

import "github.com/justsurfingit/inbox-job-tracker/internal/models"

// Scan outcomes reported to the client.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeNoMatches = "no_matches"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

type ScanRequest struct {
	Days     int      `json:"days"`
	Limit    int      `json:"limit"`
	Keywords []string `json:"keywords"`
	UseAI    bool     `json:"useAI"`
}

type ScanResponse struct {
	State     string       `json:"state"`
	Outcome   string       `json:"outcome"`
	Jobs      []models.Job `json:"jobs"`
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Message   string       `json:"message,omitempty"`
}

type ScanCancelResponse struct {
	Cancelled bool `json:"cancelled"`
}
