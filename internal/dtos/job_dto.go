package dtos

import "github.com/justsurfingit/inbox-job-tracker/internal/models"

type JobExtractionRequest struct {
	URL string `json:"url" binding:"required"`
}

// JobExtractionResponse is always a draft: the client shows it for review
// and saves it with POST /jobs.
type JobExtractionResponse struct {
	Job models.Job `json:"job"`
}

type JobImportRequest struct {
	Jobs []models.Job `json:"jobs" binding:"required"`
}

type JobImportResponse struct {
	Added int `json:"added"`
}

type JobStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type JobListResponse struct {
	Jobs []models.Job `json:"jobs"`
}

type JobResponse struct {
	Success bool        `json:"success"`
	Job     *models.Job `json:"job,omitempty"`
}

type JobEventsResponse struct {
	Events []models.JobEvent `json:"events"`
}
