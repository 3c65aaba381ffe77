package dto

import "time"

// ExportJobResponse describes an asynchronous export job.
type ExportJobResponse struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	Format      string     `json:"format"`
	DownloadURL string     `json:"download_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}
