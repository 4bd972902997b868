package dto

type SubmitAnalysisRequest struct {
	URL      string         `json:"url" binding:"required"`
	Metadata map[string]any `json:"metadata"`
}

type SubmitAnalysisResponse struct {
	JobID        string `json:"jobId"`
	State        string `json:"state"`
	Deduplicated bool   `json:"deduplicated"`
}

type AnalysisStatusResponse struct {
	JobID       string         `json:"jobId"`
	State       string         `json:"state"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"maxAttempts"`
	Result      map[string]any `json:"result,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
	CreatedAt   string         `json:"createdAt"`
	UpdatedAt   string         `json:"updatedAt"`
}

type CancelAnalysisResponse struct {
	JobID string `json:"jobId"`
	State string `json:"state"`
}

type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

type ListDeadLettersRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListDeadLettersResponse struct {
	Jobs       []DeadLetterDTO `json:"jobs"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

type DeadLetterDTO struct {
	JobID     string `json:"jobId"`
	URL       string `json:"url"`
	Attempt   int    `json:"attempt"`
	LastError string `json:"lastError"`
	UpdatedAt string `json:"updatedAt"`
}
