package dto

type ListFailedJobsRequest struct {
	Queue    string `form:"queue"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListFailedJobsResponse struct {
	FailedJobs []FailedJobDTO `json:"failed_jobs"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type FailedJobDTO struct {
	ID        string `json:"id"`
	Queue     string `json:"queue"`
	MessageID string `json:"message_id"`
	Payload   string `json:"payload"`
	Exception string `json:"exception"`
	Reason    string `json:"reason"`
	Attempts  int64  `json:"attempts"`
	FailedAt  string `json:"failed_at"`
}

type RetryFailedJobResponse struct {
	ID      string `json:"id"`
	Queue   string `json:"queue"`
	Command string `json:"command"`
}
