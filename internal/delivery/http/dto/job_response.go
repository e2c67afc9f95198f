package dto

import (
	"time"

	"github.com/google/uuid"
)

// Outcome names returned in JobActionResponse.Result.
const (
	ResultAccepted       = "accepted"
	ResultAlreadyRunning = "already_running"
	ResultInvalidFile    = "invalid_file"
	ResultStopping       = "stopping"
	ResultNotRunning     = "not_running"
	ResultStarted        = "started"
	ResultNoErrors       = "no_errors"
)

type StartJobRequest struct {
	File string `json:"file"`
}

type JobRunResponse struct {
	RunID      string         `json:"run_id"`
	Source     string         `json:"source"`
	File       string         `json:"file,omitempty"`
	Items      int            `json:"items"`
	Retry      bool           `json:"retry"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Summary    *RunSummaryDTO `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type RunSummaryDTO struct {
	Loaded    int     `json:"loaded"`
	Inserted  int64   `json:"inserted"`
	Recovered int64   `json:"recovered"`
	Eligible  int     `json:"eligible"`
	Batches   int     `json:"batches"`
	Processed int     `json:"processed_batches"`
	Failed    int     `json:"failed_batches"`
	Cancelled bool    `json:"cancelled"`
	Seconds   float64 `json:"duration_seconds"`
}

type JobActionResponse struct {
	Result string          `json:"result"`
	Source string          `json:"source"`
	Run    *JobRunResponse `json:"run,omitempty"`
}

type JobStatusResponse struct {
	Source          string          `json:"source"`
	Running         bool            `json:"running"`
	Counts          map[string]int  `json:"counts"`
	Total           int             `json:"total"`
	Completed       int             `json:"completed"`
	Pending         int             `json:"pending"`
	Processing      int             `json:"processing"`
	Errors          int             `json:"errors"`
	CCURecords      int64           `json:"ccu_records"`
	PriceRecords    int64           `json:"price_records"`
	ProgressPercent float64         `json:"progress_percent"`
	Run             *JobRunResponse `json:"run,omitempty"`
}

type ErrorLogEntry struct {
	ID        uuid.UUID `json:"id"`
	ItemID    int64     `json:"item_id"`
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ErrorLogResponse struct {
	Source string          `json:"source"`
	Count  int             `json:"count"`
	Items  []ErrorLogEntry `json:"items"`
}

type HealthResponse struct {
	Database   bool      `json:"database"`
	Redis      bool      `json:"redis"`
	WSClients  int       `json:"ws_clients"`
	ServerTime time.Time `json:"server_time"`
}
