package domain

import "time"

// NotAvailable stands in for text that the store did not return.
const NotAvailable = "N/A"

// Outcomes reported for the latest known run of a pipeline.
const (
	OutcomeSuccess = "Success"
	OutcomeFailed  = "Failed"
	OutcomeUnknown = "Unknown"
)

// ExecutionMetrics rolls up run outcomes over a window.
type ExecutionMetrics struct {
	TotalExecutions      int     `json:"total_executions"`
	SuccessfulExecutions int     `json:"successful_executions"`
	FailedExecutions     int     `json:"failed_executions"`
	SuccessRate          float64 `json:"success_rate"`
	AvgDurationSeconds   int64   `json:"avg_duration_seconds"`
}

// ExecutionTrend aggregates the runs started on one calendar date.
type ExecutionTrend struct {
	Date               string `json:"date"`
	Succeeded          int    `json:"succeeded"`
	Failed             int    `json:"failed"`
	AvgDurationSeconds int64  `json:"avg_duration_seconds"`
}

// ErrorLog is an error message raised by a failed run.
type ErrorLog struct {
	ExecutionID  int64     `json:"execution_id"`
	PipelineName string    `json:"pipeline_name"`
	ErrorTime    time.Time `json:"error_time"`
	ErrorCode    int64     `json:"error_code"`
	Message      string    `json:"message"`
}

// ExecutionSummary is a single run shaped for listings.
type ExecutionSummary struct {
	ExecutionID     int64        `json:"execution_id"`
	PipelineName    string       `json:"pipeline_name"`
	FolderName      string       `json:"folder_name"`
	ProjectName     string       `json:"project_name"`
	BusinessUnit    BusinessUnit `json:"business_unit"`
	Status          string       `json:"status"`
	StartTime       time.Time    `json:"start_time"`
	EndTime         *time.Time   `json:"end_time,omitempty"`
	DurationSeconds int64        `json:"duration_seconds"`
}

// PackagePerformance holds per-pipeline statistics for a window.
type PackagePerformance struct {
	PipelineName         string     `json:"pipeline_name"`
	TotalExecutions      int        `json:"total_executions"`
	SuccessfulExecutions int        `json:"successful_executions"`
	FailedExecutions     int        `json:"failed_executions"`
	SuccessRate          float64    `json:"success_rate"`
	AvgDurationSeconds   int64      `json:"avg_duration_seconds"`
	MinDurationSeconds   int64      `json:"min_duration_seconds"`
	MaxDurationSeconds   int64      `json:"max_duration_seconds"`
	LastExecutionTime    *time.Time `json:"last_execution_time,omitempty"`
	LastExecutionStatus  string     `json:"last_execution_status"`
}

// FailurePattern summarises the failures of one pipeline in a window.
type FailurePattern struct {
	PipelineName        string     `json:"pipeline_name"`
	FailureCount        int        `json:"failure_count"`
	RepresentativeError string     `json:"representative_error"`
	LastFailureTime     *time.Time `json:"last_failure_time,omitempty"`
	FailureRate         float64    `json:"failure_rate"`
}

// TimelineEntry is one recent run, coloured for display.
type TimelineEntry struct {
	ExecutionID     int64       `json:"execution_id"`
	PipelineName    string      `json:"pipeline_name"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         *time.Time  `json:"end_time,omitempty"`
	DurationMinutes int64       `json:"duration_minutes"`
	Status          string      `json:"status"`
	StatusColor     StatusColor `json:"status_color"`
}

// CurrentExecution is a run that has not reached a terminal status.
type CurrentExecution struct {
	ExecutionID    int64     `json:"execution_id"`
	PipelineName   string    `json:"pipeline_name"`
	StartTime      time.Time `json:"start_time"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
	StatusCode     int       `json:"status_code"`
	StatusLabel    string    `json:"status_label"`
	ExecutedBy     string    `json:"executed_by"`
	IsLongRunning  bool      `json:"is_long_running"`
}
