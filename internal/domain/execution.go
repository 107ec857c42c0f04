package domain

import "time"

// MessageTypeError tags event messages raised as errors by the catalog.
const MessageTypeError = 120

// PipelineRun is one catalog execution of a named pipeline.
type PipelineRun struct {
	ID           int64
	PipelineName string
	FolderName   string
	ProjectName  string
	Status       int
	StartTime    time.Time
	EndTime      *time.Time
	Operator     *string
}

// Finished reports whether the run recorded an end time.
func (r PipelineRun) Finished() bool {
	return r.EndTime != nil
}

// DurationSeconds returns whole seconds between start and end. The second
// return value is false while the run has no end time.
func (r PipelineRun) DurationSeconds() (int64, bool) {
	if r.EndTime == nil {
		return 0, false
	}
	return int64(r.EndTime.Sub(r.StartTime) / time.Second), true
}

// EventMessage is a message logged against a run. PipelineName is filled from
// the owning run when the store joins the two.
type EventMessage struct {
	ID           int64
	RunID        int64
	PipelineName string
	Time         time.Time
	Type         int
	Text         *string
}
