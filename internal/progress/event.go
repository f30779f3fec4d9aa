// Package progress carries per-job progress events from the pipeline to
// any number of subscribers over a watermill in-process pub/sub.
package progress

import (
	"time"
)

// Kind is the type of a progress event.
type Kind string

const (
	KindStageStarted   Kind = "stage_started"
	KindStageCompleted Kind = "stage_completed"
	KindToolStarted    Kind = "tool_started"
	KindToolFinished   Kind = "tool_finished"
	// KindJobFinished is the terminal event of every job stream.
	KindJobFinished Kind = "job_finished"
)

// Event is one progress notification. Seq is assigned by the Bus and
// increases by one per event of a job.
type Event struct {
	JobID  string         `json:"job_id"`
	Seq    int64          `json:"seq"`
	Kind   Kind           `json:"kind"`
	Stage  string         `json:"stage,omitempty"`
	Status string         `json:"status,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
	At     time.Time      `json:"at"`
}

// Terminal reports whether e ends its job's stream.
func (e Event) Terminal() bool {
	return e.Kind == KindJobFinished
}

// Sink receives the events of one job.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})
