package output

// PipelineEvent is a JSON-lines progress event emitted by `marketpipe run -o json`.
type PipelineEvent struct {
	Event      string `json:"event"` // run_start, step_start, step_complete, run_complete
	RunID      string `json:"run_id"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	Rows       int64  `json:"rows,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	TotalSteps int    `json:"total_steps,omitempty"`
	Successful int    `json:"successful,omitempty"`
	Failed     int    `json:"failed,omitempty"`
	TotalMS    int64  `json:"total_ms,omitempty"`
	Timestamp  string `json:"timestamp"`
}
