package schemas

import (
	"time"
)

// JobStatus is the lifecycle state of a job. A job starts PENDING, moves to
// RUNNING when a worker picks it up, and ends in exactly one terminal state.
type JobStatus string

const (
	JobStatusPending         JobStatus = "pending"
	JobStatusRunning         JobStatus = "running"
	JobStatusSuccess         JobStatus = "success"
	JobStatusFailed          JobStatus = "failed"
	JobStatusMaxStepsReached JobStatus = "max_steps_reached"
	JobStatusSafetyViolation JobStatus = "safety_violation"
)

// Terminal reports whether the status is one of the four end states.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailed, JobStatusMaxStepsReached, JobStatusSafetyViolation:
		return true
	}
	return false
}

// StepMode describes what kind of step was executed.
type StepMode string

const (
	// StepModeToolCall is a browser tool invocation (click, fill, press key).
	StepModeToolCall StepMode = "tool_call"
	// StepModeDOMNavigate is a page navigation.
	StepModeDOMNavigate StepMode = "dom_navigate"
	// StepModeFinalAnswer is the planner's terminal answer.
	StepModeFinalAnswer StepMode = "final_answer"
	// StepModeErrorRecovery marks a step whose action was rewritten by the
	// self-healing machinery before it (eventually) ran.
	StepModeErrorRecovery StepMode = "error_recovery"
)

// Job is one natural-language task to run against the browser.
type Job struct {
	ID       string `json:"id"`
	Task     string `json:"task"`      // what the user asked for, in plain language
	StartURL string `json:"start_url"` // initial navigation target, may be empty
	// Query is the search intent forwarded to alternative data sources when
	// the primary site is blocked. Defaults to Task when empty.
	Query    string `json:"query,omitempty"`
	MaxSteps int    `json:"max_steps"`
	// AllowedDomains, when non-empty, restricts navigation targets. A
	// navigation outside the list terminates the job with
	// JobStatusSafetyViolation.
	AllowedDomains []string `json:"allowed_domains,omitempty"`
}

// StepResult records the outcome of a single worker-loop iteration. Steps are
// appended to the owning JobResult in execution order and never reordered.
type StepResult struct {
	StepNumber  int       `json:"step_number"`
	Mode        StepMode  `json:"mode"`
	ToolName    string    `json:"tool_name,omitempty"`
	Action      string    `json:"action,omitempty"`
	Success     bool      `json:"success"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ContextSize int       `json:"context_size"`
	RetryCount  int       `json:"retry_count"`
}

// SharedState is the cross-step scratchpad owned by exactly one running job.
// ExtractedData is merged key-by-key, never replaced wholesale, and History
// is append-only.
type SharedState struct {
	CurrentURL    string            `json:"current_url"`
	PageTitle     string            `json:"page_title"`
	LastAction    string            `json:"last_action"`
	ExtractedData map[string]string `json:"extracted_data"`
	History       []string          `json:"history"`
}

// NewSharedState returns an empty state ready for merging.
func NewSharedState() *SharedState {
	return &SharedState{ExtractedData: make(map[string]string)}
}

// MergeExtracted folds new key/value pairs into ExtractedData. Existing keys
// are overwritten by newer values; absent keys are preserved.
func (s *SharedState) MergeExtracted(data map[string]string) {
	if len(data) == 0 {
		return
	}
	if s.ExtractedData == nil {
		s.ExtractedData = make(map[string]string, len(data))
	}
	for k, v := range data {
		s.ExtractedData[k] = v
	}
}

// AppendHistory adds one line to the job history.
func (s *SharedState) AppendHistory(line string) {
	s.History = append(s.History, line)
}

// Clone returns a deep copy, used to snapshot the state into a finalized
// JobResult without aliasing the live maps.
func (s *SharedState) Clone() SharedState {
	out := SharedState{
		CurrentURL: s.CurrentURL,
		PageTitle:  s.PageTitle,
		LastAction: s.LastAction,
	}
	if s.ExtractedData != nil {
		out.ExtractedData = make(map[string]string, len(s.ExtractedData))
		for k, v := range s.ExtractedData {
			out.ExtractedData[k] = v
		}
	}
	if s.History != nil {
		out.History = append([]string(nil), s.History...)
	}
	return out
}

// JobResult aggregates everything a job run produced. It is created once per
// run and finalized exactly once when the loop exits.
type JobResult struct {
	JobID                string       `json:"job_id"`
	Task                 string       `json:"task"`
	Status               JobStatus    `json:"status"`
	FinalAnswer          string       `json:"final_answer,omitempty"`
	Error                string       `json:"error,omitempty"`
	Steps                []StepResult `json:"steps"`
	TotalSteps           int          `json:"total_steps"`
	ExecutionTimeSeconds float64      `json:"execution_time_seconds"`
	SharedState          SharedState  `json:"shared_state"`
	StartedAt            time.Time    `json:"started_at"`
	FinishedAt           time.Time    `json:"finished_at"`
}
