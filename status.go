package jobprogress

import "time"

// CompleteReason records which trigger moved a tracker into its terminal
// state.
type CompleteReason string

const (
	// ReasonNone means the tracker has not completed.
	ReasonNone CompleteReason = ""

	// ReasonFailureCeiling means the consecutive-failure ceiling was reached
	// and polling was abandoned.
	ReasonFailureCeiling CompleteReason = "failure_ceiling"

	// ReasonStopped means the endpoint reported the job as stopped.
	ReasonStopped CompleteReason = "stopped"

	// ReasonErrored means the endpoint reported the job as errored.
	ReasonErrored CompleteReason = "errored"

	// ReasonValueExceeded means a value strictly greater than max was set.
	ReasonValueExceeded CompleteReason = "value_exceeded_max"
)

// String returns the string representation of the reason.
func (r CompleteReason) String() string {
	return string(r)
}

// Failed reports whether the reason describes a job that did not finish
// normally.
func (r CompleteReason) Failed() bool {
	return r == ReasonFailureCeiling || r == ReasonErrored
}

// PollOutcome classifies a single poll cycle.
type PollOutcome string

const (
	// OutcomeSuccess is a 2xx response with a non-empty body.
	OutcomeSuccess PollOutcome = "success"

	// OutcomeEmpty is a 2xx response whose body was empty or JSON null.
	OutcomeEmpty PollOutcome = "empty"

	// OutcomeError is a transport failure or a non-2xx response.
	OutcomeError PollOutcome = "error"

	// OutcomeCanceled is a request abandoned because it was superseded or the
	// tracker halted. It does not count as a failure.
	OutcomeCanceled PollOutcome = "canceled"

	// OutcomeCeiling is a cycle that sent no request because the
	// consecutive-failure ceiling had been reached.
	OutcomeCeiling PollOutcome = "ceiling"
)

// Snapshot is a point-in-time copy of a tracker's progress state.
type Snapshot struct {
	// Name identifies the tracker in logs and metrics.
	Name string `json:"name"`

	// URL is the status endpoint being polled.
	URL string `json:"url"`

	// Value is the current clamped progress value.
	Value int `json:"value"`

	// Min is the lower bound of the progress range; always 0.
	Min int `json:"min"`

	// Max is the upper bound of the progress range.
	Max int `json:"max"`

	// Percent is the unrounded completion percentage.
	Percent float64 `json:"percent"`

	// PercentText is Percent rounded to zero decimals with a trailing "%".
	PercentText string `json:"percent_text"`

	// Status is the last status text reported by the endpoint.
	// Only meaningful when HasStatus is true.
	Status string `json:"status,omitempty"`

	// HasStatus reports whether the last response carried a status.
	HasStatus bool `json:"has_status"`

	// FailCount is the number of consecutive failed or empty polls.
	FailCount int `json:"fail_count"`

	// Completed reports whether the tracker reached its terminal state.
	Completed bool `json:"completed"`

	// Reason is the completion trigger, or empty while running.
	Reason CompleteReason `json:"reason,omitempty"`

	// UpdatedAt is when the state last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeEvent is delivered to change callbacks on every effective value
// transition.
type ChangeEvent struct {
	OldValue int
	NewValue int
}

// CompleteEvent is delivered to complete callbacks when the tracker reaches
// its terminal state.
type CompleteEvent struct {
	Reason   CompleteReason
	Snapshot Snapshot
}

// PollResult describes the outcome of one poll cycle.
type PollResult struct {
	// URL is the endpoint that was polled.
	URL string

	// Outcome classifies the cycle.
	Outcome PollOutcome

	// StatusCode is the HTTP status code, zero when no response arrived.
	StatusCode int

	// Latency is the time taken by the request.
	Latency time.Duration

	// FailCount is the consecutive failure count after the cycle.
	FailCount int

	// CheckedAt is when the cycle finished.
	CheckedAt time.Time

	// Error is the transport error for [OutcomeError], nil otherwise.
	Error error
}
