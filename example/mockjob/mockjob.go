// Package mockjob serves a fake long-running job for demos and tests.
//
// The job advances one step every StepEvery. Its status endpoint reports
// value, max and a status message in the default jobprogress response
// shape, and reports "stopped": true once every step is done. With
// FailAt set, the job reports "errorOccurred": true at that step instead.
package mockjob

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Job is a fake job whose progress is derived from elapsed time.
type Job struct {
	// Steps is the total number of steps. Defaults to 20.
	Steps int

	// StepEvery is how long each step takes. Defaults to 500ms.
	StepEvery time.Duration

	// FailAt, when positive, makes the job error once it reaches that step.
	FailAt int

	// Jitter adds up to this much random latency to each response.
	Jitter time.Duration

	// Logger receives a line per phase change. Defaults to slog.Default().
	Logger *slog.Logger

	mu        sync.Mutex
	startedAt time.Time
	phase     string
	now       func() time.Time
}

// Progress is the response body of the status endpoint.
type Progress struct {
	Value         int    `json:"value"`
	Max           int    `json:"max"`
	Status        string `json:"status"`
	Stopped       bool   `json:"stopped"`
	ErrorOccurred bool   `json:"errorOccurred"`
}

var phases = []string{"Queued", "Extracting", "Transforming", "Loading", "Verifying"}

// Handler returns the job routes:
//
//	GET  /progress  current progress
//	POST /reset     restart the job from step zero
func (j *Job) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/progress", j.handleProgress)
	r.Post("/reset", j.handleReset)
	return r
}

// Progress reports the job state at the current time.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.clock()
	if j.startedAt.IsZero() {
		j.startedAt = now
	}

	steps := j.Steps
	if steps <= 0 {
		steps = 20
	}
	every := j.StepEvery
	if every <= 0 {
		every = 500 * time.Millisecond
	}

	value := int(now.Sub(j.startedAt) / every)
	p := Progress{Value: value, Max: steps}

	switch {
	case j.FailAt > 0 && value >= j.FailAt:
		p.Value = j.FailAt
		p.Status = "Failed"
		p.ErrorOccurred = true
	case value >= steps:
		p.Value = steps
		p.Status = "Done"
		p.Stopped = true
	default:
		p.Status = phases[value*len(phases)/steps]
	}

	if p.Status != j.phase {
		j.logger().Info("job phase change", "from", j.phase, "to", p.Status, "value", p.Value, "max", p.Max)
		j.phase = p.Status
	}
	return p
}

// Reset restarts the job.
func (j *Job) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.startedAt = time.Time{}
	j.phase = ""
}

func (j *Job) handleProgress(w http.ResponseWriter, r *http.Request) {
	if j.Jitter > 0 {
		// simulate latency variance
		time.Sleep(time.Duration(rand.Int63n(int64(j.Jitter))))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(j.Progress()); err != nil {
		j.logger().Error("failed to write response", "error", err)
	}
}

func (j *Job) handleReset(w http.ResponseWriter, r *http.Request) {
	j.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (j *Job) clock() time.Time {
	if j.now != nil {
		return j.now()
	}
	return time.Now()
}

func (j *Job) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
