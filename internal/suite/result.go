package suite

import (
	"time"

	"github.com/theroutercompany/bookstore_e2e/internal/bookstore"
)

// CaseKind separates the data-driven negative cases from the fixed positive
// scenario.
type CaseKind string

const (
	KindNegative CaseKind = "negative"
	KindPositive CaseKind = "positive"
)

// PositiveCaseName names the fixed scenario in reports.
const PositiveCaseName = "create user and authorize"

// Outcome classifies a finished case.
type Outcome string

const (
	OutcomePassed Outcome = "passed"
	// OutcomeFailed is an assertion failure: the service answered, but not
	// with what was expected.
	OutcomeFailed Outcome = "failed"
	// OutcomeShapeMismatch means the body could not be decoded into the shape
	// the fixture declares. It counts as a failure, not a harness error.
	OutcomeShapeMismatch Outcome = "shape_mismatch"
	// OutcomeContractViolation means the response broke the OpenAPI contract.
	OutcomeContractViolation Outcome = "contract_violation"
	// OutcomeError covers fixture, transport and context failures.
	OutcomeError Outcome = "error"
)

// Step records one HTTP call made by a case.
type Step struct {
	Name       string             `json:"name"`
	Endpoint   bookstore.Endpoint `json:"endpoint"`
	StatusCode int                `json:"statusCode"`
	Latency    time.Duration      `json:"latency"`
	RequestID  string             `json:"requestId"`
}

// Result is the outcome of one case.
type Result struct {
	Name      string        `json:"name"`
	Kind      CaseKind      `json:"kind"`
	Outcome   Outcome       `json:"outcome"`
	Message   string        `json:"message,omitempty"`
	Diff      string        `json:"diff,omitempty"`
	Err       error         `json:"-"`
	UserName  string        `json:"userName,omitempty"`
	Steps     []Step        `json:"steps,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Passed reports whether the case passed.
func (r Result) Passed() bool {
	return r.Outcome == OutcomePassed
}

// Report aggregates a suite run.
type Report struct {
	RunID      string    `json:"runId"`
	BaseURL    string    `json:"baseUrl"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Results    []Result  `json:"results"`
}

// Count returns the number of results with the given outcome.
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failures returns every result that did not pass.
func (r Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed() {
			out = append(out, res)
		}
	}
	return out
}

// Passed reports whether every case passed.
func (r Report) Passed() bool {
	return len(r.Failures()) == 0
}
