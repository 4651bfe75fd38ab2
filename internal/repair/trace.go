package repair

import (
	"time"

	"github.com/text2sql/text2sql/internal/query"
)

type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeFailure         Outcome = "failure"
	OutcomeOutOfScope      Outcome = "out_of_scope"
	OutcomeGenerationError Outcome = "generation_error"
)

type FailureReason string

const (
	ReasonBudgetExhausted FailureReason = "budget_exhausted"
	ReasonCapabilityError FailureReason = "capability_error"
	ReasonCanceled        FailureReason = "canceled"
)

type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// Attempt is one execution of a candidate statement.
type Attempt struct {
	Number    int           `json:"number"`
	RawOutput string        `json:"raw_output"`
	SQL       string        `json:"sql"`
	Status    AttemptStatus `json:"status"`
	Result    *query.Result `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

func (a Attempt) Succeeded() bool {
	return a.Status == AttemptSucceeded
}

// DiagnosisRecord is one actionable diagnosis. An out-of-scope diagnosis
// ends the run before a record is appended, so OutOfScope is false on every
// record a Trace holds and is omitted from JSON.
type DiagnosisRecord struct {
	ErrorText     string `json:"error_text"`
	FailingSQL    string `json:"failing_sql"`
	DiagnosisText string `json:"diagnosis_text"`
	OutOfScope    bool   `json:"out_of_scope,omitempty"`
}

// Trace is the append-only record of one Run. Attempts and diagnoses are
// never modified after they are appended.
type Trace struct {
	RunID         string            `json:"run_id"`
	Question      string            `json:"question"`
	Outcome       Outcome           `json:"outcome"`
	FailureReason FailureReason     `json:"failure_reason,omitempty"`
	Err           string            `json:"error,omitempty"`
	Attempts      []Attempt         `json:"attempts"`
	Diagnoses     []DiagnosisRecord `json:"diagnoses"`
	StartedAt     time.Time         `json:"started_at"`
	Duration      time.Duration     `json:"duration_ns"`
}

// LastSuccess returns the successful attempt of a trace, if any.
func LastSuccess(trace Trace) (Attempt, bool) {
	for i := len(trace.Attempts) - 1; i >= 0; i-- {
		if trace.Attempts[i].Succeeded() {
			return trace.Attempts[i], true
		}
	}
	return Attempt{}, false
}
