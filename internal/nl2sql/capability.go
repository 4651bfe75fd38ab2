package nl2sql

import (
	"context"
	"errors"
	"strings"
)

// ErrCapabilityUnavailable marks failures of the text generation service
// itself (transport, auth, malformed responses). They are never retried.
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// OutOfScopeSentinel is the phrase the diagnosis model emits when the
// question is not a database question. Matched case-sensitively as a
// substring, so wording drift in the model output goes undetected.
const OutOfScopeSentinel = "NOT ASKING FOR SQL"

type DiagnosisKind string

const (
	DiagnosisActionable DiagnosisKind = "actionable"
	DiagnosisOutOfScope DiagnosisKind = "out_of_scope"
)

type Diagnosis struct {
	Kind         DiagnosisKind
	Instructions string
}

func (d Diagnosis) OutOfScope() bool {
	return d.Kind == DiagnosisOutOfScope
}

// ClassifyDiagnosis turns free-form diagnosis text into a tagged Diagnosis.
func ClassifyDiagnosis(text string) Diagnosis {
	if strings.Contains(text, OutOfScopeSentinel) {
		return Diagnosis{Kind: DiagnosisOutOfScope, Instructions: text}
	}
	return Diagnosis{Kind: DiagnosisActionable, Instructions: text}
}

type DiagnosisRequest struct {
	ErrorText     string
	FailingSQL    string
	Question      string
	SchemaContext string
}

type Generator interface {
	GenerateSQL(ctx context.Context, question, schemaContext string) (string, error)
}

type Diagnoser interface {
	Diagnose(ctx context.Context, req DiagnosisRequest) (Diagnosis, error)
}

type Fixer interface {
	FixSQL(ctx context.Context, instructions string) (string, error)
}
