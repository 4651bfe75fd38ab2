package repair

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/text2sql/text2sql/internal/nl2sql"
	"github.com/text2sql/text2sql/internal/query"
)

const DefaultMaxErrorChars = 500

type Config struct {
	// MaxRetry is the number of diagnose and fix cycles after the first
	// attempt. A run executes at most MaxRetry+1 statements.
	MaxRetry      int
	MaxErrorChars int
}

type Request struct {
	Question      string
	SchemaContext string
}

// Loop drives the generate, execute, diagnose and fix cycle. A Loop holds no
// per-run state and may serve concurrent runs.
type Loop struct {
	Generator nl2sql.Generator
	Diagnoser nl2sql.Diagnoser
	Fixer     nl2sql.Fixer
	Config    Config
	Logger    *slog.Logger
	Clock     func() time.Time
	NewRunID  func() string
}

func New(generator nl2sql.Generator, diagnoser nl2sql.Diagnoser, fixer nl2sql.Fixer, cfg Config, logger *slog.Logger) (*Loop, error) {
	if generator == nil {
		return nil, fmt.Errorf("sql generator is required")
	}
	if diagnoser == nil {
		return nil, fmt.Errorf("error diagnoser is required")
	}
	if fixer == nil {
		return nil, fmt.Errorf("error fixer is required")
	}
	if cfg.MaxRetry < 0 {
		return nil, fmt.Errorf("max retry must be >= 0")
	}
	return &Loop{Generator: generator, Diagnoser: diagnoser, Fixer: fixer, Config: cfg, Logger: logger}, nil
}

// Run answers one question. It never returns an error: every terminal
// condition is reported through the trace's Outcome.
func (l *Loop) Run(ctx context.Context, req Request, executor query.Executor) Trace {
	clock := l.Clock
	if clock == nil {
		clock = time.Now
	}
	trace := Trace{
		RunID:     l.runID(),
		Question:  req.Question,
		Attempts:  make([]Attempt, 0, l.maxRetry()+1),
		Diagnoses: make([]DiagnosisRecord, 0),
		StartedAt: clock().UTC(),
	}
	l.run(ctx, req, executor, &trace, clock)
	trace.Duration = clock().Sub(trace.StartedAt)
	l.logOutcome(ctx, trace)
	return trace
}

func (l *Loop) run(ctx context.Context, req Request, executor query.Executor, trace *Trace, clock func() time.Time) {
	raw, err := l.Generator.GenerateSQL(ctx, req.Question, req.SchemaContext)
	if err != nil {
		trace.Outcome = OutcomeGenerationError
		trace.Err = err.Error()
		return
	}

	for {
		attempt := execute(ctx, executor, len(trace.Attempts)+1, raw, clock)
		trace.Attempts = append(trace.Attempts, attempt)
		l.debug(ctx, "attempt executed",
			slog.String("run_id", trace.RunID),
			slog.Int("attempt", attempt.Number),
			slog.String("sql", attempt.SQL),
			slog.String("status", string(attempt.Status)),
			slog.String("error", attempt.Error),
		)
		if attempt.Succeeded() {
			trace.Outcome = OutcomeSuccess
			return
		}
		if len(trace.Attempts) >= l.maxRetry()+1 {
			fail(trace, ReasonBudgetExhausted, attempt.Error)
			return
		}
		if err := ctx.Err(); err != nil {
			fail(trace, ReasonCanceled, err.Error())
			return
		}

		diagnosis, err := l.Diagnoser.Diagnose(ctx, nl2sql.DiagnosisRequest{
			ErrorText:     truncateRunes(attempt.Error, l.maxErrorChars()),
			FailingSQL:    attempt.SQL,
			Question:      req.Question,
			SchemaContext: req.SchemaContext,
		})
		if err != nil {
			fail(trace, ReasonCapabilityError, err.Error())
			return
		}
		if diagnosis.OutOfScope() {
			trace.Outcome = OutcomeOutOfScope
			return
		}
		l.debug(ctx, "error diagnosed",
			slog.String("run_id", trace.RunID),
			slog.Int("attempt", attempt.Number),
			slog.String("instructions", diagnosis.Instructions),
		)
		trace.Diagnoses = append(trace.Diagnoses, DiagnosisRecord{
			ErrorText:     attempt.Error,
			FailingSQL:    attempt.SQL,
			DiagnosisText: diagnosis.Instructions,
			OutOfScope:    diagnosis.OutOfScope(),
		})
		if err := ctx.Err(); err != nil {
			fail(trace, ReasonCanceled, err.Error())
			return
		}

		raw, err = l.Fixer.FixSQL(ctx, diagnosis.Instructions)
		if err != nil {
			fail(trace, ReasonCapabilityError, err.Error())
			return
		}
	}
}

func execute(ctx context.Context, executor query.Executor, number int, raw string, clock func() time.Time) Attempt {
	attempt := Attempt{Number: number, RawOutput: raw, SQL: nl2sql.Sanitize(raw), Status: AttemptFailed}
	start := clock()
	result, err := executor.Execute(ctx, attempt.SQL)
	attempt.Duration = clock().Sub(start)
	switch {
	case err != nil:
		attempt.Error = err.Error()
	case result.Empty():
		attempt.Result = &result
		attempt.Error = query.ErrEmptyResult.Error()
	default:
		attempt.Result = &result
		attempt.Status = AttemptSucceeded
	}
	return attempt
}

func fail(trace *Trace, reason FailureReason, message string) {
	trace.Outcome = OutcomeFailure
	trace.FailureReason = reason
	trace.Err = message
}

func (l *Loop) maxRetry() int {
	return max(l.Config.MaxRetry, 0)
}

func (l *Loop) maxErrorChars() int {
	if l.Config.MaxErrorChars > 0 {
		return l.Config.MaxErrorChars
	}
	return DefaultMaxErrorChars
}

func (l *Loop) runID() string {
	if l.NewRunID != nil {
		return l.NewRunID()
	}
	return uuid.NewString()
}

func (l *Loop) debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	if l.Logger == nil {
		return
	}
	l.Logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

func (l *Loop) logOutcome(ctx context.Context, trace Trace) {
	if l.Logger == nil {
		return
	}
	attrs := []any{
		slog.String("run_id", trace.RunID),
		slog.String("outcome", string(trace.Outcome)),
		slog.Int("attempts", len(trace.Attempts)),
		slog.Int("diagnoses", len(trace.Diagnoses)),
		slog.Duration("duration", trace.Duration),
	}
	switch trace.Outcome {
	case OutcomeSuccess, OutcomeOutOfScope:
		l.Logger.InfoContext(ctx, "repair run finished", attrs...)
	default:
		attrs = append(attrs, slog.String("failure_reason", string(trace.FailureReason)), slog.String("error", trace.Err))
		l.Logger.WarnContext(ctx, "repair run finished", attrs...)
	}
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}

// IsCapabilityFailure reports whether a trace ended because a text
// generation capability was unavailable.
func IsCapabilityFailure(trace Trace) bool {
	return trace.Outcome == OutcomeGenerationError || trace.FailureReason == ReasonCapabilityError
}
