package question

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-elements/internal/events"
	"github.com/p-n-ai/pai-elements/internal/qdata"
)

const scoreTolerance = 1e-9

// Case is the outcome of one synthesized submission.
type Case struct {
	Seed           int64
	Type           qdata.TestType
	ExpectedScore  float64
	ActualScore    float64
	ExpectedErrors []string
	ActualErrors   []string
	Gradable       bool
	Passed         bool
	// Message describes every mismatch; empty when the case passed.
	Message string
}

// TestReport is the result of testing one question.
type TestReport struct {
	RunID    string
	Question string
	Started  time.Time
	Cases    []Case
}

// Failures counts failed cases.
func (r TestReport) Failures() int {
	n := 0
	for _, c := range r.Cases {
		if !c.Passed {
			n++
		}
	}
	return n
}

// Passed reports whether every case passed.
func (r TestReport) Passed() bool { return r.Failures() == 0 }

// RunTests prepares q for each seed and checks every test type: the
// submission synthesized by test must parse and grade to the outcome test
// predicted. A correct submission must score 1 and an invalid one must be
// rejected by parse. Single-variant questions use the first seed only.
func RunTests(ctx context.Context, e *Engine, q *Question, options map[string]any, seeds []int64) (TestReport, error) {
	if len(seeds) == 0 {
		seeds = []int64{1}
	}
	if q.Info.SingleVariant {
		seeds = seeds[:1]
	}

	report := TestReport{
		RunID:    uuid.NewString(),
		Question: q.ID,
		Started:  time.Now().UTC(),
	}
	run := e.WithEvents(events.Scoped{Next: e.events, Base: events.Event{RunID: report.RunID}})

	for _, seed := range seeds {
		v, err := run.PrepareVariant(ctx, q, options, seed)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			for _, tt := range qdata.TestTypes {
				c := Case{Seed: seed, Type: tt, Message: "prepare: " + err.Error()}
				report.Cases = append(report.Cases, c)
				run.recordCase(q, c)
			}
			continue
		}
		for _, tt := range qdata.TestTypes {
			c := run.runCase(ctx, v, tt)
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Cases = append(report.Cases, c)
			run.recordCase(q, c)
		}
	}

	if err := run.events.LogEvent(events.Event{
		EventType: events.TypeTestRun,
		Question:  q.ID,
		Data: map[string]any{
			"cases":    len(report.Cases),
			"failures": report.Failures(),
		},
	}); err != nil {
		e.log.Warn("recording event failed", "type", events.TypeTestRun, "error", err)
	}
	e.log.Info("question tested", "question", q.ID, "run_id", report.RunID,
		"cases", len(report.Cases), "failures", report.Failures())
	return report, nil
}

func (e *Engine) runCase(ctx context.Context, prepared *Variant, tt qdata.TestType) Case {
	c := Case{Seed: prepared.Seed, Type: tt}

	expected := prepared.Fork()
	if err := e.Test(ctx, expected, tt); err != nil {
		c.Message = "test: " + err.Error()
		return c
	}
	c.ExpectedScore, _ = expected.data.Score()
	c.ExpectedErrors = FormatErrorNames(expected.data)

	actual := prepared.Fork()
	if err := e.ParseAndGrade(ctx, actual, expected.data.RawSubmittedAnswers()); err != nil {
		c.Message = "grade: " + err.Error()
		return c
	}
	c.ActualScore, _ = actual.data.Score()
	c.ActualErrors = FormatErrorNames(actual.data)
	c.Gradable = actual.data.Gradable()

	c.Message = c.mismatch()
	c.Passed = c.Message == ""
	return c
}

func (c Case) mismatch() string {
	var problems []string
	if math.Abs(c.ExpectedScore-c.ActualScore) > scoreTolerance {
		problems = append(problems, fmt.Sprintf("score %g, expected %g", c.ActualScore, c.ExpectedScore))
	}
	if !slices.Equal(c.ExpectedErrors, c.ActualErrors) {
		problems = append(problems, fmt.Sprintf("format errors on [%s], expected [%s]",
			strings.Join(c.ActualErrors, ", "), strings.Join(c.ExpectedErrors, ", ")))
	}
	switch c.Type {
	case qdata.TestCorrect:
		if math.Abs(c.ActualScore-1) > scoreTolerance {
			problems = append(problems, fmt.Sprintf("correct submission scored %g", c.ActualScore))
		}
	case qdata.TestInvalid:
		if len(c.ActualErrors) == 0 {
			problems = append(problems, "invalid submission produced no format errors")
		}
		if c.Gradable {
			problems = append(problems, "invalid submission was gradable")
		}
	}
	return strings.Join(problems, "; ")
}

func (e *Engine) recordCase(q *Question, c Case) {
	event := events.Event{
		EventType:   events.TypeTestCase,
		Question:    q.ID,
		VariantSeed: c.Seed,
		Phase:       string(qdata.PhaseTest),
		Kind:        string(c.Type),
		Message:     c.Message,
		Data: map[string]any{
			"passed":         c.Passed,
			"expected_score": c.ExpectedScore,
			"actual_score":   c.ActualScore,
		},
	}
	if err := e.events.LogEvent(event); err != nil {
		e.log.Warn("recording event failed", "type", event.EventType, "error", err)
	}
	if !c.Passed {
		e.log.Warn("question test failed", "question", q.ID, "seed", c.Seed, "type", c.Type, "message", c.Message)
	}
}
