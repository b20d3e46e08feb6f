// Package validation holds the informational document checks. Every rule is
// a pure function returning a Result; rules never return errors or panic to
// the caller. A rule that cannot run reports Skipped, which is never counted
// as a failure.
package validation

import "fmt"

// Outcome of a rule.
type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Skipped Outcome = "skipped"
)

// Result is what a rule reports.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}

func (r Result) Failed() bool  { return r.Outcome == Failed }
func (r Result) Skipped() bool { return r.Outcome == Skipped }

func pass(format string, args ...any) Result {
	return Result{Outcome: Passed, Detail: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) Result {
	return Result{Outcome: Failed, Detail: fmt.Sprintf(format, args...)}
}

func skip(format string, args ...any) Result {
	return Result{Outcome: Skipped, Detail: fmt.Sprintf(format, args...)}
}

// guard runs a rule body, turning errors and panics into Skipped.
func guard(fn func() (Result, error)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = skip("rule panicked: %v", r)
		}
	}()
	res, err := fn()
	if err != nil {
		return skip("rule error: %v", err)
	}
	return res
}
