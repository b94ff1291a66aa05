package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrStorageUnavailable    = errors.New("schedule storage unavailable")
	ErrUnknownTask           = errors.New("unknown task")
	ErrRegistryStopped       = errors.New("task registry stopped")
	ErrAlreadyRunning        = errors.New("task already running")
)

// InvalidCronError reports why an expression was rejected. It matches
// ErrInvalidCronExpression with errors.Is.
type InvalidCronError struct {
	Expr string
	Err  error
}

func (e *InvalidCronError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %v", e.Expr, e.Err)
}

func (e *InvalidCronError) Unwrap() error { return e.Err }

func (e *InvalidCronError) Is(target error) bool { return target == ErrInvalidCronExpression }

// Validator checks six-field cron expressions
// (seconds minutes hours day-of-month month day-of-week) and computes fire
// times in a fixed location. Descriptors such as @hourly and @every 5m are
// accepted too.
type Validator struct {
	parser cron.Parser
	loc    *time.Location
}

func NewValidator(loc *time.Location) *Validator {
	if loc == nil {
		loc = time.UTC
	}
	return &Validator{
		parser: cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    loc,
	}
}

func (v *Validator) Location() *time.Location { return v.loc }

// Parse returns the compiled schedule or an *InvalidCronError.
func (v *Validator) Parse(expr string) (cron.Schedule, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &InvalidCronError{Expr: expr, Err: errors.New("empty expression")}
	}
	sched, err := v.parser.Parse(expr)
	if err != nil {
		return nil, &InvalidCronError{Expr: expr, Err: err}
	}
	return sched, nil
}

// Validate has no side effects.
func (v *Validator) Validate(expr string) error {
	_, err := v.Parse(expr)
	return err
}

func (v *Validator) Valid(expr string) bool { return v.Validate(expr) == nil }

// NextFireTime returns the first instant at or after from at which expr fires.
func (v *Validator) NextFireTime(expr string, from time.Time) (time.Time, error) {
	sched, err := v.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return nextAtOrAfter(sched, from.In(v.loc)), nil
}

// cron.Schedule.Next is strictly after its argument and works on whole
// seconds, so stepping back one nanosecond makes from itself eligible.
func nextAtOrAfter(sched cron.Schedule, from time.Time) time.Time {
	return sched.Next(from.Add(-time.Nanosecond))
}
