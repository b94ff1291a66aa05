package metrics

import "time"

// Sink records scheduling and dispatch metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler
	RescheduleCompleted(result string)
	JobStarted(task string)
	JobCompleted(task string, duration time.Duration)
	JobSkipped(task, reason string)

	// Reports
	ReportCollected(reportType string, ok bool)

	// Notifications
	NotificationSent(channel, status string, duration time.Duration)
}

// Reschedule results.
const (
	ResultOK           = "ok"
	ResultInvalid      = "invalid"
	ResultUnknownTask  = "unknown_task"
	ResultStorageError = "storage_error"
)

// Skip reasons.
const (
	SkipCancelled = "cancelled"
	SkipOverlap   = "overlap"
	SkipStopped   = "stopped"
)

// Noop is used when metrics are disabled to avoid nil checks.
type Noop struct{}

func (Noop) RescheduleCompleted(string)                     {}
func (Noop) JobStarted(string)                              {}
func (Noop) JobCompleted(string, time.Duration)             {}
func (Noop) JobSkipped(string, string)                      {}
func (Noop) ReportCollected(string, bool)                   {}
func (Noop) NotificationSent(string, string, time.Duration) {}

// OrNoop returns s, or Noop when s is nil.
func OrNoop(s Sink) Sink {
	if s == nil {
		return Noop{}
	}
	return s
}
