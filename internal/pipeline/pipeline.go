package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reportflow/internal/domain"
	"reportflow/internal/report"
)

// Collector gathers report snapshots.
type Collector interface {
	Collect(ctx context.Context) report.Result
}

// Dispatcher delivers notifications for a batch of snapshots.
type Dispatcher interface {
	Dispatch(ctx context.Context, snapshots []domain.ReportSnapshot) []domain.NotificationOutcome
}

// Summary is the result of one notification cycle.
type Summary struct {
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
	Collected  int                          `json:"collected"`
	Missing    []report.Missing             `json:"missing,omitempty"`
	Outcomes   []domain.NotificationOutcome `json:"outcomes"`
	Sent       int                          `json:"sent"`
	Failed     int                          `json:"failed"`
}

// Cycle is the body of the notify task: collect every report, then
// dispatch the batch.
type Cycle struct {
	collector  Collector
	dispatcher Dispatcher

	mu   sync.Mutex
	last *Summary
}

func New(c Collector, d Dispatcher) *Cycle {
	return &Cycle{collector: c, dispatcher: d}
}

func (c *Cycle) Run(ctx context.Context) Summary {
	s := Summary{StartedAt: time.Now().UTC()}
	res := c.collector.Collect(ctx)
	s.Collected = len(res.Snapshots)
	s.Missing = res.Missing
	s.Outcomes = c.dispatcher.Dispatch(ctx, res.Snapshots)
	for _, o := range s.Outcomes {
		if o.Status == domain.StatusSent {
			s.Sent++
		} else {
			s.Failed++
		}
	}
	s.FinishedAt = time.Now().UTC()

	c.mu.Lock()
	c.last = &s
	c.mu.Unlock()

	log.Info().
		Int("collected", s.Collected).
		Int("missing", len(s.Missing)).
		Int("sent", s.Sent).
		Int("failed", s.Failed).
		Dur("took", s.FinishedAt.Sub(s.StartedAt)).
		Msg("notification cycle finished")
	return s
}

// Action adapts Run to a scheduled task body.
func (c *Cycle) Action(ctx context.Context) {
	c.Run(ctx)
}

// Last returns the summary of the most recent cycle.
func (c *Cycle) Last() (Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Summary{}, false
	}
	return *c.last, true
}
