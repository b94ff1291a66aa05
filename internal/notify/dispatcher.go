package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"reportflow/internal/domain"
	"reportflow/internal/metrics"
)

var errNoRoute = errors.New("no route for report type")

type Options struct {
	Plan        Plan
	Concurrency int
	// SendTimeout bounds each send, including a sender that ignores its context.
	SendTimeout time.Duration
	// RatePerSec limits sends across the whole dispatcher; zero disables it.
	RatePerSec float64
	Burst      int
	Metrics    metrics.Sink
}

// Dispatcher turns report snapshots into notifications. Every planned
// message yields exactly one outcome; a failed send never stops the batch.
type Dispatcher struct {
	sender      Sender
	plan        Plan
	concurrency int
	timeout     time.Duration
	limiter     *rate.Limiter
	metrics     metrics.Sink
}

func NewDispatcher(sender Sender, opts Options) *Dispatcher {
	if opts.Plan == nil {
		opts.Plan = DefaultPlan()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Dispatcher{
		sender:      sender,
		plan:        opts.Plan,
		concurrency: opts.Concurrency,
		timeout:     opts.SendTimeout,
		limiter:     rate.NewLimiter(limit, opts.Burst),
		metrics:     metrics.OrNoop(opts.Metrics),
	}
}

type delivery struct {
	msg domain.Message
	err error // set when the message could not be planned
}

// Dispatch sends one message per planned audience of each snapshot and
// returns the outcomes in planning order. A snapshot without a route
// yields a single FAILED outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, snapshots []domain.ReportSnapshot) []domain.NotificationOutcome {
	deliveries := d.expand(snapshots)
	outcomes := make([]domain.NotificationOutcome, len(deliveries))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, dl := range deliveries {
		g.Go(func() error {
			err := dl.err
			if err == nil {
				err = d.send(ctx, dl.msg)
			}
			outcomes[i] = outcome(dl.msg, err)
			return nil
		})
	}
	_ = g.Wait()

	sent := 0
	for _, o := range outcomes {
		if o.Status == domain.StatusSent {
			sent++
		}
	}
	log.Info().Int("snapshots", len(snapshots)).Int("sent", sent).Int("failed", len(outcomes)-sent).Msg("notifications dispatched")
	return outcomes
}

func (d *Dispatcher) expand(snapshots []domain.ReportSnapshot) []delivery {
	out := make([]delivery, 0, len(snapshots))
	for _, s := range snapshots {
		routes := d.plan[s.Type]
		if len(routes) == 0 {
			out = append(out, delivery{
				msg: domain.Message{ReportType: s.Type},
				err: fmt.Errorf("%w %s", errNoRoute, s.Type),
			})
			continue
		}
		data := templateData(s)
		for _, r := range routes {
			out = append(out, delivery{msg: domain.Message{
				ReportType:    s.Type,
				RecipientKind: r.Recipient,
				Channel:       r.Channel,
				Subject:       Render(r.Subject, data),
				Body:          Render(r.Body, data),
			}})
		}
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, msg domain.Message) (err error) {
	start := time.Now()
	defer func() {
		status := domain.StatusSent
		if err != nil {
			status = domain.StatusFailed
			log.Warn().Err(err).
				Str("report_type", string(msg.ReportType)).
				Str("channel", string(msg.Channel)).
				Str("recipient", string(msg.RecipientKind)).
				Msg("notification failed")
		}
		d.metrics.NotificationSent(string(msg.Channel), string(status), time.Since(start))
	}()

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("sender panicked: %v", r)
			}
		}()
		done <- d.sender.Send(ctx, msg)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send: %w", ctx.Err())
	}
}

func outcome(msg domain.Message, err error) domain.NotificationOutcome {
	o := domain.NotificationOutcome{
		ReportType:    msg.ReportType,
		RecipientKind: msg.RecipientKind,
		Channel:       msg.Channel,
		Subject:       msg.Subject,
		Body:          msg.Body,
		Status:        domain.StatusSent,
	}
	if err != nil {
		o.Status = domain.StatusFailed
		o.Error = err.Error()
	}
	return o
}
