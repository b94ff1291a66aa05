package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"reportflow/internal/domain"
	"reportflow/internal/metrics"
)

// ErrMalformedReport is returned for upstream data that cannot be turned
// into a snapshot.
var ErrMalformedReport = errors.New("malformed report data")

// Producer generates the snapshot of one report domain.
type Producer interface {
	GenerateReport(ctx context.Context, t domain.ReportType) (domain.ReportSnapshot, error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, t domain.ReportType) (domain.ReportSnapshot, error)

func (f ProducerFunc) GenerateReport(ctx context.Context, t domain.ReportType) (domain.ReportSnapshot, error) {
	return f(ctx, t)
}

// Missing records a report type whose producer failed.
type Missing struct {
	Type domain.ReportType `json:"report_type"`
	Err  string            `json:"error"`
}

type Result struct {
	Snapshots []domain.ReportSnapshot `json:"snapshots"`
	Missing   []Missing               `json:"missing,omitempty"`
}

// Aggregator calls every configured producer once per collection. A
// failing producer only costs its own snapshot.
type Aggregator struct {
	producers   map[domain.ReportType]Producer
	concurrency int
	timeout     time.Duration
	metrics     metrics.Sink
}

type Options struct {
	Concurrency int
	// Timeout bounds each producer call; zero means no bound.
	Timeout time.Duration
	Metrics metrics.Sink
}

func NewAggregator(producers map[domain.ReportType]Producer, opts Options) *Aggregator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = len(domain.ReportTypes)
	}
	return &Aggregator{
		producers:   producers,
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		metrics:     metrics.OrNoop(opts.Metrics),
	}
}

// Collect returns the snapshots that could be produced, in canonical
// report type order. An empty result is valid.
func (a *Aggregator) Collect(ctx context.Context) Result {
	types := make([]domain.ReportType, 0, len(a.producers))
	for t := range a.producers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return typeRank(types[i]) < typeRank(types[j]) })

	snaps := make([]*domain.ReportSnapshot, len(types))
	var (
		mu      sync.Mutex
		missing []Missing
	)

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, t := range types {
		g.Go(func() error {
			snap, err := a.generate(ctx, t)
			if err != nil {
				a.metrics.ReportCollected(string(t), false)
				log.Warn().Err(err).Str("report_type", string(t)).Msg("report missing")
				mu.Lock()
				missing = append(missing, Missing{Type: t, Err: err.Error()})
				mu.Unlock()
				return nil
			}
			a.metrics.ReportCollected(string(t), true)
			snaps[i] = &snap
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Snapshots: make([]domain.ReportSnapshot, 0, len(types))}
	for _, s := range snaps {
		if s != nil {
			res.Snapshots = append(res.Snapshots, *s)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return typeRank(missing[i].Type) < typeRank(missing[j].Type) })
	res.Missing = missing
	log.Info().Int("collected", len(res.Snapshots)).Int("missing", len(missing)).Msg("reports collected")
	return res
}

func (a *Aggregator) generate(ctx context.Context, t domain.ReportType) (snap domain.ReportSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("producer %s panicked: %v", t, r)
		}
	}()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	snap, err = a.producers[t].GenerateReport(ctx, t)
	if err != nil {
		return domain.ReportSnapshot{}, err
	}
	if err := checkSnapshot(t, snap); err != nil {
		return domain.ReportSnapshot{}, err
	}
	return snap, nil
}

func checkSnapshot(want domain.ReportType, s domain.ReportSnapshot) error {
	if s.Type != want {
		return fmt.Errorf("%w: producer for %s returned %q", ErrMalformedReport, want, s.Type)
	}
	if s.GeneratedAt.IsZero() {
		return fmt.Errorf("%w: %s snapshot has no generation time", ErrMalformedReport, want)
	}
	return nil
}

func typeRank(t domain.ReportType) int {
	for i, rt := range domain.ReportTypes {
		if rt == t {
			return i
		}
	}
	return len(domain.ReportTypes)
}
