package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportflow/internal/config"
	"reportflow/internal/domain"
)

func snapshots(types ...domain.ReportType) []domain.ReportSnapshot {
	out := make([]domain.ReportSnapshot, len(types))
	for i, t := range types {
		out[i] = domain.ReportSnapshot{
			Type:        t,
			GeneratedAt: time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC),
			DataPoints:  map[string]any{"open_tickets": 7, "total_customers": 120},
		}
	}
	return out
}

type recorder struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (r *recorder) Send(_ context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func countStatus(outs []domain.NotificationOutcome, s domain.Status) int {
	n := 0
	for _, o := range outs {
		if o.Status == s {
			n++
		}
	}
	return n
}

func TestDispatch_AllSent(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, Options{})

	outs := d.Dispatch(context.Background(), snapshots(domain.ReportTypes...))
	require.Len(t, outs, 4)
	assert.Equal(t, 4, countStatus(outs, domain.StatusSent))
	assert.Len(t, rec.msgs, 4)

	byType := map[domain.ReportType]domain.NotificationOutcome{}
	for _, o := range outs {
		byType[o.ReportType] = o
	}
	assert.Equal(t, domain.ChannelSMS, byType[domain.ReportSupport].Channel)
	assert.Equal(t, domain.RecipientCustomer, byType[domain.ReportMarketing].RecipientKind)
	assert.Equal(t, "Support: 7 open, <missing:resolved_tickets> resolved.", byType[domain.ReportSupport].Body)
	assert.Equal(t, "SUPPORT report for 2026-10-14T08:00:00Z", byType[domain.ReportSupport].Subject)
}

func TestDispatch_OneChannelFailureDoesNotShortCircuit(t *testing.T) {
	sender := SenderFunc(func(_ context.Context, msg domain.Message) error {
		if msg.ReportType == domain.ReportMarketing {
			return errors.New("smtp relay refused")
		}
		return nil
	})
	outs := NewDispatcher(sender, Options{Concurrency: 1}).Dispatch(context.Background(), snapshots(domain.ReportTypes...))

	require.Len(t, outs, 4)
	assert.Equal(t, 3, countStatus(outs, domain.StatusSent))
	require.Equal(t, 1, countStatus(outs, domain.StatusFailed))
	for _, o := range outs {
		if o.Status == domain.StatusFailed {
			assert.Equal(t, domain.ReportMarketing, o.ReportType)
			assert.Contains(t, o.Error, "smtp relay refused")
		}
	}
}

func TestDispatch_EmptyInput(t *testing.T) {
	d := NewDispatcher(&recorder{}, Options{})
	outs := d.Dispatch(context.Background(), nil)
	assert.NotNil(t, outs)
	assert.Empty(t, outs)
}

func TestDispatch_PanicIsFailedOutcome(t *testing.T) {
	sender := SenderFunc(func(_ context.Context, msg domain.Message) error {
		if msg.ReportType == domain.ReportSales {
			panic("nil transport")
		}
		return nil
	})
	outs := NewDispatcher(sender, Options{}).Dispatch(context.Background(), snapshots(domain.ReportCustomer, domain.ReportSales))
	require.Len(t, outs, 2)
	assert.Equal(t, domain.StatusSent, outs[0].Status)
	assert.Equal(t, domain.StatusFailed, outs[1].Status)
	assert.Contains(t, outs[1].Error, "panicked")
}

func TestDispatch_SendTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	sender := SenderFunc(func(context.Context, domain.Message) error {
		<-block // ignores its context
		return nil
	})
	start := time.Now()
	outs := NewDispatcher(sender, Options{SendTimeout: 30 * time.Millisecond}).Dispatch(context.Background(), snapshots(domain.ReportSales))
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, outs, 1)
	assert.Equal(t, domain.StatusFailed, outs[0].Status)
	assert.Contains(t, outs[0].Error, context.DeadlineExceeded.Error())
}

func TestDispatch_FanOutCardinality(t *testing.T) {
	plan := DefaultPlan()
	plan[domain.ReportMarketing] = []Route{
		{Recipient: domain.RecipientCustomer, Channel: domain.ChannelEmail, Subject: "a", Body: "b"},
		{Recipient: domain.RecipientCustomer, Channel: domain.ChannelSMS, Subject: "a", Body: "b"},
		{Recipient: domain.RecipientEmployee, Channel: domain.ChannelEmail, Subject: "a", Body: "b"},
	}
	delete(plan, domain.ReportCustomer)

	outs := NewDispatcher(&recorder{}, Options{Plan: plan, Concurrency: 3}).Dispatch(context.Background(), snapshots(domain.ReportTypes...))
	// SALES 1, SUPPORT 1, MARKETING 3, CUSTOMER unrouted 1
	require.Len(t, outs, 6)
	assert.Equal(t, domain.ReportCustomer, outs[0].ReportType)
	assert.Equal(t, domain.StatusFailed, outs[0].Status)
	assert.Equal(t, 5, countStatus(outs, domain.StatusSent))
}

func TestDispatch_RateLimited(t *testing.T) {
	d := NewDispatcher(&recorder{}, Options{RatePerSec: 20, Burst: 1, Concurrency: 4})
	start := time.Now()
	outs := d.Dispatch(context.Background(), snapshots(domain.ReportTypes...))
	assert.Equal(t, 4, countStatus(outs, domain.StatusSent))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestDispatch_CancelledContextFailsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outs := NewDispatcher(&recorder{}, Options{RatePerSec: 1, Burst: 1}).Dispatch(ctx, snapshots(domain.ReportTypes...))
	require.Len(t, outs, 4)
	assert.Equal(t, 4, countStatus(outs, domain.StatusFailed))
}

func TestPlanFromConfig(t *testing.T) {
	plan, err := PlanFromConfig(map[string][]config.RouteConfig{
		"support": {{Recipient: "Customer", Channel: "EMAIL"}},
	})
	require.NoError(t, err)
	require.Len(t, plan[domain.ReportSupport], 1)
	r := plan[domain.ReportSupport][0]
	assert.Equal(t, domain.RecipientCustomer, r.Recipient)
	assert.Equal(t, domain.ChannelEmail, r.Channel)
	assert.Equal(t, DefaultPlan()[domain.ReportSupport][0].Body, r.Body)
	assert.Len(t, plan[domain.ReportSales], 1)

	_, err = PlanFromConfig(map[string][]config.RouteConfig{"FINANCE": {{Recipient: "customer", Channel: "email"}}})
	assert.Error(t, err)
	_, err = PlanFromConfig(map[string][]config.RouteConfig{"SALES": {{Recipient: "customer", Channel: "fax"}}})
	assert.Error(t, err)
}
