package report

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportflow/internal/domain"
)

func fixed(points map[string]any) ProducerFunc {
	return func(_ context.Context, t domain.ReportType) (domain.ReportSnapshot, error) {
		return domain.ReportSnapshot{Type: t, GeneratedAt: time.Now(), DataPoints: points}, nil
	}
}

func failing(err error) ProducerFunc {
	return func(context.Context, domain.ReportType) (domain.ReportSnapshot, error) {
		return domain.ReportSnapshot{}, err
	}
}

func allProducers() map[domain.ReportType]Producer {
	m := map[domain.ReportType]Producer{}
	for _, t := range domain.ReportTypes {
		m[t] = fixed(map[string]any{"n": 1})
	}
	return m
}

func types(snaps []domain.ReportSnapshot) []domain.ReportType {
	out := make([]domain.ReportType, len(snaps))
	for i, s := range snaps {
		out[i] = s.Type
	}
	return out
}

func TestCollect_AllSucceed(t *testing.T) {
	res := NewAggregator(allProducers(), Options{}).Collect(context.Background())
	assert.Equal(t, domain.ReportTypes, types(res.Snapshots))
	assert.Empty(t, res.Missing)
}

func TestCollect_OneProducerFails(t *testing.T) {
	producers := allProducers()
	producers[domain.ReportSales] = failing(errors.New("sales service down"))

	res := NewAggregator(producers, Options{Concurrency: 2}).Collect(context.Background())
	assert.Equal(t, []domain.ReportType{domain.ReportCustomer, domain.ReportSupport, domain.ReportMarketing}, types(res.Snapshots))
	require.Len(t, res.Missing, 1)
	assert.Equal(t, domain.ReportSales, res.Missing[0].Type)
	assert.Contains(t, res.Missing[0].Err, "sales service down")
}

func TestCollect_AllFailIsEmptyNotError(t *testing.T) {
	producers := map[domain.ReportType]Producer{}
	for _, rt := range domain.ReportTypes {
		producers[rt] = failing(errors.New("down"))
	}
	res := NewAggregator(producers, Options{}).Collect(context.Background())
	assert.NotNil(t, res.Snapshots)
	assert.Empty(t, res.Snapshots)
	assert.Len(t, res.Missing, 4)
	assert.Equal(t, domain.ReportTypes, []domain.ReportType{res.Missing[0].Type, res.Missing[1].Type, res.Missing[2].Type, res.Missing[3].Type})
}

func TestCollect_PanicAndMalformedAreMissing(t *testing.T) {
	producers := allProducers()
	producers[domain.ReportCustomer] = ProducerFunc(func(context.Context, domain.ReportType) (domain.ReportSnapshot, error) {
		panic("boom")
	})
	producers[domain.ReportSupport] = ProducerFunc(func(context.Context, domain.ReportType) (domain.ReportSnapshot, error) {
		return domain.ReportSnapshot{Type: domain.ReportSales, GeneratedAt: time.Now()}, nil
	})

	res := NewAggregator(producers, Options{}).Collect(context.Background())
	assert.Equal(t, []domain.ReportType{domain.ReportSales, domain.ReportMarketing}, types(res.Snapshots))
	require.Len(t, res.Missing, 2)
	assert.Contains(t, res.Missing[0].Err, "panicked")
	assert.Contains(t, res.Missing[1].Err, ErrMalformedReport.Error())
}

func TestCollect_TimeoutBoundsSlowProducer(t *testing.T) {
	producers := allProducers()
	producers[domain.ReportMarketing] = ProducerFunc(func(ctx context.Context, _ domain.ReportType) (domain.ReportSnapshot, error) {
		<-ctx.Done()
		return domain.ReportSnapshot{}, ctx.Err()
	})
	start := time.Now()
	res := NewAggregator(producers, Options{Timeout: 30 * time.Millisecond}).Collect(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, res.Snapshots, 3)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, domain.ReportMarketing, res.Missing[0].Type)
}

func TestCollect_CallsEachProducerOnce(t *testing.T) {
	var calls atomic.Int32
	producers := map[domain.ReportType]Producer{}
	for _, rt := range domain.ReportTypes {
		producers[rt] = ProducerFunc(func(ctx context.Context, t domain.ReportType) (domain.ReportSnapshot, error) {
			calls.Add(1)
			return fixed(nil)(ctx, t)
		})
	}
	NewAggregator(producers, Options{Concurrency: 1}).Collect(context.Background())
	assert.Equal(t, int32(4), calls.Load())
}

func TestHTTPProducer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/reports/sales":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"report_type":"SALES","generated_at":"2026-01-02T03:04:05Z","data_points":{"total_revenue":1200.5,"closed_deals":3}}`))
		case "/reports/support":
			_, _ = w.Write([]byte(`not json`))
		case "/reports/customer":
			_, _ = w.Write([]byte(`{"report_type":"MARKETING","data_points":{}}`))
		default:
			http.Error(w, "nope", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	p := NewHTTPProducer(srv.URL+"/", time.Second)
	ctx := context.Background()

	snap, err := p.GenerateReport(ctx, domain.ReportSales)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportSales, snap.Type)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), snap.GeneratedAt.UTC())
	assert.Equal(t, 1200.5, snap.DataPoints["total_revenue"])

	_, err = p.GenerateReport(ctx, domain.ReportSupport)
	assert.ErrorIs(t, err, ErrMalformedReport)

	_, err = p.GenerateReport(ctx, domain.ReportCustomer)
	assert.ErrorIs(t, err, ErrMalformedReport)

	_, err = p.GenerateReport(ctx, domain.ReportMarketing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestDecodeSnapshot_DefaultsGeneratedAt(t *testing.T) {
	snap, err := decodeSnapshot(domain.ReportSupport, []byte(`{"data_points":null}`))
	require.NoError(t, err)
	assert.False(t, snap.GeneratedAt.IsZero())
	assert.NotNil(t, snap.DataPoints)
}
