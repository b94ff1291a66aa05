package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reportflow/internal/domain"
)

// HTTPProducer fetches a snapshot from the owning business service at
// GET {BaseURL}/reports/{type}.
type HTTPProducer struct {
	BaseURL string
	Client  *http.Client
}

type upstreamReport struct {
	ReportType  string          `json:"report_type"`
	GeneratedAt time.Time       `json:"generated_at"`
	DataPoints  json.RawMessage `json:"data_points"`
}

func NewHTTPProducer(baseURL string, timeout time.Duration) *HTTPProducer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProducer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProducer) GenerateReport(ctx context.Context, t domain.ReportType) (domain.ReportSnapshot, error) {
	url := fmt.Sprintf("%s/reports/%s", p.BaseURL, strings.ToLower(string(t)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.ReportSnapshot{}, fmt.Errorf("failed to create report request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return domain.ReportSnapshot{}, fmt.Errorf("report request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.ReportSnapshot{}, fmt.Errorf("failed to read report body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return domain.ReportSnapshot{}, fmt.Errorf("report %s: HTTP %d: %s", t, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return decodeSnapshot(t, body)
}

func decodeSnapshot(t domain.ReportType, body []byte) (domain.ReportSnapshot, error) {
	var up upstreamReport
	if err := json.Unmarshal(body, &up); err != nil {
		return domain.ReportSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	if up.ReportType != "" && !strings.EqualFold(up.ReportType, string(t)) {
		return domain.ReportSnapshot{}, fmt.Errorf("%w: asked for %s, got %s", ErrMalformedReport, t, up.ReportType)
	}
	points := map[string]any{}
	if len(up.DataPoints) > 0 && string(up.DataPoints) != "null" {
		if err := json.Unmarshal(up.DataPoints, &points); err != nil {
			return domain.ReportSnapshot{}, fmt.Errorf("%w: data_points: %v", ErrMalformedReport, err)
		}
	}
	if up.GeneratedAt.IsZero() {
		up.GeneratedAt = time.Now().UTC()
	}
	return domain.ReportSnapshot{Type: t, GeneratedAt: up.GeneratedAt, DataPoints: points}, nil
}
