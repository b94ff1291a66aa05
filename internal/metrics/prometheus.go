package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink with client_golang collectors.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	reschedulesTotal *prometheus.CounterVec
	jobRunsTotal     *prometheus.CounterVec
	jobSkipsTotal    *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobsInFlight     prometheus.Gauge

	reportsTotal *prometheus.CounterVec

	notificationsTotal *prometheus.CounterVec
	sendDuration       *prometheus.HistogramVec
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		reschedulesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reportflow_reschedules_total",
			Help: "Reschedule requests by result.",
		}, []string{"result"}),
		jobRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reportflow_job_runs_total",
			Help: "Scheduled job executions started.",
		}, []string{"task"}),
		jobSkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reportflow_job_skips_total",
			Help: "Scheduled fires that did not run, by reason.",
		}, []string{"task", "reason"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reportflow_job_duration_seconds",
			Help:    "Duration of scheduled job executions.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"task"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reportflow_jobs_in_flight",
			Help: "Scheduled job executions currently running.",
		}),
		reportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reportflow_reports_collected_total",
			Help: "Report producer calls by type and outcome.",
		}, []string{"report_type", "outcome"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reportflow_notifications_total",
			Help: "Notification send attempts by channel and status.",
		}, []string{"channel", "status"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reportflow_notification_send_duration_seconds",
			Help:    "Channel send latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
	}
	for _, c := range []prometheus.Collector{
		s.reschedulesTotal, s.jobRunsTotal, s.jobSkipsTotal, s.jobDuration, s.jobsInFlight,
		s.reportsTotal, s.notificationsTotal, s.sendDuration,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("metrics: register collector")
		}
	}
	return s
}

func (s *PrometheusSink) RescheduleCompleted(result string) {
	s.reschedulesTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) JobStarted(task string) {
	s.jobRunsTotal.WithLabelValues(task).Inc()
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobCompleted(task string, d time.Duration) {
	s.jobsInFlight.Dec()
	s.jobDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (s *PrometheusSink) JobSkipped(task, reason string) {
	s.jobSkipsTotal.WithLabelValues(task, reason).Inc()
}

func (s *PrometheusSink) ReportCollected(reportType string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "missing"
	}
	s.reportsTotal.WithLabelValues(reportType, outcome).Inc()
}

func (s *PrometheusSink) NotificationSent(channel, status string, d time.Duration) {
	s.notificationsTotal.WithLabelValues(channel, status).Inc()
	s.sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}
