package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"reportflow/internal/domain"
	"reportflow/internal/pipeline"
	"reportflow/internal/scheduler"
)

// Scheduler is the control surface the API drives.
type Scheduler interface {
	UpdateSchedule(ctx context.Context, taskName, expr string) (domain.ScheduleConfig, error)
	List(ctx context.Context) ([]domain.ScheduleConfig, error)
	Status(ctx context.Context, taskName string) (scheduler.Status, error)
	RunNow(ctx context.Context, taskName string) error
	Validator() *scheduler.Validator
}

// Summaries exposes the last finished notification cycle.
type Summaries interface {
	Last() (pipeline.Summary, bool)
}

type Options struct {
	Scheduler   Scheduler
	DefaultTask string
	// Summaries is optional; when set, a manual run of DefaultTask returns
	// the cycle summary.
	Summaries Summaries
	// Gatherer is optional; when set, metrics are served at MetricsPath.
	Gatherer    prometheus.Gatherer
	MetricsPath string
	Debug       bool
}

type Server struct {
	r    *chi.Mux
	opts Options
}

func NewServer(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, opts: opts}

	r.Get("/health", s.health)
	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/api", func(r chi.Router) {
		r.Put("/schedules", s.updateSchedule)
		r.Get("/schedules", s.listSchedules)
		r.Get("/schedules/{task}", s.getSchedule)
		r.Post("/tasks/{task}/run", s.runTask)
	})

	if opts.Debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type updateScheduleReq struct {
	TaskName       string `json:"task_name"`
	CronExpression string `json:"cron_expression"`
}

type scheduleResp struct {
	ID             string     `json:"id"`
	TaskName       string     `json:"task_name"`
	CronExpression string     `json:"cron_expression"`
	NextFireTime   *time.Time `json:"next_fire_time,omitempty"`
}

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var req updateScheduleReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.CronExpression == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "cron_expression is required")
		return
	}
	if req.TaskName == "" {
		req.TaskName = s.opts.DefaultTask
	}

	cfg, err := s.opts.Scheduler.UpdateSchedule(r.Context(), req.TaskName, req.CronExpression)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := scheduleResp{ID: cfg.ID, TaskName: cfg.TaskName, CronExpression: cfg.CronExpression}
	if next, err := s.opts.Scheduler.Validator().NextFireTime(cfg.CronExpression, time.Now()); err == nil {
		resp.NextFireTime = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.opts.Scheduler.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if cfgs == nil {
		cfgs = []domain.ScheduleConfig{}
	}
	writeJSON(w, http.StatusOK, cfgs)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	st, err := s.opts.Scheduler.Status(r.Context(), chi.URLParam(r, "task"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) runTask(w http.ResponseWriter, r *http.Request) {
	task := chi.URLParam(r, "task")
	if err := s.opts.Scheduler.RunNow(r.Context(), task); err != nil {
		s.fail(w, err)
		return
	}
	if task == s.opts.DefaultTask && s.opts.Summaries != nil {
		if sum, ok := s.opts.Summaries.Last(); ok {
			writeJSON(w, http.StatusOK, sum)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_name": task, "status": "done"})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	var invalid *scheduler.InvalidCronError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "invalid_cron_expression", invalid.Error())
	case errors.Is(err, scheduler.ErrUnknownTask):
		writeError(w, http.StatusNotFound, "unknown_task", err.Error())
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "already_running", err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "unknown_error", "")
	}
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, errorResp{Error: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
