package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/crossbridge-dev/crossbridge/internal/adapter"
	"github.com/crossbridge-dev/crossbridge/internal/domain"
	"github.com/crossbridge-dev/crossbridge/internal/health"
	"github.com/crossbridge-dev/crossbridge/internal/logger"
)

// State is the sidecar's own lifecycle state (spec §4.4 state machine):
// starting -> running -> draining -> stopped, with a failed_to_start
// terminal on fatal config errors.
type State string

const (
	StateStarting      State = "starting"
	StateRunning       State = "running"
	StateDraining      State = "draining"
	StateStopped       State = "stopped"
	StateFailedToStart State = "failed_to_start"
)

// Config configures the sidecar HTTP server and its internal pipeline.
type Config struct {
	Host            string
	Port            int
	MaxQueueSize    int
	WorkerPoolSize  int
	Rates           map[EventType]float64
	Adaptive        AdaptiveConfig
	MaxCPUPercent   float64
	MaxMemoryMB     float64
	SamplingInterval time.Duration
	RetentionWindow  time.Duration
	ShutdownGrace   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            9090,
		MaxQueueSize:    10000,
		WorkerPoolSize:  2,
		Rates:           DefaultRates(),
		Adaptive:        DefaultAdaptiveConfig(),
		MaxCPUPercent:   5.0,
		MaxMemoryMB:     100.0,
		SamplingInterval: time.Second,
		RetentionWindow:  5 * time.Minute,
		ShutdownGrace:   30 * time.Second,
	}
}

// Sidecar is the long-lived HTTP observer described in spec §4.4,
// wiring Sampler -> Observer -> worker pool -> Handlers, plus the
// Profiler and Prometheus metrics. HTTP bootstrap is grounded on
// core/tool.go's BaseTool.Start (http.Server + http.ServeMux, graceful
// shutdown).
type Sidecar struct {
	cfg      Config
	sampler  *Sampler
	observer *Observer
	profiler *Profiler
	metrics  *health.Metrics
	health   *health.Aggregator
	log      logger.Logger

	server *http.Server
	state  atomic.Value // State

	startedAt time.Time
}

func New(cfg Config, metrics *health.Metrics, agg *health.Aggregator, log logger.Logger) *Sidecar {
	if log == nil {
		log = logger.NoOp{}
	}
	s := &Sidecar{
		cfg:      cfg,
		sampler:  NewSampler(cfg.Rates, cfg.Adaptive),
		observer: NewObserver(cfg.MaxQueueSize, cfg.WorkerPoolSize, log),
		profiler: NewProfiler(cfg.SamplingInterval, cfg.RetentionWindow),
		metrics:  metrics,
		health:   agg,
		log:      log.WithComponent("sidecar"),
	}
	s.state.Store(StateStarting)

	if agg != nil {
		agg.Register("sidecar_observer", s.observerHealth)
		agg.Register("profiler", s.profilerHealth)
	}

	return s
}

func (s *Sidecar) State() State {
	v, _ := s.state.Load().(State)
	return v
}

// RegisterHandler attaches an event-type handler to the internal
// pipeline, same contract as Observer.RegisterHandler.
func (s *Sidecar) RegisterHandler(eventType string, h Handler) {
	s.observer.RegisterHandler(eventType, h)
}

// Start brings the sidecar to the running state: launches the worker
// pool, the profiler loop, and the HTTP server.
func (s *Sidecar) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.observer.Start(ctx)
	go s.profiler.Run(ctx)
	go s.budgetEnforcerLoop(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvent)
	mux.HandleFunc("/events/batch", s.handleEventBatch)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetricsProxy())
	mux.HandleFunc("/parse/", s.handleParse)
	mux.HandleFunc("/stats", s.handleStats)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.recoverMiddleware(mux),
	}

	s.state.Store(StateRunning)
	s.log.Info("sidecar starting", map[string]interface{}{"addr": s.server.Addr})

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.state.Store(StateFailedToStart)
		return err
	}
	return nil
}

// Stop transitions to draining, then stopped: stop accepting new
// events, finish in-flight handlers up to grace, then shut the HTTP
// server down.
func (s *Sidecar) Stop(ctx context.Context) error {
	s.state.Store(StateDraining)
	s.observer.Drain(s.cfg.ShutdownGrace)
	s.state.Store(StateStopped)
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
	return nil
}

// ReloadConfig re-parses rates/budgets atomically without losing
// in-flight events, per spec §4.4's reload_config() transition.
func (s *Sidecar) ReloadConfig(cfg Config) {
	for t, rate := range cfg.Rates {
		s.sampler.SetRate(t, rate)
	}
	s.cfg.MaxCPUPercent = cfg.MaxCPUPercent
	s.cfg.MaxMemoryMB = cfg.MaxMemoryMB
	s.observer.Resize(cfg.MaxQueueSize)
	s.cfg.MaxQueueSize = cfg.MaxQueueSize
}

func (s *Sidecar) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("request panic recovered", map[string]interface{}{"panic": rec, "path": r.URL.Path})
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Sidecar) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var event domain.ObservedEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.ingest(r.Context(), event)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Sidecar) handleEventBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var events []domain.ObservedEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	for _, event := range events {
		s.ingest(r.Context(), event)
	}
	w.WriteHeader(http.StatusAccepted)
}

// ingest applies Sampler.decide before enqueueing, per the documented
// HTTP handler -> Sampler.decide -> Observer.enqueue pipeline (spec §4.4).
func (s *Sidecar) ingest(ctx context.Context, event domain.ObservedEvent) {
	eventType := EventTypeEvents
	if event.EventType == "test_start" || event.EventType == "test_end" {
		eventType = EventTypeTestEvent
	}
	if !s.sampler.Decide(eventType) {
		return
	}
	s.observer.Enqueue(event)
	if s.metrics != nil {
		s.metrics.EventObserved(ctx, event.EventType)
	}
}

func (s *Sidecar) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.health.Handler()(w, r)
}

func (s *Sidecar) handleMetricsProxy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The OTel Prometheus exporter registers its own collector
		// against the default Prometheus registry; no code in
		// CrossBridge mounts promhttp.Handler(), so the metrics are not
		// served over HTTP and this path answers 501.
		w.WriteHeader(http.StatusNotImplemented)
		_, _ = w.Write([]byte("metrics are not served over HTTP"))
	}
}

func (s *Sidecar) handleParse(w http.ResponseWriter, r *http.Request) {
	framework := r.URL.Path[len("/parse/"):]
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_ = body

	if _, adapterErr := adapter.Get(domain.Framework(framework)); adapterErr != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": adapterErr.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "parsed"})
}

func (s *Sidecar) handleStats(w http.ResponseWriter, r *http.Request) {
	length, dropped, enqueued := s.observer.Stats()
	summary := s.profiler.GetSummary(s.cfg.RetentionWindow)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"queue_length":   length,
		"events_dropped": dropped,
		"events_enqueued": enqueued,
		"drop_rate":      s.observer.DropRate(),
		"profiler":       summary,
		"state":          s.State(),
	})
}

// budgetEnforcerLoop periodically checks the profiler's budget status
// and shifts the sampler/queue accordingly (spec §4.4: over CPU budget
// lowers sampling rates to 25% once; over memory budget halves
// max_queue_size; each is restored after two consecutive in-budget samples).
func (s *Sidecar) budgetEnforcerLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SamplingInterval)
	defer ticker.Stop()

	haltedQueueSize := 0
	ratesReduced := false
	for {
		select {
		case <-ticker.C:
			status := s.profiler.IsOverBudget(s.cfg.MaxCPUPercent, s.cfg.MaxMemoryMB)
			if status.OverCPU && !ratesReduced {
				s.sampler.ScaleAll(0.25)
				ratesReduced = true
			}
			if !status.OverCPU && ratesReduced && s.profiler.Recovered() {
				s.sampler.ScaleAll(4)
				ratesReduced = false
			}
			if status.OverMemory && haltedQueueSize == 0 {
				haltedQueueSize = s.cfg.MaxQueueSize
				s.observer.Resize(haltedQueueSize / 2)
			}
			if !status.OverMemory && haltedQueueSize != 0 && s.profiler.Recovered() {
				s.observer.Resize(haltedQueueSize)
				haltedQueueSize = 0
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sidecar) observerHealth() health.ComponentHealth {
	dropRate := s.observer.DropRate()
	status := health.StatusHealthy
	msg := ""
	if dropRate >= 0.05 {
		status = health.StatusDegraded
		msg = "drop rate above 5%"
	}
	return health.ComponentHealth{
		Status:  status,
		Message: msg,
		Details: map[string]interface{}{"drop_rate": dropRate},
	}
}

func (s *Sidecar) profilerHealth() health.ComponentHealth {
	status := s.profiler.IsOverBudget(s.cfg.MaxCPUPercent, s.cfg.MaxMemoryMB)
	if status.OverCPU || status.OverMemory {
		return health.ComponentHealth{Status: health.StatusDegraded, Message: "resource budget exceeded"}
	}
	return health.ComponentHealth{Status: health.StatusHealthy}
}
