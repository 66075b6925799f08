package system

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/airspacelab/vectorsim/internal/archive"
	"github.com/airspacelab/vectorsim/internal/auth"
	"github.com/airspacelab/vectorsim/internal/bridge"
	"github.com/airspacelab/vectorsim/internal/cache"
	"github.com/airspacelab/vectorsim/internal/decision"
	"github.com/airspacelab/vectorsim/internal/env"
	"github.com/airspacelab/vectorsim/internal/monitor"
	"github.com/airspacelab/vectorsim/internal/patterns"
	"github.com/airspacelab/vectorsim/internal/reports"
	"github.com/airspacelab/vectorsim/internal/safety"
	"github.com/airspacelab/vectorsim/internal/server"
	"github.com/airspacelab/vectorsim/internal/stream"
	"github.com/airspacelab/vectorsim/pkg/events"
	"github.com/airspacelab/vectorsim/pkg/messaging"
)

// Config selects which components run and how they reach their
// backends. Empty connection strings disable the optional transports.
type Config struct {
	// Core pipeline.
	DecisionCapacity  int
	SafetyWindowHours float64
	PatternWindowSize int
	ReportDir         string
	ReportInterval    time.Duration

	// API server. Empty port disables it.
	HTTPPort  string
	JWTSecret string

	// Optional backends.
	NATSURL     string
	DatabaseURL string
	RedisAddr   string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	Scenario       string
	HealthInterval time.Duration
}

// System is the composition root for the analysis pipeline. Every
// component except the bus is optional at runtime: a backend that
// fails to initialize is logged and skipped, and the rest of the
// pipeline keeps working.
type System struct {
	cfg Config

	Bus      *events.Bus
	Tracker  *decision.Tracker
	Safety   *safety.Analyzer
	Patterns *patterns.Analyzer
	Reports  *reports.Generator
	Monitor  *monitor.Monitor
	Stream   *stream.Hub
	Auth     *auth.Service
	Server   *server.Server

	Writer    *reports.Writer
	Scheduler *reports.Scheduler
	Messaging *messaging.Client
	Bridge    *bridge.Bridge
	Archive   *archive.Archive
	Cache     *cache.Cache

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	group        *errgroup.Group
	shutdownOnce sync.Once

	lastArchived time.Time
	archivedIDs  map[string]bool
}

// New builds the in-process pipeline and attempts the optional
// transports. It never fails outright: the returned system contains
// whatever could be brought up.
func New(cfg Config) *System {
	s := &System{
		cfg:         cfg,
		archivedIDs: make(map[string]bool),
	}

	s.Bus = events.NewBus(events.BusConfig{})
	s.Tracker = decision.NewTracker(s.Bus, cfg.DecisionCapacity)
	s.Safety = safety.NewAnalyzer(s.Tracker, s.Bus, cfg.SafetyWindowHours)
	s.Patterns = patterns.NewAnalyzer(s.Bus, cfg.PatternWindowSize)
	s.Reports = reports.NewGenerator(s.Safety, s.Patterns)
	s.Stream = stream.NewHub(s.Bus)

	var sink monitor.Sink
	if cfg.InfluxURL != "" {
		influxSink, err := monitor.NewInfluxSink(monitor.InfluxConfig{
			URL:      cfg.InfluxURL,
			Token:    cfg.InfluxToken,
			Org:      cfg.InfluxOrg,
			Bucket:   cfg.InfluxBucket,
			Scenario: cfg.Scenario,
		})
		if err != nil {
			log.Printf("system: influx sink unavailable: %v", err)
		} else {
			sink = influxSink
		}
	}
	s.Monitor = monitor.New(s.Bus, sink)

	if cfg.ReportDir != "" {
		writer, err := reports.NewWriter(cfg.ReportDir)
		if err != nil {
			log.Printf("system: report writer unavailable: %v", err)
		} else {
			s.Writer = writer
			interval := cfg.ReportInterval
			if interval <= 0 {
				interval = time.Hour
			}
			s.Scheduler = reports.NewScheduler(s.Reports, writer, interval)
		}
	}

	if cfg.NATSURL != "" {
		client, err := messaging.NewClient(messaging.Config{
			URL:  cfg.NATSURL,
			Name: "vectorsim",
		})
		if err != nil {
			log.Printf("system: nats unavailable: %v", err)
		} else {
			s.Messaging = client
			s.Bridge = bridge.New(s.Bus, client, "vectorsim")
		}
	}

	if cfg.DatabaseURL != "" {
		arch, err := archive.Open(cfg.DatabaseURL)
		if err != nil {
			log.Printf("system: violation archive unavailable: %v", err)
		} else {
			s.Archive = arch
		}
	}

	if cfg.RedisAddr != "" {
		c := cache.New(cfg.RedisAddr, 0)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.Ping(ctx); err != nil {
			log.Printf("system: redis cache unavailable: %v", err)
			c.Close()
		} else {
			s.Cache = c
		}
		cancel()
	}

	if cfg.HTTPPort != "" {
		if cfg.JWTSecret != "" {
			s.Auth = auth.NewService(auth.Config{JWTSecret: cfg.JWTSecret})
		}
		deps := server.Deps{
			Auth:     s.Auth,
			Bus:      s.Bus,
			Tracker:  s.Tracker,
			Safety:   s.Safety,
			Patterns: s.Patterns,
			Reports:  s.Reports,
			Monitor:  s.Monitor,
			Stream:   s.Stream,
		}
		// Interface fields stay nil unless the backend is up; a typed
		// nil would defeat the server's availability checks.
		if s.Cache != nil {
			deps.Cache = s.Cache
		}
		if s.Archive != nil {
			deps.Archive = s.Archive
		}
		s.Server = server.New(server.Config{
			Port:         cfg.HTTPPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}, deps)
	}

	return s
}

// WrapEnv decorates an environment so its activity feeds the pipeline.
func (s *System) WrapEnv(e *env.Env) *EnvWrapper {
	return WrapEnv(e, s.Bus, 0)
}

// Start launches the long-running parts: the HTTP server, the NATS
// bridge, the report scheduler, health sampling and the archive loop.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)

	if s.Server != nil {
		srv := s.Server
		s.group.Go(func() error {
			return srv.Start()
		})
		s.group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if s.Bridge != nil {
		if err := s.Bridge.Start(); err != nil {
			log.Printf("system: bridge start: %v", err)
		}
	}

	if s.Scheduler != nil {
		s.Scheduler.Start(ctx)
	}

	healthInterval := s.cfg.HealthInterval
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	s.Monitor.StartHealthLoop(ctx, healthInterval)

	if s.Archive != nil || s.Cache != nil {
		s.group.Go(func() error {
			s.persistLoop(ctx)
			return nil
		})
	}

	log.Printf("system: started")
	return nil
}

// persistLoop periodically archives analyzed violations and alerts to
// Postgres and refreshes the Redis snapshot of the latest metrics.
func (s *System) persistLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.persistOnce(context.Background())
			return
		case <-ticker.C:
			s.persistOnce(ctx)
		}
	}
}

func (s *System) persistOnce(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if s.Archive != nil {
		for _, vr := range s.Safety.History(200) {
			if s.archivedIDs[vr.ViolationID] {
				continue
			}
			if err := s.Archive.StoreViolation(opCtx, vr); err != nil {
				log.Printf("system: archive violation %s: %v", vr.ViolationID, err)
				continue
			}
			s.archivedIDs[vr.ViolationID] = true
		}
		// Alerts are archived unconditionally; the upsert keeps
		// acknowledgement state current.
		for _, alert := range s.Reports.AllAlerts() {
			if err := s.Archive.StoreAlert(opCtx, alert); err != nil {
				log.Printf("system: archive alert %s: %v", alert.AlertID, err)
			}
		}
	}

	if s.Cache != nil {
		if err := s.Cache.SetMetricsSummary(opCtx, s.Monitor.Current()); err != nil {
			log.Printf("system: cache metrics: %v", err)
		}
		for _, reportType := range []string{reports.TypeDailySummary, reports.TypePerformanceAnalysis, reports.TypeSafetyAssessment} {
			latest := s.Reports.Reports(reportType, 1)
			if len(latest) == 0 {
				continue
			}
			if err := s.Cache.SetLatestReport(opCtx, latest[0]); err != nil {
				log.Printf("system: cache report %s: %v", latest[0].ReportID, err)
			}
		}
	}

	s.lastArchived = time.Now()
}

// Status summarizes component availability and pipeline statistics.
func (s *System) Status() map[string]any {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	status := map[string]any{
		"running": running,
		"components": map[string]bool{
			"tracker":   s.Tracker != nil,
			"safety":    s.Safety != nil,
			"patterns":  s.Patterns != nil,
			"reports":   s.Reports != nil,
			"monitor":   s.Monitor != nil,
			"stream":    s.Stream != nil,
			"server":    s.Server != nil,
			"bridge":    s.Bridge != nil,
			"archive":   s.Archive != nil,
			"cache":     s.Cache != nil,
			"scheduler": s.Scheduler != nil,
		},
	}
	if s.Tracker != nil {
		status["decision_stats"] = s.Tracker.Statistics()
	}
	if s.Stream != nil {
		status["stream_clients"] = s.Stream.ClientCount()
	}
	if s.Bridge != nil {
		status["bridge_stats"] = s.Bridge.Stats()
	}
	return status
}

// Shutdown stops everything in reverse dependency order. Safe to call
// more than once.
func (s *System) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.running = false
		cancel := s.cancel
		group := s.group
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if group != nil {
			if err := group.Wait(); err != nil {
				log.Printf("system: shutdown: %v", err)
			}
		}

		if s.Scheduler != nil {
			s.Scheduler.Stop()
		}
		if s.Bridge != nil {
			s.Bridge.Stop()
		}
		s.Monitor.StopHealthLoop()
		s.Stream.Shutdown()
		s.Patterns.Shutdown()
		s.Safety.Shutdown()
		s.Tracker.Shutdown()
		s.Bus.Shutdown()
		s.Monitor.Shutdown()

		if s.Messaging != nil {
			if err := s.Messaging.Close(); err != nil {
				log.Printf("system: close nats: %v", err)
			}
		}
		if s.Archive != nil {
			if err := s.Archive.Close(); err != nil {
				log.Printf("system: close archive: %v", err)
			}
		}
		if s.Cache != nil {
			if err := s.Cache.Close(); err != nil {
				log.Printf("system: close cache: %v", err)
			}
		}

		log.Printf("system: shutdown complete")
	})
}
