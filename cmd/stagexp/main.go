package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/analytics"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/api"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/circuitbreaker"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/composer"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/config"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/delivery"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/dispatcher"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/experiment"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/metrics"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/rules"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/selector"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store/memory"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store/postgres"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store/sqlite"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/sweeper"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/timing"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/tracker"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/transport/channel"
)

// recordStore is the union of the store capabilities serve wires into the
// engine. Every driver (postgres, sqlite, memory) satisfies all of them.
type recordStore interface {
	tracker.Store
	sweeper.Store
	experiment.Store
	dispatcher.Store
	selector.Stats
	api.Store
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`stagexp - funnel re-engagement experiment engine

Usage:
  stagexp <command>

Commands:
  serve      Start the tracker, sweeper, and dispatcher
  validate   Validate configuration and cohort rules (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  STORE_DRIVER              Record store driver: postgres, sqlite, memory (default: "postgres")
  DATABASE_URL              PostgreSQL connection string (required for postgres)
  SQLITE_PATH               SQLite database file (default: "stagexp.db")
  REDIS_ADDR                Redis address for analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  RULES_PATH                Cohort rules YAML file (default: embedded rules)
  TIMEZONE                  Send-window timezone (default: "UTC")

  SWEEP_INTERVAL            Deadline sweep interval (default: "1m")
  SWEEP_BATCH_SIZE          Max due journeys per sweep (default: "100")
  DISPATCH_INTERVAL         Send dispatch interval (default: "1m")
  DISPATCH_BATCH_SIZE       Max due sends per cycle (default: "50")
  SEND_TIMEOUT              Single delivery attempt timeout (default: "30s")
  MAX_SEND_ATTEMPTS         Attempts before a send is dead-lettered (default: "5")
  DEDUP_WINDOW              Per-user experiment dedup window (default: "1h")

  EPSILON                   Exploration probability in [0, 1] (default: "0.2")
  MIN_SAMPLE                Sends before a combination's stats count (default: "5")
  TOP_K                     Exploit among the K best combinations (default: "5")

  PUSH_GATEWAY_URL          Push delivery gateway URL (optional)
  WHATSAPP_GATEWAY_URL      WhatsApp delivery gateway URL (optional)
  SMS_GATEWAY_URL           SMS delivery gateway URL (optional)
  DELIVERY_SECRET           Signing secret for gateway requests (optional)
  CIRCUIT_BREAKER_THRESHOLD Failures before a channel opens, "0" disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open-circuit cooldown (default: "2m")

  EVENTBUS_BUFFER_SIZE      In-process event buffer size (default: "100")
  TRACKER_DRAIN_TIMEOUT     Event drain timeout on shutdown (default: "30s")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port, "0" serves on HTTP_ADDR (default: "0")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	ruleset, err := rules.Load(cfg.RulesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rules error: %v\n", err)
		return exitInvalidConfig
	}
	if cfg.RulesPath != "" {
		log.Printf("stagexp: rules loaded from %s (%d cohorts)", cfg.RulesPath, len(ruleset.Cohorts()))
	} else {
		log.Printf("stagexp: using embedded rules (%d cohorts)", len(ruleset.Cohorts()))
	}

	planner, err := timing.NewPlanner(cfg.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build send-window planner: %v\n", err)
		return exitRuntimeError
	}

	// Open the record store for the configured driver.
	var st recordStore
	var healthDB *sql.DB

	switch cfg.StoreDriver {
	case "sqlite":
		sq, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open sqlite store: %v\n", err)
			return exitRuntimeError
		}
		defer sq.Close()
		st = sq
		healthDB = sq.DB()
		log.Printf("stagexp: sqlite store open (path=%s)", cfg.SQLitePath)

	case "memory":
		st = memory.New()
		log.Println("stagexp: memory store open; records will not survive a restart")

	default: // postgres
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitRuntimeError
		}
		defer db.Close()

		// Configure connection pool
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

		log.Printf("stagexp: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

		if err := db.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			return exitRuntimeError
		}

		pg := postgres.New(db)
		schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
		err = pg.EnsureSchema(schemaCtx)
		cancelSchema()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to ensure schema: %v\n", err)
			return exitRuntimeError
		}
		st = pg
		healthDB = db
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

		if cfg.MetricsPort > 0 {
			// Serve metrics on a dedicated port.
			log.Printf("stagexp: metrics enabled (port=%d, path=%s)", cfg.MetricsPort, cfg.MetricsPath)
			metricsMux := http.NewServeMux()
			metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
			metricsServer = &http.Server{
				Addr:    ":" + strconv.Itoa(cfg.MetricsPort),
				Handler: metricsMux,
			}
			go func() {
				log.Printf("stagexp: metrics server listening on :%d", cfg.MetricsPort)
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("stagexp: metrics server error: %v", err)
				}
			}()
		} else {
			log.Printf("stagexp: metrics enabled on main server (path=%s)", cfg.MetricsPath)
		}
	} else {
		log.Println("stagexp: METRICS_ENABLED not set; metrics disabled")
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	// Wire analytics if Redis is configured
	var analyticsSink *analytics.RedisSink
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		analyticsSink = analytics.NewRedisSink(redisClient, analytics.DefaultConfig())
		log.Printf("stagexp: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("stagexp: REDIS_ADDR not set; analytics disabled")
	}

	seed := time.Now().UnixNano()
	sel := selector.New(
		selector.Config{
			Epsilon:   cfg.Epsilon,
			MinSample: int64(cfg.MinSample),
			TopK:      cfg.TopK,
		},
		st,
		ruleset,
		seed,
	)
	comp := composer.New(ruleset, seed)

	factory := experiment.NewFactory(
		experiment.FactoryConfig{DedupWindow: cfg.DedupWindow},
		st,
		sel,
		comp,
		planner,
	)
	resolver := experiment.NewResolver(st)
	if metricsSink != nil {
		factory = factory.WithMetrics(metricsSink)
		resolver = resolver.WithMetrics(metricsSink)
	}
	if analyticsSink != nil {
		factory = factory.WithAnalytics(analyticsSink)
		resolver = resolver.WithAnalytics(analyticsSink)
	}

	trk := tracker.New(ruleset, st, factory, resolver).
		WithDrainTimeout(cfg.TrackerDrainTimeout)
	if metricsSink != nil {
		trk = trk.WithMetrics(metricsSink)
	}

	swp := sweeper.New(
		sweeper.Config{Interval: cfg.SweepInterval, BatchSize: cfg.SweepBatchSize},
		ruleset,
		st,
		factory,
	)
	if metricsSink != nil {
		swp = swp.WithMetrics(metricsSink)
	}

	// Pick the delivery adapter: HTTP gateways when any are configured,
	// otherwise log-only delivery for local development.
	gateways := make(map[string]string)
	if cfg.PushGatewayURL != "" {
		gateways[domain.ChannelPush] = cfg.PushGatewayURL
	}
	if cfg.WhatsAppGatewayURL != "" {
		gateways[domain.ChannelWhatsApp] = cfg.WhatsAppGatewayURL
	}
	if cfg.SMSGatewayURL != "" {
		gateways[domain.ChannelSMS] = cfg.SMSGatewayURL
	}

	var adapter delivery.Adapter
	if len(gateways) > 0 {
		adapter = delivery.NewHTTPAdapter(gateways, cfg.DeliverySecret)
		log.Printf("stagexp: delivery gateways configured (%d channels)", len(gateways))
	} else {
		adapter = delivery.NewLogAdapter()
		log.Println("stagexp: no gateway URLs set; deliveries will be logged, not sent")
	}

	disp := dispatcher.New(
		dispatcher.Config{
			Interval:    cfg.DispatchInterval,
			BatchSize:   cfg.DispatchBatchSize,
			SendTimeout: cfg.SendTimeout,
			MaxAttempts: cfg.MaxSendAttempts,
		},
		st,
		adapter,
	)
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("stagexp: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	} else {
		log.Println("stagexp: CIRCUIT_BREAKER_THRESHOLD=0; circuit breaker disabled")
	}
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}
	if analyticsSink != nil {
		disp = disp.WithAnalytics(analyticsSink)
	}

	// Create API handler with the same store instance
	apiHandler := api.NewHandler(st, bus, factory)
	if healthDB != nil {
		apiHandler = apiHandler.WithHealthChecker(healthDB)
	}
	if metricsSink != nil {
		apiHandler = apiHandler.WithMetrics(metricsSink)
	}

	var handler http.Handler = apiHandler
	if cfg.MetricsEnabled && cfg.MetricsPort == 0 {
		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		mux.Handle("/", apiHandler)
		handler = mux
	}

	// Start HTTP server with API handler
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	go func() {
		log.Printf("stagexp: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("stagexp: http server error: %v", err)
		}
	}()

	// Use separate contexts for tracker, sweeper, and dispatcher to enable ordered shutdown.
	trackerCtx, cancelTracker := context.WithCancel(context.Background())
	sweeperCtx, cancelSweeper := context.WithCancel(context.Background())
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())

	var trackerWg sync.WaitGroup
	var sweeperWg sync.WaitGroup
	var dispatcherWg sync.WaitGroup

	trackerWg.Add(1)
	go func() {
		defer trackerWg.Done()
		trk.Run(trackerCtx, bus.Channel())
	}()

	sweeperWg.Add(1)
	go func() {
		defer sweeperWg.Done()
		swp.Run(sweeperCtx)
	}()

	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx)
	}()

	log.Printf("stagexp: started (driver=%s, sweep=%s, dispatch=%s, http=%s)",
		cfg.StoreDriver, cfg.SweepInterval, cfg.DispatchInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("stagexp: received signal %v, shutting down", received)

	// Phase 1: Stop the HTTP server so no new events arrive on the bus.
	log.Println("stagexp: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("stagexp: http server shutdown error: %v", err)
	}
	log.Println("stagexp: http server stopped")

	// Phase 2: Stop the sweeper (no new deadline experiments)
	log.Println("stagexp: stopping sweeper...")
	cancelSweeper()
	sweeperWg.Wait()
	log.Println("stagexp: sweeper stopped")

	// Phase 3: Stop the tracker (will drain buffered events before returning)
	log.Println("stagexp: stopping tracker (draining events)...")
	cancelTracker()
	trackerWg.Wait()
	log.Println("stagexp: tracker stopped")

	// Phase 4: Stop the dispatcher. Undelivered sends stay pending in the
	// store and are picked up on the next boot.
	log.Println("stagexp: stopping dispatcher...")
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Println("stagexp: dispatcher stopped")

	// Phase 5: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("stagexp: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("stagexp: metrics server shutdown error: %v", err)
		}
		log.Println("stagexp: metrics server stopped")
	}

	log.Println("stagexp: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	ruleset, err := rules.Load(cfg.RulesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rules: %v\n", err)
		return exitInvalidConfig
	}

	fmt.Printf("configuration valid (%d cohorts)\n", len(ruleset.Cohorts()))
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("stagexp version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
