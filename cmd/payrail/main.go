package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	"github.com/payrail/payrail/config"
	"github.com/payrail/payrail/pkg/accounts"
	"github.com/payrail/payrail/pkg/api"
	apievents "github.com/payrail/payrail/pkg/api/events"
	"github.com/payrail/payrail/pkg/api/handlers"
	"github.com/payrail/payrail/pkg/events"
	"github.com/payrail/payrail/pkg/logger"
	"github.com/payrail/payrail/pkg/metrics"
	"github.com/payrail/payrail/pkg/telemetry/tracing"
	"github.com/payrail/payrail/pkg/transaction"
	"github.com/payrail/payrail/pkg/transfer"
	"github.com/payrail/payrail/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	// Build CLI overrides map
	overrides := buildOverrides()

	// Load configuration
	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	// Initialize logger with configuration
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting Payrail",
		"version", version.Short(),
		"buildTime", version.BuildTime,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)

	log.Debug("Configuration loaded", "config", cfg.String())

	// Hot-reload the log level when a config file is in use.
	if *configPath != "" {
		watcher, werr := config.NewWatcher(*configPath, config.NewLoader(), config.WithWatchLogger(log))
		if werr != nil {
			log.Warn("Config watching disabled", "error", werr)
		} else {
			currentLevel := cfg.Log.Level
			watcher.OnChange(func(newCfg *config.Config) {
				if newCfg.Log.Level == currentLevel {
					return
				}
				log.Info("Log level changed", "from", currentLevel, "to", newCfg.Log.Level)
				currentLevel = newCfg.Log.Level
				log.SetLevel(logger.ParseLevel(currentLevel))
			})
			go func() {
				if werr := watcher.Watch(context.Background()); werr != nil && !errors.Is(werr, context.Canceled) {
					log.Warn("Config watcher stopped", "error", werr)
				}
			}()
			defer watcher.Stop()
		}
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize tracing
	tracingShutdown, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize transaction store
	var (
		repo     transaction.Repository
		badgerDB *badger.DB
	)
	switch cfg.Storage.Type {
	case "badger":
		badgerOpts := badger.DefaultOptions(cfg.Storage.Badger.Path).
			WithSyncWrites(cfg.Storage.Badger.SyncWrites).
			WithLogger(nil)
		if cfg.Storage.Badger.ValueLogFileSize > 0 {
			badgerOpts = badgerOpts.WithValueLogFileSize(cfg.Storage.Badger.ValueLogFileSize)
		}
		badgerDB, err = badger.Open(badgerOpts)
		if err != nil {
			log.Error("Failed to open Badger store", "error", err)
			os.Exit(1)
		}
		repo, err = transaction.NewBadgerRepository(badgerDB)
		if err != nil {
			log.Error("Failed to create Badger repository", "error", err)
			os.Exit(1)
		}
		log.Info("Initialized Badger storage", "path", cfg.Storage.Badger.Path)
	case "memory":
		repo = transaction.NewMemoryRepository()
		log.Info("Initialized memory storage")
	default:
		repo = transaction.NewMemoryRepository()
		log.Warn("Unknown storage type, using memory storage", "type", cfg.Storage.Type)
	}
	defer func() {
		if badgerDB != nil {
			if err := badgerDB.Close(); err != nil {
				log.Error("Error closing storage", "error", err)
			}
		}
	}()

	// Initialize metrics manager
	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	metricsManager := metrics.NewManager(metricsCfg)

	// Start metrics server if enabled
	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	// Initialize the event transport. Both transports expose the same
	// publish surface; subscribing differs, so the wildcard stream used by
	// the websocket bridge and the consumer is set up per transport.
	var (
		transport   events.Transport
		eventStream <-chan events.Message
		redisClient *redis.Client
		healthCheck = map[string]handlers.Checker{}
	)
	switch cfg.Events.Transport {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
		})
		redisTransport, err := events.NewRedisTransport(redisClient)
		if err != nil {
			log.Error("Failed to create Redis transport", "error", err)
			os.Exit(1)
		}
		stream, _, err := redisTransport.Subscribe(ctx, events.WildcardSubject(), 256)
		if err != nil {
			log.Error("Failed to subscribe to Redis events", "error", err)
			os.Exit(1)
		}
		transport = redisTransport
		eventStream = stream
		healthCheck["events"] = redisTransport.Ping
		log.Info("Initialized Redis event transport", "address", cfg.Events.Redis.Address)
	default:
		bus := events.NewMemoryBus()
		sub, err := bus.Subscribe(events.WildcardSubject(), 256)
		if err != nil {
			log.Error("Failed to subscribe to event bus", "error", err)
			os.Exit(1)
		}
		defer sub.Close()
		transport = bus
		eventStream = sub.C()
		log.Info("Initialized in-memory event transport")
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Error("Error closing Redis client", "error", err)
			}
		}
	}()

	// Publisher is fire-and-forget; publish failures surface through logs
	// and the degraded-mode gauge, never through the transfer flow.
	retryCfg := events.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Events.MaxRetries
	publisherOpts := []events.PublisherOption{
		events.WithRetryConfig(retryCfg),
		events.WithLogger(log),
	}
	if metricsManager.Enabled() {
		publisherOpts = append(publisherOpts, events.WithTelemetry(metricsManager))
	}
	publisher, err := events.NewPublisher(transport, publisherOpts...)
	if err != nil {
		log.Error("Failed to create event publisher", "error", err)
		os.Exit(1)
	}

	// Accounts service client
	accountsClient := accounts.NewHTTPClient(accounts.Config{
		BaseURL: cfg.Accounts.BaseURL,
		APIKey:  cfg.Accounts.APIKey,
		Timeout: cfg.Accounts.Timeout,
	})

	// Transaction service
	sagaOpts := []transfer.Option{
		transfer.WithStepTimeout(cfg.Transfer.StepTimeout),
		transfer.WithRunTimeout(cfg.Transfer.RunTimeout),
		transfer.WithLogger(log),
	}
	if metricsManager.Enabled() {
		sagaOpts = append(sagaOpts, transfer.WithMetrics(metricsManager))
	}
	serviceOpts := []transaction.ServiceOption{
		transaction.WithEventSink(transaction.NewBusEventSink(publisher)),
		transaction.WithServiceLogger(log),
		transaction.WithSagaOptions(sagaOpts...),
	}
	if metricsManager.Enabled() {
		serviceOpts = append(serviceOpts, transaction.WithServiceMetrics(metricsManager))
	}
	svc, err := transaction.NewService(repo, accountsClient, serviceOpts...)
	if err != nil {
		log.Error("Failed to create transaction service", "error", err)
		os.Exit(1)
	}

	// Event consumer logs every domain event and drops duplicates.
	consumer := events.NewConsumer(nil, log)
	go consumer.Run(ctx, eventStream)

	// Websocket bridge: bus -> broadcaster -> connected clients.
	broadcaster := apievents.NewBroadcaster()
	defer broadcaster.Close()

	var wsHandler *handlers.WebSocketHandler
	if cfg.Server.WebSocket.Enabled {
		wsHandler = handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
			AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
			MaxConnections: cfg.Server.WebSocket.MaxConnections,
			PingInterval:   cfg.Server.WebSocket.PingInterval,
			PongTimeout:    cfg.Server.WebSocket.PongTimeout,
		})
		defer wsHandler.Close()

		wsStream := broadcaster.Subscribe(256)
		go func() {
			for event := range wsStream {
				if err := wsHandler.Broadcast(handlers.EventMessage{
					Type:      event.Type,
					Timestamp: event.Timestamp,
					Payload:   event.Payload,
				}); err != nil {
					log.Debug("Websocket broadcast skipped", "error", err)
				}
			}
		}()

		// The broadcaster and the consumer cannot share one stream, so the
		// broadcaster re-subscribes through its own channel.
		wsEvents, err := subscribeStream(ctx, transport, 256)
		if err != nil {
			log.Error("Failed to subscribe websocket bridge", "error", err)
			os.Exit(1)
		}
		go broadcaster.Run(ctx, wsEvents)
	}

	// HTTP API
	txHandler := handlers.NewTransactionHandler(svc, log)
	healthHandler := handlers.NewHealthHandler(cfg.App.Name, version.Version, healthCheck)

	apiHandlers := &api.Handlers{
		Transaction: txHandler,
		Health:      healthHandler,
		WebSocket:   wsHandler,
	}
	if metricsManager.Enabled() {
		apiHandlers.Metrics = metricsManager
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("Payrail is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"storage", cfg.Storage.Type,
		"events", cfg.Events.Transport,
	)
	log.Info("Press Ctrl+C to stop")

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
	}

	log.Info("Payrail stopped gracefully")
}

// subscribeStream opens a wildcard subscription against whichever transport
// is configured.
func subscribeStream(ctx context.Context, transport events.Transport, buffer int) (<-chan events.Message, error) {
	switch t := transport.(type) {
	case *events.MemoryBus:
		sub, err := t.Subscribe(events.WildcardSubject(), buffer)
		if err != nil {
			return nil, err
		}
		return sub.C(), nil
	case *events.RedisTransport:
		stream, _, err := t.Subscribe(ctx, events.WildcardSubject(), buffer)
		if err != nil {
			return nil, err
		}
		return stream, nil
	default:
		return nil, fmt.Errorf("unsupported event transport %T", transport)
	}
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("Payrail - Funds Transfer Service\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("Payrail - Saga-orchestrated funds transfer service\n\n")
	fmt.Printf("Usage: payrail [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  payrail                                   # Run with default config\n")
	fmt.Printf("  payrail -config config.yaml               # Use specific config file\n")
	fmt.Printf("  payrail -port 9090 -log-level debug       # Override specific options\n")
	fmt.Printf("  payrail -version                          # Print version info\n")
}
