package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hamzaKhattat/pbx-call-control/internal/agi"
	"github.com/hamzaKhattat/pbx-call-control/internal/ami"
	"github.com/hamzaKhattat/pbx-call-control/internal/config"
	"github.com/hamzaKhattat/pbx-call-control/internal/db"
	"github.com/hamzaKhattat/pbx-call-control/internal/dialer"
	"github.com/hamzaKhattat/pbx-call-control/internal/dialtarget"
	"github.com/hamzaKhattat/pbx-call-control/internal/dispatch"
	"github.com/hamzaKhattat/pbx-call-control/internal/health"
	"github.com/hamzaKhattat/pbx-call-control/internal/ivr"
	"github.com/hamzaKhattat/pbx-call-control/internal/metrics"
	"github.com/hamzaKhattat/pbx-call-control/internal/outbound"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

var (
	configFile string
	initDB     bool
	dropDB     bool
	agiMode    bool
	verbose    bool
)

// services holds everything a running process owns and must close.
type services struct {
	cfg      *config.Config
	database *db.DB
	cache    *db.Cache
	store    *db.Store
	ami      *ami.Manager
	metrics  *metrics.PrometheusMetrics
	health   *health.HealthService
	server   *agi.Server
}

func main() {
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.BoolVar(&initDB, "init-db", false, "Initialize database")
	flag.BoolVar(&dropDB, "drop-existing", false, "Drop existing tables before -init-db")
	flag.BoolVar(&agiMode, "agi", false, "Run AGI server")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	if flag.NFlag() > 0 {
		runServerMode()
		return
	}

	runCLI()
}

func runServerMode() {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	svc, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", "error", err)
	}
	defer svc.close()

	if initDB {
		logger.Info("Initializing database schema", "drop_existing", dropDB)
		if err := db.InitializeDatabase(ctx, svc.database.DB, dropDB); err != nil {
			logger.Fatal("Failed to initialize database", "error", err)
		}
		logger.Info("Database initialization completed")
		return
	}

	if agiMode {
		runAGIServer(ctx, svc)
		return
	}

	fmt.Println("Usage:")
	fmt.Println("  callcontrol [command] [flags]")
	fmt.Println("  callcontrol -agi              # Run AGI server")
	fmt.Println("  callcontrol -init-db          # Initialize database")
	fmt.Println("")
	fmt.Println("Run 'callcontrol --help' for more information")
}

func runCLI() {
	rootCmd := &cobra.Command{
		Use:   "callcontrol",
		Short: "Asterisk AGI call control",
		Long:  "FastAGI call-control service for inbound IVR, outbound campaign and AI agent calls",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file path")

	rootCmd.AddCommand(
		createMenuCommands(),
		createRouteCommands(),
		createTrunkCommands(),
		createCallsCommands(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	config.Prepare(v, configFile)

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logConfig := cfg.Logger()
	if verbose {
		logConfig.Level = "debug"
	}
	if err := logger.Init(logConfig); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStorage connects the database and, when enabled, the Redis cache. A
// cache failure degrades to uncached reads.
func openStorage(ctx context.Context, cfg *config.Config) (*services, error) {
	database, err := db.Open(ctx, cfg.DB())
	if err != nil {
		return nil, err
	}

	svc := &services{cfg: cfg, database: database}

	if cfg.Redis.Enabled {
		cache, err := db.NewCache(ctx, cfg.Cache(), cfg.Redis.Prefix)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize Redis cache, continuing without cache")
		} else {
			svc.cache = cache
		}
	}

	svc.store = db.NewStore(database, svc.cache)
	return svc, nil
}

func (svc *services) close() {
	if svc.ami != nil {
		svc.ami.Close()
	}
	if svc.health != nil {
		svc.health.Stop()
	}
	if svc.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		svc.metrics.Shutdown(ctx)
		cancel()
	}
	if svc.cache != nil {
		svc.cache.Close()
	}
	if svc.database != nil {
		svc.database.Close()
	}
}

func (svc *services) buildHandler(ctx context.Context) (agi.Handler, *ivr.Registry) {
	cfg := svc.cfg

	registry := ivr.NewRegistry()
	recorder := ivr.NewRecorder(svc.store, ivr.RecordingConfig{
		Dir:    cfg.Recording.Dir,
		Prefix: cfg.Recording.Prefix,
	})
	tracker := ivr.NewTracker(svc.store, registry, recorder, svc.metrics)
	resolver := dialtarget.NewResolver(svc.store, cfg.IVR.OutboundContext)

	var publisher dialer.Publisher
	if svc.cache != nil {
		publisher = svc.cache
	}
	notifier := dialer.NewNotifier(svc.store, publisher, cfg.Dialer.EventsChannel)

	inbound := ivr.NewController(svc.store, tracker, resolver, ivr.Config{Prompts: cfg.Prompts()})
	outboundHandler := outbound.NewHandler(svc.store, tracker, resolver, notifier, outbound.Config{
		RelayAddress: cfg.Outbound.RelayAddress,
	})

	var hanger dispatch.ChannelHanger
	if cfg.Asterisk.AMI.Host != "" {
		svc.ami = ami.NewManager(cfg.AMI())
		svc.ami.ConnectOptional(ctx)
		hanger = svc.ami
	}

	router := dispatch.NewRouter(dispatch.Handlers{
		Inbound:  inbound,
		Outbound: outboundHandler,
		Agent:    dispatch.CallHandlerFunc(outboundHandler.HandleAgentCall),
	}, svc.store, notifier, hanger, dispatch.Config{
		InternalContext: cfg.IVR.InternalContext,
	})

	return router, registry
}

func (svc *services) startMonitoring(registry *ivr.Registry) {
	cfg := svc.cfg

	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			if err := svc.metrics.ServeHTTP(cfg.Monitoring.Metrics.Port); err != nil {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	if !cfg.Monitoring.Health.Enabled {
		return
	}

	svc.health = health.NewHealthService(cfg.Monitoring.Health.Port, registry)
	svc.health.RegisterLivenessCheck("database", health.CheckFunc(func(ctx context.Context) error {
		if !svc.database.IsHealthy() {
			return fmt.Errorf("database not healthy")
		}
		return nil
	}))
	svc.health.RegisterReadinessCheck("database", health.CheckFunc(svc.database.Ping))
	if svc.cache != nil {
		svc.health.RegisterReadinessCheck("redis", health.CheckFunc(svc.cache.Ping))
	}
	if svc.ami != nil {
		svc.health.RegisterReadinessCheck("ami", health.CheckFunc(svc.ami.Ping))
	}

	go func() {
		if err := svc.health.Start(); err != nil {
			logger.WithError(err).Error("Health server failed")
		}
	}()
}

func runAGIServer(ctx context.Context, svc *services) {
	logger.Info("Starting AGI server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc.metrics = metrics.NewPrometheusMetrics()
	handler, registry := svc.buildHandler(ctx)
	svc.startMonitoring(registry)

	svc.server = agi.NewServer(handler, svc.cfg.Server(), svc.metrics)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.server.Start()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down AGI server", "signal", sig.String())
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("AGI server failed")
		}
	}

	if err := svc.server.Stop(); err != nil {
		logger.WithError(err).Error("Error stopping AGI server")
	}

	logger.Info("Shutdown complete", "remaining_calls", registry.Count())
}
