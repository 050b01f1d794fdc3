package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/brewlogic/internal/api"
	"github.com/nerrad567/brewlogic/internal/audit"
	"github.com/nerrad567/brewlogic/internal/brew"
	"github.com/nerrad567/brewlogic/internal/gateway"
	"github.com/nerrad567/brewlogic/internal/infrastructure/config"
	"github.com/nerrad567/brewlogic/internal/infrastructure/database"
	"github.com/nerrad567/brewlogic/internal/infrastructure/influxdb"
	"github.com/nerrad567/brewlogic/internal/infrastructure/logging"
	"github.com/nerrad567/brewlogic/internal/infrastructure/mqtt"
	"github.com/nerrad567/brewlogic/internal/infrastructure/redis"
	"github.com/nerrad567/brewlogic/internal/notify"
	"github.com/nerrad567/brewlogic/internal/recipe"
	"github.com/nerrad567/brewlogic/internal/stats"
	"github.com/nerrad567/brewlogic/internal/status"
	"github.com/nerrad567/brewlogic/migrations"
)

const (
	// gatewayReadyTimeout bounds the wait for the bridge to replay the
	// appliance's retained states at startup.
	gatewayReadyTimeout = 10 * time.Second

	// runHistoryRetention is how long finished runs are kept.
	runHistoryRetention = 90 * 24 * time.Hour

	// Simulated appliance cycle times.
	simulatedBrewTime      = 5 * time.Second
	simulatedActivatorTime = 2 * time.Second
)

// serveOptions are the flags of the serve command.
type serveOptions struct {
	global   *globalOptions
	simulate bool
}

func newServeCmd(opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recipe executor and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "drive a simulated appliance instead of the MQTT bridge")
	return cmd
}

// loadConfig applies the dotenv file and loads the configuration.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// runServe is the server lifecycle, separated from the command for
// testability. It returns nil on a clean shutdown.
func runServe(ctx context.Context, opts *serveOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting brewlogic",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts.global)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", opts.global.configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)
	checks := []namedCheck{{"database", db}}

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	statsStore := stats.NewSQLiteStore(db.DB)
	if pruned, pruneErr := statsStore.PruneRuns(ctx, runHistoryRetention); pruneErr != nil {
		log.Warn("pruning run history failed", "error", pruneErr)
	} else if pruned > 0 {
		log.Info("pruned run history", "runs", pruned)
	}

	// Load recipes
	recipeStore := recipe.NewFileStore(cfg.Recipes.File, cfg.Recipes.WriteExample)
	recipeStore.SetLogger(log)
	recipes := recipe.NewRegistry(recipeStore)
	recipes.SetLogger(log)
	if refreshErr := recipes.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading recipes: %w", refreshErr)
	}
	log.Info("recipes loaded", "path", cfg.Recipes.File, "recipes", recipes.Count())

	// Connect the appliance
	var (
		gw         gateway.Gateway
		mqttClient *mqtt.Client
	)
	if opts.simulate {
		gw = newSimulator(ctx, cfg, recipes)
		log.Warn("running against a simulated appliance, MQTT is not used")
	} else {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge, bridgeErr := startGateway(ctx, cfg, mqttClient, log)
		if bridgeErr != nil {
			return bridgeErr
		}
		defer func() {
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Warn("error stopping gateway", "error", stopErr)
			}
		}()
		gw = bridge
		checks = append(checks, namedCheck{"mqtt", mqttClient})
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		checks = append(checks, namedCheck{"influxdb", influxClient})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to Redis (optional)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		defer func() {
			if closeErr := redisClient.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		log.Info("Redis connected", "address", cfg.Redis.Address, "prefix", cfg.Redis.Prefix)
		checks = append(checks, namedCheck{"redis", redisClient})
	}

	// Recipe executor
	exec := brew.NewExecutor(gw, recipes, executorConfig(cfg))
	exec.SetLogger(log)
	exec.SetStatistics(statsStore)
	exec.SetNotifier(newNotifier(cfg, mqttClient, log))

	// Status listeners write on their own goroutines and outlive ctx so the
	// final abort is still recorded. Their stops run before the stores close.
	history := status.NewHistory(statsStore)
	history.SetLogger(log)
	defer runDetached(ctx, history.Run)()
	exec.AddListener(history.Listen)

	if influxClient != nil {
		exec.AddListener(status.NewRecorder(influxClient).Listen)
	}

	if mqttClient != nil {
		publisher := status.NewPublisher(mqttClient, byte(cfg.MQTT.QoS))
		publisher.SetLogger(log)
		defer runDetached(ctx, publisher.Run)()
		exec.AddListener(publisher.Listen)
		publisher.PublishState(exec.RunState())
	}

	if redisClient != nil {
		mirror := status.NewMirror(redisClient, cfg.Redis.RecentRuns)
		mirror.SetLogger(log)
		defer runDetached(ctx, mirror.Run)()
		exec.AddListener(mirror.Listen)
		mirror.PublishState(exec.RunState())
	}

	// HTTP API
	apiDeps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Brew:     exec,
		Faults:   exec.Faults(),
		Recipes:  recipes,
		Stats:    statsStore,
		Audit:    audit.NewSQLiteRepository(db.DB),
		DB:       db.DB,
		Version:  version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	apiServer, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	exec.AddListener(apiServer.HandleBrewEvent)

	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	if !cfg.AuthEnabled() {
		log.Warn("API authentication disabled, set security.jwt.secret to require bearer tokens")
	}

	checks = append(checks, namedCheck{"api", apiServer})
	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Stop an in-flight run so it is recorded as aborted.
	if exec.RunState().Status.Active() {
		log.Info("aborting active run")
		abortCtx, cancel := context.WithTimeout(context.Background(), cfg.Executor.AbortTimeout)
		if abortErr := exec.Abort(abortCtx); abortErr != nil {
			log.Error("error aborting run", "error", abortErr)
		}
		cancel()
	}

	log.Info("brewlogic stopped")
	return nil
}

// runDetached starts run on a context that ignores ctx's cancellation and
// returns a func that stops it and waits for it to drain.
func runDetached(ctx context.Context, run func(context.Context)) func() {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(runCtx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// startGateway mirrors the appliance bridge and waits briefly for its
// retained states. Missing entities are logged, not fatal: Start rejects
// recipes whose entities are still unknown.
func startGateway(ctx context.Context, cfg *config.Config, client *mqtt.Client, log *logging.Logger) (*gateway.MQTT, error) {
	gw := gateway.NewMQTT(client, cfg.Appliance.Bridge, byte(cfg.MQTT.QoS))
	gw.SetLogger(log)
	if err := gw.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting gateway: %w", err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, gatewayReadyTimeout)
	defer cancel()
	core := []string{cfg.Appliance.DrinkSelect, cfg.Appliance.StartSwitch}
	if err := gw.WaitReady(readyCtx, core); err != nil {
		if !errors.Is(err, gateway.ErrNotReady) {
			return nil, fmt.Errorf("waiting for appliance: %w", err)
		}
		log.Warn("appliance entities not reported yet", "error", err)
	} else {
		log.Info("appliance entities reported", "bridge", cfg.Appliance.Bridge)
	}
	return gw, nil
}

// newSimulator builds a simulated appliance exposing the configured
// entities and every activator the loaded recipes use.
func newSimulator(ctx context.Context, cfg *config.Config, recipes *recipe.Registry) *gateway.Memory {
	var activators []string
	seen := make(map[string]struct{})
	for _, r := range recipes.ListRecipes(ctx) {
		for _, id := range r.EntityIDs() {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				activators = append(activators, id)
			}
		}
	}

	return gateway.NewSimulator(gateway.SimulatorConfig{
		DrinkSelect:   cfg.Appliance.DrinkSelect,
		StartSwitch:   cfg.Appliance.StartSwitch,
		DoubleSwitch:  cfg.Appliance.DoubleSwitch,
		WorkState:     cfg.Appliance.WorkState,
		FaultSensors:  cfg.Appliance.FaultSensors,
		Activators:    activators,
		BrewTime:      simulatedBrewTime,
		ActivatorTime: simulatedActivatorTime,
	})
}

// executorConfig maps the appliance and executor sections onto brew.Config.
func executorConfig(cfg *config.Config) brew.Config {
	return brew.Config{
		Entities: brew.Entities{
			DrinkSelect:  cfg.Appliance.DrinkSelect,
			StartSwitch:  cfg.Appliance.StartSwitch,
			DoubleSwitch: cfg.Appliance.DoubleSwitch,
			FaultSensors: cfg.Appliance.FaultSensors,
		},
		Timing: brew.Timing{
			StartTimeout:       cfg.Executor.StartTimeout,
			DefaultStepTimeout: cfg.Executor.DefaultStepTimeout,
			SelectSettle:       cfg.Executor.SelectSettleDelay,
			ActivatorSettle:    cfg.Executor.ActivatorSettleDelay,
			FaultSettle:        cfg.Executor.FaultSettleDelay,
		},
		MaxFaultPauses: cfg.Executor.MaxFaultPauses,
		NotifyTimeout:  cfg.Executor.NotifyTimeout,
		AbortTimeout:   cfg.Executor.AbortTimeout,
	}
}

// newNotifier always logs notifications and also sends them to the UI
// topic when notifications are enabled and MQTT is connected.
func newNotifier(cfg *config.Config, client *mqtt.Client, log *logging.Logger) notify.Notifier {
	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	if cfg.Notify.Enabled && client != nil {
		notifiers = append(notifiers, notify.NewMQTTNotifier(client, cfg.Notify.Target, byte(cfg.MQTT.QoS)))
	}
	return notifiers
}

// namedCheck is one dependency verified before serving.
type namedCheck struct {
	name string
	dep  interface{ HealthCheck(context.Context) error }
}

// healthCheck verifies every connected dependency in order.
func healthCheck(ctx context.Context, checks []namedCheck) error {
	for _, c := range checks {
		if err := c.dep.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}
