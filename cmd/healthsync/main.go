package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tyemirov/healthsync/internal/httpapi"
	"github.com/tyemirov/healthsync/internal/observability"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var newLogger = func() (*zap.Logger, error) {
	return zap.NewProduction()
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "config.dotenv: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "healthsync",
		Short:             "Connects health data providers and syncs normalized activities and sleep",
		PersistentPreRunE: prepareServiceConfig,
		RunE:              runServer,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("listen_addr", defaultListenAddr, "HTTP listen address")
	flags.String("public_base_url", "", "Externally reachable base URL; provider redirect URIs are derived from it")
	flags.String("database_url", "", "Database URL for credentials and sync state (postgres:// or sqlite://; leave empty for in-memory store)")
	flags.String("records_database_url", "", "Database URL for normalized records; postgres:// uses a pgx pool (defaults to database_url)")
	flags.StringSlice("kafka_brokers", []string{}, "Kafka brokers that receive normalized records (optional)")
	flags.String("kafka_topic", defaultKafkaTopic, "Kafka topic for normalized records")
	flags.String("session_signing_key", "", "HS256 secret used to validate session cookies")
	flags.String("session_issuer", defaultSessionIssuer, "Expected session token issuer")
	flags.Duration("refresh_buffer", defaultRefreshBuffer, "Refresh access tokens expiring within this window")
	flags.Duration("pipeline_timeout", defaultPipelineTimeout, "Timeout for one provider sync pipeline")
	flags.Duration("staleness_window", defaultStalenessWindow, "Providers synced within this window are skipped")
	flags.Int("sync_lookback_days", defaultSyncLookbackDays, "Number of calendar days fetched per sync, including today")
	flags.String("sync_timezone", defaultSyncTimezone, "IANA zone that defines calendar days for the sync range")
	flags.Duration("state_ttl", defaultStateTTL, "Lifetime of OAuth state values issued by /connect")
	flags.Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	flags.StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	for _, providerID := range supportedProviders {
		flags.String(providerID+"_client_id", "", providerID+" OAuth client id")
		flags.String(providerID+"_client_secret", "", providerID+" OAuth client secret")
	}
	flags.VisitAll(func(flag *pflag.Flag) {
		_ = viper.BindPFlag(flag.Name, flag)
	})

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newSyncCommand())
	return rootCmd
}

type contextKey string

const serviceConfigContextKey contextKey = "serviceConfig"

func prepareServiceConfig(command *cobra.Command, arguments []string) error {
	serviceConfig, loadErr := LoadServiceConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serviceConfigContextKey, serviceConfig))
	return nil
}

func serviceConfigFrom(command *cobra.Command) (ServiceConfig, error) {
	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serviceConfigContextKey)
	}
	serviceConfig, ok := contextValue.(ServiceConfig)
	if !ok {
		return ServiceConfig{}, configError(configCodeUninitializedConfig, "service configuration not prepared; PersistentPreRunE must execute before RunE")
	}
	return serviceConfig, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	serviceConfig, err := serviceConfigFrom(command)
	if err != nil {
		return err
	}
	if err := serviceConfig.validateForServe(); err != nil {
		return err
	}

	logger, loggerErr := newLogger()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewPrometheusMetrics()
	app, err := buildApplication(command.Context(), serviceConfig, logger, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	sessionValidator, err := httpapi.NewSessionValidator(httpapi.SessionConfig{
		SigningKey: serviceConfig.SessionSigningKey,
		Issuer:     serviceConfig.SessionIssuer,
	})
	if err != nil {
		return err
	}
	apiServer, err := httpapi.NewServer(httpapi.Config{
		PublicBaseURL:  serviceConfig.PublicBaseURL,
		Session:        sessionValidator,
		States:         httpapi.NewMemoryStateStore(serviceConfig.StateTTL),
		StateTTL:       serviceConfig.StateTTL,
		Protocols:      app.registry,
		Store:          app.store,
		Syncer:         app.orchestrator,
		AutoSync:       app.autoSync,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
		Logger:         logger.Named("http"),
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))
	if serviceConfig.EnableCORS {
		corsMiddleware, corsErr := httpapi.ConfigureCORS(logger, serviceConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}
	apiServer.Mount(router)

	server := &http.Server{
		Addr:              serviceConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", serviceConfig.ListenAddr),
		zap.Strings("providers", app.registry.IDs()),
	)
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
