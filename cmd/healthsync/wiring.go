package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tyemirov/healthsync/internal/normalize"
	"github.com/tyemirov/healthsync/internal/observability"
	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/providers/fitbit"
	"github.com/tyemirov/healthsync/internal/providers/googlefit"
	"github.com/tyemirov/healthsync/internal/providers/strava"
	"github.com/tyemirov/healthsync/internal/providers/withings"
	"github.com/tyemirov/healthsync/internal/refresh"
	"github.com/tyemirov/healthsync/internal/sink"
	"github.com/tyemirov/healthsync/internal/store"
	"github.com/tyemirov/healthsync/internal/syncer"
)

// application is the fully wired sync core shared by serve and sync.
type application struct {
	store        store.Store
	registry     *providers.Registry
	orchestrator *syncer.Orchestrator
	autoSync     *syncer.AutoSyncScheduler
	closers      []func() error
}

func (app *application) Close() error {
	var firstErr error
	for index := len(app.closers) - 1; index >= 0; index-- {
		if err := app.closers[index](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var buildProviderRegistry = func(configuration ServiceConfig) *providers.Registry {
	protocols := make([]providers.Protocol, 0, len(configuration.Providers))
	for providerID, credentials := range configuration.Providers {
		switch providerID {
		case fitbit.ProviderID:
			protocols = append(protocols, fitbit.New(fitbit.Config{ClientID: credentials.ClientID, ClientSecret: credentials.ClientSecret}))
		case googlefit.ProviderID:
			protocols = append(protocols, googlefit.New(googlefit.Config{ClientID: credentials.ClientID, ClientSecret: credentials.ClientSecret}))
		case strava.ProviderID:
			protocols = append(protocols, strava.New(strava.Config{ClientID: credentials.ClientID, ClientSecret: credentials.ClientSecret}))
		case withings.ProviderID:
			protocols = append(protocols, withings.New(withings.Config{ClientID: credentials.ClientID, ClientSecret: credentials.ClientSecret}))
		}
	}
	return providers.NewRegistry(protocols...)
}

func buildApplication(ctx context.Context, configuration ServiceConfig, logger *zap.Logger, metrics observability.MetricsRecorder) (*application, error) {
	app := &application{registry: buildProviderRegistry(configuration)}

	var databaseStore *store.DatabaseStore
	if configuration.DatabaseURL != "" {
		persistentStore, err := store.NewDatabaseStore(ctx, configuration.DatabaseURL)
		if err != nil {
			return nil, err
		}
		databaseStore = persistentStore
		app.store = persistentStore
		app.closers = append(app.closers, persistentStore.Close)
		logger.Info("using persistent credential store", zap.String("driver", persistentStore.Driver()))
	} else {
		app.store = store.NewMemoryStore()
		logger.Info("using in-memory credential store")
	}

	recordSink, err := buildRecordSink(ctx, configuration, databaseStore, logger, app)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	refresher := refresh.NewTokenRefresher(app.store, app.store, app.registry, refresh.Options{
		Buffer:   configuration.RefreshBuffer,
		Logger:   logger.Named("refresh"),
		Recorder: metrics,
	})
	app.orchestrator = syncer.NewOrchestrator(syncer.Dependencies{
		Connections: app.store,
		SyncState:   app.store,
		Protocols:   app.registry,
		Tokens:      refresher,
		Fetcher:     providers.NewDataClient(),
		Normalizer:  normalize.NewDefault(logger.Named("normalize")),
		Sink:        recordSink,
	}, syncer.Options{
		PipelineTimeout: configuration.PipelineTimeout,
		StalenessWindow: configuration.StalenessWindow,
		LookbackDays:    configuration.LookbackDays,
		Location:        configuration.SyncLocation,
		Logger:          logger.Named("sync"),
		Metrics:         metrics,
	})
	app.autoSync = syncer.NewAutoSyncScheduler(app.store, app.orchestrator.Freshness(), app.orchestrator, logger.Named("auto_sync"))
	return app, nil
}

// buildRecordSink persists records to the records database (pgx for postgres, GORM otherwise),
// falling back to the credential database, and fans out to Kafka when brokers are configured.
func buildRecordSink(ctx context.Context, configuration ServiceConfig, databaseStore *store.DatabaseStore, logger *zap.Logger, app *application) (sink.RecordSink, error) {
	sinks := make([]sink.RecordSink, 0, 2)
	switch {
	case strings.HasPrefix(configuration.RecordsDatabaseURL, "postgres://") || strings.HasPrefix(configuration.RecordsDatabaseURL, "postgresql://"):
		pool, err := sink.BuildPool(ctx, configuration.RecordsDatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := sink.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("record_sink.schema: %w", err)
		}
		postgresSink := sink.NewPostgresSink(pool)
		app.closers = append(app.closers, func() error { postgresSink.Close(); return nil })
		sinks = append(sinks, postgresSink)
		logger.Info("using postgres record sink")
	case configuration.RecordsDatabaseURL != "":
		databaseSink, err := sink.NewDatabaseSink(ctx, configuration.RecordsDatabaseURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, databaseSink.Close)
		sinks = append(sinks, databaseSink)
		logger.Info("using database record sink")
	case databaseStore != nil:
		databaseSink, err := sink.NewDatabaseSinkWithDB(ctx, databaseStore.DB(), databaseStore.Driver())
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, databaseSink)
		logger.Info("using credential database for records", zap.String("driver", databaseStore.Driver()))
	default:
		sinks = append(sinks, sink.NewMemorySink())
		logger.Info("using in-memory record sink")
	}

	if len(configuration.KafkaBrokers) > 0 {
		writer := sink.NewKafkaWriter(sink.KafkaConfig{Brokers: configuration.KafkaBrokers})
		app.closers = append(app.closers, writer.Close)
		sinks = append(sinks, sink.NewKafkaSink(writer, configuration.KafkaTopic))
		logger.Info("publishing normalized records", zap.Strings("brokers", configuration.KafkaBrokers), zap.String("topic", configuration.KafkaTopic))
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sink.NewFanOut(sinks...), nil
}
