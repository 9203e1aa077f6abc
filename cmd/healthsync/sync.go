package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/healthsync/internal/observability"
	"github.com/tyemirov/healthsync/internal/syncer"
)

const configCodeMissingUser = "config.missing_user"

func newSyncCommand() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync for a user without starting the HTTP server",
		RunE:  runSync,
	}
	syncCmd.Flags().String("user", "", "User id to sync (required)")
	syncCmd.Flags().String("provider", "", "Sync only this provider, ignoring freshness")
	syncCmd.Flags().Bool("auto", false, "Apply the session-start gate: sync only when a provider is stale")
	return syncCmd
}

func runSync(command *cobra.Command, arguments []string) error {
	serviceConfig, err := serviceConfigFrom(command)
	if err != nil {
		return err
	}
	userID, _ := command.Flags().GetString("user")
	providerID, _ := command.Flags().GetString("provider")
	auto, _ := command.Flags().GetBool("auto")
	if strings.TrimSpace(userID) == "" {
		return configError(configCodeMissingUser, "--user must be provided")
	}

	logger, loggerErr := newLogger()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewCounterMetrics()
	app, err := buildApplication(command.Context(), serviceConfig, logger, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	var report syncer.SyncReport
	switch {
	case providerID != "":
		report, err = app.orchestrator.SyncProvider(command.Context(), userID, providerID)
	case auto:
		var ran bool
		report, ran, err = app.autoSync.RunOnSessionStart(command.Context(), userID)
		if err == nil && !ran {
			logger.Info("auto sync gate closed; every provider is fresh", zap.String("user_id", userID))
		}
	default:
		report, err = app.orchestrator.SyncAll(command.Context(), userID)
	}
	if err != nil {
		return err
	}
	logger.Info("sync finished", zap.String("user_id", userID), zap.Any("counters", metrics.Snapshot()))

	encoder := json.NewEncoder(command.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
