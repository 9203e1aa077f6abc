package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tyemirov/healthsync/internal/providers/fitbit"
	"github.com/tyemirov/healthsync/internal/providers/googlefit"
	"github.com/tyemirov/healthsync/internal/providers/strava"
	"github.com/tyemirov/healthsync/internal/providers/withings"
)

const (
	configCodeNoProviders          = "config.no_providers"
	configCodeIncompleteProvider   = "config.incomplete_provider"
	configCodeInvalidDuration      = "config.invalid_duration"
	configCodeInvalidLookbackDays  = "config.invalid_sync_lookback_days"
	configCodeInvalidTimezone      = "config.invalid_sync_timezone"
	configCodeMissingKafkaTopic    = "config.missing_kafka_topic"
	configCodeMissingCORSOrigins   = "config.missing_cors_allowed_origins"
	configCodeMissingPublicBaseURL = "config.missing_public_base_url"
	configCodeMissingSigningKey    = "config.missing_session_signing_key"
	configCodeUninitializedConfig  = "config.uninitialized_service_config"
)

const (
	defaultKafkaTopic       = "health.records.normalized"
	defaultSessionIssuer    = "healthsync"
	defaultListenAddr       = ":8080"
	defaultStateTTL         = 10 * time.Minute
	defaultRefreshBuffer    = 5 * time.Minute
	defaultPipelineTimeout  = 30 * time.Second
	defaultStalenessWindow  = 24 * time.Hour
	defaultSyncLookbackDays = 7
	defaultSyncTimezone     = "UTC"
)

var supportedProviders = []string{fitbit.ProviderID, googlefit.ProviderID, strava.ProviderID, withings.ProviderID}

// ProviderCredentials are the OAuth client credentials registered with one provider.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

// ServiceConfig is the validated runtime configuration shared by every command.
type ServiceConfig struct {
	ListenAddr         string
	PublicBaseURL      string
	DatabaseURL        string
	RecordsDatabaseURL string
	KafkaBrokers       []string
	KafkaTopic         string
	SessionSigningKey  []byte
	SessionIssuer      string
	RefreshBuffer      time.Duration
	PipelineTimeout    time.Duration
	StalenessWindow    time.Duration
	StateTTL           time.Duration
	LookbackDays       int
	SyncLocation       *time.Location
	EnableCORS         bool
	CORSAllowedOrigins []string
	Providers          map[string]ProviderCredentials
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServiceConfig reads viper and validates what every command needs.
func LoadServiceConfig() (ServiceConfig, error) {
	configuration := ServiceConfig{
		ListenAddr:         viper.GetString("listen_addr"),
		PublicBaseURL:      strings.TrimSpace(viper.GetString("public_base_url")),
		DatabaseURL:        strings.TrimSpace(viper.GetString("database_url")),
		RecordsDatabaseURL: strings.TrimSpace(viper.GetString("records_database_url")),
		KafkaBrokers:       nonEmpty(viper.GetStringSlice("kafka_brokers")),
		KafkaTopic:         strings.TrimSpace(viper.GetString("kafka_topic")),
		SessionSigningKey:  []byte(viper.GetString("session_signing_key")),
		SessionIssuer:      viper.GetString("session_issuer"),
		RefreshBuffer:      viper.GetDuration("refresh_buffer"),
		PipelineTimeout:    viper.GetDuration("pipeline_timeout"),
		StalenessWindow:    viper.GetDuration("staleness_window"),
		StateTTL:           viper.GetDuration("state_ttl"),
		LookbackDays:       viper.GetInt("sync_lookback_days"),
		EnableCORS:         viper.GetBool("enable_cors"),
		CORSAllowedOrigins: nonEmpty(viper.GetStringSlice("cors_allowed_origins")),
		Providers:          make(map[string]ProviderCredentials),
	}
	if configuration.ListenAddr == "" {
		configuration.ListenAddr = defaultListenAddr
	}
	if configuration.SessionIssuer == "" {
		configuration.SessionIssuer = defaultSessionIssuer
	}

	for _, providerID := range supportedProviders {
		credentials := ProviderCredentials{
			ClientID:     strings.TrimSpace(viper.GetString(providerID + "_client_id")),
			ClientSecret: strings.TrimSpace(viper.GetString(providerID + "_client_secret")),
		}
		switch {
		case credentials.ClientID == "" && credentials.ClientSecret == "":
			continue
		case credentials.ClientID == "" || credentials.ClientSecret == "":
			return ServiceConfig{}, configError(configCodeIncompleteProvider, providerID+"_client_id and "+providerID+"_client_secret must be provided together")
		}
		configuration.Providers[providerID] = credentials
	}
	if len(configuration.Providers) == 0 {
		return ServiceConfig{}, configError(configCodeNoProviders, "at least one provider client id and secret must be provided")
	}

	for name, value := range map[string]time.Duration{
		"refresh_buffer":   configuration.RefreshBuffer,
		"pipeline_timeout": configuration.PipelineTimeout,
		"staleness_window": configuration.StalenessWindow,
		"state_ttl":        configuration.StateTTL,
	} {
		if value <= 0 {
			return ServiceConfig{}, configError(configCodeInvalidDuration, name+" must be greater than zero")
		}
	}
	if configuration.LookbackDays <= 0 {
		return ServiceConfig{}, configError(configCodeInvalidLookbackDays, "sync_lookback_days must be greater than zero")
	}

	timezone := strings.TrimSpace(viper.GetString("sync_timezone"))
	if timezone == "" {
		timezone = defaultSyncTimezone
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return ServiceConfig{}, configError(configCodeInvalidTimezone, fmt.Sprintf("sync_timezone %q is not a known IANA zone", timezone))
	}
	configuration.SyncLocation = location

	if len(configuration.KafkaBrokers) > 0 && configuration.KafkaTopic == "" {
		return ServiceConfig{}, configError(configCodeMissingKafkaTopic, "kafka_topic must be provided when kafka_brokers is set")
	}
	return configuration, nil
}

// validateForServe checks the settings only the HTTP surface needs.
func (configuration ServiceConfig) validateForServe() error {
	if configuration.PublicBaseURL == "" {
		return configError(configCodeMissingPublicBaseURL, "public_base_url must be provided")
	}
	if len(configuration.SessionSigningKey) == 0 {
		return configError(configCodeMissingSigningKey, "session_signing_key must be provided")
	}
	if configuration.EnableCORS && len(configuration.CORSAllowedOrigins) == 0 {
		return configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}
	return nil
}

func nonEmpty(values []string) []string {
	filtered := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			filtered = append(filtered, trimmed)
		}
	}
	return filtered
}
