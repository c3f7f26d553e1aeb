package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds runtime configuration for the orchestrator.
type Config struct {
	Port           string
	LogLevel       string
	StoreDriver    string
	DatabaseURL    string
	GatewayToken   string
	AllowedOrigins []string
	Tracker        TrackerConfig
	Chat           ChatConfig
	Lifecycle      LifecycleConfig
	Archive        ArchiveConfig
}

// TrackerConfig configures the external competition tracker client.
type TrackerConfig struct {
	BaseURL       string
	APIKey        string
	PageURL       string
	Participants  []string
	Timeout       time.Duration
	RetryAttempts int
}

// ChatConfig configures the chat gateway that hosts polls and announcements.
type ChatConfig struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	RetryAttempts int
}

// LifecycleConfig holds defaults for the competition lifecycle.
type LifecycleConfig struct {
	Timezone              string
	DefaultStartingHour   string
	CompetitionLength     time.Duration
	DefaultDaysAfterPoll  int
	DefaultTiebreakerDays int
	MaxTiebreakerRounds   int
	RecentMetricWindow    int
	PollWatchInterval     time.Duration
	PollOptionCount       int
}

// ArchiveConfig points the results archive at an R2 bucket.
type ArchiveConfig struct {
	Enabled         bool
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	PublicBaseURL   string
	Endpoint        string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	origins := listEnv(envAllowedOrigin)
	if len(origins) == 0 {
		origins = []string{defaultAllowedOrigins}
	}
	return Config{
		Port:           envOrDefault(envPort, defaultPort),
		LogLevel:       envOrDefault(envLogLevel, "info"),
		StoreDriver:    envOrDefault(envStoreDriver, defaultStoreDriver),
		DatabaseURL:    envOrDefault(envDatabaseURL, ""),
		GatewayToken:   envOrDefault(envGatewayToken, ""),
		AllowedOrigins: origins,
		Tracker: TrackerConfig{
			BaseURL:       envOrDefault(envTrackerBaseURL, defaultTrackerBaseURL),
			APIKey:        envOrDefault(envTrackerAPIKey, ""),
			PageURL:       envOrDefault(envTrackerPageURL, defaultTrackerPageURL),
			Participants:  listEnv(envTrackerParticipants),
			Timeout:       durationEnvOrDefault(envTrackerTimeout, defaultTrackerTimeout),
			RetryAttempts: intEnvOrDefault(envTrackerRetries, defaultTrackerRetries),
		},
		Chat: ChatConfig{
			BaseURL:       envOrDefault(envChatBaseURL, ""),
			Token:         envOrDefault(envChatToken, ""),
			Timeout:       durationEnvOrDefault(envChatTimeout, defaultChatTimeout),
			RetryAttempts: intEnvOrDefault(envChatRetries, defaultChatRetries),
		},
		Lifecycle: LifecycleConfig{
			Timezone:              envOrDefault(envTimezone, defaultTimezone),
			DefaultStartingHour:   envOrDefault(envDefaultStartingHour, defaultStartingHour),
			CompetitionLength:     durationEnvOrDefault(envCompetitionLength, defaultCompetitionLength),
			DefaultDaysAfterPoll:  intEnvOrDefault(envDaysAfterPoll, defaultDaysAfterPoll),
			DefaultTiebreakerDays: intEnvOrDefault(envTiebreakerDays, defaultTiebreakerDays),
			MaxTiebreakerRounds:   intEnvOrDefault(envMaxTiebreakers, defaultMaxTiebreakerRounds),
			RecentMetricWindow:    intEnvOrDefault(envRecentMetricWindow, defaultRecentMetricWindow),
			PollWatchInterval:     durationEnvOrDefault(envPollWatchInterval, defaultPollWatchInterval),
			PollOptionCount:       intEnvOrDefault(envPollOptionCount, defaultPollOptionCount),
		},
		Archive: ArchiveConfig{
			Enabled:         boolEnvOrDefault(envArchiveEnabled, false),
			AccountID:       envOrDefault(envArchiveAccountID, ""),
			AccessKeyID:     envOrDefault(envArchiveKeyID, ""),
			AccessKeySecret: envOrDefault(envArchiveSecret, ""),
			Bucket:          envOrDefault(envArchiveBucket, ""),
			PublicBaseURL:   envOrDefault(envArchiveCDN, ""),
			Endpoint:        envOrDefault(envArchiveEndpoint, ""),
		},
	}
}

// Validate reports settings the process cannot start without.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("%s environment variable not set", envDatabaseURL))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown %s %q", envStoreDriver, c.StoreDriver))
	}
	if c.GatewayToken == "" {
		errs = append(errs, fmt.Errorf("%s environment variable not set", envGatewayToken))
	}
	if c.Chat.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s environment variable not set", envChatBaseURL))
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		errs = append(errs, fmt.Errorf("%s is required when the results archive is enabled", envArchiveBucket))
	}
	return errors.Join(errs...)
}
