package config

import "time"

const (
	envPort          = "PORT"
	envLogLevel      = "LOG_LEVEL"
	envStoreDriver   = "STORE_DRIVER"
	envDatabaseURL   = "DATABASE_URL"
	envGatewayToken  = "GATEWAY_TOKEN"
	envAllowedOrigin = "ALLOWED_ORIGINS"

	envTrackerBaseURL      = "WOM_BASE_URL"
	envTrackerAPIKey       = "WISE_OLD_MAN_API_KEY"
	envTrackerParticipants = "WOM_DEFAULT_PARTICIPANTS"
	envTrackerPageURL      = "WOM_COMPETITION_BASE_URL"
	envTrackerTimeout      = "WOM_TIMEOUT"
	envTrackerRetries      = "WOM_RETRY_ATTEMPTS"

	envChatBaseURL = "CHAT_GATEWAY_URL"
	envChatToken   = "CHAT_GATEWAY_TOKEN"
	envChatTimeout = "CHAT_GATEWAY_TIMEOUT"
	envChatRetries = "CHAT_GATEWAY_RETRY_ATTEMPTS"

	envTimezone            = "COMPETITION_TIMEZONE"
	envDefaultStartingHour = "DEFAULT_STARTING_HOUR"
	envCompetitionLength   = "COMPETITION_LENGTH"
	envDaysAfterPoll       = "DEFAULT_DAYS_AFTER_POLL"
	envTiebreakerDays      = "DEFAULT_TIEBREAKER_DAYS"
	envMaxTiebreakers      = "MAX_TIEBREAKER_ROUNDS"
	envRecentMetricWindow  = "RECENT_METRIC_WINDOW"
	envPollWatchInterval   = "POLL_WATCH_INTERVAL"
	envPollOptionCount     = "POLL_OPTION_COUNT"

	envArchiveEnabled   = "RESULTS_ARCHIVE_ENABLED"
	envArchiveAccountID = "CLOUDFLARE_ACCOUNT_ID"
	envArchiveKeyID     = "R2_ACCESS_KEY_ID"
	envArchiveSecret    = "R2_ACCESS_KEY_SECRET"
	envArchiveBucket    = "R2_BUCKET_NAME"
	envArchiveCDN       = "CDN_BASE_URL"
	envArchiveEndpoint  = "R2_ENDPOINT"

	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	defaultPort           = "5200"
	defaultStoreDriver    = StoreDriverPostgres
	defaultAllowedOrigins = "http://localhost:3000"

	defaultTrackerBaseURL = "https://api.wiseoldman.net/v2"
	defaultTrackerPageURL = "https://wiseoldman.net/competitions/"
	defaultTrackerTimeout = 15 * time.Second
	defaultTrackerRetries = 3
	defaultChatTimeout    = 10 * time.Second
	defaultChatRetries    = 3

	defaultTimezone            = "America/New_York"
	defaultStartingHour        = "12:00pm"
	defaultCompetitionLength   = 7 * 24 * time.Hour
	defaultDaysAfterPoll       = 7
	defaultTiebreakerDays      = 3
	defaultMaxTiebreakerRounds = 3
	defaultRecentMetricWindow  = 3
	defaultPollWatchInterval   = 5 * time.Minute
	defaultPollOptionCount     = 10
)
