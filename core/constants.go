package core

import "time"

// Environment variables read by NewConfig's env-var layer (priority: defaults
// < env vars < functional options).
const (
	EnvPort    = "PORT"     // control-plane HTTP port (health/readiness)
	EnvDevMode = "DEV_MODE" // development mode flag: switches ProductionLogger to text format

	EnvGovernorDailyCapUSD     = "ORMIND_GOVERNOR_DAILY_CAP_USD"
	EnvGovernorPerActionCapUSD = "ORMIND_GOVERNOR_PER_ACTION_CAP_USD"

	EnvSchedulerMaxRetries     = "ORMIND_SCHEDULER_MAX_RETRIES"
	EnvCostPollIntervalSeconds = "ORMIND_COST_POLL_INTERVAL_SECONDS"
	EnvCostMigrationThreshold  = "ORMIND_COST_MIGRATION_THRESHOLD"
	EnvCostReliabilityWeight   = "ORMIND_COST_RELIABILITY_WEIGHT"

	EnvHealingWindowSamples      = "ORMIND_HEALING_WINDOW_SAMPLES"
	EnvHealingZThreshold         = "ORMIND_HEALING_Z_THRESHOLD"
	EnvHealingVRAMCriticalPct    = "ORMIND_HEALING_VRAM_CRITICAL_PCT"
	EnvHealingTempCriticalCelsius = "ORMIND_HEALING_TEMP_CRITICAL_CELSIUS"

	EnvAuditBatchSize         = "ORMIND_AUDIT_BATCH_SIZE"
	EnvAuditSealIntervalSecs  = "ORMIND_AUDIT_SEAL_INTERVAL_SECONDS"
	EnvAuditHMACSecret        = "ORMIND_AUDIT_HMAC_SECRET"

	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"

	// EnvRedisURL, when set, switches the telemetry bus's bounded windows
	// from their in-memory Store to a shared Redis-backed one
	// (pkg/telemetrybus's redisStore). The cost optimizer's price history
	// is always in-memory.
	EnvRedisURL = "ORMIND_REDIS_URL"
)

// Scheduler defaults (spec §4.3).
const (
	DefaultSchedulerMaxRetries = 3
)

// DefaultSchedulerBackoffSeconds is the fixed retry sequence for provisioning
// failures: 10s, 20s, 40s.
var DefaultSchedulerBackoffSeconds = []int{10, 20, 40}

// Cost optimizer defaults (spec §4.4).
const (
	DefaultCostPollInterval      = 60 * time.Second
	DefaultCostMigrationThreshold = 0.15
	DefaultCostReliabilityWeight  = 2.0 // δ in the Router's selection score formula
)

// Healing agent defaults (spec §4.5).
const (
	DefaultHealingWindowSamples       = 60
	DefaultHealingZThreshold          = 3.0
	DefaultHealingVRAMCriticalPct     = 97.0
	DefaultHealingTempCriticalCelsius = 84.0
)

// Audit agent defaults (spec §4.6).
const (
	DefaultAuditBatchSize        = 128
	DefaultAuditSealInterval     = 5 * time.Second
)

// Telemetry bus defaults (spec §5).
const (
	DefaultTelemetryBufferSamples = 60
	DefaultTelemetryHz            = 1 // 1Hz pacing via golang.org/x/time/rate
)

// Provider price-quote RPC budget (spec §4.2).
const (
	DefaultProviderPriceRPCBudget = 2 * time.Second
)
