package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// CircuitBreakerConfig configures a single provider breaker (see
// circuit_breaker.go). It is embedded in CircuitBreakerParams and may also
// be set directly via WithCircuitBreakerConfig.
type CircuitBreakerConfig struct {
	Enabled          bool
	Threshold        int // consecutive failures before opening
	Timeout          time.Duration
	HalfOpenRequests int
}

// SchedulerConfig controls the priority queue dispatcher and its retry
// behavior (spec §4.3).
type SchedulerConfig struct {
	MaxRetries     int
	BackoffSeconds []int // fixed retry sequence, e.g. [10, 20, 40]
	QueueCapacity  int
}

// CostOptimizerConfig controls the pricing poll loop and migration trigger
// (spec §4.4).
type CostOptimizerConfig struct {
	PollInterval       time.Duration
	MigrationThreshold float64 // fractional savings required to trigger migration
	ReliabilityWeight  float64 // δ in the Router's selection score formula
}

// HealingConfig controls the rolling-window anomaly detector (spec §4.5).
type HealingConfig struct {
	WindowSamples       int
	ZThreshold          float64
	VRAMCriticalPct     float64
	TempCriticalCelsius float64
}

// AuditConfig controls batch sealing for the hash-chained audit log
// (spec §4.6).
type AuditConfig struct {
	BatchSize    int
	SealInterval time.Duration
	HMACSecret   []byte
}

// GovernorConfig carries the hard spend caps the Safety Governor enforces.
// Both fields are required: NewConfig fails validation if either is unset.
type GovernorConfig struct {
	DailyCapUSD     float64
	PerActionCapUSD float64
}

// LoggingConfig controls the ProductionLogger.
type LoggingConfig struct {
	Development bool
}

// Config is the fully-resolved, immutable configuration for an OrMind
// process. Build one with NewConfig; every component constructor takes the
// sub-config it needs rather than the whole struct.
type Config struct {
	Port int

	// RedisURL, when non-empty, backs the telemetry bus with a shared
	// Redis Store instead of each process's own in-memory one. The cost
	// optimizer's price history is always in-memory and does not read it.
	RedisURL string

	Scheduler      SchedulerConfig
	CostOptimizer  CostOptimizerConfig
	Healing        HealingConfig
	Audit          AuditConfig
	Governor       GovernorConfig
	CircuitBreaker CircuitBreakerConfig
	Logging        LoggingConfig

	logger Logger
}

// Logger returns the configured root logger, building a ProductionLogger on
// first access if one was never set via WithLogger.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		c.logger = NewProductionLogger("ormind", c.Logging.Development)
	}
	return c.logger
}

// Option mutates a Config under construction. NewConfig applies options
// after defaults and environment variables, so options always win.
type Option func(*Config) error

func defaultConfig() *Config {
	return &Config{
		Port: 8080,
		Scheduler: SchedulerConfig{
			MaxRetries:     DefaultSchedulerMaxRetries,
			BackoffSeconds: append([]int(nil), DefaultSchedulerBackoffSeconds...),
			QueueCapacity:  4096,
		},
		CostOptimizer: CostOptimizerConfig{
			PollInterval:       DefaultCostPollInterval,
			MigrationThreshold: DefaultCostMigrationThreshold,
			ReliabilityWeight:  DefaultCostReliabilityWeight,
		},
		Healing: HealingConfig{
			WindowSamples:       DefaultHealingWindowSamples,
			ZThreshold:          DefaultHealingZThreshold,
			VRAMCriticalPct:     DefaultHealingVRAMCriticalPct,
			TempCriticalCelsius: DefaultHealingTempCriticalCelsius,
		},
		Audit: AuditConfig{
			BatchSize:    DefaultAuditBatchSize,
			SealInterval: DefaultAuditSealInterval,
		},
		CircuitBreaker: DefaultCircuitBreakerParams("provider").Config,
	}
}

func applyEnv(c *Config) error {
	if v := os.Getenv(EnvPort); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Port = n
	}
	if v := os.Getenv(EnvDevMode); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDevMode, err)
		}
		c.Logging.Development = b
	}
	if v := os.Getenv(EnvSchedulerMaxRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSchedulerMaxRetries, err)
		}
		c.Scheduler.MaxRetries = n
	}
	if v := os.Getenv(EnvCostPollIntervalSeconds); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCostPollIntervalSeconds, err)
		}
		c.CostOptimizer.PollInterval = time.Duration(n) * time.Second
	}
	if v := os.Getenv(EnvCostMigrationThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCostMigrationThreshold, err)
		}
		c.CostOptimizer.MigrationThreshold = f
	}
	if v := os.Getenv(EnvCostReliabilityWeight); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCostReliabilityWeight, err)
		}
		c.CostOptimizer.ReliabilityWeight = f
	}
	if v := os.Getenv(EnvHealingWindowSamples); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHealingWindowSamples, err)
		}
		c.Healing.WindowSamples = n
	}
	if v := os.Getenv(EnvHealingZThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHealingZThreshold, err)
		}
		c.Healing.ZThreshold = f
	}
	if v := os.Getenv(EnvHealingVRAMCriticalPct); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHealingVRAMCriticalPct, err)
		}
		c.Healing.VRAMCriticalPct = f
	}
	if v := os.Getenv(EnvHealingTempCriticalCelsius); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHealingTempCriticalCelsius, err)
		}
		c.Healing.TempCriticalCelsius = f
	}
	if v := os.Getenv(EnvAuditBatchSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAuditBatchSize, err)
		}
		c.Audit.BatchSize = n
	}
	if v := os.Getenv(EnvAuditSealIntervalSecs); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAuditSealIntervalSecs, err)
		}
		c.Audit.SealInterval = time.Duration(n) * time.Second
	}
	if v := os.Getenv(EnvAuditHMACSecret); v != "" {
		c.Audit.HMACSecret = []byte(v)
	}
	if v := os.Getenv(EnvGovernorDailyCapUSD); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGovernorDailyCapUSD, err)
		}
		c.Governor.DailyCapUSD = f
	}
	if v := os.Getenv(EnvGovernorPerActionCapUSD); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGovernorPerActionCapUSD, err)
		}
		c.Governor.PerActionCapUSD = f
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.RedisURL = v
	}
	return nil
}

// WithRedisURL enables a shared Redis-backed Store for the telemetry bus,
// instead of each process keeping its own in-memory window. The cost
// optimizer's price history stays in-memory either way.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.RedisURL = url
		return nil
	}
}

// WithPort overrides the control-plane HTTP port.
func WithPort(port int) Option {
	return func(c *Config) error {
		c.Port = port
		return nil
	}
}

// WithLogger injects a pre-built logger, bypassing ProductionLogger
// construction. Useful for tests that want a NoOpLogger.
func WithLogger(l Logger) Option {
	return func(c *Config) error {
		c.logger = l
		return nil
	}
}

// WithGovernorCaps sets the required daily and per-action spend caps.
func WithGovernorCaps(dailyUSD, perActionUSD float64) Option {
	return func(c *Config) error {
		c.Governor.DailyCapUSD = dailyUSD
		c.Governor.PerActionCapUSD = perActionUSD
		return nil
	}
}

// WithSchedulerRetry sets the max retry count and fixed backoff sequence.
func WithSchedulerRetry(maxRetries int, backoffSeconds []int) Option {
	return func(c *Config) error {
		c.Scheduler.MaxRetries = maxRetries
		c.Scheduler.BackoffSeconds = backoffSeconds
		return nil
	}
}

// WithCostOptimizer overrides the pricing poll cadence and migration
// thresholds.
func WithCostOptimizer(pollInterval time.Duration, migrationThreshold, reliabilityWeight float64) Option {
	return func(c *Config) error {
		c.CostOptimizer.PollInterval = pollInterval
		c.CostOptimizer.MigrationThreshold = migrationThreshold
		c.CostOptimizer.ReliabilityWeight = reliabilityWeight
		return nil
	}
}

// WithHealing overrides the anomaly detector thresholds.
func WithHealing(windowSamples int, zThreshold, vramCriticalPct, tempCriticalCelsius float64) Option {
	return func(c *Config) error {
		c.Healing.WindowSamples = windowSamples
		c.Healing.ZThreshold = zThreshold
		c.Healing.VRAMCriticalPct = vramCriticalPct
		c.Healing.TempCriticalCelsius = tempCriticalCelsius
		return nil
	}
}

// WithAudit overrides batch sealing parameters and the HMAC chaining
// secret.
func WithAudit(batchSize int, sealInterval time.Duration, hmacSecret []byte) Option {
	return func(c *Config) error {
		c.Audit.BatchSize = batchSize
		c.Audit.SealInterval = sealInterval
		c.Audit.HMACSecret = hmacSecret
		return nil
	}
}

// WithCircuitBreakerConfig overrides the default provider breaker settings.
func WithCircuitBreakerConfig(cfg CircuitBreakerConfig) Option {
	return func(c *Config) error {
		c.CircuitBreaker = cfg
		return nil
	}
}

// WithDevelopment forces text-format logging regardless of the runtime
// environment.
func WithDevelopment(dev bool) Option {
	return func(c *Config) error {
		c.Logging.Development = dev
		return nil
	}
}

func (c *Config) validate() error {
	if c.Governor.DailyCapUSD <= 0 {
		return NewOpError("core.NewConfig", "missing_configuration", "",
			fmt.Errorf("%w: governor.daily_cap_usd must be set and positive", ErrMissingConfiguration))
	}
	if c.Governor.PerActionCapUSD <= 0 {
		return NewOpError("core.NewConfig", "missing_configuration", "",
			fmt.Errorf("%w: governor.per_action_cap_usd must be set and positive", ErrMissingConfiguration))
	}
	if c.Governor.PerActionCapUSD > c.Governor.DailyCapUSD {
		return NewOpError("core.NewConfig", "invalid_configuration", "",
			fmt.Errorf("%w: per_action_cap_usd cannot exceed daily_cap_usd", ErrInvalidConfiguration))
	}
	if len(c.Audit.HMACSecret) == 0 {
		return NewOpError("core.NewConfig", "missing_configuration", "",
			fmt.Errorf("%w: audit HMAC secret must be set via %s or WithAudit", ErrMissingConfiguration, EnvAuditHMACSecret))
	}
	if c.Scheduler.MaxRetries < 0 {
		return NewOpError("core.NewConfig", "invalid_configuration", "",
			fmt.Errorf("%w: scheduler.max_retries cannot be negative", ErrInvalidConfiguration))
	}
	return nil
}

// NewConfig builds a Config by layering defaults, then environment
// variables, then the supplied functional options, then validating that
// the Safety Governor's required caps and the audit chain secret are set.
func NewConfig(opts ...Option) (*Config, error) {
	c := defaultConfig()
	if err := applyEnv(c); err != nil {
		return nil, NewOpError("core.NewConfig", "invalid_configuration", "", err)
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, NewOpError("core.NewConfig", "invalid_configuration", "", err)
		}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}
