package config

import "time"

type Config struct {
	General      `mapstructure:"general"`
	Rest         `mapstructure:"rest"`
	Provisioning `mapstructure:"provisioning"`
	Verification `mapstructure:"verification"`
	Integrations `mapstructure:"integrations"`
}

type General struct {
	DataDir     string `mapstructure:"data_dir"`
	Debug       bool   `mapstructure:"debug"`
	Environment string `mapstructure:"environment"` // local, testnet or mainnet
}

type Rest struct {
	Port int `mapstructure:"port"`
}

type Provisioning struct {
	HeartbeatIntervalMs    int    `mapstructure:"heartbeat_interval_ms"`
	AllocationTimeoutMs    int    `mapstructure:"allocation_timeout_ms"`
	MaxPromisesPerOperator int    `mapstructure:"max_promises_per_operator"`
	MinStakeWei            uint64 `mapstructure:"min_stake_wei"`
	ActivationTimeoutMs    int    `mapstructure:"activation_timeout_ms"`
}

type Verification struct {
	BenchmarkTimeoutMs      int     `mapstructure:"benchmark_timeout_ms"`
	MaxConcurrentBenchmarks int     `mapstructure:"max_concurrent_benchmarks"`
	BenchmarkImage          string  `mapstructure:"benchmark_image"`
	LowTierIntervalDays     int     `mapstructure:"low_tier_interval_days"`
	MidTierIntervalDays     int     `mapstructure:"mid_tier_interval_days"`
	HighTierIntervalDays    int     `mapstructure:"high_tier_interval_days"`
	SpotCheckPercent        float64 `mapstructure:"spot_check_percent"`
	WarnThresholdPct        float64 `mapstructure:"warn_threshold_pct"`
	FailThresholdPct        float64 `mapstructure:"fail_threshold_pct"`
	SlashThresholdPct       float64 `mapstructure:"slash_threshold_pct"`
}

type Integrations struct {
	ChainGatewayURL string `mapstructure:"chain_gateway_url"`
	VerifierURL     string `mapstructure:"verifier_url"`
}

// HeartbeatInterval returns the heartbeat sweep period as a duration.
func (p Provisioning) HeartbeatInterval() time.Duration {
	return time.Duration(p.HeartbeatIntervalMs) * time.Millisecond
}

// StaleAfter is the heartbeat age beyond which a promise is considered
// offline, fixed at three sweep periods.
func (p Provisioning) StaleAfter() time.Duration {
	return 3 * p.HeartbeatInterval()
}

func (p Provisioning) AllocationTimeout() time.Duration {
	return time.Duration(p.AllocationTimeoutMs) * time.Millisecond
}

func (p Provisioning) ActivationTimeout() time.Duration {
	return time.Duration(p.ActivationTimeoutMs) * time.Millisecond
}

func (v Verification) BenchmarkTimeout() time.Duration {
	return time.Duration(v.BenchmarkTimeoutMs) * time.Millisecond
}
