package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"

	"github.com/spf13/viper"
)

var cfg Config
var home = os.Getenv("HOME")

func getViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("provisioner_config")
	v.SetConfigType("json")
	v.AddConfigPath(".")                 // config file reading order starts with current working directory
	v.AddConfigPath("$HOME/.stratomesh") // then home directory
	v.AddConfigPath("/etc/stratomesh/")  // finally /etc/stratomesh
	return v
}

func setDefaultConfig() *viper.Viper {
	v := getViper()
	v.SetDefault("general.data_dir", home+"/.stratomesh")
	v.SetDefault("general.debug", false)
	v.SetDefault("general.environment", "local")
	v.SetDefault("rest.port", 9880)
	v.SetDefault("provisioning.heartbeat_interval_ms", 30000)
	v.SetDefault("provisioning.max_promises_per_operator", 10)
	v.SetDefault("provisioning.activation_timeout_ms", 30000)
	v.SetDefault("verification.benchmark_timeout_ms", 300000)
	v.SetDefault("verification.max_concurrent_benchmarks", 5)
	v.SetDefault("verification.benchmark_image", "registry.stratomesh.io/verification/bench:latest")
	v.SetDefault("verification.low_tier_interval_days", 7)
	v.SetDefault("verification.mid_tier_interval_days", 30)
	v.SetDefault("verification.high_tier_interval_days", 90)
	v.SetDefault("verification.spot_check_percent", 1.0)
	v.SetDefault("verification.warn_threshold_pct", 10.0)
	v.SetDefault("verification.fail_threshold_pct", 25.0)
	v.SetDefault("verification.slash_threshold_pct", 50.0)
	v.SetDefault("integrations.chain_gateway_url", "")
	v.SetDefault("integrations.verifier_url", "")
	return v
}

// applyEnvironment fills in the stake minimum and allocation timeout for the
// configured environment when the config file does not pin them explicitly.
func applyEnvironment(c *Config) {
	if c.Provisioning.AllocationTimeoutMs == 0 {
		switch c.General.Environment {
		case "mainnet":
			c.Provisioning.AllocationTimeoutMs = 15 * 60 * 1000
		case "testnet":
			c.Provisioning.AllocationTimeoutMs = 10 * 60 * 1000
		default:
			c.Provisioning.AllocationTimeoutMs = 5 * 60 * 1000
		}
	}
	if c.Provisioning.MinStakeWei == 0 {
		switch c.General.Environment {
		case "mainnet":
			c.Provisioning.MinStakeWei = 100_000_000_000_000_000 // 0.1 ether
		case "testnet":
			c.Provisioning.MinStakeWei = 1_000_000_000_000_000 // 0.001 ether
		default:
			c.Provisioning.MinStakeWei = 0
		}
	}
}

func LoadConfig() {
	paths := []string{
		".",
		home + "/.stratomesh",
		"/etc/stratomesh",
	}
	configFile := "provisioner_config.json"
	v := setDefaultConfig()

	config, err := findConfig(paths, configFile)
	if err != nil {
		setDefaultConfig().Unmarshal(&cfg)
		applyEnvironment(&cfg)
		return
	}

	modifiedConfig := removeComments(config)
	if err = v.ReadConfig(bytes.NewBuffer(modifiedConfig)); err != nil { // Viper only reads buffer, keeping comments in original config
		setDefaultConfig().Unmarshal(&cfg)
	}

	if err = v.Unmarshal(&cfg); err != nil {
		setDefaultConfig().Unmarshal(&cfg)
	}
	applyEnvironment(&cfg)
}

func SetConfig(key string, value interface{}) {
	v := getViper()
	v.Set(key, value)
	err := v.Unmarshal(&cfg)
	if err != nil {
		setDefaultConfig().Unmarshal(&cfg)
	}
	applyEnvironment(&cfg)
}

func GetConfig() *Config {
	if reflect.DeepEqual(cfg, Config{}) {
		LoadConfig()
	}
	return &cfg
}

func findConfig(paths []string, filename string) ([]byte, error) {
	for _, path := range paths {
		fullPath := filepath.Join(path, filename)
		_, err := os.Stat(fullPath)
		if err == nil {
			config, err := os.ReadFile(fullPath)
			if err == nil {
				return config, nil
			} else {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("file not found in any of the paths")
}

func removeComments(configBytes []byte) []byte {
	re := regexp.MustCompile("(?s)//.*?\n") // match all '//' until the end of the line
	result := re.ReplaceAll(configBytes, nil)
	return result
}
