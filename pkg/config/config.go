package config

// Package config provides a reusable loader for the node's configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.2.0

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"coopgov/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config represents the unified configuration for a governance node. It
// mirrors the structure of the YAML files under cmd/config and covers every
// component the node wires at startup: identity/federation, the DAG store,
// the resource ledger's default budgets, the execution engine's limits, and
// trust bundle/quorum defaults.
type Config struct {
	Node struct {
		DID      string `mapstructure:"did" json:"did"`
		Scope    string `mapstructure:"scope" json:"scope"`
		KeyFile  string `mapstructure:"key_file" json:"key_file"`
		DataDir  string `mapstructure:"data_dir" json:"data_dir"`
	} `mapstructure:"node" json:"node"`

	Federation struct {
		ListenAddr     string        `mapstructure:"listen_addr" json:"listen_addr"`
		BootstrapPeers []string      `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		DiscoveryTag   string        `mapstructure:"discovery_tag" json:"discovery_tag"`
		TrustBundleTO  time.Duration `mapstructure:"trustbundle_timeout" json:"trustbundle_timeout"`
		BlobReplicateTO time.Duration `mapstructure:"blob_replicate_timeout" json:"blob_replicate_timeout"`
		BlobFetchTO    time.Duration `mapstructure:"blob_fetch_timeout" json:"blob_fetch_timeout"`
	} `mapstructure:"federation" json:"federation"`

	DAG struct {
		WALPath       string `mapstructure:"wal_path" json:"wal_path"`
		MaxStringLen  int    `mapstructure:"max_string_len" json:"max_string_len"`
		MaxAllocBytes int    `mapstructure:"max_alloc_bytes" json:"max_alloc_bytes"`
	} `mapstructure:"dag" json:"dag"`

	Resources struct {
		ComputePerEntity   uint64 `mapstructure:"compute_per_entity" json:"compute_per_entity"`
		StoragePerEntity   uint64 `mapstructure:"storage_per_entity" json:"storage_per_entity"`
		NetworkPerEntity   uint64 `mapstructure:"network_per_entity" json:"network_per_entity"`
		CreditsPerEntity   uint64 `mapstructure:"credits_per_entity" json:"credits_per_entity"`
	} `mapstructure:"resources" json:"resources"`

	Execution struct {
		DefaultGasLimit uint64 `mapstructure:"default_gas_limit" json:"default_gas_limit"`
		MaxHostResultLen int   `mapstructure:"max_host_result_len" json:"max_host_result_len"`
		MaxCallsPerRun  int    `mapstructure:"max_calls_per_run" json:"max_calls_per_run"`
	} `mapstructure:"execution" json:"execution"`

	Quorum struct {
		Kind             string         `mapstructure:"kind" json:"kind"`
		ThresholdPercent float64        `mapstructure:"threshold_percent" json:"threshold_percent"`
		Weights          map[string]int `mapstructure:"weights" json:"weights"`
	} `mapstructure:"quorum" json:"quorum"`

	Guardians struct {
		Bootstrap []string `mapstructure:"bootstrap" json:"bootstrap"`
	} `mapstructure:"guardians" json:"guardians"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // consults process environment variables on lookup

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ICN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ICN_ENV", ""))
}
