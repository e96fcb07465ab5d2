package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL     string
	Contract   string
	PrivateKey string

	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Out               string
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration

	Listen      string
	PostgresDSN string
	CallTimeout time.Duration
	HTTPTimeout time.Duration
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("out", "./data/auction-events.jsonl")
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("listen", ":8080")
	v.SetDefault("call-timeout", 15*time.Second)
	v.SetDefault("http-timeout", 10*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		Contract:          v.GetString("contract"),
		PrivateKey:        v.GetString("private-key"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Out:               v.GetString("out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		Listen:            v.GetString("listen"),
		PostgresDSN:       v.GetString("pg-dsn"),
		CallTimeout:       v.GetDuration("call-timeout"),
		HTTPTimeout:       v.GetDuration("http-timeout"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}
