package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "ASYNCSCHED"

// Config is the soak run configuration. Values come from, in order of
// precedence: flags, ASYNCSCHED_* environment variables, the config file,
// and the defaults below.
type Config struct {
	Producers   int           `mapstructure:"producers"`
	Submissions int           `mapstructure:"submissions"`
	Workers     int           `mapstructure:"workers"`
	Schedulers  int           `mapstructure:"schedulers"`
	PriorityPct int           `mapstructure:"priority_pct"`
	ActionDelay time.Duration `mapstructure:"action_delay"`
	ShutdownAt  float64       `mapstructure:"shutdown_at"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	Linger      time.Duration `mapstructure:"linger"`
	LogLevel    string        `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("producers", 8)
	v.SetDefault("submissions", 1000)
	v.SetDefault("workers", 4)
	v.SetDefault("schedulers", 2)
	v.SetDefault("priority_pct", 20)
	v.SetDefault("action_delay", time.Duration(0))
	v.SetDefault("shutdown_at", 1.0)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("linger", time.Duration(0))
	v.SetDefault("log_level", "info")
}

// registerFlags declares the flags that override configuration keys. Flag
// names use dashes; keys use underscores.
func registerFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "config file (yaml)")
	flags.IntP("producers", "p", 8, "concurrent submitting goroutines")
	flags.IntP("submissions", "n", 1000, "submissions per producer")
	flags.Int("workers", 4, "thread pool workers")
	flags.Int("schedulers", 2, "schedulers sharing the pool")
	flags.Int("priority-pct", 20, "percentage of submissions on the priority lane")
	flags.Duration("action-delay", 0, "time each action spends running")
	flags.Float64("shutdown-at", 1.0, "fraction of submissions after which schedulers are shut down")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :2112)")
	flags.Duration("linger", 0, "keep the metrics endpoint up this long after the run")
	flags.String("log-level", "info", "debug, info, warn or error")
}

func loadConfig(v *viper.Viper, flags *pflag.FlagSet) (Config, error) {
	setDefaults(v)

	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Producers < 1 {
		errs = append(errs, fmt.Errorf("producers must be positive, got %d", c.Producers))
	}
	if c.Submissions < 1 {
		errs = append(errs, fmt.Errorf("submissions must be positive, got %d", c.Submissions))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Schedulers < 1 {
		errs = append(errs, fmt.Errorf("schedulers must be positive, got %d", c.Schedulers))
	}
	if c.PriorityPct < 0 || c.PriorityPct > 100 {
		errs = append(errs, fmt.Errorf("priority_pct must be within [0, 100], got %d", c.PriorityPct))
	}
	if c.ShutdownAt <= 0 || c.ShutdownAt > 1 {
		errs = append(errs, fmt.Errorf("shutdown_at must be within (0, 1], got %v", c.ShutdownAt))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}
