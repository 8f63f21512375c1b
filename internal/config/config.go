// Package config loads Airlock's runtime configuration with
// github.com/spf13/viper, the same config-file-plus-env-override pattern
// jra3-linear-fuse's root command wires up (AutomaticEnv with a fixed
// prefix layered over an optional file), adapted here to a daemon whose
// only CLI flag, -config, names that optional file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the listener, database, workspace and content-store roots,
// Jobs API client, upload scheduler and tracing settings. It has no
// dev-users file or output-checking org/repo options.
type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	DatabaseDSN        string        `mapstructure:"database_dsn"`
	DatabaseMaxOpen    int           `mapstructure:"database_max_open_conns"`
	DatabaseMaxIdle    int           `mapstructure:"database_max_idle_conns"`
	DatabaseLifetime   time.Duration `mapstructure:"database_conn_max_lifetime"`

	WorkspaceRoot  string `mapstructure:"workspace_root"`
	ContentStoreRoot string `mapstructure:"content_store_root"`

	JobsAPIEndpoint       string        `mapstructure:"jobs_api_endpoint"`
	JobsAPIToken          string        `mapstructure:"jobs_api_token"`
	JobsAPIRequestTimeout time.Duration `mapstructure:"jobs_api_request_timeout"`
	JobsAPIRateLimit      float64       `mapstructure:"jobs_api_rate_limit"`
	JobsAPIBurst          int           `mapstructure:"jobs_api_burst"`

	UploadMaxInFlight    int           `mapstructure:"upload_max_in_flight"`
	UploadMaxAttempts    int           `mapstructure:"upload_max_attempts"`
	UploadAttemptTimeout time.Duration `mapstructure:"upload_attempt_timeout"`
	UploadJobDeadline    time.Duration `mapstructure:"upload_job_deadline"`
	UploadResumeCron     string        `mapstructure:"upload_resume_cron"`

	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Load reads configFile (if non-empty) overlaid with AIRLOCK_-prefixed
// environment variables, applying spec §6's documented defaults for
// anything left unset.
func Load(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AIRLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8000")
	v.SetDefault("metrics_addr", ":9000")

	v.SetDefault("database_max_open_conns", 20)
	v.SetDefault("database_max_idle_conns", 5)
	v.SetDefault("database_conn_max_lifetime", 30*time.Minute)

	v.SetDefault("workspace_root", "/srv/airlock/workspaces")
	v.SetDefault("content_store_root", "/srv/airlock/content")

	v.SetDefault("jobs_api_request_timeout", 30*time.Second)
	v.SetDefault("jobs_api_rate_limit", 5.0)
	v.SetDefault("jobs_api_burst", 10)

	v.SetDefault("upload_max_in_flight", 4)
	v.SetDefault("upload_max_attempts", 5)
	v.SetDefault("upload_attempt_timeout", 30*time.Second)
	v.SetDefault("upload_job_deadline", time.Hour)
	v.SetDefault("upload_resume_cron", "@every 1m")
}
