// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Worker modes.
const (
	WorkerModeProcess = "process"
	WorkerModeLocal   = "local"
)

// Config holds all configuration for our application.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	HttpListenAddr string `mapstructure:"http_listen_addr" validate:"required"`

	// Pool
	WorkerCount        int           `mapstructure:"worker_count" validate:"gte=0"`
	MaxWorkers         int           `mapstructure:"max_workers" validate:"gte=1"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
	WorkerMode         string        `mapstructure:"worker_mode" validate:"oneof=process local"`
	WorkerBinary       string        `mapstructure:"worker_binary"`
	WorkerSocketDir    string        `mapstructure:"worker_socket_dir" validate:"required"`
	WorkerStartTimeout time.Duration `mapstructure:"worker_start_timeout" validate:"gt=0"`
	WorkerStopGrace    time.Duration `mapstructure:"worker_stop_grace" validate:"gt=0"`
	RespawnDelay       time.Duration `mapstructure:"respawn_delay" validate:"gt=0"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// Media
	TempDir             string        `mapstructure:"temp_dir" validate:"required"`
	YtDlpPath           string        `mapstructure:"ytdlp_path" validate:"required"`
	YtDlpDownloadURL    string        `mapstructure:"ytdlp_download_url" validate:"omitempty,url"`
	FfmpegPath          string        `mapstructure:"ffmpeg_path" validate:"required"`
	CookiesPath         string        `mapstructure:"cookies_path"`
	CleanupSchedule     string        `mapstructure:"cleanup_schedule" validate:"required"`
	CleanupMaxAge       time.Duration `mapstructure:"cleanup_max_age" validate:"gt=0"`
	DownloadDeleteDelay time.Duration `mapstructure:"download_delete_delay" validate:"gte=0"`

	// HTTP
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" validate:"gte=1"`

	// History
	EtcdEndpoints    []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout      time.Duration `mapstructure:"etcd_timeout"`
	HistoryLimit     int           `mapstructure:"history_limit" validate:"gte=1"`
	HistoryRetention time.Duration `mapstructure:"history_retention" validate:"gte=0"`

	// Worker state mirror
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
}

// Load loads configuration from file and environment variables. An empty
// path searches ./configs and the working directory for config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("http_listen_addr", ":3000")
	v.SetDefault("worker_count", 0)
	v.SetDefault("max_workers", 4) // Video processing is heavy, keep the pool small
	v.SetDefault("task_timeout", "120s")
	v.SetDefault("worker_mode", WorkerModeProcess)
	v.SetDefault("worker_binary", "")
	v.SetDefault("worker_socket_dir", filepath.Join(os.TempDir(), "clip-dispatch"))
	v.SetDefault("worker_start_timeout", "10s")
	v.SetDefault("worker_stop_grace", "5s")
	v.SetDefault("respawn_delay", "1s")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("temp_dir", "./temp")
	v.SetDefault("ytdlp_path", "./bin/yt-dlp")
	v.SetDefault("ytdlp_download_url", "https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp")
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("cookies_path", "./cookies/cookies.txt")
	v.SetDefault("cleanup_schedule", "@every 10m")
	v.SetDefault("cleanup_max_age", "15m")
	v.SetDefault("download_delete_delay", "1s")
	v.SetDefault("rate_limit_rps", 5)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("etcd_endpoints", []string{})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("history_limit", 500)
	v.SetDefault("history_retention", "24h")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	// Set config file details
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")    // name of config file (without extension)
		v.SetConfigType("yaml")      // or "json", "toml"
		v.AddConfigPath("./configs") // path to look for the config file in
		v.AddConfigPath(".")         // optionally look for config in the working directory
	}

	// Read environment variables
	v.AutomaticEnv()

	// Read the config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			// Config file was found but another error was produced
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; rely on defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// PoolSize resolves the worker capacity. A zero worker_count follows the
// available parallelism; the result is always within [1, max_workers].
func (c *Config) PoolSize(available int) int {
	n := c.WorkerCount
	if n <= 0 {
		n = available
	}
	if n > c.MaxWorkers {
		n = c.MaxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ResolveWorkerBinary returns the worker executable. By default it is the
// "worker" binary installed next to the running executable.
func (c *Config) ResolveWorkerBinary() (string, error) {
	if c.WorkerBinary != "" {
		return c.WorkerBinary, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	return filepath.Join(filepath.Dir(self), "worker"), nil
}
