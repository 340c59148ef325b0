// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration, layered from an optional YAML
// file and then environment variables (env wins on conflict).
type Config struct {
	AppEnv string `env:"APP_ENV" yaml:"app_env" envDefault:"dev"`
	Port   int    `env:"PORT" yaml:"port" envDefault:"8080"`

	// TasksDir is the root of the on-disk task repository (§6 on-disk task layout).
	TasksDir string `env:"TASKS_DIR" yaml:"tasks_dir" envDefault:"./tasks"`
	// RunnerImage is the sandbox container image used to compile and execute submissions.
	RunnerImage string `env:"RUNNER_IMAGE" yaml:"runner_image" envDefault:"zig-runner:0.13.0"`

	// MaxWorkers bounds the worker pool (§4.4.2).
	MaxWorkers int `env:"MAX_WORKERS" yaml:"max_workers" envDefault:"2"`
	// MaxQueue bounds the admission queue (§4.4.1).
	MaxQueue int `env:"MAX_QUEUE" yaml:"max_queue" envDefault:"200"`
	// JobTTLMinutes is the retention window the TTL reaper enforces (§4.4.5).
	JobTTLMinutes int `env:"JOB_TTL_MINUTES" yaml:"job_ttl_minutes" envDefault:"30"`
	// CodeMaxBytes bounds the UTF-8 byte length of submitted code (§6).
	CodeMaxBytes int `env:"CODE_MAX_BYTES" yaml:"code_max_bytes" envDefault:"131072"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" yaml:"otlp_endpoint" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" yaml:"otel_service_name" envDefault:"exercise-judge"`

	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS" yaml:"cors_allow_origins" envDefault:"*"`
	RateLimitPerMin  int    `env:"RATE_LIMIT_PER_MIN" yaml:"rate_limit_per_min" envDefault:"30"`

	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" yaml:"server_shutdown_timeout" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" yaml:"http_read_timeout" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" yaml:"http_write_timeout" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" yaml:"http_idle_timeout" envDefault:"60s"`

	// DockerDialBackoffMaxElapsed bounds how long the sandbox executor retries a
	// transient Docker-daemon dial error before surfacing ToolingMissingSentinel.
	DockerDialBackoffMaxElapsed time.Duration `env:"DOCKER_DIAL_BACKOFF_MAX_ELAPSED" yaml:"docker_dial_backoff_max_elapsed" envDefault:"5s"`
}

// Load parses an optional YAML config file (CONFIG_FILE, default "judge.yaml" if
// present) as defaults, then overlays environment variables on top.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "judge.yaml"
	}
	if b, err := os.ReadFile(path); err == nil {
		fromFile := cfg
		if err := yaml.Unmarshal(b, &fromFile); err != nil {
			return Config{}, fmt.Errorf("op=config.Load: parse %s: %w", path, err)
		}
		// env.Parse fills every field from envDefault, so a file value is
		// taken only where the field's environment variable is unset.
		cv, fv := reflect.ValueOf(&cfg).Elem(), reflect.ValueOf(fromFile)
		for i := 0; i < cv.NumField(); i++ {
			if _, set := os.LookupEnv(cv.Type().Field(i).Tag.Get("env")); !set {
				cv.Field(i).Set(fv.Field(i))
			}
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("op=config.Load: read %s: %w", path, err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// JobTTL returns JobTTLMinutes as a time.Duration.
func (c Config) JobTTL() time.Duration {
	return time.Duration(c.JobTTLMinutes) * time.Minute
}
