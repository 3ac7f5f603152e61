// Package config resolves the orchestrator's runtime settings from
// flags and environment variables through spf13/viper, with the
// precedence flag > env > default. No config file is read.
//
// Every flag a cobra command defines is bound into the same *viper.Viper
// instance so `cah --data-dir /x submit ...` and `CAH_DATA_DIR=/x cah
// submit ...` resolve identically.
package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every bound environment variable: DATA_DIR
// becomes CAH_DATA_DIR, AGENT becomes CAH_AGENT, and so on.
const EnvPrefix = "CAH"

// Config is the resolved runtime configuration shared by every cah
// subcommand and the runner/daemon process.
type Config struct {
	// DataDir overrides pathlayout's data root (CAH_DATA_DIR).
	DataDir string
	// TaskID propagates a task id to a spawned runner subprocess
	// (CAH_TASK_ID) so it knows which task to drain the queue for first.
	TaskID string
	// Agent identifies the calling agent/user for task attribution
	// (CAH_AGENT).
	Agent string

	// DefaultBackend is the config-level backend fallback, the last
	// tier of the node/task/config adapter-selection order.
	DefaultBackend string
	// DefaultModel is passed to a backend adapter when a task specifies
	// none of its own.
	DefaultModel string
	// Concurrency is the node worker pool size (default 3).
	Concurrency int

	// LogLevel and LogJSON configure the runner process logger
	// (internal/logging).
	LogLevel string
	LogJSON  bool

	// RateLimitQPS/RateLimitBurst throttle backend dispatch
	// (golang.org/x/time/rate, wired in internal/backend.Registry).
	// Zero QPS disables rate limiting.
	RateLimitQPS   float64
	RateLimitBurst int
}

// New builds a *viper.Viper bound to flags, CAH_*-prefixed environment
// variables, and defaults, then decodes it into a Config. flags may be
// nil (e.g. in tests), in which case only env vars and defaults apply.
func New(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return &Config{
		DataDir:        v.GetString("data-dir"),
		TaskID:         v.GetString("task-id"),
		Agent:          v.GetString("agent"),
		DefaultBackend: v.GetString("backend"),
		DefaultModel:   v.GetString("model"),
		Concurrency:    v.GetInt("concurrency"),
		LogLevel:       v.GetString("log-level"),
		LogJSON:        v.GetBool("log-json"),
		RateLimitQPS:   v.GetFloat64("rate-limit-qps"),
		RateLimitBurst: v.GetInt("rate-limit-burst"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data-dir", "")
	v.SetDefault("task-id", "")
	v.SetDefault("agent", "")
	v.SetDefault("backend", "cli")
	v.SetDefault("model", "")
	v.SetDefault("concurrency", 3)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-json", false)
	v.SetDefault("rate-limit-qps", 0.0)
	v.SetDefault("rate-limit-burst", 1)
}

// BindCommonFlags registers the flags New reads, shared by every cah
// subcommand that touches the data root or spawns a runner.
func BindCommonFlags(flags *pflag.FlagSet) {
	flags.String("data-dir", "", "override the data root (CAH_DATA_DIR)")
	flags.String("task-id", "", "task id propagated to a spawned runner (CAH_TASK_ID)")
	flags.String("agent", "", "calling agent/user identity (CAH_AGENT)")
	flags.String("backend", "cli", "default BackendAdapter name")
	flags.String("model", "", "default model name passed to the backend")
	flags.Int("concurrency", 3, "NodeWorker pool size")
	flags.String("log-level", "info", "runner log level: debug|info|warn|error")
	flags.Bool("log-json", false, "emit runner logs as JSON instead of console text")
	flags.Float64("rate-limit-qps", 0, "max backend invocations per second (0 disables)")
	flags.Int("rate-limit-burst", 1, "token bucket burst size for backend rate limiting")
}
