// Package config loads layered daemon configuration: built-in defaults,
// an optional YAML file, then AGENTRELAY_* environment variables — in that
// order of increasing precedence, following the layered viper-based config
// conventions used across the rest of this codebase.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object for the daemon.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	PTY         PTYConfig         `mapstructure:"pty"`
	Idle        IdleConfig        `mapstructure:"idle"`
	Injection   InjectionConfig   `mapstructure:"injection"`
	Continuity  ContinuityConfig  `mapstructure:"continuity"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Supervisor  SupervisorConfig  `mapstructure:"supervisor"`
	Events      EventsConfig      `mapstructure:"events"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig configures the thin admin API boundary.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// PTYConfig configures default terminal dimensions and output buffering.
type PTYConfig struct {
	DefaultCols    int   `mapstructure:"defaultCols"`
	DefaultRows    int   `mapstructure:"defaultRows"`
	BufferMaxBytes int64 `mapstructure:"bufferMaxBytes"`
	GraceSeconds   int   `mapstructure:"graceSeconds"`
}

// IdleConfig configures the Idle Detector.
type IdleConfig struct {
	MinSilenceMs      int     `mapstructure:"minSilenceMs"`
	ConfidenceThresh  float64 `mapstructure:"confidenceThreshold"`
	PollMs            int     `mapstructure:"pollMs"`
	UseProcState      bool    `mapstructure:"useProcState"`
}

// InjectionConfig configures the Injection Engine.
type InjectionConfig struct {
	QueueSize        int `mapstructure:"queueSize"`
	TimeoutMs        int `mapstructure:"timeoutMs"`
	MaxAttempts      int `mapstructure:"maxAttempts"`
	SubmitDelayMs    int `mapstructure:"submitDelayMs"`
	BackoffCapMs     int `mapstructure:"backoffCapMs"`
}

// ContinuityConfig configures the ledger store.
type ContinuityConfig struct {
	DataDir            string   `mapstructure:"dataDir"`
	LockBaseMs         int      `mapstructure:"lockBaseMs"`
	LockCapMs          int      `mapstructure:"lockCapMs"`
	LockTimeoutMs      int      `mapstructure:"lockTimeoutMs"`
	Denylist           []string `mapstructure:"denylist"`
	CommandDedupeCap   int      `mapstructure:"commandDedupeCap"`
	MaxConcurrentLocks int      `mapstructure:"maxConcurrentLocks"`
}

// RegistryConfig configures the process-wide agent registry.
type RegistryConfig struct {
	DataDir string `mapstructure:"dataDir"`
}

// RelayConfig configures the Message Relay.
type RelayConfig struct {
	PerRecipientQueueSize int           `mapstructure:"perRecipientQueueSize"`
	DedupeSetSize         int           `mapstructure:"dedupeSetSize"`
	SenderHashWindow      int           `mapstructure:"senderHashWindow"`
	OfflineTTL            time.Duration `mapstructure:"offlineTTL"`
}

// SupervisorConfig configures restart policy.
type SupervisorConfig struct {
	HealthCheckSeconds   int  `mapstructure:"healthCheckSeconds"`
	MaxRestarts          int  `mapstructure:"maxRestarts"`
	BackoffWindowSeconds int  `mapstructure:"backoffWindowSeconds"`
	RestartBaseMs        int  `mapstructure:"restartBaseMs"`
	RestartCapMs         int  `mapstructure:"restartCapMs"`
	AutoInjectOnRestart  bool `mapstructure:"autoInjectOnRestart"`
	RestartOnCleanExit   bool `mapstructure:"restartOnCleanExit"`
}

// EventsConfig configures the optional NATS bridge.
type EventsConfig struct {
	NATSURL   string `mapstructure:"natsUrl"`
	Namespace string `mapstructure:"namespace"`
	Enabled   bool   `mapstructure:"enabled"`
}

// LoggingConfig mirrors internal/logging.Config (kept separate to avoid an
// import cycle between config and logging).
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// Load reads defaults, an optional config file, then environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7711)

	v.SetDefault("pty.defaultCols", 120)
	v.SetDefault("pty.defaultRows", 30)
	v.SetDefault("pty.bufferMaxBytes", 64*1024)
	v.SetDefault("pty.graceSeconds", 5)

	v.SetDefault("idle.minSilenceMs", 1500)
	v.SetDefault("idle.confidenceThreshold", 0.7)
	v.SetDefault("idle.pollMs", 150)
	v.SetDefault("idle.useProcState", true)

	v.SetDefault("injection.queueSize", 200)
	v.SetDefault("injection.timeoutMs", 30000)
	v.SetDefault("injection.maxAttempts", 5)
	v.SetDefault("injection.submitDelayMs", 1000)
	v.SetDefault("injection.backoffCapMs", 2000)

	v.SetDefault("continuity.dataDir", "./data/continuity")
	v.SetDefault("continuity.lockBaseMs", 100)
	v.SetDefault("continuity.lockCapMs", 2000)
	v.SetDefault("continuity.lockTimeoutMs", 10000)
	v.SetDefault("continuity.denylist", defaultDenylist())
	v.SetDefault("continuity.commandDedupeCap", 100)
	v.SetDefault("continuity.maxConcurrentLocks", 8)

	v.SetDefault("registry.dataDir", "./data/registry")

	v.SetDefault("relay.perRecipientQueueSize", 200)
	v.SetDefault("relay.dedupeSetSize", 1000)
	v.SetDefault("relay.senderHashWindow", 500)
	v.SetDefault("relay.offlineTTL", "24h")

	v.SetDefault("supervisor.healthCheckSeconds", 2)
	v.SetDefault("supervisor.maxRestarts", 5)
	v.SetDefault("supervisor.backoffWindowSeconds", 60)
	v.SetDefault("supervisor.restartBaseMs", 1000)
	v.SetDefault("supervisor.restartCapMs", 30000)
	v.SetDefault("supervisor.autoInjectOnRestart", true)
	v.SetDefault("supervisor.restartOnCleanExit", false)

	v.SetDefault("events.natsUrl", "")
	v.SetDefault("events.namespace", "agentrelay")
	v.SetDefault("events.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

// defaultDenylist is the source-coded placeholder table, elevated to config
// so operators can extend it without a code change.
func defaultDenylist() []string {
	return []string{
		"...", "....", "task1", "item1", "src/file1.ts",
		"What you've done", "TBD", "TODO", "N/A", "none", "placeholder",
	}
}
