package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by the profile.
const EnvPrefix = "PANDEMONIUM"

// Profile is the configuration to start the server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// Driver is the durable store driver (sqlite, postgres or memory)
	Driver string
	// DSN points to where pandemonium stores its own data
	DSN string
	// Version is the current version of server
	Version string

	// LLM configuration
	LLMProvider       string  // PANDEMONIUM_LLM_PROVIDER (default: openai; openai, deepseek, ollama, mock)
	LLMModel          string  // PANDEMONIUM_LLM_MODEL (default: gpt-4o-mini)
	LLMAPIKey         string  // PANDEMONIUM_LLM_API_KEY
	LLMBaseURL        string  // PANDEMONIUM_LLM_BASE_URL
	LLMTemperature    float64 // PANDEMONIUM_LLM_TEMPERATURE (default: 0.8)
	LLMMaxTokens      int     // PANDEMONIUM_LLM_MAX_TOKENS (default: 512)
	LLMMaxConcurrency int     // PANDEMONIUM_LLM_MAX_CONCURRENCY (default: 8)
	LLMMaxRetries     int     // PANDEMONIUM_LLM_MAX_RETRIES (default: 1)

	// Personas
	PersonasFile string // PANDEMONIUM_PERSONAS_FILE (default: <data>/personas.toml)

	// Session and round behavior
	SessionTTL        time.Duration // PANDEMONIUM_SESSION_TTL (default: 1h)
	HistoryLimit      int           // PANDEMONIUM_HISTORY_LIMIT (default: 50)
	IdleTimeout       time.Duration // PANDEMONIUM_IDLE_TIMEOUT (default: 24h, 0 disables)
	IdleSweepInterval time.Duration // PANDEMONIUM_IDLE_SWEEP_INTERVAL (default: 10m)
	TaskTimeout       time.Duration // PANDEMONIUM_TASK_TIMEOUT (default: 30s)

	// Humanized timing
	TimingBase        time.Duration // PANDEMONIUM_TIMING_BASE (default: 1s)
	TimingMin         time.Duration // PANDEMONIUM_TIMING_MIN (default: 500ms)
	TimingMax         time.Duration // PANDEMONIUM_TIMING_MAX (default: 8s)
	TimingJitter      float64       // PANDEMONIUM_TIMING_JITTER (default: 0.2)
	TimingCheckpoints int           // PANDEMONIUM_TIMING_CHECKPOINTS (default: 5)

	// API
	JWTSecret      string  // PANDEMONIUM_JWT_SECRET (empty disables auth)
	RateLimitRPS   float64 // PANDEMONIUM_RATE_LIMIT_RPS (default: 1)
	RateLimitBurst int     // PANDEMONIUM_RATE_LIMIT_BURST (default: 5)

	// Logging
	LogLevel  string // PANDEMONIUM_LOG_LEVEL (default: info)
	LogFormat string // PANDEMONIUM_LOG_FORMAT (default: text)
	LogFile   string // PANDEMONIUM_LOG_FILE (optional JSON log file)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// SetDefaults registers every default value on v and binds the environment.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "dev")
	v.SetDefault("addr", "")
	v.SetDefault("port", 8081)
	v.SetDefault("data", "")
	v.SetDefault("driver", "sqlite")
	v.SetDefault("dsn", "")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api-key", "")
	v.SetDefault("llm.base-url", "")
	v.SetDefault("llm.temperature", 0.8)
	v.SetDefault("llm.max-tokens", 512)
	v.SetDefault("llm.max-concurrency", 8)
	v.SetDefault("llm.max-retries", 1)

	v.SetDefault("personas-file", "")

	v.SetDefault("session.ttl", time.Hour)
	v.SetDefault("session.history-limit", 50)
	v.SetDefault("session.idle-timeout", 24*time.Hour)
	v.SetDefault("session.idle-sweep-interval", 10*time.Minute)
	v.SetDefault("round.task-timeout", 30*time.Second)

	v.SetDefault("timing.base", time.Second)
	v.SetDefault("timing.min", 500*time.Millisecond)
	v.SetDefault("timing.max", 8*time.Second)
	v.SetDefault("timing.jitter", 0.2)
	v.SetDefault("timing.checkpoints", 5)

	v.SetDefault("jwt-secret", "")
	v.SetDefault("rate-limit.rps", 1.0)
	v.SetDefault("rate-limit.burst", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// FromViper builds a profile from the resolved viper configuration.
func FromViper(v *viper.Viper) *Profile {
	return &Profile{
		Mode:   v.GetString("mode"),
		Addr:   v.GetString("addr"),
		Port:   v.GetInt("port"),
		Data:   v.GetString("data"),
		Driver: v.GetString("driver"),
		DSN:    v.GetString("dsn"),

		LLMProvider:       v.GetString("llm.provider"),
		LLMModel:          v.GetString("llm.model"),
		LLMAPIKey:         v.GetString("llm.api-key"),
		LLMBaseURL:        v.GetString("llm.base-url"),
		LLMTemperature:    v.GetFloat64("llm.temperature"),
		LLMMaxTokens:      v.GetInt("llm.max-tokens"),
		LLMMaxConcurrency: v.GetInt("llm.max-concurrency"),
		LLMMaxRetries:     v.GetInt("llm.max-retries"),

		PersonasFile: v.GetString("personas-file"),

		SessionTTL:        v.GetDuration("session.ttl"),
		HistoryLimit:      v.GetInt("session.history-limit"),
		IdleTimeout:       v.GetDuration("session.idle-timeout"),
		IdleSweepInterval: v.GetDuration("session.idle-sweep-interval"),
		TaskTimeout:       v.GetDuration("round.task-timeout"),

		TimingBase:        v.GetDuration("timing.base"),
		TimingMin:         v.GetDuration("timing.min"),
		TimingMax:         v.GetDuration("timing.max"),
		TimingJitter:      v.GetFloat64("timing.jitter"),
		TimingCheckpoints: v.GetInt("timing.checkpoints"),

		JWTSecret:      v.GetString("jwt-secret"),
		RateLimitRPS:   v.GetFloat64("rate-limit.rps"),
		RateLimitBurst: v.GetInt("rate-limit.burst"),

		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
		LogFile:   v.GetString("log.file"),
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if err := os.MkdirAll(dataDir, 0770); err != nil {
		return "", errors.Wrapf(err, "unable to create data folder %s", dataDir)
	}
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and rejects inconsistent settings.
func (p *Profile) Validate() error {
	if err := p.ValidateStorage(); err != nil {
		return err
	}

	if p.PersonasFile == "" {
		p.PersonasFile = filepath.Join(p.Data, "personas.toml")
	}

	switch p.LLMProvider {
	case "openai", "deepseek":
		if p.LLMAPIKey == "" {
			return errors.Errorf("llm api key is required for provider %s", p.LLMProvider)
		}
	case "ollama", "mock":
	default:
		return errors.Errorf("unsupported llm provider: %s", p.LLMProvider)
	}

	if p.HistoryLimit <= 0 {
		return errors.New("history limit must be positive")
	}
	if p.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if p.TimingMin <= 0 || p.TimingMax < p.TimingMin {
		return errors.Errorf("invalid timing bounds [%s, %s]", p.TimingMin, p.TimingMax)
	}
	if p.TimingJitter < 0 || p.TimingJitter >= 1 {
		return errors.Errorf("timing jitter must be in [0, 1), got %v", p.TimingJitter)
	}
	if p.TaskTimeout <= p.TimingMax {
		return errors.Errorf("task timeout %s must be greater than the maximum typing delay %s", p.TaskTimeout, p.TimingMax)
	}

	return nil
}

// ValidateStorage normalizes the mode, data directory and driver settings only.
func (p *Profile) ValidateStorage() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Data == "" {
		if p.Mode == "prod" {
			if runtime.GOOS == "windows" {
				p.Data = filepath.Join(os.Getenv("ProgramData"), "pandemonium")
			} else {
				p.Data = "/var/opt/pandemonium"
			}
		} else {
			p.Data = "."
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	switch p.Driver {
	case "sqlite":
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("pandemonium_%s.db", p.Mode))
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return errors.Errorf("unknown driver %q: only 'sqlite', 'postgres' and 'memory' are supported", p.Driver)
	}
	return nil
}
