package main

import (
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hrygo/pandemonium/internal/profile"
	"github.com/hrygo/pandemonium/internal/version"
	"github.com/hrygo/pandemonium/server"
)

// dashedKeys maps flag names to the nested configuration keys they set.
var dashedKeys = map[string]string{
	"llm-provider":  "llm.provider",
	"llm-model":     "llm.model",
	"llm-base-url":  "llm.base-url",
	"timing-min":    "timing.min",
	"timing-max":    "timing.max",
	"history-limit": "session.history-limit",
	"task-timeout":  "round.task-timeout",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"log-file":      "log.file",
}

// config resolves the profile from flags, environment and an optional file.
type config struct {
	v    *viper.Viper
	file string
}

func newRootCmd() *cobra.Command {
	cfg := &config{v: viper.New()}
	profile.SetDefaults(cfg.v)

	rootCmd := &cobra.Command{
		Use:           "pandemonium",
		Short:         "Talk to a room full of personas at once",
		Long:          "pandemonium fans every message out to a set of simulated personas and streams their humanly paced replies.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cfg.read()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.file, "config", "", "config file (default: ./pandemonium.{yaml,toml,json} when present)")
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	flags.String("addr", "", "address of server")
	flags.Int("port", 8081, "port of server")
	flags.String("data", "", "data directory")
	flags.String("driver", "sqlite", "durable store driver: sqlite, postgres or memory")
	flags.String("dsn", "", "database source name")
	flags.String("personas-file", "", "persona profiles (default: <data>/personas.toml)")
	flags.String("jwt-secret", "", "secret for API bearer tokens; empty disables auth")
	flags.String("llm-provider", "openai", "llm provider: openai, deepseek, ollama or mock")
	flags.String("llm-model", "", "llm model name")
	flags.String("llm-base-url", "", "llm endpoint override")
	flags.Duration("timing-min", 500*time.Millisecond, "lower bound of a persona's typing delay")
	flags.Duration("timing-max", 8*time.Second, "upper bound of a persona's typing delay")
	flags.Int("history-limit", 50, "messages kept per session")
	flags.Duration("task-timeout", 30*time.Second, "hard deadline of one persona's reply")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("log-file", "", "optional JSON log file")

	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		key := f.Name
		if nested, ok := dashedKeys[f.Name]; ok {
			key = nested
		}
		_ = cfg.v.BindPFlag(key, f)
	})

	rootCmd.AddCommand(
		newServeCmd(cfg),
		newChatCmd(cfg),
		newMigrateCmd(cfg),
		newTokenCmd(cfg),
		newVersionCmd(),
	)
	return rootCmd
}

func (c *config) read() error {
	if c.file != "" {
		c.v.SetConfigFile(c.file)
	} else {
		c.v.SetConfigName("pandemonium")
		c.v.AddConfigPath(".")
	}
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.file != "" || !errors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read config")
		}
	}
	return nil
}

// profile returns the resolved profile, fully validated.
func (c *config) profile() (*profile.Profile, error) {
	p := c.rawProfile()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// rawProfile returns the resolved profile without validation.
func (c *config) rawProfile() *profile.Profile {
	p := profile.FromViper(c.v)
	p.Version = version.Version
	return p
}

func newLogger(cmd *cobra.Command, p *profile.Profile) (*slog.Logger, io.Closer, error) {
	logger, closer, err := server.NewLogger(p, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create logger")
	}
	return logger, closer, nil
}
