package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/chat"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type config struct {
	BaseURL         string        `yaml:"baseURL"`
	DispatchTimeout time.Duration `yaml:"dispatchTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	LogLevel        string        `yaml:"logLevel"`
}

const baseURLEnv = "CHAT_API_URL"

func defaultConfig() config {
	return config{
		BaseURL:         "http://localhost:8080",
		DispatchTimeout: 30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		RequestTimeout:  15 * time.Second,
		LogLevel:        "warn",
	}
}

// loadConfig layers the configuration: defaults, then the YAML file at path, then the environment. The
// environment is read after loading envFile, whose variables never override ones already set. Missing
// files are skipped.
func loadConfig(path, envFile string) (config, error) {
	cfg := defaultConfig()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return config{}, fmt.Errorf("error opening config file: %w", err)
		default:
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return config{}, fmt.Errorf("error decoding config file: %w", err)
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config{}, fmt.Errorf("error loading env file: %w", err)
		}
	}
	if u := os.Getenv(baseURLEnv); u != "" {
		cfg.BaseURL = u
	}

	if cfg.BaseURL == "" {
		return config{}, errors.New("base URL is required")
	}
	return cfg, nil
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c config) sessionOptions() chat.Options {
	return chat.Options{
		DispatchTimeout: c.DispatchTimeout,
		IdleTimeout:     c.IdleTimeout,
		RequestTimeout:  c.RequestTimeout,
	}
}
