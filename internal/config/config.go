package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LLIEPJIOK/mutexo-client/pkg/ws"
)

const envPrefix = "MUTEXO_"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	// URL - http(s) адрес сервера, у которого запрашивается токен.
	URL string `yaml:"url"`
	// WSURL подключается напрямую, минуя /wsAuth.
	WSURL            string        `yaml:"ws_url"`
	Backend          string        `yaml:"backend"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
}

type ClientConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			URL:              "http://localhost:3000",
			Backend:          ws.BackendGorilla.String(),
			HandshakeTimeout: ws.DefaultHandshakeTimeout,
			ReadLimit:        ws.DefaultReadLimit,
		},
		Client: ClientConfig{
			RequestTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "mutexo",
		},
	}
}

// Load читает YAML файл (если path не пуст) поверх значений по умолчанию,
// затем применяет переменные окружения MUTEXO_*.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("SERVER_URL"); ok {
		c.Server.URL = v
	}

	if v, ok := get("WS_URL"); ok {
		c.Server.WSURL = v
	}

	if v, ok := get("BACKEND"); ok {
		c.Server.Backend = v
	}

	if v, ok := get("HANDSHAKE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sHANDSHAKE_TIMEOUT: %w", ErrInvalidConfig, envPrefix, err)
		}

		c.Server.HandshakeTimeout = d
	}

	if v, ok := get("READ_LIMIT"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %sREAD_LIMIT: %w", ErrInvalidConfig, envPrefix, err)
		}

		c.Server.ReadLimit = n
	}

	if v, ok := get("REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sREQUEST_TIMEOUT: %w", ErrInvalidConfig, envPrefix, err)
		}

		c.Client.RequestTimeout = d
	}

	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = v
	}

	if v, ok := get("METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}

	return nil
}

func (c Config) Validate() error {
	if c.Server.URL == "" && c.Server.WSURL == "" {
		return fmt.Errorf("%w: server.url or server.ws_url is required", ErrInvalidConfig)
	}

	if _, err := ws.ParseBackend(c.Server.Backend); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Client.RequestTimeout < 0 {
		return fmt.Errorf("%w: client.request_timeout must not be negative", ErrInvalidConfig)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}

	return nil
}

func (c Config) BackendKind() ws.Backend {
	b, _ := ws.ParseBackend(c.Server.Backend)
	return b
}

func (c Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}

	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level

	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
	}

	return level, nil
}
