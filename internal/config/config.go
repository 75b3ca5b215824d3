package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Auth       AuthConfig       `yaml:"auth"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

type SandboxConfig struct {
	BaseDir          string   `yaml:"base_dir"`
	ScriptExtensions []string `yaml:"script_extensions"`
}

type AuthConfig struct {
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SecureCookie  bool          `yaml:"secure_cookie"`
}

type SupervisorConfig struct {
	Socket         string        `yaml:"socket"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxInstances   int           `yaml:"max_instances"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server:  ServerConfig{Address: ":8080"},
		Sandbox: SandboxConfig{BaseDir: ".", ScriptExtensions: []string{".js", ".sh", ".py"}},
		Auth: AuthConfig{
			Username:   "admin",
			SessionTTL: 24 * time.Hour,
		},
		Supervisor: SupervisorConfig{
			Socket:         DefaultSocketPath(),
			ConnectTimeout: 10 * time.Second,
			MaxInstances:   16,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultSocketPath is where supervisord listens unless told otherwise.
func DefaultSocketPath() string {
	return os.TempDir() + "/procpanel-supervisor.sock"
}

// LoadConfig reads the optional YAML file at path, then applies environment
// overrides, then validates. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if address := env("SERVER_ADDRESS"); address != "" {
		c.Server.Address = address
	}
	if port := env("PORT"); port != "" {
		c.Server.Address = ":" + port
	}
	if v := env("BASE_DIR"); v != "" {
		c.Sandbox.BaseDir = v
	}
	if v := env("SCRIPT_EXTENSIONS"); v != "" {
		c.Sandbox.ScriptExtensions = strings.Split(v, ",")
	}
	if v := env("ADMIN_USERNAME"); v != "" {
		c.Auth.Username = v
	}
	if v := env("ADMIN_PASSWORD"); v != "" {
		c.Auth.Password = v
	}
	if v := env("SESSION_SECRET"); v != "" {
		c.Auth.SessionSecret = v
	}
	if v := env("SESSION_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SESSION_TTL: %w", err)
		}
		c.Auth.SessionTTL = ttl
	}
	if v := env("COOKIE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COOKIE_SECURE: %w", err)
		}
		c.Auth.SecureCookie = secure
	}
	if v := env("SUPERVISOR_SOCKET"); v != "" {
		c.Supervisor.Socket = v
	}
	if v := env("MAX_INSTANCES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_INSTANCES: %w", err)
		}
		c.Supervisor.MaxInstances = n
	}
	if v := env("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

// Validate reports settings the panel cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.Password == "" {
		errs = append(errs, errors.New("ADMIN_PASSWORD is required"))
	}
	if c.Auth.SessionSecret == "" {
		errs = append(errs, errors.New("SESSION_SECRET is required"))
	}
	if c.Auth.Username == "" {
		errs = append(errs, errors.New("ADMIN_USERNAME must not be empty"))
	}
	if c.Sandbox.BaseDir == "" {
		errs = append(errs, errors.New("BASE_DIR is required"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("session TTL must be positive"))
	}
	if c.Supervisor.MaxInstances < 1 {
		errs = append(errs, errors.New("MAX_INSTANCES must be at least 1"))
	}
	if c.Supervisor.Socket == "" {
		errs = append(errs, errors.New("SUPERVISOR_SOCKET is required"))
	}
	return errors.Join(errs...)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
