package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/reedfamily/reedlink/internal/listener"
	"github.com/reedfamily/reedlink/internal/logger"
	"github.com/reedfamily/reedlink/internal/scheduler"
)

// Duration accepts "30s"-style strings in both YAML and TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

const (
	LogSourceDocker = "docker"
	LogSourceFile   = "file"
)

type ServerConfig struct {
	Container string            `yaml:"container" toml:"container"`
	Image     string            `yaml:"image" toml:"image"`
	Ports     []string          `yaml:"ports" toml:"ports"`
	Env       map[string]string `yaml:"env" toml:"env"`
	Volumes   map[string]string `yaml:"volumes" toml:"volumes"`
	Memory    string            `yaml:"memory" toml:"memory"`
	// Manage creates and starts the container when it does not exist.
	Manage      bool     `yaml:"manage" toml:"manage"`
	StopTimeout Duration `yaml:"stop_timeout" toml:"stop_timeout"`
	LogSource   string   `yaml:"log_source" toml:"log_source"`
	LogFile     string   `yaml:"log_file" toml:"log_file"`
	FromStart   bool     `yaml:"from_start" toml:"from_start"`
}

type HealthConfig struct {
	Interval Duration `yaml:"interval" toml:"interval"`
}

type PluginsConfig struct {
	Dir         string   `yaml:"dir" toml:"dir"`
	CallTimeout Duration `yaml:"call_timeout" toml:"call_timeout"`
}

type AuthConfig struct {
	// Token is a plaintext API token; TokenHash a bcrypt hash of one.
	Token     string `yaml:"token" toml:"token"`
	TokenHash string `yaml:"token_hash" toml:"token_hash"`
}

// BackupConfig archives World, a path relative to DataDir unless absolute,
// into Dir. Backups are disabled while World is empty.
type BackupConfig struct {
	World       string   `yaml:"world" toml:"world"`
	Dir         string   `yaml:"dir" toml:"dir"`
	Cron        string   `yaml:"cron" toml:"cron"`
	Keep        int      `yaml:"keep" toml:"keep"`
	SaveTimeout Duration `yaml:"save_timeout" toml:"save_timeout"`
	S3          S3Config `yaml:"s3" toml:"s3"`
}

// S3Config copies each backup to a bucket when Bucket is set. Credentials
// come from the standard AWS environment and shared config files.
type S3Config struct {
	Bucket   string   `yaml:"bucket" toml:"bucket"`
	Region   string   `yaml:"region" toml:"region"`
	Prefix   string   `yaml:"prefix" toml:"prefix"`
	Endpoint string   `yaml:"endpoint" toml:"endpoint"`
	Timeout  Duration `yaml:"timeout" toml:"timeout"`
	Retries  int      `yaml:"retries" toml:"retries"`
}

// Command sends a console command on a cron schedule.
type Command struct {
	Name    string `yaml:"name" toml:"name"`
	Cron    string `yaml:"cron" toml:"cron"`
	Command string `yaml:"command" toml:"command"`
}

type Config struct {
	Listen      string          `yaml:"listen" toml:"listen"`
	DataDir     string          `yaml:"data_dir" toml:"data_dir"`
	Game        string          `yaml:"game" toml:"game"`
	CORSOrigins []string        `yaml:"cors_origins" toml:"cors_origins"`
	Server      ServerConfig    `yaml:"server" toml:"server"`
	Listener    listener.Config `yaml:"listener" toml:"listener"`
	Health      HealthConfig    `yaml:"health" toml:"health"`
	Plugins     PluginsConfig   `yaml:"plugins" toml:"plugins"`
	Auth        AuthConfig      `yaml:"auth" toml:"auth"`
	Backup      BackupConfig    `yaml:"backup" toml:"backup"`
	Log         logger.Config   `yaml:"log" toml:"log"`
	Commands    []Command       `yaml:"commands" toml:"commands"`
}

func Default() *Config {
	return &Config{
		Listen:      ":8080",
		DataDir:     "./data",
		Game:        "minecraft",
		CORSOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		Server: ServerConfig{
			Container:   "reedlink-game",
			StopTimeout: Duration(30 * time.Second),
			LogSource:   LogSourceDocker,
		},
		Listener: listener.Config{
			Buffer: listener.BufferConfig{Size: 1000, DropOld: true},
		},
		Health:  HealthConfig{Interval: Duration(15 * time.Second)},
		Plugins: PluginsConfig{Dir: "./plugins", CallTimeout: Duration(2 * time.Second)},
		Backup:  BackupConfig{Dir: "backups", Keep: 10, SaveTimeout: Duration(time.Minute)},
		Log:     logger.Config{Level: "info"},
	}
}

// Load reads path over the defaults, applies REEDLINK_* environment
// overrides and validates the result. An empty path or a missing file
// leaves the defaults in place. The format follows the file extension:
// .toml is TOML, anything else YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// Docker bind mounts require absolute paths
	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func (c *Config) applyEnv() error {
	c.Listen = envOr("REEDLINK_LISTEN", c.Listen)
	c.DataDir = envOr("REEDLINK_DATA_DIR", c.DataDir)
	c.Game = envOr("REEDLINK_GAME", c.Game)
	c.Server.Container = envOr("REEDLINK_CONTAINER", c.Server.Container)
	c.Server.LogSource = envOr("REEDLINK_LOG_SOURCE", c.Server.LogSource)
	c.Server.LogFile = envOr("REEDLINK_LOG_FILE", c.Server.LogFile)
	c.Plugins.Dir = envOr("REEDLINK_PLUGINS_DIR", c.Plugins.Dir)
	c.Auth.Token = envOr("REEDLINK_AUTH_TOKEN", c.Auth.Token)
	c.Auth.TokenHash = envOr("REEDLINK_AUTH_TOKEN_HASH", c.Auth.TokenHash)
	c.Backup.S3.Bucket = envOr("REEDLINK_BACKUP_BUCKET", c.Backup.S3.Bucket)
	c.Log.Level = envOr("REEDLINK_LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("REEDLINK_LOG_PRETTY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REEDLINK_LOG_PRETTY: %w", err)
		}
		c.Log.Pretty = b
	}
	if v := os.Getenv("REEDLINK_HEALTH_INTERVAL"); v != "" {
		if err := c.Health.Interval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("REEDLINK_HEALTH_INTERVAL: %w", err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Game == "" {
		errs = append(errs, errors.New("game is required"))
	}
	switch c.Server.LogSource {
	case LogSourceDocker:
		if c.Server.Container == "" {
			errs = append(errs, errors.New("server.container is required for the docker log source"))
		}
	case LogSourceFile:
		if c.Server.LogFile == "" {
			errs = append(errs, errors.New("server.log_file is required for the file log source"))
		}
	default:
		errs = append(errs, fmt.Errorf("server.log_source %q: want %s or %s", c.Server.LogSource, LogSourceDocker, LogSourceFile))
	}
	if c.Listener.Buffer.Size > listener.MaxBufferSize {
		errs = append(errs, fmt.Errorf("listener.buffer.size %d exceeds %d", c.Listener.Buffer.Size, listener.MaxBufferSize))
	}
	if c.Health.Interval < 0 {
		errs = append(errs, errors.New("health.interval must not be negative"))
	}
	if c.Backup.Cron != "" {
		if c.Backup.World == "" {
			errs = append(errs, errors.New("backup.world is required when backup.cron is set"))
		}
		if _, err := scheduler.ParseCron(c.Backup.Cron); err != nil {
			errs = append(errs, fmt.Errorf("backup.cron: %w", err))
		}
	}
	if c.Backup.S3.Bucket != "" && c.Backup.World == "" {
		errs = append(errs, errors.New("backup.world is required when backup.s3.bucket is set"))
	}
	if c.Backup.Keep < 0 {
		errs = append(errs, errors.New("backup.keep must not be negative"))
	}
	for i, cmd := range c.Commands {
		if cmd.Command == "" {
			errs = append(errs, fmt.Errorf("commands[%d]: command is required", i))
		}
		if _, err := scheduler.ParseCron(cmd.Cron); err != nil {
			errs = append(errs, fmt.Errorf("commands[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "reedlink.db")
}

// DataPath resolves p against DataDir unless it is absolute.
func (c *Config) DataPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
