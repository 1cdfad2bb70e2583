// Package config resolves runtime settings from defaults, an optional YAML
// file, a .env file and RELINFER_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvConfigFile      = "RELINFER_CONFIG"
	EnvStorageDriver   = "RELINFER_STORAGE_DRIVER"
	EnvSQLitePath      = "RELINFER_SQLITE_PATH"
	EnvPostgresDSN     = "RELINFER_POSTGRES_DSN"
	EnvBlobDriver      = "RELINFER_BLOB_DRIVER"
	EnvBlobFSRoot      = "RELINFER_BLOB_FS_ROOT"
	EnvS3Bucket        = "RELINFER_BLOB_S3_BUCKET"
	EnvS3Region        = "RELINFER_BLOB_S3_REGION"
	EnvS3Endpoint      = "RELINFER_BLOB_S3_ENDPOINT"
	EnvS3PathStyle     = "RELINFER_BLOB_S3_PATH_STYLE"
	EnvS3AccessKeyID   = "RELINFER_BLOB_S3_ACCESS_KEY_ID"
	EnvS3SecretKey     = "RELINFER_BLOB_S3_SECRET_ACCESS_KEY"
	EnvSeed            = "RELINFER_SEED"
	EnvCheckpoint      = "RELINFER_CHECKPOINT"
	EnvLogLevel        = "RELINFER_LOG_LEVEL"
	EnvLogFormat       = "RELINFER_LOG_FORMAT"
	defaultSQLitePath  = "relinfer.db"
	defaultBlobFSRoot  = "./blobdata"
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
	defaultStorageKind = "sqlite"
)

// Storage selects the run store.
type Storage struct {
	Driver      string `yaml:"driver"` // memory|sqlite|postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// S3 holds bucket settings for the s3 blob driver.
type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Blob selects the checkpoint store.
type Blob struct {
	Driver string `yaml:"driver"` // fs|memory|s3
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

// Config is the resolved runtime configuration.
type Config struct {
	Storage    Storage `yaml:"storage"`
	Blob       Blob    `yaml:"blob"`
	Log        Log     `yaml:"log"`
	Seed       uint64  `yaml:"seed"`
	Checkpoint bool    `yaml:"checkpoint"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Storage: Storage{Driver: defaultStorageKind, SQLitePath: defaultSQLitePath},
		Blob:    Blob{Driver: "fs", FSRoot: defaultBlobFSRoot},
		Log:     Log{Level: defaultLogLevel, Format: defaultLogFormat},
	}
}

// Options names optional input files. Empty File falls back to
// $RELINFER_CONFIG; empty EnvFile means ".env". Missing files are ignored.
type Options struct {
	File    string
	EnvFile string
}

// Load resolves the configuration.
func Load(opts Options) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Default()
	file := opts.File
	if file == "" {
		file = os.Getenv(EnvConfigFile)
	}
	if file != "" {
		if err := mergeYAML(&cfg, file); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func mergeYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Storage.Driver, EnvStorageDriver)
	setString(&cfg.Storage.SQLitePath, EnvSQLitePath)
	setString(&cfg.Storage.PostgresDSN, EnvPostgresDSN)
	setString(&cfg.Blob.Driver, EnvBlobDriver)
	setString(&cfg.Blob.FSRoot, EnvBlobFSRoot)
	setString(&cfg.Blob.S3.Bucket, EnvS3Bucket)
	setString(&cfg.Blob.S3.Region, EnvS3Region)
	setString(&cfg.Blob.S3.Endpoint, EnvS3Endpoint)
	setString(&cfg.Blob.S3.AccessKeyID, EnvS3AccessKeyID)
	setString(&cfg.Blob.S3.SecretAccessKey, EnvS3SecretKey)
	setString(&cfg.Log.Level, EnvLogLevel)
	setString(&cfg.Log.Format, EnvLogFormat)
	if err := setBool(&cfg.Blob.S3.PathStyle, EnvS3PathStyle); err != nil {
		return err
	}
	if err := setBool(&cfg.Checkpoint, EnvCheckpoint); err != nil {
		return err
	}
	if raw, ok := os.LookupEnv(EnvSeed); ok && raw != "" {
		seed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSeed, err)
		}
		cfg.Seed = seed
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}

// Validate rejects unknown drivers and formats.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %s", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "memory", "s3":
	default:
		return fmt.Errorf("unknown blob driver %s", c.Blob.Driver)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("%s required for s3 driver", EnvS3Bucket)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %s", c.Log.Format)
	}
	return nil
}

func (l Log) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the slog logger described by l, writing to w.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
