package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	client "github.com/hsn0918/fileconv"
)

const (
	EnvPrefix = "FILECONV_"
	// APIKeyEnv is honoured when no prefixed key is set.
	APIKeyEnv = "CLOUDCONVERT_API_KEY"
)

type Config struct {
	Logger       Logger       `yaml:"logger" envPrefix:"LOGGER_"`
	HTTP         HTTP         `yaml:"http" envPrefix:"HTTP_"`
	CloudConvert CloudConvert `yaml:"cloudconvert" envPrefix:"CLOUDCONVERT_"`
	Conversion   Conversion   `yaml:"conversion" envPrefix:"CONVERSION_"`
	Storage      Storage      `yaml:"storage" envPrefix:"STORAGE_"`
}

type Logger struct {
	Level string `yaml:"level" env:"LEVEL"`
}

type HTTP struct {
	Address         string        `yaml:"address" env:"ADDRESS"`
	MaxUpload       string        `yaml:"max_upload" env:"MAX_UPLOAD"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type CloudConvert struct {
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type Conversion struct {
	TempDir         string                  `yaml:"temp_dir" env:"TEMP_DIR"`
	DownloadTimeout time.Duration           `yaml:"download_timeout" env:"DOWNLOAD_TIMEOUT"`
	RateLimit       RateLimit               `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Families        map[string]FamilyTiming `yaml:"families"`
}

type RateLimit struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	Burst    int           `yaml:"burst" env:"BURST"`
}

// FamilyTiming overrides the wait policy of one conversion family.
type FamilyTiming struct {
	MaxWait       time.Duration `yaml:"max_wait"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

type Storage struct {
	Database Database `yaml:"database" envPrefix:"DATABASE_"`
	Blob     Blob     `yaml:"blob" envPrefix:"BLOB_"`
}

type Database struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

type Blob struct {
	Driver string `yaml:"driver" env:"DRIVER"` // local or minio
	Dir    string `yaml:"dir" env:"DIR"`
	MinIO  MinIO  `yaml:"minio" envPrefix:"MINIO_"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UseSSL          bool   `yaml:"use_ssl" env:"USE_SSL"`
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	BasePath        string `yaml:"base_path" env:"BASE_PATH"`
}

func Default() *Config {
	return &Config{
		Logger: Logger{Level: "info"},
		HTTP: HTTP{
			Address:         ":8080",
			MaxUpload:       "10MiB",
			ShutdownTimeout: 10 * time.Second,
		},
		CloudConvert: CloudConvert{
			BaseURL: client.DefaultBaseURL,
			Timeout: client.DefaultTimeout,
		},
		Conversion: Conversion{
			DownloadTimeout: 300 * time.Second,
		},
		Storage: Storage{
			Database: Database{DSN: "fileconv.db"},
			Blob: Blob{
				Driver: "local",
				Dir:    "storage/files",
			},
		},
	}
}

// Load reads the YAML file at path, when given, over the defaults and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.CloudConvert.APIKey == "" {
		cfg.CloudConvert.APIKey = os.Getenv(APIKeyEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Logger.SlogLevel(); err != nil {
		return err
	}

	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}

	if _, err := c.HTTP.MaxUploadBytes(); err != nil {
		return err
	}

	switch c.Storage.Blob.Driver {
	case "local":
		if c.Storage.Blob.Dir == "" {
			return errors.New("storage.blob.dir is required for the local driver")
		}
	case "minio":
		if c.Storage.Blob.MinIO.Endpoint == "" || c.Storage.Blob.MinIO.Bucket == "" {
			return errors.New("storage.blob.minio needs an endpoint and a bucket")
		}
	default:
		return fmt.Errorf("unsupported storage.blob.driver %q", c.Storage.Blob.Driver)
	}

	if c.Storage.Database.DSN == "" {
		return errors.New("storage.database.dsn cannot be empty")
	}

	return nil
}

func (l Logger) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logger.level: %w", err)
	}
	return level, nil
}

// MaxUploadBytes parses max_upload, e.g. "10MiB" or "512k".
func (h HTTP) MaxUploadBytes() (int64, error) {
	n, err := units.RAMInBytes(h.MaxUpload)
	if err != nil {
		return 0, fmt.Errorf("http.max_upload: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("http.max_upload must be positive, got %q", h.MaxUpload)
	}
	return n, nil
}
