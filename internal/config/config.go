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

const (
	defaultPort                 = 3000
	defaultDataDir              = "tmp"
	defaultLogLevel             = "info"
	defaultFFmpegPath           = "ffmpeg"
	defaultMaxConcurrentJobs    = 3
	defaultMaxConcurrentEncodes = 2
	defaultItemParallelism      = 4
	defaultDownloadTimeout      = 60 * time.Second
	defaultEncodeTimeout        = 5 * time.Minute
	defaultRetention            = 60 * time.Minute
	defaultSweepInterval        = 30 * time.Minute
	defaultUploadEndpoint       = "https://www.googleapis.com/upload/youtube/v3/videos?uploadType=resumable&part=snippet,status"
	defaultUploadInitTimeout    = 30 * time.Second
	defaultUploadXferTimeout    = 30 * time.Minute
	defaultPrivacyStatus        = "public"
	defaultLedgerPath           = "published.json"
	defaultRedisPrefix          = "reelsmith:ledger"

	LedgerBackendFile  = "file"
	LedgerBackendRedis = "redis"
)

// Config describes runtime configuration for the service.
type Config struct {
	Port                 int           `yaml:"port"`
	DataDir              string        `yaml:"data_dir"`
	PublicBaseURL        string        `yaml:"public_base_url"`
	LogLevel             string        `yaml:"log_level"`
	FFmpegPath           string        `yaml:"ffmpeg_path"`
	MaxConcurrentJobs    int           `yaml:"max_concurrent_jobs"`
	MaxConcurrentEncodes int           `yaml:"max_concurrent_encodes"`
	ItemParallelism      int           `yaml:"item_parallelism"`
	DownloadTimeout      time.Duration `yaml:"download_timeout"`
	EncodeTimeout        time.Duration `yaml:"encode_timeout"`
	Retention            time.Duration `yaml:"retention"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	MetricsEnabled       bool          `yaml:"metrics_enabled"`
	Upload               UploadConfig  `yaml:"upload"`
	Ledger               LedgerConfig  `yaml:"ledger"`
	Mirror               MirrorConfig  `yaml:"mirror"`
}

// UploadConfig points the resumable upload client at the hosting platform.
type UploadConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	InitTimeout     time.Duration `yaml:"init_timeout"`
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
	PrivacyStatus   string        `yaml:"privacy_status"`
}

// LedgerConfig selects the duplication ledger backend.
type LedgerConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// MirrorConfig enables copying produced videos to an S3-compatible bucket.
// An empty Bucket disables mirroring.
type MirrorConfig struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	Prefix        string `yaml:"prefix"`
	PathStyle     bool   `yaml:"path_style"`
	PublicBaseURL string `yaml:"public_base_url"`
	// Static credentials; when empty the default AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:                 defaultPort,
		DataDir:              defaultDataDir,
		LogLevel:             defaultLogLevel,
		FFmpegPath:           defaultFFmpegPath,
		MaxConcurrentJobs:    defaultMaxConcurrentJobs,
		MaxConcurrentEncodes: defaultMaxConcurrentEncodes,
		ItemParallelism:      defaultItemParallelism,
		DownloadTimeout:      defaultDownloadTimeout,
		EncodeTimeout:        defaultEncodeTimeout,
		Retention:            defaultRetention,
		SweepInterval:        defaultSweepInterval,
		MetricsEnabled:       true,
		Upload: UploadConfig{
			Endpoint:        defaultUploadEndpoint,
			InitTimeout:     defaultUploadInitTimeout,
			TransferTimeout: defaultUploadXferTimeout,
			PrivacyStatus:   defaultPrivacyStatus,
		},
		Ledger: LedgerConfig{
			Backend:     LedgerBackendFile,
			Path:        defaultLedgerPath,
			RedisPrefix: defaultRedisPrefix,
		},
	}
}

// Load reads YAML config from the provided path, applies environment
// overrides and validates the result. A missing or empty file yields defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	applyEnv(&cfg)
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("invalid max_concurrent_jobs: %d (must be >= 1)", c.MaxConcurrentJobs)
	}
	if c.MaxConcurrentEncodes < 1 {
		return fmt.Errorf("invalid max_concurrent_encodes: %d (must be >= 1)", c.MaxConcurrentEncodes)
	}
	if c.ItemParallelism < 1 {
		return fmt.Errorf("invalid item_parallelism: %d (must be >= 1)", c.ItemParallelism)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("invalid retention: %s (must be > 0)", c.Retention)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("invalid sweep_interval: %s (must be > 0)", c.SweepInterval)
	}
	switch c.Ledger.Backend {
	case LedgerBackendFile:
		if c.Ledger.Path == "" {
			return errors.New("ledger.path is required for the file backend")
		}
	case LedgerBackendRedis:
		if c.Ledger.RedisAddr == "" {
			return errors.New("ledger.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.Mirror.Bucket != "" && c.Mirror.Region == "" {
		return errors.New("mirror.region is required when mirror.bucket is set")
	}
	return nil
}

func normalize(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = defaultFFmpegPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if cfg.EncodeTimeout <= 0 {
		cfg.EncodeTimeout = defaultEncodeTimeout
	}
	if cfg.Upload.Endpoint == "" {
		cfg.Upload.Endpoint = defaultUploadEndpoint
	}
	if cfg.Upload.InitTimeout <= 0 {
		cfg.Upload.InitTimeout = defaultUploadInitTimeout
	}
	if cfg.Upload.TransferTimeout <= 0 {
		cfg.Upload.TransferTimeout = defaultUploadXferTimeout
	}
	if cfg.Upload.PrivacyStatus == "" {
		cfg.Upload.PrivacyStatus = defaultPrivacyStatus
	}
	cfg.Ledger.Backend = strings.ToLower(strings.TrimSpace(cfg.Ledger.Backend))
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = LedgerBackendFile
	}
	if cfg.Ledger.RedisPrefix == "" {
		cfg.Ledger.RedisPrefix = defaultRedisPrefix
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	cfg.Mirror.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.Mirror.PublicBaseURL), "/")
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.DataDir = getEnv("REELSMITH_DATA_DIR", cfg.DataDir)
	cfg.FFmpegPath = getEnv("REELSMITH_FFMPEG", cfg.FFmpegPath)
	cfg.PublicBaseURL = getEnv("REELSMITH_PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.LogLevel = getEnv("REELSMITH_LOG_LEVEL", cfg.LogLevel)
	cfg.Ledger.RedisAddr = getEnv("REELSMITH_REDIS_ADDR", cfg.Ledger.RedisAddr)
	cfg.Ledger.RedisPassword = getEnv("REELSMITH_REDIS_PASSWORD", cfg.Ledger.RedisPassword)
	cfg.Mirror.AccessKeyID = getEnv("REELSMITH_S3_ACCESS_KEY_ID", cfg.Mirror.AccessKeyID)
	cfg.Mirror.SecretAccessKey = getEnv("REELSMITH_S3_SECRET_ACCESS_KEY", cfg.Mirror.SecretAccessKey)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
