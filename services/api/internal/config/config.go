package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with CONFIG_PATH.
var ConfigPath = "config.yaml"

// MaxUploadCeiling is the largest upload limit the service accepts.
const MaxUploadCeiling int64 = 50 << 20

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret         string `yaml:"jwtSecret"`
	JWTPrivateKeyPath string `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath  string `yaml:"jwtPublicKeyPath"`
	JWTKeyID          string `yaml:"jwtKeyId"`
	JWTIssuer         string `yaml:"jwtIssuer"`
	JWTAudience       string `yaml:"jwtAudience"`
	TokenTTL          string `yaml:"tokenTTL"`
	InternalToken     string `yaml:"internalToken"`

	StorageProvider   string `yaml:"storageProvider"`
	StorageEndpoint   string `yaml:"storageEndpoint"`
	StorageRegion     string `yaml:"storageRegion"`
	StorageBucket     string `yaml:"storageBucket"`
	StorageAccessKey  string `yaml:"storageAccessKey"`
	StorageSecretKey  string `yaml:"storageSecretKey"`
	StorageUseSSL     bool   `yaml:"storageUseSSL"`
	StoragePathStyle  bool   `yaml:"storagePathStyle"`
	StoragePublicURL  string `yaml:"storagePublicURL"`
	GCSCredentials    string `yaml:"gcsCredentialsFile"`
	LocalStorageDir   string `yaml:"localStorageDir"`
	LocalStorageURL   string `yaml:"localStorageURL"`
	SignedURLTTL      string `yaml:"signedURLTTL"`
	QueueBackend      string `yaml:"queueBackend"`
	QueueStreamPrefix string `yaml:"queueStreamPrefix"`
	QueueStreamGroup  string `yaml:"queueStreamGroup"`
	RabbitMQURL       string `yaml:"rabbitmqURL"`

	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCidrs"`
	SignupRateLimit    int      `yaml:"signupRateLimit"`
	LoginRateLimit     int      `yaml:"loginRateLimit"`
	RateLimitWindow    string   `yaml:"rateLimitWindow"`
	MaxUploadBytes     int64    `yaml:"maxUploadBytes"`
}

// Load reads path (a missing file is allowed), applies .env and environment
// overrides, fills defaults and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	_ = godotenv.Load()
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.JWTPrivateKeyPath, "JWT_PRIVATE_KEY_PATH")
	setString(&cfg.JWTPublicKeyPath, "JWT_PUBLIC_KEY_PATH")
	setString(&cfg.JWTKeyID, "JWT_KEY_ID")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.TokenTTL, "TOKEN_TTL")
	setString(&cfg.InternalToken, "INTERNAL_TOKEN")
	setString(&cfg.StorageProvider, "STORAGE_PROVIDER")
	setString(&cfg.StorageEndpoint, "STORAGE_ENDPOINT")
	setString(&cfg.StorageRegion, "STORAGE_REGION")
	setString(&cfg.StorageBucket, "STORAGE_BUCKET")
	setString(&cfg.StorageAccessKey, "STORAGE_ACCESS_KEY")
	setString(&cfg.StorageSecretKey, "STORAGE_SECRET_KEY")
	setBool(&cfg.StorageUseSSL, "STORAGE_USE_SSL")
	setBool(&cfg.StoragePathStyle, "STORAGE_PATH_STYLE")
	setString(&cfg.StoragePublicURL, "STORAGE_PUBLIC_URL")
	setString(&cfg.GCSCredentials, "GCS_CREDENTIALS_FILE")
	setString(&cfg.LocalStorageDir, "LOCAL_STORAGE_DIR")
	setString(&cfg.LocalStorageURL, "LOCAL_STORAGE_URL")
	setString(&cfg.SignedURLTTL, "SIGNED_URL_TTL")
	setString(&cfg.QueueBackend, "QUEUE_BACKEND")
	setString(&cfg.QueueStreamPrefix, "QUEUE_STREAM_PREFIX")
	setString(&cfg.QueueStreamGroup, "QUEUE_STREAM_GROUP")
	setString(&cfg.RabbitMQURL, "RABBITMQ_URL")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	setInt(&cfg.SignupRateLimit, "SIGNUP_RATE_LIMIT")
	setInt(&cfg.LoginRateLimit, "LOGIN_RATE_LIMIT")
	setString(&cfg.RateLimitWindow, "RATE_LIMIT_WINDOW")
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "3000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StorageProvider == "" {
		cfg.StorageProvider = "minio"
	}
	if cfg.QueueBackend == "" {
		cfg.QueueBackend = "redis"
	}
	if cfg.QueueStreamGroup == "" {
		cfg.QueueStreamGroup = "pdf-workers"
	}
	if cfg.SignupRateLimit == 0 {
		cfg.SignupRateLimit = 5
	}
	if cfg.LoginRateLimit == 0 {
		cfg.LoginRateLimit = 10
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = MaxUploadCeiling
	}
	cfg.StorageProvider = strings.ToLower(strings.TrimSpace(cfg.StorageProvider))
	cfg.QueueBackend = strings.ToLower(strings.TrimSpace(cfg.QueueBackend))
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" && strings.TrimSpace(cfg.JWTPrivateKeyPath) == "" {
		return errors.New("config: jwtSecret or jwtPrivateKeyPath is required")
	}
	switch cfg.StorageProvider {
	case "minio", "s3":
		if cfg.StorageEndpoint == "" && cfg.StorageProvider == "minio" {
			return errors.New("config: storageEndpoint is required for minio")
		}
		if cfg.StorageBucket == "" {
			return fmt.Errorf("config: storageBucket is required for %s", cfg.StorageProvider)
		}
	case "gcs":
		if cfg.StorageBucket == "" {
			return errors.New("config: storageBucket is required for gcs")
		}
	case "local":
		if cfg.LocalStorageDir == "" {
			return errors.New("config: localStorageDir is required for local storage")
		}
	default:
		return fmt.Errorf("config: unknown storageProvider %q", cfg.StorageProvider)
	}
	switch cfg.QueueBackend {
	case "redis", "redis-stream":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return fmt.Errorf("config: redisAddr is required for queueBackend %s", cfg.QueueBackend)
		}
	case "rabbitmq":
		if strings.TrimSpace(cfg.RabbitMQURL) == "" {
			return errors.New("config: rabbitmqURL is required for queueBackend rabbitmq")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown queueBackend %q", cfg.QueueBackend)
	}
	if cfg.SignupRateLimit < 0 || cfg.LoginRateLimit < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 || cfg.MaxUploadBytes > MaxUploadCeiling {
		return fmt.Errorf("config: maxUploadBytes must be between 1 and %d", MaxUploadCeiling)
	}
	for name, value := range map[string]string{
		"tokenTTL":        cfg.TokenTTL,
		"signedURLTTL":    cfg.SignedURLTTL,
		"rateLimitWindow": cfg.RateLimitWindow,
	} {
		if _, err := ParseDuration(value, time.Hour); err != nil {
			return fmt.Errorf("config: invalid %s: %w", name, err)
		}
	}
	return nil
}

// ParseDuration parses an optional duration string, returning def when it is empty.
func ParseDuration(value string, def time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", value)
	}
	return d, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
