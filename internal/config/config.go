package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Sweep modes for stale match deletion.
const (
	SweepBatch = "batch"
	SweepRow   = "row"
)

// Upload backends.
const (
	UploadLocal = "local"
	UploadS3    = "s3"
)

type Config struct {
	DBHost    string
	DBPort    string
	DBName    string
	DBUser    string
	DBPass    string
	DBSSLMode string

	RedisAddr string
	Port      string

	JWTSecret string
	JWTTTL    time.Duration

	UploadBackend   string
	UploadDir       string
	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3AccessKeyID   string
	S3SecretKey     string
	S3PublicBaseURL string

	InformerSourceURL string

	SweepInterval time.Duration
	SweepMode     string
	Location      *time.Location

	LogMode     string
	CORSOrigins []string
}

func envOrDefault(key, d string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return d
	}
	return v
}

func durationOrDefault(key string, d time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return d, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment are never overridden by .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:            envOrDefault("DB_HOST", "localhost"),
		DBPort:            envOrDefault("DB_PORT", "5432"),
		DBName:            envOrDefault("DB_NAME", "meal_match"),
		DBUser:            envOrDefault("DB_USER", "meal_match"),
		DBPass:            envOrDefault("DB_PASS", ""),
		DBSSLMode:         envOrDefault("DB_SSLMODE", "disable"),
		RedisAddr:         envOrDefault("REDIS_ADDR", ""),
		Port:              envOrDefault("PORT", "8080"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		UploadBackend:     strings.ToLower(envOrDefault("UPLOAD_BACKEND", UploadLocal)),
		UploadDir:         envOrDefault("UPLOAD_DIR", "uploads"),
		S3Endpoint:        envOrDefault("S3_ENDPOINT", ""),
		S3Region:          envOrDefault("S3_REGION", "auto"),
		S3Bucket:          envOrDefault("S3_BUCKET", ""),
		S3AccessKeyID:     envOrDefault("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:       envOrDefault("S3_SECRET_ACCESS_KEY", ""),
		S3PublicBaseURL:   envOrDefault("S3_PUBLIC_BASE_URL", ""),
		InformerSourceURL: envOrDefault("INFORMER_SOURCE_URL", ""),
		SweepMode:         strings.ToLower(envOrDefault("SWEEP_MODE", SweepBatch)),
		LogMode:           envOrDefault("LOG_MODE", "dev"),
	}

	var err error
	if cfg.JWTTTL, err = durationOrDefault("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationOrDefault("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	cfg.Location = time.Local
	if tz := envOrDefault("TZ_NAME", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("TZ_NAME: %w", err)
		}
		cfg.Location = loc
	}

	for _, o := range strings.Split(envOrDefault("CORS_ORIGINS", "http://localhost:3000"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}
	return cfg, nil
}

// PostgresURL builds the lib/pq connection string.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPass),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

// ValidateSweep checks only the settings a one-off sweep depends on.
func (c *Config) ValidateSweep() error {
	switch c.SweepMode {
	case SweepBatch, SweepRow:
		return nil
	}
	return fmt.Errorf("SWEEP_MODE must be %q or %q, got %q", SweepBatch, SweepRow, c.SweepMode)
}

func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if err := c.ValidateSweep(); err != nil {
		errs = append(errs, err)
	}
	switch c.UploadBackend {
	case UploadLocal:
		if c.UploadDir == "" {
			errs = append(errs, errors.New("UPLOAD_DIR is required for local uploads"))
		}
	case UploadS3:
		if c.S3Bucket == "" || c.S3AccessKeyID == "" || c.S3SecretKey == "" {
			errs = append(errs, errors.New("S3_BUCKET, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required for s3 uploads"))
		}
	default:
		errs = append(errs, fmt.Errorf("UPLOAD_BACKEND must be %q or %q, got %q", UploadLocal, UploadS3, c.UploadBackend))
	}
	return errors.Join(errs...)
}
