package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string
	HTTPAddr       string
	LogMode        string
	APIToken       string
	AllowedOrigins string

	Platform    PlatformConfig
	Credentials CredentialsConfig

	RedisAddr     string
	RedisPassword string

	S3 S3Config

	TeardownPause time.Duration
}

type PlatformConfig struct {
	URL         string
	Username    string
	Password    string
	Timeout     time.Duration
	StudentRoot string
}

type CredentialsConfig struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Load reads .env when present and then the process environment.
// The returned bool reports whether a .env file was loaded.
func Load() (*Config, bool, error) {
	loaded := godotenv.Load() == nil

	cfg := &Config{
		DatabaseURL:    String("DATABASE_URL", ""),
		HTTPAddr:       String("HTTP_ADDR", ":5200"),
		LogMode:        String("LOG_MODE", "dev"),
		APIToken:       String("API_TOKEN", ""),
		AllowedOrigins: String("ALLOWED_ORIGINS", "http://localhost:3000"),
		Platform: PlatformConfig{
			URL:         strings.TrimRight(String("PLATFORM_URL", ""), "/"),
			Username:    String("PLATFORM_USERNAME", ""),
			Password:    String("PLATFORM_PASSWORD", ""),
			Timeout:     time.Duration(Int("PLATFORM_TIMEOUT_SECONDS", 30)) * time.Second,
			StudentRoot: String("PLATFORM_STUDENT_ROOT", "/"),
		},
		Credentials: CredentialsConfig{
			URL:      strings.TrimRight(String("CREDENTIALS_URL", ""), "/"),
			Username: String("CREDENTIALS_USERNAME", ""),
			Password: String("CREDENTIALS_PASSWORD", ""),
			Timeout:  time.Duration(Int("CREDENTIALS_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		RedisAddr:     String("REDIS_ADDR", ""),
		RedisPassword: String("REDIS_PASSWORD", ""),
		S3: S3Config{
			Endpoint:        String("S3_ENDPOINT", ""),
			Region:          String("S3_REGION", "auto"),
			Bucket:          String("S3_BUCKET", ""),
			AccessKeyID:     String("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: String("S3_SECRET_ACCESS_KEY", ""),
		},
		TeardownPause: time.Duration(Int("TEARDOWN_PAUSE_MS", 1000)) * time.Millisecond,
	}

	if cfg.DatabaseURL == "" {
		return nil, loaded, errors.New("DATABASE_URL environment variable not set")
	}
	return cfg, loaded, nil
}

func String(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Origins splits a comma-separated origin list and trims each entry.
func Origins(raw string) string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}
