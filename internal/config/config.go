package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the API process.
type Config struct {
	Port    string
	GinMode string

	DBDriver   string // postgres | sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	StorageDriver string // fs | s3
	UploadDir     string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3Prefix      string
	S3AccessKey   string
	S3SecretKey   string

	RedisAddr    string
	RedisChannel string

	CORSOrigins []string

	AdminUsername string
	AdminEmail    string
	AdminPassword string
	AdminFullName string
}

// Load reads configs/.env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load("configs/.env")

	cfg := Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "docuflow"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		SQLitePath: getEnv("SQLITE_PATH", "docuflow.db"),

		JWTSecret:       os.Getenv("JWT_SECRET"),
		AccessTokenTTL:  getEnvAsDuration("ACCESS_TOKEN_TTL", 7*24*time.Hour),
		RefreshTokenTTL: getEnvAsDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),

		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", "fs")),
		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		S3Bucket:      os.Getenv("S3_BUCKET"),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:    os.Getenv("S3_ENDPOINT"),
		S3Prefix:      getEnv("S3_PREFIX", "docuflow"),
		S3AccessKey:   os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("S3_SECRET_KEY"),

		RedisAddr:    strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisChannel: getEnv("REDIS_CHANNEL", "docuflow-notifications"),

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")),

		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminFullName: getEnv("ADMIN_FULL_NAME", "Administrador"),
	}

	if cfg.JWTSecret == "" {
		if cfg.GinMode == "release" {
			return Config{}, errors.New("JWT_SECRET environment variable is required in release mode")
		}
		cfg.JWTSecret = "default_super_secret_key" // development fallback only
	}
	if cfg.StorageDriver == "s3" && cfg.S3Bucket == "" {
		return Config{}, errors.New("S3_BUCKET is required when STORAGE_DRIVER=s3")
	}

	return cfg, nil
}

// PostgresDSN builds the connection string the same way for every entry point.
func (c Config) PostgresDSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// getEnvAsDuration accepts either a Go duration ("24h") or a number of seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
