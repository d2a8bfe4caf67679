package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	defaultTokenTTL  = 7 * 24 * time.Hour
	defaultTypingTTL = 5 * time.Second
	defaultMongoDB   = "groupchat"
)

type Config struct {
	StorageType      string
	DataSourceName   string
	LocalStoragePath string
	MongoURI         string
	MongoDatabase    string
	RedisAddr        string
	S3BucketName     string
	JWTSecret        string
	TokenTTL         time.Duration
	TypingTTL        time.Duration
	AllowedOrigins   []string
}

// Load reads the optional .env file and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment only")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) Config {
	cfg := Config{
		StorageType:      strings.ToLower(getenv("STORAGE_TYPE")),
		DataSourceName:   getenv("DATA_SOURCE_NAME"),
		LocalStoragePath: getenv("LOCAL_STORAGE_PATH"),
		MongoURI:         getenv("MONGO_URI"),
		MongoDatabase:    getenv("MONGO_DATABASE"),
		RedisAddr:        getenv("REDIS_ADDR"),
		S3BucketName:     getenv("S3_BUCKET_NAME"),
		JWTSecret:        getenv("JWT_SECRET"),
		TokenTTL:         duration(getenv, "TOKEN_TTL", defaultTokenTTL),
		TypingTTL:        duration(getenv, "TYPING_TTL", defaultTypingTTL),
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = defaultMongoDB
	}
	for _, origin := range strings.Split(getenv("ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}
	return cfg
}

// duration parses key as a Go duration. "0" is kept, which disables the
// feature behind it.
func duration(getenv func(string) string, key string, fallback time.Duration) time.Duration {
	raw := getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		logrus.WithFields(logrus.Fields{
			"key":   key,
			"value": raw,
		}).Warn("Invalid duration, using default")
		return fallback
	}
	return d
}
