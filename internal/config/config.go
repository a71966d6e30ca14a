package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// DBDSN empty means an in-memory store: the archive is re-imported on
	// every start and nothing persists. Handy for trying things out.
	DBDSN       string
	HTTPAddr    string
	LogLevel    string
	ArchivePath string
	RedisDSN    string
	CORSOrigins []string

	S3Endpoint string
	S3Bucket   string
	S3Region   string

	// never log this
	TwitterBearerToken string
}

func Load() (Config, error) {
	// a missing .env file is fine; the environment may carry everything
	_ = godotenv.Load()

	cfg := Config{
		DBDSN:              os.Getenv("DB_DSN"),
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8008"),
		LogLevel:           getenvDefault("LOG_LEVEL", "info"),
		ArchivePath:        getenvDefault("ARCHIVE_PATH", "."),
		RedisDSN:           os.Getenv("REDIS_DSN"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3Region:           getenvDefault("S3_REGION", "auto"),
		TwitterBearerToken: os.Getenv("TWITTER_BEARER_TOKEN"),
	}

	corsOrigins := getenvDefault("CORS_ORIGINS", "")
	if corsOrigins != "" {
		cfg.CORSOrigins = strings.Split(corsOrigins, ",")
		for i := range cfg.CORSOrigins {
			cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
		}
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000"}
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
