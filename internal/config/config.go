package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Media   MediaConfig
	Ingest  IngestConfig
	Store   StoreConfig
	Redis   RedisConfig
	Logging LoggingConfig
	WebRTC  WebRTCConfig
	Auth    AuthConfig
}

// AuthConfig configures the thin bearer-token resolver standing in for a
// full OAuth2 login flow, which lives outside this service.
// When UserinfoURL is empty, the resolver runs in dev-bypass mode: any
// bearer token is accepted and turned into a UserContext derived from the
// token string itself, so the core subsystems are exercisable without a
// live identity provider.
type AuthConfig struct {
	UserinfoURL string
	DevBypass   bool
}

type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// MediaConfig controls the Broadcaster's pacing and scratch directories.
type MediaConfig struct {
	SessionScratchDir string
	PageDurationMs    int
}

// IngestConfig bounds the ingestion pipeline and names the external-tool
// binaries it shells out to.
type IngestConfig struct {
	MaxConcurrentTasks int
	MaxFileSizeBytes   int64
	MaxPlaylistSize    int
	ConvertedDir       string
	YtDlpPath          string
	FfmpegPath         string
}

type StoreConfig struct {
	DatabaseURL string

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type WebRTCConfig struct {
	STUNServer string
}

// Load populates a Config from the process environment with sensible
// defaults for everything except DATABASE_URL_DEV.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8000),
			ShutdownTimeout: time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SEC", 10)) * time.Second,
		},
		Media: MediaConfig{
			SessionScratchDir: getEnv("SESSION_SCRATCH_DIR", "./sessions"),
			PageDurationMs:    getEnvInt("OGG_PAGE_DURATION_MS", 20),
		},
		Ingest: IngestConfig{
			MaxConcurrentTasks: getEnvInt("MAX_CONCURRENT_TASKS", 4),
			MaxFileSizeBytes:   getEnvInt64("MAX_FILE_SIZE", 10_000_000),
			MaxPlaylistSize:    getEnvInt("MAX_PLAYLIST_SIZE", 10),
			ConvertedDir:       getEnv("CONVERTED_DIR", "./converted"),
			YtDlpPath:          getEnv("YT_DLP_PATH", "yt-dlp"),
			FfmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		},
		Store: StoreConfig{
			DatabaseURL:       getEnv("DATABASE_URL_DEV", ""),
			S3Bucket:          getEnv("S3_BUCKET", "musicshare"),
			S3Region:          getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:        getEnv("S3_ENDPOINT", ""),
			S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		WebRTC: WebRTCConfig{
			STUNServer: getEnv("STUN_SERVER", "stun:stun.l.google.com:19302"),
		},
		Auth: AuthConfig{
			UserinfoURL: getEnv("OAUTH_USERINFO_URL", ""),
			DevBypass:   getEnvBool("AUTH_DEV_BYPASS", getEnv("OAUTH_USERINFO_URL", "") == ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
