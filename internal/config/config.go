package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	AssemblyAI AssemblyAIConfig
	SignASL    SignASLConfig
	Media      MediaConfig
	Plan       PlanConfig
	Storage    StorageConfig
	Worker     WorkerConfig
	R2         R2Config
}

type ServerConfig struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string // prefix for locally served video URLs, e.g. https://api.example.com
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	SubmitPerHour int
}

type AssemblyAIConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxWait      time.Duration // 0 waits for as long as the service keeps processing
	DualChannel  bool
}

type SignASLConfig struct {
	BaseURLs   []string
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
	WordCap    int
	LetterCap  int
}

type MediaConfig struct {
	FFmpegPath       string
	FFprobePath      string
	FPS              int
	Width            int
	Height           int
	PixFmt           string
	FetchConcurrency int
	TempDir          string
}

type PlanConfig struct {
	WordFloor float64 // seconds
	ClipFloor float64 // seconds
}

type StorageConfig struct {
	OutputDir  string
	AudioDir   string
	Driver     string // memory, sqlite or redis
	SQLitePath string
	JobTTL     time.Duration
	CacheTTL   time.Duration
}

type WorkerConfig struct {
	Driver      string // local or asynq
	Concurrency int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("ASSEMBLYAI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.public_base_url", "PUBLIC_BASE_URL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")
	_ = viper.BindEnv("assemblyai.api_key", "ASSEMBLYAI_API_KEY")
	_ = viper.BindEnv("assemblyai.base_url", "ASSEMBLYAI_BASE_URL")
	_ = viper.BindEnv("assemblyai.poll_interval", "ASSEMBLYAI_POLL_INTERVAL")
	_ = viper.BindEnv("assemblyai.max_wait", "ASSEMBLYAI_MAX_WAIT")
	_ = viper.BindEnv("assemblyai.dual_channel", "AAI_DUAL_CHANNEL")
	_ = viper.BindEnv("signasl.base_urls", "SIGNASL_BASE_URLS")
	_ = viper.BindEnv("signasl.user_agent", "SIGNASL_USER_AGENT")
	_ = viper.BindEnv("signasl.timeout", "SIGNASL_TIMEOUT")
	_ = viper.BindEnv("signasl.rate_per_sec", "SIGNASL_RATE_PER_SEC")
	_ = viper.BindEnv("signasl.word_cap", "SIGNASL_WORD_CAP")
	_ = viper.BindEnv("signasl.letter_cap", "SIGNASL_LETTER_CAP")
	_ = viper.BindEnv("media.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("media.ffprobe_path", "FFPROBE_PATH")
	_ = viper.BindEnv("media.fps", "MEDIA_FPS")
	_ = viper.BindEnv("media.width", "MEDIA_WIDTH")
	_ = viper.BindEnv("media.height", "MEDIA_HEIGHT")
	_ = viper.BindEnv("media.pix_fmt", "MEDIA_PIX_FMT")
	_ = viper.BindEnv("media.fetch_concurrency", "MEDIA_FETCH_CONCURRENCY")
	_ = viper.BindEnv("media.temp_dir", "MEDIA_TEMP_DIR")
	_ = viper.BindEnv("plan.word_floor", "PLAN_WORD_FLOOR")
	_ = viper.BindEnv("plan.clip_floor", "PLAN_CLIP_FLOOR")
	_ = viper.BindEnv("storage.output_dir", "STATIC_DIR")
	_ = viper.BindEnv("storage.audio_dir", "AUDIO_DIR")
	_ = viper.BindEnv("storage.driver", "JOB_STORE_DRIVER")
	_ = viper.BindEnv("storage.sqlite_path", "JOB_STORE_SQLITE_PATH")
	_ = viper.BindEnv("storage.job_ttl", "JOB_TTL")
	_ = viper.BindEnv("storage.cache_ttl", "LOOKUP_CACHE_TTL")
	_ = viper.BindEnv("worker.driver", "WORKER_DRIVER")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.public_base_url", "")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("ratelimit.submit_per_hour", 30)

	// AssemblyAI defaults
	viper.SetDefault("assemblyai.base_url", "https://api.assemblyai.com")
	viper.SetDefault("assemblyai.poll_interval", "2s")
	viper.SetDefault("assemblyai.max_wait", "0s")
	viper.SetDefault("assemblyai.dual_channel", false)

	// SignASL defaults
	viper.SetDefault("signasl.base_urls", "https://www.signasl.org/,https://signasl.org/")
	viper.SetDefault("signasl.user_agent", DefaultUserAgent)
	viper.SetDefault("signasl.timeout", "8s")
	viper.SetDefault("signasl.rate_per_sec", 5)
	viper.SetDefault("signasl.word_cap", 2)
	viper.SetDefault("signasl.letter_cap", 6)

	// Media defaults
	viper.SetDefault("media.ffmpeg_path", "")
	viper.SetDefault("media.ffprobe_path", "")
	viper.SetDefault("media.fps", 24)
	viper.SetDefault("media.width", 640)
	viper.SetDefault("media.height", 480)
	viper.SetDefault("media.pix_fmt", "yuv420p")
	viper.SetDefault("media.fetch_concurrency", 4)
	viper.SetDefault("media.temp_dir", "")

	// Plan defaults
	viper.SetDefault("plan.word_floor", 0.12)
	viper.SetDefault("plan.clip_floor", 0.08)

	// Storage defaults
	viper.SetDefault("storage.output_dir", "static_output")
	viper.SetDefault("storage.audio_dir", "")
	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite_path", "jobs.db")
	viper.SetDefault("storage.job_ttl", "0s")
	viper.SetDefault("storage.cache_ttl", "168h")

	// Worker defaults
	viper.SetDefault("worker.driver", "local")
	viper.SetDefault("worker.concurrency", 4)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:          viper.GetString("server.port"),
			Env:           viper.GetString("server.env"),
			LogLevel:      viper.GetString("server.log_level"),
			PublicBaseURL: strings.TrimRight(viper.GetString("server.public_base_url"), "/"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: viper.GetInt("ratelimit.submit_per_hour"),
		},
		AssemblyAI: AssemblyAIConfig{
			APIKey:       viper.GetString("assemblyai.api_key"),
			BaseURL:      viper.GetString("assemblyai.base_url"),
			PollInterval: viper.GetDuration("assemblyai.poll_interval"),
			MaxWait:      viper.GetDuration("assemblyai.max_wait"),
			DualChannel:  viper.GetBool("assemblyai.dual_channel"),
		},
		SignASL: SignASLConfig{
			BaseURLs:   splitList(viper.GetString("signasl.base_urls")),
			UserAgent:  viper.GetString("signasl.user_agent"),
			Timeout:    viper.GetDuration("signasl.timeout"),
			RatePerSec: viper.GetFloat64("signasl.rate_per_sec"),
			WordCap:    viper.GetInt("signasl.word_cap"),
			LetterCap:  viper.GetInt("signasl.letter_cap"),
		},
		Media: MediaConfig{
			FFmpegPath:       viper.GetString("media.ffmpeg_path"),
			FFprobePath:      viper.GetString("media.ffprobe_path"),
			FPS:              viper.GetInt("media.fps"),
			Width:            viper.GetInt("media.width"),
			Height:           viper.GetInt("media.height"),
			PixFmt:           viper.GetString("media.pix_fmt"),
			FetchConcurrency: viper.GetInt("media.fetch_concurrency"),
			TempDir:          viper.GetString("media.temp_dir"),
		},
		Plan: PlanConfig{
			WordFloor: viper.GetFloat64("plan.word_floor"),
			ClipFloor: viper.GetFloat64("plan.clip_floor"),
		},
		Storage: StorageConfig{
			OutputDir:  viper.GetString("storage.output_dir"),
			AudioDir:   viper.GetString("storage.audio_dir"),
			Driver:     strings.ToLower(viper.GetString("storage.driver")),
			SQLitePath: viper.GetString("storage.sqlite_path"),
			JobTTL:     viper.GetDuration("storage.job_ttl"),
			CacheTTL:   viper.GetDuration("storage.cache_ttl"),
		},
		Worker: WorkerConfig{
			Driver:      strings.ToLower(viper.GetString("worker.driver")),
			Concurrency: viper.GetInt("worker.concurrency"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}

// splitList turns a comma separated setting into its non-empty, trimmed parts.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
