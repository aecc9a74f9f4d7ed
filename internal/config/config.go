package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/shlex"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Groq      GroqConfig
	Image     ProviderConfig
	Speech    ProviderConfig
	R2        R2Config
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
	Worker    WorkerConfig
	Render    RenderConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	Mode      string // api, worker, all
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	VideosPerHour int
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ProviderConfig covers the OpenAI-compatible image and speech endpoints
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type WorkerConfig struct {
	LeaseTTL                time.Duration
	RenewInterval           time.Duration
	RecoveryInterval        time.Duration
	SceneConcurrency        int
	MaxOutboundCalls        int64
	RetryAttempts           uint
	RetryInitialInterval    time.Duration
	RetryMaxInterval        time.Duration
	ProbeAttempts           int
	ImagePlaceholderOnError bool
	AsynqConcurrency        int
}

type RenderConfig struct {
	FFmpegBin        string
	FFprobeBin       string
	TempRoot         string
	Width            int
	Height           int
	FPS              int
	ExtraArgs        []string
	MinOutputBytes   int64
	MaxDownloadBytes int64
	ThrottleCPU      float64
	ThrottleFreeMem  int64
	ThrottleFreeDisk int64
	ThumbnailAt      time.Duration
	Timeout          time.Duration
}

type LogConfig struct {
	Level      string
	Format     string
	Output     string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("GROQ_API_KEY")
	readSecret("IMAGE_API_KEY")
	readSecret("SPEECH_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")
	readSecret("JWT_SECRET")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	extraArgs, err := shlex.Split(v.GetString("render.extra_args"))
	if err != nil {
		return nil, fmt.Errorf("render.extra_args: %w", err)
	}

	sizes := map[string]int64{}
	for _, key := range []string{"render.min_output_size", "render.max_download_size", "render.throttle_free_mem", "render.throttle_free_disk"} {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(v.GetString(key))); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		sizes[key] = int64(size.Bytes())
	}

	mode := strings.ToLower(v.GetString("server.mode"))
	switch mode {
	case "api", "worker", "all":
	default:
		return nil, fmt.Errorf("server.mode: unknown mode %q", mode)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			Mode:      mode,
			ApiDomain: v.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			VideosPerHour: v.GetInt("ratelimit.videos_per_hour"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		Image: ProviderConfig{
			APIKey:  v.GetString("image.api_key"),
			BaseURL: v.GetString("image.base_url"),
			Model:   v.GetString("image.model"),
			Timeout: v.GetDuration("image.timeout"),
		},
		Speech: ProviderConfig{
			APIKey:  v.GetString("speech.api_key"),
			BaseURL: v.GetString("speech.base_url"),
			Model:   v.GetString("speech.model"),
			Timeout: v.GetDuration("speech.timeout"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		Worker: WorkerConfig{
			LeaseTTL:                v.GetDuration("worker.lease_ttl"),
			RenewInterval:           v.GetDuration("worker.renew_interval"),
			RecoveryInterval:        v.GetDuration("worker.recovery_interval"),
			SceneConcurrency:        v.GetInt("worker.scene_concurrency"),
			MaxOutboundCalls:        v.GetInt64("worker.max_outbound_calls"),
			RetryAttempts:           v.GetUint("worker.retry_attempts"),
			RetryInitialInterval:    v.GetDuration("worker.retry_initial_interval"),
			RetryMaxInterval:        v.GetDuration("worker.retry_max_interval"),
			ProbeAttempts:           v.GetInt("worker.probe_attempts"),
			ImagePlaceholderOnError: v.GetBool("worker.image_placeholder_on_error"),
			AsynqConcurrency:        v.GetInt("worker.asynq_concurrency"),
		},
		Render: RenderConfig{
			FFmpegBin:        v.GetString("render.ffmpeg_bin"),
			FFprobeBin:       v.GetString("render.ffprobe_bin"),
			TempRoot:         v.GetString("render.temp_root"),
			Width:            v.GetInt("render.width"),
			Height:           v.GetInt("render.height"),
			FPS:              v.GetInt("render.fps"),
			ExtraArgs:        extraArgs,
			MinOutputBytes:   sizes["render.min_output_size"],
			MaxDownloadBytes: sizes["render.max_download_size"],
			ThrottleCPU:      v.GetFloat64("render.throttle_cpu"),
			ThrottleFreeMem:  sizes["render.throttle_free_mem"],
			ThrottleFreeDisk: sizes["render.throttle_free_disk"],
			ThumbnailAt:      v.GetDuration("render.thumbnail_at"),
			Timeout:          v.GetDuration("render.timeout"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			Path:       v.GetString("log.path"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
			Compress:   v.GetBool("log.compress"),
		},
	}

	if cfg.Worker.RenewInterval >= cfg.Worker.LeaseTTL {
		return nil, fmt.Errorf("worker.renew_interval (%s) must be shorter than worker.lease_ttl (%s)",
			cfg.Worker.RenewInterval, cfg.Worker.LeaseTTL)
	}

	return cfg, nil
}

// Bind environment variables with underscores to nested config keys
var envBindings = map[string]string{
	"server.port":                       "SERVER_PORT",
	"server.env":                        "SERVER_ENV",
	"server.mode":                       "SERVER_MODE",
	"server.api_domain":                 "API_DOMAIN",
	"redis.addr":                        "REDIS_ADDR",
	"redis.password":                    "REDIS_PASSWORD",
	"redis.db":                          "REDIS_DB",
	"jwt.secret":                        "JWT_SECRET",
	"jwt.expiration":                    "JWT_EXPIRATION",
	"ratelimit.videos_per_hour":         "RATELIMIT_VIDEOS_PER_HOUR",
	"groq.api_key":                      "GROQ_API_KEY",
	"groq.base_url":                     "GROQ_BASE_URL",
	"groq.model":                        "GROQ_MODEL",
	"image.api_key":                     "IMAGE_API_KEY",
	"image.base_url":                    "IMAGE_BASE_URL",
	"image.model":                       "IMAGE_MODEL",
	"image.timeout":                     "IMAGE_TIMEOUT",
	"speech.api_key":                    "SPEECH_API_KEY",
	"speech.base_url":                   "SPEECH_BASE_URL",
	"speech.model":                      "SPEECH_MODEL",
	"speech.timeout":                    "SPEECH_TIMEOUT",
	"r2.account_id":                     "R2_ACCOUNT_ID",
	"r2.access_key_id":                  "R2_ACCESS_KEY_ID",
	"r2.secret_access_key":              "R2_SECRET_ACCESS_KEY",
	"r2.bucket_name":                    "R2_BUCKET_NAME",
	"r2.public_url":                     "R2_PUBLIC_URL",
	"zitadel.domain":                    "ZITADEL_DOMAIN",
	"zitadel.client_id":                 "ZITADEL_CLIENT_ID",
	"zitadel.issuer":                    "ZITADEL_ISSUER",
	"gateway.enabled":                   "GATEWAY_ENABLED",
	"worker.lease_ttl":                  "WORKER_LEASE_TTL",
	"worker.renew_interval":             "WORKER_RENEW_INTERVAL",
	"worker.recovery_interval":          "WORKER_RECOVERY_INTERVAL",
	"worker.scene_concurrency":          "WORKER_SCENE_CONCURRENCY",
	"worker.max_outbound_calls":         "WORKER_MAX_OUTBOUND_CALLS",
	"worker.retry_attempts":             "WORKER_RETRY_ATTEMPTS",
	"worker.retry_initial_interval":     "WORKER_RETRY_INITIAL_INTERVAL",
	"worker.retry_max_interval":         "WORKER_RETRY_MAX_INTERVAL",
	"worker.probe_attempts":             "WORKER_PROBE_ATTEMPTS",
	"worker.image_placeholder_on_error": "WORKER_IMAGE_PLACEHOLDER_ON_ERROR",
	"worker.asynq_concurrency":          "WORKER_ASYNQ_CONCURRENCY",
	"render.ffmpeg_bin":                 "FFMPEG_BIN",
	"render.ffprobe_bin":                "FFPROBE_BIN",
	"render.temp_root":                  "RENDER_TEMP_ROOT",
	"render.width":                      "RENDER_WIDTH",
	"render.height":                     "RENDER_HEIGHT",
	"render.fps":                        "RENDER_FPS",
	"render.extra_args":                 "RENDER_EXTRA_ARGS",
	"render.min_output_size":            "RENDER_MIN_OUTPUT_SIZE",
	"render.max_download_size":          "RENDER_MAX_DOWNLOAD_SIZE",
	"render.throttle_cpu":               "RENDER_THROTTLE_CPU",
	"render.throttle_free_mem":          "RENDER_THROTTLE_FREE_MEM",
	"render.throttle_free_disk":         "RENDER_THROTTLE_FREE_DISK",
	"render.thumbnail_at":               "RENDER_THUMBNAIL_AT",
	"render.timeout":                    "RENDER_TIMEOUT",
	"log.level":                         "LOG_LEVEL",
	"log.format":                        "LOG_FORMAT",
	"log.output":                        "LOG_OUTPUT",
	"log.path":                          "LOG_PATH",
	"log.max_size_mb":                   "LOG_MAX_SIZE_MB",
	"log.max_backups":                   "LOG_MAX_BACKUPS",
	"log.max_age_days":                  "LOG_MAX_AGE_DAYS",
	"log.compress":                      "LOG_COMPRESS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.mode", "all")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("ratelimit.videos_per_hour", 10)

	// Provider defaults
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("image.base_url", "https://api.openai.com/v1")
	v.SetDefault("image.model", "gpt-image-1")
	v.SetDefault("image.timeout", "90s")
	v.SetDefault("speech.base_url", "https://api.openai.com/v1")
	v.SetDefault("speech.model", "tts-1")
	v.SetDefault("speech.timeout", "60s")

	// Gateway defaults
	v.SetDefault("gateway.enabled", false)

	// Worker defaults
	v.SetDefault("worker.lease_ttl", "120s")
	v.SetDefault("worker.renew_interval", "30s")
	v.SetDefault("worker.recovery_interval", "5m")
	v.SetDefault("worker.scene_concurrency", 3)
	v.SetDefault("worker.max_outbound_calls", 4)
	v.SetDefault("worker.retry_attempts", 4)
	v.SetDefault("worker.retry_initial_interval", "1s")
	v.SetDefault("worker.retry_max_interval", "20s")
	v.SetDefault("worker.probe_attempts", 3)
	v.SetDefault("worker.image_placeholder_on_error", false)
	v.SetDefault("worker.asynq_concurrency", 2)

	// Render defaults
	v.SetDefault("render.ffmpeg_bin", "ffmpeg")
	v.SetDefault("render.ffprobe_bin", "ffprobe")
	v.SetDefault("render.temp_root", os.TempDir())
	v.SetDefault("render.width", 1080)
	v.SetDefault("render.height", 1920)
	v.SetDefault("render.fps", 30)
	v.SetDefault("render.extra_args", "-preset veryfast -crf 23")
	v.SetDefault("render.min_output_size", "10KB")
	v.SetDefault("render.max_download_size", "50MB")
	v.SetDefault("render.throttle_cpu", 90.0)
	v.SetDefault("render.throttle_free_mem", "256MB")
	v.SetDefault("render.throttle_free_disk", "1GB")
	v.SetDefault("render.thumbnail_at", "1s")
	v.SetDefault("render.timeout", "15m")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.path", "./logs/app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", true)
}
