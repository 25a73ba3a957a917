package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
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
	Server    ServerConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Upload    UploadConfig
	Media     MediaConfig
	Mix       MixConfig
	ASR       ASRConfig
	Translate TranslateConfig
	Groq      GroqConfig
	TTS       TTSConfig
	R2        R2Config
	Auth      AuthConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Cleanup   CleanupConfig
	Status    StatusConfig
}

type ServerConfig struct {
	Port        string `validate:"required"`
	Env         string
	LogLevel    string `validate:"oneof=debug info warn error"`
	BodyLimitMB int    `validate:"gt=0"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type QueueConfig struct {
	Backend string `validate:"oneof=memory redis"`
}

type WorkerConfig struct {
	Concurrency   int `validate:"gt=0"`
	QueueCapacity int `validate:"gt=0"`
	JobTimeout    int `validate:"gt=0"` // minutes
}

type StorageConfig struct {
	UploadDir    string `validate:"required"`
	ResultDir    string `validate:"required"`
	WorkspaceDir string `validate:"required"`
	AmbientPath  string
	HistoryDB    string
}

type UploadConfig struct {
	MaxSizeMB         int      `validate:"gt=0"`
	AllowedExtensions []string `validate:"min=1,dive,required"`
}

type MediaConfig struct {
	FFmpeg            string `validate:"required"`
	FFprobe           string `validate:"required"`
	ExtractSampleRate int    `validate:"gt=0"`
	MixSampleRate     int    `validate:"gt=0"`
	VideoCodec        string `validate:"required"`
	VideoPreset       string
	VideoBitrate      string
	AudioCodec        string `validate:"required"`
	AudioBitrate      string
	Threads           int `validate:"gte=0"`
}

type MixConfig struct {
	AmbientGain float64 `validate:"gt=1"`
	VoiceGain   float64 `validate:"gt=0,lt=1"`
}

type ASRConfig struct {
	Provider       string `validate:"oneof=openai whisper-cli"`
	APIKey         string
	BaseURL        string
	Model          string
	Language       string
	WhisperCommand string
	WhisperModel   string
	Timeout        int `validate:"gt=0"` // seconds
}

type TranslateConfig struct {
	Provider       string `validate:"oneof=identity openai groq"`
	TargetLanguage string
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        int `validate:"gt=0"` // seconds
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type TTSConfig struct {
	Provider    string `validate:"oneof=yating openai"`
	URL         string
	Key         string
	Voice       string
	Speed       float64 `validate:"gt=0"`
	Pitch       float64 `validate:"gt=0"`
	Energy      float64 `validate:"gt=0"`
	Encoding    string
	SampleRate  string
	OpenAIKey   string
	OpenAIURL   string
	OpenAIVoice string
	Timeout     int `validate:"gt=0"` // seconds
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	URLExpiry       int // minutes
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	UploadPerHour int `validate:"gte=0"`
}

type CleanupConfig struct {
	IntervalMinutes      int `validate:"gte=0"`
	WorkspaceMaxAgeHours int `validate:"gte=0"`
	UploadMaxAgeHours    int `validate:"gte=0"`
}

type StatusConfig struct {
	RetentionHours int `validate:"gte=0"`
}

// MaxUploadBytes returns the upload cap in bytes.
func (c UploadConfig) MaxUploadBytes() int64 {
	return int64(c.MaxSizeMB) * 1024 * 1024
}

// JobTimeoutDuration returns the per-job execution limit.
func (c WorkerConfig) JobTimeoutDuration() time.Duration {
	return time.Duration(c.JobTimeout) * time.Minute
}

// StatusRetention returns how long Redis keeps a job record; zero means forever.
func (c StatusConfig) StatusRetention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("OPENAI_API_KEY")
	readSecret("GROQ_API_KEY")
	readSecret("YATING_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("JWT_SECRET")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	bindEnv(v)
	setDefaults(v)

	// Try to read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Bind environment variables with underscores to nested config keys
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("queue.backend", "QUEUE_BACKEND")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.queue_capacity", "WORKER_QUEUE_CAPACITY")
	_ = v.BindEnv("worker.job_timeout", "WORKER_JOB_TIMEOUT")
	_ = v.BindEnv("storage.upload_dir", "UPLOAD_DIR")
	_ = v.BindEnv("storage.result_dir", "RESULT_DIR")
	_ = v.BindEnv("storage.workspace_dir", "WORKSPACE_DIR")
	_ = v.BindEnv("storage.ambient_path", "AMBIENT_PATH")
	_ = v.BindEnv("storage.history_db", "HISTORY_DB")
	_ = v.BindEnv("upload.max_size_mb", "UPLOAD_MAX_SIZE_MB")
	_ = v.BindEnv("media.ffmpeg", "FFMPEG_PATH")
	_ = v.BindEnv("media.ffprobe", "FFPROBE_PATH")
	_ = v.BindEnv("mix.ambient_gain", "MIX_AMBIENT_GAIN")
	_ = v.BindEnv("mix.voice_gain", "MIX_VOICE_GAIN")
	_ = v.BindEnv("asr.provider", "ASR_PROVIDER")
	_ = v.BindEnv("asr.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("asr.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("asr.language", "ASR_LANGUAGE")
	_ = v.BindEnv("asr.whisper_command", "WHISPER_COMMAND")
	_ = v.BindEnv("asr.whisper_model", "WHISPER_MODEL")
	_ = v.BindEnv("translate.provider", "TRANSLATE_PROVIDER")
	_ = v.BindEnv("translate.target_language", "TRANSLATE_TARGET_LANGUAGE")
	_ = v.BindEnv("translate.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("translate.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("groq.api_key", "GROQ_API_KEY")
	_ = v.BindEnv("groq.base_url", "GROQ_BASE_URL")
	_ = v.BindEnv("groq.model", "GROQ_MODEL")
	_ = v.BindEnv("tts.provider", "TTS_PROVIDER")
	_ = v.BindEnv("tts.url", "YATING_TTS_URL")
	_ = v.BindEnv("tts.key", "YATING_API_KEY")
	_ = v.BindEnv("tts.openai_key", "OPENAI_API_KEY")
	_ = v.BindEnv("tts.openai_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("auth.issuer", "AUTH_ISSUER")
	_ = v.BindEnv("auth.audience", "AUTH_AUDIENCE")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = v.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = v.BindEnv("status.retention_hours", "STATUS_RETENTION_HOURS")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit_mb", 110)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Queue / worker defaults
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_capacity", 16)
	v.SetDefault("worker.job_timeout", 60)

	// Storage defaults
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.result_dir", "results")
	v.SetDefault("storage.workspace_dir", "temp")
	v.SetDefault("storage.ambient_path", "")
	v.SetDefault("storage.history_db", "dubbing.db")

	// Upload defaults
	v.SetDefault("upload.max_size_mb", 100)
	v.SetDefault("upload.allowed_extensions", []string{"mp4", "mov", "avi"})

	// Media defaults
	v.SetDefault("media.ffmpeg", "ffmpeg")
	v.SetDefault("media.ffprobe", "ffprobe")
	v.SetDefault("media.extract_sample_rate", 16000)
	v.SetDefault("media.mix_sample_rate", 44100)
	v.SetDefault("media.video_codec", "libx264")
	v.SetDefault("media.video_preset", "medium")
	v.SetDefault("media.video_bitrate", "")
	v.SetDefault("media.audio_codec", "aac")
	v.SetDefault("media.audio_bitrate", "192k")
	v.SetDefault("media.threads", 4)

	// Mix defaults
	v.SetDefault("mix.ambient_gain", 1.2)
	v.SetDefault("mix.voice_gain", 0.8)

	// Transcription defaults
	v.SetDefault("asr.provider", "openai")
	v.SetDefault("asr.base_url", "https://api.openai.com/v1")
	v.SetDefault("asr.model", "whisper-1")
	v.SetDefault("asr.language", "zh")
	v.SetDefault("asr.whisper_command", "python")
	v.SetDefault("asr.whisper_model", "base")
	v.SetDefault("asr.timeout", 600)

	// Localization defaults
	v.SetDefault("translate.provider", "identity")
	v.SetDefault("translate.target_language", "Taiwanese Hokkien")
	v.SetDefault("translate.base_url", "https://api.openai.com/v1")
	v.SetDefault("translate.model", "gpt-4o-mini")
	v.SetDefault("translate.timeout", 60)

	// Groq defaults
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")

	// Speech synthesis defaults
	v.SetDefault("tts.provider", "yating")
	v.SetDefault("tts.url", "https://tts.api.yating.tw/v2/speeches/short")
	v.SetDefault("tts.voice", "tai_female_2")
	v.SetDefault("tts.speed", 0.75)
	v.SetDefault("tts.pitch", 1.3)
	v.SetDefault("tts.energy", 1.5)
	v.SetDefault("tts.encoding", "LINEAR16")
	v.SetDefault("tts.sample_rate", "16K")
	v.SetDefault("tts.openai_url", "https://api.openai.com/v1")
	v.SetDefault("tts.openai_voice", "alloy")
	v.SetDefault("tts.timeout", 60)

	v.SetDefault("r2.url_expiry", 60)

	// Gateway defaults
	v.SetDefault("gateway.enabled", false)

	v.SetDefault("ratelimit.upload_per_hour", 50)

	// Janitor defaults
	v.SetDefault("cleanup.interval_minutes", 30)
	v.SetDefault("cleanup.workspace_max_age_hours", 6)
	v.SetDefault("cleanup.upload_max_age_hours", 24)

	v.SetDefault("status.retention_hours", 0)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    strings.ToLower(v.GetString("server.log_level")),
			BodyLimitMB: v.GetInt("server.body_limit_mb"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			Backend: strings.ToLower(v.GetString("queue.backend")),
		},
		Worker: WorkerConfig{
			Concurrency:   v.GetInt("worker.concurrency"),
			QueueCapacity: v.GetInt("worker.queue_capacity"),
			JobTimeout:    v.GetInt("worker.job_timeout"),
		},
		Storage: StorageConfig{
			UploadDir:    v.GetString("storage.upload_dir"),
			ResultDir:    v.GetString("storage.result_dir"),
			WorkspaceDir: v.GetString("storage.workspace_dir"),
			AmbientPath:  v.GetString("storage.ambient_path"),
			HistoryDB:    v.GetString("storage.history_db"),
		},
		Upload: UploadConfig{
			MaxSizeMB:         v.GetInt("upload.max_size_mb"),
			AllowedExtensions: normalizeExtensions(v.GetStringSlice("upload.allowed_extensions")),
		},
		Media: MediaConfig{
			FFmpeg:            v.GetString("media.ffmpeg"),
			FFprobe:           v.GetString("media.ffprobe"),
			ExtractSampleRate: v.GetInt("media.extract_sample_rate"),
			MixSampleRate:     v.GetInt("media.mix_sample_rate"),
			VideoCodec:        v.GetString("media.video_codec"),
			VideoPreset:       v.GetString("media.video_preset"),
			VideoBitrate:      v.GetString("media.video_bitrate"),
			AudioCodec:        v.GetString("media.audio_codec"),
			AudioBitrate:      v.GetString("media.audio_bitrate"),
			Threads:           v.GetInt("media.threads"),
		},
		Mix: MixConfig{
			AmbientGain: v.GetFloat64("mix.ambient_gain"),
			VoiceGain:   v.GetFloat64("mix.voice_gain"),
		},
		ASR: ASRConfig{
			Provider:       strings.ToLower(v.GetString("asr.provider")),
			APIKey:         v.GetString("asr.api_key"),
			BaseURL:        v.GetString("asr.base_url"),
			Model:          v.GetString("asr.model"),
			Language:       v.GetString("asr.language"),
			WhisperCommand: v.GetString("asr.whisper_command"),
			WhisperModel:   v.GetString("asr.whisper_model"),
			Timeout:        v.GetInt("asr.timeout"),
		},
		Translate: TranslateConfig{
			Provider:       strings.ToLower(v.GetString("translate.provider")),
			TargetLanguage: v.GetString("translate.target_language"),
			APIKey:         v.GetString("translate.api_key"),
			BaseURL:        v.GetString("translate.base_url"),
			Model:          v.GetString("translate.model"),
			Timeout:        v.GetInt("translate.timeout"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		TTS: TTSConfig{
			Provider:    strings.ToLower(v.GetString("tts.provider")),
			URL:         v.GetString("tts.url"),
			Key:         v.GetString("tts.key"),
			Voice:       v.GetString("tts.voice"),
			Speed:       v.GetFloat64("tts.speed"),
			Pitch:       v.GetFloat64("tts.pitch"),
			Energy:      v.GetFloat64("tts.energy"),
			Encoding:    v.GetString("tts.encoding"),
			SampleRate:  v.GetString("tts.sample_rate"),
			OpenAIKey:   v.GetString("tts.openai_key"),
			OpenAIURL:   v.GetString("tts.openai_url"),
			OpenAIVoice: v.GetString("tts.openai_voice"),
			Timeout:     v.GetInt("tts.timeout"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
			URLExpiry:       v.GetInt("r2.url_expiry"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
			Audience:  v.GetString("auth.audience"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: v.GetInt("ratelimit.upload_per_hour"),
		},
		Cleanup: CleanupConfig{
			IntervalMinutes:      v.GetInt("cleanup.interval_minutes"),
			WorkspaceMaxAgeHours: v.GetInt("cleanup.workspace_max_age_hours"),
			UploadMaxAgeHours:    v.GetInt("cleanup.upload_max_age_hours"),
		},
		Status: StatusConfig{
			RetentionHours: v.GetInt("status.retention_hours"),
		},
	}
}

// normalizeExtensions lowercases entries and strips leading dots.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks struct tags and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.TTS.Provider == "yating" && c.TTS.URL == "" {
		return fmt.Errorf("invalid configuration: tts.url is required for the yating provider")
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Queue.Backend == "redis"
}
