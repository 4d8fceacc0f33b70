package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the full service configuration loaded from the environment.
type Configuration struct {
	Service       ServiceConfig
	Database      DatabaseConfig
	STT           STTConfig
	LLM           LLMConfig
	Meet          MeetConfig
	Stream        StreamConfig
	Pipeline      PipelineConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	GRPCPort    string
	PublicWSURL string // base used in TwiML <Stream url>, e.g. wss://host
	CORSOrigins []string
	MaxUploadMB int64
}

type DatabaseConfig struct {
	URL string // postgres://... or sqlite:path
}

type STTConfig struct {
	Provider         string // whisper, google, mock
	FallbackProvider string
	LanguageCode     string
	SampleRateHz     int
	AudioEncoding    string
	Concurrency      int64

	WhisperURL       string
	WhisperModelPath string // optional; loaded through /load on first use
	WhisperTimeout   time.Duration
}

type LLMConfig struct {
	Provider         string // gemini, anthropic, openai, ollama
	FallbackProvider string
	Timeout          time.Duration
	MaxTokens        int64

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	OllamaBaseURL string
	OllamaModel   string
}

type MeetConfig struct {
	CredentialsFile string
	AgentMarker     string
	Endpoint        string
}

type StreamConfig struct {
	MaxSessions   int64
	MaxAudioBytes int64
	MaxDuration   time.Duration
	Converter     string // ffmpeg, native
	FFmpegPath    string
}

type PipelineConfig struct {
	Workers        int
	QueueSize      int
	RetryMaxElapse time.Duration
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicIngested string
	TopicAnalyzed string
	Principal     string
}

type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// Load reads configuration from the environment, falling back to defaults
// for anything unset or unparsable.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-call-monitoring")

	return &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8000"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			PublicWSURL: strings.TrimRight(envOrDefault("PUBLIC_WS_URL", "ws://localhost:8000"), "/"),
			CORSOrigins: envOrDefaultList("CORS_ORIGINS", []string{"*"}),
			MaxUploadMB: int64(envOrDefaultInt("MAX_UPLOAD_MB", 100)),
		},
		Database: DatabaseConfig{
			URL: envOrDefault("DATABASE_URL", "sqlite:call_monitoring.db"),
		},
		STT: STTConfig{
			Provider:         envOrDefault("STT_PROVIDER", "whisper"),
			FallbackProvider: os.Getenv("STT_FALLBACK_PROVIDER"),
			LanguageCode:     envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:     envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			AudioEncoding:    envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			Concurrency:      int64(envOrDefaultInt("STT_CONCURRENCY", 1)),
			WhisperURL:       envOrDefault("WHISPER_URL", "http://127.0.0.1:8178"),
			WhisperModelPath: os.Getenv("WHISPER_MODEL_PATH"),
			WhisperTimeout:   envOrDefaultDuration("WHISPER_TIMEOUT", 5*time.Minute),
		},
		LLM: LLMConfig{
			Provider:         envOrDefault("LLM_PROVIDER", "gemini"),
			FallbackProvider: envOrDefault("LLM_FALLBACK_PROVIDER", "ollama"),
			Timeout:          envOrDefaultDuration("LLM_TIMEOUT", 60*time.Second),
			MaxTokens:        int64(envOrDefaultInt("LLM_MAX_TOKENS", 2048)),
			GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
			GeminiModel:      envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
			GeminiBaseURL:    envOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicModel:   envOrDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
			AnthropicBaseURL: envOrDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
			OpenAIModel:      envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL:    envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			OllamaBaseURL:    envOrDefault("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
			OllamaModel:      envOrDefault("OLLAMA_MODEL", "llama3.1"),
		},
		Meet: MeetConfig{
			CredentialsFile: os.Getenv("GOOGLE_MEET_CREDENTIALS"),
			AgentMarker:     envOrDefault("MEET_AGENT_MARKER", "agent"),
			Endpoint:        os.Getenv("MEET_ENDPOINT"),
		},
		Stream: StreamConfig{
			MaxSessions:   int64(envOrDefaultInt("STREAM_MAX_SESSIONS", 64)),
			MaxAudioBytes: int64(envOrDefaultInt("STREAM_MAX_AUDIO_BYTES", 64*1024*1024)),
			MaxDuration:   envOrDefaultDuration("STREAM_MAX_DURATION", 2*time.Hour),
			Converter:     envOrDefault("AUDIO_CONVERTER", "ffmpeg"),
			FFmpegPath:    envOrDefault("FFMPEG_PATH", "ffmpeg"),
		},
		Pipeline: PipelineConfig{
			Workers:        envOrDefaultInt("ANALYSIS_WORKERS", 4),
			QueueSize:      envOrDefaultInt("ANALYSIS_QUEUE_SIZE", 256),
			RetryMaxElapse: envOrDefaultDuration("ANALYSIS_RETRY_MAX_ELAPSED", 2*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:       envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:       envOrDefaultList("KAFKA_BROKERS", nil),
			TopicIngested: envOrDefault("KAFKA_TOPIC_INGESTED", "call.ingested"),
			TopicAnalyzed: envOrDefault("KAFKA_TOPIC_ANALYZED", "call.analyzed"),
			Principal:     envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
