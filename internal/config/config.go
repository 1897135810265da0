package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderVolcengine = "volcengine"
	ProviderTencent    = "tencent"
)

// Config holds all configuration for the speech bridge
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"` // gRPC health service

	// Which provider serves /api/stt: volcengine (streaming) or tencent (one-shot REST)
	Provider string `envconfig:"ASR_PROVIDER" default:"volcengine"`

	// Volcengine streaming ASR credentials and endpoint
	VolcAppKey     string `envconfig:"VOLC_APP_KEY"`
	VolcAccessKey  string `envconfig:"VOLC_ACCESS_KEY"`
	VolcResourceID string `envconfig:"VOLC_RESOURCE_ID" default:"volc.bigasr.sauc.duration"`
	VolcServiceURL string `envconfig:"VOLC_SERVICE_URL" default:"wss://openspeech.bytedance.com/api/v3/sauc/bigmodel"`
	VolcUserID     string `envconfig:"VOLC_USER_ID" default:"speech-bridge"`
	VolcModelName  string `envconfig:"VOLC_MODEL_NAME" default:"bigmodel"`

	// Audio parameters sent to the service; fixed per deployment
	AudioFormat     string `envconfig:"AUDIO_FORMAT" default:"pcm"`
	AudioCodec      string `envconfig:"AUDIO_CODEC" default:"raw"`
	AudioSampleRate int    `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	AudioBits       int    `envconfig:"AUDIO_BITS" default:"16"`
	AudioChannels   int    `envconfig:"AUDIO_CHANNELS" default:"1"`

	// Recognition options
	Language        string `envconfig:"ASR_LANGUAGE" default:"zh-CN"`
	EnableITN       bool   `envconfig:"ASR_ENABLE_ITN" default:"true"`
	EnablePunc      bool   `envconfig:"ASR_ENABLE_PUNC" default:"true"`
	ResultType      string `envconfig:"ASR_RESULT_TYPE" default:"single"`   // single or full
	ShowUtterances  bool   `envconfig:"ASR_SHOW_UTTERANCES" default:"false"`
	EndWindowMs     int    `envconfig:"ASR_END_WINDOW_MS" default:"800"`    // server-side VAD silence window, 0 disables
	ForceToSpeechMs int    `envconfig:"ASR_FORCE_TO_SPEECH_MS" default:"0"` // minimum audio before forced recognition

	// Session pacing
	ChunkMs            int `envconfig:"ASR_CHUNK_MS" default:"200"`             // audio per chunk read from the caller
	SendBatch          int `envconfig:"ASR_SEND_BATCH" default:"1"`             // chunks per audio frame
	PollTimeoutMs      int `envconfig:"ASR_POLL_TIMEOUT_MS" default:"20"`       // opportunistic receive while streaming
	FinalTimeoutMs     int `envconfig:"ASR_FINAL_TIMEOUT_MS" default:"5000"`    // wait for server-final after last frame
	HandshakeTimeoutMs int `envconfig:"ASR_HANDSHAKE_TIMEOUT_MS" default:"10000"`
	WriteTimeoutMs     int `envconfig:"ASR_WRITE_TIMEOUT_MS" default:"5000"`

	// Tencent Cloud one-sentence recognition (non-streaming fallback)
	TencentSecretID  string `envconfig:"TENCENT_SECRET_ID"`
	TencentSecretKey string `envconfig:"TENCENT_SECRET_KEY"`
	TencentProjectID int    `envconfig:"TENCENT_PROJECT_ID" default:"0"`
	TencentRegion    string `envconfig:"TENCENT_REGION" default:"ap-guangzhou"`
	TencentEndpoint  string `envconfig:"TENCENT_ENDPOINT" default:"https://asr.tencentcloudapi.com"`
	TencentTimeout   int    `envconfig:"TENCENT_TIMEOUT" default:"10"` // seconds

	// Audio preprocessing
	VADEnabled    bool   `envconfig:"VAD_ENABLED" default:"false"`
	VADMode       string `envconfig:"VAD_MODE" default:"normal"`  // normal, low, high
	DebugAudioDir string `envconfig:"DEBUG_AUDIO_DIR" default:""` // keep intermediate audio here while a request runs

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // REST fallback only
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the credentials required by the selected provider and
// the pacing values the session controller divides by.
func (c *Config) Validate() error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))

	switch c.Provider {
	case ProviderVolcengine:
		if c.VolcAppKey == "" {
			return fmt.Errorf("VOLC_APP_KEY is required")
		}
		if c.VolcAccessKey == "" {
			return fmt.Errorf("VOLC_ACCESS_KEY is required")
		}
	case ProviderTencent:
		if c.TencentSecretID == "" || c.TencentSecretKey == "" {
			return fmt.Errorf("TENCENT_SECRET_ID and TENCENT_SECRET_KEY are required")
		}
	default:
		return fmt.Errorf("unsupported ASR_PROVIDER %q", c.Provider)
	}

	if c.ChunkMs <= 0 {
		return fmt.Errorf("ASR_CHUNK_MS must be positive, got %d", c.ChunkMs)
	}
	if c.SendBatch <= 0 {
		return fmt.Errorf("ASR_SEND_BATCH must be positive, got %d", c.SendBatch)
	}
	if c.AudioSampleRate <= 0 || c.AudioBits <= 0 || c.AudioChannels <= 0 {
		return fmt.Errorf("audio sample rate, bits and channels must be positive")
	}

	return nil
}
