package tencent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-bridge/internal/audio"
	"github.com/lexiqai/speech-bridge/internal/config"
	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/resilience"
	"github.com/lexiqai/speech-bridge/internal/stt"
	"github.com/lexiqai/speech-bridge/internal/transcript"
)

const (
	apiAction  = "SentenceRecognition"
	apiVersion = "2019-06-14"
	apiService = "asr"
)

// Config holds the credentials and endpoint of the sentence recognition API.
type Config struct {
	SecretID      string
	SecretKey     string
	ProjectID     int
	Region        string
	Endpoint      string
	Language      string
	Timeout       time.Duration
	Retry         *resilience.RetryConfig
	VADEnabled    bool
	VADMode       audio.VADMode
	DebugAudioDir string // request audio is written here and removed afterwards
}

// ConfigFromConfig maps the service configuration onto a client config.
func ConfigFromConfig(cfg *config.Config) (Config, error) {
	mode, err := audio.ParseVADMode(cfg.VADMode)
	if err != nil {
		return Config{}, err
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	return Config{
		SecretID:      cfg.TencentSecretID,
		SecretKey:     cfg.TencentSecretKey,
		ProjectID:     cfg.TencentProjectID,
		Region:        cfg.TencentRegion,
		Endpoint:      cfg.TencentEndpoint,
		Language:      cfg.Language,
		Timeout:       time.Duration(cfg.TencentTimeout) * time.Second,
		Retry:         retry,
		VADEnabled:    cfg.VADEnabled,
		VADMode:       mode,
		DebugAudioDir: cfg.DebugAudioDir,
	}, nil
}

// APIError is an error object returned inside a 200 response.
type APIError struct {
	Code      string `json:"Code"`
	Message   string `json:"Message"`
	RequestID string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tencent: %s: %s (request %s)", e.Code, e.Message, e.RequestID)
}

type sentenceRequest struct {
	ProjectID      int    `json:"ProjectId"`
	SubServiceType int    `json:"SubServiceType"`
	EngSerViceType string `json:"EngSerViceType"`
	SourceType     int    `json:"SourceType"`
	VoiceFormat    string `json:"VoiceFormat"`
	Data           string `json:"Data"`
	DataLen        int    `json:"DataLen"`
	FilterDirty    int    `json:"FilterDirty"`
	FilterModal    int    `json:"FilterModal"`
	FilterPunc     int    `json:"FilterPunc"`
	ConvertNumMode int    `json:"ConvertNumMode"`
}

type sentenceResponse struct {
	Response struct {
		Result        string    `json:"Result"`
		AudioDuration int64     `json:"AudioDuration"`
		RequestID     string    `json:"RequestId"`
		Error         *APIError `json:"Error"`
	} `json:"Response"`
}

// Client is a one-shot recognizer: it buffers the whole stream, posts it as
// a single WAV file and returns the sentence.
type Client struct {
	cfg        Config
	host       string
	signer     Signer
	httpClient *http.Client
	vad        *audio.VADProcessor
	now        func() time.Time
}

// NewClient creates a client for cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://asr.tencentcloudapi.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid tencent endpoint %q", cfg.Endpoint)
	}

	c := &Client{
		cfg:  cfg,
		host: u.Host,
		signer: Signer{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Service:   apiService,
		},
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
	if cfg.VADEnabled {
		c.vad = audio.NewVADProcessor(audio.DefaultVADConfig(cfg.VADMode), observability.GetLogger())
	}
	return c, nil
}

// Name implements stt.Provider.
func (c *Client) Name() string {
	return config.ProviderTencent
}

// HealthCheck implements stt.Provider. The API is stateless so only the
// credentials are checked.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	if c.cfg.SecretID == "" || c.cfg.SecretKey == "" {
		return false, errors.New("tencent: credentials not configured")
	}
	return true, nil
}

// Transcribe implements stt.Provider.
func (c *Client) Transcribe(ctx context.Context, params stt.AudioParams, stream stt.AudioStream) stt.Result {
	metrics := observability.NewSessionMetrics(c.Name())
	requestID := observability.NewCorrelationID()
	logger := observability.WithCorrelationID(requestID).With().
		Str("provider", c.Name()).
		Logger()

	fail := func(err error) stt.Result {
		logger.Error().Err(err).Msg("Sentence recognition failed")
		metrics.RecordSessionEnd(string(transcript.OutcomeError))
		return stt.Result{Outcome: transcript.OutcomeError, Err: err, Stats: metrics.Snapshot()}
	}

	if err := stt.SupportedAudio.Check(params); err != nil {
		metrics.RecordError("unsupported_audio", c.Name())
		return stt.Result{Outcome: transcript.OutcomeError, Err: err, Stats: metrics.Snapshot()}
	}

	metrics.RecordSessionStart()

	data, err := stt.ReadAll(ctx, stream)
	if ctx.Err() != nil {
		return fail(fmt.Errorf("%w: %v", stt.ErrCancelled, ctx.Err()))
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Audio source failed, recognizing what was received")
	}

	wav := audio.EnsureWAV(data, audio.Format{
		SampleRate:    params.SampleRate,
		Channels:      params.Channels,
		BitsPerSample: params.BitRate,
	})
	if c.vad != nil {
		wav = c.vad.Process(wav)
	}

	if c.cfg.DebugAudioDir != "" {
		cleanup := c.dumpAudio(wav, logger)
		defer cleanup()
	}

	language := c.cfg.Language
	if params.Language != "" {
		language = params.Language
	}

	metrics.RecordFrameSent(apiAction, len(wav))
	text, err := c.recognize(ctx, wav, language, logger)
	if err != nil {
		var apiErr *APIError
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("%w: %v", stt.ErrCancelled, ctx.Err())
		case errors.As(err, &apiErr):
			metrics.RecordServerError()
			err = fmt.Errorf("%w: %w", stt.ErrServerReported, err)
		default:
			metrics.RecordError("connection", c.Name())
			err = fmt.Errorf("%w: %w", stt.ErrConnection, err)
		}
		return fail(err)
	}

	metrics.RecordFrameReceived(apiAction)
	text = strings.TrimSpace(text)
	if text != "" {
		metrics.RecordTextUpdate()
	}
	metrics.RecordSessionEnd(string(transcript.OutcomeSuccess))

	logger.Info().Str("text", text).Int("audio_bytes", len(wav)).Msg("Sentence recognized")
	return stt.Result{Text: text, Outcome: transcript.OutcomeSuccess, Stats: metrics.Snapshot()}
}

// dumpAudio writes wav to a temp file and returns a func that removes it.
func (c *Client) dumpAudio(wav []byte, logger zerolog.Logger) func() {
	f, err := os.CreateTemp(c.cfg.DebugAudioDir, "tencent-*.wav")
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to create debug audio file")
		return func() {}
	}
	name := f.Name()

	if _, err := f.Write(wav); err != nil {
		logger.Warn().Err(err).Str("path", name).Msg("Failed to write debug audio file")
	}
	f.Close()
	logger.Debug().Str("path", name).Msg("Wrote debug audio")

	return func() {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", name).Msg("Failed to remove debug audio file")
		}
	}
}

// EngineFor picks the 16 kHz engine for a language tag.
func EngineFor(language string) string {
	if strings.HasPrefix(strings.ToLower(language), "en") {
		return "16k_en"
	}
	return "16k_zh"
}

func (c *Client) recognize(ctx context.Context, wav []byte, language string, logger zerolog.Logger) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(wav)
	body, err := json.Marshal(sentenceRequest{
		ProjectID:      c.cfg.ProjectID,
		SubServiceType: 2,
		EngSerViceType: EngineFor(language),
		SourceType:     1,
		VoiceFormat:    "wav",
		Data:           encoded,
		DataLen:        len(wav),
		ConvertNumMode: 1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	var text string
	attempt := 0
	err = resilience.Retry(ctx, func(ctx context.Context) error {
		attempt++
		var callErr error
		text, callErr = c.post(ctx, body)
		if callErr != nil {
			logger.Warn().Err(callErr).Int("attempt", attempt).Msg("Sentence recognition attempt failed")
		}
		return callErr
	}, c.cfg.Retry, resilience.IsRetryableNetworkError)

	return text, err
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	ts := c.now()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TC-Action", apiAction)
	req.Header.Set("X-TC-Version", apiVersion)
	req.Header.Set("X-TC-Timestamp", fmt.Sprintf("%d", ts.Unix()))
	if c.cfg.Region != "" {
		req.Header.Set("X-TC-Region", c.cfg.Region)
	}
	req.Header.Set("Authorization", c.signer.Authorization(c.host, body, ts))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("tencent: unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", resilience.NewRetryableError(statusErr)
		}
		return "", statusErr
	}

	var parsed sentenceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("tencent: invalid response: %w", err)
	}
	if apiErr := parsed.Response.Error; apiErr != nil {
		apiErr.RequestID = parsed.Response.RequestID
		if strings.HasPrefix(apiErr.Code, "InternalError") || apiErr.Code == "RequestLimitExceeded" {
			return "", resilience.NewRetryableError(apiErr)
		}
		return "", apiErr
	}

	return parsed.Response.Result, nil
}
