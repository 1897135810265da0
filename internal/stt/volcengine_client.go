package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lexiqai/speech-bridge/internal/config"
	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/protocol"
	"github.com/lexiqai/speech-bridge/internal/resilience"
)

// Upgrade headers carrying authentication and tracing.
const (
	HeaderAppKey     = "X-Api-App-Key"
	HeaderAccessKey  = "X-Api-Access-Key"
	HeaderResourceID = "X-Api-Resource-Id"
	HeaderConnectID  = "X-Api-Connect-Id"
)

// VolcengineConfig is everything a streaming session needs besides the audio.
type VolcengineConfig struct {
	Connection ConnectionParams
	Audio      protocol.AudioMeta
	Options    RecognitionOptions
	Session    SessionConfig
}

// VolcengineConfigFromConfig maps the service configuration onto a client config.
func VolcengineConfigFromConfig(cfg *config.Config) VolcengineConfig {
	return VolcengineConfig{
		Connection: ConnectionParams{
			URL:        cfg.VolcServiceURL,
			AppKey:     cfg.VolcAppKey,
			AccessKey:  cfg.VolcAccessKey,
			ResourceID: cfg.VolcResourceID,
		},
		Audio: protocol.AudioMeta{
			Format:  cfg.AudioFormat,
			Rate:    cfg.AudioSampleRate,
			Bits:    cfg.AudioBits,
			Channel: cfg.AudioChannels,
			Codec:   cfg.AudioCodec,
		},
		Options: RecognitionOptions{
			UserID:          cfg.VolcUserID,
			ModelName:       cfg.VolcModelName,
			Language:        cfg.Language,
			EnableITN:       cfg.EnableITN,
			EnablePunc:      cfg.EnablePunc,
			ResultType:      cfg.ResultType,
			ShowUtterances:  cfg.ShowUtterances,
			EndWindowMs:     cfg.EndWindowMs,
			ForceToSpeechMs: cfg.ForceToSpeechMs,
		},
		Session: SessionConfig{
			SendBatch:        cfg.SendBatch,
			PollTimeout:      time.Duration(cfg.PollTimeoutMs) * time.Millisecond,
			FinalTimeout:     time.Duration(cfg.FinalTimeoutMs) * time.Millisecond,
			HandshakeTimeout: time.Duration(cfg.HandshakeTimeoutMs) * time.Millisecond,
			WriteTimeout:     time.Duration(cfg.WriteTimeoutMs) * time.Millisecond,
		},
	}
}

// VolcengineClient streams audio to the Volcengine bigmodel recognizer. Each
// Transcribe call opens its own socket; the client itself is safe for
// concurrent use.
type VolcengineClient struct {
	cfg            VolcengineConfig
	circuitBreaker *resilience.CircuitBreaker
}

// NewVolcengineClient creates a client. The circuit breaker guards the
// handshake across sessions; pass nil to disable it.
func NewVolcengineClient(cfg VolcengineConfig, breaker *resilience.CircuitBreaker) *VolcengineClient {
	cfg.Session = cfg.Session.withDefaults()
	if cfg.Options.ModelName == "" {
		cfg.Options.ModelName = "bigmodel"
	}
	return &VolcengineClient{
		cfg:            cfg,
		circuitBreaker: breaker,
	}
}

// Name implements Provider.
func (c *VolcengineClient) Name() string {
	return config.ProviderVolcengine
}

// HealthCheck implements Provider. It reports the handshake breaker only and
// never dials.
func (c *VolcengineClient) HealthCheck(ctx context.Context) (bool, error) {
	if c.circuitBreaker != nil && !c.circuitBreaker.Ready() {
		_, requests, failures, _ := c.circuitBreaker.GetStats()
		return false, fmt.Errorf("volcengine: %w (%d of %d handshakes failed)", resilience.ErrCircuitOpen, failures, requests)
	}
	return true, nil
}

func (c *VolcengineClient) upgradeHeader(connectID string) http.Header {
	header := http.Header{}
	header.Set(HeaderAppKey, c.cfg.Connection.AppKey)
	header.Set(HeaderAccessKey, c.cfg.Connection.AccessKey)
	header.Set(HeaderResourceID, c.cfg.Connection.ResourceID)
	header.Set(HeaderConnectID, connectID)
	return header
}

func (c *VolcengineClient) clientRequest(params AudioParams) protocol.ClientRequest {
	opts := c.cfg.Options
	language := opts.Language
	if params.Language != "" {
		language = params.Language
	}

	return protocol.ClientRequest{
		User:  protocol.UserMeta{UID: opts.UserID},
		Audio: c.cfg.Audio,
		Request: protocol.RequestMeta{
			ModelName:         opts.ModelName,
			Language:          language,
			EnableITN:         opts.EnableITN,
			EnablePunc:        opts.EnablePunc,
			ResultType:        opts.ResultType,
			ShowUtterances:    opts.ShowUtterances,
			EndWindowSize:     opts.EndWindowMs,
			ForceToSpeechTime: opts.ForceToSpeechMs,
		},
	}
}

// Transcribe implements Provider. It validates params, opens one socket and
// runs a single session over it. Failures come back in the Result.
func (c *VolcengineClient) Transcribe(ctx context.Context, params AudioParams, stream AudioStream) Result {
	metrics := observability.NewSessionMetrics(c.Name())
	connectID := uuid.New().String()
	logger := observability.WithCorrelationID(connectID).With().
		Str("connect_id", connectID).
		Str("provider", c.Name()).
		Logger()

	if err := SupportedAudio.Check(params); err != nil {
		logger.Error().Err(err).Msg("Rejected audio parameters")
		metrics.RecordError("unsupported_audio", c.Name())
		return errorResult(err, metrics.Snapshot())
	}

	configFrame, err := protocol.EncodeClientRequest(c.clientRequest(params))
	if err != nil {
		return errorResult(fmt.Errorf("%w: %v", ErrConnection, err), metrics.Snapshot())
	}

	metrics.RecordSessionStart()
	logger.Info().Str("url", c.cfg.Connection.URL).Msg("Connecting to streaming recognizer")

	var conn *wsConn
	dial := func() error {
		var dialErr error
		conn, dialErr = dialWS(ctx, c.cfg.Connection.URL, c.upgradeHeader(connectID), c.cfg.Session)
		return dialErr
	}

	if c.circuitBreaker != nil {
		err = c.circuitBreaker.Call(dial)
		observability.UpdateCircuitBreakerState(c.circuitBreaker.Name(), int(c.circuitBreaker.GetState()))
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(c.circuitBreaker.Name())
		}
	} else {
		err = dial()
	}

	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		} else {
			err = fmt.Errorf("%w: %w", ErrConnection, err)
			metrics.RecordError("connection", c.Name())
		}
		logger.Error().Err(err).Msg("Failed to connect")
		metrics.RecordSessionEnd("error")
		return errorResult(err, metrics.Snapshot())
	}

	logger.Info().Msg("Connected")
	s := newSession(conn, c.cfg.Session, metrics, logger)
	return s.run(ctx, configFrame, stream)
}
