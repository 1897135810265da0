package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/protocol"
	"github.com/lexiqai/speech-bridge/internal/transcript"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateSendingConfig
	stateStreamingAudio
	stateAwaitingFinal
	stateResolved
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "CONNECTING"
	case stateSendingConfig:
		return "SENDING_CONFIG"
	case stateStreamingAudio:
		return "STREAMING_AUDIO"
	case stateAwaitingFinal:
		return "AWAITING_FINAL"
	case stateResolved:
		return "RESOLVED"
	default:
		return "UNKNOWN"
	}
}

// session drives one connected socket from configuration to resolution. All
// fields are owned by the goroutine calling run.
type session struct {
	cfg     SessionConfig
	conn    *wsConn
	agg     *transcript.Aggregator
	metrics *observability.SessionMetrics
	logger  zerolog.Logger

	state      sessionState
	lastLogged string

	serverFinal bool
	serverError bool
	closed      bool
	timedOut    bool
	cause       error
}

func newSession(conn *wsConn, cfg SessionConfig, metrics *observability.SessionMetrics, logger zerolog.Logger) *session {
	return &session{
		cfg:     cfg,
		conn:    conn,
		agg:     transcript.NewAggregator(),
		metrics: metrics,
		logger:  logger,
		state:   stateConnecting,
	}
}

func (s *session) transition(next sessionState) {
	s.logger.Debug().
		Str("from", s.state.String()).
		Str("to", next.String()).
		Msg("Session state change")
	s.state = next
}

// setCause keeps the first failure seen; later ones are consequences.
func (s *session) setCause(err error) {
	if s.cause == nil {
		s.cause = err
	}
}

// run sends configFrame, streams audio and resolves. It always closes the socket.
func (s *session) run(ctx context.Context, configFrame []byte, stream AudioStream) Result {
	defer s.conn.Close()

	s.transition(stateSendingConfig)
	if err := s.conn.send(configFrame); err != nil {
		s.failTransport(ctx, "failed to send configuration frame", err)
		return s.resolve(ctx)
	}
	s.metrics.RecordFrameSent(protocol.FullClientRequest.String(), 0)

	s.transition(stateStreamingAudio)
	if !s.streamAudio(ctx, stream) {
		return s.resolve(ctx)
	}

	if err := s.conn.send(protocol.EncodeAudio(nil, true)); err != nil {
		s.failTransport(ctx, "failed to send final audio frame", err)
		return s.resolve(ctx)
	}
	s.metrics.RecordFrameSent(protocol.AudioOnlyRequest.String(), 0)
	s.logger.Debug().Msg("Sent final audio frame")

	s.transition(stateAwaitingFinal)
	s.awaitFinal(ctx)

	return s.resolve(ctx)
}

// streamAudio forwards the caller's chunks until the stream ends. It returns
// false when the session must skip the final frame and resolve right away.
func (s *session) streamAudio(ctx context.Context, stream AudioStream) bool {
	batch := make([]byte, 0)

	for {
		batch = batch[:0]
		exhausted := false

		for i := 0; i < s.cfg.SendBatch; i++ {
			chunk, err := stream.Next(ctx)
			if errors.Is(err, io.EOF) {
				exhausted = true
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					s.setCause(fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
					return false
				}
				s.logger.Warn().Err(err).Msg("Audio source failed, treating as end of input")
				s.metrics.RecordError("audio_source", "session")
				exhausted = true
				break
			}
			batch = append(batch, chunk...)
		}

		if len(batch) > 0 {
			if err := s.conn.send(protocol.EncodeAudio(batch, false)); err != nil {
				s.failTransport(ctx, "failed to send audio frame", err)
				return false
			}
			s.metrics.RecordFrameSent(protocol.AudioOnlyRequest.String(), len(batch))
			s.logger.Debug().Int("bytes", len(batch)).Msg("Sent audio frame")

			s.poll(ctx)
		}

		if err := ctx.Err(); err != nil {
			s.setCause(fmt.Errorf("%w: %v", ErrCancelled, err))
			return false
		}
		if s.closed || s.serverError {
			return false
		}
		if s.serverFinal {
			s.logger.Info().Msg("Server finished before end of audio, stopping stream")
			return false
		}
		if exhausted {
			return true
		}
	}
}

// poll makes one bounded receive, then drains whatever is already queued.
func (s *session) poll(ctx context.Context) {
	timeout := s.cfg.PollTimeout
	for {
		msg := s.conn.recv(ctx, timeout)
		if msg.kind == inboundTimeout {
			return
		}
		s.handle(ctx, msg)
		if s.closed || s.serverFinal || s.serverError {
			return
		}
		timeout = 0
	}
}

func (s *session) awaitFinal(ctx context.Context) {
	s.metrics.RecordFinalWaitStart()
	deadline := time.Now().Add(s.cfg.FinalTimeout)

	for !s.serverFinal && !s.serverError && !s.closed {
		if err := ctx.Err(); err != nil {
			s.setCause(fmt.Errorf("%w: %v", ErrCancelled, err))
			break
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.timedOut = true
			s.logger.Warn().Dur("final_timeout", s.cfg.FinalTimeout).Msg("Timed out waiting for final result")
			break
		}

		msg := s.conn.recv(ctx, remaining)
		if msg.kind == inboundTimeout {
			continue
		}
		s.handle(ctx, msg)
	}

	s.metrics.RecordFinalWaitEnd(s.serverFinal)
}

func (s *session) failTransport(ctx context.Context, msg string, err error) {
	s.closed = true
	if ctx.Err() != nil {
		s.setCause(fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
		return
	}
	s.logger.Error().Err(err).Str("state", s.state.String()).Msg(msg)
	s.metrics.RecordError("transport", "session")
	s.setCause(fmt.Errorf("%w: %s: %v", ErrConnection, msg, err))
}

// handle routes one receive outcome.
func (s *session) handle(ctx context.Context, msg inbound) {
	switch msg.kind {
	case inboundTimeout:
		return

	case inboundClosed:
		s.closed = true
		s.logger.Info().Str("state", s.state.String()).Msg("Server closed the connection")

	case inboundTransportError:
		s.failTransport(ctx, "connection error while receiving", msg.err)

	case inboundData:
		if msg.messageType != websocket.BinaryMessage {
			s.logger.Warn().Int("message_type", msg.messageType).Msg("Ignoring non-binary message")
			s.metrics.RecordFrameDropped()
			return
		}
		s.handleFrame(msg.data)
	}
}

func (s *session) handleFrame(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping malformed frame")
		s.metrics.RecordFrameDropped()
		return
	}
	s.metrics.RecordFrameReceived(frame.Type.String())

	switch frame.Type {
	case protocol.FullServerResponse:
		s.handleResult(frame)

	case protocol.ServerErrorResponse:
		serverErr := protocol.DecodeServerError(frame)
		s.logger.Error().
			Int64("code", serverErr.Code).
			Str("message", serverErr.Message).
			Msg("Server error frame")
		s.recordServerError(serverErr)

	default:
		s.logger.Warn().Str("type", frame.Type.String()).Msg("Unexpected frame type")
	}
}

func (s *session) handleResult(frame protocol.Frame) {
	result, err := protocol.ParseServerResult(frame.Payload)
	if errors.Is(err, protocol.ErrEmptyPayload) {
		s.logger.Debug().Msg("Server response without JSON body")
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping undecodable server response")
		s.metrics.RecordFrameDropped()
		return
	}

	if s.agg.Ingest(result) {
		if latest := s.agg.Latest(); latest != s.lastLogged {
			s.lastLogged = latest
			s.metrics.RecordTextUpdate()
			s.logger.Info().Str("text", latest).Str("type", result.Type).Msg("Transcript updated")
		}
	}

	if transcript.IsError(result) {
		code, _ := result.StatusCode()
		s.logger.Error().
			Int64("code", code).
			Str("message", result.ErrorMessage()).
			Msg("Server reported an error status")
		s.recordServerError(protocol.ServerError{Code: code, Message: result.ErrorMessage()})
		return
	}

	if transcript.IsServerFinal(result) {
		s.serverFinal = true
		s.logger.Debug().Msg("Received server-final message")
	}
}

func (s *session) recordServerError(serverErr protocol.ServerError) {
	s.serverError = true
	s.agg.RecordError()
	s.metrics.RecordServerError()
	s.setCause(fmt.Errorf("%w: %v", ErrServerReported, serverErr))
}

// drain handles messages the reader already queued, so a failed write does
// not discard results that arrived before it.
func (s *session) drain(ctx context.Context) {
	for {
		msg := s.conn.recv(ctx, 0)
		if msg.kind != inboundData {
			return
		}
		s.handle(ctx, msg)
	}
}

func (s *session) resolve(ctx context.Context) Result {
	if ctx.Err() == nil {
		s.drain(ctx)
	}
	s.transition(stateResolved)

	text, outcome := s.agg.Resolve()
	if outcome == transcript.OutcomeError {
		if s.cause == nil {
			switch {
			case s.timedOut:
				s.cause = ErrTimeout
			case ctx.Err() != nil:
				s.cause = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			default:
				s.cause = fmt.Errorf("%w: connection closed before a result", ErrConnection)
			}
		}
		s.metrics.RecordSessionEnd(string(outcome))
		s.logger.Error().Err(s.cause).Bool("server_error", s.agg.Errored()).Msg("Recognition failed")
		return errorResult(s.cause, s.metrics.Snapshot())
	}

	s.metrics.RecordSessionEnd(string(outcome))
	event := s.logger.Info().
		Str("text", text).
		Bool("server_final", s.serverFinal).
		Int("fragments", len(s.agg.Fragments())).
		Int("finals", len(s.agg.Finals())).
		Bool("server_error", s.agg.Errored())
	if s.cause != nil {
		event = event.AnErr("soft_error", s.cause)
	}
	event.Msg("Recognition finished")

	return Result{
		Text:    text,
		Outcome: outcome,
		Stats:   s.metrics.Snapshot(),
	}
}
