package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-bridge/internal/audio"
	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/stt"
)

var upgrader = websocket.Upgrader{
	// Callers are trusted hosts on the local network.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// StreamMessage is a text message on the streaming endpoint. Audio may also
// arrive as binary messages between "start" and "stop".
type StreamMessage struct {
	Event string       `json:"event"` // start, media, stop
	Start *StreamStart `json:"start,omitempty"`
	Media *StreamMedia `json:"media,omitempty"`
}

// StreamStart carries the audio parameters of a streaming request.
type StreamStart struct {
	Format     string `json:"format"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate"`
	Channels   int    `json:"channel"`
	Language   string `json:"language,omitempty"`
}

// StreamMedia is a base64 audio chunk.
type StreamMedia struct {
	Payload string `json:"payload"`
}

// StreamReply is sent once, just before the server closes the socket.
type StreamReply struct {
	Event   string `json:"event"` // result or error
	Text    string `json:"text,omitempty"`
	Result  string `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s StreamStart) params() stt.AudioParams {
	return stt.AudioParams{
		Format:     s.Format,
		Codec:      s.Codec,
		SampleRate: s.SampleRate,
		BitRate:    s.BitRate,
		Channels:   s.Channels,
		Language:   s.Language,
	}
}

// handleStream accepts audio over a WebSocket for callers that produce it
// incrementally. The first message must be a "start" event.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	requestID := observability.NewCorrelationID()
	logger := h.logger.With().Str("request_id", requestID).Logger()

	reply := func(msg StreamReply) {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Warn().Err(err).Msg("Failed to write reply")
			return
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var first StreamMessage
	if err := conn.ReadJSON(&first); err != nil || first.Event != "start" || first.Start == nil {
		reply(StreamReply{Event: "error", Message: "first message must be a start event"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	params := first.Start.params()
	if err := stt.SupportedAudio.Check(params); err != nil {
		reply(StreamReply{Event: "error", Message: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	audioIn := make(chan []byte, 100)
	go h.readStream(ctx, cancel, conn, audioIn, logger)

	logger.Info().Interface("params", params).Msg("Streaming request started")
	result := h.provider.Transcribe(ctx, params, stt.NewChannelStream(audioIn))

	event := logger.Info()
	if !result.Success() {
		event = logger.Error().Err(result.Err)
	}
	event.
		Str("provider", h.provider.Name()).
		Str("outcome", string(result.Outcome)).
		Str("text", result.Text).
		Msg("Streaming request finished")

	reply(StreamReply{Event: "result", Text: result.Text, Result: string(result.Outcome)})
}

// readStream forwards audio to audioIn until "stop" or a read error. A
// client that goes away without "stop" cancels the session.
func (h *Handler) readStream(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, audioIn chan<- []byte, logger zerolog.Logger) {
	var once sync.Once
	endInput := func() { once.Do(func() { close(audioIn) }) }
	defer endInput()

	first := true
	stopped := false
	send := func(chunk []byte) bool {
		if stopped {
			return true
		}
		if first {
			first = false
			if audio.IsWAV(chunk) {
				if _, pcm, err := audio.ParseWAV(chunk); err == nil {
					chunk = pcm
				}
			}
		}
		if len(chunk) == 0 {
			return true
		}
		select {
		case audioIn <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !stopped && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Client left before stop, cancelling")
			}
			cancel()
			return
		}

		if msgType == websocket.BinaryMessage {
			if !send(data) {
				return
			}
			continue
		}

		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("Ignoring unparseable message")
			continue
		}

		switch msg.Event {
		case "media":
			if msg.Media == nil {
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to decode base64 audio")
				continue
			}
			if !send(chunk) {
				return
			}
		case "stop":
			stopped = true
			endInput()
			// Keep reading so a disconnect during recognition still cancels.
		default:
			logger.Debug().Str("event", msg.Event).Msg("Unknown stream event")
		}
	}
}
