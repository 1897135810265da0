package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-bridge/internal/audio"
	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/stt"
)

// HeaderSpeechContent carries the audio metadata of an upload, e.g.
// "format=wav; codec=pcm; sample_rate=16000; bit_rate=16; channel=1; language=zh-CN".
const HeaderSpeechContent = "X-Speech-Content"

// Response is the body of every recognition reply.
type Response struct {
	Text   string `json:"text"`
	Result string `json:"result"`
}

// InfoResponse advertises the provider and the audio it accepts.
type InfoResponse struct {
	Provider    string   `json:"provider"`
	Formats     []string `json:"formats"`
	Codecs      []string `json:"codecs"`
	SampleRates []int    `json:"sample_rates"`
	BitRates    []int    `json:"bit_rates"`
	Channels    []int    `json:"channels"`
}

// Handler serves speech-to-text requests against a single provider.
type Handler struct {
	provider stt.Provider
	chunkMs  int
	logger   zerolog.Logger
}

// NewHandler creates a handler that feeds uploads to provider in chunks of
// chunkMs milliseconds.
func NewHandler(provider stt.Provider, chunkMs int) *Handler {
	if chunkMs <= 0 {
		chunkMs = 200
	}
	return &Handler{
		provider: provider,
		chunkMs:  chunkMs,
		logger:   observability.WithComponent("api"),
	}
}

// Routes registers the STT endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/stt", h.handleInfo)
	r.Post("/api/stt", h.handleTranscribe)
	r.Get("/api/stt/stream", h.handleStream)
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, InfoResponse{
		Provider:    h.provider.Name(),
		Formats:     stt.SupportedAudio.Formats,
		Codecs:      stt.SupportedAudio.Codecs,
		SampleRates: stt.SupportedAudio.SampleRates,
		BitRates:    stt.SupportedAudio.BitRates,
		Channels:    stt.SupportedAudio.Channels,
	})
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	params, err := ParseSpeechContent(r.Header.Get(HeaderSpeechContent))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := stt.SupportedAudio.Check(params); err != nil {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	body, format, err := audio.StripWAVHeader(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid audio body: %v", err), http.StatusBadRequest)
		return
	}
	if format != nil && (format.SampleRate != params.SampleRate ||
		format.BitsPerSample != params.BitRate ||
		format.Channels != params.Channels) {
		h.logger.Warn().
			Interface("header_format", format).
			Interface("declared", params).
			Msg("WAV header disagrees with X-Speech-Content, using declared parameters")
	}

	stream := stt.NewReaderStream(body, stt.ChunkBytes(params, h.chunkMs))
	result := h.provider.Transcribe(r.Context(), params, stream)

	event := h.logger.Info()
	if !result.Success() {
		event = h.logger.Error().Err(result.Err)
	}
	event.
		Str("provider", h.provider.Name()).
		Str("outcome", string(result.Outcome)).
		Str("text", result.Text).
		Dur("duration", result.Stats.Duration).
		Msg("Speech request finished")

	writeJSON(w, http.StatusOK, Response{Text: result.Text, Result: string(result.Outcome)})
}

// ParseSpeechContent parses the X-Speech-Content header. Format, codec,
// sample_rate, bit_rate and channel are required; language is optional.
func ParseSpeechContent(header string) (stt.AudioParams, error) {
	var params stt.AudioParams
	if strings.TrimSpace(header) == "" {
		return params, errors.New("missing " + HeaderSpeechContent + " header")
	}

	seen := make(map[string]bool)
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return params, fmt.Errorf("malformed %s entry %q", HeaderSpeechContent, part)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "format":
			params.Format = value
		case "codec":
			params.Codec = value
		case "sample_rate":
			params.SampleRate, err = strconv.Atoi(value)
		case "bit_rate":
			params.BitRate, err = strconv.Atoi(value)
		case "channel":
			params.Channels, err = strconv.Atoi(value)
		case "language":
			params.Language = value
		default:
			continue
		}
		if err != nil {
			return params, fmt.Errorf("invalid %s %q", key, value)
		}
		seen[key] = true
	}

	for _, key := range []string{"format", "codec", "sample_rate", "bit_rate", "channel"} {
		if !seen[key] {
			return params, fmt.Errorf("%s header is missing %s", HeaderSpeechContent, key)
		}
	}
	return params, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
