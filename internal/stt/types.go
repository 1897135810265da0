package stt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/transcript"
)

var (
	// ErrConnection covers handshake and transport failures.
	ErrConnection = errors.New("stt: connection error")
	// ErrServerReported means the service sent an error frame or a failing status.
	ErrServerReported = errors.New("stt: server reported an error")
	// ErrTimeout means the final wait elapsed without a server-final message.
	ErrTimeout = errors.New("stt: timed out waiting for final result")
	// ErrUnsupportedAudio is a precondition failure; no session is started.
	ErrUnsupportedAudio = errors.New("stt: unsupported audio parameters")
	// ErrCancelled means the caller's context ended the session.
	ErrCancelled = errors.New("stt: session cancelled")
)

// AudioParams describes the audio the host is about to stream.
type AudioParams struct {
	Format     string // wav or pcm
	Codec      string
	SampleRate int
	BitRate    int // bits per sample
	Channels   int
	Language   string
}

// AudioSupport lists the accepted values for each audio parameter.
type AudioSupport struct {
	Formats     []string
	Codecs      []string
	SampleRates []int
	BitRates    []int
	Channels    []int
}

// SupportedAudio is what the streaming service accepts: 16 kHz, 16-bit, mono PCM.
var SupportedAudio = AudioSupport{
	Formats:     []string{"wav", "pcm"},
	Codecs:      []string{"pcm"},
	SampleRates: []int{16000},
	BitRates:    []int{16},
	Channels:    []int{1},
}

// Check returns ErrUnsupportedAudio naming the first offending parameter.
func (s AudioSupport) Check(p AudioParams) error {
	switch {
	case !slices.Contains(s.Formats, strings.ToLower(p.Format)):
		return fmt.Errorf("%w: format %q, supported %v", ErrUnsupportedAudio, p.Format, s.Formats)
	case !slices.Contains(s.Codecs, strings.ToLower(p.Codec)):
		return fmt.Errorf("%w: codec %q, supported %v", ErrUnsupportedAudio, p.Codec, s.Codecs)
	case !slices.Contains(s.SampleRates, p.SampleRate):
		return fmt.Errorf("%w: sample rate %d, supported %v", ErrUnsupportedAudio, p.SampleRate, s.SampleRates)
	case !slices.Contains(s.BitRates, p.BitRate):
		return fmt.Errorf("%w: bit rate %d, supported %v", ErrUnsupportedAudio, p.BitRate, s.BitRates)
	case !slices.Contains(s.Channels, p.Channels):
		return fmt.Errorf("%w: channels %d, supported %v", ErrUnsupportedAudio, p.Channels, s.Channels)
	}
	return nil
}

// ChunkBytes is the number of bytes covering chunkMs of audio with params p.
func ChunkBytes(p AudioParams, chunkMs int) int {
	return p.SampleRate * p.BitRate / 8 * p.Channels * chunkMs / 1000
}

// Result is the outcome of one recognition session. Text is empty on error;
// an empty Text with OutcomeSuccess is a silent utterance.
type Result struct {
	Text    string
	Outcome transcript.Outcome
	// Err explains an error outcome and is nil on success.
	Err   error
	Stats observability.SessionStats
}

// Success reports whether the session produced a usable answer.
func (r Result) Success() bool {
	return r.Outcome == transcript.OutcomeSuccess
}

func errorResult(err error, stats observability.SessionStats) Result {
	return Result{Outcome: transcript.OutcomeError, Err: err, Stats: stats}
}

// Provider turns one audio stream into one transcript.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, params AudioParams, stream AudioStream) Result
	// HealthCheck reports whether the provider would accept a session now.
	HealthCheck(ctx context.Context) (bool, error)
}

// ConnectionParams identify and authenticate a streaming session.
type ConnectionParams struct {
	URL        string
	AppKey     string
	AccessKey  string
	ResourceID string
}

// RecognitionOptions are sent once per session in the configuration frame.
type RecognitionOptions struct {
	UserID          string
	ModelName       string
	Language        string
	EnableITN       bool
	EnablePunc      bool
	ResultType      string
	ShowUtterances  bool
	EndWindowMs     int
	ForceToSpeechMs int
}

// SessionConfig bounds every blocking point of a session.
type SessionConfig struct {
	SendBatch        int           // caller chunks per audio frame
	PollTimeout      time.Duration // receive attempt after each audio frame
	FinalTimeout     time.Duration // wait for server-final after the last frame
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultSessionConfig returns the pacing used when nothing is configured.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SendBatch:        1,
		PollTimeout:      20 * time.Millisecond,
		FinalTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

func (c SessionConfig) withDefaults() SessionConfig {
	def := DefaultSessionConfig()
	if c.SendBatch <= 0 {
		c.SendBatch = def.SendBatch
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	if c.FinalTimeout <= 0 {
		c.FinalTimeout = def.FinalTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}
