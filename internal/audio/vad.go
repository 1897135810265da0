package audio

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// VADMode selects the energy threshold used to tell speech from silence
type VADMode string

const (
	VADModeNormal VADMode = "normal"
	VADModeLow    VADMode = "low"  // needs a stronger signal
	VADModeHigh   VADMode = "high" // picks up weak speech
)

// ParseVADMode maps a config string to a VADMode
func ParseVADMode(s string) (VADMode, error) {
	switch VADMode(strings.ToLower(strings.TrimSpace(s))) {
	case VADModeNormal, "":
		return VADModeNormal, nil
	case VADModeLow:
		return VADModeLow, nil
	case VADModeHigh:
		return VADModeHigh, nil
	default:
		return "", fmt.Errorf("unknown VAD mode %q", s)
	}
}

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // mean absolute amplitude above which a frame is speech
	FrameMs         int     // frame length in milliseconds
	SilenceFrames   int     // consecutive silent frames that end a segment
	MinSpeechFrames int     // segments must be longer than this to be kept
}

// DefaultVADConfig returns the configuration for a sensitivity mode
func DefaultVADConfig(mode VADMode) VADConfig {
	cfg := VADConfig{
		EnergyThreshold: 0.0075,
		FrameMs:         30,
		SilenceFrames:   15, // ~450ms
		MinSpeechFrames: 10, // ~300ms
	}

	switch mode {
	case VADModeLow:
		cfg.EnergyThreshold = 0.025
	case VADModeHigh:
		cfg.EnergyThreshold = 0.0035
	}

	return cfg
}

// Segment is an inclusive range of frame indexes containing speech
type Segment struct {
	Start int
	End   int
}

// VADProcessor trims silence from recorded WAV audio before one-shot
// recognition. It never fails: on any problem the input is returned as is.
type VADProcessor struct {
	config VADConfig
	logger zerolog.Logger
}

// NewVADProcessor creates a processor
func NewVADProcessor(config VADConfig, logger zerolog.Logger) *VADProcessor {
	if config.FrameMs <= 0 {
		config.FrameMs = 30
	}
	return &VADProcessor{
		config: config,
		logger: logger.With().Str("component", "vad").Logger(),
	}
}

// Process returns a WAV file holding only the detected speech segments of wav.
// Input that cannot be decoded or holds no speech is returned unchanged.
func (v *VADProcessor) Process(wav []byte) []byte {
	format, pcm, err := ParseWAV(wav)
	if err != nil {
		v.logger.Error().Err(err).Msg("VAD skipped: cannot parse audio")
		return wav
	}
	samples, err := DecodeSamples(pcm, format.BitsPerSample)
	if err != nil {
		v.logger.Error().Err(err).Msg("VAD skipped")
		return wav
	}

	frameSamples := format.SampleRate * v.config.FrameMs / 1000 * format.Channels
	if frameSamples <= 0 {
		return wav
	}
	sampleBytes := format.BitsPerSample / 8

	segments := v.Detect(samples, frameSamples)
	if len(segments) == 0 {
		v.logger.Warn().Msg("No speech segments detected")
		return wav
	}

	var speech []byte
	for _, seg := range segments {
		start := seg.Start * frameSamples
		end := (seg.End + 1) * frameSamples
		if end > len(samples) {
			end = len(samples)
		}
		speech = append(speech, pcm[start*sampleBytes:end*sampleBytes]...)
	}

	v.logger.Debug().
		Int("segments", len(segments)).
		Int("input_bytes", len(pcm)).
		Int("output_bytes", len(speech)).
		Float64("input_rms", CalculateRMS(samples)).
		Msg("VAD trimmed audio")

	return EncodeWAV(format, speech)
}

// Detect splits samples into whole frames of frameSamples and returns the
// speech segments. A trailing partial frame is ignored.
func (v *VADProcessor) Detect(samples []float64, frameSamples int) []Segment {
	nframes := len(samples) / frameSamples

	var segments []Segment
	inSpeech := false
	start := 0
	silence := 0

	for i := 0; i < nframes; i++ {
		frame := samples[i*frameSamples : (i+1)*frameSamples]
		if MeanAbsEnergy(frame) > v.config.EnergyThreshold {
			if !inSpeech {
				inSpeech = true
				start = i
			}
			silence = 0
			continue
		}

		if !inSpeech {
			continue
		}
		silence++
		if silence >= v.config.SilenceFrames {
			if i-start > v.config.MinSpeechFrames {
				segments = append(segments, Segment{Start: start, End: i - v.config.SilenceFrames})
			}
			inSpeech = false
		}
	}

	if inSpeech && nframes-start > v.config.MinSpeechFrames {
		segments = append(segments, Segment{Start: start, End: nframes - 1})
	}

	return segments
}
