package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexiqai/speech-bridge/internal/audio"
	"github.com/lexiqai/speech-bridge/internal/config"
	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/provider"
	"github.com/lexiqai/speech-bridge/internal/stt"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe FILE",
	Short: "Transcribe a WAV or raw PCM file",
	Long: `Transcribe streams FILE through a recognition provider and prints the
result as JSON. A WAV header, if present, supplies the audio parameters;
raw PCM is assumed to match AUDIO_SAMPLE_RATE, AUDIO_BITS and AUDIO_CHANNELS.`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	transcribeCmd.Flags().String("provider", "", "Provider to use: volcengine or tencent (default ASR_PROVIDER)")
	transcribeCmd.Flags().Bool("vad", false, "Trim silence before recognition")
	transcribeCmd.Flags().Int("chunk-ms", 0, "Milliseconds of audio per chunk (default ASR_CHUNK_MS)")
	transcribeCmd.Flags().Int("batch", 0, "Chunks per audio frame (default ASR_SEND_BATCH)")
	transcribeCmd.Flags().String("language", "", "Recognition language (default ASR_LANGUAGE)")
}

type transcribeOutput struct {
	Text   string                     `json:"text"`
	Result string                     `json:"result"`
	Error  string                     `json:"error,omitempty"`
	Stats  observability.SessionStats `json:"stats"`
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if name, _ := flags.GetString("provider"); name != "" {
		os.Setenv("ASR_PROVIDER", name)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if level, _ := flags.GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if vad, _ := flags.GetBool("vad"); vad {
		cfg.VADEnabled = true
	}
	if chunkMs, _ := flags.GetInt("chunk-ms"); chunkMs > 0 {
		cfg.ChunkMs = chunkMs
	}
	if batch, _ := flags.GetInt("batch"); batch > 0 {
		cfg.SendBatch = batch
	}
	if language, _ := flags.GetString("language"); language != "" {
		cfg.Language = language
	}
	observability.InitLogger(cfg.LogLevel, true)

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	format := audio.Format{
		SampleRate:    cfg.AudioSampleRate,
		Channels:      cfg.AudioChannels,
		BitsPerSample: cfg.AudioBits,
	}
	pcm := data
	if audio.IsWAV(data) {
		format, pcm, err = audio.ParseWAV(data)
		if err != nil {
			return err
		}
	}

	params := stt.AudioParams{
		Format:     "wav",
		Codec:      "pcm",
		SampleRate: format.SampleRate,
		BitRate:    format.BitsPerSample,
		Channels:   format.Channels,
		Language:   cfg.Language,
	}

	recognizer, err := provider.New(cfg)
	if err != nil {
		return err
	}

	// The REST provider trims silence itself; the streaming one gets trimmed input.
	if cfg.VADEnabled && recognizer.Name() == config.ProviderVolcengine {
		mode, err := audio.ParseVADMode(cfg.VADMode)
		if err != nil {
			return err
		}
		vad := audio.NewVADProcessor(audio.DefaultVADConfig(mode), observability.GetLogger())
		if _, trimmed, err := audio.ParseWAV(vad.Process(audio.EncodeWAV(format, pcm))); err == nil {
			pcm = trimmed
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream := stt.NewReaderStream(bytes.NewReader(pcm), stt.ChunkBytes(params, cfg.ChunkMs))
	result := recognizer.Transcribe(ctx, params, stream)

	out := transcribeOutput{
		Text:   result.Text,
		Result: string(result.Outcome),
		Stats:  result.Stats,
	}
	if result.Err != nil {
		out.Error = result.Err.Error()
	}
	if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}

	if !result.Success() {
		return fmt.Errorf("recognition failed")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
