package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidWAV is returned for data that is not a PCM RIFF/WAVE container.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
	riffHeaderSize      = 12
	chunkHeaderSize     = 8
)

// Format describes linear PCM audio.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BlockAlign is the number of bytes per sample frame across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= riffHeaderSize &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WAVE"
}

// ParseWAV returns the format and the PCM payload of a WAV file. A data
// chunk whose declared size runs past the end is truncated to what is present,
// as written by recorders that never patch the header.
func ParseWAV(data []byte) (Format, []byte, error) {
	if !IsWAV(data) {
		return Format{}, nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var format Format
	haveFormat := false
	rest := data[riffHeaderSize:]

	for len(rest) >= chunkHeaderSize {
		id := string(rest[0:4])
		size := int(binary.LittleEndian.Uint32(rest[4:8]))
		body := rest[chunkHeaderSize:]

		if id == "data" {
			if !haveFormat {
				return Format{}, nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			if size > len(body) || size < 0 {
				size = len(body)
			}
			return format, body[:size], nil
		}

		if size > len(body) {
			return Format{}, nil, fmt.Errorf("%w: %q chunk truncated", ErrInvalidWAV, id)
		}

		if id == "fmt " {
			f, err := parseFormatChunk(body[:size])
			if err != nil {
				return Format{}, nil, err
			}
			format = f
			haveFormat = true
		}

		next := size + size%2
		if next > len(body) {
			next = len(body)
		}
		rest = body[next:]
	}

	return Format{}, nil, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}

func parseFormatChunk(body []byte) (Format, error) {
	if len(body) < 16 {
		return Format{}, fmt.Errorf("%w: fmt chunk too short", ErrInvalidWAV)
	}

	audioFormat := binary.LittleEndian.Uint16(body[0:2])
	if audioFormat != wavFormatPCM && audioFormat != wavFormatExtensible {
		return Format{}, fmt.Errorf("%w: unsupported encoding %d", ErrInvalidWAV, audioFormat)
	}

	f := Format{
		Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
		SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
		BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
	}
	if f.Channels == 0 || f.SampleRate == 0 || f.BitsPerSample == 0 {
		return Format{}, fmt.Errorf("%w: zero channels, rate or bit depth", ErrInvalidWAV)
	}
	return f, nil
}

// EncodeWAV wraps PCM data in a canonical 44-byte WAV header.
func EncodeWAV(format Format, pcm []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	blockAlign := format.BlockAlign()

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(format.SampleRate*blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(format.BitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// EnsureWAV returns data unchanged if it is already a WAV file, otherwise it
// treats data as raw PCM in the given format and adds a header.
func EnsureWAV(data []byte, format Format) []byte {
	if IsWAV(data) {
		return data
	}
	return EncodeWAV(format, data)
}

// StripWAVHeader returns a reader positioned at the PCM payload. Input
// without a RIFF header is passed through and the returned format is nil.
// Chunks before "data" are skipped, so r need not be seekable.
func StripWAVHeader(r io.Reader) (io.Reader, *Format, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(riffHeaderSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}
	if !IsWAV(head) {
		return br, nil, nil
	}
	if _, err := br.Discard(riffHeaderSize); err != nil {
		return nil, nil, err
	}

	var format *Format
	header := make([]byte, chunkHeaderSize)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			return nil, nil, fmt.Errorf("%w: no data chunk: %v", ErrInvalidWAV, err)
		}
		id := string(header[0:4])
		size := int64(binary.LittleEndian.Uint32(header[4:8]))

		if id == "data" {
			return br, format, nil
		}

		if id == "fmt " && size >= 16 && size <= 64 {
			body := make([]byte, size)
			if _, err := io.ReadFull(br, body); err != nil {
				return nil, nil, fmt.Errorf("%w: fmt chunk truncated", ErrInvalidWAV)
			}
			f, err := parseFormatChunk(body)
			if err != nil {
				return nil, nil, err
			}
			format = &f
			size = 0
		}

		if _, err := io.CopyN(io.Discard, br, size+size%2); err != nil {
			return nil, nil, fmt.Errorf("%w: %q chunk truncated", ErrInvalidWAV, id)
		}
	}
}
