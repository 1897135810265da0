package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned when inbound bytes are too short to carry a
// header and length prefix. Callers skip the frame and keep reading.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// MessageType is the high nibble of the second header byte.
type MessageType byte

const (
	FullClientRequest   MessageType = 0b0001
	AudioOnlyRequest    MessageType = 0b0010
	FullServerResponse  MessageType = 0b1001
	ServerErrorResponse MessageType = 0b1111
)

func (t MessageType) String() string {
	switch t {
	case FullClientRequest:
		return "full_client_request"
	case AudioOnlyRequest:
		return "audio_only_request"
	case FullServerResponse:
		return "full_server_response"
	case ServerErrorResponse:
		return "server_error"
	default:
		return fmt.Sprintf("unknown_%#x", byte(t))
	}
}

// Flag values carried in the low nibble of the second header byte.
const (
	FlagNone byte = 0b0000
	// FlagFinalAudio marks the client's terminal audio frame. It says nothing
	// about whether the server has finished recognizing.
	FlagFinalAudio byte = 0b0010
)

const (
	// VersionAndHeaderSize is protocol version 1 with a one-word (4 byte) header.
	VersionAndHeaderSize byte = 0x11

	// SerializationJSON is byte 2 for frames with a JSON body, no compression.
	SerializationJSON byte = 0x10
	// SerializationRaw is byte 2 for raw audio frames.
	SerializationRaw byte = 0x00

	HeaderSize = 4
	PrefixSize = HeaderSize + 4
)

// Frame is one decoded wire message.
type Frame struct {
	Type          MessageType
	Flags         byte
	Serialization byte

	// Sequence holds the optional word the service places between the header
	// and the length prefix. For error frames it is the error code.
	Sequence    uint32
	HasSequence bool

	Payload []byte
}

// IsFinalAudio reports whether the client final-audio flag is set.
func (f Frame) IsFinalAudio() bool {
	return f.Type == AudioOnlyRequest && f.Flags&FlagFinalAudio != 0
}

func (f Frame) String() string {
	if f.HasSequence {
		return fmt.Sprintf("%s flags=%#04b seq=%d payload=%dB", f.Type, f.Flags, int32(f.Sequence), len(f.Payload))
	}
	return fmt.Sprintf("%s flags=%#04b payload=%dB", f.Type, f.Flags, len(f.Payload))
}

// Encode builds header, big-endian length and payload. Type and flags are
// masked to four bits each.
func Encode(msgType MessageType, flags byte, payload []byte) []byte {
	serialization := SerializationRaw
	if msgType == FullClientRequest || msgType == FullServerResponse {
		serialization = SerializationJSON
	}

	buf := make([]byte, PrefixSize+len(payload))
	buf[0] = VersionAndHeaderSize
	buf[1] = byte(msgType&0x0F)<<4 | flags&0x0F
	buf[2] = serialization
	buf[3] = 0x00
	binary.BigEndian.PutUint32(buf[HeaderSize:PrefixSize], uint32(len(payload)))
	copy(buf[PrefixSize:], payload)
	return buf
}

// Decode is the inverse of Encode. When the declared length disagrees with
// the bytes that follow, Decode checks for a sequence word ahead of the real
// length; failing that it returns every byte after the prefix and leaves it to
// Sanitize to find the JSON body.
func Decode(data []byte) (Frame, error) {
	if len(data) < PrefixSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedFrame, len(data), PrefixSize)
	}

	frame := Frame{
		Type:          MessageType(data[1] >> 4),
		Flags:         data[1] & 0x0F,
		Serialization: data[2],
	}

	declared := binary.BigEndian.Uint32(data[HeaderSize:PrefixSize])
	rest := data[PrefixSize:]

	switch {
	case int(declared) == len(rest):
		frame.Payload = rest
	case len(rest) >= 4 && int(binary.BigEndian.Uint32(rest[:4])) == len(rest)-4:
		frame.Sequence = declared
		frame.HasSequence = true
		frame.Payload = rest[4:]
	default:
		frame.Payload = rest
	}

	return frame, nil
}

// EncodeAudio frames one audio chunk. The terminal frame is empty and final.
func EncodeAudio(chunk []byte, final bool) []byte {
	flags := FlagNone
	if final {
		flags = FlagFinalAudio
	}
	return Encode(AudioOnlyRequest, flags, chunk)
}
