package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		[]byte(`{"type":"final"}`),
		bytes.Repeat([]byte{0xAB}, 3200),
	}

	for msgType := 0; msgType <= 15; msgType++ {
		for flags := 0; flags <= 15; flags++ {
			for _, payload := range payloads {
				encoded := Encode(MessageType(msgType), byte(flags), payload)
				frame, err := Decode(encoded)
				if err != nil {
					t.Fatalf("Decode failed for type=%d flags=%d: %v", msgType, flags, err)
				}
				if frame.Type != MessageType(msgType) {
					t.Errorf("Expected type %d, got %d", msgType, frame.Type)
				}
				if frame.Flags != byte(flags) {
					t.Errorf("Expected flags %d, got %d", flags, frame.Flags)
				}
				if !bytes.Equal(frame.Payload, payload) {
					t.Errorf("Payload mismatch for type=%d flags=%d len=%d", msgType, flags, len(payload))
				}
				if frame.HasSequence {
					t.Errorf("Expected no sequence word for type=%d flags=%d", msgType, flags)
				}
			}
		}
	}
}

func TestEncode_HeaderLayout(t *testing.T) {
	tests := []struct {
		name     string
		msgType  MessageType
		flags    byte
		payload  []byte
		expected []byte
	}{
		{
			name:     "config frame",
			msgType:  FullClientRequest,
			flags:    FlagNone,
			payload:  []byte("{}"),
			expected: []byte{0x11, 0x10, 0x10, 0x00, 0x00, 0x00, 0x00, 0x02, '{', '}'},
		},
		{
			name:     "audio frame",
			msgType:  AudioOnlyRequest,
			flags:    FlagNone,
			payload:  []byte{0x01, 0x02},
			expected: []byte{0x11, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x01, 0x02},
		},
		{
			name:     "final audio frame",
			msgType:  AudioOnlyRequest,
			flags:    FlagFinalAudio,
			payload:  nil,
			expected: []byte{0x11, 0x22, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.msgType, tt.flags, tt.payload)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("Expected % x, got % x", tt.expected, got)
			}
		})
	}
}

func TestEncodeAudio_FinalFlag(t *testing.T) {
	frame, err := Decode(EncodeAudio(nil, true))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !frame.IsFinalAudio() {
		t.Error("Expected final-audio flag on terminal frame")
	}
	if len(frame.Payload) != 0 {
		t.Errorf("Expected empty payload, got %d bytes", len(frame.Payload))
	}

	frame, _ = Decode(EncodeAudio([]byte{1, 2, 3}, false))
	if frame.IsFinalAudio() {
		t.Error("Expected no final-audio flag on regular frame")
	}
}

func TestDecode_TooShort(t *testing.T) {
	for _, n := range []int{0, 1, 5, 7} {
		_, err := Decode(make([]byte, n))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("Expected ErrMalformedFrame for %d bytes, got %v", n, err)
		}
	}
}

func TestDecode_SequenceWord(t *testing.T) {
	body := []byte(`{"result":{"text":"hi"}}`)
	data := []byte{0x11, 0x91, 0x10, 0x00}
	data = binary.BigEndian.AppendUint32(data, 7)
	data = binary.BigEndian.AppendUint32(data, uint32(len(body)))
	data = append(data, body...)

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if frame.Type != FullServerResponse {
		t.Errorf("Expected %s, got %s", FullServerResponse, frame.Type)
	}
	if !frame.HasSequence || frame.Sequence != 7 {
		t.Errorf("Expected sequence 7, got %d (present=%v)", frame.Sequence, frame.HasSequence)
	}
	if !bytes.Equal(frame.Payload, body) {
		t.Errorf("Expected payload %q, got %q", body, frame.Payload)
	}
}

func TestDecode_LengthMismatchKeepsBytes(t *testing.T) {
	data := []byte{0x11, 0x90, 0x10, 0x00, 0x00, 0x00, 0x00, 0x50, 0xFF, '{', '}'}

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(frame.Payload, []byte{0xFF, '{', '}'}) {
		t.Errorf("Expected trailing bytes kept, got % x", frame.Payload)
	}
	if !bytes.Equal(Sanitize(frame.Payload), []byte("{}")) {
		t.Errorf("Expected sanitizer to recover JSON, got %q", Sanitize(frame.Payload))
	}
}

func TestMessageType_String(t *testing.T) {
	if FullServerResponse.String() != "full_server_response" {
		t.Errorf("Unexpected name %q", FullServerResponse.String())
	}
	if MessageType(0b0101).String() != "unknown_0x5" {
		t.Errorf("Unexpected name %q", MessageType(0b0101).String())
	}
}
