package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/lexiqai/speech-bridge/internal/protocol"
)

func TestParseHex(t *testing.T) {
	got, err := parseHex("0x11 90 10 00\n00000000")
	if err != nil {
		t.Fatalf("parseHex failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0x11, 0x90, 0x10, 0, 0, 0, 0, 0}) {
		t.Errorf("Unexpected bytes %x", got)
	}

	if _, err := parseHex("zz"); err == nil {
		t.Error("Expected error for invalid hex")
	}
}

func TestDescribeFrame_ServerResponse(t *testing.T) {
	frame := protocol.Encode(protocol.FullServerResponse, 0,
		[]byte(`{"code":20000000,"result":{"text":"你好"}}`))

	var out bytes.Buffer
	if err := describeFrame(&out, frame); err != nil {
		t.Fatalf("describeFrame failed: %v", err)
	}

	for _, want := range []string{"full_server_response", "status:        20000000 (success=true)", `"你好"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out.String())
		}
	}
}

func TestDescribeFrame_ServerError(t *testing.T) {
	payload := []byte("quota exceeded")
	frame := []byte{0x11, 0xF0, 0x10, 0x00}
	frame = append(frame, 0x02, 0xAE, 0xA5, 0x41) // error code 45000001
	frame = append(frame, 0x00, 0x00, 0x00, byte(len(payload)))
	frame = append(frame, payload...)

	var out bytes.Buffer
	if err := describeFrame(&out, frame); err != nil {
		t.Fatalf("describeFrame failed: %v", err)
	}
	if !strings.Contains(out.String(), "server error 45000001: quota exceeded") {
		t.Errorf("Unexpected output:\n%s", out.String())
	}
}

func TestDescribeFrame_Malformed(t *testing.T) {
	data, _ := hex.DecodeString("1190100000")

	err := describeFrame(&bytes.Buffer{}, data)
	if !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame, got %v", err)
	}
}
