package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseServerResult_ResultShapes(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected []string
	}{
		{"list of objects", `{"type":"partial","result":[{"text":"你好"},{"text":"世界"}]}`, []string{"你好", "世界"}},
		{"single object", `{"result":{"text":"你好世界"}}`, []string{"你好世界"}},
		{"bare string", `{"type":"final","result":"你好"}`, []string{"你好"}},
		{"empty list", `{"type":"final","result":[]}`, []string{}},
		{"missing result", `{"type":"final"}`, []string{}},
		{"null result", `{"result":null}`, []string{}},
		{"utterances only", `{"result":{"text":"","utterances":[{"text":"打开"},{"text":"灯"}]}}`, []string{"打开", "灯"}},
		{"text wins over utterances", `{"result":{"text":"打开灯","utterances":[{"text":"打开"}]}}`, []string{"打开灯"}},
		{"list of strings", `{"result":["一","二"]}`, []string{"一", "二"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServerResult([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseServerResult failed: %v", err)
			}
			if got := result.Texts(); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestParseServerResult_Errors(t *testing.T) {
	if _, err := ParseServerResult([]byte("\x00\x01")); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Expected ErrEmptyPayload, got %v", err)
	}

	if _, err := ParseServerResult([]byte(`{"result":`)); !errors.Is(err, ErrPayloadDecode) {
		t.Errorf("Expected ErrPayloadDecode for truncated JSON, got %v", err)
	}

	if _, err := ParseServerResult([]byte(`{"result":42}`)); !errors.Is(err, ErrPayloadDecode) {
		t.Errorf("Expected ErrPayloadDecode for numeric result, got %v", err)
	}
}

func TestParseServerResult_LeadingBytes(t *testing.T) {
	result, err := ParseServerResult([]byte("\x00\x00\x00\x01{\"type\":\"final\",\"result\":[{\"text\":\"ok go\"}]}"))
	if err != nil {
		t.Fatalf("ParseServerResult failed: %v", err)
	}
	if result.Type != TypeFinal {
		t.Errorf("Expected type final, got %q", result.Type)
	}
}

func TestServerResult_StatusCode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		code    int64
		present bool
		success bool
	}{
		{"none", `{"type":"partial"}`, 0, false, true},
		{"top-level code", `{"code":45000001,"header":{"status":20000000}}`, 45000001, true, false},
		{"header status", `{"header":{"status":20000000}}`, 20000000, true, true},
		{"header code", `{"header":{"code":55000031}}`, 55000031, true, false},
		{"zero code", `{"code":0}`, 0, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServerResult([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseServerResult failed: %v", err)
			}
			code, ok := result.StatusCode()
			if ok != tt.present || code != tt.code {
				t.Errorf("Expected (%d, %v), got (%d, %v)", tt.code, tt.present, code, ok)
			}
			if ok && IsSuccessStatus(code) != tt.success {
				t.Errorf("Expected success=%v for code %d", tt.success, code)
			}
		})
	}
}

func TestEncodeClientRequest(t *testing.T) {
	req := ClientRequest{
		User:  UserMeta{UID: "speech-bridge"},
		Audio: AudioMeta{Format: "pcm", Rate: 16000, Bits: 16, Channel: 1, Codec: "raw"},
		Request: RequestMeta{
			ModelName:     "bigmodel",
			Language:      "zh-CN",
			EnableITN:     true,
			EnablePunc:    true,
			ResultType:    "single",
			EndWindowSize: 800,
		},
	}

	data, err := EncodeClientRequest(req)
	if err != nil {
		t.Fatalf("EncodeClientRequest failed: %v", err)
	}
	if data[0] != 0x11 || data[1] != 0x10 || data[2] != 0x10 || data[3] != 0x00 {
		t.Errorf("Unexpected header % x", data[:4])
	}

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	var decoded map[string]map[string]any
	if err := json.Unmarshal(frame.Payload, &decoded); err != nil {
		t.Fatalf("Payload is not JSON: %v", err)
	}
	if decoded["request"]["model_name"] != "bigmodel" {
		t.Errorf("Expected model_name bigmodel, got %v", decoded["request"]["model_name"])
	}
	if decoded["request"]["end_window_size"] != float64(800) {
		t.Errorf("Expected end_window_size 800, got %v", decoded["request"]["end_window_size"])
	}
	if _, ok := decoded["request"]["force_to_speech_time"]; ok {
		t.Error("Expected force_to_speech_time omitted when zero")
	}
	if decoded["audio"]["rate"] != float64(16000) {
		t.Errorf("Expected rate 16000, got %v", decoded["audio"]["rate"])
	}
}

func TestDecodeServerError(t *testing.T) {
	t.Run("code word and text", func(t *testing.T) {
		msg := []byte("quota exceeded\xff")
		data := []byte{0x11, 0xF0, 0x10, 0x00}
		data = binary.BigEndian.AppendUint32(data, 45000151)
		data = binary.BigEndian.AppendUint32(data, uint32(len(msg)))
		data = append(data, msg...)

		frame, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		serverErr := DecodeServerError(frame)
		if serverErr.Code != 45000151 {
			t.Errorf("Expected code 45000151, got %d", serverErr.Code)
		}
		if serverErr.Message != "quota exceeded" {
			t.Errorf("Expected message 'quota exceeded', got %q", serverErr.Message)
		}
		if !strings.Contains(serverErr.Error(), "45000151") {
			t.Errorf("Expected code in error string, got %q", serverErr.Error())
		}
	})

	t.Run("json body", func(t *testing.T) {
		frame, _ := Decode(Encode(ServerErrorResponse, FlagNone, []byte(`{"message":"invalid audio"}`)))
		serverErr := DecodeServerError(frame)
		if serverErr.Message != "invalid audio" {
			t.Errorf("Expected message 'invalid audio', got %q", serverErr.Message)
		}
	})
}
