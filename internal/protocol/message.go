package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrPayloadDecode marks a well-framed message whose body could not be parsed.
	ErrPayloadDecode = errors.New("protocol: payload decode failed")

	// ErrEmptyPayload means the payload held no JSON object at all. Control
	// frames routinely look like this.
	ErrEmptyPayload = errors.New("protocol: no JSON body")
)

// Server type tags.
const (
	TypeFinal        = "final"
	TypeUtteranceEnd = "utterance_end"
	TypeError        = "error"
)

// StatusSuccess is the service's application-level success code.
const StatusSuccess = 20000000

// IsSuccessStatus reports whether code is one of the service's success values.
func IsSuccessStatus(code int64) bool {
	return code == 0 || code == StatusSuccess
}

// ClientRequest is the configuration envelope sent once per session.
type ClientRequest struct {
	User    UserMeta    `json:"user"`
	Audio   AudioMeta   `json:"audio"`
	Request RequestMeta `json:"request"`
}

type UserMeta struct {
	UID string `json:"uid"`
}

type AudioMeta struct {
	Format  string `json:"format"`
	Rate    int    `json:"rate"`
	Bits    int    `json:"bits"`
	Channel int    `json:"channel"`
	Codec   string `json:"codec"`
}

// RequestMeta holds recognition options. EndWindowSize and ForceToSpeechTime
// are omitted when zero so the service applies its own defaults.
type RequestMeta struct {
	ModelName         string `json:"model_name"`
	Language          string `json:"language,omitempty"`
	EnableITN         bool   `json:"enable_itn"`
	EnablePunc        bool   `json:"enable_punc"`
	ResultType        string `json:"result_type,omitempty"`
	ShowUtterances    bool   `json:"show_utterances"`
	EndWindowSize     int    `json:"end_window_size,omitempty"`
	ForceToSpeechTime int    `json:"force_to_speech_time,omitempty"`
}

// EncodeClientRequest serializes req into a full-client-request frame.
func EncodeClientRequest(req ClientRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client request: %w", err)
	}
	return Encode(FullClientRequest, FlagNone, payload), nil
}

// Candidate is one text fragment offered by a server result.
type Candidate struct {
	Text string
}

// ResultPayload accepts the three shapes the service uses for "result": an
// object, a list of objects, or a bare string. All of them end up as Candidates.
type ResultPayload struct {
	Candidates []Candidate
}

type resultObject struct {
	Text       string         `json:"text"`
	Utterances []resultObject `json:"utterances"`
}

func (o resultObject) candidates() []Candidate {
	if strings.TrimSpace(o.Text) != "" {
		return []Candidate{{Text: o.Text}}
	}
	out := make([]Candidate, 0, len(o.Utterances))
	for _, u := range o.Utterances {
		out = append(out, Candidate{Text: u.Text})
	}
	return out
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ResultPayload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	p.Candidates = nil

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		p.Candidates = []Candidate{{Text: s}}
	case '{':
		var obj resultObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		p.Candidates = obj.candidates()
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		for _, item := range items {
			var nested ResultPayload
			if err := nested.UnmarshalJSON(item); err != nil {
				return err
			}
			p.Candidates = append(p.Candidates, nested.Candidates...)
		}
	default:
		return fmt.Errorf("unsupported result shape starting with %q", data[0])
	}
	return nil
}

// ResponseHeader is the optional "header" object on server results.
type ResponseHeader struct {
	Status  *int64 `json:"status"`
	Code    *int64 `json:"code"`
	Message string `json:"message"`
}

// AudioInfo reports how much audio the service has processed.
type AudioInfo struct {
	Duration int64 `json:"duration"`
}

// ServerResult is a decoded server result message.
type ServerResult struct {
	Type      string          `json:"type"`
	Code      *int64          `json:"code"`
	Message   string          `json:"message"`
	Header    *ResponseHeader `json:"header"`
	Result    ResultPayload   `json:"result"`
	AudioInfo *AudioInfo      `json:"audio_info"`
}

// StatusCode returns the first status code present: top-level code, then
// header.status, then header.code.
func (r *ServerResult) StatusCode() (int64, bool) {
	if r.Code != nil {
		return *r.Code, true
	}
	if r.Header != nil {
		if r.Header.Status != nil {
			return *r.Header.Status, true
		}
		if r.Header.Code != nil {
			return *r.Header.Code, true
		}
	}
	return 0, false
}

// ErrorMessage returns whichever message field the server filled in.
func (r *ServerResult) ErrorMessage() string {
	if r.Message != "" {
		return r.Message
	}
	if r.Header != nil {
		return r.Header.Message
	}
	return ""
}

// Texts returns the candidate strings in arrival order.
func (r *ServerResult) Texts() []string {
	out := make([]string, 0, len(r.Result.Candidates))
	for _, c := range r.Result.Candidates {
		out = append(out, c.Text)
	}
	return out
}

// ParseServerResult sanitizes and decodes a server-result payload.
func ParseServerResult(payload []byte) (*ServerResult, error) {
	body := Sanitize(payload)
	if len(body) == 0 {
		return nil, ErrEmptyPayload
	}

	var result ServerResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadDecode, err)
	}
	return &result, nil
}

// ServerError is the content of a server-error frame.
type ServerError struct {
	Code    int64
	Message string
}

func (e ServerError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
	}
	return "server error: " + e.Message
}

// DecodeServerError reads a server-error frame. Invalid UTF-8 is dropped and a
// JSON body, when present, contributes its message field.
func DecodeServerError(frame Frame) ServerError {
	serverErr := ServerError{}
	if frame.HasSequence {
		serverErr.Code = int64(frame.Sequence)
	}

	text := frame.Payload
	if !utf8.Valid(text) {
		text = []byte(strings.ToValidUTF8(string(text), ""))
	}

	if body := Sanitize(text); len(body) > 0 {
		var parsed struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil {
			switch {
			case parsed.Message != "":
				serverErr.Message = parsed.Message
				return serverErr
			case parsed.Error != "":
				serverErr.Message = parsed.Error
				return serverErr
			}
		}
	}

	serverErr.Message = strings.TrimSpace(strings.Trim(string(text), "\x00"))
	return serverErr
}
