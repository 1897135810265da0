package protocol

import "bytes"

// Sanitize drops any bytes ahead of the first '{'. It returns an empty slice
// when the payload holds no JSON object, which callers treat as nothing to decode.
func Sanitize(payload []byte) []byte {
	idx := bytes.IndexByte(payload, '{')
	if idx < 0 {
		return []byte{}
	}
	return payload[idx:]
}
