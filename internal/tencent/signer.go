package tencent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const signAlgorithm = "TC3-HMAC-SHA256"

// Signer produces TC3-HMAC-SHA256 Authorization headers for JSON POST
// requests signed over content-type and host.
type Signer struct {
	SecretID  string
	SecretKey string
	Service   string
}

// Authorization returns the header value for a request with body sent to
// host at timestamp ts.
func (s Signer) Authorization(host string, body []byte, ts time.Time) string {
	date := ts.UTC().Format("2006-01-02")
	scope := fmt.Sprintf("%s/%s/tc3_request", date, s.Service)

	canonicalRequest := "POST\n" +
		"/\n" +
		"\n" +
		"content-type:application/json\n" +
		"host:" + host + "\n" +
		"\n" +
		"content-type;host\n" +
		sha256Hex(body)

	stringToSign := fmt.Sprintf("%s\n%d\n%s\n%s",
		signAlgorithm, ts.Unix(), scope, sha256Hex([]byte(canonicalRequest)))

	secretDate := hmacSHA256([]byte("TC3"+s.SecretKey), date)
	secretService := hmacSHA256(secretDate, s.Service)
	secretSigning := hmacSHA256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=content-type;host, Signature=%s",
		signAlgorithm, s.SecretID, scope, signature)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
