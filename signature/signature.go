// Package signature computes HMAC-SHA256 signatures for outbound deliveries.
//
// Custom targets receive a versioned "v1=<hex>" header over
// "{timestamp}.{payload}". DingTalk and Feishu bots use their own
// timestamp-and-secret schemes.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Header carries the v1 signature on custom target deliveries.
const (
	Header          = "X-Hookrelay-Signature"
	TimestampHeader = "X-Hookrelay-Timestamp"
)

// Sign returns the v1 signature of payload at timestamp (unix seconds).
func Sign(payload []byte, secret string, timestamp int64) string {
	content := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks sig against the expected v1 signature.
func Verify(payload []byte, secret string, timestamp int64, sig string) bool {
	expected := Sign(payload, secret, timestamp)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// DingTalk returns the sign query parameter for a DingTalk robot.
// timestamp is in milliseconds.
func DingTalk(timestamp int64, secret string) string {
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, secret)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Feishu returns the sign body field for a Feishu bot. timestamp is in
// seconds. The string to sign is the HMAC key and the message is empty.
func Feishu(timestamp int64, secret string) string {
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, secret)
	mac := hmac.New(sha256.New, []byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
