package rail

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the request signature: "t=<unix>,kid=<key id>,v1=<mac>".
const SignatureHeader = "X-Willexec-Signature"

type signaturePayload struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
	Body      string `json:"body,omitempty"`
}

type signer struct {
	keyID string
	key   []byte
	now   func() time.Time
}

func (s *signer) sign(method, path string, body []byte) (string, error) {
	ts := s.now().Unix()
	mac, err := Sign(s.key, method, path, ts, body)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("t=%d,kid=%s,v1=%s", ts, s.keyID, base64.StdEncoding.EncodeToString(mac)), nil
}

// Sign computes the HMAC-SHA256 a rail uses to authenticate a request.
func Sign(key []byte, method, path string, timestamp int64, body []byte) ([]byte, error) {
	payload := signaturePayload{
		Method:    method,
		Path:      path,
		Timestamp: timestamp,
	}
	if len(body) > 0 {
		payload.Body = base64.StdEncoding.EncodeToString(body)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(data)
	return mac.Sum(nil), nil
}

// VerifySignature checks a SignatureHeader value against the request.
func VerifySignature(header string, key []byte, method, path string, body []byte) bool {
	var ts int64
	var got []byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return false
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return false
			}
			ts = n
		case "v1":
			b, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return false
			}
			got = b
		}
	}
	if got == nil {
		return false
	}
	expected, err := Sign(key, method, path, ts, body)
	if err != nil {
		return false
	}
	return hmac.Equal(got, expected)
}
