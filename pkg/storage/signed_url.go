package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// TokenSigner creates and validates HMAC-signed, time-boxed tokens. It backs
// both export download URLs and online session check-in codes.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenSigner constructs a signer with the provided secret and TTL.
func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenSigner{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Generate returns a signed token binding the id to an opaque subject string.
func (s *TokenSigner) Generate(id, subject string) (string, time.Time, error) {
	if id == "" || subject == "" {
		return "", time.Time{}, fmt.Errorf("id and subject required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	encodedSubject := base64.RawURLEncoding.EncodeToString([]byte(subject))
	payload := fmt.Sprintf("%s|%d|%s", id, expiresAt.Unix(), encodedSubject)
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	token := strings.Join([]string{id, fmt.Sprintf("%d", expiresAt.Unix()), encodedSubject, signature}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded metadata.
// When allowExpired is true, the timestamp check is skipped (used by cleanup routines).
func (s *TokenSigner) Parse(token string, allowExpired bool) (id, subject string, expiresAt time.Time, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", time.Time{}, fmt.Errorf("invalid token format")
	}
	id = parts[0]
	ts := parts[1]
	encodedSubject := parts[2]
	signature := parts[3]

	rawSubject, err := base64.RawURLEncoding.DecodeString(encodedSubject)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("decode subject: %w", err)
	}

	expUnix, err := parseUnix(ts)
	if err != nil {
		return "", "", time.Time{}, err
	}
	expiresAt = time.Unix(expUnix, 0)

	payload := fmt.Sprintf("%s|%s|%s", id, ts, encodedSubject)
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", "", time.Time{}, fmt.Errorf("invalid token signature")
	}
	if !allowExpired && time.Now().After(expiresAt) {
		return "", "", time.Time{}, fmt.Errorf("token expired")
	}
	return id, string(rawSubject), expiresAt, nil
}

func parseUnix(raw string) (int64, error) {
	var ts int64
	_, err := fmt.Sscanf(raw, "%d", &ts)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp")
	}
	return ts, nil
}
