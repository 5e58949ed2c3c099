package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StateSigner mints and checks the OAuth state parameter so the
// callback can reject tampered or replayed values.
type StateSigner struct {
	Secret []byte
}

var (
	ErrBadToken   = errors.New("bad token")
	ErrBadSig     = errors.New("invalid signature")
	ErrExpired    = errors.New("expired")
	ErrBadPayload = errors.New("bad payload")
)

// Sign: use URL-safe base64 WITH padding (clearer in URLs)
func (s StateSigner) Sign(redirect string, exp time.Time) string {
	msg := uuid.NewString() + "|" + redirect + "|" + strconv.FormatInt(exp.Unix(), 10)
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(msg))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))    // padded
	payload := base64.URLEncoding.EncodeToString([]byte(msg)) // padded
	return payload + "." + sig
}

// decodeURLB64 tries raw (no padding) then padded
func decodeURLB64(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// Verify returns the redirect target carried in a valid token.
func (s StateSigner) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", ErrBadToken
	}
	payload, sig := parts[0], parts[1]

	raw, err := decodeURLB64(payload)
	if err != nil {
		return "", ErrBadToken
	}

	mac := hmac.New(sha256.New, s.Secret)
	mac.Write(raw)
	expectedRaw := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	expectedPad := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	if sig != expectedRaw && sig != expectedPad {
		return "", ErrBadSig
	}

	fields := strings.SplitN(string(raw), "|", 3)
	if len(fields) != 3 {
		return "", ErrBadPayload
	}
	redirect := strings.TrimSpace(fields[1])
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || redirect == "" {
		return "", ErrBadPayload
	}
	if time.Now().After(time.Unix(ts, 0)) {
		return "", ErrExpired
	}
	return redirect, nil
}
