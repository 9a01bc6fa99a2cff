package user

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"talkroom_server/pkg/errorx"
)

// CookieSigner seals session ids into tamper-evident cookie values:
// "<session id>.<base64 hmac>".
type CookieSigner struct {
	secret []byte
}

// NewCookieSigner builds a signer over the configured session secret.
func NewCookieSigner(secret string) *CookieSigner {
	return &CookieSigner{secret: []byte(secret)}
}

// Sign seals a session id.
func (s *CookieSigner) Sign(sessionID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(sessionID))
	return sessionID + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a cookie value and returns the session id inside.
func (s *CookieSigner) Verify(value string) (string, error) {
	idx := strings.LastIndexByte(value, '.')
	if idx <= 0 {
		return "", errorx.New(errorx.CodeInvalidToken)
	}
	sessionID, sig := value[:idx], value[idx+1:]
	raw, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", errorx.New(errorx.CodeInvalidToken)
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(sessionID))
	if !hmac.Equal(raw, mac.Sum(nil)) {
		return "", errorx.New(errorx.CodeInvalidToken)
	}
	return sessionID, nil
}
