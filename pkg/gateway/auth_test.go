package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthHandler_VerifyToken(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("should accept the shared secret", func(t *testing.T) {
		assert.True(t, auth.VerifyToken("barista", "test-secret"))
	})

	t.Run("should accept a persona signature", func(t *testing.T) {
		h := hmac.New(sha256.New, []byte("test-secret"))
		h.Write([]byte("barista"))
		token := hex.EncodeToString(h.Sum(nil))

		assert.Equal(t, token, auth.SignPersona("barista"))
		assert.True(t, auth.VerifyToken("barista", token))
		assert.False(t, auth.VerifyToken("fraud", token))
	})

	t.Run("should reject bad tokens", func(t *testing.T) {
		assert.False(t, auth.VerifyToken("barista", ""))
		assert.False(t, auth.VerifyToken("barista", "wrong"))
		assert.False(t, auth.VerifyToken("barista", "test-secret "))
	})

	t.Run("should allow everything without a secret", func(t *testing.T) {
		open := NewAuthHandler("")
		assert.False(t, open.Enabled())
		assert.True(t, open.VerifyToken("barista", ""))
	})
}
