package credentials

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcpush/relay/internal/config"
)

func writeTestSigningKey(t *testing.T) (string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "signing-key.p8")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(path, pemBytes, 0600))
	return path, key
}

func TestAppleProviderTokenClaims(t *testing.T) {
	keyFile, key := writeTestSigningKey(t)

	provider, err := NewAppleProvider(config.ApnsConfig{
		KeyFile: keyFile,
		KeyID:   "KEY123",
		TeamID:  "TEAM456",
	})
	require.NoError(t, err)

	signed, err := provider.Token()
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "ES256", parsed.Header["alg"])
	assert.Equal(t, "KEY123", parsed.Header["kid"])

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "TEAM456", claims["iss"])
	assert.NotZero(t, claims["iat"])
}

func TestAppleProviderCachesUntilExpiry(t *testing.T) {
	keyFile, _ := writeTestSigningKey(t)

	provider, err := NewAppleProvider(config.ApnsConfig{KeyFile: keyFile, KeyID: "K", TeamID: "T"})
	require.NoError(t, err)

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	provider.now = func() time.Time { return clock }

	first, err := provider.Token()
	require.NoError(t, err)

	// Within the TTL the same token is reused.
	clock = clock.Add(29 * time.Minute)
	second, err := provider.Token()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Past the TTL a fresh token is minted.
	clock = clock.Add(2 * time.Minute)
	third, err := provider.Token()
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestNewAppleProviderRejectsBadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.p8")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0600))

	_, err := NewAppleProvider(config.ApnsConfig{KeyFile: path})
	assert.Error(t, err)

	_, err = NewAppleProvider(config.ApnsConfig{KeyFile: filepath.Join(t.TempDir(), "missing.p8")})
	assert.Error(t, err)
}
