package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalewatch/internal/config"
)

func generateTestKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

func writePublicKeyPEM(t *testing.T, pub *rsa.PublicKey) string {
	t.Helper()

	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "jwt_pub.pem")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, pem.Encode(f, &pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return path
}

func signTestToken(t *testing.T, priv *rsa.PrivateKey, sub, aud, iss string, expiry time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		Audience:  jwt.ClaimStrings{aud},
		Issuer:    iss,
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tokenString, err := token.SignedString(priv)
	require.NoError(t, err)
	return tokenString
}

func TestNewRS256Verifier_LoadsPEMKey(t *testing.T) {
	_, pub := generateTestKeys(t)

	v, err := NewRS256Verifier(&config.JWTConfig{
		PublicKeyPath: writePublicKeyPEM(t, pub),
		Audience:      "whale-watch",
		Issuer:        "whale-auth",
	})
	require.NoError(t, err)
	assert.Equal(t, "whale-watch", v.Aud)
	assert.Equal(t, time.Minute, v.Leeway, "default leeway applied")
	assert.NotNil(t, v.PubKey)
}

func TestNewRS256Verifier_MissingKeyFile(t *testing.T) {
	_, err := NewRS256Verifier(&config.JWTConfig{PublicKeyPath: "/nonexistent/key.pem"})
	assert.Error(t, err)
}

func TestVerifyBearer_ValidToken(t *testing.T) {
	priv, pub := generateTestKeys(t)
	v := &RS256Verifier{PubKey: pub, Aud: "whale-watch", Iss: "whale-auth", Leeway: 10 * time.Second}

	token := signTestToken(t, priv, "ops-dashboard", "whale-watch", "whale-auth", time.Hour)

	claims, err := v.VerifyBearer("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "ops-dashboard", claims.Subject)
}

func TestVerifyBearer_RejectsBadHeaders(t *testing.T) {
	_, pub := generateTestKeys(t)
	v := &RS256Verifier{PubKey: pub}

	for _, h := range []string{"", "   ", "sometoken", "Bearer", "Bearer   "} {
		_, err := v.VerifyBearer(h)
		assert.ErrorIs(t, err, ErrNoBearerToken, "header %q", h)
	}
}

func TestVerifyBearer_RejectsExpiredToken(t *testing.T) {
	priv, pub := generateTestKeys(t)
	v := &RS256Verifier{PubKey: pub, Aud: "whale-watch", Iss: "whale-auth"}

	token := signTestToken(t, priv, "ops", "whale-watch", "whale-auth", -time.Hour)

	_, err := v.VerifyBearer("Bearer " + token)
	assert.Error(t, err)
}

func TestVerifyBearer_RejectsWrongAudienceAndIssuer(t *testing.T) {
	priv, pub := generateTestKeys(t)

	t.Run("wrong audience", func(t *testing.T) {
		v := &RS256Verifier{PubKey: pub, Aud: "whale-watch"}
		token := signTestToken(t, priv, "ops", "some-other-service", "", time.Hour)
		_, err := v.VerifyBearer("Bearer " + token)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		v := &RS256Verifier{PubKey: pub, Iss: "whale-auth"}
		token := signTestToken(t, priv, "ops", "", "rogue-issuer", time.Hour)
		_, err := v.VerifyBearer("Bearer " + token)
		assert.Error(t, err)
	})
}

func TestVerifyBearer_RejectsWrongSignature(t *testing.T) {
	priv, _ := generateTestKeys(t)
	_, otherPub := generateTestKeys(t)
	v := &RS256Verifier{PubKey: otherPub}

	token := signTestToken(t, priv, "ops", "", "", time.Hour)

	_, err := v.VerifyBearer("Bearer " + token)
	assert.Error(t, err)
}
