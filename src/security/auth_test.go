package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/config"
)

const testSecret = "test-secret-key-of-sufficient-length!"

func setupConfig(t *testing.T) {
	t.Helper()
	orig := config.Cfg
	config.Cfg = &config.AppConfig{AccessTokenExpiry: time.Hour}
	t.Cleanup(func() { config.Cfg = orig })
}

func TestGenerateAndValidateToken(t *testing.T) {
	setupConfig(t)
	svc := NewAuthService(testSecret)

	token, err := svc.GenerateToken("dashboard")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	subject, err := svc.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "dashboard", subject)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	setupConfig(t)
	token, err := NewAuthService(testSecret).GenerateToken("dashboard")
	require.NoError(t, err)

	_, err = NewAuthService("a-completely-different-secret-value").ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	setupConfig(t)
	claims := jwt.MapClaims{
		"sub": "dashboard",
		"exp": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewAuthService(testSecret).ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsMissingSubject(t *testing.T) {
	setupConfig(t)
	claims := jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewAuthService(testSecret).ValidateToken(token)
	require.Error(t, err)
}

func TestGenerateTokenRequiresConfig(t *testing.T) {
	orig := config.Cfg
	config.Cfg = nil
	t.Cleanup(func() { config.Cfg = orig })

	_, err := NewAuthService(testSecret).GenerateToken("dashboard")
	require.Error(t, err)
}
