package utils

import (
    "testing"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestNewAccessToken(t *testing.T) {
    tok, err := NewAccessToken("s3cret", "ops", "ADMIN", 15)
    require.NoError(t, err)
    assert.WithinDuration(t, time.Now().Add(15*time.Minute), tok.Exp, 5*time.Second)

    parsed, err := jwt.Parse(tok.Token, func(*jwt.Token) (interface{}, error) {
        return []byte("s3cret"), nil
    }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
    require.NoError(t, err)
    claims := parsed.Claims.(jwt.MapClaims)
    assert.Equal(t, "ops", claims["sub"])
    assert.Equal(t, "ADMIN", claims["role"])
}

func TestNewAccessTokenEmptySecret(t *testing.T) {
    _, err := NewAccessToken("", "ops", "ADMIN", 15)
    assert.Error(t, err)
}

func TestNewAccessTokenClampsTTL(t *testing.T) {
    tok, err := NewAccessToken("s3cret", "ops", "ADMIN", 0)
    require.NoError(t, err)
    assert.True(t, tok.Exp.After(time.Now()))
}
