package utils // package utils provides helpers for issuing admin tokens

import (
    "errors"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed JWT together with its expiry.
type AccessToken struct {
    Token string
    Exp   time.Time
}

// NewAccessToken signs an HS256 JWT for subject with the given role that
// expires after ttlMin minutes.  The claims (sub, role, exp, iat) are the
// ones middleware.JWTAuth reads.
func NewAccessToken(secret, subject, role string, ttlMin int) (AccessToken, error) {
    if secret == "" {
        return AccessToken{}, errors.New("empty signing secret")
    }
    if ttlMin < 1 {
        ttlMin = 1
    }
    now := time.Now().UTC()
    exp := now.Add(time.Duration(ttlMin) * time.Minute)
    claims := jwt.MapClaims{
        "sub":  subject,
        "role": role,
        "exp":  exp.Unix(),
        "iat":  now.Unix(),
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}
