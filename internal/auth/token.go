package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "go-chat-client/internal/errors"
)

// Claims are the token claims the client cares about. Verification happens
// server-side at the handshake; the client only inspects the payload to learn
// its own identity and to avoid dialing with a credential the server is
// guaranteed to reject.
type Claims struct {
	jwt.RegisteredClaims
	GivenName string `json:"given_name"`
	Email     string `json:"email"`
	Picture   string `json:"picture"`
}

// Inspect decodes a token without verifying its signature.
func Inspect(token string) (*Claims, error) {
	if token == "" {
		return nil, apperrors.New(apperrors.CodeAuth, "no token configured")
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAuth, err, "malformed token")
	}
	return claims, nil
}

// CheckExpiry returns an auth error when the token is missing or already
// expired. Used before every dial so an expired credential forces re-login
// instead of a reconnect loop the server will never accept.
func CheckExpiry(token string, now time.Time) error {
	claims, err := Inspect(token)
	if err != nil {
		return err
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return apperrors.New(apperrors.CodeAuth, "token expired at %s", claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return nil
}

// UserID extracts the subject claim, the local user's id.
func UserID(token string) (string, error) {
	claims, err := Inspect(token)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", apperrors.New(apperrors.CodeAuth, "token has no subject")
	}
	return claims.Subject, nil
}
