package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// UserIdentityExpiration defines the lifetime of a user identity token.
	UserIdentityExpiration = 24 * time.Hour

	// TokenIssuer identifies the issuer of the token.
	TokenIssuer = "Messenger-Relay"
)

// ErrTokenExpired is returned by Inspect for a token whose expiry has passed.
var ErrTokenExpired = errors.New("token expired")

// GenerateToken creates and signs a new JWT Token string based on the provided Payload struct.
func GenerateToken(payload *Payload, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload.StandardClaims = jwt.StandardClaims{
		ExpiresAt: now.Add(duration).Unix(),
		IssuedAt:  now.Unix(),
		Issuer:    TokenIssuer,
		Subject:   payload.Username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseToken parses and validates the JWT Token string using the provided secretKey.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	if claims.Username == "" {
		return nil, errors.New("token carries no username")
	}

	return claims, nil
}

// Inspect decodes a token without verifying its signature. The client uses it to learn the
// identity and expiry of the token it was handed at login; it must never be used to authorize.
func Inspect(tokenString string) (*Payload, error) {
	claims := &Payload{}

	parser := &jwt.Parser{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, err
	}

	if claims.Username == "" {
		return nil, errors.New("token carries no username")
	}

	if claims.ExpiresAt != 0 && time.Now().Unix() > claims.ExpiresAt {
		return claims, ErrTokenExpired
	}

	return claims, nil
}

// ExpiresAtTime returns the expiry of p as a time.Time, or the zero time if it has none.
func (p *Payload) ExpiresAtTime() time.Time {
	if p.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(p.ExpiresAt, 0)
}
