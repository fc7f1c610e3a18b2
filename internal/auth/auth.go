// Package auth checks receiver credentials. A request authenticates with the
// shared API key itself or with a short-lived HS256 token signed by it.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

var ErrTokenExpired = errors.New("token expired")

// Claims carries the standard claims plus the sender's identifier.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"cid,omitempty"`
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, bool) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(bearerPrefix):])
	return tok, tok != ""
}

// CheckAPIKey compares in constant time.
func CheckAPIKey(presented, apiKey string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) == 1
}

func GenerateToken(clientID string, apiKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		ClientID: clientID,
	})
	return token.SignedString(apiKey)
}

// ParseToken validates a signed token and returns its client id.
func ParseToken(tokenString string, apiKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return apiKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", ErrTokenExpired
	}
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	return claims.ClientID, nil
}

// Authenticate accepts the Authorization header value when it carries the
// API key or a valid token signed with it. Failures wrap
// common.ErrAuthentication.
func Authenticate(header, apiKey string) error {
	cred, ok := BearerToken(header)
	if !ok {
		return fmt.Errorf("%w: missing bearer credential", common.ErrAuthentication)
	}
	if CheckAPIKey(cred, apiKey) {
		return nil
	}
	// only something shaped like a JWT is worth parsing
	if strings.Count(cred, ".") != 2 {
		return fmt.Errorf("%w: invalid credential", common.ErrAuthentication)
	}
	if _, err := ParseToken(cred, []byte(apiKey)); err != nil {
		return fmt.Errorf("%w: %w", common.ErrAuthentication, err)
	}
	return nil
}
