package auth

import (
	"errors"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// ErrMissingToken indicates the request carried no bearer token.
var ErrMissingToken = errors.New("auth: bearer token required")

// TokenValidator validates ingest tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (IngestClaims, error)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// ValidateRequest extracts the bearer token from r and validates it.
func ValidateRequest(validator TokenValidator, r *http.Request) (IngestClaims, error) {
	token, err := BearerToken(r)
	if err != nil {
		return IngestClaims{}, err
	}
	return validator.ValidateToken(token)
}
