// Package auth resolves bearer credentials into caller identities.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
)

var (
	// ErrInvalidToken is returned for malformed, expired or badly signed credentials.
	ErrInvalidToken = errors.New("invalid token")
	// ErrVerifierUnavailable is returned when a remote identity service cannot answer.
	ErrVerifierUnavailable = errors.New("identity service unavailable")
)

// Verifier validates an opaque bearer credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (models.Identity, error)
}

// BearerToken extracts the credential from r. The raw "token" header is accepted as a fallback.
func BearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.Header.Get("token"); token != "" {
		return token, true
	}
	return "", false
}
