package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
)

// RemoteVerifier delegates the check to the identity service's GET /users/me.
type RemoteVerifier struct {
	baseURL string
	client  *http.Client
}

func NewRemoteVerifier(baseURL string, timeout time.Duration) *RemoteVerifier {
	return &RemoteVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type meResponse struct {
	UserID   string `json:"user_id"`
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (models.Identity, error) {
	const op = "auth.RemoteVerifier.Verify"

	if token == "" {
		return models.Identity{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/users/me", nil)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w: %s", op, ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.Identity{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	default:
		return models.Identity{}, fmt.Errorf("%s: %w: status %d", op, ErrVerifierUnavailable, resp.StatusCode)
	}

	var me meResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w: %s", op, ErrVerifierUnavailable, err)
	}

	userID := me.UserID
	if userID == "" {
		userID = me.ID
	}
	if userID == "" {
		return models.Identity{}, fmt.Errorf("%s: %w: empty user id", op, ErrInvalidToken)
	}

	return models.Identity{UserID: userID, Username: me.Username}, nil
}
