// Package balance talks to the external account service that owns user balances.
// It performs no business validation and never retries.
package balance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound    = errors.New("balance not found")
	ErrUnavailable = errors.New("balance authority unavailable")
)

// RejectedError is returned when the authority refuses an update.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("balance update rejected (%d): %s", e.StatusCode, e.Reason)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type balanceResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

type updateRequest struct {
	Balance         json.Number  `json:"balance"`
	ExpectedBalance *json.Number `json:"expected_balance,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// GetBalance reads the current balance of userID.
func (c *Client) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	const op = "balance.GetBalance"

	req, err := c.newRequest(ctx, http.MethodGet, userID, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w: %s", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Zero, fmt.Errorf("%s: %w: user %s", op, ErrNotFound, userID)
	default:
		return decimal.Zero, fmt.Errorf("%s: %w: status %d", op, ErrUnavailable, resp.StatusCode)
	}

	var body balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w: decode: %s", op, ErrUnavailable, err)
	}

	return body.Balance, nil
}

// UpdateBalance sets the balance of userID to newAmount. When expected is not nil the
// authority is asked to apply the write only if the stored balance still equals it.
func (c *Client) UpdateBalance(ctx context.Context, userID string, newAmount decimal.Decimal, expected *decimal.Decimal) error {
	const op = "balance.UpdateBalance"

	payload := updateRequest{Balance: json.Number(newAmount.String())}
	if expected != nil {
		n := json.Number(expected.String())
		payload.ExpectedBalance = &n
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, userID, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: user %s", op, ErrNotFound, userID)
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w", op, &RejectedError{StatusCode: resp.StatusCode, Reason: readReason(resp.Body)})
	default:
		return fmt.Errorf("%s: %w: status %d", op, ErrUnavailable, resp.StatusCode)
	}
}

func (c *Client) newRequest(ctx context.Context, method, userID string, body io.Reader) (*http.Request, error) {
	endpoint := c.baseURL + "/users/" + url.PathEscape(userID) + "/balance"
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func readReason(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no reason given"
	}
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
