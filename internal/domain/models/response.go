package models

// CachedResponse is a stored reply to a request carrying an idempotency key.
type CachedResponse struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}
