package models

// Identity is the caller resolved from a bearer token. It lives for one request.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}
