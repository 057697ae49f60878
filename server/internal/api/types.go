package api

import "github.com/collabhub/collabhub/pkg/types"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is "ok", "degraded" or "down".
	State       string  `json:"state"`
	Connections int     `json:"connections"`
	Checks      []Check `json:"checks"`
	CheckedAt   string  `json:"checked_at"` // RFC3339
}

// MessagesResponse is the payload for GET /api/v1/messages.
type MessagesResponse struct {
	Messages []*types.Message `json:"messages"`

	// NextBefore is the before cursor of the next, older page. It is empty
	// on the last page.
	NextBefore string `json:"next_before,omitempty"`
}

// errorResponse is a generic JSON error body. Code uses the same values as
// WebSocket error events.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
