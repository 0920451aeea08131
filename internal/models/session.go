package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cookie mirrors the cookie entries of a browser storage-state snapshot
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // Unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// StorageEntry is one localStorage key/value pair
type StorageEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OriginStorage holds the localStorage of one origin
type OriginStorage struct {
	Origin       string         `json:"origin"`
	LocalStorage []StorageEntry `json:"localStorage"`
}

// SessionState is the serializable browser state: cookies plus per-origin storage
type SessionState struct {
	Cookies []Cookie        `json:"cookies"`
	Origins []OriginStorage `json:"origins"`
}

// SessionArtifact is the result of one successful login run
type SessionArtifact struct {
	State   SessionState    `json:"state"`
	Balance decimal.Decimal `json:"balance"`
	RawText string          `json:"raw_balance_text,omitempty"`
}

// Marshal serializes the session state for Device.SessionData
func (s SessionState) Marshal() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session state: %w", err)
	}
	return string(data), nil
}

// ParseSessionState decodes Device.SessionData
func ParseSessionState(data string) (*SessionState, error) {
	var state SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("session data is corrupted: %w", err)
	}
	return &state, nil
}
