// Package zap implements user automations ("zaps") and escrow agreements.
//
// Both are stored as immutable records. Turning one off appends a
// deactivation record that names the original, and the current state of a
// user's items is a fold over that log.
package zap

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindAutomation Kind = "AUTOMATION"
	KindEscrow     Kind = "ESCROW"
)

type TriggerType string

const (
	TriggerFileUpload    TriggerType = "FILE_UPLOAD"
	TriggerEmailReceived TriggerType = "EMAIL_RECEIVED"
)

type ActionType string

const (
	ActionShareFile ActionType = "SHARE_FILE"
	ActionSendEmail ActionType = "SEND_EMAIL"
)

type Filter struct {
	FileNameContains string `json:"fileNameContains,omitempty"`
	FromAddress      string `json:"fromAddress,omitempty"`
}

type Trigger struct {
	Type   TriggerType `json:"type"`
	Filter Filter      `json:"filter"`
}

type Params struct {
	FileID    string `json:"fileId,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	ShareWith string `json:"shareWith,omitempty"`
	To        string `json:"to,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body,omitempty"`
}

type Action struct {
	Type   ActionType `json:"type"`
	Params Params     `json:"params"`
}

// Zap is a trigger → action rule. ID and Owner come from the record that
// stores it, not from the payload.
type Zap struct {
	ID        string    `json:"irysTxId,omitempty"`
	Owner     string    `json:"owner,omitempty"`
	Type      Kind      `json:"type"`
	Version   string    `json:"version,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	Trigger   Trigger   `json:"trigger"`
	Action    Action    `json:"action"`
}

const zapVersion = "1.9"

// DecodeZap parses a stored automation. A payload without isActive counts
// as active.
func DecodeZap(data []byte) (Zap, error) {
	z := Zap{IsActive: true}
	if err := json.Unmarshal(data, &z); err != nil {
		return Zap{}, fmt.Errorf("decode zap: %w", err)
	}
	if z.Type == "" {
		z.Type = KindAutomation
	}
	if z.Type != KindAutomation {
		return Zap{}, fmt.Errorf("decode zap: unexpected type %q", z.Type)
	}
	return z, nil
}
