package model

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxStatusNew       OutboxStatus = "NEW"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// IsTerminal reports whether an entry in this status can no longer change.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxStatusPublished || s == OutboxStatusFailed
}

func (s OutboxStatus) Valid() bool {
	switch s {
	case OutboxStatusNew, OutboxStatusPublished, OutboxStatusFailed:
		return true
	}
	return false
}

type OutboxEntry struct {
	ID          string          `json:"id"`
	MessageType string          `json:"message_type"`
	MessageKey  string          `json:"message_key"`
	Status      OutboxStatus    `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Version     int64           `json:"version"`
}

type OutboxFilter struct {
	Status OutboxStatus `json:"status"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// NewOutboxEntry builds a NEW entry for the given message.
func NewOutboxEntry(messageType, messageKey string, payload json.RawMessage) OutboxEntry {
	return OutboxEntry{
		ID:          GenerateUUIDWithSuffix("obx"),
		MessageType: messageType,
		MessageKey:  messageKey,
		Status:      OutboxStatusNew,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
}
