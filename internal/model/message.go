package model

import (
	"encoding/json"
	"time"
)

// Message is the canonical, provider-agnostic representation of one chat
// message. ProviderMessageID is unique per (conversation, direction); a second
// event carrying the same id updates the first row in place.
type Message struct {
	ID                string           `db:"id" json:"id"`
	AccountID         string           `db:"account_id" json:"accountId"`
	ConversationKey   string           `db:"conversation_key" json:"conversationKey"`
	ProviderMessageID string           `db:"provider_message_id" json:"providerMessageId"`
	Direction         Direction        `db:"direction" json:"direction"`
	SenderIdentity    string           `db:"sender_identity" json:"senderIdentity"`
	ContentType       ContentType      `db:"content_type" json:"contentType"`
	TextContent       string           `db:"text_content" json:"textContent"`
	Media             *MediaDescriptor `db:"-" json:"media,omitempty"`
	MediaJSON         *json.RawMessage `db:"media" json:"-"`
	Status            MessageStatus    `db:"status" json:"status"`
	Timestamp         time.Time        `db:"message_timestamp" json:"timestamp"`
	RawPayload        json.RawMessage  `db:"raw_payload" json:"rawPayload,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updatedAt"`
}

type CreateMessageParams struct {
	AccountID         string
	ConversationKey   string
	ProviderMessageID string
	Direction         Direction
	SenderIdentity    string
	ContentType       ContentType
	TextContent       string
	Media             *MediaDescriptor
	Status            MessageStatus
	Timestamp         time.Time
	RawPayload        json.RawMessage
}

type UpdateMessageParams struct {
	// ProviderMessageID is set when a provider echo supplies the real id for
	// a row stored optimistically without one.
	ProviderMessageID *string
	TextContent       *string
	ContentType       *ContentType
	Media             *MediaDescriptor
	Status            *MessageStatus
	RawPayload        json.RawMessage
}
