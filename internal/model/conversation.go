package model

import (
	"time"
)

// Conversation maps a remote chat identity to a logical conversation scoped to
// (remote identity, assigned owner, tenant). The ingestion pipeline prefers an
// existing row in that scope over creating a duplicate.
type Conversation struct {
	ID              string     `db:"id" json:"id"`
	ConversationKey string     `db:"conversation_key" json:"conversationKey"`
	AccountID       string     `db:"account_id" json:"accountId"`
	OrganizationID  string     `db:"organization_id" json:"organizationId"`
	RemoteIdentity  string     `db:"remote_identity" json:"remoteIdentity"`
	DisplayName     *string    `db:"display_name" json:"displayName,omitempty"`
	AssignedUserID  *string    `db:"assigned_user_id" json:"assignedUserId,omitempty"`
	IsGroup         bool       `db:"is_group" json:"isGroup"`
	FirstSeenAt     time.Time  `db:"first_seen_at" json:"firstSeenAt"`
	LastMessageAt   *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
}

type UpsertConversationParams struct {
	ConversationKey string
	AccountID       string
	OrganizationID  string
	RemoteIdentity  string
	DisplayName     *string
	AssignedUserID  *string
	IsGroup         bool
}
