package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/wa-gateway-go/internal/model"
)

type ConversationRepository interface {
	FindByKey(ctx context.Context, conversationKey string) (*model.Conversation, error)
	// FindPreferred resolves the logical conversation for a remote identity
	// within (account, tenant) scope, preferring rows with an assigned owner
	// and most recent activity, so an inbound message never forks a duplicate
	// conversation.
	FindPreferred(ctx context.Context, organizationID, accountID, remoteIdentity string) (*model.Conversation, error)
	Upsert(ctx context.Context, params model.UpsertConversationParams) (*model.Conversation, error)
	UpdateDisplayName(ctx context.Context, id string, displayName string) error
	TouchLastMessage(ctx context.Context, id string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ConversationRepository
}

// conversationDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type conversationDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type conversationRepo struct {
	db conversationDB
}

func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) WithTx(tx *sqlx.Tx) ConversationRepository {
	return &conversationRepo{db: tx}
}

func (r *conversationRepo) FindByKey(ctx context.Context, conversationKey string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversations WHERE conversation_key = $1
	`, conversationKey)
	return HandleNotFound(&conv, err)
}

func (r *conversationRepo) FindPreferred(ctx context.Context, organizationID, accountID, remoteIdentity string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversations
		WHERE organization_id = $1 AND account_id = $2 AND remote_identity = $3
		ORDER BY (assigned_user_id IS NOT NULL) DESC, last_message_at DESC NULLS LAST
		LIMIT 1
	`, organizationID, accountID, remoteIdentity)
	return HandleNotFound(&conv, err)
}

func (r *conversationRepo) Upsert(ctx context.Context, params model.UpsertConversationParams) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		INSERT INTO conversations (
			conversation_key, account_id, organization_id, remote_identity,
			display_name, assigned_user_id, is_group
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversation_key) DO UPDATE SET
			display_name = COALESCE(EXCLUDED.display_name, conversations.display_name)
		RETURNING *
	`, params.ConversationKey, params.AccountID, params.OrganizationID,
		params.RemoteIdentity, params.DisplayName, params.AssignedUserID, params.IsGroup)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepo) UpdateDisplayName(ctx context.Context, id string, displayName string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET display_name = $2 WHERE id = $1
	`, id, displayName)
	return err
}

func (r *conversationRepo) TouchLastMessage(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = $2 WHERE id = $1
	`, id, time.Now())
	return err
}
