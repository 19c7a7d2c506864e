package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openclaw/wa-gateway-go/internal/model"
)

type MessageRepository interface {
	FindByID(ctx context.Context, id string) (*model.Message, error)
	// FindByProviderID looks up the unique row for
	// (conversationKey, providerMessageID, direction).
	FindByProviderID(ctx context.Context, conversationKey, providerMessageID string, direction model.Direction) (*model.Message, error)
	// FindRecentPending is the dedup fallback: a pending/sending row with the
	// same text in the same conversation, newer than since. Used when a
	// provider echo of a self-sent message carries no matching id.
	FindRecentPending(ctx context.Context, conversationKey, textContent string, since time.Time) (*model.Message, error)
	FindByConversation(ctx context.Context, conversationKey string, limit, offset int) ([]model.Message, error)
	Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error)
	Update(ctx context.Context, id string, params model.UpdateMessageParams) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) MessageRepository
}

// messageDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type messageDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type messageRepo struct {
	db messageDB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) WithTx(tx *sqlx.Tx) MessageRepository {
	return &messageRepo{db: tx}
}

func (r *messageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `SELECT * FROM messages WHERE id = $1`, id)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) FindByProviderID(ctx context.Context, conversationKey, providerMessageID string, direction model.Direction) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		SELECT * FROM messages
		WHERE conversation_key = $1 AND provider_message_id = $2 AND direction = $3
	`, conversationKey, providerMessageID, direction)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) FindRecentPending(ctx context.Context, conversationKey, textContent string, since time.Time) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		SELECT * FROM messages
		WHERE conversation_key = $1
		AND text_content = $2
		AND direction = 'out'
		AND status IN ('pending', 'sending')
		AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`, conversationKey, textContent, since)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) FindByConversation(ctx context.Context, conversationKey string, limit, offset int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE conversation_key = $1
		ORDER BY message_timestamp DESC
		LIMIT $2 OFFSET $3
	`, conversationKey, limit, offset)
	return msgs, err
}

func (r *messageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	mediaJSON, err := marshalMedia(params.Media)
	if err != nil {
		return nil, err
	}

	var msg model.Message
	err = r.db.GetContext(ctx, &msg, `
		INSERT INTO messages (
			id, account_id, conversation_key, provider_message_id, direction,
			sender_identity, content_type, text_content, media, status,
			message_timestamp, raw_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING *
	`, uuid.NewString(), params.AccountID, params.ConversationKey, params.ProviderMessageID,
		params.Direction, params.SenderIdentity, params.ContentType, params.TextContent,
		mediaJSON, params.Status, params.Timestamp, params.RawPayload)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) Update(ctx context.Context, id string, params model.UpdateMessageParams) error {
	mediaJSON, err := marshalMedia(params.Media)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE messages SET
			provider_message_id = COALESCE($2, provider_message_id),
			text_content = COALESCE($3, text_content),
			content_type = COALESCE($4, content_type),
			media = COALESCE($5, media),
			status = COALESCE($6, status),
			raw_payload = COALESCE($7, raw_payload),
			updated_at = $8
		WHERE id = $1
	`, id, params.ProviderMessageID, params.TextContent, params.ContentType, mediaJSON, params.Status, params.RawPayload, time.Now())
	return err
}

func marshalMedia(media *model.MediaDescriptor) (*json.RawMessage, error) {
	if media == nil {
		return nil, nil
	}
	data, err := json.Marshal(media)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(data)
	return &raw, nil
}
