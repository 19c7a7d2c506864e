package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/wa-gateway-go/internal/model"
)

type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Account, error)
	// FindConnected returns accounts whose durable status is connected,
	// the orphan reconciler's sweep set.
	FindConnected(ctx context.Context) ([]model.Account, error)
	Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error)
	UpdateStatus(ctx context.Context, id string, params model.UpdateAccountStatusParams) error
	// TouchLastSeen writes the durable heartbeat timestamp.
	TouchLastSeen(ctx context.Context, id string) error
	// ClearIdentity purges the paired identity and credentials flag, done
	// alongside a provider credential purge so the durable record cannot
	// claim a pairing that no longer exists.
	ClearIdentity(ctx context.Context, id string) error
}

type accountRepo struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `SELECT * FROM accounts WHERE id = $1`, id)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts
		WHERE relay_token_hash = $1 AND disabled_at IS NULL
	`, tokenHash)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindConnected(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		WHERE status = 'connected' AND disabled_at IS NULL
		ORDER BY last_seen_at ASC NULLS FIRST
	`)
	return accounts, err
}

func (r *accountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		INSERT INTO accounts (organization_id, display_name, relay_token_hash, rate_limit_per_minute, status)
		VALUES ($1, $2, $3, $4, 'disconnected')
		RETURNING *
	`, params.OrganizationID, params.DisplayName, params.RelayTokenHash, params.RateLimitPerMin)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) UpdateStatus(ctx context.Context, id string, params model.UpdateAccountStatusParams) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			status = $2,
			provider_identity = COALESCE($3, provider_identity),
			has_credentials = COALESCE($4, has_credentials),
			updated_at = $5
		WHERE id = $1
	`, id, params.Status, params.ProviderIdentity, params.HasCredentials, time.Now())
	return err
}

func (r *accountRepo) TouchLastSeen(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET last_seen_at = $2, updated_at = $2 WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *accountRepo) ClearIdentity(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			provider_identity = NULL,
			has_credentials = FALSE,
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}
