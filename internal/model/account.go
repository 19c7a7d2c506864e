package model

import (
	"time"
)

// Account is the durable record for one messaging account. Status and identity
// here are the "durable record" signals consulted by the lifecycle controller
// and the orphan reconciler; the in-memory session is the runtime view.
type Account struct {
	ID               string        `db:"id" json:"id"`
	OrganizationID   string        `db:"organization_id" json:"organizationId"`
	DisplayName      string        `db:"display_name" json:"displayName"`
	Status           AccountStatus `db:"status" json:"status"`
	ProviderIdentity *string       `db:"provider_identity" json:"providerIdentity,omitempty"`
	HasCredentials   bool          `db:"has_credentials" json:"hasCredentials"`
	NotifyEmail      *string       `db:"notify_email" json:"notifyEmail,omitempty"`
	RelayTokenHash   *string       `db:"relay_token_hash" json:"-"`
	RateLimitPerMin  int           `db:"rate_limit_per_minute" json:"rateLimitPerMinute"`
	LastSeenAt       *time.Time    `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updatedAt"`
	DisabledAt       *time.Time    `db:"disabled_at" json:"disabledAt,omitempty"`
}

// HasValidIdentity reports whether the durable record independently shows a
// connected account with a paired provider identity.
func (a *Account) HasValidIdentity() bool {
	return a.Status == AccountStatusConnected && a.ProviderIdentity != nil && *a.ProviderIdentity != ""
}

type CreateAccountParams struct {
	OrganizationID  string
	DisplayName     string
	RelayTokenHash  *string
	RateLimitPerMin int
}

type UpdateAccountStatusParams struct {
	Status           AccountStatus
	ProviderIdentity *string
	HasCredentials   *bool
}
