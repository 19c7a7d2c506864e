package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway-go/internal/config"
	apperrors "github.com/openclaw/wa-gateway-go/internal/errors"
	"github.com/openclaw/wa-gateway-go/internal/model"
	"github.com/openclaw/wa-gateway-go/internal/repository"
	"github.com/openclaw/wa-gateway-go/internal/session"
)

// SessionStarter is the slice of the session controller the reconciler needs.
type SessionStarter interface {
	StartSession(ctx context.Context, accountID, displayName string, opts session.StartOptions) (*session.StartResult, error)
	ReconnectPending(accountID string) bool
}

// OrphanReconciler sweeps durable records that claim to be connected but have
// no runtime session behind them, which happens after a process restart or a
// crash mid-teardown. An orphan is only adopted when every condition holds:
// the record says connected, no session exists in the registry, no reconnect
// is already scheduled, the record does not independently show a valid paired
// identity, and the durable heartbeat is stale past the threshold. A fresh
// heartbeat means another replica may own the session.
type OrphanReconciler struct {
	accounts repository.AccountRepository
	registry *session.Registry
	starter  SessionStarter
	interval time.Duration
	done     chan struct{}
}

func NewOrphanReconciler(accounts repository.AccountRepository, registry *session.Registry, starter SessionStarter, interval time.Duration) *OrphanReconciler {
	return &OrphanReconciler{
		accounts: accounts,
		registry: registry,
		starter:  starter,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (r *OrphanReconciler) Start() {
	go r.run()
	log.Info().Dur("interval", r.interval).Msg("orphan reconciler started")
}

func (r *OrphanReconciler) Stop() {
	close(r.done)
	log.Info().Msg("orphan reconciler stopped")
}

func (r *OrphanReconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *OrphanReconciler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts, err := r.accounts.FindConnected(ctx)
	if err != nil {
		log.Error().Err(err).Msg("orphan sweep query failed")
		return
	}

	adopted := 0
	for i := range accounts {
		if r.adopt(&accounts[i]) {
			adopted++
		}
	}
	if adopted > 0 {
		log.Info().Int("count", adopted).Msg("orphaned sessions adopted")
	}
}

func (r *OrphanReconciler) adopt(account *model.Account) bool {
	if r.registry.Get(account.ID) != nil {
		return false
	}
	if r.starter.ReconnectPending(account.ID) {
		return false
	}
	if account.HasValidIdentity() {
		return false
	}
	if account.LastSeenAt != nil && time.Since(*account.LastSeenAt) < config.OrphanStaleThreshold {
		return false
	}

	log.Info().
		Str("accountId", account.ID).
		Msg("connected record has no live session, reconnecting")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, err := r.starter.StartSession(ctx, account.ID, account.DisplayName, session.StartOptions{
		Source:         model.TriggerAuto,
		OrganizationID: account.OrganizationID,
	})
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeSessionActive) {
			return false
		}
		log.Error().Err(err).Str("accountId", account.ID).Msg("orphan adoption failed")
		return false
	}
	return true
}
