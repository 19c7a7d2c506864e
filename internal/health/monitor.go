package health

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway-go/internal/config"
	"github.com/openclaw/wa-gateway-go/internal/provider"
	"github.com/openclaw/wa-gateway-go/internal/repository"
	"github.com/openclaw/wa-gateway-go/internal/session"
)

// DisconnectHandler is the slice of the session controller the monitor needs.
type DisconnectHandler interface {
	HandleDisconnect(ctx context.Context, accountID string, reason provider.DisconnectReason)
}

// Monitor periodically probes every connected session. A probe success
// refreshes the in-memory heartbeat and occasionally the durable last-seen
// timestamp; consecutive failures past the threshold classify the session as
// failed and hand it to the disconnect path. A single failed probe never
// tears anything down.
type Monitor struct {
	registry *session.Registry
	accounts repository.AccountRepository
	handler  DisconnectHandler
	interval time.Duration
	done     chan struct{}
}

func NewMonitor(registry *session.Registry, accounts repository.AccountRepository, handler DisconnectHandler, interval time.Duration) *Monitor {
	return &Monitor{
		registry: registry,
		accounts: accounts,
		handler:  handler,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	go m.run()
	log.Info().Dur("interval", m.interval).Msg("health monitor started")
}

func (m *Monitor) Stop() {
	close(m.done)
	log.Info().Msg("health monitor stopped")
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	for _, sess := range m.registry.All() {
		if !sess.Connected() {
			continue
		}
		m.check(sess)
	}
}

func (m *Monitor) check(sess *session.Session) {
	res := sess.Resource()
	if res == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ProbeTimeout)
	alive, err := res.Probe(ctx)
	cancel()

	if err == nil && alive {
		if sess.MarkHeartbeat(config.HeartbeatWriteInterval) {
			wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Second)
			if terr := m.accounts.TouchLastSeen(wctx, sess.AccountID); terr != nil {
				log.Error().Err(terr).Str("accountId", sess.AccountID).Msg("failed to write heartbeat")
			}
			wcancel()
		}
		return
	}

	failures := sess.MarkHealthFailure()
	log.Warn().Err(err).
		Str("accountId", sess.AccountID).
		Int("consecutiveFailures", failures).
		Msg("health probe failed")

	if failures < config.HealthFailureThreshold {
		return
	}

	hctx, hcancel := context.WithTimeout(context.Background(), 30*time.Second)
	m.handler.HandleDisconnect(hctx, sess.AccountID, provider.ReasonHealthCheckFailed)
	hcancel()
}
