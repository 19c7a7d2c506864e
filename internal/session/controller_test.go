package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-gateway-go/internal/config"
	apperrors "github.com/openclaw/wa-gateway-go/internal/errors"
	"github.com/openclaw/wa-gateway-go/internal/ingest"
	"github.com/openclaw/wa-gateway-go/internal/media"
	"github.com/openclaw/wa-gateway-go/internal/model"
	"github.com/openclaw/wa-gateway-go/internal/notify"
	"github.com/openclaw/wa-gateway-go/internal/provider"
	"github.com/openclaw/wa-gateway-go/internal/provider/providertest"
	"github.com/openclaw/wa-gateway-go/internal/qr"
	"github.com/openclaw/wa-gateway-go/internal/repository"
	"github.com/openclaw/wa-gateway-go/internal/scheduler"
)

type statusWrite struct {
	accountID string
	params    model.UpdateAccountStatusParams
}

type mockAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	writes   []statusWrite
	touched  []string
	cleared  []string
}

func newMockAccountRepo() *mockAccountRepo {
	return &mockAccountRepo{accounts: make(map[string]*model.Account)}
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id], nil
}

func (m *mockAccountRepo) FindByTokenHash(ctx context.Context, hash string) (*model.Account, error) {
	return nil, nil
}

func (m *mockAccountRepo) FindConnected(ctx context.Context) ([]model.Account, error) {
	return nil, nil
}

func (m *mockAccountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	return nil, nil
}

func (m *mockAccountRepo) UpdateStatus(ctx context.Context, id string, params model.UpdateAccountStatusParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, statusWrite{accountID: id, params: params})
	if acc, ok := m.accounts[id]; ok {
		acc.Status = params.Status
		if params.ProviderIdentity != nil {
			acc.ProviderIdentity = params.ProviderIdentity
		}
	}
	return nil
}

func (m *mockAccountRepo) TouchLastSeen(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, id)
	return nil
}

func (m *mockAccountRepo) ClearIdentity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, id)
	return nil
}

func (m *mockAccountRepo) seed(acc *model.Account) {
	m.mu.Lock()
	m.accounts[acc.ID] = acc
	m.mu.Unlock()
}

func (m *mockAccountRepo) lastWrite() *statusWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) == 0 {
		return nil
	}
	w := m.writes[len(m.writes)-1]
	return &w
}

func (m *mockAccountRepo) clearedIdentities() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cleared...)
}

type busRecord struct {
	channel string
	target  string
	event   notify.Event
}

type busRecorder struct {
	mu     sync.Mutex
	events []busRecord
}

func (b *busRecorder) PublishUser(ctx context.Context, userID string, ev notify.Event) error {
	b.mu.Lock()
	b.events = append(b.events, busRecord{channel: "user", target: userID, event: ev})
	b.mu.Unlock()
	return nil
}

func (b *busRecorder) PublishOrg(ctx context.Context, orgID string, ev notify.Event) error {
	b.mu.Lock()
	b.events = append(b.events, busRecord{channel: "org", target: orgID, event: ev})
	b.mu.Unlock()
	return nil
}

func (b *busRecorder) byType(eventType string) []busRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []busRecord
	for _, rec := range b.events {
		if rec.event.Type == eventType {
			out = append(out, rec)
		}
	}
	return out
}

// Minimal persistence stubs so the pipeline wired into the controller can
// store the optimistic outbound row during SendText.

type stubConvRepo struct{}

func (stubConvRepo) FindByKey(ctx context.Context, key string) (*model.Conversation, error) {
	return nil, nil
}
func (stubConvRepo) FindPreferred(ctx context.Context, orgID, accountID, remote string) (*model.Conversation, error) {
	return nil, nil
}
func (stubConvRepo) Upsert(ctx context.Context, params model.UpsertConversationParams) (*model.Conversation, error) {
	return &model.Conversation{ID: "conv-1", ConversationKey: params.ConversationKey}, nil
}
func (stubConvRepo) UpdateDisplayName(ctx context.Context, id, name string) error { return nil }
func (stubConvRepo) TouchLastMessage(ctx context.Context, id string) error        { return nil }
func (s stubConvRepo) WithTx(tx *sqlx.Tx) repository.ConversationRepository      { return s }

type stubMsgRepo struct {
	mu      sync.Mutex
	created []model.CreateMessageParams
	updates []model.UpdateMessageParams
}

func (s *stubMsgRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	return nil, nil
}
func (s *stubMsgRepo) FindByProviderID(ctx context.Context, key, pid string, d model.Direction) (*model.Message, error) {
	return nil, nil
}
func (s *stubMsgRepo) FindRecentPending(ctx context.Context, key, text string, since time.Time) (*model.Message, error) {
	return nil, nil
}
func (s *stubMsgRepo) FindByConversation(ctx context.Context, key string, limit, offset int) ([]model.Message, error) {
	return nil, nil
}
func (s *stubMsgRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, params)
	return &model.Message{ID: "local-1", ConversationKey: params.ConversationKey, Status: params.Status}, nil
}
func (s *stubMsgRepo) Update(ctx context.Context, id string, params model.UpdateMessageParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, params)
	return nil
}
func (s *stubMsgRepo) WithTx(tx *sqlx.Tx) repository.MessageRepository { return s }

type controllerFixture struct {
	controller *Controller
	registry   *Registry
	factory    *providertest.StubFactory
	accounts   *mockAccountRepo
	sched      *scheduler.Scheduler
	bus        *busRecorder
	msgs       *stubMsgRepo
}

func newFixture(t *testing.T) *controllerFixture {
	t.Helper()
	cfg := &config.Config{
		QRExpirySeconds:       300,
		ConnectTimeoutSeconds: 180,
		ReconnectBaseSeconds:  30,
		ReconnectCapSeconds:   300,
		ReconnectMaxAttempts:  3,
		MediaDir:              t.TempDir(),
	}
	factory := providertest.NewStubFactory()
	accounts := newMockAccountRepo()
	bus := &busRecorder{}
	sched := scheduler.New(cfg.ReconnectBase(), cfg.ReconnectCap(), cfg.ReconnectMaxAttempts)
	msgs := &stubMsgRepo{}
	pipeline := ingest.NewPipeline(stubConvRepo{}, msgs, media.NewResolver(cfg.MediaDir), bus, nil)
	registry := NewRegistry()

	c := NewController(cfg, registry, factory, accounts, sched, qr.NewBroker(bus, cfg.QRExpiry()), pipeline, bus, nil)
	t.Cleanup(func() { c.Close(context.Background()) })

	return &controllerFixture{
		controller: c,
		registry:   registry,
		factory:    factory,
		accounts:   accounts,
		sched:      sched,
		bus:        bus,
		msgs:       msgs,
	}
}

func (f *controllerFixture) seedAccount(id string) *model.Account {
	acc := &model.Account{
		ID:             id,
		OrganizationID: "org-1",
		DisplayName:    "Test Account",
		Status:         model.AccountStatusDisconnected,
	}
	f.accounts.seed(acc)
	return acc
}

func autoStart() StartOptions {
	return StartOptions{Source: model.TriggerAuto}
}

func TestStartSession(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects empty account id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.controller.StartSession(ctx, "", "", autoStart())
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingRequired))
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.controller.StartSession(ctx, "ghost", "", autoStart())
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("auto start short-circuits on durable identity", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedAccount("acc-1")
		jid := "5511900000000@c.us"
		acc.Status = model.AccountStatusConnected
		acc.ProviderIdentity = &jid

		res, err := f.controller.StartSession(ctx, "acc-1", "", autoStart())

		require.NoError(t, err)
		assert.True(t, res.AlreadyConnected)
		assert.Empty(t, f.factory.CreatedIDs())
	})

	t.Run("auto start short-circuits on live in-memory session", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccount("acc-1")
		sess := newSession("acc-1", "org-1", "Test", model.TriggerAuto, "")
		sess.setStatus(model.SessionStatusConnected)
		f.registry.PutIfAbsent(sess)

		res, err := f.controller.StartSession(ctx, "acc-1", "", autoStart())

		require.NoError(t, err)
		assert.True(t, res.AlreadyConnected)
		assert.Empty(t, f.factory.CreatedIDs())
	})

	t.Run("concurrent start conflicts on the registry", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccount("acc-1")
		sess := newSession("acc-1", "org-1", "Test", model.TriggerAuto, "")
		sess.setStatus(model.SessionStatusConnecting)
		f.registry.PutIfAbsent(sess)

		_, err := f.controller.StartSession(ctx, "acc-1", "", autoStart())
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSessionActive))
	})

	t.Run("happy path creates resource and connects", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccount("acc-1")

		res, err := f.controller.StartSession(ctx, "acc-1", "", autoStart())

		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.False(t, res.AlreadyConnected)
		assert.Equal(t, []string{"acc-1"}, f.factory.CreatedIDs())
		assert.Equal(t, 1, f.factory.LastResource().Connects())
		require.NotNil(t, f.registry.Get("acc-1"))
		assert.Equal(t, model.AccountStatusPairing, f.accounts.lastWrite().params.Status)
	})

	t.Run("resource collision falls back to an alternate identifier", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccount("acc-1")
		f.factory.FailCreate("acc-1", provider.ErrAlreadyRunning)

		res, err := f.controller.StartSession(ctx, "acc-1", "", autoStart())

		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, []string{"acc-1", "acc-1-r1"}, f.factory.CreatedIDs())
		assert.Equal(t, "acc-1-r1", f.factory.LastResource().ResourceID())
	})

	t.Run("connect failure tears the session down", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccount("acc-1")
		f.factory.FailConnect(errors.New("engine refused"))

		_, err := f.controller.StartSession(ctx, "acc-1", "", autoStart())

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProviderResource))
		assert.Nil(t, f.registry.Get("acc-1"))
		assert.True(t, f.factory.LastResource().Terminated())
		assert.Equal(t, model.AccountStatusError, f.accounts.lastWrite().params.Status)
	})
}

func TestHandleDisconnect(t *testing.T) {
	ctx := context.Background()

	seedRunning := func(f *controllerFixture, accountID string) (*Session, *providertest.StubResource) {
		f.seedAccount(accountID)
		sess := newSession(accountID, "org-1", "Test", model.TriggerAuto, "")
		sess.setStatus(model.SessionStatusConnected)
		res := providertest.NewStubResource(accountID)
		sess.setResource(res)
		f.registry.PutIfAbsent(sess)
		return sess, res
	}

	t.Run("no session is a no-op", func(t *testing.T) {
		f := newFixture(t)
		f.controller.HandleDisconnect(ctx, "acc-1", provider.ReasonConnectionLost)
		assert.Nil(t, f.accounts.lastWrite())
	})

	t.Run("retryable loss schedules a backoff retry", func(t *testing.T) {
		f := newFixture(t)
		_, res := seedRunning(f, "acc-1")

		f.controller.HandleDisconnect(ctx, "acc-1", provider.ReasonConnectionLost)

		assert.Nil(t, f.registry.Get("acc-1"))
		assert.True(t, res.Terminated())
		assert.Equal(t, model.AccountStatusDisconnected, f.accounts.lastWrite().params.Status)
		assert.True(t, f.controller.ReconnectPending("acc-1"))
		assert.Equal(t, 1, f.sched.AttemptCount("acc-1"))
		require.Len(t, f.bus.byType(notify.EventDisconnected), 1)
	})

	t.Run("revoked pairing purges credentials and goes straight to fresh qr", func(t *testing.T) {
		f := newFixture(t)
		seedRunning(f, "acc-1")

		f.controller.HandleDisconnect(ctx, "acc-1", provider.ReasonAuthRejected)

		assert.Equal(t, []string{"acc-1"}, f.factory.PurgedAccounts())
		assert.Equal(t, []string{"acc-1"}, f.accounts.clearedIdentities())
		assert.True(t, f.controller.ReconnectPending("acc-1"))
		// The backoff counter must not carry into the fresh pairing cycle.
		assert.Equal(t, 0, f.sched.AttemptCount("acc-1"))
	})

	t.Run("rate limit arms the global cooldown", func(t *testing.T) {
		f := newFixture(t)
		seedRunning(f, "acc-1")

		f.controller.HandleDisconnect(ctx, "acc-1", provider.ReasonRateLimited)

		assert.Greater(t, f.sched.CooldownRemaining(), time.Duration(0))
		assert.True(t, f.controller.ReconnectPending("acc-1"))
	})

	t.Run("manual stop never schedules a retry", func(t *testing.T) {
		f := newFixture(t)
		seedRunning(f, "acc-1")

		f.controller.HandleDisconnect(ctx, "acc-1", provider.ReasonManualStop)

		assert.False(t, f.controller.ReconnectPending("acc-1"))
	})
}

func TestConnectedEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("state event promotes the session and persists identity", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccount("acc-1")

		_, err := f.controller.StartSession(ctx, "acc-1", "", autoStart())
		require.NoError(t, err)

		res := f.factory.LastResource()
		require.NotNil(t, res)
		res.SetIdentity(&provider.Identity{JID: "5511900000000@c.us"})
		res.EmitState(provider.StateConnected, provider.ReasonNone)

		sess := f.registry.Get("acc-1")
		require.NotNil(t, sess)
		require.Eventually(t, sess.Connected, 2*time.Second, 10*time.Millisecond)

		require.Eventually(t, func() bool {
			w := f.accounts.lastWrite()
			return w != nil && w.params.Status == model.AccountStatusConnected
		}, 2*time.Second, 10*time.Millisecond)

		w := f.accounts.lastWrite()
		require.NotNil(t, w.params.ProviderIdentity)
		assert.Equal(t, "5511900000000@c.us", *w.params.ProviderIdentity)
		assert.Equal(t, "5511900000000@c.us", sess.SelfIdentity())
		assert.NotEmpty(t, f.bus.byType(notify.EventConnected))
	})

	t.Run("logout event triggers the auth-rejected path", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccount("acc-1")

		_, err := f.controller.StartSession(ctx, "acc-1", "", autoStart())
		require.NoError(t, err)

		f.factory.LastResource().EmitState(provider.StateLoggedOut, provider.ReasonNone)

		require.Eventually(t, func() bool {
			return len(f.factory.PurgedAccounts()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Nil(t, f.registry.Get("acc-1"))
	})

	t.Run("qr event issues a code when delivery is armed", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccount("acc-1")

		_, err := f.controller.StartSession(ctx, "acc-1", "", StartOptions{
			Source:          model.TriggerAuto,
			GenerateQR:      true,
			InitiatorUserID: "user-7",
		})
		require.NoError(t, err)

		f.factory.LastResource().EmitQR("qr-payload-1")

		require.Eventually(t, func() bool {
			return len(f.bus.byType(notify.EventQRIssued)) == 1
		}, 2*time.Second, 10*time.Millisecond)

		sess := f.registry.Get("acc-1")
		require.NotNil(t, sess)
		assert.Equal(t, model.SessionStatusPairing, sess.Status())
		// Auto-triggered pairing goes to the organization channel.
		assert.Equal(t, "org", f.bus.byType(notify.EventQRIssued)[0].channel)
	})

	t.Run("silent reconnect withholds the qr", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccount("acc-1")

		_, err := f.controller.StartSession(ctx, "acc-1", "", autoStart())
		require.NoError(t, err)

		f.factory.LastResource().EmitQR("qr-payload-1")

		sess := f.registry.Get("acc-1")
		require.NotNil(t, sess)
		require.Eventually(t, func() bool {
			return sess.Status() == model.SessionStatusPairing
		}, 2*time.Second, 10*time.Millisecond)
		assert.Empty(t, f.bus.byType(notify.EventQRIssued))
	})
}

func TestStopSession(t *testing.T) {
	ctx := context.Background()

	t.Run("graceful stop releases everything", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccount("acc-1")

		_, err := f.controller.StartSession(ctx, "acc-1", "", autoStart())
		require.NoError(t, err)
		res := f.factory.LastResource()

		require.NoError(t, f.controller.StopSession(ctx, "acc-1"))

		assert.Nil(t, f.registry.Get("acc-1"))
		assert.Equal(t, 1, res.Disconnects())
		assert.True(t, res.Terminated())
		assert.Equal(t, model.AccountStatusDisconnected, f.accounts.lastWrite().params.Status)
		assert.False(t, f.controller.ReconnectPending("acc-1"))
	})

	t.Run("stop without a session still persists disconnected", func(t *testing.T) {
		f := newFixture(t)
		f.seedAccount("acc-1")

		require.NoError(t, f.controller.StopSession(ctx, "acc-1"))
		assert.Equal(t, model.AccountStatusDisconnected, f.accounts.lastWrite().params.Status)
	})
}

func TestQueryStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("runtime session wins", func(t *testing.T) {
		f := newFixture(t)
		sess := newSession("acc-1", "org-1", "Test", model.TriggerAuto, "")
		sess.setStatus(model.SessionStatusPairing)
		f.registry.PutIfAbsent(sess)

		snap, err := f.controller.QueryStatus(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusPairing, snap.Status)
	})

	t.Run("attempt count comes from the reconnection policy", func(t *testing.T) {
		f := newFixture(t)
		f.sched.RecordFailure("acc-1", provider.ReasonConnectionLost)
		f.sched.RecordFailure("acc-1", provider.ReasonConnectionLost)

		sess := newSession("acc-1", "org-1", "Test", model.TriggerAuto, "")
		sess.setStatus(model.SessionStatusConnecting)
		f.registry.PutIfAbsent(sess)

		snap, err := f.controller.QueryStatus(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, 2, snap.AttemptCount)
	})

	t.Run("durable record is synthesized when idle", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedAccount("acc-1")
		seen := time.Now().Add(-time.Hour)
		acc.LastSeenAt = &seen

		snap, err := f.controller.QueryStatus(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusIdle, snap.Status)
		assert.WithinDuration(t, seen, snap.LastHeartbeatAt, time.Second)
	})

	t.Run("durable error status surfaces as error", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedAccount("acc-1")
		acc.Status = model.AccountStatusError

		snap, err := f.controller.QueryStatus(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusError, snap.Status)
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.controller.QueryStatus(ctx, "ghost")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestSendText(t *testing.T) {
	ctx := context.Background()

	connectedSession := func(f *controllerFixture) *providertest.StubResource {
		sess := newSession("acc-1", "org-1", "Test", model.TriggerAuto, "")
		sess.setStatus(model.SessionStatusConnected)
		sess.setSelfIdentity("5511900000000@c.us")
		res := providertest.NewStubResource("acc-1")
		res.SetSendResult("prov-7", nil)
		sess.setResource(res)
		f.registry.PutIfAbsent(sess)
		return res
	}

	t.Run("not connected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.controller.SendText(ctx, "acc-1", "5511888887777@c.us", "hi")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("stores optimistic row then finalizes with provider id", func(t *testing.T) {
		f := newFixture(t)
		res := connectedSession(f)

		msg, err := f.controller.SendText(ctx, "acc-1", "5511888887777@c.us", "your order shipped")

		require.NoError(t, err)
		assert.Equal(t, "local-1", msg.ID)
		to, text := res.LastSent()
		assert.Equal(t, "5511888887777@c.us", to)
		assert.Equal(t, "your order shipped", text)

		f.msgs.mu.Lock()
		defer f.msgs.mu.Unlock()
		require.Len(t, f.msgs.created, 1)
		assert.Equal(t, model.MessageStatusSending, f.msgs.created[0].Status)
		require.Len(t, f.msgs.updates, 1)
		require.NotNil(t, f.msgs.updates[0].ProviderMessageID)
		assert.Equal(t, "prov-7", *f.msgs.updates[0].ProviderMessageID)
		assert.Equal(t, model.MessageStatusSent, *f.msgs.updates[0].Status)
	})

	t.Run("provider send failure marks the row failed", func(t *testing.T) {
		f := newFixture(t)
		res := connectedSession(f)
		res.SetSendResult("", errors.New("engine down"))

		_, err := f.controller.SendText(ctx, "acc-1", "5511888887777@c.us", "hi")

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProviderResource))
		f.msgs.mu.Lock()
		defer f.msgs.mu.Unlock()
		require.Len(t, f.msgs.updates, 1)
		assert.Equal(t, model.MessageStatusFailed, *f.msgs.updates[0].Status)
	})
}

func TestManualStart(t *testing.T) {
	ctx := context.Background()

	// A manual start ignores every connected signal: the stale session is torn
	// down, credentials purged, and a fresh pairing cycle begins with the QR
	// delivered only to the initiating user.
	t.Run("stale connected session still yields a fresh pairing cycle", func(t *testing.T) {
		f := newFixture(t)
		acc := f.seedAccount("acc-1")
		jid := "5511900000000@c.us"
		acc.ProviderIdentity = &jid
		acc.Status = model.AccountStatusConnected

		stale := newSession("acc-1", "org-1", "Test", model.TriggerAuto, "")
		stale.setStatus(model.SessionStatusConnected)
		old := providertest.NewStubResource("acc-1")
		stale.setResource(old)
		f.registry.PutIfAbsent(stale)

		result, err := f.controller.StartSession(ctx, "acc-1", "", StartOptions{
			Source:          model.TriggerManual,
			GenerateQR:      true,
			InitiatorUserID: "user-1",
		})

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.False(t, result.AlreadyConnected)
		assert.True(t, old.Terminated())
		assert.Equal(t, []string{"acc-1"}, f.factory.PurgedAccounts())
		assert.Equal(t, []string{"acc-1"}, f.accounts.clearedIdentities())
		assert.Equal(t, []string{"acc-1"}, f.factory.CreatedIDs())

		f.factory.LastResource().EmitQR("qr-manual-1")

		require.Eventually(t, func() bool {
			return len(f.bus.byType(notify.EventQRIssued)) == 1
		}, 2*time.Second, 10*time.Millisecond)
		issued := f.bus.byType(notify.EventQRIssued)
		assert.Equal(t, "user", issued[0].channel)
		assert.Equal(t, "user-1", issued[0].target)
		assert.Equal(t, model.SessionStatusPairing, f.registry.Get("acc-1").Status())
	})
}
