package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway-go/internal/config"
	apperrors "github.com/openclaw/wa-gateway-go/internal/errors"
	"github.com/openclaw/wa-gateway-go/internal/ingest"
	"github.com/openclaw/wa-gateway-go/internal/mail"
	"github.com/openclaw/wa-gateway-go/internal/media"
	"github.com/openclaw/wa-gateway-go/internal/model"
	"github.com/openclaw/wa-gateway-go/internal/notify"
	"github.com/openclaw/wa-gateway-go/internal/provider"
	"github.com/openclaw/wa-gateway-go/internal/qr"
	"github.com/openclaw/wa-gateway-go/internal/repository"
	"github.com/openclaw/wa-gateway-go/internal/scheduler"
	"github.com/openclaw/wa-gateway-go/internal/util"
)

// StartOptions qualifies a StartSession call.
//
// GenerateQR arms QR delivery for the attempt. Manual starts always deliver;
// a silent automatic retry leaves it false so backoff cycles do not push
// codes nobody asked for, and the fresh-QR escalation re-arms it.
type StartOptions struct {
	Source          model.TriggerSource
	GenerateQR      bool
	InitiatorUserID string
	OrganizationID  string
}

// StartResult is returned to callers; completion of the attempt itself is
// signaled later through the notification bus.
type StartResult struct {
	Success          bool                `json:"success"`
	AlreadyConnected bool                `json:"alreadyConnected"`
	Status           model.SessionStatus `json:"status"`
}

// Controller is the per-account session lifecycle state machine. It owns
// session creation and teardown, reacts to provider events, and drives the
// reconnection policy. All per-account serialization goes through the
// registry's compare-and-insert; no lock is ever held across a provider call.
type Controller struct {
	cfg      *config.Config
	registry *Registry
	factory  provider.Factory
	accounts repository.AccountRepository
	sched    *scheduler.Scheduler
	broker   *qr.Broker
	pipeline *ingest.Pipeline
	bus      notify.Bus
	mailer   mail.Dispatcher

	mu         sync.Mutex
	reconnects map[string]*time.Timer
	closed     bool
}

func NewController(
	cfg *config.Config,
	registry *Registry,
	factory provider.Factory,
	accounts repository.AccountRepository,
	sched *scheduler.Scheduler,
	broker *qr.Broker,
	pipeline *ingest.Pipeline,
	bus notify.Bus,
	mailer mail.Dispatcher,
) *Controller {
	return &Controller{
		cfg:        cfg,
		registry:   registry,
		factory:    factory,
		accounts:   accounts,
		sched:      sched,
		broker:     broker,
		pipeline:   pipeline,
		bus:        bus,
		mailer:     mailer,
		reconnects: make(map[string]*time.Timer),
	}
}

// StartSession registers a connection attempt for an account and returns
// quickly; the attempt completes asynchronously via provider events.
//
// A manual start unconditionally tears down whatever exists, purges pairing
// credentials and waits for the engine to settle, guaranteeing a fresh QR.
// Any other source first checks three connected signals (in-memory flag, live
// probe, durable connected+identity record) and short-circuits if any is
// positive, so automatic flows never create duplicate provider resources.
func (c *Controller) StartSession(ctx context.Context, accountID, displayName string, opts StartOptions) (*StartResult, error) {
	if accountID == "" {
		return nil, apperrors.MissingRequired("accountId")
	}
	if opts.Source == "" {
		opts.Source = model.TriggerManual
	}

	account, err := c.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("account")
	}
	if opts.OrganizationID == "" {
		opts.OrganizationID = account.OrganizationID
	}
	if displayName == "" {
		displayName = account.DisplayName
	}

	if opts.Source == model.TriggerManual {
		if err := c.prepareFreshStart(ctx, accountID); err != nil {
			return nil, err
		}
	} else if res := c.checkAlreadyConnected(ctx, account); res != nil {
		return res, nil
	}

	sess := newSession(accountID, opts.OrganizationID, displayName, opts.Source, opts.InitiatorUserID)
	sess.wantsQR = opts.GenerateQR || opts.Source == model.TriggerManual
	if _, inserted := c.registry.PutIfAbsent(sess); !inserted {
		return nil, apperrors.SessionActive(accountID)
	}

	sess.setStatus(model.SessionStatusConnecting)
	sess.markAttempt()
	c.persistStatus(ctx, accountID, model.AccountStatusPairing, nil, nil)

	res, err := c.createResource(ctx, accountID)
	if err != nil {
		c.dropSession(sess)
		c.persistStatus(ctx, accountID, model.AccountStatusError, nil, nil)
		c.publishLifecycle(ctx, sess, notify.EventConnectionError, map[string]any{
			"error": err.Error(),
			"hint":  "provider resource could not be created; retry shortly or contact support",
		})
		return nil, err
	}
	sess.setResource(res)

	go c.pumpEvents(sess, res)

	sess.tasks.schedule(taskConnectTimeout, c.cfg.ConnectTimeout(), func() {
		c.handleConnectTimeout(sess)
	})
	c.scheduleStatusCheck(sess)

	if err := res.Connect(ctx); err != nil {
		c.teardown(ctx, sess, false)
		c.persistStatus(ctx, accountID, model.AccountStatusError, nil, nil)
		return nil, apperrors.ProviderResource("provider connect failed", err)
	}

	log.Info().
		Str("accountId", accountID).
		Str("source", string(opts.Source)).
		Bool("generateQr", opts.GenerateQR).
		Msg("session started")

	return &StartResult{Success: true, Status: sess.Status()}, nil
}

// StopSession cancels all scheduled work, disconnects gracefully, clears the
// registry entry and marks the durable record disconnected.
func (c *Controller) StopSession(ctx context.Context, accountID string) error {
	if accountID == "" {
		return apperrors.MissingRequired("accountId")
	}

	c.cancelReconnect(accountID)

	sess := c.registry.Get(accountID)
	if sess != nil {
		c.teardown(ctx, sess, true)
		c.publishLifecycle(ctx, sess, notify.EventDisconnected, map[string]any{
			"reason": string(provider.ReasonManualStop),
		})
	}
	c.persistStatus(ctx, accountID, model.AccountStatusDisconnected, nil, nil)

	log.Info().Str("accountId", accountID).Msg("session stopped")
	return nil
}

// QueryStatus returns a snapshot without side effects. When no runtime
// session exists the durable record is reflected instead.
func (c *Controller) QueryStatus(ctx context.Context, accountID string) (*Snapshot, error) {
	if sess := c.registry.Get(accountID); sess != nil {
		snap := sess.Snapshot()
		snap.AttemptCount = c.sched.AttemptCount(accountID)
		return &snap, nil
	}

	account, err := c.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("account")
	}

	status := model.SessionStatusIdle
	if account.Status == model.AccountStatusError {
		status = model.SessionStatusError
	}
	snap := &Snapshot{AccountID: accountID, Status: status}
	if account.LastSeenAt != nil {
		snap.LastHeartbeatAt = *account.LastSeenAt
	}
	return snap, nil
}

// SendText stores an optimistic outbound row, hands the text to the provider
// and finalizes the row with the provider's message id. The provider echo of
// the same message later resolves onto this row instead of a duplicate.
func (c *Controller) SendText(ctx context.Context, accountID, to, text string) (*model.Message, error) {
	sess := c.registry.Get(accountID)
	if sess == nil || !sess.Connected() {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "account is not connected")
	}
	res := sess.Resource()
	if res == nil {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "account is not connected")
	}

	msg, err := c.pipeline.RecordOutbound(ctx, c.accountInfo(sess), to, text)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	providerID, sendErr := res.SendText(ctx, to, text)
	if finErr := c.pipeline.FinalizeOutbound(ctx, msg.ID, providerID, sendErr == nil); finErr != nil {
		log.Error().Err(finErr).Str("messageId", msg.ID).Msg("failed to finalize outbound message")
	}
	if sendErr != nil {
		return nil, apperrors.ProviderResource("send failed", sendErr)
	}
	return msg, nil
}

// HandleDisconnect reacts to a session loss: teardown, durable state,
// notification, and then the reconnection policy. It is the single entry
// point for provider disconnect events, health-check failures and logout.
func (c *Controller) HandleDisconnect(ctx context.Context, accountID string, reason provider.DisconnectReason) {
	sess := c.registry.Get(accountID)
	if sess == nil {
		return
	}
	if sess.Status() == model.SessionStatusDisconnecting {
		return
	}

	log.Info().
		Str("accountId", accountID).
		Str("reason", string(reason)).
		Msg("session disconnected")

	c.teardown(ctx, sess, reason == provider.ReasonManualStop)
	c.persistStatus(ctx, accountID, model.AccountStatusDisconnected, nil, nil)
	c.publishLifecycle(ctx, sess, notify.EventDisconnected, map[string]any{
		"reason": string(reason),
	})

	switch reason {
	case provider.ReasonAuthRejected:
		// Pairing was revoked provider-side: dead credentials make backoff
		// retries pointless. Purge and go straight to a fresh QR cycle.
		c.purgeCredentials(ctx, accountID)
		c.sched.ResetAttempts(accountID)
		go c.sendReconnectMail(accountID)
		c.scheduleReconnect(accountID, config.QRRetryDelay, true)
		return
	case provider.ReasonRateLimited:
		c.sched.SetCooldown(config.ReconnectGlobalCooldown)
	}

	outcome := c.sched.RecordFailure(accountID, reason)
	switch outcome.Decision {
	case scheduler.DecisionRetry:
		log.Info().
			Str("accountId", accountID).
			Int("attempt", outcome.Attempt).
			Dur("delay", outcome.Delay).
			Msg("reconnect scheduled")
		c.scheduleReconnect(accountID, outcome.Delay, false)
	case scheduler.DecisionFreshQR:
		c.purgeCredentials(ctx, accountID)
		delay := outcome.Delay
		if delay < config.QRRetryDelay {
			delay = config.QRRetryDelay
		}
		c.scheduleReconnect(accountID, delay, true)
	}
}

// ReconnectPending reports whether a retry timer is armed for the account.
func (c *Controller) ReconnectPending(accountID string) bool {
	return c.sched.Pending(accountID)
}

// Close drains the registry and tears down every remaining session.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	for id, t := range c.reconnects {
		t.Stop()
		delete(c.reconnects, id)
	}
	c.mu.Unlock()

	for _, sess := range c.registry.Drain() {
		c.teardown(ctx, sess, true)
		c.persistStatus(ctx, sess.AccountID, model.AccountStatusDisconnected, nil, nil)
	}
	log.Info().Msg("session controller closed")
}

// prepareFreshStart tears down any existing provider handle and purges
// pairing credentials, then waits out the settle delay so the replacement
// resource cannot collide with the dying one inside the automation engine.
func (c *Controller) prepareFreshStart(ctx context.Context, accountID string) error {
	c.cancelReconnect(accountID)
	c.sched.RecordSuccess(accountID)

	if existing := c.registry.Get(accountID); existing != nil {
		c.teardown(ctx, existing, true)
	}
	c.purgeCredentials(ctx, accountID)

	select {
	case <-time.After(config.TeardownSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// checkAlreadyConnected applies the three connected signals; any positive one
// wins. This favors a false "already connected" over creating a duplicate
// provider resource; the health monitor catches the stale case later.
func (c *Controller) checkAlreadyConnected(ctx context.Context, account *model.Account) *StartResult {
	already := &StartResult{Success: true, AlreadyConnected: true, Status: model.SessionStatusConnected}

	if sess := c.registry.Get(account.ID); sess != nil {
		if sess.Connected() {
			return already
		}
		if res := sess.Resource(); res != nil {
			probeCtx, cancel := context.WithTimeout(ctx, config.ProbeTimeout)
			alive, err := res.Probe(probeCtx)
			cancel()
			if err == nil && alive {
				return already
			}
		}
	}

	if account.HasValidIdentity() {
		return already
	}
	return nil
}

// createResource retries creation with increasing delay. When the engine
// claims the resource identifier is still running, the next try uses an
// alternate identifier instead of fighting over the old one.
func (c *Controller) createResource(ctx context.Context, accountID string) (provider.Resource, error) {
	resourceID := accountID
	var lastErr error

	for attempt := 1; attempt <= config.ResourceCreateRetries; attempt++ {
		res, err := c.factory.Create(ctx, accountID, resourceID)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if errors.Is(err, provider.ErrAlreadyRunning) {
			resourceID = fmt.Sprintf("%s-r%d", accountID, attempt)
			log.Warn().
				Str("accountId", accountID).
				Str("resourceId", resourceID).
				Msg("resource reported already running, falling back to alternate identifier")
			continue
		}

		log.Warn().Err(err).
			Str("accountId", accountID).
			Int("attempt", attempt).
			Msg("provider resource creation failed")

		select {
		case <-time.After(time.Duration(attempt) * config.ResourceCreateRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, apperrors.ProviderResource("failed to create provider resource", lastErr)
}

// pumpEvents consumes the resource's event stream until it closes on
// termination. Events are handled on this goroutine so per-session ordering
// is preserved.
func (c *Controller) pumpEvents(sess *Session, res provider.Resource) {
	for ev := range res.Events() {
		switch ev.Kind {
		case provider.EventQR:
			c.handleQREvent(sess, ev.QRPayload)
		case provider.EventState:
			c.handleStateEvent(sess, ev)
		case provider.EventMessage:
			c.handleMessageEvent(sess, ev.Message)
		}
	}
}

func (c *Controller) handleQREvent(sess *Session, payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.ProbeTimeout)
	defer cancel()

	sess.setStatus(model.SessionStatusPairing)

	if !sess.wantsQR {
		log.Debug().
			Str("accountId", sess.AccountID).
			Msg("qr withheld on silent reconnect")
		return
	}

	entry := c.broker.Issue(ctx, sess.AccountID, payload, qr.Target{
		InitiatorUserID: sess.InitiatorUserID,
		OrganizationID:  sess.OrganizationID,
		Manual:          sess.TriggerSource == model.TriggerManual,
	})
	if entry == nil {
		return // throttled or render failure
	}

	sess.tasks.schedule(taskQRExpiry, c.cfg.QRExpiry(), func() {
		c.handleQRExpiry(sess)
	})
}

func (c *Controller) handleQRExpiry(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), config.ProbeTimeout)
	defer cancel()

	if !c.broker.Expire(ctx, sess.AccountID, sess.OrganizationID) {
		return
	}
	if sess.Connected() {
		return
	}

	// Exactly one fresh pairing attempt per expiry.
	sess.tasks.schedule(taskQRRetry, config.QRRetryDelay, func() {
		c.refreshPairing(sess)
	})
}

// refreshPairing re-triggers the provider handshake on the existing resource;
// providers emit a new QR payload on connect.
func (c *Controller) refreshPairing(sess *Session) {
	if sess.Connected() {
		return
	}
	res := sess.Resource()
	if res == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ProbeTimeout)
	defer cancel()

	if err := res.Connect(ctx); err != nil {
		log.Error().Err(err).Str("accountId", sess.AccountID).Msg("pairing refresh failed")
		c.HandleDisconnect(context.Background(), sess.AccountID, provider.ReasonConnectionLost)
		return
	}
	sess.tasks.schedule(taskConnectTimeout, c.cfg.ConnectTimeout(), func() {
		c.handleConnectTimeout(sess)
	})
}

func (c *Controller) handleStateEvent(sess *Session, ev provider.Event) {
	state := ev.State
	if state == "" || state == provider.StateUnknown {
		var ok bool
		state, ok = provider.NormalizeState(ev.RawState)
		if !ok {
			// Never dropped silently: log it and let the status-check timer,
			// health monitor and orphan reconciler catch what it meant.
			log.Warn().
				Str("accountId", sess.AccountID).
				Str("rawState", ev.RawState).
				Msg("unrecognized provider state")
			return
		}
	}

	switch state {
	case provider.StateConnecting:
		sess.setStatus(model.SessionStatusConnecting)
	case provider.StatePairing:
		sess.setStatus(model.SessionStatusPairing)
	case provider.StateConnected:
		c.handleConnected(sess)
	case provider.StateDisconnected:
		reason := ev.Reason
		if reason == provider.ReasonNone {
			reason = provider.ReasonConnectionLost
		}
		c.HandleDisconnect(context.Background(), sess.AccountID, reason)
	case provider.StateLoggedOut:
		c.HandleDisconnect(context.Background(), sess.AccountID, provider.ReasonAuthRejected)
	}
}

func (c *Controller) handleConnected(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), config.ProbeTimeout)
	defer cancel()

	sess.tasks.cancel(taskConnectTimeout)
	sess.tasks.cancel(taskQRExpiry)
	sess.tasks.cancel(taskQRRetry)
	sess.tasks.cancel(taskStatusCheck)

	sess.setStatus(model.SessionStatusConnected)
	c.broker.Invalidate(sess.AccountID)
	c.sched.RecordSuccess(sess.AccountID)
	c.cancelReconnect(sess.AccountID)

	var identity *string
	if res := sess.Resource(); res != nil {
		if id, err := res.Identity(ctx); err == nil && id != nil && id.JID != "" {
			identity = &id.JID
			sess.setSelfIdentity(id.JID)
		} else if err != nil {
			log.Warn().Err(err).Str("accountId", sess.AccountID).Msg("could not read provider identity")
		}
	}

	hasCreds := true
	c.persistStatus(ctx, sess.AccountID, model.AccountStatusConnected, identity, &hasCreds)
	if err := c.accounts.TouchLastSeen(ctx, sess.AccountID); err != nil {
		log.Error().Err(err).Str("accountId", sess.AccountID).Msg("failed to write heartbeat")
	}
	sess.MarkHeartbeat(config.HeartbeatWriteInterval)

	c.publishLifecycle(ctx, sess, notify.EventConnected, map[string]any{
		"identity": sess.SelfIdentity(),
	})

	log.Info().Str("accountId", sess.AccountID).Msg("session connected")
}

func (c *Controller) handleMessageEvent(sess *Session, raw *provider.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var fetcher media.Fetcher
	if res := sess.Resource(); res != nil {
		fetcher = res
	}
	if err := c.pipeline.HandleEvent(ctx, c.accountInfo(sess), raw, fetcher); err != nil {
		log.Error().Err(err).
			Str("accountId", sess.AccountID).
			Msg("message ingestion failed")
	}
}

// handleConnectTimeout enforces the connection ceiling: an attempt stuck in
// pairing/connecting is force-terminated and left disconnected. Terminal for
// this attempt; the reconnection scheduler is deliberately not consulted.
func (c *Controller) handleConnectTimeout(sess *Session) {
	st := sess.Status()
	if st != model.SessionStatusPairing && st != model.SessionStatusConnecting {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ProbeTimeout)
	defer cancel()

	log.Warn().
		Str("accountId", sess.AccountID).
		Dur("ceiling", c.cfg.ConnectTimeout()).
		Msg("connection attempt exceeded ceiling, terminating")

	c.teardown(ctx, sess, false)
	c.persistStatus(ctx, sess.AccountID, model.AccountStatusDisconnected, nil, nil)
	c.publishLifecycle(ctx, sess, notify.EventConnectionError, map[string]any{
		"error": string(apperrors.ErrCodeConnectionTimeout),
		"hint":  "pairing was not completed in time; start the session again to get a new QR code",
	})
}

// scheduleStatusCheck re-arms the direct probe backstop while an attempt is
// in flight.
func (c *Controller) scheduleStatusCheck(sess *Session) {
	sess.tasks.schedule(taskStatusCheck, config.StatusCheckInterval, func() {
		if sess.Connected() {
			return
		}
		res := sess.Resource()
		if res == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.ProbeTimeout)
		alive, err := res.Probe(ctx)
		cancel()
		if err == nil && alive {
			log.Warn().
				Str("accountId", sess.AccountID).
				Msg("probe shows connected but no state event arrived, promoting")
			c.handleConnected(sess)
			return
		}
		c.scheduleStatusCheck(sess)
	})
}

// teardown cancels every scheduled task, releases the provider handle and
// clears the registry entry. Graceful teardown attempts a polite disconnect
// with a timeout before force-terminating.
func (c *Controller) teardown(ctx context.Context, sess *Session, graceful bool) {
	sess.setStatus(model.SessionStatusDisconnecting)
	sess.tasks.cancelAll()
	c.broker.Invalidate(sess.AccountID)

	res := sess.Resource()
	sess.setResource(nil)
	if res != nil {
		if graceful {
			dctx, cancel := context.WithTimeout(ctx, config.GracefulDisconnectTimeout)
			if err := res.Disconnect(dctx); err != nil {
				log.Debug().Err(err).Str("accountId", sess.AccountID).Msg("graceful disconnect failed")
			}
			cancel()
		}
		res.Terminate()
	}

	c.registry.Remove(sess.AccountID, sess)
	sess.markDone()
}

// dropSession removes a session that never got a resource.
func (c *Controller) dropSession(sess *Session) {
	sess.tasks.cancelAll()
	c.registry.Remove(sess.AccountID, sess)
	sess.markDone()
}

func (c *Controller) scheduleReconnect(accountID string, delay time.Duration, freshQR bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if t, ok := c.reconnects[accountID]; ok {
		t.Stop()
	}
	c.sched.SetPending(accountID, true)
	c.reconnects[accountID] = time.AfterFunc(delay, func() {
		c.runReconnect(accountID, freshQR)
	})
	c.mu.Unlock()
}

func (c *Controller) runReconnect(accountID string, freshQR bool) {
	c.mu.Lock()
	delete(c.reconnects, accountID)
	c.mu.Unlock()
	c.sched.SetPending(accountID, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, err := c.StartSession(ctx, accountID, "", StartOptions{
		Source:     model.TriggerAuto,
		GenerateQR: freshQR,
	})
	if err != nil && !apperrors.IsCode(err, apperrors.ErrCodeSessionActive) {
		log.Error().Err(err).Str("accountId", accountID).Msg("scheduled reconnect failed")
	}
}

func (c *Controller) cancelReconnect(accountID string) {
	c.mu.Lock()
	if t, ok := c.reconnects[accountID]; ok {
		t.Stop()
		delete(c.reconnects, accountID)
	}
	c.mu.Unlock()
	c.sched.SetPending(accountID, false)
}

func (c *Controller) purgeCredentials(ctx context.Context, accountID string) {
	if err := c.factory.PurgeCredentials(ctx, accountID); err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to purge pairing credentials")
	}
	if err := c.accounts.ClearIdentity(ctx, accountID); err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to clear durable identity")
	}
}

// persistStatus writes durable state, logging failures instead of blocking
// the caller; the next lifecycle touchpoint retries naturally.
func (c *Controller) persistStatus(ctx context.Context, accountID string, status model.AccountStatus, identity *string, hasCreds *bool) {
	err := c.accounts.UpdateStatus(ctx, accountID, model.UpdateAccountStatusParams{
		Status:           status,
		ProviderIdentity: identity,
		HasCredentials:   hasCreds,
	})
	if err != nil {
		log.Error().Err(err).
			Str("accountId", accountID).
			Str("status", string(status)).
			Msg("failed to persist account status")
	}
}

// publishLifecycle emits a lifecycle event to the organization channel, plus
// the initiator's private channel when one is known.
func (c *Controller) publishLifecycle(ctx context.Context, sess *Session, eventType string, data any) {
	ev := notify.NewEvent(eventType, sess.AccountID, data)
	if err := c.bus.PublishOrg(ctx, sess.OrganizationID, ev); err != nil {
		log.Error().Err(err).Str("accountId", sess.AccountID).Str("type", eventType).Msg("failed to publish event")
	}
	if sess.InitiatorUserID != "" {
		if err := c.bus.PublishUser(ctx, sess.InitiatorUserID, ev); err != nil {
			log.Error().Err(err).Str("accountId", sess.AccountID).Str("type", eventType).Msg("failed to publish event")
		}
	}
}

func (c *Controller) sendReconnectMail(accountID string) {
	if c.mailer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	account, err := c.accounts.FindByID(ctx, accountID)
	if err != nil || account == nil || account.NotifyEmail == nil {
		return
	}

	token, err := util.GenerateToken()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate reconnect token")
		return
	}
	if err := c.mailer.SendReconnectLink(ctx, accountID, *account.NotifyEmail, token); err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to send reconnect link")
	}
}

func (c *Controller) accountInfo(sess *Session) ingest.AccountInfo {
	return ingest.AccountInfo{
		AccountID:       sess.AccountID,
		OrganizationID:  sess.OrganizationID,
		SelfIdentity:    sess.SelfIdentity(),
		SelfDisplayName: sess.DisplayName,
	}
}
