package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/wa-gateway-go/internal/errors"
	"github.com/openclaw/wa-gateway-go/internal/middleware"
	"github.com/openclaw/wa-gateway-go/internal/model"
	"github.com/openclaw/wa-gateway-go/internal/qr"
	"github.com/openclaw/wa-gateway-go/internal/repository"
	"github.com/openclaw/wa-gateway-go/internal/session"
)

type SessionHandler struct {
	controller  *session.Controller
	broker      *qr.Broker
	registry    *session.Registry
	accountRepo repository.AccountRepository
}

func NewSessionHandler(controller *session.Controller, broker *qr.Broker, registry *session.Registry, accountRepo repository.AccountRepository) *SessionHandler {
	return &SessionHandler{
		controller:  controller,
		broker:      broker,
		registry:    registry,
		accountRepo: accountRepo,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/start", h.Start)
	r.Delete("/{accountID}", h.Stop)
	r.Get("/{accountID}/status", h.Status)
	r.Get("/{accountID}/qr", h.GetQR)
	r.Post("/{accountID}/qr/regenerate", h.RegenerateQR)
	r.Post("/{accountID}/messages", h.SendMessage)
	r.Post("/{accountID}/fix-status", h.FixStatus)
	r.Post("/bulk/disconnect", h.BulkDisconnect)
	r.Post("/bulk/reconnect", h.BulkReconnect)

	return r
}

type startRequest struct {
	AccountID       string `json:"accountId"`
	DisplayName     string `json:"displayName"`
	GenerateQR      bool   `json:"generateQr"`
	Source          string `json:"source"`
	InitiatorUserID string `json:"initiatorUserId"`
}

// POST /v1/sessions/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed json"))
		return
	}

	target, err := h.authorizeAccount(r, req.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}

	source := model.TriggerSource(req.Source)
	switch source {
	case "":
		source = model.TriggerManual
	case model.TriggerManual, model.TriggerAuto, model.TriggerInvite, model.TriggerReconnectToken:
	default:
		writeError(w, apperrors.InvalidInput("source", "unknown trigger source"))
		return
	}

	result, err := h.controller.StartSession(r.Context(), target.ID, req.DisplayName, session.StartOptions{
		Source:          source,
		GenerateQR:      req.GenerateQR || source == model.TriggerManual,
		InitiatorUserID: req.InitiatorUserID,
		OrganizationID:  target.OrganizationID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DELETE /v1/sessions/{accountID}
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	target, err := h.authorizeAccount(r, chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.controller.StopSession(r.Context(), target.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GET /v1/sessions/{accountID}/status
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	target, err := h.authorizeAccount(r, chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := h.controller.QueryStatus(r.Context(), target.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /v1/sessions/{accountID}/qr
//
// Pull-based fallback for clients that miss the pushed qr_issued event. Only
// an unexpired code is returned.
func (h *SessionHandler) GetQR(w http.ResponseWriter, r *http.Request) {
	target, err := h.authorizeAccount(r, chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}

	entry := h.broker.GetCached(target.ID)
	if entry == nil {
		writeError(w, apperrors.NotFound("qr code"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accountId": entry.AccountID,
		"qr":        entry.PNG,
		"issuedAt":  entry.IssuedAt,
		"expiresAt": entry.ExpiresAt,
	})
}

type regenerateRequest struct {
	InitiatorUserID string `json:"initiatorUserId"`
}

// POST /v1/sessions/{accountID}/qr/regenerate
//
// Equivalent to a manual start: tears down whatever exists and guarantees a
// fresh pairing cycle.
func (h *SessionHandler) RegenerateQR(w http.ResponseWriter, r *http.Request) {
	target, err := h.authorizeAccount(r, chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req regenerateRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.controller.StartSession(r.Context(), target.ID, "", session.StartOptions{
		Source:          model.TriggerManual,
		GenerateQR:      true,
		InitiatorUserID: req.InitiatorUserID,
		OrganizationID:  target.OrganizationID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// POST /v1/sessions/{accountID}/messages
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	target, err := h.authorizeAccount(r, chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed json"))
		return
	}
	if req.To == "" {
		writeError(w, apperrors.MissingRequired("to"))
		return
	}
	if req.Text == "" {
		writeError(w, apperrors.MissingRequired("text"))
		return
	}

	msg, err := h.controller.SendText(r.Context(), target.ID, req.To, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// POST /v1/sessions/{accountID}/fix-status
//
// Reconciles the durable record with runtime truth: a record claiming
// connected with no live session behind it is marked disconnected.
func (h *SessionHandler) FixStatus(w http.ResponseWriter, r *http.Request) {
	target, err := h.authorizeAccount(r, chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}

	sess := h.registry.Get(target.ID)
	fixed := false
	if sess == nil && target.Status == model.AccountStatusConnected {
		uerr := h.accountRepo.UpdateStatus(r.Context(), target.ID, model.UpdateAccountStatusParams{
			Status: model.AccountStatusDisconnected,
		})
		if uerr != nil {
			writeError(w, apperrors.Database(uerr))
			return
		}
		fixed = true
		log.Info().Str("accountId", target.ID).Msg("durable status reconciled to disconnected")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"fixed":   fixed,
	})
}

type bulkRequest struct {
	AccountIDs   []string `json:"accountIds"`
	ForceFreshQR bool     `json:"forceFreshQr"`
}

// POST /v1/sessions/bulk/disconnect
//
// Stops the listed accounts, or every live session of the caller's
// organization when the list is empty. Failures are collected per account.
func (h *SessionHandler) BulkDisconnect(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetAccount(r.Context())
	if caller == nil {
		writeError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	var req bulkRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ids := req.AccountIDs
	if len(ids) == 0 {
		for _, sess := range h.registry.All() {
			if sess.OrganizationID == caller.OrganizationID {
				ids = append(ids, sess.AccountID)
			}
		}
	}

	results := h.forEachAccount(r, ids, func(accountID string) error {
		return h.controller.StopSession(r.Context(), accountID)
	})
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// POST /v1/sessions/bulk/reconnect
func (h *SessionHandler) BulkReconnect(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetAccount(r.Context())
	if caller == nil {
		writeError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed json"))
		return
	}
	if len(req.AccountIDs) == 0 {
		writeError(w, apperrors.MissingRequired("accountIds"))
		return
	}

	source := model.TriggerAuto
	if req.ForceFreshQR {
		source = model.TriggerManual
	}

	results := h.forEachAccount(r, req.AccountIDs, func(accountID string) error {
		_, err := h.controller.StartSession(r.Context(), accountID, "", session.StartOptions{
			Source:         source,
			GenerateQR:     req.ForceFreshQR,
			OrganizationID: caller.OrganizationID,
		})
		return err
	})
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *SessionHandler) forEachAccount(r *http.Request, ids []string, fn func(accountID string) error) []map[string]any {
	results := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		entry := map[string]any{"accountId": id, "success": true}
		if _, err := h.authorizeAccount(r, id); err != nil {
			entry["success"] = false
			entry["error"] = apperrors.GetCode(err)
		} else if err := fn(id); err != nil {
			entry["success"] = false
			entry["error"] = apperrors.GetCode(err)
			log.Warn().Err(err).Str("accountId", id).Msg("bulk operation failed for account")
		}
		results = append(results, entry)
	}
	return results
}

// authorizeAccount resolves the target account and checks it belongs to the
// caller's organization. The caller's own token may also act on itself.
func (h *SessionHandler) authorizeAccount(r *http.Request, accountID string) (*model.Account, error) {
	if accountID == "" {
		return nil, apperrors.MissingRequired("accountId")
	}

	caller := middleware.GetAccount(r.Context())
	if caller == nil {
		return nil, apperrors.Unauthorized("authentication required")
	}
	if caller.ID == accountID {
		return caller, nil
	}

	target, err := h.accountRepo.FindByID(r.Context(), accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if target == nil {
		return nil, apperrors.NotFound("account")
	}
	if target.OrganizationID != caller.OrganizationID {
		return nil, apperrors.Forbidden("account belongs to another organization")
	}
	return target, nil
}
