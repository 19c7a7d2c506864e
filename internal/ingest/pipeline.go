package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway-go/internal/config"
	"github.com/openclaw/wa-gateway-go/internal/database"
	"github.com/openclaw/wa-gateway-go/internal/media"
	"github.com/openclaw/wa-gateway-go/internal/model"
	"github.com/openclaw/wa-gateway-go/internal/notify"
	"github.com/openclaw/wa-gateway-go/internal/provider"
	"github.com/openclaw/wa-gateway-go/internal/repository"
)

// Address suffix conventions used by the provider network. Group and
// broadcast chats are detected up front and never enter the 1:1 path.
const (
	groupSuffix     = "@g.us"
	broadcastSuffix = "@broadcast"
)

// AccountInfo is the per-session context the pipeline needs to normalize an
// event: whose account it is and what the local profile looks like, so a
// sender-name echo of our own profile is not written onto a conversation.
type AccountInfo struct {
	AccountID       string
	OrganizationID  string
	SelfIdentity    string
	SelfDisplayName string
}

// TxRunner runs a function inside a database transaction. Satisfied by
// *database.DB; a nil runner persists without one.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// Pipeline normalizes provider-native events into canonical messages,
// resolves conversations and de-duplicates echoes.
type Pipeline struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	resolver *media.Resolver
	bus      notify.Bus
	tx       TxRunner
}

func NewPipeline(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	resolver *media.Resolver,
	bus notify.Bus,
	tx TxRunner,
) *Pipeline {
	return &Pipeline{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		resolver: resolver,
		bus:      bus,
		tx:       tx,
	}
}

// HandleEvent ingests one provider message event. Duplicate conditions are
// resolved silently via update-in-place; only infrastructure failures return
// an error.
func (p *Pipeline) HandleEvent(ctx context.Context, info AccountInfo, raw *provider.RawMessage, fetcher media.Fetcher) error {
	if raw == nil || raw.ChatID == "" {
		return nil
	}

	if strings.HasSuffix(raw.ChatID, broadcastSuffix) {
		p.handleBroadcast(info, raw)
		return nil
	}
	if strings.HasSuffix(raw.ChatID, groupSuffix) {
		return p.handleGroup(ctx, info, raw, fetcher)
	}

	return p.handleDirect(ctx, info, raw, fetcher, false)
}

// handleBroadcast drops broadcast-list traffic after logging: status
// broadcasts have no 1:1 conversation to land in.
func (p *Pipeline) handleBroadcast(info AccountInfo, raw *provider.RawMessage) {
	log.Debug().
		Str("accountId", info.AccountID).
		Str("chatId", raw.ChatID).
		Msg("broadcast event ignored")
}

func (p *Pipeline) handleGroup(ctx context.Context, info AccountInfo, raw *provider.RawMessage, fetcher media.Fetcher) error {
	return p.handleDirect(ctx, info, raw, fetcher, true)
}

func (p *Pipeline) handleDirect(ctx context.Context, info AccountInfo, raw *provider.RawMessage, fetcher media.Fetcher, isGroup bool) error {
	conv, err := p.resolveConversation(ctx, info, raw, isGroup)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	p.maybeUpdateDisplayName(ctx, info, conv, raw)

	contentType := ClassifyContent(raw)
	text := raw.Text

	var mediaDesc *model.MediaDescriptor
	if hasMedia(raw, contentType) {
		mediaDesc = p.resolver.Download(ctx, media.Request{
			AccountID:       info.AccountID,
			ConversationKey: conv.ConversationKey,
			Kind:            contentType,
			MessageIDs:      idForms(raw),
			EmbeddedBase64:  raw.MediaBase64,
			SourceURL:       raw.MediaURL,
			DeclaredMime:    raw.MimeType,
			Fetcher:         fetcher,
		})
		if mediaDesc.DownloadStatus == model.DownloadStatusFailed && text == "" {
			text = mediaDesc.FallbackCaption
		}
	}

	direction := model.DirectionIn
	if raw.FromMe {
		direction = model.DirectionOut
	}

	stored, err := p.persist(ctx, info, conv, raw, direction, contentType, text, mediaDesc)
	if err != nil {
		return err
	}

	if stored != nil && direction == model.DirectionIn {
		ev := notify.NewEvent(notify.EventMessageReceived, info.AccountID, stored)
		if err := p.bus.PublishOrg(ctx, info.OrganizationID, ev); err != nil {
			log.Error().Err(err).Str("accountId", info.AccountID).Msg("failed to publish message event")
		}
	}
	return nil
}

// resolveConversation prefers an existing conversation scoped to
// (remote identity, assigned owner, tenant) over creating a duplicate.
func (p *Pipeline) resolveConversation(ctx context.Context, info AccountInfo, raw *provider.RawMessage, isGroup bool) (*model.Conversation, error) {
	conv, err := p.convRepo.FindPreferred(ctx, info.OrganizationID, info.AccountID, raw.ChatID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	var displayName *string
	if name := strings.TrimSpace(raw.SenderName); name != "" && !raw.FromMe {
		displayName = &name
	}
	return p.convRepo.Upsert(ctx, model.UpsertConversationParams{
		ConversationKey: fmt.Sprintf("%s:%s", info.AccountID, raw.ChatID),
		AccountID:       info.AccountID,
		OrganizationID:  info.OrganizationID,
		RemoteIdentity:  raw.ChatID,
		DisplayName:     displayName,
		IsGroup:         isGroup,
	})
}

// maybeUpdateDisplayName applies the conversation naming rules: only a
// non-numeric name, different from the current one, and not an echo of the
// local account's own profile may overwrite what is shown to operators.
func (p *Pipeline) maybeUpdateDisplayName(ctx context.Context, info AccountInfo, conv *model.Conversation, raw *provider.RawMessage) {
	name := strings.TrimSpace(raw.SenderName)
	if name == "" || raw.FromMe {
		return
	}
	if isNumericName(name) {
		return
	}
	if conv.DisplayName != nil && *conv.DisplayName == name {
		return
	}
	if name == info.SelfDisplayName || name == info.SelfIdentity {
		return
	}
	if err := p.convRepo.UpdateDisplayName(ctx, conv.ID, name); err != nil {
		log.Error().Err(err).Str("conversationId", conv.ID).Msg("failed to update conversation name")
	}
}

// persist writes the message row and the conversation's last-message bump,
// atomically when a transaction runner is configured.
func (p *Pipeline) persist(
	ctx context.Context,
	info AccountInfo,
	conv *model.Conversation,
	raw *provider.RawMessage,
	direction model.Direction,
	contentType model.ContentType,
	text string,
	mediaDesc *model.MediaDescriptor,
) (*model.Message, error) {
	if p.tx == nil {
		stored, err := p.storeDeduplicated(ctx, p.msgRepo, info, conv, raw, direction, contentType, text, mediaDesc)
		if err != nil {
			return nil, err
		}
		if err := p.convRepo.TouchLastMessage(ctx, conv.ID); err != nil {
			log.Error().Err(err).Str("conversationId", conv.ID).Msg("failed to touch conversation")
		}
		return stored, nil
	}

	var stored *model.Message
	err := p.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		stored, err = p.storeDeduplicated(ctx, p.msgRepo.WithTx(tx), info, conv, raw, direction, contentType, text, mediaDesc)
		if err != nil {
			return err
		}
		return p.convRepo.WithTx(tx).TouchLastMessage(ctx, conv.ID)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// storeDeduplicated stores a canonical message, resolving duplicates in
// place. A self-sent message observed twice (optimistic local insert, then
// provider echo) is matched by provider id, falling back to a recent
// same-content pending row.
func (p *Pipeline) storeDeduplicated(
	ctx context.Context,
	msgRepo repository.MessageRepository,
	info AccountInfo,
	conv *model.Conversation,
	raw *provider.RawMessage,
	direction model.Direction,
	contentType model.ContentType,
	text string,
	mediaDesc *model.MediaDescriptor,
) (*model.Message, error) {
	if raw.ID != "" {
		existing, err := msgRepo.FindByProviderID(ctx, conv.ConversationKey, raw.ID, direction)
		if err != nil {
			return nil, fmt.Errorf("dedup lookup: %w", err)
		}
		if existing != nil {
			return nil, p.updateInPlace(ctx, msgRepo, existing, raw, text, mediaDesc)
		}
	}

	if raw.FromMe {
		since := time.Now().Add(-config.PendingMatchWindow)
		pending, err := msgRepo.FindRecentPending(ctx, conv.ConversationKey, text, since)
		if err != nil {
			return nil, fmt.Errorf("pending lookup: %w", err)
		}
		if pending != nil {
			return nil, p.updateInPlace(ctx, msgRepo, pending, raw, text, mediaDesc)
		}
	}

	sender := raw.SenderID
	if raw.FromMe {
		sender = info.SelfIdentity
	}
	timestamp := raw.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	status := model.MessageStatusSent

	msg, err := msgRepo.Create(ctx, model.CreateMessageParams{
		AccountID:         info.AccountID,
		ConversationKey:   conv.ConversationKey,
		ProviderMessageID: raw.ID,
		Direction:         direction,
		SenderIdentity:    sender,
		ContentType:       contentType,
		TextContent:       text,
		Media:             mediaDesc,
		Status:            status,
		Timestamp:         timestamp,
		RawPayload:        raw.Raw,
	})
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	return msg, nil
}

func (p *Pipeline) updateInPlace(ctx context.Context, msgRepo repository.MessageRepository, existing *model.Message, raw *provider.RawMessage, text string, mediaDesc *model.MediaDescriptor) error {
	status := model.MessageStatusSent
	params := model.UpdateMessageParams{
		Status:     &status,
		RawPayload: raw.Raw,
	}
	if raw.ID != "" && existing.ProviderMessageID != raw.ID {
		params.ProviderMessageID = &raw.ID
	}
	if text != "" && text != existing.TextContent {
		params.TextContent = &text
	}
	if mediaDesc != nil {
		params.Media = mediaDesc
	}
	if err := msgRepo.Update(ctx, existing.ID, params); err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	log.Debug().
		Str("messageId", existing.ID).
		Str("providerMessageId", raw.ID).
		Msg("duplicate event resolved in place")
	return nil
}

// RecordOutbound stores the optimistic local row for a message about to be
// sent. The provider echo later resolves onto this row via FinalizeOutbound
// or the pending-content fallback in storeDeduplicated.
func (p *Pipeline) RecordOutbound(ctx context.Context, info AccountInfo, to, text string) (*model.Message, error) {
	if strings.HasSuffix(to, broadcastSuffix) {
		return nil, fmt.Errorf("cannot send to broadcast address %s", to)
	}

	conv, err := p.resolveConversation(ctx, info, &provider.RawMessage{
		ChatID: to,
		FromMe: true,
	}, strings.HasSuffix(to, groupSuffix))
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	return p.msgRepo.Create(ctx, model.CreateMessageParams{
		AccountID:       info.AccountID,
		ConversationKey: conv.ConversationKey,
		Direction:       model.DirectionOut,
		SenderIdentity:  info.SelfIdentity,
		ContentType:     model.ContentTypeText,
		TextContent:     text,
		Status:          model.MessageStatusSending,
		Timestamp:       time.Now(),
	})
}

// FinalizeOutbound records the provider's verdict on an optimistic row.
func (p *Pipeline) FinalizeOutbound(ctx context.Context, messageID, providerMessageID string, sent bool) error {
	status := model.MessageStatusSent
	if !sent {
		status = model.MessageStatusFailed
	}
	params := model.UpdateMessageParams{Status: &status}
	if providerMessageID != "" {
		params.ProviderMessageID = &providerMessageID
	}
	return p.msgRepo.Update(ctx, messageID, params)
}

// providerTypeMap maps provider content tags onto canonical content types.
var providerTypeMap = map[string]model.ContentType{
	"text":     model.ContentTypeText,
	"chat":     model.ContentTypeText,
	"image":    model.ContentTypeImage,
	"photo":    model.ContentTypeImage,
	"video":    model.ContentTypeVideo,
	"ptt":      model.ContentTypeAudio,
	"audio":    model.ContentTypeAudio,
	"voice":    model.ContentTypeAudio,
	"document": model.ContentTypeDocument,
	"file":     model.ContentTypeDocument,
	"sticker":  model.ContentTypeSticker,
	"location": model.ContentTypeLocation,
	"vcard":    model.ContentTypeContact,
	"contact":  model.ContentTypeContact,
}

// ClassifyContent determines the canonical content type from the provider
// tag, falling back to MIME sniffing of declared type and embedded payload.
func ClassifyContent(raw *provider.RawMessage) model.ContentType {
	if ct, ok := providerTypeMap[strings.ToLower(strings.TrimSpace(raw.Type))]; ok {
		return ct
	}

	mime := raw.MimeType
	if mime == "" && raw.MediaBase64 != "" {
		if data := sniffBase64Prefix(raw.MediaBase64); data != nil {
			mime = mimetype.Detect(data).String()
		}
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return model.ContentTypeImage
	case strings.HasPrefix(mime, "video/"):
		return model.ContentTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return model.ContentTypeAudio
	case mime != "":
		return model.ContentTypeDocument
	}

	if raw.Text != "" {
		return model.ContentTypeText
	}
	return model.ContentTypeUnknown
}

func sniffBase64Prefix(payload string) []byte {
	if idx := strings.Index(payload, ";base64,"); idx != -1 {
		payload = payload[idx+len(";base64,"):]
	}
	// mimetype only needs the header bytes.
	if len(payload) > 512 {
		payload = payload[:512]
	}
	payload = payload[:len(payload)-len(payload)%4]
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}

func hasMedia(raw *provider.RawMessage, contentType model.ContentType) bool {
	switch contentType {
	case model.ContentTypeImage, model.ContentTypeVideo, model.ContentTypeAudio,
		model.ContentTypeDocument, model.ContentTypeSticker:
		return raw.MediaURL != "" || raw.MediaBase64 != "" || raw.MimeType != ""
	}
	return false
}

// idForms returns the id variants to try for provider media fetch, most
// specific first.
func idForms(raw *provider.RawMessage) []string {
	ids := make([]string, 0, 1+len(raw.AltIDs))
	if raw.ID != "" {
		ids = append(ids, raw.ID)
	}
	ids = append(ids, raw.AltIDs...)
	return ids
}

// isNumericName reports whether a name is just a phone-number rendering
// (digits with optional +, spaces, dashes, parens); those never overwrite a
// real display name.
func isNumericName(name string) bool {
	hasDigit := false
	for _, r := range name {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return hasDigit
}
