package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway-go/internal/config"
	"github.com/openclaw/wa-gateway-go/internal/model"
)

// Fetcher downloads attachment bytes for a provider message id. Satisfied by
// provider.Resource.
type Fetcher interface {
	FetchMediaByID(ctx context.Context, providerMessageID string) ([]byte, error)
}

// Request describes one attachment to resolve.
type Request struct {
	AccountID       string
	ConversationKey string
	Kind            model.ContentType
	// MessageIDs are the id forms to try against the provider fetch, most
	// specific first.
	MessageIDs     []string
	EmbeddedBase64 string
	SourceURL      string
	DeclaredMime   string
	Fetcher        Fetcher
}

// extByMime maps declared MIME types onto file extensions. Anything not
// listed gets the generic binary extension.
var extByMime = map[string]string{
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"video/mp4":          ".mp4",
	"video/3gpp":         ".3gp",
	"audio/ogg":          ".ogg",
	"audio/mpeg":         ".mp3",
	"audio/mp4":          ".m4a",
	"audio/aac":          ".aac",
	"application/pdf":    ".pdf",
	"text/plain":         ".txt",
	"text/vcard":         ".vcf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
}

const genericExt = ".bin"

// blockedHostSuffixes are provider-internal hosts whose URLs are not
// fetchable without the provider's own transport. Trying them wastes the
// fetch timeout on a guaranteed failure.
var blockedHostSuffixes = []string{
	".whatsapp.net",
	"web.whatsapp.com",
}

// Resolver downloads and validates message attachments, trying strategies in
// order until a payload above the sanity threshold is obtained.
type Resolver struct {
	baseDir string
	client  *http.Client
}

func NewResolver(baseDir string) *Resolver {
	return &Resolver{
		baseDir: baseDir,
		client: &http.Client{
			Timeout: config.MediaFetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= config.MediaMaxRedirects {
					return fmt.Errorf("stopped after %d redirects", config.MediaMaxRedirects)
				}
				return nil
			},
		},
	}
}

// Download resolves req to a stored file. It never returns an error: on total
// failure the descriptor carries downloadStatus=failed and a textual fallback
// caption, and the message is persisted as text downstream.
func (r *Resolver) Download(ctx context.Context, req Request) *model.MediaDescriptor {
	desc := &model.MediaDescriptor{
		Kind:      req.Kind,
		SourceURL: req.SourceURL,
		MimeType:  req.DeclaredMime,
	}

	data := r.fetchFromProvider(ctx, req)
	if data == nil {
		data = r.decodeEmbedded(req)
	}
	if data == nil {
		data = r.fetchFromURL(ctx, req)
	}

	if data == nil {
		desc.DownloadStatus = model.DownloadStatusFailed
		desc.FallbackCaption = fallbackCaption(req.Kind)
		log.Warn().
			Str("accountId", req.AccountID).
			Str("conversationKey", req.ConversationKey).
			Str("kind", string(req.Kind)).
			Msg("all media strategies failed, degrading to text fallback")
		return desc
	}

	if desc.MimeType == "" {
		desc.MimeType = mimetype.Detect(data).String()
	}

	localPath, err := r.persist(req.ConversationKey, desc.MimeType, data)
	if err != nil {
		log.Error().Err(err).Str("conversationKey", req.ConversationKey).Msg("failed to persist media")
		desc.DownloadStatus = model.DownloadStatusFailed
		desc.FallbackCaption = fallbackCaption(req.Kind)
		return desc
	}

	desc.DownloadStatus = model.DownloadStatusOK
	desc.LocalPath = localPath
	desc.SizeBytes = int64(len(data))
	return desc
}

// fetchFromProvider tries each provider message-id form in order. Engines
// address the same message under several id layouts, so a miss on the first
// form is not a failure.
func (r *Resolver) fetchFromProvider(ctx context.Context, req Request) []byte {
	if req.Fetcher == nil {
		return nil
	}
	for _, id := range req.MessageIDs {
		if id == "" {
			continue
		}
		data, err := req.Fetcher.FetchMediaByID(ctx, id)
		if err != nil {
			log.Debug().Err(err).Str("messageId", id).Msg("provider media fetch failed")
			continue
		}
		if validSize(data) {
			return data
		}
		log.Debug().Str("messageId", id).Int("bytes", len(data)).Msg("provider media below size threshold, discarding")
	}
	return nil
}

func (r *Resolver) decodeEmbedded(req Request) []byte {
	if req.EmbeddedBase64 == "" {
		return nil
	}
	payload := req.EmbeddedBase64
	// Payloads arrive both bare and as data: URIs.
	if idx := strings.Index(payload, ";base64,"); idx != -1 {
		payload = payload[idx+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		log.Debug().Err(err).Msg("embedded media payload not valid base64")
		return nil
	}
	if !validSize(data) {
		return nil
	}
	return data
}

func (r *Resolver) fetchFromURL(ctx context.Context, req Request) []byte {
	if req.SourceURL == "" {
		return nil
	}
	u, err := url.Parse(req.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil
	}
	if blockedHost(u.Hostname()) {
		log.Debug().Str("host", u.Hostname()).Msg("skipping non-fetchable provider-internal media url")
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.SourceURL, nil)
	if err != nil {
		return nil
	}
	resp, err := r.client.Do(httpReq)
	if err != nil {
		log.Debug().Err(err).Str("url", req.SourceURL).Msg("direct media fetch failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, config.MediaMaxDownloadBytes))
	if err != nil || !validSize(data) {
		return nil
	}
	return data
}

// persist writes bytes under a per-conversation directory with a
// collision-resistant filename.
func (r *Resolver) persist(conversationKey, mimeType string, data []byte) (string, error) {
	dir := filepath.Join(r.baseDir, sanitize(conversationKey))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := uuid.NewString() + extensionFor(mimeType)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func extensionFor(mimeType string) string {
	// Strip parameters like "; codecs=opus".
	base := mimeType
	if idx := strings.Index(base, ";"); idx != -1 {
		base = base[:idx]
	}
	base = strings.TrimSpace(strings.ToLower(base))
	if ext, ok := extByMime[base]; ok {
		return ext
	}
	return genericExt
}

func validSize(data []byte) bool {
	return len(data) >= config.MediaMinValidBytes
}

func blockedHost(host string) bool {
	host = strings.ToLower(host)
	for _, suffix := range blockedHostSuffixes {
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}

func fallbackCaption(kind model.ContentType) string {
	switch kind {
	case model.ContentTypeImage:
		return "[image unavailable]"
	case model.ContentTypeVideo:
		return "[video unavailable]"
	case model.ContentTypeAudio:
		return "[audio unavailable]"
	case model.ContentTypeDocument:
		return "[document unavailable]"
	case model.ContentTypeSticker:
		return "[sticker unavailable]"
	default:
		return "[media unavailable]"
	}
}
