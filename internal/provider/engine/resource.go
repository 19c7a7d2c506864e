package engine

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway-go/internal/provider"
)

const eventBuffer = 64

// Resource is one engine instance seen through the provider capability
// interface. Its event channel is fed by the Dispatcher from webhook
// deliveries and closed exactly once on Terminate.
type Resource struct {
	client     *Client
	dispatcher *Dispatcher
	id         string

	events    chan provider.Event
	closeOnce sync.Once
}

func newResource(client *Client, dispatcher *Dispatcher, id string) *Resource {
	return &Resource{
		client:     client,
		dispatcher: dispatcher,
		id:         id,
		events:     make(chan provider.Event, eventBuffer),
	}
}

func (r *Resource) ResourceID() string { return r.id }

func (r *Resource) Connect(ctx context.Context) error {
	return r.client.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(r.id)+"/connect", nil, nil)
}

func (r *Resource) Disconnect(ctx context.Context) error {
	return r.client.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(r.id)+"/disconnect", nil, nil)
}

// Terminate unregisters the resource and fires a best-effort delete without
// waiting on the engine. The dispatcher closes the event channel under its
// lock so no webhook delivery can race the close.
func (r *Resource) Terminate() {
	r.closeOnce.Do(func() {
		r.dispatcher.unregister(r.id)

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			if err := r.client.do(ctx, http.MethodDelete, "/instances/"+url.PathEscape(r.id), nil, nil); err != nil {
				log.Debug().Err(err).Str("resourceId", r.id).Msg("engine instance delete failed")
			}
		}()
	})
}

type statusResponse struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

func (r *Resource) Probe(ctx context.Context) (bool, error) {
	var status statusResponse
	if err := r.client.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(r.id)+"/status", nil, &status); err != nil {
		return false, err
	}
	if status.Connected {
		return true, nil
	}
	state, _ := provider.NormalizeState(status.State)
	return state == provider.StateConnected, nil
}

func (r *Resource) Identity(ctx context.Context) (*provider.Identity, error) {
	var identity provider.Identity
	if err := r.client.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(r.id)+"/me", nil, &identity); err != nil {
		return nil, err
	}
	if identity.JID == "" {
		return nil, nil
	}
	return &identity, nil
}

type sendTextRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

func (r *Resource) SendText(ctx context.Context, to, text string) (string, error) {
	var resp sendResponse
	err := r.client.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(r.id)+"/messages/text",
		sendTextRequest{To: to, Text: text}, &resp)
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

type sendMediaRequest struct {
	To       string `json:"to"`
	MimeType string `json:"mimeType"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data"`
	Caption  string `json:"caption,omitempty"`
}

func (r *Resource) SendMedia(ctx context.Context, to string, media provider.Media) (string, error) {
	var resp sendResponse
	err := r.client.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(r.id)+"/messages/media",
		sendMediaRequest{
			To:       to,
			MimeType: media.MimeType,
			Filename: media.Filename,
			Data:     base64.StdEncoding.EncodeToString(media.Data),
			Caption:  media.Caption,
		}, &resp)
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

type mediaResponse struct {
	Data string `json:"data"`
}

func (r *Resource) FetchMediaByID(ctx context.Context, providerMessageID string) ([]byte, error) {
	var resp mediaResponse
	err := r.client.do(ctx, http.MethodGet,
		"/instances/"+url.PathEscape(r.id)+"/media/"+url.PathEscape(providerMessageID), nil, &resp)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.Data)
}

func (r *Resource) Events() <-chan provider.Event {
	return r.events
}
