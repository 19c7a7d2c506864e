package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openclaw/wa-gateway-go/internal/provider"
)

const requestTimeout = 30 * time.Second

// Client is a thin REST binding onto the vendor automation engine that hosts
// the actual WhatsApp-Web browser instances. Commands go out here; the engine
// pushes events back on the signed webhook, which the Dispatcher routes to
// the owning Resource.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type apiError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("engine api %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &apiError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(data)
		}
		return apiErr
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type createInstanceRequest struct {
	InstanceID string `json:"instanceId"`
	AccountID  string `json:"accountId"`
}

// Factory implements provider.Factory against the engine's instance API.
type Factory struct {
	client     *Client
	dispatcher *Dispatcher
}

func NewFactory(client *Client, dispatcher *Dispatcher) *Factory {
	return &Factory{client: client, dispatcher: dispatcher}
}

func (f *Factory) Create(ctx context.Context, accountID, resourceID string) (provider.Resource, error) {
	err := f.client.do(ctx, http.MethodPost, "/instances", createInstanceRequest{
		InstanceID: resourceID,
		AccountID:  accountID,
	}, nil)
	if err != nil {
		var ae *apiError
		if asAPIError(err, &ae) && ae.StatusCode == http.StatusConflict {
			return nil, provider.ErrAlreadyRunning
		}
		return nil, err
	}

	res := newResource(f.client, f.dispatcher, resourceID)
	f.dispatcher.register(res)
	return res, nil
}

func (f *Factory) PurgeCredentials(ctx context.Context, accountID string) error {
	err := f.client.do(ctx, http.MethodDelete, "/accounts/"+accountID+"/credentials", nil, nil)
	var ae *apiError
	if asAPIError(err, &ae) && ae.StatusCode == http.StatusNotFound {
		// Nothing persisted; already the state we want.
		return nil
	}
	return err
}

func asAPIError(err error, target **apiError) bool {
	if ae, ok := err.(*apiError); ok {
		*target = ae
		return true
	}
	return false
}
