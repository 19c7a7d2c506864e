// Package providertest provides scriptable in-memory implementations of the
// provider interfaces for tests.
package providertest

import (
	"context"
	"errors"
	"sync"

	"github.com/openclaw/wa-gateway-go/internal/provider"
)

// StubResource implements provider.Resource with scriptable outcomes. Events
// are injected through the Emit methods; Terminate closes the stream exactly
// once, matching the contract real resources honor.
type StubResource struct {
	id     string
	events chan provider.Event

	mu         sync.Mutex
	closeOnce  sync.Once
	connectErr error
	probeAlive bool
	probeErr   error
	identity   *provider.Identity
	sendID     string
	sendErr    error
	fetchData  map[string][]byte

	connects    int
	disconnects int
	terminated  bool
	lastSentTo  string
	lastSent    string
}

func NewStubResource(id string) *StubResource {
	return &StubResource{
		id:     id,
		events: make(chan provider.Event, 16),
	}
}

func (r *StubResource) ResourceID() string { return r.id }

func (r *StubResource) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
	return r.connectErr
}

func (r *StubResource) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
	return nil
}

func (r *StubResource) Terminate() {
	r.mu.Lock()
	r.terminated = true
	r.mu.Unlock()
	r.closeOnce.Do(func() { close(r.events) })
}

func (r *StubResource) Probe(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probeAlive, r.probeErr
}

func (r *StubResource) Identity(ctx context.Context) (*provider.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity, nil
}

func (r *StubResource) SendText(ctx context.Context, to, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSentTo = to
	r.lastSent = text
	return r.sendID, r.sendErr
}

func (r *StubResource) SendMedia(ctx context.Context, to string, media provider.Media) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSentTo = to
	return r.sendID, r.sendErr
}

func (r *StubResource) FetchMediaByID(ctx context.Context, id string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if data, ok := r.fetchData[id]; ok {
		return data, nil
	}
	return nil, errors.New("providertest: no media for id " + id)
}

func (r *StubResource) Events() <-chan provider.Event { return r.events }

// SetConnectErr makes subsequent Connect calls fail.
func (r *StubResource) SetConnectErr(err error) {
	r.mu.Lock()
	r.connectErr = err
	r.mu.Unlock()
}

// SetProbe scripts the result of subsequent Probe calls.
func (r *StubResource) SetProbe(alive bool, err error) {
	r.mu.Lock()
	r.probeAlive = alive
	r.probeErr = err
	r.mu.Unlock()
}

// SetIdentity scripts the paired identity.
func (r *StubResource) SetIdentity(id *provider.Identity) {
	r.mu.Lock()
	r.identity = id
	r.mu.Unlock()
}

// SetSendResult scripts the outcome of SendText and SendMedia.
func (r *StubResource) SetSendResult(providerMessageID string, err error) {
	r.mu.Lock()
	r.sendID = providerMessageID
	r.sendErr = err
	r.mu.Unlock()
}

// SetFetchData registers attachment bytes served by FetchMediaByID.
func (r *StubResource) SetFetchData(id string, data []byte) {
	r.mu.Lock()
	if r.fetchData == nil {
		r.fetchData = make(map[string][]byte)
	}
	r.fetchData[id] = data
	r.mu.Unlock()
}

// EmitState pushes a state event onto the stream.
func (r *StubResource) EmitState(state provider.State, reason provider.DisconnectReason) {
	r.events <- provider.Event{Kind: provider.EventState, State: state, Reason: reason}
}

// EmitQR pushes a QR event onto the stream.
func (r *StubResource) EmitQR(payload string) {
	r.events <- provider.Event{Kind: provider.EventQR, QRPayload: payload}
}

// EmitMessage pushes a message event onto the stream.
func (r *StubResource) EmitMessage(raw *provider.RawMessage) {
	r.events <- provider.Event{Kind: provider.EventMessage, Message: raw}
}

// Connects returns how many times Connect was called.
func (r *StubResource) Connects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

// Disconnects returns how many times Disconnect was called.
func (r *StubResource) Disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

// Terminated reports whether Terminate was called.
func (r *StubResource) Terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

// LastSent returns the destination and text of the most recent send.
func (r *StubResource) LastSent() (to, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSentTo, r.lastSent
}

// StubFactory implements provider.Factory, minting StubResources and
// recording creations and credential purges.
type StubFactory struct {
	mu         sync.Mutex
	createErrs map[string]error
	connectErr error
	resources  []*StubResource
	created    []string
	purged     []string
}

func NewStubFactory() *StubFactory {
	return &StubFactory{createErrs: make(map[string]error)}
}

// FailCreate makes Create fail for the given resource identifier.
func (f *StubFactory) FailCreate(resourceID string, err error) {
	f.mu.Lock()
	f.createErrs[resourceID] = err
	f.mu.Unlock()
}

// FailConnect poisons Connect on every resource minted afterwards.
func (f *StubFactory) FailConnect(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

func (f *StubFactory) Create(ctx context.Context, accountID, resourceID string) (provider.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, resourceID)
	if err := f.createErrs[resourceID]; err != nil {
		return nil, err
	}
	r := NewStubResource(resourceID)
	r.connectErr = f.connectErr
	f.resources = append(f.resources, r)
	return r, nil
}

func (f *StubFactory) PurgeCredentials(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, accountID)
	return nil
}

// CreatedIDs returns the resource identifiers Create was asked for, in order.
func (f *StubFactory) CreatedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

// PurgedAccounts returns the accounts whose credentials were purged.
func (f *StubFactory) PurgedAccounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.purged...)
}

// LastResource returns the most recently minted resource, or nil.
func (f *StubFactory) LastResource() *StubResource {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.resources) == 0 {
		return nil
	}
	return f.resources[len(f.resources)-1]
}
