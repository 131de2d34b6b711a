package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/biz"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
)

var (
	// ErrUnknownWorkspace is returned for requests naming an unregistered workspace
	ErrUnknownWorkspace = errors.New("unknown workspace")

	// ErrRunning is returned by Register once the orchestrator has started
	ErrRunning = errors.New("relay is running")
)

// cleanupInterval is how often stores needing explicit expiry are swept
const cleanupInterval = time.Hour

// Transport delivers live events of one platform to a sink
type Transport interface {
	Platform() domain.Platform

	// Start connects and returns once the connection is established or has failed
	Start(ctx context.Context, sink EventSink) error
	Stop()
}

// WebhookResult is a decoded webhook request
type WebhookResult struct {
	Challenge string
	Event     domain.InboundEvent
}

// WebhookDecoder verifies and decodes webhook requests of one platform
type WebhookDecoder interface {
	Decode(header http.Header, body []byte) (*WebhookResult, error)
}

// WebhookRequest is an inbound HTTP event callback
type WebhookRequest struct {
	Workspace string
	Platform  domain.Platform
	Header    http.Header
	Body      []byte
}

// WebhookResponse is what the HTTP layer answers with
type WebhookResponse struct {
	Challenge string `json:"challenge,omitempty"`
}

// Workspace is one tenant's relay configuration with its wired dependencies
type Workspace struct {
	ID           string
	Usecases     *biz.Usecases
	Clients      map[domain.Platform]repo.PlatformClient
	Transports   []Transport
	Webhooks     map[domain.Platform]WebhookDecoder
	PollPlatform domain.Platform
	PollChannels []string
	PollInterval time.Duration
	PollOptions  PollOptions
}

type workspaceRuntime struct {
	ws       Workspace
	pipeline *Pipeline
	push     *PushRelay
	poll     *PollRelay
	started  []Transport
}

// liveSink is what transports deliver to. Once the relay stops accepting,
// events are dropped even if a transport keeps receiving them.
type liveSink struct {
	*PushRelay
	accepting *atomic.Bool
}

func (s liveSink) Handle(ctx context.Context, ev domain.InboundEvent) error {
	if !s.accepting.Load() {
		s.log.Debug().Msg("Relay stopped, dropping push event")
		return nil
	}
	return s.PushRelay.Handle(ctx, ev)
}

// WorkspaceStatus reports one workspace's connections
type WorkspaceStatus struct {
	Connections  map[domain.Platform]domain.ConnState `json:"connections"`
	Connected    bool                                 `json:"connected"`
	PollChannels []string                             `json:"pollChannels,omitempty"`
}

// Status is the orchestrator's aggregate state
type Status struct {
	Running    bool                       `json:"running"`
	SessionID  string                     `json:"sessionId"`
	Workspaces map[string]WorkspaceStatus `json:"workspaces"`
	Counters   CounterSnapshot            `json:"counters"`
}

// Orchestrator owns workspace registrations and the relay lifecycle
type Orchestrator struct {
	store     repo.Store
	sessionID string
	counters  *Counters
	log       zerolog.Logger

	mu         sync.RWMutex
	workspaces map[string]*workspaceRuntime
	running    atomic.Bool
	accepting  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates an orchestrator over store. The store is closed by Close.
func NewOrchestrator(store repo.Store, log zerolog.Logger) *Orchestrator {
	sessionID := uuid.NewString()
	return &Orchestrator{
		store:      store,
		sessionID:  sessionID,
		counters:   &Counters{},
		log:        log.With().Str("session", sessionID).Logger(),
		workspaces: make(map[string]*workspaceRuntime),
	}
}

// Register adds a workspace. Configuration problems are returned as *domain.ConfigError.
func (o *Orchestrator) Register(ws Workspace) error {
	if o.running.Load() {
		return ErrRunning
	}
	if ws.ID == "" {
		return domain.NewConfigError("workspace.id", "is required")
	}
	if ws.Usecases == nil {
		return domain.NewConfigError("workspace."+ws.ID, "usecases are not configured")
	}
	if len(ws.Clients) == 0 {
		return domain.NewConfigError("workspace."+ws.ID, "no platform credentials configured")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.workspaces[ws.ID]; exists {
		return domain.NewConfigError("workspace.id", "duplicate workspace %q", ws.ID)
	}

	log := o.log.With().Str("workspace", ws.ID).Logger()
	rt := &workspaceRuntime{ws: ws}
	rt.pipeline = NewPipeline(ws.ID, ws.Usecases, ws.Clients, o.counters, log)
	rt.push = NewPushRelay(ws.ID, ws.Usecases, rt.pipeline, ws.Clients, o.counters, log)
	for _, t := range ws.Transports {
		rt.push.SetConnState(t.Platform(), domain.ConnDisconnected)
	}

	if len(ws.PollChannels) > 0 {
		src, ok := ws.Clients[ws.PollPlatform]
		if !ok {
			return domain.NewConfigError("workspace."+ws.ID+".poll", "no %s client to poll with", ws.PollPlatform)
		}
		if ws.PollInterval <= 0 {
			return domain.NewConfigError("workspace."+ws.ID+".poll.interval", "must be positive")
		}
		rt.poll = NewPollRelay(ws.ID, src, ws.Usecases, rt.pipeline, o.counters, ws.PollOptions, log)
		for _, ch := range ws.PollChannels {
			rt.poll.AddChannel(ch)
		}
	}

	o.workspaces[ws.ID] = rt
	log.Info().
		Int("transports", len(ws.Transports)).
		Int("poll_channels", len(ws.PollChannels)).
		Msg("Workspace registered")
	return nil
}

// Start connects every transport and starts the pollers. A transport that
// fails to connect aborts the start and stops everything already started.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.running.Load() {
		return ErrRunning
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.workspaces) == 0 {
		return domain.NewConfigError("workspaces", "no workspace registered")
	}

	o.ctx, o.cancel = context.WithCancel(ctx)
	o.accepting.Store(true)
	for _, id := range o.workspaceIDs() {
		rt := o.workspaces[id]
		sink := liveSink{PushRelay: rt.push, accepting: &o.accepting}
		for _, t := range rt.ws.Transports {
			rt.push.SetConnState(t.Platform(), domain.ConnConnecting)
			if err := t.Start(o.ctx, sink); err != nil {
				rt.push.SetConnState(t.Platform(), domain.ConnDisconnected)
				o.stopLocked()
				return fmt.Errorf("workspace %s: connect %s: %w", id, t.Platform(), err)
			}
			rt.started = append(rt.started, t)
		}
	}

	for _, id := range o.workspaceIDs() {
		if rt := o.workspaces[id]; rt.poll != nil {
			rt.poll.Start(o.ctx, rt.ws.PollInterval)
		}
	}

	if cleaner, ok := o.store.(interface {
		Cleanup(ctx context.Context) (int64, error)
	}); ok {
		o.wg.Add(1)
		go o.cleanupLoop(cleaner.Cleanup)
	}

	o.running.Store(true)
	o.log.Info().Int("workspaces", len(o.workspaces)).Msg("Relay started")
	return nil
}

// Stop stops pollers and transports. In-flight operations complete.
func (o *Orchestrator) Stop() {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.running.Load() {
		return
	}
	o.stopLocked()
	o.log.Info().Msg("Relay stopped")
}

// stopLocked must be called with mu held
func (o *Orchestrator) stopLocked() {
	o.accepting.Store(false)
	o.running.Store(false)
	for _, rt := range o.workspaces {
		if rt.poll != nil {
			rt.poll.Stop()
		}
		for _, t := range rt.started {
			t.Stop()
			rt.push.SetConnState(t.Platform(), domain.ConnDisconnected)
		}
		rt.started = nil
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Close stops the relay and closes the store
func (o *Orchestrator) Close() error {
	o.Stop()
	return o.store.Close()
}

func (o *Orchestrator) cleanupLoop(cleanup func(context.Context) (int64, error)) {
	defer o.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			n, err := cleanup(o.ctx)
			if err != nil {
				o.log.Warn().Err(err).Msg("Store cleanup failed")
				continue
			}
			if n > 0 {
				o.log.Debug().Int64("removed", n).Msg("Expired store entries removed")
			}
		}
	}
}

// Status reports the running state, per-workspace connections and counters
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st := Status{
		Running:    o.running.Load(),
		SessionID:  o.sessionID,
		Workspaces: make(map[string]WorkspaceStatus, len(o.workspaces)),
		Counters:   o.counters.Snapshot(),
	}
	for id, rt := range o.workspaces {
		conns := rt.push.ConnStates()
		// Poll-only and webhook-only workspaces are up whenever the relay runs
		connected := st.Running
		for _, s := range conns {
			if s != domain.ConnConnected {
				connected = false
			}
		}
		ws := WorkspaceStatus{Connections: conns, Connected: connected}
		if rt.poll != nil {
			ws.PollChannels = rt.poll.Channels()
		}
		st.Workspaces[id] = ws
	}
	return st
}

// HandleInboundWebhook answers verification challenges and dispatches events
// to the workspace's push relay. Events received while stopped are dropped.
func (o *Orchestrator) HandleInboundWebhook(ctx context.Context, req WebhookRequest) (WebhookResponse, error) {
	rt, err := o.workspace(req.Workspace)
	if err != nil {
		return WebhookResponse{}, err
	}
	decoder, ok := rt.ws.Webhooks[req.Platform]
	if !ok {
		return WebhookResponse{}, fmt.Errorf("%w: no %s webhook for workspace %s", ErrUnknownWorkspace, req.Platform, req.Workspace)
	}

	res, err := decoder.Decode(req.Header, req.Body)
	if err != nil {
		return WebhookResponse{}, err
	}
	if res.Challenge != "" {
		return WebhookResponse{Challenge: res.Challenge}, nil
	}
	if res.Event == nil {
		return WebhookResponse{}, nil
	}
	if !o.running.Load() {
		o.log.Debug().Str("workspace", req.Workspace).Msg("Relay stopped, dropping webhook event")
		return WebhookResponse{}, nil
	}
	return WebhookResponse{}, rt.push.Handle(ctx, res.Event)
}

// WasSentByUs reports whether (channel, ts) in workspace was produced by the relay
func (o *Orchestrator) WasSentByUs(ctx context.Context, workspace, channel, ts string) (bool, error) {
	rt, err := o.workspace(workspace)
	if err != nil {
		return false, err
	}
	return rt.ws.Usecases.Ledger.WasSentByUs(ctx, channel, ts)
}

func (o *Orchestrator) workspace(id string) (*workspaceRuntime, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rt, ok := o.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkspace, id)
	}
	return rt, nil
}

// workspaceIDs must be called with mu held
func (o *Orchestrator) workspaceIDs() []string {
	ids := make([]string, 0, len(o.workspaces))
	for id := range o.workspaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
