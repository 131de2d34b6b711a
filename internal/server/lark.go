package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/infra/lark"
	"github.com/PLark-droid/lark-slack-connector/internal/service"
)

// defaultConnectGrace is how long a websocket start may fail before the
// connection is considered established. The SDK's Start blocks for the
// lifetime of the connection and only returns on failure.
const defaultConnectGrace = 3 * time.Second

// eventQueueSize bounds the events waiting for the worker
const eventQueueSize = 256

// wsConn is one SDK websocket client. The SDK offers no way to close it, so
// it outlives Stop and is reused by the next Start.
type wsConn struct {
	client *larkws.Client
	done   chan struct{}
	err    error
}

func (c *wsConn) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// LarkTransport receives Lark events over the long-lived websocket connection.
// Events are handled one at a time, in arrival order, by a single worker.
type LarkTransport struct {
	appID     string
	appSecret string
	grace     time.Duration
	log       zerolog.Logger

	conn *wsConn

	mu     sync.RWMutex
	events chan domain.InboundEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLarkTransport creates a websocket transport for a Lark app
func NewLarkTransport(appID, appSecret string, log zerolog.Logger) *LarkTransport {
	return &LarkTransport{
		appID:     appID,
		appSecret: appSecret,
		grace:     defaultConnectGrace,
		log:       log.With().Str("component", "lark_ws").Logger(),
		ctx:       context.Background(),
	}
}

func (t *LarkTransport) Platform() domain.Platform {
	return domain.PlatformLark
}

// Start connects the websocket and returns once it is up or has failed
func (t *LarkTransport) Start(ctx context.Context, sink service.EventSink) error {
	runCtx := t.run(ctx, sink)

	sink.SetConnState(domain.PlatformLark, domain.ConnConnecting)
	conn, err := t.connect(ctx)
	if err != nil {
		t.halt()
		sink.SetConnState(domain.PlatformLark, domain.ConnDisconnected)
		return err
	}

	sink.SetConnState(domain.PlatformLark, domain.ConnConnected)
	t.wg.Add(1)
	go t.watch(runCtx, sink, conn)
	return nil
}

// run starts accepting events and the worker that hands them to sink
func (t *LarkTransport) run(ctx context.Context, sink service.EventSink) context.Context {
	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan domain.InboundEvent, eventQueueSize)

	t.mu.Lock()
	t.ctx, t.cancel, t.events = runCtx, cancel, events
	t.mu.Unlock()

	t.wg.Add(1)
	go t.work(runCtx, sink, events)
	return runCtx
}

// connect returns the running websocket client, starting one if there is none
func (t *LarkTransport) connect(ctx context.Context) (*wsConn, error) {
	if t.conn != nil && !t.conn.exited() {
		t.log.Info().Msg("Reusing websocket connection")
		return t.conn, nil
	}

	// Handlers must return quickly so the SDK can ACK, otherwise Lark redelivers
	handler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(t.onMessage).
		OnP2ChatUpdatedV1(t.onChatUpdated)

	conn := &wsConn{
		client: larkws.NewClient(t.appID, t.appSecret,
			larkws.WithEventHandler(handler),
			larkws.WithLogLevel(larkcore.LogLevelInfo),
			larkws.WithLogger(lark.NewLogger(t.log)),
		),
		done: make(chan struct{}),
	}

	t.log.Info().Msg("Starting websocket connection")
	go func() {
		conn.err = conn.client.Start(context.Background())
		close(conn.done)
	}()

	select {
	case <-conn.done:
		return nil, fmt.Errorf("lark websocket: %w", conn.err)
	case <-ctx.Done():
		// The client keeps connecting and is picked up by the next Start
		t.conn = conn
		return nil, ctx.Err()
	case <-time.After(t.grace):
	}
	t.conn = conn
	return conn, nil
}

func (t *LarkTransport) watch(ctx context.Context, sink service.EventSink, conn *wsConn) {
	defer t.wg.Done()
	select {
	case <-ctx.Done():
	case <-conn.done:
		t.log.Error().Err(conn.err).Msg("Websocket connection lost")
		sink.SetConnState(domain.PlatformLark, domain.ConnDisconnected)
	}
}

func (t *LarkTransport) work(ctx context.Context, sink service.EventSink, events <-chan domain.InboundEvent) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := sink.Handle(context.WithoutCancel(ctx), ev); err != nil {
				t.log.Error().Err(err).Msg("Failed to handle event")
			}
		}
	}
}

// Stop stops accepting events and waits for the event being handled.
// Events arriving afterwards are dropped.
func (t *LarkTransport) Stop() {
	t.halt()
	t.log.Info().Msg("Websocket transport stopped")
}

func (t *LarkTransport) halt() {
	// Cancel before locking so a dispatch blocked on a full queue lets go
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Lock()
	t.events = nil
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *LarkTransport) onMessage(ctx context.Context, ev *larkim.P2MessageReceiveV1) error {
	if ev == nil {
		return nil
	}
	t.dispatch(lark.InboundMessage(ev.Event))
	return nil
}

func (t *LarkTransport) onChatUpdated(ctx context.Context, ev *larkim.P2ChatUpdatedV1) error {
	if ev == nil || ev.Event == nil {
		return nil
	}
	name := ""
	if ev.Event.AfterChange != nil && ev.Event.AfterChange.Name != nil {
		name = *ev.Event.AfterChange.Name
	}
	chatID := ""
	if ev.Event.ChatId != nil {
		chatID = *ev.Event.ChatId
	}
	t.dispatch(lark.ChatRenamed(chatID, name))
	return nil
}

// dispatch queues ev for the worker, or drops it when the transport is stopped
func (t *LarkTransport) dispatch(ev domain.InboundEvent) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.events == nil || t.ctx.Err() != nil {
		t.log.Debug().Msg("Transport stopped, dropping event")
		return
	}
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}
