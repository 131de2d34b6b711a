package server

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	slackinfra "github.com/PLark-droid/lark-slack-connector/internal/infra/slack"
	"github.com/PLark-droid/lark-slack-connector/internal/service"
)

const defaultConnectTimeout = 30 * time.Second

// SlackSocketConfig holds the tokens of a Socket Mode connection
type SlackSocketConfig struct {
	BotToken string
	AppToken string // xapp- app-level token
	APIURL   string
	Debug    bool
}

// SlackTransport receives Slack events over Socket Mode
type SlackTransport struct {
	cfg     SlackSocketConfig
	timeout time.Duration
	log     zerolog.Logger

	client *socketmode.Client
	sink   service.EventSink
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSlackTransport creates a Socket Mode transport
func NewSlackTransport(cfg SlackSocketConfig, log zerolog.Logger) *SlackTransport {
	return &SlackTransport{
		cfg:     cfg,
		timeout: defaultConnectTimeout,
		log:     log.With().Str("component", "slack_socket").Logger(),
		ctx:     context.Background(),
	}
}

func (t *SlackTransport) Platform() domain.Platform {
	return domain.PlatformSlack
}

// Start opens the Socket Mode connection and returns once it is connected or has failed
func (t *SlackTransport) Start(ctx context.Context, sink service.EventSink) error {
	if t.cfg.AppToken == "" {
		return domain.NewConfigError("slack.app_token", "socket mode requires an app-level token")
	}
	t.sink = sink
	t.ctx, t.cancel = context.WithCancel(ctx)

	sdkLog := stdlog.New(t.log.With().Str("sdk", "slack").Logger(), "", 0)
	opts := []slack.Option{
		slack.OptionAppLevelToken(t.cfg.AppToken),
		slack.OptionLog(sdkLog),
		slack.OptionDebug(t.cfg.Debug),
	}
	if t.cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(t.cfg.APIURL))
	}
	api := slack.New(t.cfg.BotToken, opts...)
	t.client = socketmode.New(api,
		socketmode.OptionLog(sdkLog),
		socketmode.OptionDebug(t.cfg.Debug),
	)

	connected := make(chan struct{})
	failed := make(chan error, 1)

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		if err := t.client.RunContext(t.ctx); err != nil && t.ctx.Err() == nil {
			t.log.Error().Err(err).Msg("Socket mode stopped")
			sink.SetConnState(domain.PlatformSlack, domain.ConnDisconnected)
			select {
			case failed <- err:
			default:
			}
		}
	}()
	go t.loop(connected, failed)

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case <-connected:
		return nil
	case err := <-failed:
		t.Stop()
		return fmt.Errorf("slack socket mode: %w", err)
	case <-timer.C:
		t.Stop()
		return errors.New("slack socket mode: timed out waiting for connection")
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// Stop closes the connection and waits for the event loop to exit
func (t *SlackTransport) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	t.log.Info().Msg("Socket mode transport stopped")
}

func (t *SlackTransport) loop(connected chan<- struct{}, failed chan<- error) {
	defer t.wg.Done()
	var once sync.Once

	for {
		select {
		case <-t.ctx.Done():
			return
		case evt, ok := <-t.client.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				t.sink.SetConnState(domain.PlatformSlack, domain.ConnConnecting)
			case socketmode.EventTypeConnected:
				t.sink.SetConnState(domain.PlatformSlack, domain.ConnConnected)
				once.Do(func() { close(connected) })
			case socketmode.EventTypeInvalidAuth:
				select {
				case failed <- domain.NewConfigError("slack.app_token", "invalid auth"):
				default:
				}
			case socketmode.EventTypeConnectionError, socketmode.EventTypeDisconnect:
				t.log.Warn().Interface("data", evt.Data).Msg("Socket mode connection interrupted")
				t.sink.SetConnState(domain.PlatformSlack, domain.ConnDisconnected)
			case socketmode.EventTypeEventsAPI:
				if t.handle(t.ctx, evt) && evt.Request != nil {
					t.client.Ack(*evt.Request)
				}
			default:
				if evt.Request != nil {
					t.client.Ack(*evt.Request)
				}
			}
		}
	}
}

// handle passes an Events API envelope to the sink. It reports whether the
// envelope should be acknowledged; unacknowledged envelopes are redelivered.
func (t *SlackTransport) handle(ctx context.Context, evt socketmode.Event) bool {
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		t.log.Debug().Str("type", string(evt.Type)).Msg("Ignoring unexpected socket mode payload")
		return true
	}
	if err := t.sink.Handle(context.WithoutCancel(ctx), slackinfra.FromEventsAPI(apiEvent)); err != nil {
		t.log.Error().Err(err).Msg("Failed to handle event, leaving it for redelivery")
		return false
	}
	return true
}
