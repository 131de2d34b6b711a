package main

import (
	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/biz"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
	"github.com/PLark-droid/lark-slack-connector/internal/conf"
	"github.com/PLark-droid/lark-slack-connector/internal/data"
	"github.com/PLark-droid/lark-slack-connector/internal/infra/lark"
	"github.com/PLark-droid/lark-slack-connector/internal/server"
	"github.com/PLark-droid/lark-slack-connector/internal/service"
)

// buildWorkspace wires the clients, usecases, transports and webhook decoders of one workspace
func buildWorkspace(wc conf.WorkspaceConfig, env conf.Env, store repo.Store, log zerolog.Logger) (service.Workspace, error) {
	log = log.With().Str("workspace", wc.ID).Logger()

	uc, err := biz.NewUsecases(store, wc.Rules(), nil, log)
	if err != nil {
		return service.Workspace{}, err
	}

	slackRepo := data.NewSlackRepo(data.SlackConfig{
		BotToken:   wc.Slack.BotToken,
		UserToken:  wc.Slack.UserToken,
		SendAsUser: wc.Slack.SendAsUser,
		Debug:      env.Debug,
	}, log)

	var larkClient *lark.Client
	if wc.Lark.HasApp() {
		var opts []lark.Option
		if wc.Lark.BaseURL != "" {
			opts = append(opts, lark.WithBaseURL(wc.Lark.BaseURL))
		}
		larkClient = lark.NewClient(wc.Lark.AppID, wc.Lark.AppSecret, log, opts...)
	}
	var webhook *lark.WebhookSender
	if wc.Lark.WebhookURL != "" {
		webhook = lark.NewWebhookSender(wc.Lark.WebhookURL)
	}

	ws := service.Workspace{
		ID:       wc.ID,
		Usecases: uc,
		Clients: map[domain.Platform]repo.PlatformClient{
			domain.PlatformSlack: slackRepo,
			domain.PlatformLark:  data.NewLarkRepo(larkClient, webhook, log),
		},
		Webhooks: make(map[domain.Platform]service.WebhookDecoder),
	}

	switch wc.Slack.Mode {
	case conf.SlackModeSocket:
		ws.Transports = append(ws.Transports, server.NewSlackTransport(server.SlackSocketConfig{
			BotToken: wc.Slack.BotToken,
			AppToken: wc.Slack.AppToken,
			Debug:    env.Debug,
		}, log))
	case conf.SlackModeWebhook:
		ws.Webhooks[domain.PlatformSlack] = server.NewSlackWebhook(wc.Slack.SigningSecret)
	}

	switch wc.Lark.Mode {
	case conf.LarkModeWS:
		ws.Transports = append(ws.Transports, server.NewLarkTransport(wc.Lark.AppID, wc.Lark.AppSecret, log))
	case conf.LarkModeWebhook:
		ws.Webhooks[domain.PlatformLark] = server.NewLarkWebhook(wc.Lark.VerificationToken)
	}

	if len(wc.Poll.Channels) > 0 {
		ws.PollPlatform = wc.Poll.Platform
		ws.PollChannels = wc.Poll.Channels
		ws.PollInterval = wc.Poll.Interval
		ws.PollOptions = service.PollOptions{
			HistoryLimit:    wc.Poll.HistoryLimit,
			ThreadScanDepth: wc.Poll.ThreadScanDepth,
			IncludeThreads:  wc.Poll.IncludeThreads,
		}
	}
	return ws, nil
}
