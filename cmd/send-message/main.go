package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
	"github.com/PLark-droid/lark-slack-connector/internal/conf"
	"github.com/PLark-droid/lark-slack-connector/internal/data"
	"github.com/PLark-droid/lark-slack-connector/internal/infra/lark"
)

// send-message posts a test message through the relay's platform clients,
// using the same environment as the connector.
func main() {
	_ = godotenv.Load()

	if len(os.Args) < 4 {
		fmt.Println("Usage: send-message <slack|lark> <channel_id|webhook> <message>")
		os.Exit(1)
	}
	platform := domain.Platform(os.Args[1])
	channel := os.Args[2]
	message := os.Args[3]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	env, err := conf.LoadEnv(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	client, err := newClient(env, platform)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	res, err := client.SendMessage(ctx, domain.RenderedPayload{Platform: platform, Channel: channel, Text: message})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Message sent successfully! ts=%s id=%s\n", res.Timestamp, res.ID)
}

func newClient(env conf.Env, platform domain.Platform) (repo.PlatformClient, error) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	switch platform {
	case domain.PlatformSlack:
		if env.SlackBotToken == "" {
			return nil, fmt.Errorf("SLACK_BOT_TOKEN must be set")
		}
		return data.NewSlackRepo(data.SlackConfig{
			BotToken:   env.SlackBotToken,
			UserToken:  env.SlackUserToken,
			SendAsUser: env.SendAsUser,
		}, log), nil
	case domain.PlatformLark:
		var client *lark.Client
		if env.LarkAppID != "" && env.LarkAppSecret != "" {
			var opts []lark.Option
			if env.LarkBaseURL != "" {
				opts = append(opts, lark.WithBaseURL(env.LarkBaseURL))
			}
			client = lark.NewClient(env.LarkAppID, env.LarkAppSecret, log, opts...)
		}
		var webhook *lark.WebhookSender
		if env.LarkWebhookURL != "" {
			webhook = lark.NewWebhookSender(env.LarkWebhookURL)
		}
		if client == nil && webhook == nil {
			return nil, fmt.Errorf("LARK_APP_ID/LARK_APP_SECRET or LARK_WEBHOOK_URL must be set")
		}
		return data.NewLarkRepo(client, webhook, log), nil
	default:
		return nil, fmt.Errorf("unknown platform %q, want slack or lark", platform)
	}
}
