package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
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

// debug-api inspects what the relay sees:
//
//	debug-api history <slack|lark> <channel_id> [oldest]   latest messages, oldest first
//	debug-api status [base_url]                            status of a running connector
func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "history":
		if len(os.Args) < 4 {
			usage()
		}
		oldest := ""
		if len(os.Args) > 4 {
			oldest = os.Args[4]
		}
		err = printHistory(ctx, domain.Platform(os.Args[2]), os.Args[3], oldest)
	case "status":
		baseURL := "http://127.0.0.1:3456"
		if len(os.Args) > 2 {
			baseURL = os.Args[2]
		}
		err = printStatus(ctx, baseURL)
	default:
		usage()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: debug-api history <slack|lark> <channel_id> [oldest]")
	fmt.Println("       debug-api status [base_url]")
	os.Exit(1)
}

func printHistory(ctx context.Context, platform domain.Platform, channel, oldest string) error {
	env, err := conf.LoadEnv(ctx)
	if err != nil {
		return err
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	var client repo.PlatformClient
	switch platform {
	case domain.PlatformSlack:
		client = data.NewSlackRepo(data.SlackConfig{BotToken: env.SlackBotToken, Debug: env.Debug}, log)
	case domain.PlatformLark:
		var opts []lark.Option
		if env.LarkBaseURL != "" {
			opts = append(opts, lark.WithBaseURL(env.LarkBaseURL))
		}
		client = data.NewLarkRepo(lark.NewClient(env.LarkAppID, env.LarkAppSecret, log, opts...), nil, log)
	default:
		return fmt.Errorf("unknown platform %q", platform)
	}

	msgs, err := client.FetchHistory(ctx, channel, oldest, 20)
	if err != nil {
		return err
	}
	fmt.Printf("=== %s %s: %d messages ===\n", platform, channel, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		sender := m.SenderID
		if m.BotID != "" || m.SenderType == "app" {
			sender += " [bot]"
		}
		fmt.Printf("[%s] %s %s (%s) thread=%s replies=%d\n  %s\n",
			m.Timestamp, m.MessageID, sender, m.MsgType, m.ThreadID, m.ReplyCount, lark.Truncate(m.Content, 120))
	}
	return nil
}

func printStatus(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status returned %d: %s", resp.StatusCode, body)
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		return err
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}
