package conf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/PLark-droid/lark-slack-connector/internal/biz"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/data"
)

// Transport modes
const (
	SlackModeSocket  = "socket"
	SlackModeWebhook = "webhook"
	LarkModeWS       = "websocket"
	LarkModeWebhook  = "webhook"
	ModeNone         = "none"
)

// DefaultPollInterval applies when a workspace polls without an interval
const DefaultPollInterval = 30 * time.Second

// Env holds process settings and the single-workspace fallback read from the environment
type Env struct {
	ListenAddr         string        `env:"LISTEN_ADDR,default=:3456"`
	LedgerBackend      string        `env:"LEDGER_BACKEND,default=sqlite"`
	RedisURL           string        `env:"REDIS_URL"`
	SQLitePath         string        `env:"SQLITE_PATH"`
	LogLevel           string        `env:"LOG_LEVEL,default=info"`
	LogFormat          string        `env:"LOG_FORMAT,default=json"`
	StatusLineInterval time.Duration `env:"STATUS_LINE_INTERVAL"`
	WorkspacesFile     string        `env:"WORKSPACES_FILE"`
	Debug              bool          `env:"DEBUG"`

	// Single workspace, used when no workspaces file is configured
	WorkspaceID           string        `env:"WORKSPACE_ID,default=default"`
	SlackMode             string        `env:"SLACK_MODE"`
	SlackBotToken         string        `env:"SLACK_BOT_TOKEN"`
	SlackAppToken         string        `env:"SLACK_APP_TOKEN"`
	SlackSigningSecret    string        `env:"SLACK_SIGNING_SECRET"`
	SlackUserToken        string        `env:"SLACK_USER_TOKEN"`
	SendAsUser            bool          `env:"SEND_AS_USER"`
	LarkWebhookURL        string        `env:"LARK_WEBHOOK_URL"`
	LarkAppID             string        `env:"LARK_APP_ID"`
	LarkAppSecret         string        `env:"LARK_APP_SECRET"`
	LarkVerificationToken string        `env:"LARK_VERIFICATION_TOKEN"`
	LarkBaseURL           string        `env:"LARK_BASE_URL"`
	LarkMode              string        `env:"LARK_MODE"`
	DefaultSlackChannel   string        `env:"DEFAULT_SLACK_CHANNEL"`
	DefaultLarkChat       string        `env:"DEFAULT_LARK_CHAT"`
	LarkPollChats         []string      `env:"LARK_POLL_CHATS"`
	PollInterval          time.Duration `env:"POLL_INTERVAL,default=30s"`
}

// Config is the complete relay configuration
type Config struct {
	Env        Env
	Workspaces []WorkspaceConfig
}

// WorkspaceConfig is one tenant's credentials and relay rules
type WorkspaceConfig struct {
	ID       string                  `yaml:"id"`
	Slack    SlackConfig             `yaml:"slack"`
	Lark     LarkConfig              `yaml:"lark"`
	Mappings []domain.ChannelMapping `yaml:"mappings"`
	Defaults DefaultsConfig          `yaml:"defaults"`
	Filter   domain.MessageFilter    `yaml:"filter"`
	Format   *domain.FormatOptions   `yaml:"format"` // nil means domain.DefaultFormatOptions
	Poll     PollConfig              `yaml:"poll"`
}

// SlackConfig holds a workspace's Slack app credentials
type SlackConfig struct {
	Mode          string `yaml:"mode"` // socket, webhook or none
	BotToken      string `yaml:"bot_token"`
	AppToken      string `yaml:"app_token"`
	SigningSecret string `yaml:"signing_secret"`
	UserToken     string `yaml:"user_token"`
	SendAsUser    bool   `yaml:"send_as_user"`
}

// LarkConfig holds a workspace's Lark app credentials
type LarkConfig struct {
	Mode              string `yaml:"mode"` // websocket, webhook or none
	AppID             string `yaml:"app_id"`
	AppSecret         string `yaml:"app_secret"`
	VerificationToken string `yaml:"verification_token"`
	WebhookURL        string `yaml:"webhook_url"`
	BaseURL           string `yaml:"base_url"`
}

// HasApp reports whether Lark app credentials are configured
func (c LarkConfig) HasApp() bool {
	return c.AppID != "" && c.AppSecret != ""
}

// DefaultsConfig names the fallback destination per direction
type DefaultsConfig struct {
	SlackToLark string `yaml:"slack_to_lark"`
	LarkToSlack string `yaml:"lark_to_slack"`
}

// PollConfig lists channels read through history APIs instead of live events
type PollConfig struct {
	Platform        domain.Platform `yaml:"platform"`
	Channels        []string        `yaml:"channels"`
	Interval        time.Duration   `yaml:"interval"`
	IncludeThreads  bool            `yaml:"include_threads"`
	HistoryLimit    int             `yaml:"history_limit"`
	ThreadScanDepth int             `yaml:"thread_scan_depth"`
}

type workspacesFile struct {
	Workspaces []WorkspaceConfig `yaml:"workspaces"`
}

// Load reads the environment and the workspaces file, then validates the result
func Load(ctx context.Context) (*Config, error) {
	env, err := LoadEnv(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Env: env}
	if env.WorkspacesFile != "" {
		cfg.Workspaces, err = LoadWorkspaces(env.WorkspacesFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg.Workspaces = []WorkspaceConfig{env.Workspace()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv parses process settings from the environment
func LoadEnv(ctx context.Context) (Env, error) {
	var env Env
	if err := envconfig.Process(ctx, &env); err != nil {
		return Env{}, fmt.Errorf("parsing env vars: %w", err)
	}
	if env.SQLitePath == "" {
		homeDir, _ := os.UserHomeDir()
		env.SQLitePath = filepath.Join(homeDir, ".lark-slack-connector", "ledger.db")
	}
	return env, nil
}

// LoadWorkspaces reads a YAML workspaces file, expanding ${VAR} references
func LoadWorkspaces(path string) ([]WorkspaceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workspaces file %s: %w", path, err)
	}

	var raw workspacesFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
		return nil, domain.NewConfigError("workspaces_file", "parse %s: %v", path, err)
	}
	for i := range raw.Workspaces {
		raw.Workspaces[i].applyDefaults()
	}
	return raw.Workspaces, nil
}

// Workspace builds the single workspace described by the environment
func (e Env) Workspace() WorkspaceConfig {
	ws := WorkspaceConfig{
		ID: e.WorkspaceID,
		Slack: SlackConfig{
			Mode:          e.SlackMode,
			BotToken:      e.SlackBotToken,
			AppToken:      e.SlackAppToken,
			SigningSecret: e.SlackSigningSecret,
			UserToken:     e.SlackUserToken,
			SendAsUser:    e.SendAsUser,
		},
		Lark: LarkConfig{
			Mode:              e.LarkMode,
			AppID:             e.LarkAppID,
			AppSecret:         e.LarkAppSecret,
			VerificationToken: e.LarkVerificationToken,
			WebhookURL:        e.LarkWebhookURL,
			BaseURL:           e.LarkBaseURL,
		},
		Defaults: DefaultsConfig{
			SlackToLark: e.DefaultLarkChat,
			LarkToSlack: e.DefaultSlackChannel,
		},
	}
	if ws.Defaults.SlackToLark == "" && e.LarkWebhookURL != "" {
		ws.Defaults.SlackToLark = data.WebhookChannel
	}
	if len(e.LarkPollChats) > 0 {
		ws.Poll = PollConfig{
			Platform: domain.PlatformLark,
			Channels: e.LarkPollChats,
			Interval: e.PollInterval,
		}
	}
	ws.applyDefaults()
	return ws
}

func (w *WorkspaceConfig) applyDefaults() {
	if w.Slack.Mode == "" {
		switch {
		case w.Slack.AppToken != "":
			w.Slack.Mode = SlackModeSocket
		case w.Slack.SigningSecret != "":
			w.Slack.Mode = SlackModeWebhook
		default:
			w.Slack.Mode = ModeNone
		}
	}
	if w.Lark.Mode == "" {
		switch {
		case w.Lark.HasApp() && len(w.Poll.Channels) > 0 && w.Poll.Platform == domain.PlatformLark:
			w.Lark.Mode = ModeNone
		case w.Lark.HasApp() && w.Lark.VerificationToken != "":
			w.Lark.Mode = LarkModeWebhook
		case w.Lark.HasApp():
			w.Lark.Mode = LarkModeWS
		default:
			w.Lark.Mode = ModeNone
		}
	}
	if len(w.Poll.Channels) > 0 && w.Poll.Interval == 0 {
		w.Poll.Interval = DefaultPollInterval
	}
}

// FormatOptions returns the configured formatting or the defaults
func (w *WorkspaceConfig) FormatOptions() domain.FormatOptions {
	if w.Format == nil {
		return domain.DefaultFormatOptions()
	}
	return *w.Format
}

// Rules converts the workspace's relay rules for the usecase layer
func (w *WorkspaceConfig) Rules() biz.Rules {
	defaults := make(map[domain.Direction]string)
	if w.Defaults.SlackToLark != "" {
		defaults[domain.DirectionSlackToLark] = w.Defaults.SlackToLark
	}
	if w.Defaults.LarkToSlack != "" {
		defaults[domain.DirectionLarkToSlack] = w.Defaults.LarkToSlack
	}
	return biz.Rules{
		Workspace: w.ID,
		Filter:    w.Filter,
		Mappings:  w.Mappings,
		Defaults:  defaults,
		Format:    w.FormatOptions(),
	}
}

// StoreConfig returns the ledger store settings
func (c *Config) StoreConfig() data.StoreConfig {
	return data.StoreConfig{
		Backend:    c.Env.LedgerBackend,
		RedisURL:   c.Env.RedisURL,
		SQLitePath: c.Env.SQLitePath,
	}
}

// Validate checks the whole configuration. Problems are reported as *domain.ConfigError.
func (c *Config) Validate() error {
	switch c.Env.LedgerBackend {
	case data.BackendMemory, data.BackendSQLite:
	case data.BackendRedis:
		if c.Env.RedisURL == "" {
			return domain.NewConfigError("REDIS_URL", "required for the redis ledger backend")
		}
	default:
		return domain.NewConfigError("LEDGER_BACKEND", "unknown backend %q", c.Env.LedgerBackend)
	}

	if len(c.Workspaces) == 0 {
		return domain.NewConfigError("workspaces", "at least one workspace is required")
	}
	seen := make(map[string]bool)
	for i := range c.Workspaces {
		ws := &c.Workspaces[i]
		if err := ws.Validate(); err != nil {
			return err
		}
		if seen[ws.ID] {
			return domain.NewConfigError("workspaces", "duplicate workspace id %q", ws.ID)
		}
		seen[ws.ID] = true
	}
	return nil
}

// Validate checks one workspace
func (w *WorkspaceConfig) Validate() error {
	if w.ID == "" {
		return domain.NewConfigError("workspace.id", "required")
	}
	field := func(name string) string { return "workspace." + w.ID + "." + name }

	if w.Slack.BotToken == "" {
		return domain.NewConfigError(field("slack.bot_token"), "required")
	}
	switch w.Slack.Mode {
	case SlackModeSocket:
		if w.Slack.AppToken == "" {
			return domain.NewConfigError(field("slack.app_token"), "required for socket mode")
		}
	case SlackModeWebhook:
		if w.Slack.SigningSecret == "" {
			return domain.NewConfigError(field("slack.signing_secret"), "required for webhook mode")
		}
	case ModeNone:
	default:
		return domain.NewConfigError(field("slack.mode"), "unknown mode %q", w.Slack.Mode)
	}
	if w.Slack.SendAsUser && w.Slack.UserToken == "" {
		return domain.NewConfigError(field("slack.user_token"), "required when send_as_user is set")
	}

	if !w.Lark.HasApp() && w.Lark.WebhookURL == "" {
		return domain.NewConfigError(field("lark"), "app credentials or a webhook url are required")
	}
	switch w.Lark.Mode {
	case LarkModeWS:
		if !w.Lark.HasApp() {
			return domain.NewConfigError(field("lark.app_id"), "app credentials are required for websocket mode")
		}
	case LarkModeWebhook:
		if !w.Lark.HasApp() || w.Lark.VerificationToken == "" {
			return domain.NewConfigError(field("lark.verification_token"), "app credentials and a verification token are required for webhook mode")
		}
	case ModeNone:
	default:
		return domain.NewConfigError(field("lark.mode"), "unknown mode %q", w.Lark.Mode)
	}

	if err := domain.ValidateMappings(w.Mappings); err != nil {
		return err
	}
	if !w.Lark.HasApp() {
		for _, m := range w.Mappings {
			if m.Direction != domain.DirectionSlackToLark || m.Dest != data.WebhookChannel {
				return domain.NewConfigError(field("mappings"), "only slack_to_lark mappings to %q are possible without lark app credentials", data.WebhookChannel)
			}
		}
	}
	if (w.Defaults.SlackToLark == data.WebhookChannel || hasWebhookDest(w.Mappings)) && w.Lark.WebhookURL == "" {
		return domain.NewConfigError(field("lark.webhook_url"), "required to deliver to %q", data.WebhookChannel)
	}

	if err := w.Filter.MuteTimeRange.Validate(); err != nil {
		return domain.NewConfigError(field("filter.mute_time_range"), "%v", err)
	}
	if _, err := w.FormatOptions().Location(); err != nil {
		return domain.NewConfigError(field("format.timezone"), "%v", err)
	}

	if len(w.Poll.Channels) > 0 {
		switch w.Poll.Platform {
		case domain.PlatformSlack:
		case domain.PlatformLark:
			if !w.Lark.HasApp() {
				return domain.NewConfigError(field("poll"), "polling lark requires app credentials")
			}
		default:
			return domain.NewConfigError(field("poll.platform"), "must be slack or lark, got %q", w.Poll.Platform)
		}
		if w.Poll.Interval <= 0 {
			return domain.NewConfigError(field("poll.interval"), "must be positive")
		}
	}
	return nil
}

func hasWebhookDest(mappings []domain.ChannelMapping) bool {
	for _, m := range mappings {
		if m.Dest == data.WebhookChannel || (m.Direction == domain.DirectionBidirectional && m.Source == data.WebhookChannel) {
			return true
		}
	}
	return false
}
