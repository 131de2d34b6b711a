package repo

import (
	"context"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

// DirectorySource fetches a platform's user or channel directory
type DirectorySource interface {
	Platform() domain.Platform

	// Credential returns the secret the client authenticates with. It is only
	// ever used to derive a cache fingerprint.
	Credential() string

	FetchDirectory(ctx context.Context, kind domain.DirectoryKind) (*domain.Directory, error)
}

// PlatformClient is the relay's view of one platform's API
type PlatformClient interface {
	DirectorySource

	// SendMessage posts a rendered payload and returns the created message's identity
	SendMessage(ctx context.Context, payload domain.RenderedPayload) (domain.SendResult, error)

	// FetchHistory returns messages newer than or equal to oldest, newest first.
	// An empty oldest returns the most recent messages.
	FetchHistory(ctx context.Context, channel, oldest string, limit int) ([]domain.RawMessage, error)

	// FetchThreadReplies returns replies of a thread newer than or equal to oldest
	FetchThreadReplies(ctx context.Context, channel, threadID, oldest string) ([]domain.RawMessage, error)
}
