package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
)

// DefaultIdentityTTL is how long a fetched directory is served from cache
const DefaultIdentityTTL = 300 * time.Second

// mentionRe matches "@token" at the start of the text or after whitespace
var mentionRe = regexp.MustCompile(`(^|\s)@([\p{L}\p{N}_.\-]+)`)

// IdentityUsecase resolves names to platform ids through a per-credential
// directory cache
type IdentityUsecase struct {
	store     repo.Store
	workspace string
	ttl       time.Duration
	log       zerolog.Logger
}

// NewIdentityUsecase creates a resolver caching directories in store
func NewIdentityUsecase(store repo.Store, workspace string, log zerolog.Logger) *IdentityUsecase {
	return &IdentityUsecase{
		store:     store,
		workspace: workspace,
		ttl:       DefaultIdentityTTL,
		log:       log.With().Str("component", "identity").Logger(),
	}
}

// Fingerprint derives a non-reversible cache key fragment from a credential
func Fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:12]
}

func (uc *IdentityUsecase) cacheKey(src repo.DirectorySource, kind domain.DirectoryKind) string {
	return fmt.Sprintf("identity:%s:%s:%s", uc.workspace, Fingerprint(src.Credential()), kind)
}

// Directory returns the cached directory of src, fetching it on a miss
func (uc *IdentityUsecase) Directory(ctx context.Context, src repo.DirectorySource, kind domain.DirectoryKind) (*domain.Directory, error) {
	key := uc.cacheKey(src, kind)
	if raw, ok, err := uc.store.Get(ctx, key); err != nil {
		return nil, fmt.Errorf("read directory cache: %w", err)
	} else if ok {
		dir := domain.NewDirectory()
		if err := json.Unmarshal([]byte(raw), dir); err == nil {
			return dir, nil
		}
		uc.log.Warn().Str("kind", string(kind)).Msg("Discarding unreadable directory cache entry")
	}

	dir, err := src.FetchDirectory(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", src.Platform(), kind, err)
	}
	data, err := json.Marshal(dir)
	if err != nil {
		return nil, fmt.Errorf("encode directory: %w", err)
	}
	if err := uc.store.Put(ctx, key, string(data), uc.ttl); err != nil {
		return nil, fmt.Errorf("write directory cache: %w", err)
	}
	uc.log.Debug().
		Str("platform", string(src.Platform())).
		Str("kind", string(kind)).
		Int("entries", len(dir.Names)).
		Msg("Directory cache refreshed")
	return dir, nil
}

// Invalidate drops the cached directory so the next lookup refetches it
func (uc *IdentityUsecase) Invalidate(ctx context.Context, src repo.DirectorySource, kind domain.DirectoryKind) error {
	return uc.store.Delete(ctx, uc.cacheKey(src, kind))
}

// ResolveMentions replaces @name tokens with dst's native mention syntax.
// Tokens that do not resolve are left verbatim, and lookup failures leave the
// text unchanged.
func (uc *IdentityUsecase) ResolveMentions(ctx context.Context, text string, dst repo.DirectorySource) string {
	if !strings.Contains(text, "@") {
		return text
	}
	dir, err := uc.Directory(ctx, dst, domain.DirectoryUsers)
	if err != nil {
		uc.log.Warn().Err(err).Msg("Mention resolution skipped")
		return text
	}

	return mentionRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := mentionRe.FindStringSubmatch(m)
		lead, token := sub[1], sub[2]

		name, tail := token, ""
		id, ok := dir.Lookup(name)
		for !ok && strings.ContainsAny(name[len(name)-1:], ".-") && len(name) > 1 {
			tail = name[len(name)-1:] + tail
			name = name[:len(name)-1]
			id, ok = dir.Lookup(name)
		}
		if !ok {
			return m
		}
		display, found := dir.DisplayName(id)
		if !found {
			display = name
		}
		member := domain.Member{ID: id, Name: display}
		return lead + member.FormatMention(dst.Platform()) + tail
	})
}

// ResolveChannelReference looks up a channel by name on dst. A miss is not an error.
func (uc *IdentityUsecase) ResolveChannelReference(ctx context.Context, name string, dst repo.DirectorySource) (string, bool) {
	dir, err := uc.Directory(ctx, dst, domain.DirectoryChannels)
	if err != nil {
		uc.log.Warn().Err(err).Str("channel", name).Msg("Channel resolution skipped")
		return "", false
	}
	return dir.Lookup(strings.TrimPrefix(name, "#"))
}

// DisplayName returns the display name of a user or channel id on src
func (uc *IdentityUsecase) DisplayName(ctx context.Context, src repo.DirectorySource, kind domain.DirectoryKind, id string) (string, bool) {
	if id == "" {
		return "", false
	}
	dir, err := uc.Directory(ctx, src, kind)
	if err != nil {
		uc.log.Debug().Err(err).Str("id", id).Msg("Display name lookup failed")
		return "", false
	}
	return dir.DisplayName(id)
}

// Names returns a NameLookup bound to src and ctx
func (uc *IdentityUsecase) Names(ctx context.Context, src repo.DirectorySource) NameLookup {
	return func(kind domain.DirectoryKind, id string) (string, bool) {
		return uc.DisplayName(ctx, src, kind, id)
	}
}
