package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

// Decision is the outcome of evaluating one message
type Decision struct {
	Forward      bool
	Destinations []domain.Destination
	Reason       string // why the message was dropped; empty when forwarded
}

// FilterUsecase decides whether a message passes the workspace's filter
// and where it is forwarded to
type FilterUsecase struct {
	filter          domain.MessageFilter
	mappings        []domain.ChannelMapping
	defaults        map[domain.Direction]string
	includePatterns []*regexp.Regexp
	excludePatterns []*regexp.Regexp
	now             func() time.Time
}

// NewFilterUsecase compiles the filter and validates the mappings.
// defaults holds the fallback destination channel per concrete direction.
// now supplies the local clock the mute window is evaluated against.
func NewFilterUsecase(
	filter domain.MessageFilter,
	mappings []domain.ChannelMapping,
	defaults map[domain.Direction]string,
	now func() time.Time,
) (*FilterUsecase, error) {
	if err := domain.ValidateMappings(mappings); err != nil {
		return nil, err
	}
	if err := filter.MuteTimeRange.Validate(); err != nil {
		return nil, domain.NewConfigError("filter.mute_time_range", "%v", err)
	}
	include, err := compilePatterns("filter.include_patterns", filter.IncludePatterns)
	if err != nil {
		return nil, err
	}
	exclude, err := compilePatterns("filter.exclude_patterns", filter.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &FilterUsecase{
		filter:          filter,
		mappings:        mappings,
		defaults:        defaults,
		includePatterns: include,
		excludePatterns: exclude,
		now:             now,
	}, nil
}

func compilePatterns(field string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, domain.NewConfigError(field, "invalid pattern %q: %v", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Evaluate applies the filter rules in their fixed order, then resolves the destination
func (uc *FilterUsecase) Evaluate(msg *domain.NormalizedMessage) Decision {
	if reason := uc.excluded(msg); reason != "" {
		return Decision{Reason: reason}
	}

	dir := msg.Direction()
	dest, ok := uc.Route(msg.SourceChannelID, dir)
	if !ok {
		return Decision{Reason: "no mapping or default destination"}
	}
	return Decision{
		Forward:      true,
		Destinations: []domain.Destination{{Platform: dir.Target(), ChannelID: dest}},
	}
}

// Route returns the destination channel for channel in dir. The first matching
// mapping wins; otherwise the direction's default applies.
func (uc *FilterUsecase) Route(channel string, dir domain.Direction) (string, bool) {
	for _, m := range uc.mappings {
		if dest, ok := m.Route(channel, dir); ok {
			return dest, true
		}
	}
	if dest := uc.defaults[dir]; dest != "" {
		return dest, true
	}
	return "", false
}

// excluded returns the name of the first rule that drops msg
func (uc *FilterUsecase) excluded(msg *domain.NormalizedMessage) string {
	f := uc.filter
	channel := []string{msg.SourceChannelID, msg.SourceChannelName}
	user := []string{msg.SenderID, msg.SenderName}

	switch {
	case matchesAny(f.ExcludeChannels, channel):
		return "channel excluded"
	case len(f.IncludeChannels) > 0 && !matchesAny(f.IncludeChannels, channel):
		return "channel not included"
	case matchesAny(f.ExcludeUsers, user) || matchesAny(f.ExcludeUserIDs, []string{msg.SenderID}):
		return "user excluded"
	case len(f.IncludeUsers) > 0 && !matchesAny(f.IncludeUsers, user):
		return "user not included"
	case matchesPattern(uc.excludePatterns, msg.Text):
		return "pattern excluded"
	case len(uc.includePatterns) > 0 && !matchesPattern(uc.includePatterns, msg.Text):
		return "pattern not included"
	case containsKeyword(f.ExcludeKeywords, msg.Text):
		return "keyword excluded"
	case f.MuteTimeRange.Contains(uc.now()):
		return "muted"
	}
	return ""
}

// matchesAny compares rules against candidate ids and names, ignoring case and a leading '#'
func matchesAny(rules, candidates []string) bool {
	for _, r := range rules {
		r = normalizeName(r)
		if r == "" {
			continue
		}
		for _, c := range candidates {
			if c != "" && normalizeName(c) == r {
				return true
			}
		}
	}
	return false
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "#"))
}

func matchesPattern(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func containsKeyword(keywords []string, text string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// String renders a decision for logs
func (d Decision) String() string {
	if !d.Forward {
		return "drop: " + d.Reason
	}
	parts := make([]string, 0, len(d.Destinations))
	for _, dst := range d.Destinations {
		parts = append(parts, fmt.Sprintf("%s/%s", dst.Platform, dst.ChannelID))
	}
	return "forward: " + strings.Join(parts, ",")
}
