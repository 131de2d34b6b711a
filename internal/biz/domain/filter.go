package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageFilter holds the per-workspace inclusion and exclusion rules.
// Exclusion always wins; an empty include list allows everything for its dimension.
type MessageFilter struct {
	IncludeChannels []string      `yaml:"include_channels"`
	ExcludeChannels []string      `yaml:"exclude_channels"`
	IncludeUsers    []string      `yaml:"include_users"`
	ExcludeUsers    []string      `yaml:"exclude_users"`
	IncludePatterns []string      `yaml:"include_patterns"`
	ExcludePatterns []string      `yaml:"exclude_patterns"`
	ExcludeKeywords []string      `yaml:"exclude_keywords"`
	ExcludeUserIDs  []string      `yaml:"exclude_user_ids"`
	MuteTimeRange   MuteTimeRange `yaml:"mute_time_range"`
}

// MuteTimeRange suppresses forwarding between Start (inclusive) and End (exclusive),
// both "HH:MM" in the relay's local clock. Start after End wraps past midnight.
type MuteTimeRange struct {
	Enabled bool   `yaml:"enabled"`
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
}

// ClockTime is a time of day in minutes since midnight
type ClockTime int

// ParseClockTime parses "HH:MM"
func ParseClockTime(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime(h*60 + m), nil
}

// ClockTimeOf returns the time of day of t in t's location
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// Validate checks the range bounds when the range is enabled
func (r MuteTimeRange) Validate() error {
	if !r.Enabled {
		return nil
	}
	if _, err := ParseClockTime(r.Start); err != nil {
		return err
	}
	if _, err := ParseClockTime(r.End); err != nil {
		return err
	}
	return nil
}

// Contains reports whether t falls inside the mute window.
// A disabled or unparsable range never mutes; Start == End is an empty window.
func (r MuteTimeRange) Contains(t time.Time) bool {
	if !r.Enabled {
		return false
	}
	start, err := ParseClockTime(r.Start)
	if err != nil {
		return false
	}
	end, err := ParseClockTime(r.End)
	if err != nil {
		return false
	}
	now := ClockTimeOf(t)
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}
