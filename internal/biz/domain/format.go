package domain

import (
	"fmt"
	"time"
)

const defaultTimestampLayout = "2006-01-02 15:04"

// FormatOptions controls how forwarded messages are rendered
type FormatOptions struct {
	ShowChannelName      bool   `yaml:"show_channel_name"`
	ShowSenderName       bool   `yaml:"show_sender_name"`
	ShowTimestamp        bool   `yaml:"show_timestamp"`
	Timezone             string `yaml:"timezone"`
	TimestampLayout      string `yaml:"timestamp_layout"`
	IncludeThreadReplies bool   `yaml:"include_thread_replies"`
}

// DefaultFormatOptions returns the formatting used when a workspace configures none
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{
		ShowChannelName: true,
		ShowSenderName:  true,
		TimestampLayout: defaultTimestampLayout,
	}
}

// Location loads the configured timezone, defaulting to the process local zone
func (o FormatOptions) Location() (*time.Location, error) {
	if o.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", o.Timezone, err)
	}
	return loc, nil
}

// Layout returns the timestamp layout, falling back to the default
func (o FormatOptions) Layout() string {
	if o.TimestampLayout == "" {
		return defaultTimestampLayout
	}
	return o.TimestampLayout
}
