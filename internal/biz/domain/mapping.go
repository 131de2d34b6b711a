package domain

// ChannelMapping pairs a source and a destination channel.
// A bidirectional mapping also routes messages from Dest back to Source.
type ChannelMapping struct {
	Source    string    `yaml:"source"`
	Dest      string    `yaml:"dest"`
	Direction Direction `yaml:"direction"`
}

// Route returns the destination channel for a message from channel travelling in dir
func (m ChannelMapping) Route(channel string, dir Direction) (string, bool) {
	if !m.Direction.Allows(dir) {
		return "", false
	}
	if m.Source == channel {
		return m.Dest, true
	}
	if m.Direction == DirectionBidirectional && m.Dest == channel {
		return m.Source, true
	}
	return "", false
}

type routeKey struct {
	channel string
	dir     Direction
}

func (m ChannelMapping) keys() []routeKey {
	switch m.Direction {
	case DirectionBidirectional:
		return []routeKey{
			{m.Source, DirectionSlackToLark},
			{m.Source, DirectionLarkToSlack},
			{m.Dest, DirectionSlackToLark},
			{m.Dest, DirectionLarkToSlack},
		}
	default:
		return []routeKey{{m.Source, m.Direction}}
	}
}

// ValidateMappings enforces that at most one mapping is authoritative
// for any (channel, direction) pair
func ValidateMappings(mappings []ChannelMapping) error {
	seen := make(map[routeKey]int)
	for i, m := range mappings {
		if m.Source == "" || m.Dest == "" {
			return NewConfigError("mappings", "mapping %d: source and dest are required", i)
		}
		if !m.Direction.Valid() {
			return NewConfigError("mappings", "mapping %d: unknown direction %q", i, m.Direction)
		}
		for _, k := range m.keys() {
			if prev, ok := seen[k]; ok && prev != i {
				return NewConfigError("mappings", "mappings %d and %d both route channel %s (%s)", prev, i, k.channel, k.dir)
			}
			seen[k] = i
		}
	}
	return nil
}
