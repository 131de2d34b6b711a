package domain

import (
	"fmt"
	"strings"
)

// DirectoryKind selects the user or the channel directory of a platform
type DirectoryKind string

const (
	DirectoryUsers    DirectoryKind = "users"
	DirectoryChannels DirectoryKind = "channels"
)

// Member is a directory entry (value object)
type Member struct {
	ID      string
	Name    string   // display name
	Aliases []string // handle, real name and other names the member can be addressed by
}

// FormatMention formats the native mention syntax of platform p
func (m *Member) FormatMention(p Platform) string {
	if p == PlatformLark {
		return fmt.Sprintf(`<at user_id="%s">%s</at>`, m.ID, m.Name)
	}
	return fmt.Sprintf("<@%s>", m.ID)
}

// Directory maps lowercase names to platform ids and ids back to display names
type Directory struct {
	Names   map[string]string `json:"names"`
	Display map[string]string `json:"display"`
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		Names:   make(map[string]string),
		Display: make(map[string]string),
	}
}

// Add registers a member under its display name and aliases. The first
// registration of a name wins.
func (d *Directory) Add(m Member) {
	if m.ID == "" {
		return
	}
	if m.Name != "" {
		d.Display[m.ID] = m.Name
	}
	for _, name := range append([]string{m.Name}, m.Aliases...) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, exists := d.Names[key]; !exists {
			d.Names[key] = m.ID
		}
	}
}

// Lookup finds the id registered for name, case-insensitively
func (d *Directory) Lookup(name string) (string, bool) {
	if d == nil {
		return "", false
	}
	id, ok := d.Names[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// DisplayName returns the display name registered for id
func (d *Directory) DisplayName(id string) (string, bool) {
	if d == nil {
		return "", false
	}
	name, ok := d.Display[id]
	return name, ok
}
