package service

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/domain"
)

// Line prefixes of the desktop status protocol on stdout
const (
	StatusPrefix = "STATUS:"
	ReadyPrefix  = "READY:"
	ErrorPrefix  = "ERROR:"
)

// DesktopStatus is the status shape the desktop shell reads
type DesktopStatus struct {
	IsRunning      bool         `json:"isRunning"`
	SlackConnected bool         `json:"slackConnected"`
	LarkConnected  bool         `json:"larkConnected"`
	MessageStats   MessageStats `json:"messageStats"`
}

// MessageStats counts forwarded messages per direction
type MessageStats struct {
	SlackToLark int64 `json:"slackToLark"`
	LarkToSlack int64 `json:"larkToSlack"`
}

type statusEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Desktop folds the status into the single-connection view of the desktop shell.
// A platform counts as connected when every workspace using it is connected.
func (s Status) Desktop() DesktopStatus {
	out := DesktopStatus{
		IsRunning: s.Running,
		MessageStats: MessageStats{
			SlackToLark: s.Counters.SlackToLark,
			LarkToSlack: s.Counters.LarkToSlack,
		},
	}
	seen := map[domain.Platform]bool{}
	connected := map[domain.Platform]bool{domain.PlatformSlack: true, domain.PlatformLark: true}
	for _, ws := range s.Workspaces {
		for p, state := range ws.Connections {
			seen[p] = true
			if state != domain.ConnConnected {
				connected[p] = false
			}
		}
	}
	out.SlackConnected = s.Running && seen[domain.PlatformSlack] && connected[domain.PlatformSlack]
	out.LarkConnected = s.Running && seen[domain.PlatformLark] && connected[domain.PlatformLark]
	return out
}

// WriteStatusLine writes one STATUS line for st
func WriteStatusLine(w io.Writer, st Status) error {
	return writeLine(w, StatusPrefix, statusEnvelope{Type: "status", Data: st.Desktop()})
}

// WriteReadyLine announces the HTTP port the relay listens on
func WriteReadyLine(w io.Writer, port int) error {
	return writeLine(w, ReadyPrefix, map[string]int{"port": port})
}

// WriteErrorLine reports a fatal error to the desktop shell
func WriteErrorLine(w io.Writer, err error) error {
	return writeLine(w, ErrorPrefix, map[string]string{"message": err.Error()})
}

func writeLine(w io.Writer, prefix string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s line: %w", prefix, err)
	}
	_, err = fmt.Fprintf(w, "%s%s\n", prefix, b)
	return err
}
