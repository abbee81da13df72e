// Package api provides the local Unix socket API for client-server communication.
// It lets shell tools and editors talk to a running pearlsync daemon: copy
// text through it, paste the local clipboard, inspect the connection and
// toggle syncing.
//
// Wire format:
//
// Every request is one command line, optionally followed by a body:
//
//	COPY <size>\n<size bytes>   write text to the local clipboard
//	COPY_ASYNC <size>\n<bytes>  same, but reply before the write
//	PASTE\n                     read the local clipboard
//	STATUS\n                    connection state and statistics
//	HISTORY\n                   recent sync activity
//	SYNC\n                      publish the current clipboard now
//	START\n / STOP\n            begin or end syncing
//
// Replies are "OK\n", "OK <size>\n<bytes>", "STATUS <json>\n",
// "HISTORY <json>\n" or "ERROR <message>\n".
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/pearlsync/pkg/broker"
	psync "github.com/Veraticus/pearlsync/pkg/sync"
)

// Command represents the type of command sent by the client.
type Command string

// Command constants define the available commands in the protocol.
const (
	CommandCopy      Command = "COPY"
	CommandCopyAsync Command = "COPY_ASYNC"
	CommandPaste     Command = "PASTE"
	CommandStatus    Command = "STATUS"
	CommandHistory   Command = "HISTORY"
	CommandSync      Command = "SYNC"
	CommandStart     Command = "START"
	CommandStop      Command = "STOP"
)

// Response represents the type of response sent by the server.
type Response string

// Response constants define the possible response types.
const (
	ResponseOK    Response = "OK"
	ResponseError Response = "ERROR"
)

// Request represents a client request with command-specific data.
type Request struct {
	Command Command
	Content []byte
	Size    int
}

// StatusResponse contains information about the daemon's current state.
type StatusResponse struct {
	Uptime     time.Time    `json:"uptime"`
	DeviceID   string       `json:"device_id"`
	Version    string       `json:"version"`
	Connection broker.State `json:"connection"`
	Broker     string       `json:"broker,omitempty"`
	Topic      string       `json:"topic,omitempty"`
	Stats      SyncStats    `json:"sync_stats"`
}

// SyncStats contains synchronization statistics.
type SyncStats struct {
	LastLocalChange  string `json:"last_local_change,omitempty"`
	LastRemoteChange string `json:"last_remote_change,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	LocalChanges     uint64 `json:"local_changes"`
	RemoteChanges    uint64 `json:"remote_changes"`
	EchoesAbsorbed   uint64 `json:"echoes_absorbed"`
	Duplicates       uint64 `json:"duplicates"`
	Redeliveries     uint64 `json:"redeliveries"`
	SendErrors       uint64 `json:"send_errors"`
	ReceiveErrors    uint64 `json:"receive_errors"`
}

// NewSyncStats converts engine statistics to their wire form.
func NewSyncStats(s *psync.Stats) SyncStats {
	if s == nil {
		return SyncStats{}
	}
	return SyncStats{
		LastLocalChange:  formatTime(s.LastLocalChange),
		LastRemoteChange: formatTime(s.LastRemoteChange),
		LastError:        s.LastError,
		MessagesSent:     s.MessagesSent,
		MessagesReceived: s.MessagesReceived,
		LocalChanges:     s.LocalChanges,
		RemoteChanges:    s.RemoteChanges,
		EchoesAbsorbed:   s.EchoesAbsorbed,
		Duplicates:       s.Duplicates,
		Redeliveries:     s.Redeliveries,
		SendErrors:       s.SendErrors,
		ReceiveErrors:    s.ReceiveErrors,
	}
}

// ParseRequest parses a command line into a Request.
// Expected format: "COMMAND [size]\n".
func ParseRequest(line string) (*Request, error) {
	if line == "" {
		return nil, fmt.Errorf("empty command")
	}

	// Parse command and optional size
	var cmd string
	var size int
	n, _ := fmt.Sscanf(line, "%s %d", &cmd, &size)
	if n < 1 {
		return nil, fmt.Errorf("invalid command format")
	}

	command := Command(cmd)
	switch command {
	case CommandCopy, CommandCopyAsync:
		if n < 2 || size < 0 {
			return nil, fmt.Errorf("%s requires size parameter", command)
		}
		return &Request{Command: command, Size: size}, nil
	case CommandPaste, CommandStatus, CommandHistory, CommandSync, CommandStart, CommandStop:
		return &Request{Command: command}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s", cmd)
	}
}

// FormatResponse formats a response for transmission.
func FormatResponse(resp Response, data any) ([]byte, error) {
	switch resp {
	case ResponseOK:
		switch v := data.(type) {
		case string:
			// PASTE
			return []byte(fmt.Sprintf("OK %d\n%s", len(v), v)), nil
		case []byte:
			return []byte(fmt.Sprintf("OK %d\n%s", len(v), v)), nil
		case *StatusResponse:
			return formatJSON("STATUS", v)
		case []psync.HistoryItem:
			if v == nil {
				v = []psync.HistoryItem{}
			}
			return formatJSON("HISTORY", v)
		case nil:
			return []byte("OK\n"), nil
		default:
			return nil, fmt.Errorf("unsupported response data type: %T", v)
		}
	case ResponseError:
		if msg, ok := data.(string); ok {
			return []byte(fmt.Sprintf("ERROR %s\n", msg)), nil
		}
		return []byte("ERROR unknown error\n"), nil
	default:
		return nil, fmt.Errorf("unknown response type: %s", resp)
	}
}

func formatJSON(prefix string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", prefix, err)
	}
	return []byte(fmt.Sprintf("%s %s\n", prefix, data)), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
