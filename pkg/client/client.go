// Package client provides a client library for interacting with the pearlsync
// daemon via its Unix socket API.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/pearlsync/pkg/api"
	"github.com/Veraticus/pearlsync/pkg/clipboard"
	psync "github.com/Veraticus/pearlsync/pkg/sync"
)

// ErrDaemonNotRunning is returned when no daemon listens on the socket.
var ErrDaemonNotRunning = errors.New("pearlsync daemon not running")

// Client provides methods to interact with a running pearlsync daemon.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// Config contains configuration for the client.
type Config struct {
	// SocketPath is the path to the Unix domain socket.
	// If empty, uses the default socket path.
	SocketPath string

	// Timeout for operations. Default is 5 seconds.
	Timeout time.Duration
}

// DefaultSocketPath returns the default socket path based on XDG standards.
func DefaultSocketPath() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "pearlsync", "pearlsync.sock")
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "~"
	}
	return filepath.Join(home, ".pearlsync", "pearlsync.sock")
}

// New creates a new client with the given configuration.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}

	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Copy writes text to the daemon's clipboard, which then syncs it.
func (c *Client) Copy(content string) error {
	return c.copy(api.CommandCopy, content)
}

// CopyAsync is Copy without waiting for the clipboard write.
func (c *Client) CopyAsync(content string) error {
	return c.copy(api.CommandCopyAsync, content)
}

func (c *Client) copy(cmd api.Command, content string) error {
	if err := clipboard.ValidateContent([]byte(content)); err != nil {
		return fmt.Errorf("content validation failed: %w", err)
	}

	conn, err := c.dial()
	if err != nil {
		return c.handleDialError(err)
	}
	defer func() { _ = conn.Close() }()

	if _, writeErr := fmt.Fprintf(conn, "%s %d\n%s", cmd, len(content), content); writeErr != nil {
		return fmt.Errorf("failed to send copy command: %w", writeErr)
	}

	response, err := c.readResponse(bufio.NewReader(conn))
	if err != nil {
		return err
	}

	if response != string(api.ResponseOK) {
		return fmt.Errorf("copy failed: %s", response)
	}

	return nil
}

// Paste retrieves the current clipboard content from the daemon.
func (c *Client) Paste() (string, error) {
	conn, err := c.dial()
	if err != nil {
		return "", c.handleDialError(err)
	}
	defer func() { _ = conn.Close() }()

	if _, writeErr := fmt.Fprintln(conn, api.CommandPaste); writeErr != nil {
		return "", fmt.Errorf("failed to send paste command: %w", writeErr)
	}

	reader := bufio.NewReader(conn)
	response, err := c.readResponse(reader)
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(response, string(api.ResponseError)) {
		return "", fmt.Errorf("paste failed: %s", response)
	}

	var size int
	if _, err := fmt.Sscanf(response, "OK %d", &size); err != nil {
		return "", fmt.Errorf("invalid response format: %s", response)
	}
	if size < 0 || size > clipboard.MaxClipboardSize {
		return "", fmt.Errorf("invalid content size: %d", size)
	}
	if size == 0 {
		return "", nil
	}

	content := make([]byte, size)
	if _, err := io.ReadFull(reader, content); err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}

	return string(content), nil
}

// Status retrieves the daemon's current status.
func (c *Client) Status() (*api.StatusResponse, error) {
	var status api.StatusResponse
	if err := c.query(api.CommandStatus, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// History retrieves recent sync activity, newest first.
func (c *Client) History() ([]psync.HistoryItem, error) {
	var items []psync.HistoryItem
	if err := c.query(api.CommandHistory, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Sync asks the daemon to publish its current clipboard content now.
func (c *Client) Sync() error {
	return c.do(api.CommandSync)
}

// Start asks the daemon to begin syncing.
func (c *Client) Start() error {
	return c.do(api.CommandStart)
}

// Stop asks the daemon to stop syncing.
func (c *Client) Stop() error {
	return c.do(api.CommandStop)
}

// IsRunning checks if the daemon is running and responsive.
func (c *Client) IsRunning() bool {
	conn, err := c.dial()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// do sends a command without a body and expects a bare OK.
func (c *Client) do(cmd api.Command) error {
	conn, err := c.dial()
	if err != nil {
		return c.handleDialError(err)
	}
	defer func() { _ = conn.Close() }()

	if _, writeErr := fmt.Fprintln(conn, cmd); writeErr != nil {
		return fmt.Errorf("failed to send %s command: %w", strings.ToLower(string(cmd)), writeErr)
	}

	response, err := c.readResponse(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if response != string(api.ResponseOK) {
		return fmt.Errorf("%s failed: %s", strings.ToLower(string(cmd)), response)
	}
	return nil
}

// query sends a command answered by "<COMMAND> <json>" and decodes the
// JSON into v.
func (c *Client) query(cmd api.Command, v any) error {
	name := strings.ToLower(string(cmd))

	conn, err := c.dial()
	if err != nil {
		return c.handleDialError(err)
	}
	defer func() { _ = conn.Close() }()

	if _, writeErr := fmt.Fprintln(conn, cmd); writeErr != nil {
		return fmt.Errorf("failed to send %s command: %w", name, writeErr)
	}

	response, err := c.readResponse(bufio.NewReader(conn))
	if err != nil {
		return err
	}

	if strings.HasPrefix(response, string(api.ResponseError)) {
		return fmt.Errorf("%s failed: %s", name, response)
	}

	prefix := string(cmd) + " "
	if !strings.HasPrefix(response, prefix) {
		return fmt.Errorf("invalid %s response: %s", name, response)
	}

	if err := json.Unmarshal([]byte(strings.TrimPrefix(response, prefix)), v); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", name, err)
	}
	return nil
}

// dial establishes a connection to the daemon's socket.
func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	return conn, nil
}

// readResponse reads a single line response from the connection.
func (c *Client) readResponse(reader *bufio.Reader) (string, error) {
	response, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && response == "" {
			return "", fmt.Errorf("no response from daemon")
		}
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return strings.TrimSuffix(response, "\n"), nil
}

// handleDialError provides appropriate error messages for connection failures.
func (c *Client) handleDialError(err error) error {
	// Editor integrations call us on every yank and prefer silence.
	if os.Getenv("PEARLSYNC_NEOVIM") == "1" {
		return nil
	}

	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such file") {
		return fmt.Errorf("%w (socket: %s)", ErrDaemonNotRunning, c.socketPath)
	}

	return fmt.Errorf("failed to connect to daemon: %w", err)
}
