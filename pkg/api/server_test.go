package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/pearlsync/pkg/broker"
	"github.com/Veraticus/pearlsync/pkg/clipboard"
	"github.com/Veraticus/pearlsync/pkg/config"
	"github.com/Veraticus/pearlsync/pkg/settings"
	psync "github.com/Veraticus/pearlsync/pkg/sync"
	"github.com/Veraticus/pearlsync/pkg/testutil"
)

// fakeEngine implements psync.Engine for testing.
type fakeEngine struct {
	clip    *clipboard.MockClipboard
	state   broker.State
	stats   psync.Stats
	history []psync.HistoryItem
	syncErr error

	mu     sync.Mutex
	starts int
	stops  int
	syncs  int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{clip: clipboard.NewMockClipboard(), state: broker.StateDisconnected()}
}

func (f *fakeEngine) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeEngine) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeEngine) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeEngine) SyncNow(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return f.syncErr
}

func (f *fakeEngine) OnLocalChange(string, int64) error { return nil }
func (f *fakeEngine) OnRemoteMessage([]byte) error      { return nil }
func (f *fakeEngine) SetClipboard(content string) error { return f.clip.Write(content) }
func (f *fakeEngine) Status() broker.State              { return f.state }
func (f *fakeEngine) Stats() *psync.Stats               { s := f.stats; return &s }
func (f *fakeEngine) History() []psync.HistoryItem      { return f.history }
func (f *fakeEngine) Current() string                   { return "" }
func (f *fakeEngine) DeviceID() string                  { return "test-device" }

func (f *fakeEngine) SubscribeStatus() (<-chan broker.State, func()) {
	ch := make(chan broker.State, 1)
	ch <- f.state
	return ch, func() {}
}

func (f *fakeEngine) counts() (starts, stops, syncs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.syncs
}

func startServer(t *testing.T, engine *fakeEngine, store settings.Store) string {
	t.Helper()

	socketPath := testutil.SocketPath(t)
	server, err := NewServer(&ServerConfig{
		SocketPath: socketPath,
		Clipboard:  engine.clip,
		Engine:     engine,
		Settings:   store,
		Version:    "1.0.0",
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return socketPath
}

// roundTrip sends request and returns the response line and, for sized OK
// responses, the body.
func roundTrip(t *testing.T, socketPath, request string) (string, string) {
	t.Helper()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	if _, err := conn.Write([]byte(request)); err != nil {
		t.Fatalf("Failed to send command: %v", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	line = strings.TrimSuffix(line, "\n")

	var size int
	if n, _ := fmt.Sscanf(line, "OK %d", &size); n == 1 && size > 0 {
		body := make([]byte, size)
		if _, err := io.ReadFull(reader, body); err != nil {
			t.Fatalf("Failed to read content: %v", err)
		}
		return line, string(body)
	}
	return line, ""
}

func TestNewServer(t *testing.T) {
	engine := newFakeEngine()

	tests := []struct {
		name    string
		cfg     *ServerConfig
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			cfg: &ServerConfig{
				SocketPath: "/tmp/test.sock",
				Clipboard:  engine.clip,
				Engine:     engine,
				Version:    "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "missing socket path",
			cfg: &ServerConfig{
				Clipboard: engine.clip,
				Engine:    engine,
			},
			wantErr: true,
			errMsg:  "socket path is required",
		},
		{
			name: "missing clipboard",
			cfg: &ServerConfig{
				SocketPath: "/tmp/test.sock",
				Engine:     engine,
			},
			wantErr: true,
			errMsg:  "clipboard is required",
		},
		{
			name: "missing engine",
			cfg: &ServerConfig{
				SocketPath: "/tmp/test.sock",
				Clipboard:  engine.clip,
			},
			wantErr: true,
			errMsg:  "sync engine is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewServer(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewServer() error = nil, wantErr %v", tt.wantErr)
					return
				}
				if tt.errMsg != "" && err.Error() != tt.errMsg {
					t.Errorf("NewServer() error = %v, want %v", err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("NewServer() unexpected error = %v", err)
				return
			}
			if server == nil {
				t.Error("NewServer() returned nil server")
			}
		})
	}
}

func TestServerStartStop(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "nested", "test.sock")
	engine := newFakeEngine()

	server, err := NewServer(&ServerConfig{
		SocketPath: socketPath,
		Clipboard:  engine.clip,
		Engine:     engine,
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("Socket file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Socket permissions = %o, want %o", perm, 0600)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Errorf("Failed to connect to server: %v", err)
	} else {
		_ = conn.Close()
	}

	if err := server.Stop(); err != nil {
		t.Errorf("Failed to stop server: %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("Socket file not removed after stop")
	}

	// Stopping twice is harmless.
	if err := server.Stop(); err != nil {
		t.Errorf("Second stop failed: %v", err)
	}
}

func TestServerCommands(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		setup    func(*fakeEngine)
		wantLine string
		wantBody string
	}{
		{
			name:     "PASTE command",
			request:  "PASTE\n",
			setup:    func(f *fakeEngine) { f.clip.EmitChange("Test content", 1) },
			wantLine: "OK 12",
			wantBody: "Test content",
		},
		{
			name:     "PASTE empty clipboard",
			request:  "PASTE\n",
			wantLine: "OK 0",
		},
		{
			name:     "PASTE with clipboard error",
			request:  "PASTE\n",
			setup:    func(f *fakeEngine) { f.clip.FailReads(errors.New("clipboard error")) },
			wantLine: "ERROR failed to read clipboard: clipboard error",
		},
		{
			name:     "COPY with clipboard error",
			request:  "COPY 5\nHello",
			setup:    func(f *fakeEngine) { f.clip.FailWrites(errors.New("clipboard error")) },
			wantLine: "ERROR failed to write to clipboard: clipboard error",
		},
		{
			name:     "COPY invalid UTF-8",
			request:  "COPY 2\n\xff\xfe",
			wantLine: "ERROR " + clipboard.ErrInvalidContent.Error(),
		},
		{
			name:     "COPY over size limit",
			request:  fmt.Sprintf("COPY %d\n", clipboard.MaxClipboardSize+1),
			wantLine: fmt.Sprintf("ERROR %v: %d bytes (max: %d)", clipboard.ErrContentTooLarge, clipboard.MaxClipboardSize+1, clipboard.MaxClipboardSize),
		},
		{
			name:     "COPY with invalid size",
			request:  "COPY abc\n",
			wantLine: "ERROR COPY requires size parameter",
		},
		{
			name:     "unknown command",
			request:  "UNKNOWN\n",
			wantLine: "ERROR unknown command: UNKNOWN",
		},
		{
			name:     "SYNC while disconnected",
			request:  "SYNC\n",
			setup:    func(f *fakeEngine) { f.syncErr = psync.ErrNotConnected },
			wantLine: "ERROR sync failed: " + psync.ErrNotConnected.Error(),
		},
		{
			name:     "SYNC command",
			request:  "SYNC\n",
			wantLine: "OK",
		},
		{
			name:     "START command",
			request:  "START\n",
			wantLine: "OK",
		},
		{
			name:     "STOP command",
			request:  "STOP\n",
			wantLine: "OK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			if tt.setup != nil {
				tt.setup(engine)
			}
			socketPath := startServer(t, engine, nil)

			line, body := roundTrip(t, socketPath, tt.request)
			if line != tt.wantLine {
				t.Errorf("Response = %q, want %q", line, tt.wantLine)
			}
			if body != tt.wantBody {
				t.Errorf("Body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestServerCopy(t *testing.T) {
	engine := newFakeEngine()
	socketPath := startServer(t, engine, nil)

	line, _ := roundTrip(t, socketPath, "COPY 13\nHello, World!")
	if line != "OK" {
		t.Fatalf("Response = %q, want OK", line)
	}

	writes := engine.clip.Writes()
	if len(writes) != 1 || writes[0] != "Hello, World!" {
		t.Errorf("Clipboard writes = %q, want [Hello, World!]", writes)
	}
}

func TestServerCopyAsync(t *testing.T) {
	engine := newFakeEngine()
	socketPath := startServer(t, engine, nil)

	line, _ := roundTrip(t, socketPath, "COPY_ASYNC 5\nasync")
	if line != "OK" {
		t.Fatalf("Response = %q, want OK", line)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if writes := engine.clip.Writes(); len(writes) == 1 && writes[0] == "async" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Clipboard writes = %q, want [async]", engine.clip.Writes())
}

func TestServerToggleAndSync(t *testing.T) {
	engine := newFakeEngine()
	socketPath := startServer(t, engine, nil)

	for _, req := range []string{"START\n", "SYNC\n", "STOP\n", "START\n"} {
		if line, _ := roundTrip(t, socketPath, req); line != "OK" {
			t.Fatalf("%q: response = %q, want OK", strings.TrimSpace(req), line)
		}
	}

	starts, stops, syncs := engine.counts()
	if starts != 2 || stops != 1 || syncs != 1 {
		t.Errorf("counts = (%d, %d, %d), want (2, 1, 1)", starts, stops, syncs)
	}
}

func TestServerStatus(t *testing.T) {
	engine := newFakeEngine()
	engine.state = broker.StateError("connection refused")
	engine.stats = psync.Stats{
		MessagesSent:     10,
		MessagesReceived: 20,
		LocalChanges:     5,
		RemoteChanges:    8,
		EchoesAbsorbed:   8,
		LastLocalChange:  time.Date(2024, 1, 15, 10, 29, 0, 0, time.UTC),
	}

	conn := config.DefaultConnection()
	conn.ServerAddress = "broker.example.com"
	conn.Secret = "s3cr3t"
	socketPath := startServer(t, engine, settings.NewStatic(conn))

	line, _ := roundTrip(t, socketPath, "STATUS\n")
	if !strings.HasPrefix(line, "STATUS ") {
		t.Fatalf("Response = %q, want STATUS prefix", line)
	}

	var status StatusResponse
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "STATUS ")), &status); err != nil {
		t.Fatalf("Invalid status JSON: %v", err)
	}

	if status.DeviceID != "test-device" {
		t.Errorf("DeviceID = %q, want test-device", status.DeviceID)
	}
	if status.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", status.Version)
	}
	if status.Connection != broker.StateError("connection refused") {
		t.Errorf("Connection = %v, want error state", status.Connection)
	}
	if status.Broker != "ssl://broker.example.com:8883" {
		t.Errorf("Broker = %q", status.Broker)
	}
	if status.Topic != config.DefaultTopic {
		t.Errorf("Topic = %q, want %q", status.Topic, config.DefaultTopic)
	}
	if status.Stats.MessagesSent != 10 || status.Stats.RemoteChanges != 8 || status.Stats.EchoesAbsorbed != 8 {
		t.Errorf("Stats = %+v", status.Stats)
	}
	if status.Stats.LastLocalChange != "2024-01-15T10:29:00Z" {
		t.Errorf("LastLocalChange = %q", status.Stats.LastLocalChange)
	}
	if strings.Contains(line, "s3cr3t") {
		t.Error("status leaks the secret")
	}
}

func TestServerHistory(t *testing.T) {
	engine := newFakeEngine()
	engine.history = []psync.HistoryItem{
		{Direction: psync.Received, DeviceID: "phone", Content: "b", Timestamp: 2},
		{Direction: psync.Sent, DeviceID: "test-device", Content: "a", Timestamp: 1},
	}
	socketPath := startServer(t, engine, nil)

	line, _ := roundTrip(t, socketPath, "HISTORY\n")
	if !strings.HasPrefix(line, "HISTORY ") {
		t.Fatalf("Response = %q, want HISTORY prefix", line)
	}

	var items []psync.HistoryItem
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "HISTORY ")), &items); err != nil {
		t.Fatalf("Invalid history JSON: %v", err)
	}
	if len(items) != 2 || items[0].DeviceID != "phone" || items[1].Direction != psync.Sent {
		t.Errorf("History = %+v", items)
	}
}

func TestServerConcurrentConnections(t *testing.T) {
	engine := newFakeEngine()
	engine.clip.EmitChange("shared content", 1)
	socketPath := startServer(t, engine, nil)

	const numClients = 10
	done := make(chan error, numClients)

	for i := 0; i < numClients; i++ {
		go func(id int) {
			conn, err := net.Dial("unix", socketPath)
			if err != nil {
				done <- fmt.Errorf("client %d: failed to connect: %v", id, err)
				return
			}
			defer func() { _ = conn.Close() }()

			if _, err := fmt.Fprintln(conn, "PASTE"); err != nil {
				done <- fmt.Errorf("client %d: failed to send: %v", id, err)
				return
			}

			scanner := bufio.NewScanner(conn)
			if !scanner.Scan() {
				done <- fmt.Errorf("client %d: failed to read: %v", id, scanner.Err())
				return
			}

			if response := scanner.Text(); response != "OK 14" {
				done <- fmt.Errorf("client %d: unexpected response: %s", id, response)
				return
			}

			done <- nil
		}(i)
	}

	for i := 0; i < numClients; i++ {
		if err := <-done; err != nil {
			t.Error(err)
		}
	}
}
