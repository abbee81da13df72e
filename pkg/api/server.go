package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/pearlsync/pkg/clipboard"
	"github.com/Veraticus/pearlsync/pkg/settings"
	psync "github.com/Veraticus/pearlsync/pkg/sync"
)

const (
	connDeadline    = 30 * time.Second
	commandTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Logger is the logging interface used by the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Server implements the local Unix socket API server for pearlsync.
// It provides a simple text-based protocol for clients to interact
// with the running daemon.
type Server struct {
	uptime     time.Time
	clipboard  clipboard.Clipboard
	engine     psync.Engine
	settings   settings.Store
	listener   net.Listener
	ctx        context.Context
	logger     Logger
	cancel     context.CancelFunc
	socketPath string
	version    string
	wg         sync.WaitGroup
	mu         sync.RWMutex
}

// ServerConfig contains configuration for the API server.
type ServerConfig struct {
	Clipboard clipboard.Clipboard
	Engine    psync.Engine

	// Settings, when set, supplies the broker address and topic shown by
	// STATUS.
	Settings settings.Store

	Logger     Logger
	SocketPath string
	Version    string
}

// NewServer creates a new API server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if cfg.Clipboard == nil {
		return nil, fmt.Errorf("clipboard is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("sync engine is required")
	}

	var logger Logger = noopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: cfg.SocketPath,
		clipboard:  cfg.Clipboard,
		engine:     cfg.Engine,
		settings:   cfg.Settings,
		version:    cfg.Version,
		logger:     logger,
		uptime:     time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start begins listening on the Unix domain socket.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	socketDir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(socketDir, 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// A previous daemon may have left its socket behind.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.socketPath, err)
	}

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	s.logger.Info("api listening", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop(listener)

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	s.cancel()

	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("failed to close listener: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("server shutdown timeout")
	}

	if listener != nil {
		_ = os.Remove(s.socketPath)
	}
	return nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("failed to accept connection", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(connDeadline)); err != nil {
		s.sendError(conn, "failed to set deadline")
		return
	}

	reader := bufio.NewReader(conn)

	line, err := reader.ReadString('\n')
	if err != nil {
		s.sendError(conn, fmt.Sprintf("failed to read command: %v", err))
		return
	}

	req, parseErr := ParseRequest(strings.TrimSpace(line))
	if parseErr != nil {
		s.sendError(conn, parseErr.Error())
		return
	}

	s.logger.Debug("api request", "command", string(req.Command), "size", req.Size)

	switch req.Command {
	case CommandCopy:
		s.handleCopy(conn, req, reader, false)
	case CommandCopyAsync:
		s.handleCopy(conn, req, reader, true)
	case CommandPaste:
		s.handlePaste(conn)
	case CommandStatus:
		s.handleStatus(conn)
	case CommandHistory:
		s.sendOK(conn, s.engine.History())
	case CommandSync:
		s.handleEngineCall(conn, "sync", s.engine.SyncNow)
	case CommandStart:
		s.handleEngineCall(conn, "start", s.engine.Start)
	case CommandStop:
		s.handleEngineCall(conn, "stop", s.engine.Stop)
	default:
		s.sendError(conn, fmt.Sprintf("unknown command: %s", req.Command))
	}
}

// handleCopy writes the request body to the local clipboard. The clipboard
// watcher reports the write to the engine, which publishes it.
func (s *Server) handleCopy(conn net.Conn, req *Request, reader *bufio.Reader, async bool) {
	if req.Size > clipboard.MaxClipboardSize {
		s.sendError(conn, fmt.Sprintf("%v: %d bytes (max: %d)",
			clipboard.ErrContentTooLarge, req.Size, clipboard.MaxClipboardSize))
		return
	}

	content := make([]byte, req.Size)
	if _, err := io.ReadFull(reader, content); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to read content: %v", err))
		return
	}

	if err := clipboard.ValidateContent(content); err != nil {
		s.sendError(conn, err.Error())
		return
	}

	if async {
		s.sendOK(conn, nil)
		if err := s.engine.SetClipboard(string(content)); err != nil {
			s.logger.Error("async copy failed", "error", err, "size", len(content))
		}
		return
	}

	if err := s.engine.SetClipboard(string(content)); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to write to clipboard: %v", err))
		return
	}

	s.sendOK(conn, nil)
}

// handlePaste processes a PASTE command.
func (s *Server) handlePaste(conn net.Conn) {
	content, err := s.clipboard.Read()
	if err != nil {
		s.sendError(conn, fmt.Sprintf("failed to read clipboard: %v", err))
		return
	}

	s.sendOK(conn, content)
}

// handleStatus processes a STATUS command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.RLock()
	uptime := s.uptime
	s.mu.RUnlock()

	status := &StatusResponse{
		Uptime:     uptime,
		DeviceID:   s.engine.DeviceID(),
		Version:    s.version,
		Connection: s.engine.Status(),
		Stats:      NewSyncStats(s.engine.Stats()),
	}

	if s.settings != nil {
		// Incomplete settings still show whatever is configured.
		if cc, err := s.settings.Snapshot(); err == nil && cc != nil {
			if cc.ServerAddress != "" {
				status.Broker = cc.URL()
			}
			status.Topic = cc.Topic
		} else if err != nil {
			s.logger.Debug("settings unavailable for status", "error", err)
		}
	}

	s.sendOK(conn, status)
}

// handleEngineCall runs a blocking engine command bounded by
// commandTimeout.
func (s *Server) handleEngineCall(conn net.Conn, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.sendError(conn, fmt.Sprintf("%s failed: %v", name, err))
		return
	}
	s.sendOK(conn, nil)
}

// sendOK sends an OK response with optional data.
func (s *Server) sendOK(conn net.Conn, data any) {
	resp, err := FormatResponse(ResponseOK, data)
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	_, _ = conn.Write(resp)
}

// sendError sends an ERROR response. Messages are kept on one line.
func (s *Server) sendError(conn net.Conn, msg string) {
	msg = strings.ReplaceAll(msg, "\n", " ")
	resp, _ := FormatResponse(ResponseError, msg)
	_, _ = conn.Write(resp)
}
