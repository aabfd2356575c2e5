package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/oauthflow"
	"github.com/raibid-labs/sigilforge/internal/providers"
	"github.com/raibid-labs/sigilforge/internal/registry"
	"github.com/raibid-labs/sigilforge/internal/resolver"
	"github.com/raibid-labs/sigilforge/internal/tokens"
)

// DefaultMaxConnections is the default concurrent-connection semaphore
// size (§4.6).
const DefaultMaxConnections = 100

// acceptPermitTimeout is how long an accepted connection waits for a
// semaphore permit before it is refused.
const acceptPermitTimeout = 2 * time.Second

// DefaultDrainDeadline bounds how long Shutdown waits for in-flight
// handlers to finish before removing the socket file regardless.
const DefaultDrainDeadline = 5 * time.Second

// Server is the IPC server (C8): it owns the listening socket and
// dispatches JSON-RPC requests to the account registry, token manager,
// and resolver.
type Server struct {
	registry  *registry.Registry
	tokensMgr *tokens.Manager
	resolver  *resolver.Resolver
	providers *providers.Registry
	engine    *oauthflow.Engine
	logger    *slog.Logger

	socketPath    string
	maxConns      int
	drainDeadline time.Duration
	selfUID       uint32

	methods map[string]methodFunc

	sem       chan struct{}
	startedAt time.Time

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer builds a Server. socketPath is where the Unix domain socket
// will be bound.
func NewServer(reg *registry.Registry, tm *tokens.Manager, res *resolver.Resolver, provReg *providers.Registry, logger *slog.Logger, socketPath string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry:      reg,
		tokensMgr:     tm,
		resolver:      res,
		providers:     provReg,
		engine:        oauthflow.NewEngine(provReg),
		logger:        logger,
		socketPath:    socketPath,
		maxConns:      DefaultMaxConnections,
		drainDeadline: DefaultDrainDeadline,
		selfUID:       uint32(os.Getuid()),
		sem:           make(chan struct{}, DefaultMaxConnections),
		startedAt:     time.Now(),
	}
	s.methods = s.methodTable()
	return s
}

// WithMaxConnections overrides the concurrent-connection cap.
func (s *Server) WithMaxConnections(n int) *Server {
	s.maxConns = n
	s.sem = make(chan struct{}, n)
	return s
}

// WithSelfUID overrides the uid every accepted connection's peer
// credential is compared against. Tests use this to simulate a foreign
// peer without needing a second OS user, since a real connection's
// SO_PEERCRED always reports the uid the test process itself runs as.
func (s *Server) WithSelfUID(uid uint32) *Server {
	s.selfUID = uid
	return s
}

// bind removes any stale socket file, binds a fresh listener, and tightens
// permissions to 0600. The containing directory is created with 0700
// first so the remove-then-bind sequence isn't racing a world-writable
// directory (§4.6 socket hardening).
func (s *Server) bind() (net.Listener, error) {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errkind.Wrap(errkind.FileIo, err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return nil, errkind.Wrap(errkind.FileIo, fmt.Errorf("remove stale socket: %w", err))
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.FileIo, fmt.Errorf("bind socket: %w", err))
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return nil, errkind.Wrap(errkind.FileIo, fmt.Errorf("chmod socket: %w", err))
	}
	return ln, nil
}

// Serve binds the socket and runs the accept loop until Shutdown closes
// the listener. Cancelling ctx alone does not end the loop: connections
// accepted after cancellation are closed without being served. It returns
// nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.bind()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("ipc server listening", "socket", s.socketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("accept failed", "err", err)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-time.After(acceptPermitTimeout):
			s.logger.Warn("connection refused: at capacity")
			conn.Close()
			continue
		case <-ctx.Done():
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handleConn(ctx, conn)
		}()
	}
}

// Shutdown stops the accept loop, waits up to the drain deadline for
// in-flight handlers, then removes the socket file regardless of whether
// they finished.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	deadline := s.drainDeadline
	select {
	case <-done:
	case <-time.After(deadline):
		s.logger.Warn("shutdown drain deadline exceeded, forcing close")
	case <-ctx.Done():
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.FileIo, err)
	}
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	connLogger := s.logger.With("conn_id", connID)
	connLogger.Debug("connection accepted")
	defer connLogger.Debug("connection closed")

	if uid, err := peerUID(conn); err != nil {
		connLogger.Warn("peer credential check unavailable", "err", err)
	} else if uid != s.selfUID {
		connLogger.Warn("rejected connection from foreign uid", "uid", uid)
		s.writeResponse(conn, newErrorResponse(nil, RPCError{
			Code:    codeUnauthorized,
			Message: "peer uid does not match daemon owner",
		}))
		return
	}

	notify := func(method string, params interface{}) {
		s.writeNotification(conn, method, params)
	}
	connCtx := withNotifier(ctx, notify)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handleLine(connCtx, line)
		if !s.writeResponse(conn, resp) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			s.writeResponse(conn, newErrorResponse(nil, RPCError{
				Code:    codeForKind(errkind.OversizeFrame),
				Message: "request exceeds the 1 MiB frame limit",
			}))
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return newErrorResponse(nil, RPCError{Code: codeParseError, Message: "malformed JSON-RPC request"})
	}
	if !paramsIsObjectOrNull(req.Params) {
		return newErrorResponse(req.ID, RPCError{Code: codeInvalidParams, Message: "params must be an object"})
	}
	handler, ok := s.methods[req.Method]
	if !ok {
		return newErrorResponse(req.ID, RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)})
	}
	result, err := handler(ctx, req.Params)
	if err != nil {
		return newErrorResponse(req.ID, errorToRPC(err))
	}
	return newResponse(req.ID, result)
}

func (s *Server) writeNotification(conn net.Conn, method string, params interface{}) {
	data, err := json.Marshal(Notification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		s.logger.Error("failed to marshal notification", "err", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.logger.Warn("failed to write notification", "err", err)
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) bool {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", "err", err)
		return false
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return false
	}
	return true
}

func paramsIsObjectOrNull(raw json.RawMessage) bool {
	i := 0
	for i < len(raw) && (raw[i] == ' ' || raw[i] == '\t' || raw[i] == '\n' || raw[i] == '\r') {
		i++
	}
	if i >= len(raw) {
		return true
	}
	switch raw[i] {
	case '{':
		return true
	case 'n': // "null"
		return true
	default:
		return false
	}
}
