// server.go — Unix-socket JSON-RPC server: accept loop, request parsing,
// response framing, and notification broadcast (spec §4.1, §6.1).
// Grounded on the teacher's internal/bridge (stdio framing + connection
// classification) generalized from one stdio pipe to many concurrent Unix
// connections, and on internal/capture/websocket.go's "snapshot the
// connection set before iterating" discipline (spec §5 "Shared resources").
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/brennhill/aslan-browser/internal/jsonrpc"
	"github.com/brennhill/aslan-browser/internal/rpcerr"
)

// maxLineSize bounds a single NDJSON line. Screenshots are base64-encoded
// inline (spec §3 invariant 7), so this is generous: 64MiB.
const maxLineSize = 64 << 20

// Dispatcher resolves one JSON-RPC request to a result or a domain error.
// The method router (internal/router) is the production implementation;
// clientID lets handlers key per-connection auto-sessions (spec §4.2).
type Dispatcher interface {
	Dispatch(ctx context.Context, req jsonrpc.Request, clientID string) (any, error)
	// OnDisconnect is called once a connection's socket has closed, so the
	// router can tear down any auto-session it owned (spec §4.1, §4.2).
	OnDisconnect(clientID string)
}

// Server owns the listener, the broadcast set, and per-connection I/O.
type Server struct {
	socketPath string
	dispatcher Dispatcher
	logger     *zap.Logger

	listener net.Listener

	mu    sync.RWMutex
	conns map[string]*Conn

	wg sync.WaitGroup
}

func NewServer(socketPath string, dispatcher Dispatcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		socketPath: socketPath,
		dispatcher: dispatcher,
		logger:     logger,
		conns:      make(map[string]*Conn),
	}
}

// Listen removes a stale socket file (spec §6.1) and binds the listener.
// Separated from Serve so callers can report bind errors before blocking.
func (s *Server) Listen() error {
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			return err
		}
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until the listener is closed. Call Listen first.
func (s *Server) Serve() error {
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-context.Background().Done():
			default:
			}
			return err
		}
		conn := newConn(netConn)
		s.register(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Shutdown closes the listener and unlinks the socket path (spec §4.1
// "On process shutdown, close the listener and unlink the socket path"),
// then waits for in-flight connections to finish writing.
func (s *Server) Shutdown() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return err
}

func (s *Server) register(c *Conn) {
	s.mu.Lock()
	s.conns[c.ID] = c
	s.mu.Unlock()
	go c.runWriter()
}

func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.ID)
	s.mu.Unlock()
	close(c.out)
	s.dispatcher.OnDisconnect(c.ID)
}

// Broadcast pushes a notification to every currently connected client,
// best-effort (spec §4.1, §8 "Broadcast").
func (s *Server) Broadcast(n jsonrpc.Notification) {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.tryNotify(n)
	}
}

// serveConn reads NDJSON lines off one connection and dispatches each on its
// own goroutine, so a slow request (e.g. navigate(waitUntil:idle) on one tab)
// never blocks an unrelated request queued behind it on the same connection
// (spec §4.1 "requests on the same connection may overlap"; spec §6.1
// "responses on a single connection may arrive in any order relative to one
// another"). Same-tab safety across these overlapping requests is enforced
// one layer down, by tab.Tab's per-operation lock, not here. requestWG tracks
// the in-flight goroutines so the connection is only torn down once every
// dispatched request has finished writing its response.
func (s *Server) serveConn(c *Conn) {
	var requestWG sync.WaitGroup
	defer s.unregister(c)
	defer c.close()
	defer requestWG.Wait()

	reader := bufio.NewReader(c.netConn)
	for {
		line, err := ReadLine(reader, maxLineSize)
		if err != nil {
			return
		}
		requestWG.Add(1)
		go func(line []byte) {
			defer requestWG.Done()
			s.handleLine(c, line)
		}(line)
	}
}

func (s *Server) handleLine(c *Conn, line []byte) {
	var req jsonrpc.Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Debug("parse error", zap.Error(err))
		resp := jsonrpc.NewError(nil, rpcerr.KindParse.Code(), "invalid JSON")
		_ = c.writeResponse(resp)
		return
	}

	if req.JSONRPC != jsonrpc.Version || req.Method == "" || req.HasInvalidID() {
		id := req.ID
		if !req.HasID() {
			id = nil
		}
		resp := jsonrpc.NewError(id, rpcerr.KindEnvelope.Code(), "invalid request envelope")
		_ = c.writeResponse(resp)
		return
	}

	hasID := req.HasID()
	result, err := s.dispatcher.Dispatch(context.Background(), req, c.ID)
	if !hasID {
		return // notification: no response emitted (spec §4.1)
	}

	if err != nil {
		de := rpcerr.AsDomainError(err)
		s.logger.Warn("request failed",
			zap.String("method", req.Method),
			zap.String("kind", de.Kind.String()))
		_ = c.writeResponse(jsonrpc.NewError(req.ID, de.Code(), de.Message))
		return
	}

	resp, marshalErr := jsonrpc.NewResult(req.ID, result)
	if marshalErr != nil {
		_ = c.writeResponse(jsonrpc.NewError(req.ID, rpcerr.KindInternal.Code(), "failed to marshal result"))
		return
	}
	_ = c.writeResponse(resp)
}
