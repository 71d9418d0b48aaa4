// connection.go — Per-connection state: identity, outbound queue, broadcast
// membership. Grounded on internal/capture/websocket.go's connection
// tracking and internal/bridge/conn.go's error classification, generalized
// from a single extension socket to many concurrent client connections
// (spec §3 "Connection", §4.1 "Connection lifecycle").
package transport

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/brennhill/aslan-browser/internal/jsonrpc"
)

// outboundQueueSize bounds how many pending writes (responses + broadcast
// notifications) a connection may have queued before the writer goroutine
// catches up. This is the backpressure point described in SPEC_FULL.md's
// "Connection health" supplement.
const outboundQueueSize = 256

// Conn is one connected client channel on the transport (spec §3).
type Conn struct {
	ID string // opaque identity (spec §3); google/uuid per SPEC_FULL.md domain stack

	netConn net.Conn
	out     chan []byte

	mu        sync.Mutex
	sessionID string // auto-session this connection owns, if any (spec §4.2)

	droppedMu sync.Mutex
	dropped   int64 // notifications dropped due to a full outbound queue
}

func newConn(netConn net.Conn) *Conn {
	return &Conn{
		ID:      uuid.NewString(),
		netConn: netConn,
		out:     make(chan []byte, outboundQueueSize),
	}
}

// OwnedSessionID returns the auto-session this connection owns, if any.
func (c *Conn) OwnedSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetOwnedSessionID records the auto-session this connection owns (spec §4.2
// "destroy_sessions_owned_by").
func (c *Conn) SetOwnedSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

// writeResponse enqueues a response for this connection. Unlike broadcast
// notifications, a response must never be silently dropped (spec §8: "the
// number of responses equals the number of requests with ids"), so this
// blocks if the queue is momentarily full rather than discarding.
func (c *Conn) writeResponse(resp *jsonrpc.Response) error {
	line, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	c.out <- line
	return nil
}

// tryNotify enqueues a notification for this connection, best-effort: if the
// queue is full the notification is dropped and counted rather than blocking
// the broadcaster on one slow reader (spec §4.1 "a write failure drops that
// client... but does not affect others"; dropping on backpressure is this
// repository's documented extension of that policy, see SPEC_FULL.md).
func (c *Conn) tryNotify(n jsonrpc.Notification) {
	line, err := json.Marshal(n)
	if err != nil {
		return
	}
	line = append(line, '\n')
	select {
	case c.out <- line:
	default:
		c.droppedMu.Lock()
		c.dropped++
		c.droppedMu.Unlock()
	}
}

// DroppedNotifications returns the count of notifications dropped for this
// connection due to backpressure.
func (c *Conn) DroppedNotifications() int64 {
	c.droppedMu.Lock()
	defer c.droppedMu.Unlock()
	return c.dropped
}

func (c *Conn) runWriter() {
	for line := range c.out {
		if _, err := c.netConn.Write(line); err != nil {
			return
		}
	}
}

func (c *Conn) close() {
	_ = c.netConn.Close()
}
