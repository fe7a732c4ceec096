package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/neo/pkg/proto"
	"github.com/rs/zerolog"
)

// Handler reacts to one incoming packet. req is non-nil when the packet was
// an ask that expects a reply; handlers answer it via req.Reply/req.Fail
// rather than writing to the connection directly, so replies always carry
// the matching msg_id.
type Handler func(ctx context.Context, conn *Connection, req *Request)

// HandlerSet maps a packet type to the handler that processes it. Packet
// types with no entry are rejected with ECProtocolError.
type HandlerSet map[proto.Type]Handler

// Request wraps one inbound packet together with the means to answer it.
type Request struct {
	MsgID   uint32
	Type    proto.Type
	Payload []byte

	conn *Connection
}

// Reply encodes and sends body back to the peer as the answer to r.
func (r *Request) Reply(ptype proto.Type, body proto.Body) error {
	return r.conn.send(r.MsgID, ptype, proto.EncodeBody(body))
}

// Fail answers r with a protocol-level error packet.
func (r *Request) Fail(code proto.ErrorCode, message string) error {
	return r.Reply(proto.TError, &proto.ErrorBody{Code: code, Message: message})
}

type pendingCall struct {
	replyCh chan proto.Packet
}

// RemoteError is what Ask returns when the peer answered with a TError
// packet, carrying the wire ErrorCode so callers can dispatch on it (e.g.
// retrying against a different master on ECNotPrimary) with errors.As
// instead of string matching.
type RemoteError struct {
	Code    proto.ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("network: remote error %s: %s", e.Code, e.Message)
}

// Connection is a single framed duplex stream speaking the wire protocol.
// It owns request/answer correlation (by msg_id), dispatch of unsolicited
// packets to the currently installed HandlerSet, and liveness tracking.
type Connection struct {
	conn net.Conn
	log  zerolog.Logger

	writeMu sync.Mutex
	nextID  uint32

	mu      sync.Mutex
	pending map[uint32]*pendingCall
	handler HandlerSet
	// switching holds the handler set waiting to take over once every
	// msg_id issued before the switch was requested has been answered.
	switching HandlerSet

	pingDelay   time.Duration
	pingTimeout time.Duration
	lastRecv    atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// NewConnection wraps conn and starts its read loop. handlers is the
// initial HandlerSet used for unsolicited (non-reply) packets.
func NewConnection(conn net.Conn, handlers HandlerSet, pingDelay, pingTimeout time.Duration, logger zerolog.Logger) *Connection {
	c := &Connection{
		conn:        conn,
		log:         logger,
		pending:     make(map[uint32]*pendingCall),
		handler:     handlers,
		pingDelay:   pingDelay,
		pingTimeout: pingTimeout,
		closed:      make(chan struct{}),
	}
	c.lastRecv.Store(time.Now().UnixNano())
	go c.readLoop()
	go c.livenessLoop()
	return c
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// SwitchHandler installs handlers as the active HandlerSet once every
// request already issued by this side has been answered. Packets for the
// new handler set that arrive before the switch completes are queued by the
// peer's own ordering guarantees (the wire is a single ordered stream), so
// no local buffering is required beyond delaying activation.
func (c *Connection) SwitchHandler(handlers HandlerSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		c.handler = handlers
		return
	}
	c.switching = handlers
}

func (c *Connection) maybeCompleteSwitch() {
	if c.switching != nil && len(c.pending) == 0 {
		c.handler = c.switching
		c.switching = nil
	}
}

// Ask sends an ask packet and blocks until the matching answer arrives, ctx
// is done, or the connection closes.
func (c *Connection) Ask(ctx context.Context, ptype proto.Type, body proto.Body, answer proto.Body) error {
	msgID, replyCh := c.registerPending()
	if err := c.send(msgID, ptype, proto.EncodeBody(body)); err != nil {
		c.unregisterPending(msgID)
		return err
	}
	select {
	case pkt := <-replyCh:
		if pkt.Type == proto.TError {
			var e proto.ErrorBody
			if decErr := proto.DecodeBody(pkt.Payload, &e); decErr != nil {
				return fmt.Errorf("network: decode error reply: %w", decErr)
			}
			return &RemoteError{Code: e.Code, Message: e.Message}
		}
		return proto.DecodeBody(pkt.Payload, answer)
	case <-ctx.Done():
		c.unregisterPending(msgID)
		return ctx.Err()
	case <-c.closed:
		return c.closeErr
	}
}

// Notify sends a packet with no expected reply.
func (c *Connection) Notify(ptype proto.Type, body proto.Body) error {
	return c.send(atomic.AddUint32(&c.nextID, 1), ptype, proto.EncodeBody(body))
}

func (c *Connection) registerPending() (uint32, chan proto.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan proto.Packet, 1)
	if c.pending != nil {
		c.pending[id] = &pendingCall{replyCh: ch}
	}
	return id, ch
}

func (c *Connection) unregisterPending(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.maybeCompleteSwitch()
}

func (c *Connection) send(msgID uint32, ptype proto.Type, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return proto.WriteFrame(c.conn, msgID, ptype, payload)
}

func (c *Connection) readLoop() {
	for {
		msgID, ptype, payload, err := proto.ReadFrame(c.conn)
		if err != nil {
			c.fail(err)
			return
		}
		c.lastRecv.Store(time.Now().UnixNano())

		if ptype == proto.TPing {
			_ = c.send(msgID, proto.TPong, nil)
			continue
		}
		if ptype == proto.TPong {
			continue
		}

		c.mu.Lock()
		if call, ok := c.pending[msgID]; ok {
			delete(c.pending, msgID)
			c.maybeCompleteSwitch()
			c.mu.Unlock()
			call.replyCh <- proto.Packet{MsgID: msgID, Type: ptype, Payload: payload}
			continue
		}
		handler := c.handler[ptype]
		c.mu.Unlock()

		if handler == nil {
			_ = c.send(msgID, proto.TError, proto.EncodeBody(&proto.ErrorBody{
				Code:    proto.ECProtocolError,
				Message: fmt.Sprintf("unexpected packet type %s", ptype),
			}))
			continue
		}
		go handler(context.Background(), c, &Request{MsgID: msgID, Type: ptype, Payload: payload, conn: c})
	}
}

func (c *Connection) livenessLoop() {
	ticker := time.NewTicker(c.pingDelay / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastRecv.Load()))
			if idle > c.pingDelay+c.pingTimeout {
				c.fail(fmt.Errorf("network: ping timeout after %s", idle))
				return
			}
			if idle > c.pingDelay {
				_ = c.Notify(proto.TPing, &proto.PingBody{})
			}
		}
	}
}

func (c *Connection) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		close(c.closed)
		_ = c.conn.Close()
		c.log.Debug().Err(err).Msg("connection closed")
	})
}

// Close tears the connection down.
func (c *Connection) Close() error {
	c.fail(fmt.Errorf("network: closed locally"))
	return nil
}

// Done is closed once the connection has terminated.
func (c *Connection) Done() <-chan struct{} { return c.closed }
