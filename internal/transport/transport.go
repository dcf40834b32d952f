// Package transport keeps a StatsD sink connection alive across failures.
//
// A Transport is driven entirely from one loop goroutine: Setup, Write and
// Close must be called there, and every connect, write and retry completion
// is delivered back to it. Dials and socket writes run on other goroutines.
// Status and Peer may be called from anywhere.
package transport

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"
	"weak"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Schera-ole/telemetry-agent/internal/endpoint"
	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	"github.com/Schera-ole/telemetry-agent/internal/pool"
)

const (
	// DefaultRetryDelay separates two full passes over the address list.
	DefaultRetryDelay = 3000 * time.Millisecond

	// DefaultMaxDatagramSize caps a single UDP payload.
	DefaultMaxDatagramSize = 1400
)

// Status is the connection state.
type Status int32

const (
	StatusInitial Status = iota
	StatusConnecting
	StatusConnected
	StatusConnectionError
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusConnectionError:
		return "connection_error"
	default:
		return "unknown"
	}
}

// Executor runs callbacks on the goroutine that owns the transport.
type Executor interface {
	Post(fn func()) bool
	Async(work func(), done func())
}

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures a Transport.
type Options struct {
	Loop       Executor
	Clock      clock.Clock
	Dialer     Dialer
	RetryDelay time.Duration
	// MaxDatagramSize caps UDP payloads, except for a lone line that
	// exceeds it on its own.
	MaxDatagramSize int
	// OnStatus is invoked on the loop goroutine after every status change.
	OnStatus func(Status)
	Logger   *zap.SugaredLogger
}

type writeRequest struct {
	buf    *pool.Buffer
	frames [][]byte
	next   int
	done   func(error)
}

func (w *writeRequest) finish(err error) {
	pool.Buffers.Put(w.buf)
	w.buf = nil
	if w.done != nil {
		w.done(err)
	}
}

// Transport is a reconnecting TCP or UDP connection to one of an
// endpoint's resolved addresses.
type Transport struct {
	opts    Options
	network string
	frame   func(buf *pool.Buffer, lines []string) [][]byte

	endpoint *endpoint.Endpoint
	cursor   int
	conn     net.Conn

	dialCancel context.CancelFunc
	connecting bool
	writing    bool
	writes     []*writeRequest

	retry    *clock.Timer
	retryGen uint64

	closing bool
	closed  bool

	failureLog rate.Sometimes

	mu     sync.RWMutex
	status Status
	peer   string
}

// NewTCP creates a stream transport. Lines written together are sent as
// one newline-terminated stream write.
func NewTCP(opts Options) *Transport {
	return newTransport("tcp", frameStream, opts)
}

// NewUDP creates a datagram transport. Lines are packed into datagrams no
// larger than MaxDatagramSize. A single line longer than the cap is never
// split or dropped; it goes out alone as one oversized datagram.
func NewUDP(opts Options) *Transport {
	t := newTransport("udp", nil, opts)
	max := t.opts.MaxDatagramSize
	t.frame = func(buf *pool.Buffer, lines []string) [][]byte {
		return packDatagrams(buf, lines, max)
	}
	return t
}

// ForEndpoint creates the variant matching ep's protocol.
func ForEndpoint(ep *endpoint.Endpoint, opts Options) *Transport {
	if ep.Protocol == "tcp" {
		return NewTCP(opts)
	}
	return NewUDP(opts)
}

func newTransport(network string, frame func(*pool.Buffer, []string) [][]byte, opts Options) *Transport {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{Timeout: 5 * time.Second}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxDatagramSize <= 0 {
		opts.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Transport{
		opts:       opts,
		network:    network,
		frame:      frame,
		failureLog: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
}

// Network returns "tcp" or "udp".
func (t *Transport) Network() string {
	return t.network
}

// Status returns the current connection state.
func (t *Transport) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Peer returns the address of the live connection, or "" when not
// connected.
func (t *Transport) Peer() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peer
}

// Setup starts connecting to ep from its first address.
func (t *Transport) Setup(ep *endpoint.Endpoint) {
	if t.closing || len(ep.Addrs) == 0 {
		return
	}
	t.stopRetry()
	t.dropConn(internalerrors.ErrNotConnected)
	t.endpoint = ep
	t.cursor = 0
	if t.connecting {
		// onConnect notices the endpoint switch and restarts from
		// address 0 of the new one.
		t.dialCancel()
		return
	}
	t.connect()
}

// Write sends lines to the sink. It fails with ErrNotConnected unless the
// transport is connected. done, if set, runs on the loop once the last
// fragment has been written or the write has failed.
func (t *Transport) Write(lines []string, done func(error)) error {
	if t.closing {
		return internalerrors.ErrTransportClosed
	}
	if t.Status() != StatusConnected {
		return internalerrors.ErrNotConnected
	}
	buf := pool.Buffers.Get()
	req := &writeRequest{buf: buf, frames: t.frame(buf, lines), done: done}
	if len(req.frames) == 0 {
		req.finish(nil)
		return nil
	}
	t.writes = append(t.writes, req)
	t.pump()
	return nil
}

// Close releases the socket and timer. It may be called from inside a
// status callback. When a dial or write is still in flight, the socket is
// released by that operation's completion instead.
func (t *Transport) Close() {
	if t.closing {
		return
	}
	t.closing = true
	t.stopRetry()
	if t.dialCancel != nil {
		t.dialCancel()
	}
	if t.writing && t.conn != nil {
		_ = t.conn.SetWriteDeadline(time.Now())
	}
	t.finishClose()
}

// Closed reports whether the transport has released its resources.
func (t *Transport) Closed() bool {
	return t.closed
}

func (t *Transport) finishClose() {
	if t.closed || t.connecting || t.writing {
		return
	}
	t.closed = true
	t.dropConn(internalerrors.ErrTransportClosed)
	t.setStatus(StatusInitial, "")
}

func (t *Transport) dropConn(reason error) {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	pending := t.writes
	t.writes = nil
	if t.writing && len(pending) > 0 {
		// The in-flight request still references its buffer; onWrite
		// finishes it.
		t.writes = pending[:1]
		pending = pending[1:]
	}
	for _, req := range pending {
		req.finish(reason)
	}
}

func (t *Transport) connect() {
	if t.closing || t.endpoint == nil {
		return
	}
	ep := t.endpoint
	addr := ep.Addrs[t.cursor]
	t.setStatus(StatusConnecting, "")
	if t.closing {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.dialCancel = cancel
	t.connecting = true

	dialer := t.opts.Dialer
	network := t.network
	var conn net.Conn
	var err error
	t.opts.Loop.Async(func() {
		conn, err = dialer.DialContext(ctx, network, addr.String())
	}, func() {
		cancel()
		t.onConnect(ep, addr, conn, err)
	})
}

func (t *Transport) onConnect(ep *endpoint.Endpoint, addr netip.AddrPort, conn net.Conn, err error) {
	t.connecting = false
	t.dialCancel = nil

	if t.closing {
		if conn != nil {
			_ = conn.Close()
		}
		t.finishClose()
		return
	}
	if ep != t.endpoint {
		// Setup switched endpoints while this dial was in flight.
		if conn != nil {
			_ = conn.Close()
		}
		t.connect()
		return
	}

	if err != nil {
		t.opts.Logger.Debugw("connect failed", "network", t.network, "address", addr.String(), "error", err)
		t.failureLog.Do(func() {
			t.opts.Logger.Warnw("metrics sink unreachable", "network", t.network, "address", addr.String(), "error", err)
		})
		t.cursor++
		if t.cursor < len(ep.Addrs) {
			t.connect()
			return
		}
		t.setStatus(StatusConnectionError, "")
		t.scheduleRetry()
		return
	}

	t.conn = conn
	t.stopRetry()
	t.opts.Logger.Infow("connected to metrics sink", "network", t.network, "address", addr.String())
	t.setStatus(StatusConnected, addr.String())
	t.pump()
}

// reconnect restarts the address cycle right away after a previously
// good connection broke. A cycle already under way is left alone.
func (t *Transport) reconnect() {
	if t.closing || t.connecting || t.Status() == StatusConnecting {
		return
	}
	t.stopRetry()
	t.dropConn(internalerrors.ErrNotConnected)
	t.cursor = 0
	t.connect()
}

func (t *Transport) scheduleRetry() {
	if t.closing {
		return
	}
	t.stopRetry()
	gen := t.retryGen
	self := weak.Make(t)
	loop := t.opts.Loop
	t.retry = t.opts.Clock.AfterFunc(t.opts.RetryDelay, func() {
		loop.Post(func() {
			tr := self.Value()
			if tr == nil || tr.closing || tr.retryGen != gen {
				return
			}
			tr.retry = nil
			tr.cursor = 0
			tr.connect()
		})
	})
}

func (t *Transport) stopRetry() {
	t.retryGen++
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
}

func (t *Transport) pump() {
	if t.closing || t.writing || t.conn == nil || len(t.writes) == 0 {
		return
	}
	req := t.writes[0]
	frame := req.frames[req.next]
	conn := t.conn
	t.writing = true

	var err error
	t.opts.Loop.Async(func() {
		_, err = conn.Write(frame)
	}, func() {
		t.onWrite(conn, req, err)
	})
}

func (t *Transport) onWrite(conn net.Conn, req *writeRequest, err error) {
	t.writing = false

	if t.closing {
		if len(t.writes) > 0 && t.writes[0] == req {
			t.writes = t.writes[1:]
		}
		req.finish(internalerrors.ErrTransportClosed)
		t.finishClose()
		return
	}
	if conn != t.conn {
		// The connection was replaced while the write was in flight.
		t.writes = t.writes[1:]
		req.finish(internalerrors.ErrNotConnected)
		t.pump()
		return
	}
	if err != nil {
		t.opts.Logger.Warnw("write failed, reconnecting", "network", t.network, "peer", t.Peer(), "error", err)
		t.writes = t.writes[1:]
		req.finish(err)
		t.reconnect()
		return
	}

	req.next++
	if req.next == len(req.frames) {
		t.writes = t.writes[1:]
		req.finish(nil)
	}
	t.pump()
}

func (t *Transport) setStatus(status Status, peer string) {
	t.mu.Lock()
	changed := t.status != status
	t.status = status
	t.peer = peer
	t.mu.Unlock()
	if changed && t.opts.OnStatus != nil {
		t.opts.OnStatus(status)
	}
}
