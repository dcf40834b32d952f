package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Schera-ole/telemetry-agent/internal/endpoint"
	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	"github.com/Schera-ole/telemetry-agent/internal/loop"
	"github.com/Schera-ole/telemetry-agent/internal/pool"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

type fakeConn struct {
	mu         sync.Mutex
	remote     string
	writes     [][]byte
	failWrites int
	closed     bool
	// hold, when set, parks every Write until it is closed.
	hold     chan struct{}
	inWrites int
}

func (c *fakeConn) Read([]byte) (int, error) { return 0, io.EOF }

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	hold := c.hold
	c.inWrites++
	c.mu.Unlock()
	if hold != nil {
		<-hold
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.failWrites > 0 {
		c.failWrites--
		return 0, errors.New("broken pipe")
	}
	c.writes = append(c.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *fakeConn) Hold() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = make(chan struct{})
	return c.hold
}

func (c *fakeConn) WritesStarted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inWrites
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) FailNextWrites(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = n
}

func (c *fakeConn) LocalAddr() net.Addr              { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr             { return fakeAddr(c.remote) }
func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

type fakeDialer struct {
	mu        sync.Mutex
	reachable map[string]bool
	block     bool
	// hang blocks dials to the listed addresses until they are canceled.
	hang     map[string]bool
	attempts []string
	conns    []*fakeConn
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, address)
	block := d.block || d.hang[address]
	ok := d.reachable[address]
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		return nil, errors.New("connection refused")
	}
	conn := &fakeConn{remote: address}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) Attempts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.attempts...)
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type harness struct {
	t        *testing.T
	loop     *loop.Loop
	clock    *clock.Mock
	dialer   *fakeDialer
	mu       sync.Mutex
	statuses []Status
	onStatus func(Status)
}

func newHarness(t *testing.T, dialer *fakeDialer) *harness {
	h := &harness{
		t:      t,
		loop:   loop.New(),
		clock:  clock.NewMock(),
		dialer: dialer,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) options() Options {
	return Options{
		Loop:   h.loop,
		Clock:  h.clock,
		Dialer: h.dialer,
		Logger: zaptest.NewLogger(h.t).Sugar(),
		OnStatus: func(s Status) {
			h.mu.Lock()
			h.statuses = append(h.statuses, s)
			cb := h.onStatus
			h.mu.Unlock()
			if cb != nil {
				cb(s)
			}
		},
	}
}

// do runs fn on the loop and waits for it, which also orders the caller
// after every callback posted before it.
func (h *harness) do(fn func()) {
	h.t.Helper()
	ran := make(chan struct{})
	require.True(h.t, h.loop.Post(func() {
		fn()
		close(ran)
	}))
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		h.t.Fatal("loop callback did not run")
	}
}

func (h *harness) Statuses() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Status(nil), h.statuses...)
}

func testEndpoint(protocol string, addrs ...string) *endpoint.Endpoint {
	ep := &endpoint.Endpoint{Spec: endpoint.Spec{Protocol: protocol, Host: "sink", Port: 8125}}
	for _, a := range addrs {
		ep.Addrs = append(ep.Addrs, netip.MustParseAddrPort(a))
	}
	return ep
}

func TestTransport_AddressFailover(t *testing.T) {
	dialer := &fakeDialer{reachable: map[string]bool{"10.0.0.3:8125": true}}
	h := newHarness(t, dialer)
	tr := NewTCP(h.options())
	defer h.do(tr.Close)

	h.do(func() { tr.Setup(testEndpoint("tcp", "10.0.0.1:8125", "10.0.0.2:8125", "10.0.0.3:8125")) })

	require.Eventually(t, func() bool { return tr.Status() == StatusConnected }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"10.0.0.1:8125", "10.0.0.2:8125", "10.0.0.3:8125"}, dialer.Attempts())
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, h.Statuses())
	assert.Equal(t, "10.0.0.3:8125", tr.Peer())
}

func TestTransport_FullCycleBackoff(t *testing.T) {
	dialer := &fakeDialer{reachable: map[string]bool{}}
	h := newHarness(t, dialer)
	tr := NewUDP(h.options())
	defer h.do(tr.Close)

	h.do(func() { tr.Setup(testEndpoint("udp", "10.0.0.1:8125", "10.0.0.2:8125")) })

	for pass := 1; pass <= 3; pass++ {
		require.Eventually(t, func() bool {
			return len(dialer.Attempts()) == 2*pass && tr.Status() == StatusConnectionError
		}, 2*time.Second, 5*time.Millisecond, "pass %d", pass)
		h.do(func() {})

		// Nothing happens before the backoff elapses.
		h.clock.Add(DefaultRetryDelay - time.Millisecond)
		h.do(func() {})
		assert.Len(t, dialer.Attempts(), 2*pass)

		h.clock.Add(time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(dialer.Attempts()) == 8 }, 2*time.Second, 5*time.Millisecond)
	statuses := h.Statuses()
	require.GreaterOrEqual(t, len(statuses), 6)
	assert.Equal(t, []Status{
		StatusConnecting, StatusConnectionError,
		StatusConnecting, StatusConnectionError,
		StatusConnecting, StatusConnectionError,
	}, statuses[:6])

	// Each pass restarts from the first address.
	attempts := dialer.Attempts()
	for i := 0; i < len(attempts); i += 2 {
		assert.Equal(t, "10.0.0.1:8125", attempts[i])
	}
}

func TestTransport_WriteRequiresConnection(t *testing.T) {
	h := newHarness(t, &fakeDialer{})
	tr := NewTCP(h.options())

	var err error
	h.do(func() { err = tr.Write([]string{"a:1|c"}, nil) })
	assert.ErrorIs(t, err, internalerrors.ErrNotConnected)

	h.do(tr.Close)
	h.do(func() { err = tr.Write([]string{"a:1|c"}, nil) })
	assert.ErrorIs(t, err, internalerrors.ErrTransportClosed)
}

func TestTransport_TCPWriteFailureReconnectsImmediately(t *testing.T) {
	dialer := &fakeDialer{reachable: map[string]bool{"10.0.0.1:8125": true}}
	h := newHarness(t, dialer)
	tr := NewTCP(h.options())
	defer h.do(tr.Close)

	h.do(func() { tr.Setup(testEndpoint("tcp", "10.0.0.1:8125")) })
	require.Eventually(t, func() bool { return tr.Status() == StatusConnected }, 2*time.Second, 5*time.Millisecond)

	dialer.Conn(0).FailNextWrites(1)
	writeErr := make(chan error, 1)
	h.do(func() {
		require.NoError(t, tr.Write([]string{"a:1|c"}, func(err error) { writeErr <- err }))
	})
	assert.Error(t, <-writeErr)

	// No clock advance: the reconnect bypasses the backoff.
	require.Eventually(t, func() bool {
		return len(dialer.Attempts()) == 2 && tr.Status() == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusConnecting, StatusConnected}, h.Statuses())

	h.do(func() {
		require.NoError(t, tr.Write([]string{"a:1|c", "b:2|g"}, func(err error) { writeErr <- err }))
	})
	require.NoError(t, <-writeErr)
	assert.Equal(t, [][]byte{[]byte("a:1|c\nb:2|g\n")}, dialer.Conn(1).Written())
}

func TestTransport_UDPBatchesIntoDatagrams(t *testing.T) {
	dialer := &fakeDialer{reachable: map[string]bool{"127.0.0.1:8125": true}}
	h := newHarness(t, dialer)
	tr := NewUDP(h.options())
	defer h.do(tr.Close)

	h.do(func() { tr.Setup(testEndpoint("udp", "127.0.0.1:8125")) })
	require.Eventually(t, func() bool { return tr.Status() == StatusConnected }, 2*time.Second, 5*time.Millisecond)

	var lines []string
	for i := 0; i < 60; i++ {
		lines = append(lines, "bucket.metric"+strings.Repeat("x", 40)+":1|g")
	}

	calls := 0
	done := make(chan error, 1)
	h.do(func() {
		require.NoError(t, tr.Write(lines, func(err error) {
			calls++
			done <- err
		}))
	})
	require.NoError(t, <-done)
	h.do(func() {})
	assert.Equal(t, 1, calls)

	written := dialer.Conn(0).Written()
	require.Greater(t, len(written), 1)
	var joined []string
	for _, datagram := range written {
		assert.LessOrEqual(t, len(datagram), DefaultMaxDatagramSize)
		joined = append(joined, string(datagram))
	}
	assert.Equal(t, strings.Join(lines, "\n"), strings.Join(joined, "\n"))
}

func TestTransport_CloseDefersUntilDialCompletes(t *testing.T) {
	dialer := &fakeDialer{block: true}
	h := newHarness(t, dialer)
	tr := NewTCP(h.options())

	h.do(func() { tr.Setup(testEndpoint("tcp", "10.0.0.1:8125")) })
	require.Eventually(t, func() bool { return len(dialer.Attempts()) == 1 }, 2*time.Second, 5*time.Millisecond)

	h.do(tr.Close)
	require.Eventually(t, func() bool {
		closed := false
		h.do(func() { closed = tr.Closed() })
		return closed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), h.loop.Pending())
	assert.Equal(t, StatusInitial, tr.Status())
}

func TestTransport_CloseFromStatusCallbackStopsRetry(t *testing.T) {
	dialer := &fakeDialer{reachable: map[string]bool{}}
	h := newHarness(t, dialer)
	tr := NewTCP(h.options())
	h.onStatus = func(s Status) {
		if s == StatusConnectionError {
			tr.Close()
		}
	}

	h.do(func() { tr.Setup(testEndpoint("tcp", "10.0.0.1:8125")) })
	require.Eventually(t, func() bool {
		closed := false
		h.do(func() { closed = tr.Closed() })
		return closed
	}, 2*time.Second, 5*time.Millisecond)

	h.clock.Add(10 * DefaultRetryDelay)
	h.do(func() {})
	assert.Equal(t, []string{"10.0.0.1:8125"}, dialer.Attempts())
}

func TestTransport_SetupDuringDialSwitchesEndpoint(t *testing.T) {
	dialer := &fakeDialer{
		reachable: map[string]bool{"10.0.0.2:8125": true},
		hang:      map[string]bool{"10.0.0.1:8125": true},
	}
	h := newHarness(t, dialer)
	tr := NewTCP(h.options())
	defer h.do(tr.Close)

	h.do(func() { tr.Setup(testEndpoint("tcp", "10.0.0.1:8125")) })
	require.Eventually(t, func() bool { return len(dialer.Attempts()) == 1 }, 2*time.Second, 5*time.Millisecond)

	h.do(func() { tr.Setup(testEndpoint("tcp", "10.0.0.2:8125")) })
	require.Eventually(t, func() bool { return tr.Status() == StatusConnected }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"10.0.0.1:8125", "10.0.0.2:8125"}, dialer.Attempts())
	assert.Equal(t, "10.0.0.2:8125", tr.Peer())
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, h.Statuses())
}

func TestTransport_SetupReplacesLiveConnection(t *testing.T) {
	dialer := &fakeDialer{reachable: map[string]bool{"10.0.0.1:8125": true, "10.0.0.2:8125": true}}
	h := newHarness(t, dialer)
	tr := NewUDP(h.options())
	defer h.do(tr.Close)

	h.do(func() { tr.Setup(testEndpoint("udp", "10.0.0.1:8125")) })
	require.Eventually(t, func() bool { return tr.Peer() == "10.0.0.1:8125" }, 2*time.Second, 5*time.Millisecond)

	h.do(func() { tr.Setup(testEndpoint("udp", "10.0.0.2:8125")) })
	require.Eventually(t, func() bool { return tr.Peer() == "10.0.0.2:8125" }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, dialer.Conn(0).Closed())

	done := make(chan error, 1)
	h.do(func() {
		require.NoError(t, tr.Write([]string{"a:1|c"}, func(err error) { done <- err }))
	})
	require.NoError(t, <-done)
	assert.Empty(t, dialer.Conn(0).Written())
	assert.Equal(t, [][]byte{[]byte("a:1|c")}, dialer.Conn(1).Written())
}

func TestTransport_CloseDefersUntilWriteCompletes(t *testing.T) {
	dialer := &fakeDialer{reachable: map[string]bool{"10.0.0.1:8125": true}}
	h := newHarness(t, dialer)
	tr := NewTCP(h.options())

	h.do(func() { tr.Setup(testEndpoint("tcp", "10.0.0.1:8125")) })
	require.Eventually(t, func() bool { return tr.Status() == StatusConnected }, 2*time.Second, 5*time.Millisecond)

	conn := dialer.Conn(0)
	release := conn.Hold()
	done := make(chan error, 2)
	h.do(func() {
		require.NoError(t, tr.Write([]string{"a:1|c"}, func(err error) { done <- err }))
		require.NoError(t, tr.Write([]string{"b:2|c"}, func(err error) { done <- err }))
	})
	require.Eventually(t, func() bool { return conn.WritesStarted() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The in-flight write keeps the socket open until it returns.
	closed := true
	h.do(func() {
		tr.Close()
		closed = tr.Closed()
	})
	assert.False(t, closed)
	assert.False(t, conn.Closed())
	assert.Empty(t, done)

	close(release)
	assert.ErrorIs(t, <-done, internalerrors.ErrTransportClosed)
	assert.ErrorIs(t, <-done, internalerrors.ErrTransportClosed)
	require.Eventually(t, func() bool {
		closed := false
		h.do(func() { closed = tr.Closed() })
		return closed
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, conn.Closed())
	assert.Equal(t, StatusInitial, tr.Status())
	assert.Equal(t, int64(0), h.loop.Pending())
}

func TestPackDatagrams(t *testing.T) {
	oversized := "big:" + strings.Repeat("x", DefaultMaxDatagramSize) + "|g"
	tests := []struct {
		name  string
		lines []string
		max   int
		want  []string
	}{
		{"empty", nil, 10, nil},
		{"single", []string{"abc"}, 10, []string{"abc"}},
		{"fits exactly", []string{"abcd", "efgh"}, 9, []string{"abcd\nefgh"}},
		{"split", []string{"abcd", "efgh", "ij"}, 8, []string{"abcd", "efgh\nij"}},
		{"oversized line alone", []string{"ab", "0123456789", "cd"}, 5, []string{"ab", "0123456789", "cd"}},
		{
			"line over the default cap is sent whole",
			[]string{"a:1|c", oversized, "b:2|c"},
			DefaultMaxDatagramSize,
			[]string{"a:1|c", oversized, "b:2|c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, frame := range packDatagrams(&pool.Buffer{}, tt.lines, tt.max) {
				got = append(got, string(frame))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFrameStream(t *testing.T) {
	frames := frameStream(&pool.Buffer{}, []string{"a:1|c", "b:2|g"})
	require.Len(t, frames, 1)
	assert.Equal(t, "a:1|c\nb:2|g\n", string(frames[0]))
	assert.Nil(t, frameStream(&pool.Buffer{}, nil))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "connection_error", StatusConnectionError.String())
	assert.Equal(t, "unknown", Status(42).String())
}
