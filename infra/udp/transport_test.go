package udp

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

type fakePacket struct {
	addr *net.UDPAddr
	data []byte
}

type fakeWrite struct {
	addr *net.UDPAddr
	data []byte
}

type fakeConn struct {
	mu        sync.Mutex
	writes    []fakeWrite
	inbox     chan fakePacket
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan fakePacket, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	select {
	case p := <-c.inbox:
		n := copy(b, p.data)
		return n, p.addr, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := make([]byte, len(b))
	copy(data, b)
	c.writes = append(c.writes, fakeWrite{addr: addr, data: data})
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) lastWrite(t *testing.T) fakeWrite {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		t.Fatal("no datagram written")
	}
	return c.writes[len(c.writes)-1]
}

func (c *fakeConn) deliver(ip string, data []byte) {
	c.inbox <- fakePacket{addr: &net.UDPAddr{IP: net.ParseIP(ip), Port: DefaultPort}, data: data}
}

func withFakeConn(t *testing.T) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	orig := listenUDP
	listenUDP = func(addr *net.UDPAddr) (packetConn, error) { return conn, nil }
	t.Cleanup(func() { listenUDP = orig })
	return conn
}

func waitMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestSendNotRunning(t *testing.T) {
	tr := New(Config{}, nil)
	if err := tr.Send("10.0.0.5", "report 1"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning got %v", err)
	}
}

func TestSendEncodesCP437(t *testing.T) {
	conn := withFakeConn(t)
	tr := New(Config{}, nil)
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	// ä maps to 0x84 in code page 437; the euro sign has no mapping and is
	// dropped.
	if err := tr.Send("10.0.0.5", "ä€b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	w := conn.lastWrite(t)
	if string(w.data) != string([]byte{0x84, 'b'}) {
		t.Fatalf("unexpected encoding %x", w.data)
	}
	if w.addr.Port != DefaultPort {
		t.Fatalf("expected port %d got %d", DefaultPort, w.addr.Port)
	}
	if w.addr.IP.String() != "10.0.0.5" {
		t.Fatalf("unexpected target %s", w.addr.IP)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	tr := New(Config{}, nil)
	if err := tr.Register("10.0.0.5", func(Message) {}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := tr.Register("10.0.0.5", func(Message) {})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered got %v", err)
	}
	// A different IP is fine.
	if err := tr.Register("10.0.0.6", func(Message) {}); err != nil {
		t.Fatalf("second ip: %v", err)
	}
}

func TestDispatchRoutesBySourceIP(t *testing.T) {
	conn := withFakeConn(t)
	tr := New(Config{}, nil)
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	got := make(chan Message, 4)
	if err := tr.Register("10.0.0.5", func(m Message) { got <- m }); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Unknown source and an invalid UTF-8 frame are both dropped.
	conn.deliver("10.0.0.9", []byte(`{"ID": "2"}`))
	conn.deliver("10.0.0.5", []byte{0xff, 0xfe})
	conn.deliver("10.0.0.5", []byte("TCH-OK :done\n"))

	msg := waitMessage(t, got)
	if msg.IP != "10.0.0.5" {
		t.Fatalf("unexpected source %s", msg.IP)
	}
	if msg.Data != "TCH-OK :done" {
		t.Fatalf("expected trimmed payload got %q", msg.Data)
	}
	select {
	case extra := <-got:
		t.Fatalf("unexpected extra message %+v", extra)
	default:
	}
}

func TestUnregisterStopsRouting(t *testing.T) {
	conn := withFakeConn(t)
	tr := New(Config{}, nil)
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	got := make(chan Message, 4)
	if err := tr.Register("10.0.0.5", func(m Message) { got <- m }); err != nil {
		t.Fatalf("register: %v", err)
	}
	tr.Unregister("10.0.0.5")
	tr.Unregister("10.0.0.5") // unknown IP is a no-op

	canary := make(chan Message, 1)
	if err := tr.Register("10.0.0.6", func(m Message) { canary <- m }); err != nil {
		t.Fatalf("register canary: %v", err)
	}
	conn.deliver("10.0.0.5", []byte("TCH-OK :done"))
	conn.deliver("10.0.0.6", []byte("TCH-OK :done"))

	waitMessage(t, canary)
	select {
	case msg := <-got:
		t.Fatalf("unregistered callback still invoked: %+v", msg)
	default:
	}
}

func TestAcquireReleaseLifecycle(t *testing.T) {
	conn := withFakeConn(t)
	tr := New(Config{}, nil)

	if err := tr.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := tr.Acquire(); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	tr.Release()
	if conn.isClosed() {
		t.Fatal("socket closed while sessions remain")
	}
	tr.Release()
	if !conn.isClosed() {
		t.Fatal("socket must close with the last session")
	}
	if err := tr.Send("10.0.0.5", "report 1"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning got %v", err)
	}
}

func TestStartPinsSocket(t *testing.T) {
	conn := withFakeConn(t)
	tr := New(Config{}, nil)
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	tr.Release()
	if conn.isClosed() {
		t.Fatal("pinned socket must survive session release")
	}
	tr.Stop()
	if !conn.isClosed() {
		t.Fatal("stop must close the socket")
	}
	// Registrations are cleared on stop.
	if err := tr.Register("10.0.0.5", func(Message) {}); err != nil {
		t.Fatalf("register after stop: %v", err)
	}
}
