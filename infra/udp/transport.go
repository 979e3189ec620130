// Package udp provides the shared datagram socket used to talk to KeContact
// chargers. All chargers answer from source port 7090, so a single socket is
// bound once and inbound frames are routed to the client registered for the
// sender's IP.
package udp

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/gridsteer/kecc/infra/logger"
)

// DefaultPort is the UDP port KeContact chargers listen and reply on.
const DefaultPort = 7090

const readBufferSize = 1024

var (
	// ErrNotRunning is returned by Send when the socket is not bound.
	ErrNotRunning = errors.New("udp: transport not running")
	// ErrAlreadyRegistered is returned by Register when the IP already has a
	// callback. A second client for the same charger would silently steal
	// the first one's replies.
	ErrAlreadyRegistered = errors.New("udp: callback already registered for this IP")
)

// Message is one inbound datagram attributed to its sender.
type Message struct {
	IP   string
	Data string
	Raw  []byte
}

// Callback receives inbound messages for one charger IP. Callbacks run on
// the read loop goroutine and must only hand the message off.
type Callback func(Message)

// Config holds the socket parameters.
type Config struct {
	BindAddress string `json:"bind_address" yaml:"bind_address"`
	Port        int    `json:"port" yaml:"port"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
}

type packetConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	Close() error
}

var listenUDP = func(addr *net.UDPAddr) (packetConn, error) {
	return net.ListenUDP("udp", addr)
}

// Transport owns the shared socket. It is safe for concurrent use.
type Transport struct {
	cfg Config
	log logger.Logger

	mu        sync.Mutex
	conn      packetConn
	callbacks map[string]Callback
	running   bool
	pinned    bool
	refs      int
}

// New creates a stopped transport.
func New(cfg Config, log logger.Logger) *Transport {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Transport{
		cfg:       cfg,
		log:       log,
		callbacks: make(map[string]Callback),
	}
}

// Start binds the socket and keeps it up until Stop, regardless of the
// session count. Idempotent.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startLocked(true)
}

// Stop closes the socket and clears all registrations. Idempotent.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Acquire opens a charger session, binding the socket for the first one.
func (t *Transport) Acquire() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.startLocked(false); err != nil {
		return err
	}
	t.refs++
	return nil
}

// Release closes a charger session. The socket shuts down with the last
// session unless Start pinned it.
func (t *Transport) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refs > 0 {
		t.refs--
	}
	if t.refs == 0 && !t.pinned {
		t.stopLocked()
	}
}

func (t *Transport) startLocked(pin bool) error {
	if pin {
		t.pinned = true
	}
	if t.running {
		return nil
	}
	addr := &net.UDPAddr{IP: net.ParseIP(t.cfg.BindAddress), Port: t.cfg.Port}
	conn, err := listenUDP(addr)
	if err != nil {
		return fmt.Errorf("udp: bind %s:%d: %w", t.cfg.BindAddress, t.cfg.Port, err)
	}
	t.conn = conn
	t.running = true
	go t.readLoop(conn)
	t.log.Infof("listening on %s:%d", t.cfg.BindAddress, t.cfg.Port)
	return nil
}

func (t *Transport) stopLocked() {
	if !t.running {
		return
	}
	t.running = false
	t.pinned = false
	t.refs = 0
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.callbacks = make(map[string]Callback)
	t.log.Infof("stopped")
}

// Register routes inbound frames from ip to cb.
func (t *Transport) Register(ip string, cb Callback) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.callbacks[ip]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, ip)
	}
	t.callbacks[ip] = cb
	t.log.Debugf("registered callback for %s", ip)
	return nil
}

// Unregister removes the route for ip. Unknown IPs are a no-op.
func (t *Transport) Unregister(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.callbacks[ip]; exists {
		delete(t.callbacks, ip)
		t.log.Debugf("unregistered callback for %s", ip)
	}
}

// Send writes one command datagram to host:7090. The charger firmware only
// understands code page 437; runes outside it are dropped.
func (t *Transport) Send(host, payload string) error {
	t.mu.Lock()
	conn := t.conn
	running := t.running
	t.mu.Unlock()
	if !running || conn == nil {
		return ErrNotRunning
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprint(t.cfg.Port)))
	if err != nil {
		return fmt.Errorf("udp: resolve %s: %w", host, err)
	}
	if _, err := conn.WriteToUDP(encodeCP437(payload), addr); err != nil {
		return fmt.Errorf("udp: send to %s: %w", host, err)
	}
	t.log.Debugf("sent to %s: %s", host, payload)
	return nil
}

func (t *Transport) readLoop(conn packetConn) {
	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			running := t.running
			t.mu.Unlock()
			if running {
				t.log.Errorf("read loop terminated: %v", err)
			}
			return
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		t.dispatch(addr.IP.String(), raw)
	}
}

func (t *Transport) dispatch(ip string, raw []byte) {
	if !utf8.Valid(raw) {
		t.log.Errorf("failed to decode message from %s: %x", ip, raw)
		return
	}
	data := strings.TrimSpace(string(raw))

	t.mu.Lock()
	cb := t.callbacks[ip]
	t.mu.Unlock()

	t.log.Debugf("received from %s: %s", ip, data)
	if cb == nil {
		t.log.Warnf("no callback registered for %s, message ignored", ip)
		return
	}
	cb(Message{IP: ip, Data: data, Raw: raw})
}

// encodeCP437 converts payload to code page 437, skipping unmappable runes.
func encodeCP437(payload string) []byte {
	out := make([]byte, 0, len(payload))
	for _, r := range payload {
		if b, ok := charmap.CodePage437.EncodeRune(r); ok {
			out = append(out, b)
		}
	}
	return out
}
