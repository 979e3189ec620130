// Package keba implements the per-charger client on top of the shared UDP
// transport, plus an in-process charger emulator for tests and the simulate
// command.
package keba

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/gridsteer/kecc/core/charger"
	corekeba "github.com/gridsteer/kecc/core/keba"
	"github.com/gridsteer/kecc/infra/logger"
	"github.com/gridsteer/kecc/infra/udp"
)

// DefaultTimeout bounds the wait for a reply to one command.
const DefaultTimeout = 2 * time.Second

// DefaultSendRate paces outbound commands. The charger firmware drops
// datagrams that arrive back to back.
const DefaultSendRate = rate.Limit(10)

var (
	// ErrNotConnected is returned when the client has no transport session.
	ErrNotConnected = errors.New("keba: client not connected")
	// ErrTimeout is returned when the charger does not answer in time.
	ErrTimeout = errors.New("keba: no response received")
	// ErrRequestInFlight is returned when a request is already pending.
	// Replies carry no correlation id; only one request may be outstanding.
	ErrRequestInFlight = errors.New("keba: request already in flight")
	// ErrProtocol is returned when a reply does not match the request.
	ErrProtocol = errors.New("keba: protocol error")
)

// Transport is the slice of the UDP layer the client uses. Implemented by
// *udp.Transport.
type Transport interface {
	Acquire() error
	Release()
	Register(ip string, cb udp.Callback) error
	Unregister(ip string)
	Send(ip, payload string) error
}

// Client talks to one charger. Safe for concurrent use; requests are
// serialized by the single in-flight discipline.
type Client struct {
	transport Transport
	ip        string
	timeout   time.Duration
	limiter   *rate.Limiter
	log       logger.Logger

	mu        sync.Mutex
	connected bool
	inFlight  bool
	done      chan struct{}

	mailbox chan corekeba.Response
	dropped atomic.Uint64
}

var _ charger.Client = (*Client)(nil)

// Option adjusts client construction.
type Option func(*Client)

// WithTimeout overrides the per-request reply timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithSendRate overrides the outbound pacing.
func WithSendRate(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithLogger overrides the default component logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a disconnected client for the charger at ip. The ip must
// be a literal address; inbound frames are matched against it.
func NewClient(transport Transport, ip string, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		ip:        ip,
		timeout:   DefaultTimeout,
		limiter:   rate.NewLimiter(DefaultSendRate, 1),
		log:       logger.New("keba_client"),
		mailbox:   make(chan corekeba.Response, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IP returns the charger address this client is bound to.
func (c *Client) IP() string { return c.ip }

// Connect opens the transport session and registers for inbound frames.
// Idempotent.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	if err := c.transport.Acquire(); err != nil {
		return err
	}
	if err := c.transport.Register(c.ip, c.onMessage); err != nil {
		c.transport.Release()
		return err
	}
	c.done = make(chan struct{})
	c.connected = true
	c.log.Infof("connected to charger at %s", c.ip)
	return nil
}

// Disconnect unregisters and releases the transport session. A pending
// request fails promptly with ErrNotConnected instead of waiting out its
// timer. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	close(c.done)
	c.mu.Unlock()

	c.transport.Unregister(c.ip)
	c.transport.Release()
	c.log.Infof("disconnected from charger at %s", c.ip)
}

// Connected reports whether the client holds a transport session.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// DroppedFrames counts inbound frames discarded because the mailbox was
// full. Unsolicited state pushes land here.
func (c *Client) DroppedFrames() uint64 {
	return c.dropped.Load()
}

func (c *Client) onMessage(msg udp.Message) {
	resp := corekeba.DecodeResponse(msg.Data)
	select {
	case c.mailbox <- resp:
	default:
		c.dropped.Add(1)
		c.log.Debugf("dropped frame from %s: %s", c.ip, msg.Data)
	}
}

// Request sends one command and waits for the next frame from the charger.
func (c *Client) Request(ctx context.Context, command string) (corekeba.Response, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return corekeba.Response{}, ErrNotConnected
	}
	if c.inFlight {
		c.mu.Unlock()
		return corekeba.Response{}, ErrRequestInFlight
	}
	c.inFlight = true
	done := c.done
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return corekeba.Response{}, err
	}

	// Stale frames from pushes or late replies would be taken for this
	// command's answer.
drain:
	for {
		select {
		case stale := <-c.mailbox:
			c.log.Debugf("discarded stale frame from %s: %s", c.ip, stale.Raw)
		default:
			break drain
		}
	}

	if err := c.transport.Send(c.ip, command); err != nil {
		return corekeba.Response{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp := <-c.mailbox:
		return resp, nil
	case <-timer.C:
		return corekeba.Response{}, fmt.Errorf("%w from %s within %s", ErrTimeout, c.ip, c.timeout)
	case <-done:
		return corekeba.Response{}, ErrNotConnected
	case <-ctx.Done():
		return corekeba.Response{}, ctx.Err()
	}
}

func (c *Client) reportFields(ctx context.Context, id int) (map[string]any, error) {
	resp, err := c.Request(ctx, corekeba.ReportCommand(id))
	if err != nil {
		return nil, err
	}
	if !resp.IsJSON {
		return nil, fmt.Errorf("%w: report %d reply is not JSON: %q", ErrProtocol, id, resp.Raw)
	}
	if got, ok := resp.ReportID(); !ok || got != id {
		return nil, fmt.Errorf("%w: requested report %d, reply carries id %d", ErrProtocol, id, got)
	}
	return resp.Fields, nil
}

// Report1 fetches product identity.
func (c *Client) Report1(ctx context.Context) (corekeba.Report1, error) {
	fields, err := c.reportFields(ctx, corekeba.ReportIdentity)
	if err != nil {
		return corekeba.Report1{}, err
	}
	return corekeba.NewReport1(fields), nil
}

// Report2 fetches the operational state.
func (c *Client) Report2(ctx context.Context) (corekeba.Report2, error) {
	fields, err := c.reportFields(ctx, corekeba.ReportState)
	if err != nil {
		return corekeba.Report2{}, err
	}
	return corekeba.NewReport2(fields), nil
}

// Report3 fetches electrical measurements.
func (c *Client) Report3(ctx context.Context) (corekeba.Report3, error) {
	fields, err := c.reportFields(ctx, corekeba.ReportMeasurements)
	if err != nil {
		return corekeba.Report3{}, err
	}
	return corekeba.NewReport3(fields), nil
}

// Report100 fetches session bookkeeping. Older firmware does not implement
// it; callers treat failures as non-fatal.
func (c *Client) Report100(ctx context.Context) (corekeba.Report100, error) {
	fields, err := c.reportFields(ctx, corekeba.ReportSession)
	if err != nil {
		return corekeba.Report100{}, err
	}
	return corekeba.NewReport100(fields), nil
}

// Probe fetches report 1 as a liveness and identity check.
func (c *Client) Probe(ctx context.Context) (corekeba.Report1, error) {
	return c.Report1(ctx)
}

func (c *Client) command(ctx context.Context, command string) error {
	_, err := c.Request(ctx, command)
	return err
}

// Enable authorizes the charger to deliver energy.
func (c *Client) Enable(ctx context.Context) error {
	return c.command(ctx, corekeba.EnableCommand(true))
}

// Disable suspends energy delivery.
func (c *Client) Disable(ctx context.Context) error {
	return c.command(ctx, corekeba.EnableCommand(false))
}

// SetCurrent sets the charging current limit in milliamps.
func (c *Client) SetCurrent(ctx context.Context, milliamps int64) error {
	return c.command(ctx, corekeba.CurrentCommand(milliamps))
}

// SetEnergyLimit sets the session energy limit in 0.1 Wh units.
func (c *Client) SetEnergyLimit(ctx context.Context, units int64) error {
	return c.command(ctx, corekeba.EnergyLimitCommand(units))
}

// SetOutput drives the X2 output relay.
func (c *Client) SetOutput(ctx context.Context, value int64) error {
	return c.command(ctx, corekeba.OutputCommand(value))
}

// StartCharging starts a session, optionally authorizing with an RFID tag
// and class.
func (c *Client) StartCharging(ctx context.Context, tag, class string) error {
	return c.command(ctx, corekeba.StartCommand(tag, class))
}

// StopCharging stops the running session.
func (c *Client) StopCharging(ctx context.Context) error {
	return c.command(ctx, corekeba.StopCommand())
}

// UnlockSocket releases the cable. The session should be stopped first.
func (c *Client) UnlockSocket(ctx context.Context) error {
	return c.command(ctx, corekeba.UnlockCommand())
}

// DisplayText shows text on the charger display. Spaces are rendered by the
// firmware from the $ filler; overlong text is truncated to the display
// width.
func (c *Client) DisplayText(ctx context.Context, text string) error {
	cmd, truncated := corekeba.DisplayCommand(text)
	if truncated {
		c.log.Warnf("display text truncated to %d characters: %q", corekeba.MaxDisplayLength, text)
	}
	return c.command(ctx, cmd)
}
