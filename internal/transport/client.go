package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"
)

// Connection modes.
const (
	ModeTCP = "tcp"
	ModeRTU = "rtu"
)

// Table selects the Modbus register table a read targets.
type Table string

// Register tables.
const (
	TableInput   Table = "input"
	TableHolding Table = "holding"
)

// Default timeouts applied when the config leaves them zero.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 5 * time.Second
)

// Config describes one Modbus endpoint.
type Config struct {
	// Mode is "tcp" or "rtu".
	Mode string

	// Host and Port apply in TCP mode.
	Host string
	Port int

	// SerialDevice through StopBits apply in RTU mode.
	SerialDevice string
	BaudRate     int
	DataBits     int
	Parity       string
	StopBits     int

	// ConnectTimeout bounds dialing; RequestTimeout bounds each
	// request/response exchange.
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Endpoint returns the canonical identity of the configured link,
// used as the sharing key in the Pool.
func (c Config) Endpoint() string {
	if c.Mode == ModeRTU {
		return "rtu://" + c.SerialDevice
	}
	return "tcp://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Stats holds operational counters for one endpoint.
type Stats struct {
	Reads        uint64
	Writes       uint64
	ErrorsTotal  uint64
	Connects     uint64
	LastActivity time.Time
	Connected    bool
}

// Logger is the optional logging surface, satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Conn is the request surface the polling layer drives. It exists so
// tests can substitute a fake link.
type Conn interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context, slaveID uint8, table Table, address uint16, quantity int) ([]uint16, error)
	Write(ctx context.Context, slaveID uint8, address uint16, words []uint16) error
	IsConnected() bool
	Stats() Stats
	Close() error
}

var _ Conn = (*Client)(nil)

// Client is one serialized Modbus session.
//
// Thread Safety: all methods are safe for concurrent use. A single
// mutex serializes requests, which both protects the per-request slave
// id switch and enforces one in-flight frame per endpoint.
type Client struct {
	cfg Config

	mu        sync.Mutex
	connected bool
	client    modbus.Client
	setSlave  func(byte)
	closeFn   func() error

	logger   Logger
	loggerMu sync.RWMutex

	reads        atomic.Uint64
	writes       atomic.Uint64
	errorsTotal  atomic.Uint64
	connects     atomic.Uint64
	lastActivity atomic.Int64
}

// NewClient validates the configuration and prepares a client. No I/O
// happens until Connect.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	switch cfg.Mode {
	case ModeTCP:
		if cfg.Host == "" || cfg.Port < 1 || cfg.Port > 65535 {
			return nil, fmt.Errorf("%w: tcp mode requires host and port", ErrConfig)
		}
	case ModeRTU:
		if cfg.SerialDevice == "" {
			return nil, fmt.Errorf("%w: rtu mode requires a serial device", ErrConfig)
		}
		if cfg.BaudRate < 1 {
			return nil, fmt.Errorf("%w: rtu mode requires a baud rate", ErrConfig)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrConfig, cfg.Mode)
	}

	return &Client{cfg: cfg}, nil
}

// SetLogger attaches an optional logger.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Connect establishes the session. Connecting an already-connected
// client is a no-op. The dial is bounded by ConnectTimeout; the ctx is
// checked before dialing but cannot interrupt an in-progress dial.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	switch c.cfg.Mode {
	case ModeTCP:
		handler := modbus.NewTCPClientHandler(net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port)))
		handler.Timeout = c.cfg.ConnectTimeout
		if err := handler.Connect(); err != nil {
			c.errorsTotal.Add(1)
			return fmt.Errorf("%w: %v", ErrConnect, err)
		}
		handler.Timeout = c.cfg.RequestTimeout
		c.client = modbus.NewClient(handler)
		c.setSlave = func(id byte) { handler.SlaveId = id }
		c.closeFn = handler.Close

	case ModeRTU:
		handler := modbus.NewRTUClientHandler(c.cfg.SerialDevice)
		handler.BaudRate = c.cfg.BaudRate
		handler.DataBits = c.cfg.DataBits
		handler.Parity = c.cfg.Parity
		handler.StopBits = c.cfg.StopBits
		handler.Timeout = c.cfg.RequestTimeout
		if err := handler.Connect(); err != nil {
			c.errorsTotal.Add(1)
			return fmt.Errorf("%w: %v", ErrConnect, err)
		}
		c.client = modbus.NewClient(handler)
		c.setSlave = func(id byte) { handler.SlaveId = id }
		c.closeFn = handler.Close
	}

	c.connected = true
	c.connects.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	c.logDebug("session established", "endpoint", c.cfg.Endpoint())
	return nil
}

// Read fetches quantity registers from the given table and address.
// Words come back in register order, one uint16 per register.
func (c *Client) Read(ctx context.Context, slaveID uint8, table Table, address uint16, quantity int) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	c.setSlave(slaveID)

	var data []byte
	var err error
	switch table {
	case TableInput:
		data, err = c.client.ReadInputRegisters(address, uint16(quantity))
	case TableHolding:
		data, err = c.client.ReadHoldingRegisters(address, uint16(quantity))
	default:
		return nil, fmt.Errorf("%w: unknown table %q", ErrConfig, table)
	}
	if err != nil {
		return nil, c.fault(err)
	}
	if len(data) != quantity*2 {
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrProtocol, len(data), quantity*2)
	}

	words := make([]uint16, quantity)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(data[i*2:])
	}

	c.reads.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return words, nil
}

// Write sends words to holding registers at the given address. A
// single word uses function 6, longer spans function 16.
func (c *Client) Write(ctx context.Context, slaveID uint8, address uint16, words []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}
	if len(words) == 0 {
		return fmt.Errorf("%w: empty write", ErrConfig)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	c.setSlave(slaveID)

	var err error
	if len(words) == 1 {
		_, err = c.client.WriteSingleRegister(address, words[0])
	} else {
		data := make([]byte, len(words)*2)
		for i, w := range words {
			binary.BigEndian.PutUint16(data[i*2:], w)
		}
		_, err = c.client.WriteMultipleRegisters(address, uint16(len(words)), data)
	}
	if err != nil {
		return c.fault(err)
	}

	c.writes.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// fault classifies a request error. Protocol exceptions and timeouts
// leave the session up; anything else drops it so the owner can
// reconnect on its schedule. Callers hold the mutex.
func (c *Client) fault(err error) error {
	c.errorsTotal.Add(1)

	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return fmt.Errorf("%w: %v", ErrProtocol, me)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	c.dropLocked()
	return fmt.Errorf("%w: %v", ErrConnect, err)
}

// dropLocked tears the session down. Callers hold the mutex.
func (c *Client) dropLocked() {
	if c.closeFn != nil {
		_ = c.closeFn()
	}
	c.connected = false
	c.client = nil
	c.setSlave = nil
	c.closeFn = nil
	c.logDebug("session dropped", "endpoint", c.cfg.Endpoint())
}

// IsConnected reports whether the session is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats returns current counters.
func (c *Client) Stats() Stats {
	return Stats{
		Reads:        c.reads.Load(),
		Writes:       c.writes.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		Connects:     c.connects.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
		Connected:    c.IsConnected(),
	}
}

// Close tears the session down. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		c.dropLocked()
	}
	return nil
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
