package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/goburrow/serial"
)

// Channel is an open byte stream to one panel. Read returns io.EOF once the
// device is gone.
type Channel = io.ReadWriteCloser

// Options configures a channel. Zero values select the defaults.
type Options struct {
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      string
	ReadTimeout time.Duration
	DialTimeout time.Duration
}

const (
	DefaultReadTimeout = 50 * time.Millisecond
	DefaultDialTimeout = 5 * time.Second

	tcpScheme = "tcp://"
)

func (o Options) withDefaults() Options {
	if o.BaudRate == 0 {
		o.BaudRate = 115200
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.Parity == "" {
		o.Parity = "N"
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	return o
}

type Opener interface {
	Open(ctx context.Context, address string, opts Options) (Channel, error)
}

type OpenerFunc func(ctx context.Context, address string, opts Options) (Channel, error)

func (f OpenerFunc) Open(ctx context.Context, address string, opts Options) (Channel, error) {
	return f(ctx, address, opts)
}

// IsTimeout reports whether err is a read timeout. Timeouts are not
// failures, they only give the reader a chance to check its context.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, serial.ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// SerialOpener opens local serial ports.
type SerialOpener struct {
	// open is replaced in tests
	open func(*serial.Config) (serial.Port, error)
}

func NewSerialOpener() *SerialOpener {
	return &SerialOpener{open: serial.Open}
}

func (s *SerialOpener) Open(ctx context.Context, address string, opts Options) (Channel, error) {
	opts = opts.withDefaults()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := s.open(&serial.Config{
		Address:  address,
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: opts.StopBits,
		Parity:   opts.Parity,
		Timeout:  opts.ReadTimeout,
	})
	if err != nil {
		return nil, types.NewTransportError(address, "open", err)
	}
	return port, nil
}

// TCPOpener connects to serial-over-TCP bridges (ser2net and similar).
type TCPOpener struct {
	dialer net.Dialer
}

func NewTCPOpener() *TCPOpener {
	return &TCPOpener{}
}

func (t *TCPOpener) Open(ctx context.Context, address string, opts Options) (Channel, error) {
	opts = opts.withDefaults()

	hostport := strings.TrimPrefix(address, tcpScheme)
	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	conn, err := t.dialer.DialContext(dialCtx, "tcp", hostport)
	if err != nil {
		return nil, types.NewTransportError(address, "dial", err)
	}
	return &deadlineConn{Conn: conn, readTimeout: opts.ReadTimeout}, nil
}

// deadlineConn gives network reads the same timeout behaviour as serial
// ports.
type deadlineConn struct {
	net.Conn
	readTimeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}
	return c.Conn.Read(p)
}

// Mux dispatches by address scheme: tcp:// goes to TCP, everything else is a
// serial device path.
type Mux struct {
	Serial Opener
	TCP    Opener
}

func NewMux() *Mux {
	return &Mux{Serial: NewSerialOpener(), TCP: NewTCPOpener()}
}

func (m *Mux) Open(ctx context.Context, address string, opts Options) (Channel, error) {
	if strings.HasPrefix(address, tcpScheme) {
		return m.TCP.Open(ctx, address, opts)
	}
	return m.Serial.Open(ctx, address, opts)
}
