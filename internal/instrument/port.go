package instrument

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
)

// Port is one instrument serial line. Tests substitute an in-memory pipe.
type Port interface {
	io.ReadWriter
	io.Closer
}

// DefaultReadTimeout bounds how long a query waits for a reply line.
const DefaultReadTimeout = 2 * time.Second

// PortOptions holds the line settings of one instrument. Zero framing fields
// mean 8 data bits, 1 stop bit and no parity.
type PortOptions struct {
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      string
	ReadTimeout time.Duration
}

var parities = map[string]serial.Parity{
	"":     serial.NoParity,
	"N":    serial.NoParity,
	"NONE": serial.NoParity,
	"E":    serial.EvenParity,
	"EVEN": serial.EvenParity,
	"O":    serial.OddParity,
	"ODD":  serial.OddParity,
}

var stopBits = map[int]serial.StopBits{
	0: serial.OneStopBit,
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// Mode checks the options and returns the serial.Mode to open the line with.
func (o PortOptions) Mode() (*serial.Mode, error) {
	if o.BaudRate <= 0 {
		return nil, fmt.Errorf("baud rate %d: %w", o.BaudRate, fiberr.ErrInvalidConfiguration)
	}
	data := o.DataBits
	if data == 0 {
		data = 8
	}
	if data < 5 || data > 8 {
		return nil, fmt.Errorf("data bits %d not in 5..8: %w", o.DataBits, fiberr.ErrInvalidConfiguration)
	}
	stop, ok := stopBits[o.StopBits]
	if !ok {
		return nil, fmt.Errorf("stop bits %d not 1 or 2: %w", o.StopBits, fiberr.ErrInvalidConfiguration)
	}
	parity, ok := parities[strings.ToUpper(strings.TrimSpace(o.Parity))]
	if !ok {
		return nil, fmt.Errorf("parity %q not none, even or odd: %w", o.Parity, fiberr.ErrInvalidConfiguration)
	}
	return &serial.Mode{BaudRate: o.BaudRate, DataBits: data, StopBits: stop, Parity: parity}, nil
}

// OpenSerial opens the serial device at path and wraps it in a Conn whose
// replies time out after opts.ReadTimeout, or DefaultReadTimeout when unset.
func OpenSerial(path string, opts PortOptions) (*Conn, error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, fmt.Errorf("serial %s: %w", path, err)
	}
	timeout := opts.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	conn := NewConn(port)
	conn.SetTimeout(timeout)
	return conn, nil
}
