package instrument

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrWriteFailed is returned when the port accepts fewer bytes than the
// command length.
var ErrWriteFailed = errors.New("failed to write to instrument port")

// ErrReplyTimeout is returned when no complete reply line arrives in time.
var ErrReplyTimeout = errors.New("timed out waiting for instrument reply")

// Conn serializes newline-terminated commands and replies on one port.
// Commands from concurrent goroutines never interleave.
type Conn struct {
	port    Port
	timeout time.Duration

	mu      sync.Mutex
	pending []byte
}

// NewConn wraps an already opened port.
func NewConn(port Port) *Conn {
	return &Conn{port: port, timeout: DefaultReadTimeout}
}

// SetTimeout changes how long Query waits for a reply line.
func (c *Conn) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Write sends a command that has no reply.
func (c *Conn) Write(command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(command)
}

// Query sends a command and returns the trimmed reply line.
func (c *Conn) Query(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write(command); err != nil {
		return "", err
	}
	return c.readLine()
}

// QueryFloat sends a command and parses the reply as a number, ignoring a
// trailing unit suffix such as "nm" or "dBm".
func (c *Conn) QueryFloat(command string) (float64, error) {
	reply, err := c.Query(command)
	if err != nil {
		return 0, err
	}
	v, err := parseReading(reply)
	if err != nil {
		return 0, fmt.Errorf("reply to %q: %w", command, err)
	}
	return v, nil
}

// Close closes the underlying port.
func (c *Conn) Close() error {
	return c.port.Close()
}

func (c *Conn) write(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n" // ensure command ends with a newline
	}
	n, err := c.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

func (c *Conn) readLine() (string, error) {
	deadline := time.Now().Add(c.timeout)
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(c.pending, '\n'); i >= 0 {
			line := string(c.pending[:i])
			c.pending = c.pending[i+1:]
			return strings.TrimSpace(line), nil
		}
		n, err := c.port.Read(buf)
		c.pending = append(c.pending, buf[:n]...)
		if err != nil {
			return "", err
		}
		// serial ports return 0, nil when the read timeout expires
		if n == 0 && time.Now().After(deadline) {
			return "", ErrReplyTimeout
		}
	}
}

func parseReading(reply string) (float64, error) {
	s := strings.TrimSpace(reply)
	end := len(s)
	for end > 0 {
		ch := s[end-1]
		if (ch >= '0' && ch <= '9') || ch == '.' {
			break
		}
		end--
	}
	if end == 0 {
		return 0, fmt.Errorf("no numeric value in %q", reply)
	}
	return strconv.ParseFloat(strings.TrimSpace(s[:end]), 64)
}
