package instrument

import (
	"fmt"
	"strconv"
)

// SerialLaser drives a tunable laser with its text command set.
type SerialLaser struct {
	conn *Conn
}

// NewSerialLaser returns a Laser speaking over conn.
func NewSerialLaser(conn *Conn) *SerialLaser {
	return &SerialLaser{conn: conn}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (l *SerialLaser) SetWavelength(nm float64) error {
	return l.conn.Write(fmt.Sprintf("WAV %snm", formatFloat(nm)))
}

func (l *SerialLaser) SetPower(dbm float64) error {
	return l.conn.Write(fmt.Sprintf("POW %sdBm", formatFloat(dbm)))
}

func (l *SerialLaser) EnableOutput(on bool) error {
	state := 0
	if on {
		state = 1
	}
	return l.conn.Write(fmt.Sprintf("OUTP %d", state))
}

func (l *SerialLaser) CurrentWavelength() (float64, error) {
	return l.conn.QueryFloat("WAV?")
}

// SerialDetector reads an optical power meter.
type SerialDetector struct {
	conn *Conn
}

// NewSerialDetector returns a Detector speaking over conn.
func NewSerialDetector(conn *Conn) *SerialDetector {
	return &SerialDetector{conn: conn}
}

func (d *SerialDetector) ReadPower() (float64, error) {
	return d.conn.QueryFloat("READ?")
}
