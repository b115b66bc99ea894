package serialline

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// TarmLine is a Line backed by github.com/tarm/serial, used on platforms
// where the termios2 ioctl path isn't available.
//
// Grounded on seedhammer's mjolnir/driver.go Open (serial.Config/OpenPort
// usage). tarm/serial has no ioctl for changing baud on an open port, so
// SetBaud here closes and reopens the device at the new rate.
type TarmLine struct {
	dev  string
	baud uint32
	port *serial.Port
}

// OpenTarm opens dev at the given initial baud rate.
func OpenTarm(dev string, initialBaud uint32) (*TarmLine, error) {
	l := &TarmLine{dev: dev}
	if err := l.reopen(initialBaud); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *TarmLine) reopen(baud uint32) error {
	if l.port != nil {
		l.port.Close()
	}
	cfg := &serial.Config{Name: l.dev, Baud: int(baud), ReadTimeout: time.Hour}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return fmt.Errorf("serialline: open %s at %d baud: %w", l.dev, baud, err)
	}
	l.port = p
	l.baud = baud
	return nil
}

func (l *TarmLine) Write(buf []byte) error {
	l.Drain()
	for _, c := range buf {
		if _, err := l.port.Write([]byte{c}); err != nil {
			return fmt.Errorf("serialline: write: %w", err)
		}
		var got [1]byte
		if err := l.Read(got[:]); err != nil {
			return err
		}
	}
	return nil
}

func (l *TarmLine) Read(buf []byte) error {
	n := 0
	for n < len(buf) {
		m, err := l.port.Read(buf[n:])
		if err != nil && err != io.EOF {
			return fmt.Errorf("serialline: read: %w", err)
		}
		n += m
	}
	return nil
}

// ReadTimed approximates a per-byte deadline: tarm/serial only exposes a
// port-wide ReadTimeout set at open time, so each call opens the device
// once more with ReadTimeout set to timeout, applies it to every read of
// that port, and reopens the line at its normal timeout afterwards.
func (l *TarmLine) ReadTimed(buf []byte, timeout time.Duration) error {
	cfg := &serial.Config{Name: l.dev, Baud: int(l.baud), ReadTimeout: timeout}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return fmt.Errorf("serialline: reopen for timed read: %w", err)
	}
	defer func() {
		p.Close()
		l.reopen(l.baud)
	}()

	n := 0
	for n < len(buf) {
		m, err := p.Read(buf[n:])
		if err != nil {
			return fmt.Errorf("serialline: read: %w", err)
		}
		if m == 0 {
			return ErrTimeout
		}
		n += m
	}
	return nil
}

func (l *TarmLine) Drain() {
	l.port.Flush()
}

func (l *TarmLine) SetBaud(baud uint32) error {
	return l.reopen(baud)
}

func (l *TarmLine) WaitTxComplete() {}

// Close releases the underlying port.
func (l *TarmLine) Close() error {
	return l.port.Close()
}
