//go:build linux

package serialline

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// termios2 mirrors struct termios2 from <asm-generic/termbits.h>. The
// kernel accepts arbitrary baud rates through this struct's Ispeed/Ospeed
// fields when Cflag carries BOTHER, which a fixed Bxxxx constant from
// unix.Termios cannot express for ISO 7816's clock*D/F baud rates.
//
// Grounded on Daedaluz-goserial's port_linux.go Termios2/BOTHER/TCSETS2
// handling; re-expressed here against golang.org/x/sys/unix instead of a
// bespoke ioctl package.
type termios2 struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	Line   uint8
	Cc     [19]uint8
	Ispeed uint32
	Ospeed uint32
}

const bother = 0o010000

// these ioctl request numbers are architecture-specific on Linux but share
// the same values across amd64/arm64, the platforms this backend targets.
const (
	tcgets2 = 0x802c542a
	tcsets2 = 0x402c542b
)

// TermiosLine is a Line backed by a Linux tty device, configured through
// termios2 so that SetBaud can request the exact non-standard baud rates
// ISO 7816 negotiates.
type TermiosLine struct {
	f *os.File
}

// OpenTermios opens path (e.g. "/dev/ttyUSB0") and puts it into raw,
// 8-N-1 mode at the given initial baud rate.
func OpenTermios(path string, initialBaud uint32) (*TermiosLine, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serialline: open %s: %w", path, err)
	}

	l := &TermiosLine{f: f}
	if err := l.setRaw(initialBaud); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *TermiosLine) getTermios2() (*termios2, error) {
	var t termios2
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, l.f.Fd(), tcgets2, uintptr(unsafe.Pointer(&t)))
	if errno != 0 {
		return nil, fmt.Errorf("serialline: TCGETS2: %w", errno)
	}
	return &t, nil
}

func (l *TermiosLine) setTermios2(t *termios2) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, l.f.Fd(), tcsets2, uintptr(unsafe.Pointer(t)))
	if errno != 0 {
		return fmt.Errorf("serialline: TCSETS2: %w", errno)
	}
	return nil
}

func (l *TermiosLine) setRaw(baud uint32) error {
	t, err := l.getTermios2()
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	l.applyBaud(t, baud)
	return l.setTermios2(t)
}

func (l *TermiosLine) applyBaud(t *termios2, baud uint32) {
	t.Cflag &^= unix.CBAUD
	t.Cflag |= bother
	t.Ispeed = baud
	t.Ospeed = baud
}

func (l *TermiosLine) Write(buf []byte) error {
	l.Drain()
	for _, c := range buf {
		if _, err := l.f.Write([]byte{c}); err != nil {
			return fmt.Errorf("serialline: write: %w", err)
		}
		var got [1]byte
		if err := l.Read(got[:]); err != nil {
			return err
		}
	}
	return nil
}

func (l *TermiosLine) Read(buf []byte) error {
	n := 0
	for n < len(buf) {
		m, err := l.f.Read(buf[n:])
		if err != nil {
			return fmt.Errorf("serialline: read: %w", err)
		}
		n += m
	}
	return nil
}

func (l *TermiosLine) ReadTimed(buf []byte, timeout time.Duration) error {
	n := 0
	for n < len(buf) {
		l.f.SetReadDeadline(time.Now().Add(timeout))
		m, err := l.f.Read(buf[n:])
		if err != nil {
			if os.IsTimeout(err) {
				return ErrTimeout
			}
			return fmt.Errorf("serialline: read: %w", err)
		}
		n += m
	}
	return nil
}

func (l *TermiosLine) Drain() {
	unix.IoctlSetInt(int(l.f.Fd()), unix.TCFLSH, unix.TCIOFLUSH)
}

func (l *TermiosLine) SetBaud(baud uint32) error {
	t, err := l.getTermios2()
	if err != nil {
		return err
	}
	l.applyBaud(t, baud)
	return l.setTermios2(t)
}

func (l *TermiosLine) WaitTxComplete() {
	unix.IoctlSetInt(int(l.f.Fd()), unix.TCSBRK, 1)
}

// Close releases the underlying file descriptor.
func (l *TermiosLine) Close() error {
	return l.f.Close()
}
