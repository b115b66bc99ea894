// Package hostchannel implements the opcoded message protocol carried
// over the USB byte pipe to the host impersonator: APDU forwarding, ATR
// and UART-mode/log-level configuration updates, state queries, debug
// strings, and measurements.
//
// Grounded on read_usb_uart_apdu/write_usb_uart in
// original_source/pico-tunnel/pico_poc.c and util/util.c, re-expressed
// as a loop instead of the original's self-recursion on every
// control-plane opcode.
package hostchannel

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cardtunnel/relay/atr"
	"github.com/cardtunnel/relay/internal/logx"
	"github.com/cardtunnel/relay/internal/queue"
	"github.com/cardtunnel/relay/internal/wire"
)

var log = logx.New("hostchannel")

// Opcode identifies a host-channel frame.
type Opcode byte

const (
	OpAPDU         Opcode = 0x00
	OpReset        Opcode = 0x01
	OpDebugMsg     Opcode = 0x02
	OpSendATR      Opcode = 0x03
	OpMeasurement  Opcode = 0x04
	OpRequestState Opcode = 0x05
	OpSetUARTMode  Opcode = 0x06
	OpSetLogLevel  Opcode = 0x07
)

// ATRUpdate is enqueued when the host replaces the current ATR.
type ATRUpdate struct {
	ATR *atr.ATR
}

// UARTModeUpdate is enqueued on SET_UARTMODE.
type UARTModeUpdate struct {
	Mode    byte
	ClockHz uint32
}

// LogLevelUpdate is enqueued on SET_LOGLEVEL.
type LogLevelUpdate struct {
	Level logx.Level
}

// Channel is the framed message protocol over a byte pipe. It owns the producer ends of the three update queues the
// supervisor drains every poll.
type Channel struct {
	rw io.ReadWriter

	currentState func() byte

	ATRUpdates      *queue.Queue[ATRUpdate]
	UARTModeUpdates *queue.Queue[UARTModeUpdate]
	LogLevelUpdates *queue.Queue[LogLevelUpdate]
}

// New wraps rw as a host channel. currentState is called to answer
// REQUEST_STATE queries.
func New(rw io.ReadWriter, currentState func() byte) *Channel {
	return &Channel{
		rw:              rw,
		currentState:    currentState,
		ATRUpdates:      queue.New[ATRUpdate](2),
		UARTModeUpdates: queue.New[UARTModeUpdate](2),
		LogLevelUpdates: queue.New[LogLevelUpdate](2),
	}
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// AwaitAPDU blocks, reading and dispatching frames from the pipe until an
// APDU frame arrives, which it returns. Every other opcode is handled in
// place — ATR/UART-mode/log-level updates enqueued, state queries
// answered directly — and the loop continues.
func (c *Channel) AwaitAPDU() ([]byte, error) {
	for {
		op, payload, err := c.readFrame()
		if err != nil {
			return nil, err
		}

		switch op {
		case OpAPDU:
			return payload, nil
		case OpSendATR:
			a := atr.Parse(payload)
			log.Debug("new atr sent, protocol=%s", a.Protocol)
			if !c.ATRUpdates.TryAdd(ATRUpdate{ATR: a}) {
				log.Debug("could not add atr to queue!")
			}
		case OpRequestState:
			if err := c.writeFrame(OpRequestState, []byte{c.currentState()}); err != nil {
				return nil, err
			}
		case OpSetUARTMode:
			if len(payload) < 5 {
				log.Debug("malformed SET_UARTMODE payload len=%d", len(payload))
				continue
			}
			mode := payload[0]
			clock := binary.BigEndian.Uint32(payload[1:5])
			if !c.UARTModeUpdates.TryAdd(UARTModeUpdate{Mode: mode, ClockHz: clock}) {
				log.Info("could not add uartmode to queue!")
			}
		case OpSetLogLevel:
			if len(payload) < 1 {
				continue
			}
			level := logx.Level(payload[0])
			logx.SetLevel(level)
			if !c.LogLevelUpdates.TryAdd(LogLevelUpdate{Level: level}) {
				log.Info("could not add loglevel to queue!")
			}
		default:
			log.Debug("unexpected opcode %02X on APDU channel", op)
		}
	}
}

// AwaitATR behaves like AwaitAPDU but for the bootstrap handshake: it
// returns as soon as an ATR has been received and parsed, not requiring
// an APDU frame.
func (c *Channel) AwaitATR() (*atr.ATR, error) {
	for {
		op, payload, err := c.readFrame()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpSendATR:
			return atr.Parse(payload), nil
		case OpRequestState:
			if err := c.writeFrame(OpRequestState, []byte{c.currentState()}); err != nil {
				return nil, err
			}
		case OpSetUARTMode:
			if len(payload) >= 5 {
				mode := payload[0]
				clock := binary.BigEndian.Uint32(payload[1:5])
				c.UARTModeUpdates.TryAdd(UARTModeUpdate{Mode: mode, ClockHz: clock})
			}
		case OpSetLogLevel:
			if len(payload) >= 1 {
				logx.SetLevel(logx.Level(payload[0]))
			}
		}
	}
}

func (c *Channel) readFrame() (Opcode, []byte, error) {
	var opcodeBuf [1]byte
	if err := readFull(c.rw, opcodeBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("hostchannel: read opcode: %w", err)
	}

	var lenBuf [4]byte
	if err := readFull(c.rw, lenBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("hostchannel: read length: %w", err)
	}
	length := wire.LengthOrder.Uint32(lenBuf[:])

	payload := make([]byte, length)
	if length > 0 {
		if err := readFull(c.rw, payload); err != nil {
			return 0, nil, fmt.Errorf("hostchannel: read payload: %w", err)
		}
	}
	return Opcode(opcodeBuf[0]), payload, nil
}

// writeFrame writes opcode + little-endian length + payload.
func (c *Channel) writeFrame(op Opcode, payload []byte) error {
	var lenBuf [4]byte
	wire.LengthOrder.PutUint32(lenBuf[:], uint32(len(payload)))

	if _, err := c.rw.Write([]byte{byte(op)}); err != nil {
		return fmt.Errorf("hostchannel: write opcode: %w", err)
	}
	if _, err := c.rw.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("hostchannel: write length: %w", err)
	}
	if len(payload) > 0 {
		if _, err := c.rw.Write(payload); err != nil {
			return fmt.Errorf("hostchannel: write payload: %w", err)
		}
	}
	return nil
}

// SendAPDU forwards a command APDU to the host.
func (c *Channel) SendAPDU(apdu []byte) error {
	return c.writeFrame(OpAPDU, apdu)
}

// ForwardAPDU implements t0.Host.
func (c *Channel) ForwardAPDU(apdu []byte) error {
	return c.SendAPDU(apdu)
}

// AwaitResponse implements t0.Host: it blocks until an APDU frame
// arrives, handling control-plane frames in between as AwaitAPDU does,
// and then reports ok=true. It never returns ok=false itself; the T=0/T=1
// loops' polling on ok models the original "no response yet" sentinel as
// an explicit (value, ok) pair instead of a signed-length reinterpretation.
// A non-nil err is a genuine transport failure (closed pipe, read
// error) distinct from "not yet" and must not be retried.
func (c *Channel) AwaitResponse() (resp []byte, ok bool, err error) {
	payload, err := c.AwaitAPDU()
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// SendATRRequest emits the bootstrap SENDATR request with an empty
// payload.
func (c *Channel) SendATRRequest() error {
	return c.writeFrame(OpSendATR, nil)
}

// SendMeasurement emits a MEASUREMENT frame carrying a formatted string.
func (c *Channel) SendMeasurement(line string) error {
	return c.writeFrame(OpMeasurement, []byte(line))
}

// SendDebug emits a DEBUGMSG frame, installed as logx's sink.
func (c *Channel) SendDebug(line string) error {
	return c.writeFrame(OpDebugMsg, []byte(line))
}
