package t0

import (
	"fmt"

	"github.com/cardtunnel/relay/internal/logx"
	"github.com/cardtunnel/relay/serialline"
)

var log = logx.New("t0")

// Host is the worker's view of the host channel: forward a full command
// APDU and await its response. AwaitResponse's ok==false return models
// the original's `response_len == -1` not-yet-arrived sentinel
// explicitly, instead of overloading an unsigned length; a non-nil err
// is a genuine transport failure and is distinct from "not yet".
type Host interface {
	ForwardAPDU(apdu []byte) error
	AwaitResponse() (resp []byte, ok bool, err error)
}

// HandleCommand services one T=0 command: reads the 5-byte header,
// classifies it, handles procedure-byte echo and GET RESPONSE caching,
// and frames the host's reply back to the reader.
//
// Grounded on the body of prot_t0's command while-loop in
// original_source/pico-tunnel/pico_poc.c.
func HandleCommand(line serialline.Line, host Host, cache *Cache) error {
	var headerBuf [5]byte
	if err := line.Read(headerBuf[:]); err != nil {
		return fmt.Errorf("t0: read header: %w", err)
	}
	header := Header(headerBuf)
	ins := header.INS()

	apdu := append([]byte(nil), headerBuf[:]...)

	switch DetermineCase(header) {
	case Case3, Case4:
		lc := int(header.P3())
		if lc > 0 {
			if err := line.Write([]byte{ins}); err != nil {
				return fmt.Errorf("t0: procedure byte echo: %w", err)
			}
			data := make([]byte, lc)
			if err := line.Read(data); err != nil {
				return fmt.Errorf("t0: read command data: %w", err)
			}
			apdu = append(apdu, data...)
		}
	}

	if body, ok := cache.Body(); ok && ins == GetResponseINS {
		if err := line.Write([]byte{ins}); err != nil {
			return fmt.Errorf("t0: procedure byte echo: %w", err)
		}
		return line.Write(body)
	}
	cache.Clear()

	log.Debug("forward apdu[%d] to host", len(apdu))
	if err := host.ForwardAPDU(apdu); err != nil {
		return fmt.Errorf("t0: forward apdu: %w", err)
	}

	var resp []byte
	for {
		r, ok, err := host.AwaitResponse()
		if err != nil {
			return fmt.Errorf("t0: await response: %w", err)
		}
		if ok {
			resp = r
			break
		}
	}
	log.Debug("received answer[%d] from host", len(resp))

	le := ExpectedReplyLen(header)
	switch {
	case len(resp) == SWLen:
		return line.Write(resp)
	case len(resp) == le:
		if err := line.Write([]byte{ins}); err != nil {
			return fmt.Errorf("t0: procedure byte echo: %w", err)
		}
		return line.Write(resp)
	default:
		cache.Set(resp)
		sw1 := byte(0x6C)
		if len(resp) > le {
			sw1 = 0x61
		}
		sw2 := byte(len(resp) - SWLen)
		return line.Write([]byte{sw1, sw2})
	}
}
