// Package t1 implements the T=1 transmission-protocol block layer: TPDU
// framing, block-kind classification, sequence-number tracking,
// chained-block sending, S-block handling, and the block-waiting-time
// extension mechanism.
//
// Grounded on original_source/pico-tunnel/util/util.c (t1_read, t1_write,
// t1_write_complete_buffer, t1_handle_s_block, t1_classify_r_block) and on
// the bit-flag idiom in github.com/cardtunnel/relay/bits for PCB decoding.
package t1

import "fmt"

// MaxInformationFieldSize is the largest INF an I-block may carry.
const MaxInformationFieldSize = 254

// Kind classifies a T=1 block by its PCB top bits.
type Kind int

const (
	KindI Kind = iota
	KindR
	KindS
)

func (k Kind) String() string {
	switch k {
	case KindI:
		return "I"
	case KindR:
		return "R"
	case KindS:
		return "S"
	default:
		return "?"
	}
}

// Block is one T=1 TPDU: NAD | PCB | LEN | INF | LRC.
type Block struct {
	NAD byte
	PCB byte
	INF []byte
}

// Len returns the LEN field value (length of INF).
func (b Block) Len() uint8 {
	return uint8(len(b.INF))
}

// Kind classifies the block by its PCB top bits.
func (b Block) Kind() Kind {
	switch {
	case b.PCB&0x80 == 0:
		return KindI
	case b.PCB&0x40 == 0:
		return KindR
	default:
		return KindS
	}
}

// LRC computes the longitudinal redundancy check: the XOR of NAD, PCB, LEN,
// and every INF byte.
func (b Block) LRC() byte {
	lrc := b.NAD ^ b.PCB ^ b.Len()
	for _, c := range b.INF {
		lrc ^= c
	}
	return lrc
}

// Marshal serialises the block to its wire form: NAD|PCB|LEN|INF|LRC.
func (b Block) Marshal() []byte {
	out := make([]byte, 0, 3+len(b.INF)+1)
	out = append(out, b.NAD, b.PCB, b.Len())
	out = append(out, b.INF...)
	out = append(out, b.LRC())
	return out
}

func (b Block) String() string {
	return fmt.Sprintf("Block{NAD=%02X PCB=%02X LEN=%d kind=%s}", b.NAD, b.PCB, b.Len(), b.Kind())
}

// sequenceBit extracts the I-block (bit6) or R-block (bit4) sequence bit.
func (b Block) sequenceBit() int {
	if b.Kind() == KindI {
		if b.PCB&0x40 != 0 {
			return 1
		}
		return 0
	}
	if b.PCB&0x10 != 0 {
		return 1
	}
	return 0
}
