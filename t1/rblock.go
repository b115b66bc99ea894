package t1

// RStatus classifies a received R-block.
type RStatus int

const (
	RNoError RStatus = iota
	RError
	RMalformed
)

// ClassifyR classifies an R-block by its PCB. Grounded on
// t1_classify_r_block in original_source/pico-tunnel/util/util.c.
func ClassifyR(b Block) RStatus {
	switch b.PCB {
	case 0x80, 0x90:
		return RNoError
	case 0x81, 0x91, 0x82, 0x92:
		return RError
	default:
		return RMalformed
	}
}
