package oplog

import "encoding/binary"

// Mode discriminates whether a log is still accepting appends (Undo) or
// has been sealed for forward replay (Redo). See spec §3/§4.1.
type Mode int32

const (
	ModeUndo Mode = 0
	ModeRedo Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeUndo:
		return "undo"
	case ModeRedo:
		return "redo"
	default:
		return "unknown"
	}
}

// Binary layout constants, spec §4.1 / §6.
const (
	magic         uint32 = 0x214A08A6
	formatVersion uint32 = 0
	headerSize           = 32 // magic(4) + version(4) + reserved(4) + mode(4) + txid(16)
	recordFrameFixed     = 8  // magic(4) + length(4), before the description+payload region
	nullDescLen   int32  = -1
)

var byteOrder = binary.BigEndian
