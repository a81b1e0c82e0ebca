// Package protocol implements the blue-keyboard wire codec, the APPKEY
// provisioning exchange, the MTLS-lite session engine, and the
// application-level command dispatcher. It has no knowledge of BLE,
// HID, or persistent storage — those are collaborators injected by
// the controller and dongle packages.
package protocol

import "encoding/binary"

// Reserved opcodes (spec.md §4.2).
const (
	OpACK = 0x00
	OpErr = 0xFF

	OpA0 = 0xA0 // provisioning: request
	OpA1 = 0xA1 // provisioning: reveal
	OpA2 = 0xA2 // provisioning: challenge
	OpA3 = 0xA3 // provisioning: proof

	OpB0 = 0xB0 // session: server hello
	OpB1 = 0xB1 // session: client finished
	OpB2 = 0xB2 // session: server finished
	OpB3 = 0xB3 // session: record

	OpC0 = 0xC0 // set layout
	OpC1 = 0xC1 // info query
	OpC2 = 0xC2 // info reply
	OpC4 = 0xC4 // factory reset
	OpC8 = 0xC8 // enable raw-HID fast mode
	OpD0 = 0xD0 // type string
	OpD1 = 0xD1 // type string reply
	OpE0 = 0xE0 // raw HID tap
)

// MaxPayload is the largest payload a single Frame may carry (spec.md §3).
const MaxPayload = 1024

// Frame is one (op, payload) unit on the wire (spec.md §3).
type Frame struct {
	Op      byte
	Payload []byte
}

// EncodeFrame serializes a Frame as op‖len_le16‖payload.
//
// The outer frame length is little-endian; this is intentionally the
// opposite convention from the big-endian lengths used inside B3
// record bodies (see encodeSeqForB3) and the transcript encoding of
// sid (see encodeSidForTranscript). Keeping the two conventions behind
// distinct named helpers, rather than inline shifts, is the single
// audited decision spec.md §9 calls for.
func EncodeFrame(f Frame) []byte {
	out := make([]byte, 0, 3+len(f.Payload))
	out = append(out, f.Op)
	var lb [2]byte
	binary.LittleEndian.PutUint16(lb[:], uint16(len(f.Payload)))
	out = append(out, lb[:]...)
	out = append(out, f.Payload...)
	return out
}

// encodeSidForB0 returns sid as it appears inside the B0 payload:
// little-endian, matching the dongle's on-wire emission (spec.md §4.4.1).
func encodeSidForB0(sid uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], sid)
	return b[:]
}

// encodeSidForTranscript returns sid as used inside every MAC
// transcript (KEYX, MT1 info, SFIN, B3 IV/MAC): big-endian. This
// differs from encodeSidForB0 on purpose — spec.md §4.2 requires it.
func encodeSidForTranscript(sid uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], sid)
	return b[:]
}

// encodeSeqForB3 returns a B3 record sequence number as big-endian,
// the convention used for both the IV/MAC transcripts and the B3 outer
// length field (spec.md §4.2, §4.4.2) — unlike the little-endian outer
// frame length used by EncodeFrame.
func encodeSeqForB3(seq uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], seq)
	return b[:]
}
