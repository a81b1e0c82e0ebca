package protocol

import (
	"bytes"
	"testing"
)

func TestFramerSingleChunk(t *testing.T) {
	var f Framer
	frame := Frame{Op: OpC2, Payload: []byte("HI")}
	frames := f.Push(EncodeFrame(frame))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Op != OpC2 || !bytes.Equal(frames[0].Payload, []byte("HI")) {
		t.Fatalf("got %+v, want %+v", frames[0], frame)
	}
}

// TestFramerChunkBoundary reproduces spec.md §8's chunk-split example:
// op=0xC2, payload="HI" arriving as three chunks that split even the
// header.
func TestFramerChunkBoundary(t *testing.T) {
	var f Framer
	chunks := [][]byte{
		{0xC2},
		{0x02, 0x00, 'H'},
		{'I'},
	}
	var got []Frame
	for _, c := range chunks {
		got = append(got, f.Push(c)...)
	}
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	if got[0].Op != OpC2 || !bytes.Equal(got[0].Payload, []byte("HI")) {
		t.Fatalf("got %+v", got[0])
	}
}

func TestFramerMultipleFramesInOneChunk(t *testing.T) {
	var f Framer
	buf := append(EncodeFrame(Frame{Op: OpACK}), EncodeFrame(Frame{Op: OpC1})...)
	frames := f.Push(buf)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Op != OpACK || frames[1].Op != OpC1 {
		t.Fatalf("got ops %x %x", frames[0].Op, frames[1].Op)
	}
}

// TestFramerResyncPastGarbage checks that garbage bytes prepended to a
// valid frame are discarded and the valid frame still decodes
// (spec.md §4.1's resync-by-one-byte behavior). The garbage is chosen
// so every byte offset it overlaps with, including the one just
// before the real header, decodes to a length over MaxPayload —
// resync only ever skips a position once it's unambiguously bogus,
// never one that's merely still incomplete.
func TestFramerResyncPastGarbage(t *testing.T) {
	var f Framer
	garbage := []byte{0x00, 0xFF, 0xFF}
	valid := EncodeFrame(Frame{Op: OpD1, Payload: []byte("TEST")})
	frames := f.Push(append(garbage, valid...))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Op != OpD1 || !bytes.Equal(frames[0].Payload, []byte("TEST")) {
		t.Fatalf("got %+v, want op %x payload TEST", frames[0], OpD1)
	}
}

func TestFramerRejectsOversizePayload(t *testing.T) {
	var f Framer
	// A header claiming a length just over MaxPayload should never be
	// treated as the start of a frame, however much filler follows.
	hdr := []byte{OpD0, 0x01, 0x04} // length = 0x0401 = 1025
	body := bytes.Repeat([]byte{0xAA}, 1025)
	frames := f.Push(append(hdr, body...))
	for _, fr := range frames {
		if fr.Op == OpD0 {
			t.Fatalf("oversize header at OpD0 must never be accepted as a frame start, got %+v", fr)
		}
	}
}

func TestFramerNeverErrors(t *testing.T) {
	var f Framer
	// Feed pure noise; Push must not panic and may return zero frames.
	noise := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	frames := f.Push(noise)
	_ = frames
}
