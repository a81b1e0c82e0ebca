// Package controller implements the Client-side workflows from
// spec.md §2 and §4.3/§4.4/§4.5: provision, send-string, send-key-tap,
// and the supplemented --list scan. It owns exactly one Transport
// connection at a time, per spec.md §5's session-owner model.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/larrylart/blue-keyboard/protocol"
	"github.com/larrylart/blue-keyboard/transport"
)

// Deadlines from spec.md §5.
const (
	handshakeTimeout = 6000 * time.Millisecond
	infoTimeout      = 4000 * time.Millisecond
	d0ReplyTimeout   = 6000 * time.Millisecond
	b0WaitTimeout    = 5000 * time.Millisecond
)

// link pairs a Transport with the Framer that reassembles its
// notification chunks into outer Frames (spec.md §4.1). It is the
// single object the session-owner goroutine touches per connection;
// spec.md §5 forbids any other goroutine from reaching into it.
//
// This plays the same role responsehandler.go's ID-keyed channel map
// played in the teacher: correlating a request with its reply. That
// map existed because the teacher's IPC link carries many in-flight
// commands at once; spec.md's session model allows exactly one
// command in flight per session, so a single pending-reply slot
// replaces the map.
type link struct {
	tr     transport.Transport
	framer protocol.Framer
}

func newLink(tr transport.Transport) *link {
	return &link{tr: tr}
}

// sendFrame encodes and writes one outer frame.
func (l *link) sendFrame(f protocol.Frame) error {
	if err := l.tr.WriteTX(protocol.EncodeFrame(f)); err != nil {
		return &protocol.TransportError{Reason: "write_tx", Err: err}
	}
	return nil
}

// recvFrame blocks for the next fully decoded outer frame, pulling as
// many notification chunks as needed, up to timeout total.
func (l *link) recvFrame(ctx context.Context, timeout time.Duration) (protocol.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.Frame{}, &protocol.TimeoutError{Op: "recvFrame"}
		}
		chunk, ok := l.tr.WaitNotification(ctx, remaining)
		if !ok {
			return protocol.Frame{}, &protocol.TimeoutError{Op: "recvFrame"}
		}
		frames := l.framer.Push(chunk)
		if len(frames) > 0 {
			return frames[0], nil
		}
	}
}

// recvOp waits for a frame whose op is in wantOps, discarding any
// other frame it sees along the way except an 0xFF error frame, which
// ends the wait with an error carrying its reason — the dongle can legitimately
// interleave an unrelated or retransmitted B0 with the reply we're
// actually waiting for (spec.md §4.4.3) — within the overall timeout
// budget. Grounded on original_source/apps/linux/src/ble_proto.cpp's
// await_next_frame, which loops past a non-matching frame rather than
// failing on it.
func (l *link) recvOp(ctx context.Context, timeout time.Duration, wantOps ...byte) (protocol.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.Frame{}, &protocol.TimeoutError{Op: "recvOp"}
		}
		f, err := l.recvFrame(ctx, remaining)
		if err != nil {
			return protocol.Frame{}, err
		}
		if f.Op == protocol.OpErr {
			return protocol.Frame{}, fmt.Errorf("dongle error: %s", string(f.Payload))
		}
		for _, op := range wantOps {
			if f.Op == op {
				return f, nil
			}
		}
	}
}
