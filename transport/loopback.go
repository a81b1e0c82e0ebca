package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMTU is the loopback's simulated per-notification chunk size.
// Deliberately small enough that a handshake message (65+ bytes)
// fragments across several chunks, exercising the Framer's reassembly
// of split headers and payloads the same way a real BLE MTU would
// (spec.md §4.1).
const DefaultMTU = 20

// link is the shared state between one controller-side and one
// dongle-side LoopbackTransport. The notification queues are bounded
// channels: WriteTX does not block on a full queue, it fails with a
// "notification queue full" error.
type link struct {
	mtu int

	mu        sync.Mutex
	connected bool

	toDongle chan []byte
	toCtrl   chan []byte

	peer Peer
}

// LoopbackTransport is an in-process Transport, used by tests and by
// bluekeyboardd/bluekeyboardctl's -loopback dev mode to run the full
// protocol without real BLE hardware (ipc.go/server.go's connection
// plumbing is the grounding for the serialized-write, queued-read
// shape; the real GATT link is out of this repo's scope, spec.md §1).
type LoopbackTransport struct {
	l            *link
	isController bool
}

// NewLoopbackPair builds a connected pair: ctrl is the controller-side
// endpoint, dongle is the dongle-side endpoint. peer describes the
// dongle for Scan results on the controller side.
func NewLoopbackPair(peer Peer, mtu int) (ctrl, dongle *LoopbackTransport) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	l := &link{
		mtu:      mtu,
		toDongle: make(chan []byte, 256),
		toCtrl:   make(chan []byte, 256),
		peer:     peer,
	}
	return &LoopbackTransport{l: l, isController: true}, &LoopbackTransport{l: l, isController: false}
}

func (t *LoopbackTransport) Scan(ctx context.Context, timeout time.Duration) ([]Peer, error) {
	if !t.isController {
		return nil, fmt.Errorf("loopback: Scan is a controller-side operation")
	}
	return []Peer{t.l.peer}, nil
}

func (t *LoopbackTransport) Connect(ctx context.Context, address string, ensurePaired bool, cached CachedHandles) error {
	t.l.mu.Lock()
	t.l.connected = true
	t.l.mu.Unlock()
	return nil
}

func (t *LoopbackTransport) Disconnect() error {
	t.l.mu.Lock()
	t.l.connected = false
	t.l.mu.Unlock()
	return nil
}

// WriteTX fragments frame into mtu-sized chunks and enqueues them, one
// at a time, onto the peer's notification channel. The link mutex
// serializes writers the way spec.md §5 requires for the real
// transport's outbound path. Only the controller side must Connect
// first; the dongle side may write at any time, and its notifications
// queue until the controller reads them.
func (t *LoopbackTransport) WriteTX(frame []byte) error {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	if t.isController && !t.l.connected {
		return fmt.Errorf("loopback: not connected")
	}

	out := t.outboundChan()
	for i := 0; i < len(frame); i += t.l.mtu {
		end := i + t.l.mtu
		if end > len(frame) {
			end = len(frame)
		}
		chunk := append([]byte(nil), frame[i:end]...)
		select {
		case out <- chunk:
		default:
			return fmt.Errorf("loopback: notification queue full")
		}
	}
	return nil
}

func (t *LoopbackTransport) WaitNotification(ctx context.Context, timeout time.Duration) ([]byte, bool) {
	in := t.inboundChan()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case chunk := <-in:
		return chunk, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (t *LoopbackTransport) outboundChan() chan []byte {
	if t.isController {
		return t.l.toDongle
	}
	return t.l.toCtrl
}

func (t *LoopbackTransport) inboundChan() chan []byte {
	if t.isController {
		return t.l.toCtrl
	}
	return t.l.toDongle
}
