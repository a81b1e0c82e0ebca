// Package transport defines the BLE collaborator contract (spec.md
// §6.1) and ships one reference implementation, Loopback, for tests
// and local development without real BLE hardware. Real adapters
// (e.g. a BlueZ or CoreBluetooth backend) implement the same
// interface and are out of this repo's scope (spec.md §1).
package transport

import (
	"context"
	"time"
)

// Peer is one scan result: a discoverable dongle's address and
// advertised name (spec.md §6.1).
type Peer struct {
	Address string
	Name    string
}

// Transport is the narrow contract the protocol/controller/dongle
// packages require from the underlying BLE link (spec.md §6.1). All
// methods may block; callers are expected to bound them with a
// context deadline per spec.md §5's cancellation policy.
type Transport interface {
	// Scan discovers advertising dongles for up to timeout.
	Scan(ctx context.Context, timeout time.Duration) ([]Peer, error)

	// Connect establishes a GATT connection to address. cachedHandles,
	// if non-empty, lets the transport skip service discovery
	// (spec.md §6.1, §6.2).
	Connect(ctx context.Context, address string, ensurePaired bool, cachedHandles CachedHandles) error

	// WriteTX sends one complete outer frame on the TX characteristic.
	// The transport may fragment it across multiple notifications/
	// writes at its own MTU (spec.md §4.1).
	WriteTX(frame []byte) error

	// WaitNotification blocks for one RX notification chunk (opaque
	// size) or until timeout elapses.
	WaitNotification(ctx context.Context, timeout time.Duration) ([]byte, bool)

	// Disconnect tears down the GATT connection.
	Disconnect() error
}

// CachedHandles optionally lets Connect skip GATT service discovery
// (spec.md §6.2's set_cached_handles, opaque to the core).
type CachedHandles struct {
	DevicePath string
	TxPath     string
	RxPath     string
}
