// Package store implements the controller- and dongle-side
// collaborators spec.md §6 treats as opaque: the per-peer APPKEY store,
// the dongle's persisted configuration, and the HID output sink. None
// of these types know anything about framing, crypto or dispatch —
// the protocol package calls them through narrow interfaces.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// peerRecord is one entry in the controller's APPKEY store, keyed by
// BLE peer address (spec.md §6.2).
type peerRecord struct {
	AppKey     [32]byte `json:"appkey"`
	DevicePath string   `json:"device_path,omitempty"`
	TxPath     string   `json:"tx_path,omitempty"`
	RxPath     string   `json:"rx_path,omitempty"`
}

// KeyStore is the controller-side collaborator from spec.md §6.2: it
// remembers the APPKEY negotiated with each dongle, plus the optional
// cached GATT handles so a later connect can skip service discovery
// (supplemented from original_source/ble_transport.cpp's handle cache).
type KeyStore struct {
	mu    sync.RWMutex
	path  string
	peers map[string]*peerRecord
}

// NewKeyStore loads a KeyStore from path, or starts empty if path does
// not exist yet.
func NewKeyStore(path string) (*KeyStore, error) {
	ks := &KeyStore{path: path, peers: make(map[string]*peerRecord)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ks, nil
		}
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return ks, nil
	}
	if err := json.Unmarshal(data, &ks.peers); err != nil {
		return nil, fmt.Errorf("keystore: decode %s: %w", path, err)
	}
	return ks, nil
}

// GetAppKey returns the stored APPKEY for addr, if any (spec.md §6.2).
func (ks *KeyStore) GetAppKey(addr string) ([]byte, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	rec, ok := ks.peers[addr]
	if !ok {
		return nil, false
	}
	out := make([]byte, 32)
	copy(out, rec.AppKey[:])
	return out, true
}

// PutAppKey stores appkey for addr and persists to disk.
func (ks *KeyStore) PutAppKey(addr string, appkey []byte) error {
	if len(appkey) != 32 {
		return fmt.Errorf("keystore: appkey must be 32 bytes, got %d", len(appkey))
	}
	ks.mu.Lock()
	rec, ok := ks.peers[addr]
	if !ok {
		rec = &peerRecord{}
		ks.peers[addr] = rec
	}
	copy(rec.AppKey[:], appkey)
	ks.mu.Unlock()

	slog.Info("keystore: appkey stored", "addr", addr)
	return ks.save()
}

// SetCachedHandles records the GATT handles discovered for addr so a
// later connect can skip service discovery (spec.md §6.2, optional
// optimization).
func (ks *KeyStore) SetCachedHandles(addr, devicePath, txPath, rxPath string) error {
	ks.mu.Lock()
	rec, ok := ks.peers[addr]
	if !ok {
		rec = &peerRecord{}
		ks.peers[addr] = rec
	}
	rec.DevicePath, rec.TxPath, rec.RxPath = devicePath, txPath, rxPath
	ks.mu.Unlock()
	return ks.save()
}

// CachedHandles returns the cached GATT handles for addr, if any.
func (ks *KeyStore) CachedHandles(addr string) (devicePath, txPath, rxPath string, ok bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	rec, present := ks.peers[addr]
	if !present || rec.DevicePath == "" {
		return "", "", "", false
	}
	return rec.DevicePath, rec.TxPath, rec.RxPath, true
}

func (ks *KeyStore) save() error {
	ks.mu.RLock()
	data, err := json.MarshalIndent(ks.peers, "", "  ")
	ks.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("keystore: encode: %w", err)
	}
	if err := os.WriteFile(ks.path, data, 0o600); err != nil {
		return fmt.Errorf("keystore: write %s: %w", ks.path, err)
	}
	return nil
}
