package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// DeviceConfig is the dongle-side persisted configuration (spec.md
// §6.3). The core only consumes (Salt, Iters, Verif, AppKey) directly;
// everything else is opaque pass-through state the Application
// collaborator exposes through C0/C1/C4.
type DeviceConfig struct {
	mu   sync.RWMutex
	path string

	AdvertisedName string `json:"advertised_name"`
	LayoutID       string `json:"layout_id"`

	Salt  [16]byte `json:"salt"`
	Iters uint32   `json:"iters"`
	Verif [32]byte `json:"verif"`
	AppKey [32]byte `json:"appkey"`

	// KDFReady means (Salt, Iters, Verif) were set at first-run and A0
	// may be answered. HasAppKey means an APPKEY has been generated and
	// is sitting in storage waiting to be revealed (spec.md §4.3
	// precondition). AppKeyRevealed means A1 has successfully handed it
	// to a Client at least once — it is what gates the single-app lock.
	KDFReady      bool `json:"kdf_ready"`
	HasAppKey     bool `json:"has_appkey"`
	AppKeyRevealed bool `json:"appkey_revealed"`
	MultiApp      bool `json:"multi_app"`
	MultiDev      bool `json:"multi_device"`
	PairLock      bool `json:"pair_lock"`
	BLEPasskey    int  `json:"ble_passkey"`
}

// LoadDeviceConfig loads a DeviceConfig from path, or returns a fresh
// unconfigured one if the file does not exist yet.
func LoadDeviceConfig(path string) (*DeviceConfig, error) {
	dc := &DeviceConfig{path: path, LayoutID: "us", AdvertisedName: "blue-keyboard"}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return dc, nil
		}
		return nil, fmt.Errorf("deviceconfig: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return dc, nil
	}
	if err := json.Unmarshal(data, dc); err != nil {
		return nil, fmt.Errorf("deviceconfig: decode %s: %w", path, err)
	}
	dc.path = path
	return dc, nil
}

func (dc *DeviceConfig) save() error {
	data, err := json.MarshalIndent(dc, "", "  ")
	if err != nil {
		return fmt.Errorf("deviceconfig: encode: %w", err)
	}
	if err := os.WriteFile(dc.path, data, 0o600); err != nil {
		return fmt.Errorf("deviceconfig: write %s: %w", dc.path, err)
	}
	return nil
}

// KDFParams returns the first-run password KDF parameters (spec.md
// §3, §4.3). These exist independently of whether the APPKEY has ever
// been revealed.
func (dc *DeviceConfig) KDFParams() (salt []byte, iters uint32, verif []byte, ok bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	if !dc.KDFReady {
		return nil, 0, nil, false
	}
	s := make([]byte, 16)
	copy(s, dc.Salt[:])
	v := make([]byte, 32)
	copy(v, dc.Verif[:])
	return s, dc.Iters, v, true
}

// SetKDFParams persists the first-run password KDF parameters.
func (dc *DeviceConfig) SetKDFParams(salt []byte, iters uint32, verif []byte) error {
	dc.mu.Lock()
	copy(dc.Salt[:], salt)
	dc.Iters = iters
	copy(dc.Verif[:], verif)
	dc.KDFReady = true
	dc.mu.Unlock()
	return dc.save()
}

// AppKeyBytes returns the APPKEY sitting in storage, if one has been
// generated, regardless of whether it has been revealed yet (spec.md
// §4.3 precondition: "Server has a random APPKEY already generated
// and stored locally, not yet revealed").
func (dc *DeviceConfig) AppKeyBytes() ([]byte, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	if !dc.HasAppKey {
		return nil, false
	}
	out := make([]byte, 32)
	copy(out, dc.AppKey[:])
	return out, true
}

// GenerateAppKey stores a fresh random APPKEY, not yet revealed to any
// Client. Called once at first-run setup.
func (dc *DeviceConfig) GenerateAppKey(appkey []byte) error {
	dc.mu.Lock()
	copy(dc.AppKey[:], appkey)
	dc.HasAppKey = true
	dc.mu.Unlock()
	return dc.save()
}

// MarkAppKeyRevealed records that A1 has successfully handed the
// APPKEY to a Client, for the single-app-lock policy (spec.md §4.3).
func (dc *DeviceConfig) MarkAppKeyRevealed() error {
	dc.mu.Lock()
	dc.AppKeyRevealed = true
	dc.mu.Unlock()
	return dc.save()
}

// IsAppKeyRevealed reports whether the APPKEY has ever been handed out.
func (dc *DeviceConfig) IsAppKeyRevealed() bool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.AppKeyRevealed
}

// FactoryReset wipes provisioning state wholesale — KDF params, the
// APPKEY, and the revealed flag — forcing a fresh first-run setup
// (spec.md C4 / §9 supplemented feature: original_source/mtls.cpp's
// C4 handler clears more than just the session).
func (dc *DeviceConfig) FactoryReset() error {
	dc.mu.Lock()
	dc.Salt = [16]byte{}
	dc.Iters = 0
	dc.Verif = [32]byte{}
	dc.KDFReady = false
	dc.AppKey = [32]byte{}
	dc.HasAppKey = false
	dc.AppKeyRevealed = false
	dc.mu.Unlock()
	return dc.save()
}

// SetLayout sets the persisted keyboard layout id (spec.md C0).
func (dc *DeviceConfig) SetLayout(id string) error {
	dc.mu.Lock()
	dc.LayoutID = id
	dc.mu.Unlock()
	return dc.save()
}

// Layout returns the persisted keyboard layout id.
func (dc *DeviceConfig) Layout() string {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.LayoutID
}
