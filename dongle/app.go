package dongle

import (
	"fmt"

	"github.com/larrylart/blue-keyboard/store"
)

// knownLayouts mirrors the layout table original_source keeps as a
// compiled-in constant list; only its names matter to this repo's
// scope (spec.md explicitly excludes "keyboard-layout tables", §1).
var knownLayouts = map[string]bool{
	"us": true,
	"uk": true,
	"de": true,
	"fr": true,
	"es": true,
}

const protoVersion = "1"
const fwVersion = "1.0.0"

// App implements protocol.Application over a DeviceConfig and HID
// collaborator (spec.md §4.5, §6.3, §6.4).
type App struct {
	cfg *store.DeviceConfig
	hid store.HID
}

// NewApp builds an App.
func NewApp(cfg *store.DeviceConfig, hid store.HID) *App {
	return &App{cfg: cfg, hid: hid}
}

func (a *App) SetLayout(name string) error {
	if !knownLayouts[name] {
		return fmt.Errorf("unknown layout %q", name)
	}
	return a.cfg.SetLayout(name)
}

func (a *App) Info() string {
	return fmt.Sprintf("LAYOUT=%s; PROTO=%s; FW=%s", a.cfg.Layout(), protoVersion, fwVersion)
}

func (a *App) FactoryReset() error {
	return a.cfg.FactoryReset()
}

func (a *App) TypeString(payload []byte) (byte, error) {
	if err := a.hid.TypeUTF8(payload); err != nil {
		return 1, err
	}
	return 0, nil
}

func (a *App) Tap(mods, usage byte) error {
	return a.hid.Tap(mods, usage)
}
