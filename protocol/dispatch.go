package protocol

import (
	"fmt"
)

// Application is the set of collaborator operations the dongle-side
// command handlers need (spec.md §4.5). Implementations live in the
// dongle package and talk to the HID/config collaborators; this
// package only defines the contract and the opcode routing around it.
type Application interface {
	// SetLayout persists the named keyboard layout. A non-nil error
	// means "bad layout" (spec.md C0).
	SetLayout(name string) error

	// Info returns the ASCII banner for C1:
	// "LAYOUT=<short>; PROTO=<v>; FW=<v>".
	Info() string

	// FactoryReset wipes the APPKEY and setup state (spec.md C4).
	FactoryReset() error

	// TypeString types payload via the HID collaborator and returns
	// the status byte to report in D1 (spec.md D0). A non-nil error
	// means the typed status should be non-zero.
	TypeString(payload []byte) (status byte, err error)

	// Tap emits one raw HID key event; called once per repeat
	// (spec.md E0). Only ever invoked while fast mode is enabled —
	// the Dispatcher enforces that gate itself.
	Tap(mods, usage byte) error
}

// Dispatcher routes application-layer inner frames (C0/C1/C4/C8/D0/E0,
// spec.md §4.5) to an Application, as a tagged variant of opcode →
// handler rather than an open-ended switch duplicated at each call
// site (spec.md §9). One Dispatcher belongs to exactly one active
// session; fastMode is session-scoped state (spec.md §4.5: "rejected
// unless fast mode was enabled").
type Dispatcher struct {
	app      Application
	fastMode bool
}

// NewDispatcher builds a Dispatcher over app, with fast mode starting
// disabled (spec.md: a fresh session begins with raw-HID gated off).
func NewDispatcher(app Application) *Dispatcher {
	return &Dispatcher{app: app}
}

// Dispatch handles one already-decrypted inner frame and returns the
// reply frame to send back, or nil for ops that are fire-and-forget
// (E0, spec.md §4.5).
func (d *Dispatcher) Dispatch(frame Frame) (*Frame, error) {
	switch frame.Op {
	case OpC0:
		return d.handleC0(frame.Payload)
	case OpC1:
		return d.handleC1()
	case OpC4:
		return d.handleC4()
	case OpC8:
		return d.handleC8(frame.Payload)
	case OpD0:
		return d.handleD0(frame.Payload)
	case OpE0:
		return d.handleE0(frame.Payload)
	default:
		return errFrame("unsupported op"), nil
	}
}

func (d *Dispatcher) handleC0(payload []byte) (*Frame, error) {
	if err := d.app.SetLayout(string(payload)); err != nil {
		return errFrame("bad layout"), nil
	}
	return ackFrame(), nil
}

func (d *Dispatcher) handleC1() (*Frame, error) {
	return &Frame{Op: OpC2, Payload: []byte(d.app.Info())}, nil
}

func (d *Dispatcher) handleC4() (*Frame, error) {
	if err := d.app.FactoryReset(); err != nil {
		return errFrame(err.Error()), nil
	}
	d.fastMode = false
	return ackFrame(), nil
}

func (d *Dispatcher) handleC8(payload []byte) (*Frame, error) {
	if len(payload) != 1 || (payload[0] != 0 && payload[0] != 1) {
		return errFrame("bad len"), nil
	}
	d.fastMode = payload[0] == 1
	return ackFrame(), nil
}

func (d *Dispatcher) handleD0(payload []byte) (*Frame, error) {
	status, err := d.app.TypeString(payload)
	if err != nil {
		status = 1
	}
	sum := md5Sum(payload)
	reply := make([]byte, 0, 1+16)
	reply = append(reply, status)
	reply = append(reply, sum[:]...)
	return &Frame{Op: OpD1, Payload: reply}, nil
}

func (d *Dispatcher) handleE0(payload []byte) (*Frame, error) {
	if !d.fastMode {
		return errFrame("raw off"), nil
	}
	if len(payload) != 2 && len(payload) != 3 {
		return errFrame("bad len"), nil
	}
	mods, usage := payload[0], payload[1]
	repeat := byte(1)
	if len(payload) == 3 {
		repeat = payload[2]
		if repeat == 0 {
			repeat = 1
		}
	}
	for i := byte(0); i < repeat; i++ {
		if err := d.app.Tap(mods, usage); err != nil {
			return nil, fmt.Errorf("tap: %w", err)
		}
	}
	return nil, nil
}

func ackFrame() *Frame { return &Frame{Op: OpACK} }

func errFrame(reason string) *Frame { return &Frame{Op: OpErr, Payload: []byte(reason)} }
