package protocol

import (
	"bytes"
	"errors"
	"testing"
)

// fakeApp is a minimal in-memory Application used to exercise the
// Dispatcher without any real HID or config collaborator.
type fakeApp struct {
	layout      string
	badLayout   string
	reset       bool
	typed       []byte
	typeErr     error
	taps        [][2]byte
	tapErr      error
	tapErrAfter int
}

func (a *fakeApp) SetLayout(name string) error {
	if name == a.badLayout {
		return errors.New("unknown layout")
	}
	a.layout = name
	return nil
}

func (a *fakeApp) Info() string {
	return "LAYOUT=" + a.layout + "; PROTO=1; FW=1"
}

func (a *fakeApp) FactoryReset() error {
	a.reset = true
	a.layout = ""
	return nil
}

func (a *fakeApp) TypeString(payload []byte) (byte, error) {
	a.typed = append(a.typed, payload...)
	if a.typeErr != nil {
		return 1, a.typeErr
	}
	return 0, nil
}

func (a *fakeApp) Tap(mods, usage byte) error {
	if a.tapErr != nil && len(a.taps) >= a.tapErrAfter {
		return a.tapErr
	}
	a.taps = append(a.taps, [2]byte{mods, usage})
	return nil
}

func TestDispatchC0SetsLayout(t *testing.T) {
	app := &fakeApp{badLayout: "bogus"}
	d := NewDispatcher(app)

	reply, err := d.Dispatch(Frame{Op: OpC0, Payload: []byte("us")})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Op != OpACK {
		t.Fatalf("got op %x, want ACK", reply.Op)
	}
	if app.layout != "us" {
		t.Fatalf("layout = %q, want %q", app.layout, "us")
	}
}

func TestDispatchC0BadLayout(t *testing.T) {
	app := &fakeApp{badLayout: "bogus"}
	d := NewDispatcher(app)

	reply, err := d.Dispatch(Frame{Op: OpC0, Payload: []byte("bogus")})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Op != OpErr {
		t.Fatalf("got op %x, want ERR", reply.Op)
	}
}

func TestDispatchC1ReturnsBanner(t *testing.T) {
	app := &fakeApp{layout: "uk"}
	d := NewDispatcher(app)

	reply, err := d.Dispatch(Frame{Op: OpC1})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Op != OpC2 {
		t.Fatalf("got op %x, want C2", reply.Op)
	}
	if !bytes.Contains(reply.Payload, []byte("LAYOUT=uk")) {
		t.Fatalf("banner = %q", reply.Payload)
	}
}

func TestDispatchC4FactoryResetClearsFastMode(t *testing.T) {
	app := &fakeApp{}
	d := NewDispatcher(app)

	if _, err := d.Dispatch(Frame{Op: OpC8, Payload: []byte{1}}); err != nil {
		t.Fatal(err)
	}
	if reply, err := d.Dispatch(Frame{Op: OpE0, Payload: []byte{0, 0x04}}); err != nil || reply != nil {
		t.Fatalf("expected tap to succeed silently, got reply=%v err=%v", reply, err)
	}

	if _, err := d.Dispatch(Frame{Op: OpC4}); err != nil {
		t.Fatal(err)
	}
	if !app.reset {
		t.Fatal("FactoryReset was not called")
	}

	reply, err := d.Dispatch(Frame{Op: OpE0, Payload: []byte{0, 0x04}})
	if err != nil {
		t.Fatal(err)
	}
	if reply == nil || reply.Op != OpErr {
		t.Fatal("raw HID should be gated off again after factory reset")
	}
}

func TestDispatchC8RejectsOutOfRangeMode(t *testing.T) {
	app := &fakeApp{}
	d := NewDispatcher(app)

	reply, err := d.Dispatch(Frame{Op: OpC8, Payload: []byte{2}})
	if err != nil {
		t.Fatal(err)
	}
	if reply == nil || reply.Op != OpErr {
		t.Fatal("expected an ERR reply for out-of-range C8 payload")
	}
}

func TestDispatchD0TypesAndReturnsMD5(t *testing.T) {
	app := &fakeApp{}
	d := NewDispatcher(app)

	reply, err := d.Dispatch(Frame{Op: OpD0, Payload: []byte("OK\n")})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Op != OpD1 {
		t.Fatalf("got op %x, want D1", reply.Op)
	}
	if len(reply.Payload) != 17 {
		t.Fatalf("D1 payload length = %d, want 17", len(reply.Payload))
	}
	if reply.Payload[0] != 0 {
		t.Fatalf("status = %d, want 0", reply.Payload[0])
	}
	wantSum := md5Sum([]byte("OK\n"))
	if !bytes.Equal(reply.Payload[1:], wantSum[:]) {
		t.Fatalf("md5 = %x, want %x", reply.Payload[1:], wantSum)
	}
	if !bytes.Equal(app.typed, []byte("OK\n")) {
		t.Fatalf("typed = %q, want %q", app.typed, "OK\n")
	}
}

func TestDispatchD0NonZeroStatusOnTypeError(t *testing.T) {
	app := &fakeApp{typeErr: errors.New("hid busy")}
	d := NewDispatcher(app)

	reply, err := d.Dispatch(Frame{Op: OpD0, Payload: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Payload[0] == 0 {
		t.Fatal("expected non-zero status when TypeString fails")
	}
}

func TestDispatchE0RejectedWithoutFastMode(t *testing.T) {
	app := &fakeApp{}
	d := NewDispatcher(app)

	reply, err := d.Dispatch(Frame{Op: OpE0, Payload: []byte{0, 0x04}})
	if err != nil {
		t.Fatal(err)
	}
	if reply == nil || reply.Op != OpErr {
		t.Fatal("E0 must be rejected before fast mode is enabled")
	}
	if len(app.taps) != 0 {
		t.Fatal("Tap must not be called when fast mode is off")
	}
}

func TestDispatchE0RepeatCount(t *testing.T) {
	app := &fakeApp{}
	d := NewDispatcher(app)
	if _, err := d.Dispatch(Frame{Op: OpC8, Payload: []byte{1}}); err != nil {
		t.Fatal(err)
	}

	reply, err := d.Dispatch(Frame{Op: OpE0, Payload: []byte{0x02, 0x04, 0x03}})
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Fatal("E0 is fire-and-forget; expected nil reply")
	}
	if len(app.taps) != 3 {
		t.Fatalf("got %d taps, want 3", len(app.taps))
	}
	for _, tap := range app.taps {
		if tap[0] != 0x02 || tap[1] != 0x04 {
			t.Fatalf("got tap %v, want {0x02, 0x04}", tap)
		}
	}
}

func TestDispatchE0ZeroRepeatDefaultsToOne(t *testing.T) {
	app := &fakeApp{}
	d := NewDispatcher(app)
	if _, err := d.Dispatch(Frame{Op: OpC8, Payload: []byte{1}}); err != nil {
		t.Fatal(err)
	}

	if _, err := d.Dispatch(Frame{Op: OpE0, Payload: []byte{0, 0x04, 0}}); err != nil {
		t.Fatal(err)
	}
	if len(app.taps) != 1 {
		t.Fatalf("got %d taps, want 1 (repeat=0 means once)", len(app.taps))
	}
}

func TestDispatchUnsupportedOp(t *testing.T) {
	app := &fakeApp{}
	d := NewDispatcher(app)

	reply, err := d.Dispatch(Frame{Op: 0x77})
	if err != nil {
		t.Fatal(err)
	}
	if reply == nil || reply.Op != OpErr {
		t.Fatal("unsupported op should return an ERR frame, not an error")
	}
}
