package dongle_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/larrylart/blue-keyboard/controller"
	"github.com/larrylart/blue-keyboard/dongle"
	"github.com/larrylart/blue-keyboard/protocol"
	"github.com/larrylart/blue-keyboard/store"
	"github.com/larrylart/blue-keyboard/transport"
)

const testPassword = "hunter2"

// newTestPair wires a controller.Client and a dongle.Server together
// over a LoopbackTransport pair, with the server already listening.
// It returns the client, the HID collaborator the server types into,
// and a cancel func that stops the server goroutine.
func newTestPair(t *testing.T) (*controller.Client, *store.LoggingHID, string, context.CancelFunc) {
	t.Helper()
	dir := t.TempDir()

	cfg, err := store.LoadDeviceConfig(filepath.Join(dir, "dongle.json"))
	if err != nil {
		t.Fatal(err)
	}
	salt := bytes.Repeat([]byte{0x11}, 16)
	verif := protocol.DeriveVerifier(testPassword, salt, 4096)
	if err := cfg.SetKDFParams(salt, 4096, verif); err != nil {
		t.Fatal(err)
	}

	hid := store.NewLoggingHID()
	srv, err := dongle.NewServer(cfg, hid, false, slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	const addr = "AA:BB:CC:DD:EE:FF"
	ctrlTr, dongleTr := transport.NewLoopbackPair(transport.Peer{Address: addr, Name: "blue-keyboard"}, transport.DefaultMTU)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = srv.Serve(ctx, dongleTr)
	}()

	keys, err := store.NewKeyStore(filepath.Join(dir, "keys.json"))
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	client := controller.NewClient(ctrlTr, keys, slog.Default())

	// Give the server goroutine a moment to emit its first B0 so the
	// controller's early recvOp calls don't race an empty channel.
	time.Sleep(10 * time.Millisecond)

	return client, hid, addr, cancel
}

func TestProvisionThenSendString(t *testing.T) {
	client, hid, addr, cancel := newTestPair(t)
	defer cancel()
	ctx := context.Background()

	if err := client.Provision(ctx, addr, testPassword); err != nil {
		t.Fatalf("provision: %v", err)
	}

	if err := client.SendString(ctx, addr, "hello", true); err != nil {
		t.Fatalf("send string: %v", err)
	}
	if string(hid.Typed) != "hello\n" {
		t.Fatalf("hid typed %q, want %q", hid.Typed, "hello\n")
	}
}

func TestProvisionThenInfo(t *testing.T) {
	client, _, addr, cancel := newTestPair(t)
	defer cancel()
	ctx := context.Background()

	if err := client.Provision(ctx, addr, testPassword); err != nil {
		t.Fatalf("provision: %v", err)
	}

	banner, err := client.Info(ctx, addr)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if banner.Layout != "us" {
		t.Fatalf("layout = %q, want %q", banner.Layout, "us")
	}
}

func TestProvisionThenSendKeyTap(t *testing.T) {
	client, hid, addr, cancel := newTestPair(t)
	defer cancel()
	ctx := context.Background()

	if err := client.Provision(ctx, addr, testPassword); err != nil {
		t.Fatalf("provision: %v", err)
	}

	if err := client.SendKeyTap(ctx, addr, 0x02, 0x04, 3); err != nil {
		t.Fatalf("send key tap: %v", err)
	}

	// E0 is fire-and-forget; give the server goroutine a moment to
	// decrypt, dispatch and call the HID collaborator.
	time.Sleep(20 * time.Millisecond)

	if len(hid.Taps) != 3 {
		t.Fatalf("got %d taps, want 3", len(hid.Taps))
	}
	for _, tap := range hid.Taps {
		if tap[0] != 0x02 || tap[1] != 0x04 {
			t.Fatalf("got tap %v, want {0x02, 0x04}", tap)
		}
	}
}

func TestWrongPasswordFailsProvisioning(t *testing.T) {
	client, _, addr, cancel := newTestPair(t)
	defer cancel()
	ctx := context.Background()

	if err := client.Provision(ctx, addr, "wrong-password"); err == nil {
		t.Fatal("expected provisioning with a wrong password to fail")
	}
}

func TestSendStringWithoutProvisioningFails(t *testing.T) {
	client, _, addr, cancel := newTestPair(t)
	defer cancel()
	ctx := context.Background()

	if err := client.SendString(ctx, addr, "hi", false); err == nil {
		t.Fatal("expected send-string without a stored appkey to fail")
	}
}
