// Command bluekeyboardctl is the controller-side CLI (spec.md §6.5):
//
//	bluekeyboardctl -list
//	bluekeyboardctl -prov -to=<addr>
//	bluekeyboardctl -sendstr=<text> -to=<addr> [-newline]
//	bluekeyboardctl -sendkey=<usage> -to=<addr> [-mods=<n>] [-repeat=<n>]
//
// As with bluekeyboardd, no real BLE adapter exists in this repo
// (spec.md §1 excludes BLE I/O). -loopback runs every command against
// an in-process dongle.Server instead of a real dongle, so the full
// protocol stack is exercisable without hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/larrylart/blue-keyboard/controller"
	"github.com/larrylart/blue-keyboard/dongle"
	"github.com/larrylart/blue-keyboard/internal/config"
	"github.com/larrylart/blue-keyboard/store"
	"github.com/larrylart/blue-keyboard/transport"
	"golang.org/x/term"
)

const scanTimeout = 5 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	config.Load()

	keysPath := flag.String("keys", config.StringOrDefault("BLUEKEYBOARDCTL_KEYS", "keys.json"), "path to the persisted APPKEY store")
	loopback := flag.Bool("loopback", config.BoolOrDefault("BLUEKEYBOARDCTL_LOOPBACK", false), "drive an in-process dongle.Server instead of a real BLE transport")

	list := flag.Bool("list", false, "scan for dongles and print address/name pairs")
	prov := flag.Bool("prov", false, "provision the dongle at -to, prompting for its setup password")
	sendstr := flag.String("sendstr", "", "type this string on the dongle at -to")
	newline := flag.Bool("newline", false, "append a trailing newline to -sendstr")
	sendkey := flag.Uint("sendkey", 0, "raw HID usage code to tap on the dongle at -to")
	mods := flag.Uint("mods", 0, "HID modifier byte for -sendkey")
	repeat := flag.Uint("repeat", 1, "repeat count for -sendkey")
	to := flag.String("to", "", "target dongle address")
	flag.Parse()

	if !*loopback {
		logger.Error("no BLE transport backend is compiled into this binary; rerun with -loopback to exercise the full protocol over an in-process dongle")
		os.Exit(1)
	}

	tr, cleanup, err := newLoopbackTransport(logger)
	if err != nil {
		logger.Error("starting loopback dongle", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	keys, err := store.NewKeyStore(*keysPath)
	if err != nil {
		logger.Error("loading keystore", "error", err)
		os.Exit(1)
	}
	client := controller.NewClient(tr, keys, logger)
	ctx := context.Background()

	switch {
	case *list:
		runList(ctx, client)
	case *prov:
		runProvision(ctx, client, *to)
	case *sendstr != "":
		runSendString(ctx, client, *to, *sendstr, *newline)
	case *sendkey != 0:
		runSendKeyTap(ctx, client, *to, byte(*mods), byte(*sendkey), byte(*repeat))
	default:
		fmt.Fprintln(os.Stderr, "usage: bluekeyboardctl -loopback [-list | -prov -to=<addr> | -sendstr=<text> -to=<addr> [-newline] | -sendkey=<n> -to=<addr> [-mods=<n>] [-repeat=<n>]]")
		os.Exit(2)
	}
}

// newLoopbackTransport spins up an in-process dongle.Server, exactly
// as bluekeyboardd's -selftest mode does, and returns the controller
// side of the pair.
func newLoopbackTransport(logger *slog.Logger) (transport.Transport, func(), error) {
	cfg, err := store.LoadDeviceConfig("dongle.json")
	if err != nil {
		return nil, nil, err
	}
	hid := store.NewLoggingHID()
	srv, err := dongle.NewServer(cfg, hid, false, logger)
	if err != nil {
		return nil, nil, err
	}

	ctrlTr, dongleTr := transport.NewLoopbackPair(transport.Peer{Address: "loopback", Name: "blue-keyboard"}, transport.DefaultMTU)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.Serve(ctx, dongleTr); err != nil {
			logger.Error("loopback dongle exited", "error", err)
		}
	}()
	time.Sleep(10 * time.Millisecond)

	return ctrlTr, cancel, nil
}

func runList(ctx context.Context, client *controller.Client) {
	peers, err := client.List(ctx, scanTimeout)
	if err != nil {
		slog.Error("scan failed", "error", err)
		os.Exit(1)
	}
	for _, p := range peers {
		fmt.Printf("%s  %s\n", p.Address, p.Name)
	}
}

func runProvision(ctx context.Context, client *controller.Client, to string) {
	if to == "" {
		fmt.Fprintln(os.Stderr, "-prov requires -to=<addr>")
		os.Exit(2)
	}
	fmt.Fprint(os.Stderr, "setup password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		slog.Error("reading password", "error", err)
		os.Exit(1)
	}
	if err := client.Provision(ctx, to, string(pwBytes)); err != nil {
		slog.Error("provisioning failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("provisioned", to)
}

func runSendString(ctx context.Context, client *controller.Client, to, text string, newline bool) {
	if to == "" {
		fmt.Fprintln(os.Stderr, "-sendstr requires -to=<addr>")
		os.Exit(2)
	}
	if err := client.SendString(ctx, to, text, newline); err != nil {
		slog.Error("send-string failed", "error", err)
		os.Exit(1)
	}
}

func runSendKeyTap(ctx context.Context, client *controller.Client, to string, mods, usage, repeat byte) {
	if to == "" {
		fmt.Fprintln(os.Stderr, "-sendkey requires -to=<addr>")
		os.Exit(2)
	}
	if err := client.SendKeyTap(ctx, to, mods, usage, repeat); err != nil {
		slog.Error("send-key failed", "error", err)
		os.Exit(1)
	}
}
