// Command bluekeyboardd is the dongle-side daemon (spec.md §2, §6.5).
// It owns DeviceConfig, the HID collaborator and a dongle.Server, and
// serves connections over a transport.Transport.
//
// No real BLE GATT adapter is implemented in this repo — spec.md §1
// excludes BLE I/O itself from scope. The only Transport this binary
// can drive today is the in-process transport.Loopback pair, so
// -selftest is the only way to actually exercise it: it spins up a
// paired controller.Client in the same process, runs a provision +
// info + send-string smoke sequence against this daemon's own
// dongle.Server, and exits. Wiring a real adapter later only means
// implementing transport.Transport and passing it to Server.Serve
// instead of the loopback pair built here.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/larrylart/blue-keyboard/controller"
	"github.com/larrylart/blue-keyboard/dongle"
	"github.com/larrylart/blue-keyboard/internal/config"
	"github.com/larrylart/blue-keyboard/store"
	"github.com/larrylart/blue-keyboard/transport"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	config.Load()

	configPath := flag.String("config", config.StringOrDefault("BLUEKEYBOARDD_CONFIG", "dongle.json"), "path to the persisted device config JSON file")
	singleAppLock := flag.Bool("single-app-lock", config.BoolOrDefault("BLUEKEYBOARDD_SINGLE_APP_LOCK", false), "refuse re-provisioning once an APPKEY has been revealed")
	selftest := flag.Bool("selftest", config.BoolOrDefault("BLUEKEYBOARDD_SELFTEST", false), "run an in-process provision+info+send-string smoke test against a loopback transport, then exit")
	selftestPassword := flag.String("selftest-password", "selftest-password", "password used to provision during -selftest")
	flag.Parse()

	cfg, err := store.LoadDeviceConfig(*configPath)
	if err != nil {
		logger.Error("loading device config", "error", err)
		os.Exit(1)
	}
	hid := store.NewLoggingHID()

	srv, err := dongle.NewServer(cfg, hid, *singleAppLock, logger)
	if err != nil {
		logger.Error("creating server", "error", err)
		os.Exit(1)
	}

	if *selftest {
		runSelftest(srv, *selftestPassword, logger)
		return
	}

	logger.Error("no BLE transport backend is compiled into this binary; rerun with -selftest to exercise the full protocol over an in-process loopback transport")
	os.Exit(1)
}

// runSelftest demonstrates the full stack end-to-end without hardware
// (spec.md §6: "the dongle binary is runnable end-to-end without
// hardware"): it pairs a loopback transport, serves the dongle side in
// the background, and drives a controller.Client through provision,
// info and send-string.
func runSelftest(srv *dongle.Server, password string, logger *slog.Logger) {
	ctrlTr, dongleTr := transport.NewLoopbackPair(transport.Peer{Address: "selftest", Name: "blue-keyboard"}, transport.DefaultMTU)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := srv.Serve(ctx, dongleTr); err != nil {
			logger.Error("server exited", "error", err)
		}
	}()
	time.Sleep(10 * time.Millisecond)

	keys, err := store.NewKeyStore("selftest-keys.json")
	if err != nil {
		logger.Error("creating selftest keystore", "error", err)
		os.Exit(1)
	}
	client := controller.NewClient(ctrlTr, keys, logger)

	const addr = "selftest"
	if err := client.Provision(ctx, addr, password); err != nil {
		logger.Error("selftest provision failed", "error", err)
		os.Exit(1)
	}
	banner, err := client.Info(ctx, addr)
	if err != nil {
		logger.Error("selftest info failed", "error", err)
		os.Exit(1)
	}
	logger.Info("selftest info", "layout", banner.Layout, "proto", banner.Proto, "fw", banner.FW)
	if err := client.SendString(ctx, addr, "selftest ok", true); err != nil {
		logger.Error("selftest send-string failed", "error", err)
		os.Exit(1)
	}
	logger.Info("selftest passed")
}
