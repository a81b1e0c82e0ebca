package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/larrylart/blue-keyboard/store"
	"github.com/larrylart/blue-keyboard/transport"
)

// Client drives the controller-side workflows over one Transport
// (spec.md §2: "Controller workflows ... orchestrate connect →
// handshake → command"). It is not safe for concurrent use — each
// workflow method owns the connection for its duration, matching the
// single session-owner model of spec.md §5.
type Client struct {
	tr     transport.Transport
	keys   *store.KeyStore
	logger *slog.Logger
}

// NewClient builds a Client over tr, persisting APPKEYs in keys.
func NewClient(tr transport.Transport, keys *store.KeyStore, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{tr: tr, keys: keys, logger: logger}
}

// List runs a scan and returns discovered dongles (spec.md §6.5 --list).
func (c *Client) List(ctx context.Context, timeout time.Duration) ([]transport.Peer, error) {
	return c.tr.Scan(ctx, timeout)
}

// connect opens the transport connection to address, using any cached
// GATT handles on file (spec.md §6.2), tagging the session with a
// correlation id for logging.
func (c *Client) connect(ctx context.Context, address string) (*slog.Logger, error) {
	corr := uuid.NewString()
	logger := c.logger.With("addr", address, "corr", corr)

	var cached transport.CachedHandles
	if dev, tx, rx, ok := c.keys.CachedHandles(address); ok {
		cached = transport.CachedHandles{DevicePath: dev, TxPath: tx, RxPath: rx}
	}

	if err := c.tr.Connect(ctx, address, true, cached); err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	logger.Info("connected")
	return logger, nil
}

func (c *Client) disconnect(logger *slog.Logger) {
	if err := c.tr.Disconnect(); err != nil {
		logger.Warn("disconnect error", "err", err)
	}
}
