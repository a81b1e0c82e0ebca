package controller

import (
	"context"
	"fmt"

	"github.com/larrylart/blue-keyboard/protocol"
)

// Provision connects to address, runs the A0/A2/A3/A1 exchange
// (spec.md §4.3), stores the resulting APPKEY and disconnects.
func (c *Client) Provision(ctx context.Context, address, password string) error {
	logger, err := c.connect(ctx, address)
	if err != nil {
		return err
	}
	defer c.disconnect(logger)
	logger = logger.With("op", "provision")

	l := newLink(c.tr)
	logger.Info("requesting provisioning")
	if err := l.sendFrame(protocol.Frame{Op: protocol.OpA0}); err != nil {
		return err
	}

	a2, err := l.recvOp(ctx, handshakeTimeout, protocol.OpA2)
	if err != nil {
		return fmt.Errorf("waiting for A2: %w", err)
	}
	salt, iters, chal, err := protocol.ParseA2(a2.Payload)
	if err != nil {
		return err
	}

	verif := protocol.DeriveVerifier(password, salt, int(iters))
	mac := protocol.ComputeA3Mac(verif, chal)
	if err := l.sendFrame(protocol.Frame{Op: protocol.OpA3, Payload: mac}); err != nil {
		return err
	}

	a1, err := l.recvOp(ctx, handshakeTimeout, protocol.OpA1)
	if err != nil {
		return fmt.Errorf("waiting for A1: %w", err)
	}
	appkey, err := protocol.UnwrapA1(verif, chal, a1.Payload)
	if err != nil {
		return fmt.Errorf("unwrapping A1: %w", err)
	}

	if err := c.keys.PutAppKey(address, appkey); err != nil {
		return fmt.Errorf("storing appkey: %w", err)
	}
	logger.Info("provisioning complete")
	return nil
}
