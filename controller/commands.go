package controller

import (
	"bytes"
	"context"
	"fmt"

	"github.com/larrylart/blue-keyboard/protocol"
)

// SendString connects, handshakes, and types text on the dongle
// identified by address (spec.md §6.5 --sendstr, §4.5 D0/D1). If
// newline is set, a trailing "\n" is appended before typing.
func (c *Client) SendString(ctx context.Context, address, text string, newline bool) error {
	logger, err := c.connect(ctx, address)
	if err != nil {
		return err
	}
	defer c.disconnect(logger)

	l := newLink(c.tr)
	sess, err := c.handshake(ctx, address, l)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	payload := []byte(text)
	if newline {
		payload = append(payload, '\n')
	}

	reply, err := c.roundTrip(ctx, l, sess, protocol.Frame{Op: protocol.OpD0, Payload: payload}, d0ReplyTimeout)
	if err != nil {
		return fmt.Errorf("D0 round trip: %w", err)
	}
	if reply.Op != protocol.OpD1 || len(reply.Payload) != 17 {
		return fmt.Errorf("unexpected D1 reply: %+v", reply)
	}
	status := reply.Payload[0]
	gotSum := reply.Payload[1:]
	wantSum := protocol.TypeStringChecksum(payload)
	if !bytes.Equal(gotSum, wantSum) {
		return fmt.Errorf("D1 checksum mismatch: dongle typed something other than what was sent")
	}
	if status != 0 {
		return fmt.Errorf("dongle reported typing failure (status=%d)", status)
	}
	logger.Info("typed string", "len", len(payload))
	return nil
}

// SendKeyTap connects, handshakes, enables raw-HID fast mode, and taps
// one HID usage repeat times (spec.md §6.5 --sendkey, §4.5 C8/E0).
func (c *Client) SendKeyTap(ctx context.Context, address string, mods, usage, repeat byte) error {
	logger, err := c.connect(ctx, address)
	if err != nil {
		return err
	}
	defer c.disconnect(logger)

	l := newLink(c.tr)
	sess, err := c.handshake(ctx, address, l)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	ack, err := c.roundTrip(ctx, l, sess, protocol.Frame{Op: protocol.OpC8, Payload: []byte{1}}, infoTimeout)
	if err != nil {
		return fmt.Errorf("enabling fast mode: %w", err)
	}
	if ack.Op != protocol.OpACK {
		return fmt.Errorf("dongle refused to enable fast mode: %+v", ack)
	}

	payload := []byte{mods, usage}
	if repeat != 1 {
		payload = append(payload, repeat)
	}
	rec, err := sess.Encrypt(protocol.Frame{Op: protocol.OpE0, Payload: payload})
	if err != nil {
		return err
	}
	if err := l.sendFrame(rec); err != nil {
		return err
	}
	logger.Info("sent key tap", "mods", mods, "usage", usage, "repeat", repeat)
	return nil
}

// Info queries the dongle's banner (spec.md §4.5 C1/C2) and returns it
// parsed (supplemented feature: original_source/ble_proto.cpp's
// parse_layout_from_banner).
func (c *Client) Info(ctx context.Context, address string) (Banner, error) {
	logger, err := c.connect(ctx, address)
	if err != nil {
		return Banner{}, err
	}
	defer c.disconnect(logger)

	l := newLink(c.tr)
	sess, err := c.handshake(ctx, address, l)
	if err != nil {
		return Banner{}, fmt.Errorf("handshake: %w", err)
	}

	reply, err := c.roundTrip(ctx, l, sess, protocol.Frame{Op: protocol.OpC1}, infoTimeout)
	if err != nil {
		return Banner{}, fmt.Errorf("C1 round trip: %w", err)
	}
	if reply.Op != protocol.OpC2 {
		return Banner{}, fmt.Errorf("unexpected reply to C1: %+v", reply)
	}
	return ParseBanner(string(reply.Payload))
}
