package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/larrylart/blue-keyboard/protocol"
)

// handshake runs the B0/B1/B2 exchange (spec.md §4.4.1) over an
// already-connected link, using the APPKEY on file for address. It
// returns a live client-role Session ready for Encrypt/Decrypt.
func (c *Client) handshake(ctx context.Context, address string, l *link) (*protocol.Session, error) {
	appkey, ok := c.keys.GetAppKey(address)
	if !ok {
		return nil, &protocol.ConfigError{Reason: "no appkey stored for " + address + ", run --prov first"}
	}

	b0, err := l.recvOp(ctx, b0WaitTimeout, protocol.OpB0)
	if err != nil {
		return nil, fmt.Errorf("waiting for B0: %w", err)
	}
	srvPub, sid, err := protocol.ParseB0(b0.Payload)
	if err != nil {
		return nil, err
	}

	cliKP, err := protocol.GenerateECDHKeyPair()
	if err != nil {
		return nil, err
	}
	cliPub := cliKP.PublicBytes()

	keyxMac := protocol.KeyxMac(appkey, sid, srvPub, cliPub)
	if err := l.sendFrame(protocol.Frame{Op: protocol.OpB1, Payload: protocol.BuildB1(cliPub, keyxMac)}); err != nil {
		return nil, err
	}

	shared, err := cliKP.SharedSecret(srvPub)
	if err != nil {
		return nil, err
	}
	keys, err := protocol.DeriveSessionKeys(appkey, sid, srvPub, cliPub, shared)
	if err != nil {
		return nil, err
	}

	b2, err := l.recvOp(ctx, handshakeTimeout, protocol.OpB2)
	if err != nil {
		return nil, fmt.Errorf("waiting for B2: %w", err)
	}
	gotMac, err := protocol.ParseB2(b2.Payload)
	if err != nil {
		return nil, err
	}
	wantMac := protocol.SfinMac(keys.KMac[:], sid, srvPub, cliPub)
	if !protocol.ConstantTimeEqual(wantMac, gotMac) {
		return nil, &protocol.AuthError{Kind: protocol.BadProof}
	}

	sess := &protocol.Session{
		Role:   protocol.RoleClient,
		Sid:    sid,
		SrvPub: srvPub,
		CliPub: cliPub,
		Keys:   keys,
		Active: true,
	}
	return sess, nil
}

// roundTrip encrypts inner, sends it, and returns the decrypted reply.
func (c *Client) roundTrip(ctx context.Context, l *link, sess *protocol.Session, inner protocol.Frame, timeout time.Duration) (protocol.Frame, error) {
	rec, err := sess.Encrypt(inner)
	if err != nil {
		return protocol.Frame{}, err
	}
	if err := l.sendFrame(rec); err != nil {
		return protocol.Frame{}, err
	}
	reply, err := l.recvOp(ctx, timeout, protocol.OpB3)
	if err != nil {
		return protocol.Frame{}, err
	}
	return sess.Decrypt(reply)
}
