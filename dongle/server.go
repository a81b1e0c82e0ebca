package dongle

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/larrylart/blue-keyboard/internal/clock"
	"github.com/larrylart/blue-keyboard/protocol"
	"github.com/larrylart/blue-keyboard/store"
	"github.com/larrylart/blue-keyboard/transport"
)

// Retransmission policy from spec.md §4.4.3.
const (
	b0RetransmitInterval = 300 * time.Millisecond
	b0MaxRetransmits     = 10
	idlePollInterval     = 5 * time.Second
)

// Server orchestrates dongle-side connections: it wires DeviceConfig,
// the HID collaborator and the Application dispatcher together, the
// way enclave.go wires the teacher's key manager, traffic processor
// and connection manager into one object.
type Server struct {
	cfg           *store.DeviceConfig
	hid           store.HID
	app           protocol.Application
	singleAppLock bool
	logger        *slog.Logger

	connectionsServed  atomic.Uint64
	handshakesOK       atomic.Uint64
	handshakesFailed   atomic.Uint64
	commandsDispatched atomic.Uint64
	lastActivityNano   atomic.Int64
}

// LastActivity returns the cached time of the most recently processed
// frame across all connections, read from the shared clock package
// rather than a fresh syscall (spec.md §4.3.3, §4.4.3's coarse timing
// needs).
func (s *Server) LastActivity() time.Time {
	return time.Unix(0, s.lastActivityNano.Load())
}

// NewServer builds a Server. If cfg has no APPKEY yet, one is
// generated immediately (spec.md §4.3 precondition: "Server has a
// random 32-byte APPKEY already generated and stored locally, not yet
// revealed").
func NewServer(cfg *store.DeviceConfig, hid store.HID, singleAppLock bool, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := cfg.AppKeyBytes(); !ok {
		appkey := make([]byte, 32)
		if _, err := rand.Read(appkey); err != nil {
			return nil, err
		}
		if err := cfg.GenerateAppKey(appkey); err != nil {
			return nil, err
		}
	}
	return &Server{
		cfg:           cfg,
		hid:           hid,
		app:           NewApp(cfg, hid),
		singleAppLock: singleAppLock,
		logger:        logger,
	}, nil
}

// conn holds the mutable per-connection state that handleFrame closes
// over: the reassembly buffer, the in-progress or active Session, the
// ephemeral keypair backing the current B0, and the provisioning and
// dispatch state machines (spec.md §5: one owner goroutine per
// connection holds all of this).
type conn struct {
	tr     transport.Transport
	logger *slog.Logger

	framer     protocol.Framer
	sess       *protocol.Session
	srvKP      *protocol.ECDHKeyPair
	sid        uint32
	lastB0     []byte
	prov       *provState
	dispatcher *protocol.Dispatcher
}

// Serve runs the single-connection protocol loop over tr until ctx is
// canceled or a B0 write fails (spec.md §2: dongle emits B0 on
// connect, retransmits it on a timer, then serves provisioning and
// application requests). It does not detect a peer disconnect: the
// Session is not reset when the peer goes away, and no new B0 is
// emitted for a later connection.
func (s *Server) Serve(ctx context.Context, tr transport.Transport) error {
	corr := s.connectionsServed.Add(1)
	logger := s.logger.With("conn", corr)

	c := &conn{
		tr:         tr,
		logger:     logger,
		prov:       newProvState(s.cfg, s.singleAppLock),
		dispatcher: protocol.NewDispatcher(s.app),
	}

	kp, err := protocol.GenerateECDHKeyPair()
	if err != nil {
		return err
	}
	sid, err := randomSid()
	if err != nil {
		return err
	}
	c.srvKP = kp
	c.sid = sid
	c.sess = &protocol.Session{Role: protocol.RoleServer, Sid: sid, SrvPub: kp.PublicBytes()}
	c.lastB0 = protocol.BuildB0(kp.PublicBytes(), sid)

	logger.Info("session opened, emitting B0", "sid", sid)
	if err := tr.WriteTX(protocol.EncodeFrame(protocol.Frame{Op: protocol.OpB0, Payload: c.lastB0})); err != nil {
		return &protocol.TransportError{Reason: "write B0", Err: err}
	}

	retransmits := 0
	nextRetransmit := clock.Now().Add(b0RetransmitInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		wait := idlePollInterval
		if !c.sess.Active && retransmits < b0MaxRetransmits {
			wait = time.Until(nextRetransmit)
			if wait <= 0 {
				wait = time.Millisecond
			}
		}

		chunk, ok := tr.WaitNotification(ctx, wait)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			if !c.sess.Active && retransmits < b0MaxRetransmits {
				if err := tr.WriteTX(protocol.EncodeFrame(protocol.Frame{Op: protocol.OpB0, Payload: c.lastB0})); err != nil {
					return &protocol.TransportError{Reason: "retransmit B0", Err: err}
				}
				retransmits++
				nextRetransmit = clock.Now().Add(b0RetransmitInterval)
				logger.Info("retransmitted B0", "attempt", retransmits)
			}
			continue
		}

		for _, frame := range c.framer.Push(chunk) {
			s.handleFrame(c, frame)
		}
	}
}

// handleFrame processes one already-reassembled outer frame and, if a
// reply is warranted, writes it directly — B2 and dispatch replies
// both go out this way rather than being threaded back through Serve.
func (s *Server) handleFrame(c *conn, frame protocol.Frame) {
	s.lastActivityNano.Store(clock.Now().UnixNano())
	var reply *protocol.Frame

	switch frame.Op {
	case protocol.OpA0:
		r, err := c.prov.HandleA0()
		if err != nil {
			reply = errReply(err)
		} else {
			reply = &r
		}

	case protocol.OpA3:
		r, err := c.prov.HandleA3(frame.Payload)
		if err != nil {
			reply = errReply(err)
		} else {
			reply = &r
		}

	case protocol.OpB1:
		reply = s.handleB1(c, frame.Payload)

	case protocol.OpB3:
		if !c.sess.Active {
			reply = &protocol.Frame{Op: protocol.OpErr, Payload: []byte(protocol.NoSession.String())}
		} else {
			reply = s.handleB3(c, frame)
		}

	default:
		reply = &protocol.Frame{Op: protocol.OpErr, Payload: []byte(protocol.NoSession.String())}
	}

	if reply == nil {
		return
	}
	if err := c.tr.WriteTX(protocol.EncodeFrame(*reply)); err != nil {
		c.logger.Warn("write reply failed", "err", err)
	}
}

// handleB1 completes the MTLS-lite handshake: it verifies keyx_mac,
// derives the session keys, activates the session and replies with B2
// (spec.md §4.4.1). A verification failure replies with 0xFF and
// leaves the session inactive; the ephemeral keypair, sid and cached B0
// are kept, so no fresh B0 is generated and a later B1 is checked
// against the same B0.
func (s *Server) handleB1(c *conn, payload []byte) *protocol.Frame {
	cliPub, mac, err := protocol.ParseB1(payload)
	if err != nil {
		return errReply(err)
	}

	appkey, ok := s.cfg.AppKeyBytes()
	if !ok {
		return &protocol.Frame{Op: protocol.OpErr, Payload: []byte(protocol.KdfMissing.String())}
	}

	wantMac := protocol.KeyxMac(appkey, c.sid, c.sess.SrvPub, cliPub)
	if !protocol.ConstantTimeEqual(wantMac, mac) {
		s.handshakesFailed.Add(1)
		return &protocol.Frame{Op: protocol.OpErr, Payload: []byte(protocol.BadMac.String())}
	}

	shared, err := c.srvKP.SharedSecret(cliPub)
	if err != nil {
		s.handshakesFailed.Add(1)
		return &protocol.Frame{Op: protocol.OpErr, Payload: []byte(protocol.BadProof.String())}
	}

	keys, err := protocol.DeriveSessionKeys(appkey, c.sid, c.sess.SrvPub, cliPub, shared)
	if err != nil {
		return errReply(err)
	}

	sfin := protocol.SfinMac(keys.KMac[:], c.sid, c.sess.SrvPub, cliPub)

	c.sess.CliPub = cliPub
	c.sess.Keys = keys
	c.sess.Active = true
	s.handshakesOK.Add(1)
	c.logger.Info("handshake complete", "sid", c.sid)

	return &protocol.Frame{Op: protocol.OpB2, Payload: protocol.BuildB2(sfin)}
}

// handleB3 decrypts one record, dispatches its inner frame to the
// Application, and encrypts the reply, if any (spec.md §4.4.2, §4.5).
// A decrypt failure is fatal to the session per spec.md §7.
func (s *Server) handleB3(c *conn, record protocol.Frame) *protocol.Frame {
	inner, err := c.sess.Decrypt(record)
	if err != nil {
		c.logger.Warn("record decrypt failed, resetting session", "err", err)
		c.sess.Reset()
		return &protocol.Frame{Op: protocol.OpErr, Payload: []byte(err.Error())}
	}

	s.commandsDispatched.Add(1)
	out, err := c.dispatcher.Dispatch(inner)
	if err != nil {
		c.logger.Warn("dispatch failed", "op", inner.Op, "err", err)
		return nil
	}
	if out == nil {
		return nil
	}

	record2, err := c.sess.Encrypt(*out)
	if err != nil {
		c.logger.Warn("record encrypt failed", "err", err)
		return nil
	}
	return &record2
}

func errReply(err error) *protocol.Frame {
	return &protocol.Frame{Op: protocol.OpErr, Payload: []byte(err.Error())}
}

func randomSid() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
