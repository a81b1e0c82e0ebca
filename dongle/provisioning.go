package dongle

import (
	"crypto/rand"
	"sync"

	"github.com/larrylart/blue-keyboard/protocol"
	"github.com/larrylart/blue-keyboard/store"
)

// provState is the Server-side provisioning state machine, spec.md
// §4.3: "Idle --A0--> Challenged --A3(ok)--> Revealed/Idle". It is
// volatile — chal/pending/fail_count are never persisted (spec.md §3);
// only DeviceConfig's (salt, iters, verif, appkey, revealed) survive
// a restart.
type provState struct {
	mu sync.Mutex

	cfg *store.DeviceConfig

	pending   bool
	chal      []byte
	failCount uint16

	singleAppLock bool
}

const maxProvisioningFailures = 100

func newProvState(cfg *store.DeviceConfig, singleAppLock bool) *provState {
	return &provState{cfg: cfg, singleAppLock: singleAppLock}
}

// HandleA0 answers an A0 request with an A2 challenge, or a PolicyError
// if provisioning is blocked (spec.md §4.3).
func (p *provState) HandleA0() (protocol.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failCount >= maxProvisioningFailures {
		return protocol.Frame{}, &protocol.PolicyError{Kind: protocol.RateLimited}
	}
	if p.singleAppLock && p.cfg.IsAppKeyRevealed() {
		return protocol.Frame{}, &protocol.PolicyError{Kind: protocol.LockedSingle}
	}

	salt, iters, _, ok := p.cfg.KDFParams()
	if !ok {
		return protocol.Frame{}, &protocol.PolicyError{Kind: protocol.KdfMissing}
	}

	chal, err := randomChallenge()
	if err != nil {
		return protocol.Frame{}, err
	}
	p.chal = chal
	p.pending = true

	return protocol.Frame{Op: protocol.OpA2, Payload: protocol.BuildA2(salt, iters, chal)}, nil
}

// HandleA3 verifies the client's proof and, on success, replies with a
// wrapped A1 carrying the APPKEY (spec.md §4.3).
func (p *provState) HandleA3(mac []byte) (protocol.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.pending {
		return protocol.Frame{}, &protocol.PolicyError{Kind: protocol.NoSession}
	}
	chal := p.chal
	p.pending = false

	_, _, verif, ok := p.cfg.KDFParams()
	if !ok {
		return protocol.Frame{}, &protocol.PolicyError{Kind: protocol.KdfMissing}
	}

	if !protocol.VerifyA3(verif, chal, mac) {
		p.failCount++
		return protocol.Frame{}, &protocol.AuthError{Kind: protocol.BadProof}
	}

	appkey, ok := p.cfg.AppKeyBytes()
	if !ok {
		return protocol.Frame{}, &protocol.PolicyError{Kind: protocol.KdfMissing}
	}

	a1, err := protocol.BuildA1Wrapped(verif, chal, appkey)
	if err != nil {
		return protocol.Frame{}, err
	}
	if err := p.cfg.MarkAppKeyRevealed(); err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Frame{Op: protocol.OpA1, Payload: a1}, nil
}

func randomChallenge() ([]byte, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
