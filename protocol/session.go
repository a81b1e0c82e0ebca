package protocol

import (
	"encoding/binary"
	"sync"
)

// Role distinguishes which side of the MTLS handshake a Session
// represents; it determines the direction tag used in record-layer
// derivations (spec.md §4.4.2).
type Role int

const (
	RoleServer Role = iota // the dongle, which emits B0 and sends with dir='S'
	RoleClient             // the controller, which sends with dir='C'
)

// SessionKeys holds the master session key and the three traffic keys
// derived from it (spec.md §3, §4.4.1).
type SessionKeys struct {
	SessKey [32]byte
	KEnc    [32]byte
	KMac    [32]byte
	KIv     [32]byte
}

// Session is the per-connection MTLS state (spec.md §3). Exactly one
// Session is live per connection; it is owned exclusively by that
// connection's session-owner goroutine (spec.md §5) — the mutex here
// serializes Encrypt, Decrypt and Reset on this one Session, so
// seq_out, seq_in and Active change under it; it does not coordinate
// unrelated connections.
type Session struct {
	mu sync.Mutex

	Role Role

	Sid    uint32
	SrvPub []byte
	CliPub []byte
	Keys   SessionKeys

	SeqOut uint16
	SeqIn  uint16
	Active bool
}

func (s *Session) outDir() byte {
	if s.Role == RoleClient {
		return 'C'
	}
	return 'S'
}

func (s *Session) inDir() byte {
	if s.Role == RoleClient {
		return 'S'
	}
	return 'C'
}

// Reset clears the session to its inactive zero state (spec.md §3:
// "reset on disconnect, on B0 (re)emission, and on replay/MAC
// failure").
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sid = 0
	s.SrvPub = nil
	s.CliPub = nil
	s.Keys = SessionKeys{}
	s.SeqOut = 0
	s.SeqIn = 0
	s.Active = false
}

// --- Handshake message construction (spec.md §4.4.1) ---

// BuildB0 builds the B0 payload: srv_pub ‖ sid_le (spec.md §4.4.1).
// Note the little-endian sid here versus big-endian everywhere else
// (encodeSidForB0 documents why).
func BuildB0(srvPub []byte, sid uint32) []byte {
	out := make([]byte, 0, 65+4)
	out = append(out, srvPub...)
	out = append(out, encodeSidForB0(sid)...)
	return out
}

// ParseB0 parses a B0 payload.
func ParseB0(payload []byte) (srvPub []byte, sid uint32, err error) {
	if len(payload) != 65+4 {
		return nil, 0, &ProtocolError{Kind: BadLength, Reason: "B0"}
	}
	if !ValidECDHPublicKey(payload[:65]) {
		return nil, 0, &AuthError{Kind: BadProof}
	}
	sid = binary.LittleEndian.Uint32(payload[65:69])
	return append([]byte(nil), payload[:65]...), sid, nil
}

// KeyxMac computes keyx_mac = HMAC(APPKEY, "KEYX" ‖ sid_be ‖ srv_pub ‖
// cli_pub)[0..16] (spec.md §4.4.1).
func KeyxMac(appkey []byte, sid uint32, srvPub, cliPub []byte) []byte {
	return hmacSHA256(appkey, []byte("KEYX"), encodeSidForTranscript(sid), srvPub, cliPub)[:macLen]
}

// BuildB1 builds the B1 payload: cli_pub ‖ mac.
func BuildB1(cliPub, mac []byte) []byte {
	out := make([]byte, 0, 65+macLen)
	out = append(out, cliPub...)
	out = append(out, mac...)
	return out
}

// ParseB1 parses a B1 payload.
func ParseB1(payload []byte) (cliPub, mac []byte, err error) {
	if len(payload) != 65+macLen {
		return nil, nil, &ProtocolError{Kind: BadLength, Reason: "B1"}
	}
	if !ValidECDHPublicKey(payload[:65]) {
		return nil, nil, &AuthError{Kind: BadProof}
	}
	return append([]byte(nil), payload[:65]...), append([]byte(nil), payload[65:]...), nil
}

// DeriveSessionKeys computes sess_key via a single HKDF-SHA256 expand
// block (salt=APPKEY, ikm=shared_secret, info="MT1"‖sid_be‖srv_pub‖
// cli_pub) and then the three traffic keys k_enc/k_mac/k_iv as
// HMAC(sess_key, label) (spec.md §4.4.1).
func DeriveSessionKeys(appkey []byte, sid uint32, srvPub, cliPub, sharedSecret []byte) (SessionKeys, error) {
	info := make([]byte, 0, 3+4+65+65)
	info = append(info, 'M', 'T', '1')
	info = append(info, encodeSidForTranscript(sid)...)
	info = append(info, srvPub...)
	info = append(info, cliPub...)

	sessKey, err := hkdfExpandSHA256(appkey, sharedSecret, info, 32)
	if err != nil {
		return SessionKeys{}, err
	}

	var keys SessionKeys
	copy(keys.SessKey[:], sessKey)
	copy(keys.KEnc[:], hmacSHA256(sessKey, []byte("ENC")))
	copy(keys.KMac[:], hmacSHA256(sessKey, []byte("MAC")))
	copy(keys.KIv[:], hmacSHA256(sessKey, []byte("IVK")))
	return keys, nil
}

// SfinMac computes the server-finished MAC used in B2: HMAC(k_mac,
// "SFIN" ‖ sid_be ‖ srv_pub ‖ cli_pub)[0..16]. SFIN is keyed with
// k_mac, not sess_key (spec.md §4.4.1, §9 note 1); both the dongle
// (dongle/server.go's handleB1) and the controller
// (controller/session.go's handshake) call this function.
func SfinMac(kMac []byte, sid uint32, srvPub, cliPub []byte) []byte {
	return hmacSHA256(kMac, []byte("SFIN"), encodeSidForTranscript(sid), srvPub, cliPub)[:macLen]
}

// BuildB2 builds the B2 payload: mac.
func BuildB2(mac []byte) []byte { return append([]byte(nil), mac...) }

// ParseB2 parses a B2 payload.
func ParseB2(payload []byte) (mac []byte, err error) {
	if len(payload) != macLen {
		return nil, &ProtocolError{Kind: BadLength, Reason: "B2"}
	}
	return append([]byte(nil), payload...), nil
}

// --- Record layer (spec.md §4.4.2) ---

func recordIV(kIv []byte, sid uint32, dir byte, seq uint16) []byte {
	return hmacSHA256(kIv, []byte("IV1"), encodeSidForTranscript(sid), []byte{dir}, encodeSeqForB3(seq))[:16]
}

func recordMac(kMac []byte, sid uint32, dir byte, seq uint16, cipher []byte) []byte {
	return hmacSHA256(kMac, []byte("ENCM"), encodeSidForTranscript(sid), []byte{dir}, encodeSeqForB3(seq), cipher)[:macLen]
}

// Encrypt builds a B3 record Frame carrying inner as its encrypted
// payload, advancing seq_out. If seq_out is about to wrap (0xFFFF),
// the session is marked inactive and Encrypt refuses to send,
// forcing a rehandshake (spec.md §3, §4.4.2).
func (s *Session) Encrypt(inner Frame) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Active {
		return Frame{}, &PolicyError{Kind: NoSession}
	}
	if s.SeqOut == 0xFFFF {
		s.Active = false
		return Frame{}, &AuthError{Kind: BadProof}
	}

	plaintext := EncodeFrame(inner)
	seq := s.SeqOut
	iv := recordIV(s.Keys.KIv[:], s.Sid, s.outDir(), seq)
	cipher, err := aesCTR(s.Keys.KEnc[:], iv, plaintext)
	if err != nil {
		return Frame{}, err
	}
	mac := recordMac(s.Keys.KMac[:], s.Sid, s.outDir(), seq, cipher)

	payload := make([]byte, 0, 2+2+len(cipher)+macLen)
	payload = append(payload, encodeSeqForB3(seq)...)
	payload = append(payload, encodeSeqForB3(uint16(len(cipher)))...)
	payload = append(payload, cipher...)
	payload = append(payload, mac...)

	s.SeqOut++
	return Frame{Op: OpB3, Payload: payload}, nil
}

// Decrypt validates and decrypts a received B3 record, in the order
// spec.md §4.4.2 requires: parse lengths, check mac, check sequence,
// decrypt, parse inner frame, then (only on full success) advance
// seq_in. A replay or bad-mac record leaves seq_in unchanged.
func (s *Session) Decrypt(record Frame) (Frame, error) {
	if record.Op != OpB3 {
		return Frame{}, &ProtocolError{Kind: BadOp, Reason: "expected B3"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Active {
		return Frame{}, &PolicyError{Kind: NoSession}
	}

	payload := record.Payload
	if len(payload) < 4+macLen {
		return Frame{}, &ProtocolError{Kind: BadLength, Reason: "B3"}
	}
	seq := binary.BigEndian.Uint16(payload[0:2])
	clen := binary.BigEndian.Uint16(payload[2:4])
	if len(payload) != 4+int(clen)+macLen {
		return Frame{}, &ProtocolError{Kind: BadLength, Reason: "B3 clen mismatch"}
	}
	cipher := payload[4 : 4+int(clen)]
	gotMac := payload[4+int(clen):]

	wantMac := recordMac(s.Keys.KMac[:], s.Sid, s.inDir(), seq, cipher)
	if !constantTimeEqual(wantMac, gotMac) {
		return Frame{}, &AuthError{Kind: BadMac}
	}

	if seq != s.SeqIn {
		return Frame{}, &AuthError{Kind: Replay}
	}

	iv := recordIV(s.Keys.KIv[:], s.Sid, s.inDir(), seq)
	plaintext, err := aesCTR(s.Keys.KEnc[:], iv, cipher)
	if err != nil {
		return Frame{}, err
	}

	inner, err := parseInnerFrame(plaintext)
	if err != nil {
		return Frame{}, err
	}

	s.SeqIn++
	return inner, nil
}

// parseInnerFrame decodes a single op‖len_le‖payload frame that must
// consume the entire buffer (the B3 plaintext carries exactly one
// inner frame, spec.md §4.4.2).
func parseInnerFrame(b []byte) (Frame, error) {
	if len(b) < 3 {
		return Frame{}, &ProtocolError{Kind: BadFrame, Reason: "inner frame too short"}
	}
	length := binary.LittleEndian.Uint16(b[1:3])
	if int(length) != len(b)-3 {
		return Frame{}, &ProtocolError{Kind: BadLength, Reason: "inner frame length mismatch"}
	}
	return Frame{Op: b[0], Payload: append([]byte(nil), b[3:]...)}, nil
}
