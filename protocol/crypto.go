package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // required by the wire protocol, not used for security here
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// hmacSHA256 computes HMAC-SHA256(key, concat(parts...)).
func hmacSHA256(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// hkdfExpandSHA256 derives a single HKDF-SHA256 block of length l
// (spec.md §4.4.1: "single HKDF-Expand block").
func hkdfExpandSHA256(salt, ikm, info []byte, l int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, l)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// pbkdf2SHA256 derives l bytes via PBKDF2-HMAC-SHA256 (spec.md §3).
func pbkdf2SHA256(password string, salt []byte, iters, l int) []byte {
	return pbkdf2.Key([]byte(password), salt, iters, l, sha256.New)
}

// aesCTR encrypts or decrypts (the operation is its own inverse)
// plaintext/ciphertext with AES-256-CTR under key and iv (spec.md §3,
// §4.3, §4.4.2). key must be 32 bytes, iv must be 16 bytes.
func aesCTR(key, iv, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("aes-ctr: iv must be %d bytes, got %d", block.BlockSize(), len(iv))
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}

// md5Sum computes MD5(data) — required verbatim by the D0/D1 exchange
// (spec.md §4.5); not used anywhere as a security primitive.
func md5Sum(data []byte) [16]byte {
	return md5.Sum(data) //nolint:gosec
}

// TypeStringChecksum is the exported form of md5Sum, for callers (the
// controller) that must recompute the D1 checksum over exactly what
// they sent in D0 and compare it to what the dongle reports.
func TypeStringChecksum(data []byte) []byte {
	sum := md5Sum(data)
	return sum[:]
}

// constantTimeEqual reports whether a and b are equal, in time
// independent of where they first differ (spec.md §4.3, §4.4.1, §9:
// "all MAC and key-equality checks must use constant-time compare").
func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// ConstantTimeEqual is the exported form of constantTimeEqual, for
// callers outside this package that must compare a received MAC
// against an expected one (e.g. the controller's B2 check).
func ConstantTimeEqual(a, b []byte) bool {
	return constantTimeEqual(a, b)
}

// randomBytes returns n cryptographically random bytes.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("rand: %w", err)
	}
	return b, nil
}

// ECDHKeyPair holds an ephemeral P-256 key pair used during the B0/B1
// handshake (spec.md §3, §4.4.1). Keys are modeled as values with
// explicit ownership, never as raw OpenSSL/mbedTLS context handles
// (spec.md §9).
type ECDHKeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateECDHKeyPair generates a fresh ephemeral P-256 key pair.
func GenerateECDHKeyPair() (*ECDHKeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ecdh keygen: %w", err)
	}
	return &ECDHKeyPair{private: priv}, nil
}

// PublicBytes returns the 65-byte uncompressed public point
// (leading 0x04), as carried on the wire in B0/B1 (spec.md §3).
func (kp *ECDHKeyPair) PublicBytes() []byte {
	return kp.private.PublicKey().Bytes()
}

// SharedSecret computes the ECDH shared secret (the X-coordinate,
// 32 bytes, left-padded) against a peer's uncompressed public point.
// It validates that peerPub is on-curve, uncompressed, and not the
// point at infinity (spec.md §4.4.1) — crypto/ecdh.NewPublicKey
// enforces exactly this.
func (kp *ECDHKeyPair) SharedSecret(peerPub []byte) ([]byte, error) {
	pub, err := ecdh.P256().NewPublicKey(peerPub)
	if err != nil {
		return nil, fmt.Errorf("invalid peer public key: %w", err)
	}
	shared, err := kp.private.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	return shared, nil
}

// ValidECDHPublicKey reports whether b is a well-formed uncompressed
// P-256 point: on-curve, leading 0x04, not the point at infinity
// (spec.md §4.4.1).
func ValidECDHPublicKey(b []byte) bool {
	if len(b) != 65 || b[0] != 0x04 {
		return false
	}
	_, err := ecdh.P256().NewPublicKey(b)
	return err == nil
}
