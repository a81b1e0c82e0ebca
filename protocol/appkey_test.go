package protocol

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex literal %q: %v", s, err)
	}
	return b
}

func TestDeriveVerifierKnownVector(t *testing.T) {
	salt := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	verif := DeriveVerifier("hunter2", salt, 10000)
	want := mustHex(t, "cef000bef1c43b047de293e1001f10b2f97e6e5dea7cf4b6719fc559b14912c5")
	if !bytes.Equal(verif, want) {
		t.Fatalf("verif = %x, want %x", verif, want)
	}
}

func TestA2RoundTrip(t *testing.T) {
	salt := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	chal := mustHex(t, "101112131415161718191a1b1c1d1e1f")
	payload := BuildA2(salt, 10000, chal)

	gotSalt, gotIters, gotChal, err := ParseA2(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotSalt, salt) || gotIters != 10000 || !bytes.Equal(gotChal, chal) {
		t.Fatalf("got (%x, %d, %x)", gotSalt, gotIters, gotChal)
	}
}

func TestA3MacVerify(t *testing.T) {
	verif := mustHex(t, "cef000bef1c43b047de293e1001f10b2f97e6e5dea7cf4b6719fc559b14912c5")
	chal := mustHex(t, "101112131415161718191a1b1c1d1e1f")

	mac := ComputeA3Mac(verif, chal)
	if !VerifyA3(verif, chal, mac) {
		t.Fatal("freshly computed A3 mac should verify")
	}
	bad := append([]byte(nil), mac...)
	bad[0] ^= 0xFF
	if VerifyA3(verif, chal, bad) {
		t.Fatal("corrupted A3 mac must not verify")
	}
}

// TestBuildA1WrappedKnownVector pins the full wrapped-APPKEY derivation
// against a hand-computed vector for spec.md §8's provisioning scenario
// (password="hunter2", salt=0x00..0F, iters=10000, chal=0x10..1F,
// appkey=0x20..3F).
func TestBuildA1WrappedKnownVector(t *testing.T) {
	verif := mustHex(t, "cef000bef1c43b047de293e1001f10b2f97e6e5dea7cf4b6719fc559b14912c5")
	chal := mustHex(t, "101112131415161718191a1b1c1d1e1f")
	appkey := mustHex(t, "202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f")

	a1, err := BuildA1Wrapped(verif, chal, appkey)
	if err != nil {
		t.Fatal(err)
	}
	want := mustHex(t, "40bb9f11e6e8cba168881a783b8941765f23e28b888771086ea671c24d2bd27b0888c8c6f59c31e0d2697f6590f3881a")
	if !bytes.Equal(a1, want) {
		t.Fatalf("a1 = %x, want %x", a1, want)
	}
}

func TestUnwrapA1RoundTripWrapped(t *testing.T) {
	verif := mustHex(t, "cef000bef1c43b047de293e1001f10b2f97e6e5dea7cf4b6719fc559b14912c5")
	chal := mustHex(t, "101112131415161718191a1b1c1d1e1f")
	appkey := mustHex(t, "202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f")

	a1, err := BuildA1Wrapped(verif, chal, appkey)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnwrapA1(verif, chal, a1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, appkey) {
		t.Fatalf("unwrapped appkey = %x, want %x", got, appkey)
	}
}

func TestUnwrapA1RejectsBadMac(t *testing.T) {
	verif := mustHex(t, "cef000bef1c43b047de293e1001f10b2f97e6e5dea7cf4b6719fc559b14912c5")
	chal := mustHex(t, "101112131415161718191a1b1c1d1e1f")
	appkey := mustHex(t, "202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f")

	a1, err := BuildA1Wrapped(verif, chal, appkey)
	if err != nil {
		t.Fatal(err)
	}
	a1[len(a1)-1] ^= 0xFF
	if _, err := UnwrapA1(verif, chal, a1); err == nil {
		t.Fatal("expected error for corrupted wrap mac")
	}
}

func TestUnwrapA1Clear(t *testing.T) {
	appkey := mustHex(t, "202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f")
	clear := BuildA1Clear(appkey)
	got, err := UnwrapA1(nil, nil, clear)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, appkey) {
		t.Fatalf("got %x, want %x", got, appkey)
	}
}

func TestUnwrapA1BadLength(t *testing.T) {
	if _, err := UnwrapA1(nil, nil, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for bad A1 length")
	}
}
