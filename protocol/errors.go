package protocol

import "fmt"

// Error taxonomy (spec.md §7). Each category is a distinct type so
// callers can `errors.As` to it; all of them carry a short ASCII
// reason suitable for use as an 0xFF payload where a reply is
// appropriate (spec.md §4.2, §7).

// TransportError wraps a failure from the underlying BLE transport.
// Not recoverable locally — callers bubble it straight up.
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Reason, e.Err)
	}
	return "transport: " + e.Reason
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolErrorKind enumerates wire-level violations.
type ProtocolErrorKind int

const (
	BadFrame ProtocolErrorKind = iota
	BadLength
	BadOp
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case BadFrame:
		return "bad frame"
	case BadLength:
		return "bad length"
	case BadOp:
		return "bad op"
	default:
		return "protocol error"
	}
}

// ProtocolError is a wire-level failure: drop the frame and surface
// it to the caller.
type ProtocolError struct {
	Kind   ProtocolErrorKind
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Reason != "" {
		return e.Kind.String() + ": " + e.Reason
	}
	return e.Kind.String()
}

// AuthErrorKind enumerates cryptographic handshake/record failures.
type AuthErrorKind int

const (
	BadMac AuthErrorKind = iota
	BadProof
	Replay
)

func (k AuthErrorKind) String() string {
	switch k {
	case BadMac:
		return "BADMAC"
	case BadProof:
		return "BADPROOF"
	case Replay:
		return "REPLAY"
	default:
		return "auth error"
	}
}

// AuthError is a cryptographic failure. Fatal to the current session:
// callers must reset it (spec.md §4.4.1, §7).
type AuthError struct {
	Kind AuthErrorKind
}

func (e *AuthError) Error() string { return e.Kind.String() }

// PolicyErrorKind enumerates reasons the dongle refuses an otherwise
// well-formed request.
type PolicyErrorKind int

const (
	LockedSingle PolicyErrorKind = iota
	RateLimited
	KdfMissing
	NoSession
)

func (k PolicyErrorKind) String() string {
	switch k {
	case LockedSingle:
		return "LOCKED_SINGLE_NEED_RESET"
	case RateLimited:
		return "RATE_LIMITED"
	case KdfMissing:
		return "NOT_PROVISIONED"
	case NoSession:
		return "need MTLS"
	default:
		return "policy error"
	}
}

// PolicyError is surfaced as a 0xFF reply with this exact reason text.
type PolicyError struct {
	Kind PolicyErrorKind
}

func (e *PolicyError) Error() string { return e.Kind.String() }

// TimeoutError means a blocking receive's deadline expired. Callers
// decide whether to retry (spec.md §5, §7).
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return "timeout waiting for " + e.Op }

// ConfigError means the Client has no APPKEY stored for this dongle —
// the caller must provision first. A dongle missing its KDF params
// refuses with a PolicyError of kind KdfMissing instead.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }
