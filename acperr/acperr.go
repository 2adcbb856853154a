// Package acperr defines the closed error taxonomy of spec.md §7: every
// error the core produces carries one of a fixed set of kinds so that
// callers (peer manager, supervisor, CLI) can switch on behavior without
// string matching.
package acperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy buckets from spec.md §7.
type Kind int

const (
	// Protocol is a wire-format violation, size overflow, or an unknown
	// message in the current handshake/session state. Drop peer, bump ban score.
	Protocol Kind = iota
	// Crypto is a failed signature/VDF/VRF verification, or a primitive
	// unavailable at runtime. For network-sourced data: drop message,
	// penalize peer. For local artifacts: fatal.
	Crypto
	// Consensus is a validation-rule violation: double-spend, cooldown
	// bypass, equivocation, bad cumulative weight. Always penalizes the peer.
	Consensus
	// Resource is a rate-limit/queue/storage exhaustion. Never penalizes
	// the peer; triggers flow-control backpressure instead.
	Resource
	// Bootstrap is a threshold failure from the cold-start verifier
	// (spec.md §4.8). Fatal: the node refuses to start.
	Bootstrap
	// IO is a transient I/O or timeout condition, retried with bounded
	// exponential backoff.
	IO
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol"
	case Crypto:
		return "crypto"
	case Consensus:
		return "consensus"
	case Resource:
		return "resource"
	case Bootstrap:
		return "bootstrap"
	case IO:
		return "io"
	default:
		return "unknown"
	}
}

// Error wraps a cause with a Kind and an optional machine-readable code
// (e.g. bootstrap's TooFewHardcoded / HardcodedDeviation / TimeDrift).
type Error struct {
	Kind  Kind
	Code  string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		if e.Code != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Code)
		}
		return e.Kind.String()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a new typed error.
func New(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// CodeOf extracts the machine-readable code, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Penalizes reports whether this error kind should increase the
// originating peer's ban score per spec.md §7's propagation policy.
func (k Kind) Penalizes() bool {
	switch k {
	case Protocol, Crypto, Consensus:
		return true
	default:
		return false
	}
}

// Fatal reports whether this error kind should be surfaced to the
// top-level supervisor, causing the node to exit (spec.md §7).
func (k Kind) Fatal() bool {
	return k == Bootstrap
}
