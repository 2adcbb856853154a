package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/hash"
)

// VersionPayload is exchanged first on every connection, before Verack,
// per spec.md §4.5/§4.8's bootstrap Version exchange.
type VersionPayload struct {
	ProtocolVersion uint32
	Network         uint32
	Nonce           uint64
	Timestamp       uint64
	TipHeight       uint64
	TipCumulativeHi uint64
	TipCumulativeLo uint64
	UserAgent       string
}

func EncodeVersion(v VersionPayload) ([]byte, error) {
	if len(v.UserAgent) > 256 {
		return nil, fmt.Errorf("wire: version: user agent too long")
	}
	b := make([]byte, 0, 4+4+8+8+8+8+8+2+len(v.UserAgent))
	b = appendU32(b, v.ProtocolVersion)
	b = appendU32(b, v.Network)
	b = appendU64(b, v.Nonce)
	b = appendU64(b, v.Timestamp)
	b = appendU64(b, v.TipHeight)
	b = appendU64(b, v.TipCumulativeHi)
	b = appendU64(b, v.TipCumulativeLo)
	b = appendU16(b, uint16(len(v.UserAgent)))
	b = append(b, v.UserAgent...)
	return b, nil
}

func DecodeVersion(b []byte) (VersionPayload, error) {
	const fixed = 4 + 4 + 8 + 8 + 8 + 8 + 8 + 2
	if len(b) < fixed {
		return VersionPayload{}, fmt.Errorf("wire: version: truncated")
	}
	var v VersionPayload
	off := 0
	v.ProtocolVersion, off = readU32(b, off)
	v.Network, off = readU32(b, off)
	v.Nonce, off = readU64(b, off)
	v.Timestamp, off = readU64(b, off)
	v.TipHeight, off = readU64(b, off)
	v.TipCumulativeHi, off = readU64(b, off)
	v.TipCumulativeLo, off = readU64(b, off)
	uaLen, off2 := readU16(b, off)
	off = off2
	if len(b) != off+int(uaLen) {
		return VersionPayload{}, fmt.Errorf("wire: version: length mismatch")
	}
	v.UserAgent = string(b[off : off+int(uaLen)])
	return v, nil
}

// AuthChallengePayload carries the 32-byte bootstrap challenge nonce
// (spec.md §4.8 step 2).
type AuthChallengePayload struct {
	Nonce [32]byte
}

func EncodeAuthChallenge(p AuthChallengePayload) []byte {
	return append([]byte{}, p.Nonce[:]...)
}

func DecodeAuthChallenge(b []byte) (AuthChallengePayload, error) {
	if len(b) != 32 {
		return AuthChallengePayload{}, fmt.Errorf("wire: authchallenge: bad length")
	}
	var p AuthChallengePayload
	copy(p.Nonce[:], b)
	return p, nil
}

// AuthResponsePayload is the signed response to an AuthChallenge: an
// ML-DSA-65 signature over (challenge ∥ version ∥ tip_hash ∥
// cumulative_weight ∥ wall_clock), spec.md §4.8 step 2.
type AuthResponsePayload struct {
	Signature []byte
}

func EncodeAuthResponse(p AuthResponsePayload) []byte {
	b := make([]byte, 0, 2+len(p.Signature))
	b = appendU16(b, uint16(len(p.Signature)))
	b = append(b, p.Signature...)
	return b
}

func DecodeAuthResponse(b []byte) (AuthResponsePayload, error) {
	if len(b) < 2 {
		return AuthResponsePayload{}, fmt.Errorf("wire: authresponse: truncated")
	}
	sigLen, off := readU16(b, 0)
	if len(b) != off+int(sigLen) {
		return AuthResponsePayload{}, fmt.Errorf("wire: authresponse: length mismatch")
	}
	return AuthResponsePayload{Signature: append([]byte{}, b[off:]...)}, nil
}

// NetAddr is a single gossiped peer address (Addr/GetAddr payloads).
type NetAddr struct {
	Timestamp uint64
	IP        [16]byte // IPv4-mapped or native IPv6
	Port      uint16
}

func EncodeAddr(addrs []NetAddr) ([]byte, error) {
	if len(addrs) > config.MaxAddrCount {
		return nil, fmt.Errorf("wire: addr: too many entries")
	}
	b := make([]byte, 0, 4+len(addrs)*(8+16+2))
	b = appendU32(b, uint32(len(addrs)))
	for _, a := range addrs {
		b = appendU64(b, a.Timestamp)
		b = append(b, a.IP[:]...)
		b = appendU16(b, a.Port)
	}
	return b, nil
}

func DecodeAddr(b []byte) ([]NetAddr, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("wire: addr: truncated")
	}
	count, off := readU32(b, 0)
	if count > config.MaxAddrCount {
		return nil, fmt.Errorf("wire: addr: count exceeds MaxAddrCount")
	}
	const entry = 8 + 16 + 2
	if len(b) != off+int(count)*entry {
		return nil, fmt.Errorf("wire: addr: length mismatch")
	}
	out := make([]NetAddr, count)
	for i := range out {
		out[i].Timestamp, off = readU64(b, off)
		copy(out[i].IP[:], b[off:off+16])
		off += 16
		out[i].Port, off = readU16(b, off)
	}
	return out, nil
}

// InvKind distinguishes inventory entries (Inv/GetData/NotFound).
type InvKind uint8

const (
	InvSlice InvKind = iota
	InvTx
	InvPresence
)

type InvVector struct {
	Kind InvKind
	Hash hash.Digest
}

func EncodeInv(vecs []InvVector) ([]byte, error) {
	if len(vecs) > config.MaxInvCount {
		return nil, fmt.Errorf("wire: inv: too many entries")
	}
	b := make([]byte, 0, 4+len(vecs)*(1+hash.Size))
	b = appendU32(b, uint32(len(vecs)))
	for _, v := range vecs {
		b = append(b, byte(v.Kind))
		b = append(b, v.Hash[:]...)
	}
	return b, nil
}

func DecodeInv(b []byte) ([]InvVector, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("wire: inv: truncated")
	}
	count, off := readU32(b, 0)
	if count > config.MaxInvCount {
		return nil, fmt.Errorf("wire: inv: count exceeds MaxInvCount")
	}
	const entry = 1 + hash.Size
	if len(b) != off+int(count)*entry {
		return nil, fmt.Errorf("wire: inv: length mismatch")
	}
	out := make([]InvVector, count)
	for i := range out {
		out[i].Kind = InvKind(b[off])
		off++
		copy(out[i].Hash[:], b[off:off+hash.Size])
		off += hash.Size
	}
	return out, nil
}

// GetHeadersPayload requests headers starting after locatorHash (the
// sync engine's best-known tip on that peer's chain), spec.md §4.9.
type GetHeadersPayload struct {
	LocatorHash hash.Digest
	MaxCount    uint32
}

func EncodeGetHeaders(p GetHeadersPayload) []byte {
	b := make([]byte, 0, hash.Size+4)
	b = append(b, p.LocatorHash[:]...)
	b = appendU32(b, p.MaxCount)
	return b
}

func DecodeGetHeaders(b []byte) (GetHeadersPayload, error) {
	if len(b) != hash.Size+4 {
		return GetHeadersPayload{}, fmt.Errorf("wire: getheaders: bad length")
	}
	var p GetHeadersPayload
	copy(p.LocatorHash[:], b[:hash.Size])
	p.MaxCount, _ = readU32(b, hash.Size)
	return p, nil
}

// GetSlicesPayload requests the full slice bodies for a bounded batch of
// hashes, spec.md §4.9 ("bounded to ≤500 slices per request").
type GetSlicesPayload struct {
	Hashes []hash.Digest
}

func EncodeGetSlices(p GetSlicesPayload) ([]byte, error) {
	if len(p.Hashes) > config.SyncMaxSlicesPerRequest {
		return nil, fmt.Errorf("wire: getslices: too many hashes")
	}
	b := make([]byte, 0, 4+len(p.Hashes)*hash.Size)
	b = appendU32(b, uint32(len(p.Hashes)))
	for _, h := range p.Hashes {
		b = append(b, h[:]...)
	}
	return b, nil
}

func DecodeGetSlices(b []byte) (GetSlicesPayload, error) {
	if len(b) < 4 {
		return GetSlicesPayload{}, fmt.Errorf("wire: getslices: truncated")
	}
	count, off := readU32(b, 0)
	if count > config.SyncMaxSlicesPerRequest {
		return GetSlicesPayload{}, fmt.Errorf("wire: getslices: count exceeds SyncMaxSlicesPerRequest")
	}
	if len(b) != off+int(count)*hash.Size {
		return GetSlicesPayload{}, fmt.Errorf("wire: getslices: length mismatch")
	}
	out := make([]hash.Digest, count)
	for i := range out {
		copy(out[i][:], b[off:off+hash.Size])
		off += hash.Size
	}
	return GetSlicesPayload{Hashes: out}, nil
}

// PingPayload/PongPayload carry a nonce for liveness/latency checks.
type PingPayload struct{ Nonce uint64 }
type PongPayload struct{ Nonce uint64 }

func EncodePing(p PingPayload) []byte { return appendU64(nil, p.Nonce) }
func DecodePing(b []byte) (PingPayload, error) {
	if len(b) != 8 {
		return PingPayload{}, fmt.Errorf("wire: ping: bad length")
	}
	n, _ := readU64(b, 0)
	return PingPayload{Nonce: n}, nil
}

func EncodePong(p PongPayload) []byte { return appendU64(nil, p.Nonce) }
func DecodePong(b []byte) (PongPayload, error) {
	if len(b) != 8 {
		return PongPayload{}, fmt.Errorf("wire: pong: bad length")
	}
	n, _ := readU64(b, 0)
	return PongPayload{Nonce: n}, nil
}

// RejectCode mirrors the teacher enrichment source's reject taxonomy
// (rubin-protocol's p2p.RejectInvalid et al.), trimmed to what this core
// actually emits.
type RejectCode uint8

const (
	RejectMalformed RejectCode = iota
	RejectInvalidPayload
	RejectObsoleteVersion
	RejectDuplicate
	RejectRateLimited
)

type RejectPayload struct {
	Rejected Command
	Code     RejectCode
	Reason   string
}

func EncodeReject(p RejectPayload) ([]byte, error) {
	if len(p.Reason) > 256 {
		return nil, fmt.Errorf("wire: reject: reason too long")
	}
	b := make([]byte, 0, 1+1+2+len(p.Reason))
	b = append(b, byte(p.Rejected), byte(p.Code))
	b = appendU16(b, uint16(len(p.Reason)))
	b = append(b, p.Reason...)
	return b, nil
}

func DecodeReject(b []byte) (RejectPayload, error) {
	if len(b) < 4 {
		return RejectPayload{}, fmt.Errorf("wire: reject: truncated")
	}
	p := RejectPayload{Rejected: Command(b[0]), Code: RejectCode(b[1])}
	n, off := readU16(b, 2)
	if len(b) != off+int(n) {
		return RejectPayload{}, fmt.Errorf("wire: reject: length mismatch")
	}
	p.Reason = string(b[off:])
	return p, nil
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func readU16(b []byte, off int) (uint16, int) {
	return binary.BigEndian.Uint16(b[off : off+2]), off + 2
}

func readU32(b []byte, off int) (uint32, int) {
	return binary.BigEndian.Uint32(b[off : off+4]), off + 4
}

func readU64(b []byte, off int) (uint64, int) {
	return binary.BigEndian.Uint64(b[off : off+8]), off + 8
}
