package wire

import (
	"bytes"
	"testing"

	"github.com/montana-acp/core/crypto/hash"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello slice")
	if err := WriteMessage(&buf, CmdPing, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Command != CmdPing {
		t.Fatalf("expected CmdPing, got %v", msg.Command)
	}
	if !bytes.Equal(msg.Payload, payload) {
		t.Fatalf("expected payload %q, got %q", payload, msg.Payload)
	}
}

func TestWriteMessageRejectsOversizeFrame(t *testing.T) {
	var buf bytes.Buffer
	oversize := make([]byte, maxFrameBytes+1)
	if err := WriteMessage(&buf, CmdTx, oversize); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written on rejection, got %d bytes", buf.Len())
	}
}

// fakeOversizeReader hands back a length prefix declaring more bytes than
// maxFrameBytes allows, without ever producing that many bytes, so a
// pre-allocation read would hang or OOM if ReadMessage didn't validate the
// length before allocating.
type fakeOversizeReader struct{ read bool }

func (f *fakeOversizeReader) Read(p []byte) (int, error) {
	if f.read {
		return 0, bytes.ErrTooLarge
	}
	f.read = true
	// Declare a frame far larger than maxFrameBytes.
	p[0] = 0xFF
	p[1] = 0xFF
	p[2] = 0xFF
	p[3] = 0xFF
	return 4, nil
}

func TestReadMessageRejectsOversizeLengthBeforeAllocating(t *testing.T) {
	r := &fakeOversizeReader{}
	_, err := ReadMessage(r)
	if err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadMessageRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	_, err := ReadMessage(&buf)
	if err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge for a zero-length frame, got %v", err)
	}
}

func TestAllowedPreHandshakeSet(t *testing.T) {
	allowed := []Command{CmdVersion, CmdVerack, CmdAuthChallenge, CmdAuthResponse, CmdReject}
	for _, c := range allowed {
		if !AllowedPreHandshake(c) {
			t.Fatalf("expected %v to be allowed pre-handshake", c)
		}
	}
	disallowed := []Command{CmdGetAddr, CmdAddr, CmdInv, CmdGetData, CmdNotFound,
		CmdGetHeaders, CmdHeaders, CmdGetSlices, CmdSlice, CmdTx, CmdPresence, CmdPing, CmdPong}
	for _, c := range disallowed {
		if AllowedPreHandshake(c) {
			t.Fatalf("expected %v to be disallowed pre-handshake", c)
		}
	}
}

func TestVersionCodecRoundTrip(t *testing.T) {
	v := VersionPayload{
		ProtocolVersion: 1,
		Network:         0xACC0,
		Nonce:           12345,
		Timestamp:       1700000000,
		TipHeight:       42,
		TipCumulativeHi: 0,
		TipCumulativeLo: 9999,
		UserAgent:       "montana-node/0.1",
	}
	b, err := EncodeVersion(v)
	if err != nil {
		t.Fatalf("EncodeVersion: %v", err)
	}
	got, err := DecodeVersion(b)
	if err != nil {
		t.Fatalf("DecodeVersion: %v", err)
	}
	if got != v {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, v)
	}
}

func TestAddrCodecRoundTripAndCap(t *testing.T) {
	addrs := []NetAddr{{Timestamp: 1, Port: 9999}, {Timestamp: 2, Port: 8000}}
	b, err := EncodeAddr(addrs)
	if err != nil {
		t.Fatalf("EncodeAddr: %v", err)
	}
	got, err := DecodeAddr(b)
	if err != nil {
		t.Fatalf("DecodeAddr: %v", err)
	}
	if len(got) != len(addrs) {
		t.Fatalf("expected %d addrs, got %d", len(addrs), len(got))
	}

	tooMany := make([]NetAddr, 1001)
	if _, err := EncodeAddr(tooMany); err == nil {
		t.Fatalf("expected an error encoding more than MaxAddrCount addrs")
	}
}

func TestInvCodecRoundTrip(t *testing.T) {
	vecs := []InvVector{
		{Kind: InvSlice, Hash: hash.Sum([]byte("a"))},
		{Kind: InvTx, Hash: hash.Sum([]byte("b"))},
	}
	b, err := EncodeInv(vecs)
	if err != nil {
		t.Fatalf("EncodeInv: %v", err)
	}
	got, err := DecodeInv(b)
	if err != nil {
		t.Fatalf("DecodeInv: %v", err)
	}
	if len(got) != 2 || got[0].Kind != InvSlice || got[1].Kind != InvTx {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}

func TestGetSlicesCodecRejectsOverCap(t *testing.T) {
	hashes := make([]hash.Digest, 501)
	if _, err := EncodeGetSlices(GetSlicesPayload{Hashes: hashes}); err == nil {
		t.Fatalf("expected an error encoding more than 500 hashes")
	}
}

func TestRejectCodecRoundTrip(t *testing.T) {
	p := RejectPayload{Rejected: CmdSlice, Code: RejectInvalidPayload, Reason: "bad vdf"}
	b, err := EncodeReject(p)
	if err != nil {
		t.Fatalf("EncodeReject: %v", err)
	}
	got, err := DecodeReject(b)
	if err != nil {
		t.Fatalf("DecodeReject: %v", err)
	}
	if got != p {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}
