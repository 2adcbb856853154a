package transport

import (
	"bytes"
	"io"
	"testing"
)

// pipeConn adapts a pair of io.Pipe ends into the io.ReadWriter RunInitiator
// and RunResponder expect, so the two sides of a handshake can run
// concurrently in one test process.
type pipeConn struct {
	r io.Reader
	w io.Writer
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return p.w.Write(b) }

func newPipePair() (*pipeConn, *pipeConn) {
	aR, bW := io.Pipe()
	bR, aW := io.Pipe()
	return &pipeConn{r: aR, w: aW}, &pipeConn{r: bR, w: bW}
}

func TestHandshakeProducesSymmetricSession(t *testing.T) {
	initStatic, err := GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("GenerateStaticKeypair (initiator): %v", err)
	}
	respStatic, err := GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("GenerateStaticKeypair (responder): %v", err)
	}

	initConn, respConn := newPipePair()

	type result struct {
		res *HandshakeResult
		err error
	}
	initCh := make(chan result, 1)
	respCh := make(chan result, 1)

	go func() {
		res, err := RunInitiator(initConn, initStatic)
		initCh <- result{res, err}
	}()
	go func() {
		res, err := RunResponder(respConn, respStatic)
		respCh <- result{res, err}
	}()

	initResult := <-initCh
	if initResult.err != nil {
		t.Fatalf("RunInitiator: %v", initResult.err)
	}
	respResult := <-respCh
	if respResult.err != nil {
		t.Fatalf("RunResponder: %v", respResult.err)
	}

	if !bytes.Equal(initResult.res.PeerStaticNoise, respStatic.Public) {
		t.Fatalf("initiator did not learn the responder's static public key")
	}
	if !bytes.Equal(respResult.res.PeerStaticNoise, initStatic.Public) {
		t.Fatalf("responder did not learn the initiator's static public key")
	}

	plaintext := []byte("hello across the hybrid session")
	ct, err := initResult.res.Session.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := respResult.res.Session.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("expected round-tripped plaintext %q, got %q", plaintext, pt)
	}
}

func TestEncryptRejectsOversizeChunk(t *testing.T) {
	s := &Session{}
	oversize := make([]byte, maxChunkPlaintext+1)
	if _, err := s.Encrypt(oversize); err == nil {
		t.Fatalf("expected an error encrypting an oversize chunk")
	}
}
