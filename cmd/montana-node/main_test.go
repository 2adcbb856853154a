package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/montana-acp/core/crypto/pq"
)

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(append([]string{"montana-node"}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestInitCreatesDataDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	code, out, errOut := runCLI(t, "init", "--data-dir", dir)
	if code != exitOK {
		t.Fatalf("init: code=%d stderr=%q", code, errOut)
	}
	if !strings.Contains(out, dir) {
		t.Fatalf("expected stdout to mention %q, got %q", dir, out)
	}
	if _, err := os.Stat(filepath.Join(dir, "montana.db")); err != nil {
		t.Fatalf("expected montana.db to exist: %v", err)
	}
}

func TestNodeRejectsUnknownNetwork(t *testing.T) {
	dir := t.TempDir()
	code, _, errOut := runCLI(t, "node", "--data-dir", dir, "--network", "devnet")
	if code != exitConfigError {
		t.Fatalf("expected exitConfigError, got %d (stderr=%q)", code, errOut)
	}
}

func TestKeygenThenSignThenVerifyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if code, _, errOut := runCLI(t, "keygen", "--data-dir", dir); code != exitOK {
		t.Fatalf("keygen: code=%d stderr=%q", code, errOut)
	}

	msgPath := filepath.Join(dir, "msg.txt")
	if err := os.WriteFile(msgPath, []byte("joined the montana network"), 0o600); err != nil {
		t.Fatalf("write message: %v", err)
	}

	code, sigOut, errOut := runCLI(t, "sign", "--data-dir", dir, msgPath)
	if code != exitOK {
		t.Fatalf("sign: code=%d stderr=%q", code, errOut)
	}
	sigHex := strings.TrimSpace(sigOut)
	if _, err := hex.DecodeString(sigHex); err != nil {
		t.Fatalf("sign produced non-hex output %q: %v", sigHex, err)
	}

	code, verifyOut, errOut := runCLI(t, "verify", "--data-dir", dir, msgPath, sigHex)
	if code != exitOK {
		t.Fatalf("verify: code=%d stderr=%q", code, errOut)
	}
	if !strings.Contains(verifyOut, "verifies") {
		t.Fatalf("unexpected verify output: %q", verifyOut)
	}

	// Tampering with the signature must fail verification with the
	// crypto-unavailable exit code, never a silent success.
	tampered := sigHex[:len(sigHex)-2] + "00"
	if tampered == sigHex {
		tampered = sigHex[:len(sigHex)-2] + "11"
	}
	code, _, _ = runCLI(t, "verify", "--data-dir", dir, msgPath, tampered)
	if code != exitCryptoUnavailable {
		t.Fatalf("expected exitCryptoUnavailable for a tampered signature, got %d", code)
	}
}

func TestSignFailsWithoutKeygen(t *testing.T) {
	dir := t.TempDir()
	msgPath := filepath.Join(dir, "msg.txt")
	if err := os.WriteFile(msgPath, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write message: %v", err)
	}
	code, _, errOut := runCLI(t, "sign", "--data-dir", dir, msgPath)
	if code != exitConfigError {
		t.Fatalf("expected exitConfigError, got %d (stderr=%q)", code, errOut)
	}
}

func TestStatusOnFreshDataDirReportsSyncing(t *testing.T) {
	dir := t.TempDir()
	code, out, errOut := runCLI(t, "status", "--data-dir", dir)
	if code != exitOK {
		t.Fatalf("status: code=%d stderr=%q", code, errOut)
	}
	if !strings.Contains(out, "syncing (0/0)") {
		t.Fatalf("expected a fresh store to report syncing(0/0), got %q", out)
	}
}

func TestBanThenUnbanLifecycle(t *testing.T) {
	dir := t.TempDir()
	addr := "203.0.113.5:19333"

	if code, out, errOut := runCLI(t, "ban", "--data-dir", dir, addr); code != exitOK {
		t.Fatalf("ban: code=%d out=%q stderr=%q", code, out, errOut)
	}
	if code, out, errOut := runCLI(t, "unban", "--data-dir", dir, addr); code != exitOK {
		t.Fatalf("unban: code=%d out=%q stderr=%q", code, out, errOut)
	}
}

func TestBanRequiresAddrArgument(t *testing.T) {
	dir := t.TempDir()
	code, _, errOut := runCLI(t, "ban", "--data-dir", dir)
	if code != exitConfigError {
		t.Fatalf("expected exitConfigError, got %d (stderr=%q)", code, errOut)
	}
}

func TestImportAnchorsValidatesPublicKeys(t *testing.T) {
	dir := t.TempDir()
	pk, _, err := pq.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	entries := []anchorEntry{{
		Address:      "198.51.100.10:19333",
		PublicKeyHex: hex.EncodeToString(pkBytes),
		FriendlyName: "anchor-1",
	}}
	raw, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	anchorsPath := filepath.Join(dir, "anchors.json")
	if err := os.WriteFile(anchorsPath, raw, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	code, out, errOut := runCLI(t, "import-anchors", anchorsPath)
	if code != exitOK {
		t.Fatalf("import-anchors: code=%d stderr=%q", code, errOut)
	}
	if !strings.Contains(out, "loaded 1") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestImportAnchorsRejectsMalformedPublicKey(t *testing.T) {
	dir := t.TempDir()
	entries := []anchorEntry{{Address: "198.51.100.10:19333", PublicKeyHex: "deadbeef"}}
	raw, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	anchorsPath := filepath.Join(dir, "anchors.json")
	if err := os.WriteFile(anchorsPath, raw, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	code, _, errOut := runCLI(t, "import-anchors", anchorsPath)
	if code != exitCryptoUnavailable {
		t.Fatalf("expected exitCryptoUnavailable, got %d (stderr=%q)", code, errOut)
	}
}

func TestImportAnchorsRequiresArgument(t *testing.T) {
	code, _, errOut := runCLI(t, "import-anchors")
	if code != exitConfigError {
		t.Fatalf("expected exitConfigError, got %d (stderr=%q)", code, errOut)
	}
}
