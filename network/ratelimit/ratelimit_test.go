package ratelimit

import (
	"testing"

	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/network/wire"
)

func TestPeerLimiterExhaustsAndRefillsWithinBurst(t *testing.T) {
	pl := NewPeerLimiter()
	// AuthChallenge has the smallest burst (5): must allow exactly that
	// many immediately, then reject.
	for i := 0; i < 5; i++ {
		if !pl.Allow(wire.CmdAuthChallenge) {
			t.Fatalf("expected token %d to be allowed within burst", i)
		}
	}
	if pl.Allow(wire.CmdAuthChallenge) {
		t.Fatalf("expected the 6th immediate AuthChallenge to be rate-limited")
	}
}

func TestPeerLimiterUnmanagedCommandAlwaysAllowed(t *testing.T) {
	pl := NewPeerLimiter()
	for i := 0; i < 100; i++ {
		if !pl.Allow(wire.CmdSlice) {
			t.Fatalf("expected unmanaged command to always be allowed")
		}
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(wire.CmdAddr) {
		t.Fatalf("expected CmdAddr to be rate-limited")
	}
	if IsRateLimited(wire.CmdSlice) {
		t.Fatalf("expected CmdSlice to not be individually rate-limited")
	}
}

func TestNetgroupLimiterIsolatesByGroup(t *testing.T) {
	nl := NewNetgroupLimiter()
	for i := 0; i < config.NetgroupInnerBurst; i++ {
		if !nl.Allow("1.2.0.0/16") {
			t.Fatalf("expected token %d to be allowed within inner burst", i)
		}
	}
	if nl.Allow("1.2.0.0/16") {
		t.Fatalf("expected the exhausted netgroup to be rate-limited")
	}
	// A distinct netgroup has its own independent buckets.
	if !nl.Allow("9.9.0.0/16") {
		t.Fatalf("expected a distinct netgroup to be unaffected")
	}
}
