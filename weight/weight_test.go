package weight

import (
	"math"
	"testing"

	"github.com/luxfi/ids"
)

func nid(b byte) ids.NodeID {
	var arr [20]byte
	arr[0] = b
	return ids.NodeID(arr)
}

func TestTimeSaturatesAt180Days(t *testing.T) {
	if v := Time(180 * 24 * 60 * 60); v != 1.0 {
		t.Fatalf("expected saturation at 180 days, got %v", v)
	}
	if v := Time(90 * 24 * 60 * 60); math.Abs(v-0.5) > 1e-9 {
		t.Fatalf("expected 0.5 at 90 days, got %v", v)
	}
	if v := Time(360 * 24 * 60 * 60); v != 1.0 {
		t.Fatalf("expected clamp at double saturation, got %v", v)
	}
}

func TestIntegrityPenaltiesAndDecay(t *testing.T) {
	score := Integrity([]InfractionKind{InvalidSlice, Spam}, 0)
	want := 1.0 - infractionInvalidSlice - infractionSpam
	if math.Abs(score-want) > 1e-9 {
		t.Fatalf("got %v want %v", score, want)
	}
	decayed := Integrity([]InfractionKind{InvalidSlice}, 100)
	if decayed != 1.0 {
		t.Fatalf("expected decay to cap at 1.0, got %v", decayed)
	}
}

func TestIntegrityEquivocationZeroesOut(t *testing.T) {
	score := Integrity([]InfractionKind{Equivocation}, 0)
	if score != 0 {
		t.Fatalf("expected equivocation to zero integrity, got %v", score)
	}
}

func TestStorageZeroTotalIsZero(t *testing.T) {
	if Storage(5, 0) != 0 {
		t.Fatalf("expected zero storage score when no canonical slices exist")
	}
}

func TestAggregateQuarantineIsZero(t *testing.T) {
	d := Dimensions{Time: 1, Integrity: 1, Storage: 1, Geography: 1, Handshake: 1, Quarantined: true}
	if d.Aggregate() != 0 {
		t.Fatalf("expected quarantined node to have zero aggregate weight")
	}
}

func TestAggregateWeightsSumToOneAtFullScore(t *testing.T) {
	d := Dimensions{Time: 1, Integrity: 1, Storage: 1, Geography: 1, Handshake: 1}
	if math.Abs(d.Aggregate()-1.0) > 1e-9 {
		t.Fatalf("expected perfect dimensions to aggregate to 1.0, got %v", d.Aggregate())
	}
}

func TestClusterPenaltyBoundaries(t *testing.T) {
	if ClusterPenalty(0.5) != 1.0 {
		t.Fatalf("expected no penalty below threshold")
	}
	if ClusterPenalty(0.7) != 1.0 {
		t.Fatalf("expected penalty 1.0 exactly at threshold")
	}
	if math.Abs(ClusterPenalty(1.0)-0.5) > 1e-9 {
		t.Fatalf("expected penalty 0.5 at full correlation")
	}
	mid := ClusterPenalty(0.85)
	if mid <= 0.5 || mid >= 1.0 {
		t.Fatalf("expected interpolated penalty strictly between bounds, got %v", mid)
	}
}

func TestGlobalClusterCapScalesOverweightCluster(t *testing.T) {
	a, b, c := nid(1), nid(2), nid(3)
	weights := map[ids.NodeID]float64{a: 40, b: 10, c: 50}
	clusterOf := map[ids.NodeID]ids.NodeID{a: a, b: a, c: c}
	scaled := GlobalClusterCap(weights, clusterOf)
	totalClusterA := scaled[a] + scaled[b]
	total := scaled[a] + scaled[b] + scaled[c]
	if totalClusterA/total > clusterWeightCap+1e-9 {
		t.Fatalf("expected cluster a+b to be capped at 33%%, got %v", totalClusterA/total)
	}
}

func TestEntropyDecayFloor(t *testing.T) {
	f := EntropyDecayFactor(0.2, 1_000_000)
	if f != 0.1 {
		t.Fatalf("expected decay to floor at 0.1, got %v", f)
	}
	if EntropyDecayFactor(0.9, 1_000_000) != 1.0 {
		t.Fatalf("expected no decay above entropy threshold")
	}
}
