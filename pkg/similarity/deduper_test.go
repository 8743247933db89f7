package similarity

import (
	"bytes"
	"testing"
)

// pseudoBlob produces deterministic pseudo-random bytes so tests do not
// depend on a seed source.
func pseudoBlob(seed uint32, n int) []byte {
	out := make([]byte, n)
	state := seed
	for i := range out {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		out[i] = byte(state)
	}
	return out
}

func TestHashAndCompareIdentical(t *testing.T) {
	data := pseudoBlob(1, 4096)
	h1, err := Hash(data)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(append([]byte(nil), data...))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	score, err := Compare(h1, h2)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if score != 100 {
		t.Errorf("identical blobs scored %d, want 100", score)
	}
}

func TestCompareUnrelated(t *testing.T) {
	h1, err := Hash(pseudoBlob(1, 4096))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(pseudoBlob(999, 4096))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	score, err := Compare(h1, h2)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if score >= DefaultThreshold {
		t.Errorf("unrelated blobs scored %d, want below %d", score, DefaultThreshold)
	}
}

func TestDeduperFlagsNearDuplicate(t *testing.T) {
	d := NewDeduper(DefaultThreshold)

	original := pseudoBlob(7, 8192)
	if dup, err := d.IsDuplicate(original); err != nil || dup {
		t.Fatalf("first blob must be accepted, got dup=%v err=%v", dup, err)
	}

	// Same blob with a short stretch changed: similar above any sane
	// threshold.
	mutated := append([]byte(nil), original...)
	copy(mutated[4000:], bytes.Repeat([]byte{0xAA}, 16))
	dup, err := d.IsDuplicate(mutated)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Error("near-duplicate blob was not flagged")
	}
	if d.Seen() != 1 {
		t.Errorf("duplicates must not be recorded as accepted, Seen()=%d", d.Seen())
	}
}

func TestDeduperAcceptsUnrelated(t *testing.T) {
	d := NewDeduper(DefaultThreshold)
	blobs := [][]byte{pseudoBlob(1, 4096), pseudoBlob(2, 4096), pseudoBlob(3, 4096)}
	for i, b := range blobs {
		dup, err := d.IsDuplicate(b)
		if err != nil {
			t.Fatalf("blob %d: %v", i, err)
		}
		if dup {
			t.Errorf("unrelated blob %d flagged as duplicate", i)
		}
	}
	if d.Seen() != len(blobs) {
		t.Errorf("Seen() = %d, want %d", d.Seen(), len(blobs))
	}
}

func TestDeduperExactDuplicateAtExtremeThreshold(t *testing.T) {
	// Even at the strictest threshold an exact copy is a duplicate.
	d := NewDeduper(100)
	data := pseudoBlob(42, 4096)
	if dup, _ := d.IsDuplicate(data); dup {
		t.Fatal("first blob flagged as duplicate")
	}
	dup, err := d.IsDuplicate(append([]byte(nil), data...))
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Error("exact copy not flagged at threshold 100")
	}
}

func TestNewDeduperThresholdFallback(t *testing.T) {
	for _, bad := range []int{-1, 0, 101} {
		if got := NewDeduper(bad).Threshold(); got != DefaultThreshold {
			t.Errorf("NewDeduper(%d).Threshold() = %d, want %d", bad, got, DefaultThreshold)
		}
	}
	if got := NewDeduper(60).Threshold(); got != 60 {
		t.Errorf("NewDeduper(60).Threshold() = %d, want 60", got)
	}
}
