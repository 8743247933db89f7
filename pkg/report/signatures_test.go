package report

import (
	"strings"
	"testing"
)

func sig(fields map[string]interface{}) RawReport {
	return RawReport(fields)
}

func TestSignaturesSkipDenylisted(t *testing.T) {
	n := NewNormalizer(nil, nil)
	parent := n.processSignatures([]RawReport{
		sig(map[string]interface{}{"name": "network_http", "description": "performs http"}),
		sig(map[string]interface{}{"name": "has_pdb", "description": "has a pdb path"}),
	})
	if parent != nil {
		t.Fatalf("denylisted-only signature list must produce nothing, got %+v", parent)
	}
}

func TestSignaturesKnownHeuristic(t *testing.T) {
	n := NewNormalizer(nil, nil)
	parent := n.processSignatures([]RawReport{
		sig(map[string]interface{}{
			"name":        "dropper",
			"description": "Drops a binary and executes it",
			"categories":  []interface{}{"dropper"},
			"families":    []interface{}{"badfam"},
		}),
	})
	if parent == nil || len(parent.Sub) != 1 {
		t.Fatalf("expected one signature sub-finding, got %+v", parent)
	}
	sub := parent.Sub[0]
	if sub.Title != "Signature: dropper" {
		t.Errorf("sub title = %q", sub.Title)
	}
	if sub.Heuristic != 9 {
		t.Errorf("heuristic = %d, want 9", sub.Heuristic)
	}

	var sawCategory, sawFamily bool
	for _, tag := range parent.Tags {
		if tag.Key == TagSignatureCategory && tag.Value == "dropper" {
			sawCategory = true
		}
		if tag.Key == TagSignatureCategory && tag.Value == "badfam" {
			sawFamily = true
		}
	}
	if !sawCategory || !sawFamily {
		t.Errorf("category/family tags missing: %v", parent.Tags)
	}
}

func TestSignaturesUnknownGetsDefaultHeuristic(t *testing.T) {
	n := NewNormalizer(nil, nil)
	parent := n.processSignatures([]RawReport{
		sig(map[string]interface{}{"name": "never_heard_of_it", "description": "?"}),
	})
	if parent == nil || len(parent.Sub) != 1 {
		t.Fatalf("unknown signature must still be emitted, got %+v", parent)
	}
	if parent.Sub[0].Heuristic != unknownSignatureHeuristic {
		t.Errorf("heuristic = %d, want %d", parent.Sub[0].Heuristic, unknownSignatureHeuristic)
	}
}

func TestSignaturesIOCMarks(t *testing.T) {
	n := NewNormalizer(nil, nil)
	parent := n.processSignatures([]RawReport{
		sig(map[string]interface{}{
			"name":        "persistence_autorun",
			"description": "Installs itself for autorun",
			"marks": []interface{}{
				map[string]interface{}{"type": "ioc", "category": "file", "ioc": "C:\\evil.exe"},
				map[string]interface{}{"type": "ioc", "category": "irrelevant", "ioc": "dropme"},
				map[string]interface{}{"type": "generic", "reg_key": "HKCU\\Run\\x", "reg_value": "C:\\evil.exe"},
			},
		}),
	})
	if parent == nil {
		t.Fatal("expected a signatures finding")
	}
	body := strings.Join(parent.Lines, "\n")
	if !strings.Contains(body, "IOC: C:\\evil.exe") {
		t.Errorf("file IOC missing from %q", body)
	}
	if !strings.Contains(body, "IOC: HKCU\\Run\\x = C:\\evil.exe") {
		t.Errorf("registry IOC missing from %q", body)
	}
	if strings.Contains(body, "dropme") {
		t.Errorf("unrecognized IOC category leaked into %q", body)
	}
}

func TestSignaturesActorTag(t *testing.T) {
	n := NewNormalizer(nil, nil)
	parent := n.processSignatures([]RawReport{
		sig(map[string]interface{}{"name": "dropper", "description": "x", "actor": "TA505"}),
	})
	if parent == nil {
		t.Fatal("expected a signatures finding")
	}
	found := false
	for _, tag := range parent.Tags {
		if tag.Key == TagActor && tag.Value == "TA505" {
			found = true
		}
	}
	if !found {
		t.Errorf("actor tag missing: %v", parent.Tags)
	}
}
