package report

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"testing"
)

func parse(t *testing.T, data string) RawReport {
	t.Helper()
	raw, err := ParseRaw([]byte(data))
	if err != nil {
		t.Fatalf("ParseRaw: %v", err)
	}
	return raw
}

func TestNormalizeEmptyReport(t *testing.T) {
	n := NewNormalizer(nil, nil)
	res := n.Normalize(parse(t, `{}`), nil)
	if len(res.Findings) != 0 {
		t.Fatalf("empty report produced findings: %+v", res.Findings)
	}
	if !res.Executed {
		t.Error("empty report must not flip the execution verdict")
	}
}

func TestNormalizeDebugErrorsOnly(t *testing.T) {
	raw := parse(t, `{"debug": {"errors": ["The analysis hit the critical timeout", "monitor crashed"]}}`)
	res := NewNormalizer(nil, nil).Normalize(raw, nil)

	if len(res.Findings) != 1 {
		t.Fatalf("expected exactly the error finding, got %d findings", len(res.Findings))
	}
	f := res.Findings[0]
	if f.Title != "Analysis Errors" || f.Kind != KindError {
		t.Errorf("unexpected finding: %+v", f)
	}
	if len(f.Lines) != 2 {
		t.Errorf("expected 2 error lines, got %v", f.Lines)
	}
	if !res.Executed {
		t.Error("debug errors alone must not mark the job as not executed")
	}
}

func TestNormalizeRegistryWriteAndDomainFlow(t *testing.T) {
	raw := parse(t, `{
		"behavior": {
			"summary": {
				"regkey_written": ["HKEY_CURRENT_USER\\Software\\Run\\evil"]
			}
		},
		"network": {
			"http": [{"host": "evil.example", "port": 80, "uri": "http://evil.example/stage2", "method": "GET"}],
			"domains": [{"domain": "evil.example", "ip": "6.6.6.6"}]
		}
	}`)

	res := NewNormalizer(nil, nil).Normalize(raw, &Options{FileExt: ".docx"})

	reg := FindByTitle(res.Findings, "Registry Keys Written")
	if reg == nil {
		t.Fatal("Registry Keys Written finding missing")
	}
	if len(reg.Lines) != 1 {
		t.Errorf("expected 1 registry line, got %v", reg.Lines)
	}

	network := FindByTitle(res.Findings, "Network Activity")
	if network == nil {
		t.Fatal("Network Activity finding missing")
	}
	var domainSec *Finding
	for _, sub := range network.Sub {
		if sub.Title == "Domain Flows" {
			domainSec = sub
		}
	}
	if domainSec == nil {
		t.Fatal("Domain Flows sub-finding missing")
	}
	tagged := false
	for _, tag := range network.Tags {
		if tag.Key == TagNetworkDomain && tag.Value == "evil.example" {
			tagged = true
		}
	}
	if !tagged {
		t.Errorf("network.domain tag missing: %v", network.Tags)
	}
	if !res.HasNetwork {
		t.Error("HasNetwork must be set when a network finding is emitted")
	}
}

func TestBenignCLSIDSetSuppressesNetworkAndSignatures(t *testing.T) {
	// Two registry keys whose embedded GUIDs resolve to known COM classes.
	guids := []string{
		"72C24DD5-D70A-438B-8A42-98424B88AFB8", // WScript.Shell
		"0D43FE01-F093-11CF-8940-00A0C9054228", // Scripting.FileSystemObject
	}
	sort.Strings(guids)
	sum := sha1.Sum([]byte(strings.Join(guids, ",")))

	wl := DefaultWhitelist()
	wl.BenignCLSIDSets[hex.EncodeToString(sum[:])] = true

	raw := parse(t, `{
		"behavior": {
			"summary": {
				"keys": [
					"HKCR\\CLSID\\{72C24DD5-D70A-438B-8A42-98424B88AFB8}",
					"HKCR\\CLSID\\{0D43FE01-F093-11CF-8940-00A0C9054228}"
				]
			}
		},
		"network": {
			"hosts": ["6.6.6.6"],
			"tcp": [{"dst": "6.6.6.6", "dport": 80}]
		},
		"signatures": [{"name": "dropper", "description": "drops files"}]
	}`)

	res := NewNormalizer(nil, wl).Normalize(raw, &Options{FileExt: ".docx"})

	if res.Executed {
		t.Fatal("benign CLSID set must flip the execution verdict")
	}
	if FindByTitle(res.Findings, "Network Activity") != nil {
		t.Error("network finding emitted despite suppression")
	}
	if FindByTitle(res.Findings, "Signatures") != nil {
		t.Error("signature finding emitted despite suppression")
	}
	notes := FindByTitle(res.Findings, "Notes")
	if notes == nil {
		t.Fatal("Notes finding missing")
	}
	if !strings.Contains(notes.Lines[0], ".docx") {
		t.Errorf("note does not name the extension: %q", notes.Lines[0])
	}
	if res.HasNetwork {
		t.Error("HasNetwork must stay false when network reporting is suppressed")
	}
}

func TestAnalysisInfoFinding(t *testing.T) {
	raw := parse(t, `{
		"info": {
			"version": "2.0.7",
			"id": 1337,
			"duration": 145,
			"started": 1500000000,
			"ended": 1500000145,
			"machine": {"name": "win7-02"}
		}
	}`)
	res := NewNormalizer(nil, nil).Normalize(raw, nil)

	info := FindByTitle(res.Findings, "Analysis Information")
	if info == nil {
		t.Fatal("Analysis Information finding missing")
	}
	kvs := make(map[string]string, len(info.KVs))
	for _, kv := range info.KVs {
		kvs[kv.Key] = kv.Value
	}
	if kvs["Sandbox Version"] != "2.0.7" {
		t.Errorf("version = %q", kvs["Sandbox Version"])
	}
	if kvs["Analysis ID"] != "1337" {
		t.Errorf("id = %q", kvs["Analysis ID"])
	}
	if kvs["Start Time"] != "2017-07-14 02:40:00" {
		t.Errorf("start time = %q", kvs["Start Time"])
	}
}

func TestNormalizeOutputIsJSONRenderable(t *testing.T) {
	raw := parse(t, `{
		"behavior": {"summary": {"mutex": ["Global\\evil_mutex"]}},
		"network": {"hosts": ["6.6.6.6"]}
	}`)
	res := NewNormalizer(nil, nil).Normalize(raw, nil)
	if _, err := json.Marshal(res.Findings); err != nil {
		t.Fatalf("findings must marshal cleanly: %v", err)
	}
}
