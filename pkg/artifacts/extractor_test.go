package artifacts

import (
	"archive/tar"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/triagehq/detonator/pkg/core"
	"github.com/triagehq/detonator/pkg/report"
	"github.com/triagehq/detonator/pkg/similarity"
)

type member struct {
	name string
	data []byte
}

func makeBundle(t *testing.T, members []member) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, m := range members {
		if err := tw.WriteHeader(&tar.Header{
			Name:     m.name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(m.data)),
		}); err != nil {
			t.Fatalf("WriteHeader(%s): %v", m.name, err)
		}
		if _, err := tw.Write(m.data); err != nil {
			t.Fatalf("Write(%s): %v", m.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}
	return buf.Bytes()
}

func testRequest(t *testing.T) *core.Request {
	t.Helper()
	return &core.Request{
		WorkingDir:  t.TempDir(),
		FileName:    "sample.exe",
		MaxFileSize: 1 << 20,
	}
}

func sinkNames(entries []core.SinkEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestProcessBundleRouting(t *testing.T) {
	bundle := makeBundle(t, []member{
		{"supplementary/screenlog.txt", []byte("log")},
		{"shots/0001.jpg", []byte("jpeg")},
		{"reports/report.json", []byte(`{}`)},
		{"memory/1234.dmp", []byte("dump-bytes")},
		{"memory/loader.py", []byte("print()")},
		{"buffer/buf_0", []byte("buffer")},
		{"extracted/payload.exe", []byte("MZ")},
		{"dump.pcap", []byte("ignored here")},
	})

	sink := core.NewDirSink(1<<20, 0)
	e := NewExtractor(nil, nil)
	findings, err := e.ProcessBundle(bundle, testRequest(t), sink)
	if err != nil {
		t.Fatalf("ProcessBundle: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("no oversize finding expected, got %+v", findings)
	}

	wantExtracted := []string{"1234.dmp", "buf_0", "payload.exe"}
	got := sinkNames(sink.Extracted)
	if len(got) != len(wantExtracted) {
		t.Fatalf("extracted = %v, want %v", got, wantExtracted)
	}
	for i, name := range wantExtracted {
		if got[i] != name {
			t.Errorf("extracted[%d] = %q, want %q", i, got[i], name)
		}
	}

	wantSupp := []string{"screenlog.txt", "0001.jpg", "report.json", "loader.py"}
	gotSupp := sinkNames(sink.Supplementary)
	if len(gotSupp) != len(wantSupp) {
		t.Fatalf("supplementary = %v, want %v", gotSupp, wantSupp)
	}
}

func TestProcessBundleOversizeFinding(t *testing.T) {
	bundle := makeBundle(t, []member{
		{"memory/big.dmp", bytes.Repeat([]byte{0}, 2048)},
		{"memory/small.dmp", []byte("ok")},
	})

	sink := core.NewDirSink(1024, 0)
	req := testRequest(t)
	req.MaxFileSize = 1024
	findings, err := NewExtractor(nil, nil).ProcessBundle(bundle, req, sink)
	if err != nil {
		t.Fatalf("ProcessBundle: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected the oversize finding, got %+v", findings)
	}
	if !strings.Contains(findings[0].Lines[0], "big.dmp") || !strings.Contains(findings[0].Lines[0], "2048") {
		t.Errorf("oversize line = %q", findings[0].Lines[0])
	}
	if names := sinkNames(sink.Extracted); len(names) != 1 || names[0] != "small.dmp" {
		t.Errorf("extracted = %v", names)
	}
}

func TestProcessBundleMemberIsolation(t *testing.T) {
	bundle := makeBundle(t, []member{
		{"../escape.txt", []byte("traversal")},
		{"buffer/good", []byte("fine")},
	})
	sink := core.NewDirSink(1<<20, 0)
	if _, err := NewExtractor(nil, nil).ProcessBundle(bundle, testRequest(t), sink); err != nil {
		t.Fatalf("ProcessBundle: %v", err)
	}
	if names := sinkNames(sink.Extracted); len(names) != 1 || names[0] != "good" {
		t.Errorf("extracted = %v", names)
	}
}

func TestProcessBundleRejectsUnknownCompression(t *testing.T) {
	if _, err := NewExtractor(nil, nil).ProcessBundle([]byte("plain"), testRequest(t), core.NewDirSink(0, 0)); err == nil {
		t.Fatal("uncompressed payload accepted")
	}
}

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

func TestProcessDroppedFilters(t *testing.T) {
	submitted := []byte("the submitted sample")
	sum := md5.Sum(submitted)

	unique := pseudoBlob(1, 4096)
	nearDup := append([]byte(nil), unique...)
	copy(nearDup[2000:], bytes.Repeat([]byte{0xAA}, 8))

	bundle := makeBundle(t, []member{
		{"files/copy_of_sample.bin", submitted},            // exact hash of the submission
		{"files/8f00b204_info.txt", []byte("agent notes")}, // sidecar
		{"files/unique.bin", unique},
		{"files/neardup.bin", nearDup},
		{"shots/0001.jpg", []byte("not a dropped file")},
	})

	req := testRequest(t)
	req.MD5 = hex.EncodeToString(sum[:])

	sink := core.NewDirSink(1<<20, 0)
	dedup := similarity.NewDeduper(similarity.DefaultThreshold)
	findings, err := NewExtractor(nil, nil).ProcessDropped(bundle, req, dedup, sink)
	if err != nil {
		t.Fatalf("ProcessDropped: %v", err)
	}
	if names := sinkNames(sink.Extracted); len(names) != 1 || names[0] != "unique.bin" {
		t.Errorf("extracted = %v, want just unique.bin", names)
	}
	// The suppressed near-duplicate is called out so consumers know the
	// extraction set is incomplete.
	dedupFinding := report.FindByTitle(findings, "Deduplicated Dropped Files")
	if dedupFinding == nil {
		t.Fatalf("dedup finding missing, findings = %+v", findings)
	}
	if !dedupFinding.HasTag(report.TagFileBehavior) {
		t.Errorf("dedup finding lacks the %s tag: %+v", report.TagFileBehavior, dedupFinding)
	}
	if len(findings) != 1 {
		t.Errorf("unexpected extra findings: %+v", findings)
	}
}

func TestProcessDroppedDeepScanKeepsNearDuplicates(t *testing.T) {
	unique := pseudoBlob(1, 4096)
	nearDup := append([]byte(nil), unique...)
	copy(nearDup[2000:], bytes.Repeat([]byte{0xBB}, 8))

	bundle := makeBundle(t, []member{
		{"files/unique.bin", unique},
		{"files/neardup.bin", nearDup},
	})

	req := testRequest(t)
	req.DeepScan = true

	sink := core.NewDirSink(1<<20, 0)
	dedup := similarity.NewDeduper(similarity.DefaultThreshold)
	if _, err := NewExtractor(nil, nil).ProcessDropped(bundle, req, dedup, sink); err != nil {
		t.Fatalf("ProcessDropped: %v", err)
	}
	if names := sinkNames(sink.Extracted); len(names) != 2 {
		t.Errorf("deep scan must keep near-duplicates, extracted = %v", names)
	}
}

func TestProcessDroppedOversize(t *testing.T) {
	bundle := makeBundle(t, []member{
		{"files/huge.bin", bytes.Repeat([]byte{1}, 4096)},
	})
	req := testRequest(t)
	req.MaxFileSize = 1024

	sink := core.NewDirSink(1024, 0)
	findings, err := NewExtractor(nil, nil).ProcessDropped(bundle, req, similarity.NewDeduper(0), sink)
	if err != nil {
		t.Fatalf("ProcessDropped: %v", err)
	}
	if len(findings) != 1 || !strings.Contains(findings[0].Lines[0], "huge.bin") {
		t.Errorf("oversize finding = %+v", findings)
	}
	if len(sink.Extracted) != 0 {
		t.Errorf("extracted = %v", sinkNames(sink.Extracted))
	}
}
