package assembler

import (
	"strings"
	"testing"
)

func TestSubmissionExt(t *testing.T) {
	tests := []struct {
		name     string
		fileType string
		fileName string
		want     string
	}{
		{"identified type wins", "executable/windows/pe32", "sample.txt", ".exe"},
		{"dll type", "executable/windows/dll64", "library", ".dll"},
		{"fallback to name", "something/odd", "macro.docm", ".docm"},
		{"case folded", "something/odd", "SAMPLE.EXE", ".exe"},
		{"unknown maps to bin", "unknown", "blob", ".bin"},
		{"unsupported", "something/odd", "data.xyz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := submissionExt(tt.fileType, tt.fileName); got != tt.want {
				t.Errorf("submissionExt(%q, %q) = %q, want %q", tt.fileType, tt.fileName, got, tt.want)
			}
		})
	}
}

func TestDecodeFileName(t *testing.T) {
	if got := decodeFileName("invoice.docx", ".docx"); got != "invoice.docx" {
		t.Errorf("plain name mangled: %q", got)
	}
	got := decodeFileName("=?utf-8?q?rechnung?=.exe", ".exe")
	if !strings.HasSuffix(got, ".exe") {
		t.Errorf("decoded name lost extension: %q", got)
	}
	if strings.Contains(got, "=?") {
		t.Errorf("encoding markers survived: %q", got)
	}

	random := decodeFileName("", ".pdf")
	if !strings.HasSuffix(random, ".pdf") || len(random) < 10 {
		t.Errorf("fallback name unusable: %q", random)
	}

	if got := decodeFileName("report", ".doc"); got != "report.doc" {
		t.Errorf("missing extension not appended: %q", got)
	}
}

func TestDLLExports(t *testing.T) {
	exports, cut := dllExports("", 5)
	if exports != nil || cut != 0 {
		t.Errorf("empty function list: %v, %d", exports, cut)
	}

	exports, cut = dllExports("DllMain", 5)
	if len(exports) != 1 || cut != 0 {
		t.Errorf("single export: %v, %d", exports, cut)
	}

	exports, cut = dllExports("a|b|c|d|e|f|g", 5)
	if len(exports) != 5 || cut != 2 {
		t.Errorf("cap not applied: %v, %d", exports, cut)
	}

	exports, _ = dllExports("a| |b", 5)
	if len(exports) != 2 {
		t.Errorf("blank entries kept: %v", exports)
	}
}

func TestBuildOptions(t *testing.T) {
	p := &Params{
		DumpProcesses: true,
		Arguments:     "/silent",
		NoMonitor:     true,
		CustomOptions: "route=tor",
	}
	got := buildOptions(p, []string{"Start", "Run"})
	want := "procmemdump=yes,function=Start|Run,arguments=/silent,free=yes,route=tor"
	if got != want {
		t.Errorf("buildOptions = %q, want %q", got, want)
	}

	if got := buildOptions(&Params{}, nil); got != "" {
		t.Errorf("empty params produced %q", got)
	}
}
