package assembler

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Params is the user-facing knob surface of one detonation.
type Params struct {
	// AnalysisTimeout in seconds. Zero uses the default.
	AnalysisTimeout int

	// EnforceTimeout makes the detonation run for the full timeout.
	EnforceTimeout bool

	// GenerateReport requests the full archived report bundle.
	GenerateReport bool

	// DumpProcesses enables process memory dumps.
	DumpProcesses bool

	// DLLFunction names the DLL export(s) to execute, pipe-separated.
	// More than one selects the multi-export analysis package.
	DLLFunction string

	// Arguments is passed to the analyzed program's command line.
	Arguments string

	// DumpMemory requests a full memory dump of the analysis VM. Only
	// honored for top-level submissions.
	DumpMemory bool

	// NoMonitor detonates without API hooking.
	NoMonitor bool

	// CustomOptions is appended verbatim to the options string.
	CustomOptions string

	// Custom is an opaque string stored with the backend task, useful
	// for correlating tasks with an external tracking system.
	Custom string

	// MaxFileSize caps extracted artifacts, in bytes. Used when the
	// request does not carry its own cap.
	MaxFileSize int64

	// DedupSimilarPct is the fuzzy-hash similarity threshold for
	// dropped-file dedup. Zero uses the default.
	DedupSimilarPct int

	// MaxDLLExports caps how many exports the multi-export package
	// executes and reports. Zero uses the default.
	MaxDLLExports int
}

const (
	defaultAnalysisTimeout = 150
	defaultMaxDLLExports   = 5

	packageBin      = "bin"
	packageDLLMulti = "dll_multi"
)

// supportedExtensions is the set of file extensions the analysis VMs
// can detonate, and the analysis package forced for some of them. An
// empty value lets the backend pick the package itself.
var supportedExtensions = map[string]string{
	".bat":  "", ".bin": packageBin, ".cpl": "", ".dll": "",
	".doc": "", ".docm": "", ".docx": "", ".dotm": "",
	".eml": "", ".exe": "", ".hta": "", ".htm": "", ".html": "",
	".hwp": "", ".jar": "", ".js": "", ".lnk": "", ".mht": "",
	".msg": "", ".msi": "", ".pdf": "", ".potm": "", ".potx": "",
	".pps": "", ".ppsx": "", ".ppt": "", ".pptm": "", ".pptx": "",
	".ps1": "", ".pub": "", ".py": "", ".pyc": "", ".rtf": "",
	".swf": "", ".vbs": "", ".wsf": "", ".xls": "", ".xlsm": "", ".xlsx": "",
}

// typeExtensions maps the host framework's static type tags to the
// extension the analysis VM should see. Types absent here fall back to
// the submitted file name's own extension.
var typeExtensions = map[string]string{
	"executable/windows/pe32":    ".exe",
	"executable/windows/pe64":    ".exe",
	"executable/windows/dll32":   ".dll",
	"executable/windows/dll64":   ".dll",
	"executable/windows/com":     ".exe",
	"document/office/word":       ".doc",
	"document/office/excel":      ".xls",
	"document/office/powerpoint": ".ppt",
	"document/office/rtf":        ".doc",
	"document/office/hwp":        ".hwp",
	"document/pdf":               ".pdf",
	"document/email":             ".eml",
	"code/javascript":            ".js",
	"code/jscript":               ".js",
	"code/vbs":                   ".vbs",
	"code/wsf":                   ".wsf",
	"code/html":                  ".html",
	"code/hta":                   ".hta",
	"code/ps1":                   ".ps1",
	"code/python":                ".py",
	"java/jar":                   ".jar",
	"shortcut/windows":           ".lnk",
	"unknown":                    ".bin",
}

// submissionExt picks the extension the analysis VM should see. The
// host framework's identification wins over whatever the file is
// named; returns "" when neither yields a supported extension.
func submissionExt(fileType, fileName string) string {
	if ext, ok := typeExtensions[fileType]; ok {
		return ext
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if _, ok := supportedExtensions[ext]; ok {
		return ext
	}
	return ""
}

// decodeFileName undoes MIME word encoding in submitted names
// (attachments often arrive as "=?utf-8?...?="). Names that cannot be
// decoded or come out empty are replaced with a random one so the
// backend always gets something usable.
func decodeFileName(name, ext string) string {
	if strings.Contains(name, "=?") {
		dec := new(mime.WordDecoder)
		if decoded, err := dec.DecodeHeader(name); err == nil {
			name = decoded
		} else {
			name = ""
		}
	}
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." {
		name = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}
	return name
}

// dllExports splits the pipe-separated export list and caps it.
// Returns the exports to execute and how many were cut off.
func dllExports(function string, max int) ([]string, int) {
	if function == "" {
		return nil, 0
	}
	if max <= 0 {
		max = defaultMaxDLLExports
	}
	parts := strings.Split(function, "|")
	exports := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			exports = append(exports, p)
		}
	}
	if len(exports) > max {
		return exports[:max], len(exports) - max
	}
	return exports, 0
}

// buildOptions assembles the comma-joined option string for the
// analysis package.
func buildOptions(p *Params, exports []string) string {
	var parts []string
	if p.DumpProcesses {
		parts = append(parts, "procmemdump=yes")
	}
	if len(exports) > 0 {
		parts = append(parts, "function="+strings.Join(exports, "|"))
	}
	if p.Arguments != "" {
		parts = append(parts, "arguments="+p.Arguments)
	}
	if p.NoMonitor {
		parts = append(parts, "free=yes")
	}
	if p.CustomOptions != "" {
		parts = append(parts, p.CustomOptions)
	}
	return strings.Join(parts, ",")
}
