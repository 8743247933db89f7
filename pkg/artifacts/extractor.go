// Package artifacts unpacks the sandbox result bundle and routes its
// members to the host framework: memory dumps and unpacked payloads
// become extracted files for further analysis, everything else is kept
// as supplementary evidence.
package artifacts

import (
	"archive/tar"
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/triagehq/detonator/pkg/core"
	"github.com/triagehq/detonator/pkg/report"
	"github.com/triagehq/detonator/pkg/similarity"
)

// Extractor walks result bundles. Safe for concurrent use.
type Extractor struct {
	log       core.Logger
	whitelist *report.Whitelist
}

// NewExtractor builds an extractor. A nil whitelist falls back to the
// default one.
func NewExtractor(log core.Logger, wl *report.Whitelist) *Extractor {
	if log == nil {
		log = &core.NopLogger{}
	}
	if wl == nil {
		wl = report.DefaultWhitelist()
	}
	return &Extractor{log: log, whitelist: wl}
}

// openBundle wraps data in a tar reader, sniffing gzip vs zstd from the
// magic bytes.
func openBundle(data []byte) (*tar.Reader, io.Closer, error) {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip bundle: %w", err)
		}
		return tar.NewReader(gz), gz, nil
	case len(data) >= 4 && data[0] == 0x28 && data[1] == 0xb5 && data[2] == 0x2f && data[3] == 0xfd:
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, nil, fmt.Errorf("opening zstd bundle: %w", err)
		}
		return tar.NewReader(zr), zr.IOReadCloser(), nil
	default:
		return nil, nil, fmt.Errorf("bundle is neither gzip nor zstd compressed")
	}
}

// ProcessBundle unpacks the full analysis bundle into the request's
// working directory and feeds the members to the sink. Member failures
// are logged and do not stop the walk. Files rejected for size are
// collected into one informational finding.
func (e *Extractor) ProcessBundle(data []byte, req *core.Request, sink core.ArtifactSink) ([]*report.Finding, error) {
	tr, closer, err := openBundle(data)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	destDir := filepath.Join(req.WorkingDir, "bundle")
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating bundle directory: %w", err)
	}

	oversize := report.NewFinding(report.KindInfo, "Files Too Large To Be Extracted")
	budgetSpent := false

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return e.finish(oversize), fmt.Errorf("reading bundle: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(hdr.Name)
		if strings.Contains(name, "..") || path.IsAbs(name) {
			e.log.Warn("skipping bundle member with unsafe path %q", hdr.Name)
			continue
		}

		kind, description := routeMember(name)
		if kind == memberSkip {
			continue
		}
		if kind == memberExtracted && budgetSpent {
			continue
		}

		dest, err := writeMember(tr, destDir, name)
		if err != nil {
			e.log.Warn("could not unpack bundle member %q: %v", name, err)
			continue
		}

		base := path.Base(name)
		switch kind {
		case memberSupplementary:
			if err := sink.AddSupplementary(dest, base, description); err != nil {
				e.log.Warn("could not store supplementary file %q: %v", base, err)
			}
		case memberExtracted:
			err := sink.AddExtracted(dest, base, description)
			switch {
			case err == nil:
			case stderrors.Is(err, core.ErrFileTooLarge):
				oversize.AddLine(fmt.Sprintf("%s (%d bytes)", base, hdr.Size))
			case stderrors.Is(err, core.ErrMaxExtractedExceeded):
				e.log.Warn("extraction budget spent, remaining bundle payloads are dropped")
				budgetSpent = true
			default:
				e.log.Warn("could not store extracted file %q: %v", base, err)
			}
		}
	}

	return e.finish(oversize), nil
}

type memberKind int

const (
	memberSkip memberKind = iota
	memberExtracted
	memberSupplementary
)

// routeMember decides what to do with one bundle member by its path.
func routeMember(name string) (memberKind, string) {
	switch {
	case strings.HasPrefix(name, "supplementary/"):
		return memberSupplementary, "Supplementary File"
	case strings.HasPrefix(name, "shots/"):
		return memberSupplementary, "Analysis Screenshot"
	case name == "reports/report.json":
		return memberSupplementary, "Analysis Report"
	case strings.HasPrefix(name, "memory/"):
		if strings.HasSuffix(name, ".py") {
			return memberSupplementary, "Memory Analysis Script"
		}
		return memberExtracted, "Process Memory Dump"
	case strings.HasPrefix(name, "buffer/"):
		return memberExtracted, "Extracted Buffer"
	case strings.HasPrefix(name, "extracted/"):
		return memberExtracted, "Dynamically Extracted File"
	default:
		return memberSkip, ""
	}
}

// writeMember streams one tar member to disk under destDir, flattening
// the member path into a single safe file name.
func writeMember(tr *tar.Reader, destDir, name string) (string, error) {
	flat := strings.ReplaceAll(name, "/", "_")
	dest := filepath.Join(destDir, flat)

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, tr); err != nil {
		f.Close()
		os.Remove(dest)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dest, nil
}

// finish returns the oversize finding as a slice, or nothing if no file
// was rejected.
func (e *Extractor) finish(oversize *report.Finding) []*report.Finding {
	if len(oversize.Lines) == 0 {
		return nil
	}
	return []*report.Finding{oversize}
}

// ProcessDropped walks the files/ members of the bundle and extracts the
// samples the analyzed program dropped on disk. Skipped are: copies of
// the submitted file itself, whitelisted names and hashes, runtime info
// sidecars, and near-duplicates of files already accepted for this job
// (unless the request asks for a deep scan).
func (e *Extractor) ProcessDropped(data []byte, req *core.Request, dedup *similarity.Deduper, sink core.ArtifactSink) ([]*report.Finding, error) {
	tr, closer, err := openBundle(data)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	destDir := filepath.Join(req.WorkingDir, "dropped")
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating dropped directory: %w", err)
	}

	oversize := report.NewFinding(report.KindInfo, "Dropped Files Too Large To Be Extracted")
	deduped := 0

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return e.finishDropped(oversize, deduped), fmt.Errorf("reading dropped files: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(hdr.Name)
		if !strings.HasPrefix(name, "files/") || strings.Contains(name, "..") {
			continue
		}
		base := path.Base(name)

		if e.whitelist.IsWhitelistedDroppedName(base) {
			continue
		}
		if req.MaxFileSize > 0 && hdr.Size > req.MaxFileSize {
			oversize.AddLine(fmt.Sprintf("%s (%d bytes)", base, hdr.Size))
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			e.log.Warn("could not read dropped file %q: %v", base, err)
			continue
		}

		sum := md5.Sum(content)
		if hex.EncodeToString(sum[:]) == req.MD5 {
			continue
		}
		if e.whitelist.IsWhitelistedHash(hashSHA256(content)) {
			continue
		}
		if !req.DeepScan && dedup != nil {
			dup, derr := dedup.IsDuplicate(content)
			if derr != nil {
				e.log.Debug("fuzzy hash failed for dropped file %q: %v", base, derr)
			} else if dup {
				e.log.Debug("dropped file %q is a near-duplicate, skipping", base)
				deduped++
				continue
			}
		}

		dest := filepath.Join(destDir, base)
		if err := os.WriteFile(dest, content, 0o640); err != nil {
			e.log.Warn("could not persist dropped file %q: %v", base, err)
			continue
		}
		err = sink.AddExtracted(dest, base, "Dropped file during sandbox analysis.")
		switch {
		case err == nil:
		case stderrors.Is(err, core.ErrFileTooLarge):
			oversize.AddLine(fmt.Sprintf("%s (%d bytes)", base, hdr.Size))
		case stderrors.Is(err, core.ErrMaxExtractedExceeded):
			e.log.Warn("extraction budget spent, remaining dropped files are ignored")
			return e.finishDropped(oversize, deduped), nil
		default:
			e.log.Warn("could not store dropped file %q: %v", base, err)
		}
	}

	return e.finishDropped(oversize, deduped), nil
}

// finishDropped assembles the informational findings of one dropped-file
// pass: the oversize list and, when near-duplicates were suppressed, a
// note that the extraction set is incomplete.
func (e *Extractor) finishDropped(oversize *report.Finding, deduped int) []*report.Finding {
	findings := e.finish(oversize)
	if deduped > 0 {
		f := report.NewFinding(report.KindInfo, "Deduplicated Dropped Files")
		f.AddLine(fmt.Sprintf("%d near-duplicate dropped files were not extracted.", deduped))
		f.AddTag(report.TagFileBehavior, "Truncated extraction set")
		findings = append(findings, f)
	}
	return findings
}

func hashSHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
