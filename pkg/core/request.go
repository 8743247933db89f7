package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Request is the per-file context handed to the SDK by the host scanning
// framework: the sample, where to work, and what the framework already
// knows about the file.
type Request struct {
	// WorkingDir is the job's scratch directory. Everything the SDK
	// persists (report archive, pcap, extracted files) lands under it.
	WorkingDir string

	// FileName is the submitted file's name as received.
	FileName string

	// FileType is the host framework's static identification tag
	// (e.g. "document/office/word", "executable/windows/pe32").
	FileType string

	// SHA256 and MD5 of the submitted file.
	SHA256 string
	MD5    string

	// DeepScan disables dropped-file dedup and attaches the full raw
	// report to the output.
	DeepScan bool

	// Depth is the resubmission depth; 0 is the original submission.
	// Full memory dumps are only allowed at depth 0.
	Depth int

	// MaxFileSize is the size cap for extracted artifacts, in bytes.
	MaxFileSize int64
}

// Artifact sink errors. The sink distinguishes "this one file is too big"
// from "the job's extraction budget is spent" so callers can keep going
// in the first case and stop offering files in the second.
var (
	ErrFileTooLarge         = errors.New("extracted file exceeds maximum size")
	ErrMaxExtractedExceeded = errors.New("maximum number of extracted files exceeded")
)

// ArtifactSink receives files the SDK pulls out of the sandbox's result
// bundle. Extracted files are resubmitted by the host framework for their
// own analysis; supplementary files are stored as evidence only.
type ArtifactSink interface {
	AddExtracted(path, name, description string) error
	AddSupplementary(path, name, description string) error
}

// DirSink is a filesystem-backed ArtifactSink used by the standalone agent
// and by tests. It copies nothing; files are already under the working
// directory, so it only records them and enforces the budgets.
type DirSink struct {
	MaxFileSize  int64
	MaxExtracted int

	Extracted     []SinkEntry
	Supplementary []SinkEntry
}

// SinkEntry records one stored artifact.
type SinkEntry struct {
	Path        string
	Name        string
	Description string
	Size        int64
}

// NewDirSink creates a DirSink with the given budgets. Zero values mean
// unlimited.
func NewDirSink(maxFileSize int64, maxExtracted int) *DirSink {
	return &DirSink{MaxFileSize: maxFileSize, MaxExtracted: maxExtracted}
}

// AddExtracted records an extracted file, enforcing size and count budgets.
func (s *DirSink) AddExtracted(path, name, description string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	if s.MaxFileSize > 0 && info.Size() > s.MaxFileSize {
		return ErrFileTooLarge
	}
	if s.MaxExtracted > 0 && len(s.Extracted) >= s.MaxExtracted {
		return ErrMaxExtractedExceeded
	}
	s.Extracted = append(s.Extracted, SinkEntry{Path: path, Name: name, Description: description, Size: info.Size()})
	return nil
}

// AddSupplementary records a supplementary evidence file.
func (s *DirSink) AddSupplementary(path, name, description string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	s.Supplementary = append(s.Supplementary, SinkEntry{Path: path, Name: name, Description: description, Size: info.Size()})
	return nil
}

var _ ArtifactSink = (*DirSink)(nil)
