// Package similarity wraps a context-triggered piecewise hash (ssdeep) to
// decide whether two byte blobs are practically identical. It is used to
// suppress near-duplicate dropped files within a single analysis job.
package similarity

import (
	"github.com/glaslos/ssdeep"
)

func init() {
	// Guest artifacts are frequently tiny (registry exports, loader
	// scripts); without Force the library refuses inputs under its
	// block-size minimum.
	ssdeep.Force = true
}

// DefaultThreshold is the match score above which two blobs are considered
// duplicates, as a percentage.
const DefaultThreshold = 80

// Hash computes the similarity hash of data.
func Hash(data []byte) (string, error) {
	return ssdeep.FuzzyBytes(data)
}

// Compare returns the match score (0-100, higher means more similar)
// between two similarity hashes.
func Compare(h1, h2 string) (int, error) {
	return ssdeep.Distance(h1, h2)
}

// Deduper tracks the similarity hashes accepted so far and flags any new
// blob whose hash matches a previously accepted one at or above the
// threshold. Scope is one analysis job: a fresh Deduper is created per job
// and never shared.
type Deduper struct {
	threshold int
	accepted  []string
}

// NewDeduper creates a Deduper with the given match threshold percentage.
// Values outside (0, 100] fall back to DefaultThreshold.
func NewDeduper(threshold int) *Deduper {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultThreshold
	}
	return &Deduper{threshold: threshold}
}

// Threshold returns the configured match threshold.
func (d *Deduper) Threshold() int {
	return d.threshold
}

// Seen returns the number of accepted (non-duplicate) blobs so far.
func (d *Deduper) Seen() int {
	return len(d.accepted)
}

// IsDuplicate reports whether data matches any previously accepted blob at
// or above the threshold. Non-duplicates are recorded as accepted. A hash
// failure is reported as an error and the blob treated as novel.
func (d *Deduper) IsDuplicate(data []byte) (bool, error) {
	h, err := Hash(data)
	if err != nil {
		return false, err
	}
	return d.IsDuplicateHash(h), nil
}

// IsDuplicateHash is IsDuplicate for a precomputed hash.
func (d *Deduper) IsDuplicateHash(h string) bool {
	for _, seen := range d.accepted {
		score, err := Compare(h, seen)
		if err != nil {
			continue
		}
		if score >= d.threshold {
			return true
		}
	}
	d.accepted = append(d.accepted, h)
	return false
}
