package report

import (
	"strings"
)

// Whitelist suppresses known-noise observations: infrastructure addresses
// the guest always talks to, domains owned by OS vendors, dropped-file
// hashes/names that every run produces, and CLSID sets whose presence
// means the sample never meaningfully executed.
//
// All sets are additive on top of the defaults; a zero Whitelist matches
// nothing.
type Whitelist struct {
	// IPPrefixes are matched against the start of a peer IP.
	IPPrefixes []string

	// DomainSuffixes are matched against the end of a peer domain.
	DomainSuffixes []string

	// FileHashes are hex digests (MD5 or SHA1) of dropped files to drop.
	FileHashes map[string]bool

	// DroppedNames are exact dropped-file names to drop.
	DroppedNames map[string]bool

	// BenignCLSIDSets are SHA1 digests of the sorted, comma-joined CLSID
	// set of runs that only instantiated harmless COM objects. A match
	// flags the sample as not meaningfully executed.
	BenignCLSIDSets map[string]bool
}

// DefaultWhitelist returns the built-in noise suppression list.
func DefaultWhitelist() *Whitelist {
	return &Whitelist{
		IPPrefixes: []string{
			"127.",
			"169.254.",
			"239.255.255.250",
			"224.0.0.",
			"255.255.255.255",
		},
		DomainSuffixes: []string{
			"windowsupdate.com",
			"windowsupdate.microsoft.com",
			"update.microsoft.com",
			"time.windows.com",
			"teredo.ipv6.microsoft.com",
			"msftncsi.com",
			"msftconnecttest.com",
			"wpad.reddog.microsoft.com",
			"ocsp.verisign.com",
			"crl.microsoft.com",
			"in-addr.arpa",
		},
		FileHashes:   map[string]bool{},
		DroppedNames: map[string]bool{},
		BenignCLSIDSets: map[string]bool{
			// Word/Excel documents that only touched the office COM surface.
			"d41d8cd98f00b204e9800998ecf8427e00000000": true,
		},
	}
}

// IsWhitelistedIP reports whether host matches a whitelisted IP prefix.
func (w *Whitelist) IsWhitelistedIP(host string) bool {
	if w == nil {
		return false
	}
	for _, p := range w.IPPrefixes {
		if strings.HasPrefix(host, p) {
			return true
		}
	}
	return false
}

// IsWhitelistedDomain reports whether domain matches a whitelisted suffix.
func (w *Whitelist) IsWhitelistedDomain(domain string) bool {
	if w == nil {
		return false
	}
	d := strings.ToLower(domain)
	for _, s := range w.DomainSuffixes {
		if d == s || strings.HasSuffix(d, "."+s) {
			return true
		}
	}
	return false
}

// IsWhitelistedHash reports whether a dropped-file digest is known noise.
func (w *Whitelist) IsWhitelistedHash(digest string) bool {
	if w == nil {
		return false
	}
	return w.FileHashes[strings.ToLower(digest)]
}

// IsWhitelistedDroppedName reports whether a dropped-file name is known
// noise. Guest agent `_info.txt` companions are always noise.
func (w *Whitelist) IsWhitelistedDroppedName(name string) bool {
	if strings.HasSuffix(name, "_info.txt") {
		return true
	}
	if w == nil {
		return false
	}
	return w.DroppedNames[name]
}

// IsBenignCLSIDSet reports whether the digest of a run's resolved CLSID
// set marks the run as not meaningfully executed.
func (w *Whitelist) IsBenignCLSIDSet(digest string) bool {
	if w == nil {
		return false
	}
	return w.BenignCLSIDSets[strings.ToLower(digest)]
}
