package report

import (
	"fmt"
	"time"

	"github.com/triagehq/detonator/pkg/core"
)

// Options configures one normalization pass.
type Options struct {
	// FileExt is the extension the sample was submitted under, used in
	// the not-executed note.
	FileExt string

	// GuestIP is the analysis VM's own address; its traffic is excluded.
	GuestIP string
}

// Normalized is the output of one pass: the ordered findings, the
// execution verdict, and the side-band values the assembler needs.
type Normalized struct {
	Findings []*Finding

	// Executed is false when the behavioral evidence says the sample
	// never meaningfully ran (benign CLSID set, no execution handler).
	Executed bool

	// CommandLines are the raw executed command lines; the assembler
	// dumps each to the working directory as an extracted file.
	CommandLines []string

	// HasNetwork is true when a network-activity finding was emitted,
	// which is the precondition for fetching the pcap.
	HasNetwork bool
}

// Normalizer turns a raw sandbox report into findings. It is stateless
// between calls and safe to share across jobs.
type Normalizer struct {
	log       core.Logger
	whitelist *Whitelist
}

// NewNormalizer creates a Normalizer. A nil whitelist gets the defaults,
// a nil logger is silenced.
func NewNormalizer(log core.Logger, whitelist *Whitelist) *Normalizer {
	if log == nil {
		log = &core.NopLogger{}
	}
	if whitelist == nil {
		whitelist = DefaultWhitelist()
	}
	return &Normalizer{log: log, whitelist: whitelist}
}

// Normalize processes the four independent sub-reports in order: debug
// errors, behavioral summary, network activity, signatures. Each may be
// absent. Network and signature findings are suppressed entirely when the
// behavioral evidence says the sample never meaningfully executed.
func (n *Normalizer) Normalize(raw RawReport, opts *Options) *Normalized {
	if opts == nil {
		opts = &Options{}
	}
	result := &Normalized{Executed: true}

	if info := raw.Map("info"); info != nil {
		result.Findings = append(result.Findings, analysisInfoFinding(info))
	}

	if debug := raw.Map("debug"); debug != nil {
		if errSec := debugErrorsFinding(debug); errSec != nil {
			result.Findings = append(result.Findings, errSec)
		}
	}

	network := raw.Map("network")
	if network == nil {
		network = RawReport{}
	}

	if behavior := raw.Map("behavior"); behavior != nil {
		findings, commands, executed := n.processBehavior(behavior)
		result.Findings = append(result.Findings, findings...)
		result.CommandLines = commands
		result.Executed = executed
	}

	if droidmon := raw.Map("droidmon"); droidmon != nil {
		result.Findings = append(result.Findings, n.processDroidmon(droidmon, network)...)
	}

	if result.Executed {
		if len(network) > 0 {
			correlator := &Correlator{GuestIP: opts.GuestIP, Whitelist: n.whitelist}
			if flows := correlator.Correlate(network); !flows.Empty() {
				result.Findings = append(result.Findings, flows.Finding())
				result.HasNetwork = true
			}
		}
		if sigs := raw.MapSlice("signatures"); len(sigs) > 0 {
			if sigSec := n.processSignatures(sigs); sigSec != nil {
				result.Findings = append(result.Findings, sigSec)
			}
		}
	} else {
		n.log.Debug("behavioral evidence says this file never executed (unsupported type?)")
		note := NewFinding(KindInfo, "Notes")
		note.AddLine(fmt.Sprintf("Unrecognized file type: "+
			"No program available to execute a file with the following extension: %s", opts.FileExt))
		result.Findings = append(result.Findings, note)
	}

	return result
}

// analysisInfoFinding summarizes the run itself: backend version, analysis
// identifier, duration and wall-clock bounds.
func analysisInfoFinding(info RawReport) *Finding {
	f := NewFinding(KindInfo, "Analysis Information")
	f.AddKV("Sandbox Version", info.String("version"))
	f.AddKV("Analysis ID", info.String("id"))
	f.AddKV("Analysis Duration", info.String("duration"))
	f.AddKV("Start Time", formatEpoch(info, "started"))
	f.AddKV("End Time", formatEpoch(info, "ended"))
	return f
}

func formatEpoch(info RawReport, key string) string {
	epoch := info.Int(key, 0)
	if epoch == 0 {
		return info.String(key)
	}
	return time.Unix(epoch, 0).UTC().Format("2006-01-02 15:04:05")
}

// debugErrorsFinding aggregates backend-reported execution errors. Its
// presence does not by itself mark the job as failed: a critical timeout
// just means the process never exited.
func debugErrorsFinding(debug RawReport) *Finding {
	errors := debug.StringSlice("errors")
	if len(errors) == 0 {
		return nil
	}
	f := NewFinding(KindError, "Analysis Errors")
	for _, e := range errors {
		f.AddLine(e)
	}
	return f
}
