// Package assembler ties the lifecycle together: it prepares the
// submission from the host framework's request, drives the runner,
// normalizes the report and persists every artifact the job produced.
package assembler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/triagehq/detonator/pkg/artifacts"
	"github.com/triagehq/detonator/pkg/core"
	"github.com/triagehq/detonator/pkg/errors"
	"github.com/triagehq/detonator/pkg/report"
	"github.com/triagehq/detonator/pkg/runner"
	"github.com/triagehq/detonator/pkg/sandbox"
	"github.com/triagehq/detonator/pkg/similarity"
)

// Sandbox is the backend surface the assembler needs beyond the
// lifecycle itself. *sandbox.Client satisfies it.
type Sandbox interface {
	runner.Backend
	ReportArchive(ctx context.Context, taskID int64, compression sandbox.ArchiveCompression) ([]byte, error)
	DroppedFiles(ctx context.Context, taskID int64) ([]byte, error)
	PCAP(ctx context.Context, taskID int64) ([]byte, error)
	MachineInfo(ctx context.Context, name string) (*sandbox.Machine, error)
}

// Result is what one detonation produced.
type Result struct {
	// Findings in emission order.
	Findings []*report.Finding

	// Executed reports whether the sample genuinely ran. False is a
	// normal terminal state, not an error.
	Executed bool

	// Skipped is set when the file type cannot be detonated at all; no
	// job was submitted.
	Skipped bool

	// TaskErrors are backend-side error strings collected while the
	// task ran.
	TaskErrors []string

	// Machine describes the analysis VM the backend picked, when it
	// could be resolved.
	Machine *sandbox.Machine
}

// Assembler executes detonations end to end. One Assembler may serve
// many concurrent Execute calls; per-job state lives on the stack.
type Assembler struct {
	backend   Sandbox
	runnerCfg *runner.Config
	log       core.Logger
	metrics   runner.Metrics
	whitelist *report.Whitelist
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithRunnerConfig replaces the default lifecycle budgets.
func WithRunnerConfig(cfg *runner.Config) Option {
	return func(a *Assembler) {
		if cfg != nil {
			a.runnerCfg = cfg
		}
	}
}

// WithLogger sets the logger used across the pipeline.
func WithLogger(l core.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics sets the lifecycle metrics sink.
func WithMetrics(m runner.Metrics) Option {
	return func(a *Assembler) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithWhitelist replaces the default benign-artifact whitelist.
func WithWhitelist(wl *report.Whitelist) Option {
	return func(a *Assembler) {
		if wl != nil {
			a.whitelist = wl
		}
	}
}

// New builds an assembler around the given backend.
func New(backend Sandbox, opts ...Option) *Assembler {
	a := &Assembler{
		backend:   backend,
		runnerCfg: runner.DefaultConfig(),
		log:       &core.NopLogger{},
		metrics:   runner.NopMetrics{},
		whitelist: report.DefaultWhitelist(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Execute detonates one file and assembles the result. Artifacts are
// written under req.WorkingDir and offered to the sink; findings come
// back on the Result.
func (a *Assembler) Execute(ctx context.Context, req *core.Request, content []byte, params *Params, sink core.ArtifactSink) (*Result, error) {
	if params == nil {
		params = &Params{}
	}
	res := &Result{}

	if req.MaxFileSize <= 0 && params.MaxFileSize > 0 {
		clone := *req
		clone.MaxFileSize = params.MaxFileSize
		req = &clone
	}

	ext := submissionExt(req.FileType, req.FileName)
	if ext == "" {
		a.log.Info("file type %q (%s) cannot be detonated, skipping", req.FileType, req.FileName)
		res.Skipped = true
		return res, nil
	}

	exports, cut := dllExports(params.DLLFunction, params.MaxDLLExports)
	pkg := supportedExtensions[ext]
	if len(exports) > 1 && ext == ".dll" {
		pkg = packageDLLMulti
	}

	timeout := params.AnalysisTimeout
	if timeout <= 0 {
		timeout = defaultAnalysisTimeout
	}

	submit := sandbox.SubmitOptions{
		Package:        pkg,
		Timeout:        timeout,
		Options:        buildOptions(params, exports),
		Custom:         params.Custom,
		Memory:         params.DumpMemory && req.Depth == 0,
		EnforceTimeout: params.EnforceTimeout,
	}

	cfg := *a.runnerCfg
	cfg.AnalysisTimeout = time.Duration(timeout) * time.Second
	run := runner.NewRunner(a.backend, runner.WithConfig(&cfg), runner.WithLogger(a.log), runner.WithMetrics(a.metrics))

	job := runner.NewJob(decodeFileName(req.FileName, ext), content, submit)
	if err := run.Run(ctx, job); err != nil {
		res.TaskErrors = job.TaskErrors
		return res, err
	}
	// The backend task must outlive every artifact fetch below; it is
	// deleted only once assembly is done.
	defer run.Cleanup(job)
	res.TaskErrors = job.TaskErrors

	raw, err := report.ParseRaw(job.Report)
	if err != nil {
		return res, errors.E(errors.KindProcessing, "assembler.Execute", "decoding analysis report", err)
	}

	guestIP := a.resolveMachine(ctx, raw, res)
	norm := report.NewNormalizer(a.log, a.whitelist).Normalize(raw, &report.Options{FileExt: ext, GuestIP: guestIP})
	res.Executed = norm.Executed
	res.Findings = append(res.Findings, norm.Findings...)

	if pkg == packageDLLMulti {
		res.Findings = append(res.Findings, dllExportsFinding(exports, cut))
	}
	a.persistCommandLines(req, norm.CommandLines, sink)

	if params.GenerateReport {
		a.persistBundle(ctx, req, job, sink, res)
	}
	a.persistDropped(ctx, req, params, job, sink, res)
	if req.DeepScan {
		if f := fullReportFinding(job.Report); f != nil {
			res.Findings = append(res.Findings, f)
		}
	}
	if norm.HasNetwork {
		a.persistPCAP(ctx, req, job, sink)
	}
	return res, nil
}

// resolveMachine looks up the analysis VM named in the report, emits
// the machine-information finding and returns the guest IP for network
// exclusion. Resolution failures only cost the finding.
func (a *Assembler) resolveMachine(ctx context.Context, raw report.RawReport, res *Result) string {
	name := raw.Map("info").Map("machine").String("name")
	if name == "" {
		return ""
	}
	machine, err := a.backend.MachineInfo(ctx, name)
	if err != nil || machine == nil {
		a.log.Warn("could not resolve analysis VM %q: %v", name, err)
		return ""
	}
	res.Machine = machine

	f := report.NewFinding(report.KindInfo, "Machine Information")
	f.AddKV("ID", fmt.Sprintf("%d", machine.ID))
	f.AddKV("Name", machine.Name)
	f.AddKV("Label", machine.Label)
	f.AddKV("Platform", machine.Platform)
	if len(machine.Tags) > 0 {
		f.AddKV("Tags", strings.Join(machine.Tags, ", "))
	}
	res.Findings = append(res.Findings, f)
	return machine.IP
}

// persistCommandLines writes each observed command line to the working
// directory and offers it for its own analysis.
func (a *Assembler) persistCommandLines(req *core.Request, commands []string, sink core.ArtifactSink) {
	for _, cmd := range commands {
		sum := sha256.Sum256([]byte(cmd))
		name := "command_" + hex.EncodeToString(sum[:])[:10]
		path := filepath.Join(req.WorkingDir, name)
		if err := os.WriteFile(path, []byte(cmd), 0o640); err != nil {
			a.log.Warn("could not persist command line %s: %v", name, err)
			continue
		}
		if err := sink.AddExtracted(path, name, "Command line observed during analysis."); err != nil {
			a.log.Warn("could not store command line %s: %v", name, err)
		}
	}
}

// persistBundle downloads the full report archive, stores it as
// supplementary evidence and walks it for memory dumps, buffers and
// unpacked payloads.
func (a *Assembler) persistBundle(ctx context.Context, req *core.Request, job *runner.Job, sink core.ArtifactSink, res *Result) {
	data, err := a.backend.ReportArchive(ctx, job.TaskID, sandbox.CompressionGzip)
	if err != nil {
		a.log.Warn("job %s: could not fetch report bundle: %v", job.ID, err)
		return
	}

	bundlePath := filepath.Join(req.WorkingDir, "report.tar.gz")
	if err := os.WriteFile(bundlePath, data, 0o640); err != nil {
		a.log.Warn("job %s: could not persist report bundle: %v", job.ID, err)
		return
	}
	if err := sink.AddSupplementary(bundlePath, "report.tar.gz", "Full sandbox report archive."); err != nil {
		a.log.Warn("job %s: could not store report bundle: %v", job.ID, err)
	}

	extractor := artifacts.NewExtractor(a.log, a.whitelist)
	findings, err := extractor.ProcessBundle(data, req, sink)
	if err != nil {
		a.log.Warn("job %s: bundle extraction failed: %v", job.ID, err)
	}
	res.Findings = append(res.Findings, findings...)
}

// persistDropped fetches the dropped-files archive and extracts the
// samples the analyzed program wrote to disk. Runs on every completed
// job, independent of whether the full report bundle was requested.
func (a *Assembler) persistDropped(ctx context.Context, req *core.Request, params *Params, job *runner.Job, sink core.ArtifactSink, res *Result) {
	data, err := a.backend.DroppedFiles(ctx, job.TaskID)
	if err != nil {
		a.log.Warn("job %s: could not fetch dropped files: %v", job.ID, err)
		return
	}
	if len(data) == 0 {
		return
	}

	extractor := artifacts.NewExtractor(a.log, a.whitelist)
	dedup := similarity.NewDeduper(params.DedupSimilarPct)
	findings, err := extractor.ProcessDropped(data, req, dedup, sink)
	if err != nil {
		a.log.Warn("job %s: dropped-file extraction failed: %v", job.ID, err)
	}
	res.Findings = append(res.Findings, findings...)
}

// persistPCAP fetches the network capture. Only called when the
// findings actually contain network activity.
func (a *Assembler) persistPCAP(ctx context.Context, req *core.Request, job *runner.Job, sink core.ArtifactSink) {
	data, err := a.backend.PCAP(ctx, job.TaskID)
	if err != nil {
		a.log.Warn("job %s: could not fetch pcap: %v", job.ID, err)
		return
	}
	if len(data) == 0 {
		return
	}
	path := filepath.Join(req.WorkingDir, "dump.pcap")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		a.log.Warn("job %s: could not persist pcap: %v", job.ID, err)
		return
	}
	if err := sink.AddExtracted(path, "dump.pcap", "Network traffic captured during analysis."); err != nil {
		a.log.Warn("job %s: could not store pcap: %v", job.ID, err)
	}
}

// dllExportsFinding reports which DLL exports were executed by the
// multi-export package.
func dllExportsFinding(exports []string, cut int) *report.Finding {
	f := report.NewFinding(report.KindInfo, "Executed Multiple DLL Exports")
	for _, e := range exports {
		f.AddLine("Function: " + e)
	}
	if cut > 0 {
		f.AddLine(fmt.Sprintf("There were %d other exports that were not executed.", cut))
	}
	return f
}

// fullReportFinding renders the complete raw report for deep scans.
func fullReportFinding(raw []byte) *report.Finding {
	var buf map[string]interface{}
	if err := json.Unmarshal(raw, &buf); err != nil {
		return nil
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return nil
	}
	f := report.NewFinding(report.KindInfo, "Full Sandbox Report")
	f.AddLine(string(pretty))
	return f
}
