// Command detonator-agent submits one file to a sandbox backend, waits
// for the analysis and writes the normalized findings as JSON.
package main

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/triagehq/detonator/pkg/assembler"
	"github.com/triagehq/detonator/pkg/core"
	"github.com/triagehq/detonator/pkg/metrics"
	"github.com/triagehq/detonator/pkg/sandbox"
)

type config struct {
	Sandbox struct {
		URL         string  `yaml:"url"`
		APIKey      string  `yaml:"api_key"`
		RequestRate float64 `yaml:"request_rate"`
		Timeout     int     `yaml:"timeout_seconds"`
	} `yaml:"sandbox"`

	Analysis struct {
		Timeout         int    `yaml:"timeout"`
		EnforceTimeout  bool   `yaml:"enforce_timeout"`
		GenerateReport  bool   `yaml:"generate_report"`
		DumpProcesses   bool   `yaml:"dump_processes"`
		DumpMemory      bool   `yaml:"dump_memory"`
		NoMonitor       bool   `yaml:"no_monitor"`
		DLLFunction     string `yaml:"dll_function"`
		Arguments       string `yaml:"arguments"`
		CustomOptions   string `yaml:"custom_options"`
		Custom          string `yaml:"custom"`
		MaxFileSize     int64  `yaml:"max_file_size"`
		DedupSimilarPct int    `yaml:"dedup_similar_percent"`
		MaxDLLExports   int    `yaml:"max_dll_exports"`
	} `yaml:"analysis"`

	MetricsAddr string `yaml:"metrics_addr"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	cfg.Analysis.GenerateReport = true

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if cfg.Sandbox.URL == "" {
		cfg.Sandbox.URL = os.Getenv("SANDBOX_URL")
	}
	if cfg.Sandbox.APIKey == "" {
		cfg.Sandbox.APIKey = os.Getenv("SANDBOX_API_KEY")
	}
	return cfg, nil
}

type output struct {
	Executed      bool               `json:"executed"`
	Skipped       bool               `json:"skipped"`
	Machine       *sandbox.Machine   `json:"machine,omitempty"`
	TaskErrors    []string           `json:"task_errors,omitempty"`
	Findings      interface{}        `json:"findings"`
	Extracted     []core.SinkEntry   `json:"extracted,omitempty"`
	Supplementary []core.SinkEntry   `json:"supplementary,omitempty"`
}

func main() {
	var (
		configPath = flag.String("config", "", "path to the YAML config file")
		filePath   = flag.String("file", "", "file to detonate")
		fileType   = flag.String("type", "unknown", "static file type tag")
		workDir    = flag.String("workdir", "", "working directory (default: temp dir)")
		outPath    = flag.String("out", "-", "findings output path, - for stdout")
		deepScan   = flag.Bool("deep", false, "deep scan: keep near-duplicate dropped files, attach the full report")
		verbose    = flag.Bool("verbose", false, "verbose logging")
	)
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: detonator-agent -file <sample> [-config <yaml>]")
		os.Exit(2)
	}
	if err := run(*configPath, *filePath, *fileType, *workDir, *outPath, *deepScan, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "detonator-agent: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, filePath, fileType, workDir, outPath string, deepScan, verbose bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := core.LoggerFromVerbose("detonator", verbose)

	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading sample: %w", err)
	}

	if workDir == "" {
		workDir, err = os.MkdirTemp("", "detonator-*")
		if err != nil {
			return fmt.Errorf("creating working directory: %w", err)
		}
	} else if err := os.MkdirAll(workDir, 0o750); err != nil {
		return fmt.Errorf("creating working directory: %w", err)
	}

	opts := []sandbox.Option{sandbox.WithLogger(log)}
	if cfg.Sandbox.RequestRate > 0 {
		opts = append(opts, sandbox.WithRateLimit(rate.Limit(cfg.Sandbox.RequestRate), 5))
	}
	if cfg.Sandbox.Timeout > 0 {
		opts = append(opts, sandbox.WithTimeout(time.Duration(cfg.Sandbox.Timeout)*time.Second))
	}
	client, err := sandbox.NewClient(cfg.Sandbox.URL, cfg.Sandbox.APIKey, opts...)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("detonator")
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn("metrics listener stopped: %v", err)
			}
		}()
	}

	sha := sha256.Sum256(content)
	md := md5.Sum(content)
	req := &core.Request{
		WorkingDir:  workDir,
		FileName:    filepath.Base(filePath),
		FileType:    fileType,
		SHA256:      hex.EncodeToString(sha[:]),
		MD5:         hex.EncodeToString(md[:]),
		DeepScan:    deepScan,
		MaxFileSize: cfg.Analysis.MaxFileSize,
	}
	params := &assembler.Params{
		AnalysisTimeout: cfg.Analysis.Timeout,
		EnforceTimeout:  cfg.Analysis.EnforceTimeout,
		GenerateReport:  cfg.Analysis.GenerateReport,
		DumpProcesses:   cfg.Analysis.DumpProcesses,
		DumpMemory:      cfg.Analysis.DumpMemory,
		NoMonitor:       cfg.Analysis.NoMonitor,
		DLLFunction:     cfg.Analysis.DLLFunction,
		Arguments:       cfg.Analysis.Arguments,
		CustomOptions:   cfg.Analysis.CustomOptions,
		Custom:          cfg.Analysis.Custom,
		MaxFileSize:     cfg.Analysis.MaxFileSize,
		DedupSimilarPct: cfg.Analysis.DedupSimilarPct,
		MaxDLLExports:   cfg.Analysis.MaxDLLExports,
	}

	sink := core.NewDirSink(cfg.Analysis.MaxFileSize, 0)
	asm := assembler.New(client, assembler.WithLogger(log), assembler.WithMetrics(collector))

	res, err := asm.Execute(context.Background(), req, content, params, sink)
	if err != nil {
		return err
	}

	out := output{
		Executed:      res.Executed,
		Skipped:       res.Skipped,
		Machine:       res.Machine,
		TaskErrors:    res.TaskErrors,
		Findings:      res.Findings,
		Extracted:     sink.Extracted,
		Supplementary: sink.Supplementary,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding findings: %w", err)
	}
	data = append(data, '\n')

	if outPath == "-" || outPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outPath, data, 0o640)
}
