package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/triagehq/detonator/pkg/core"
	"github.com/triagehq/detonator/pkg/errors"
)

const (
	defaultTimeout     = 2 * time.Minute
	defaultRequestRate = rate.Limit(10)
	defaultBurst       = 5
)

// Config holds the sandbox client configuration.
type Config struct {
	// BaseURL is the root of the backend REST API, e.g.
	// "https://sandbox.example.com:8090".
	BaseURL string

	// APIKey is sent on every request as a bearer token.
	APIKey string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// RequestRate caps outbound request frequency. Zero disables
	// rate limiting.
	RequestRate rate.Limit
	Burst       int

	HTTPClient *http.Client
	Logger     core.Logger
}

// Option configures a Client.
type Option func(*Config)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRateLimit caps request frequency at r with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Config) {
		c.RequestRate = r
		c.Burst = burst
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(l core.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Client talks to one sandbox backend instance. Methods perform a
// single request each; callers own retry policy.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     core.Logger
}

// NewClient builds a sandbox API client for the given backend.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.E(errors.KindInvalidInput, "sandbox.NewClient", "base URL is required")
	}
	if apiKey == "" {
		return nil, errors.ErrMissingAPIKey
	}

	cfg := &Config{
		Timeout:     defaultTimeout,
		RequestRate: defaultRequestRate,
		Burst:       defaultBurst,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = &core.NopLogger{}
	}

	var limiter *rate.Limiter
	if cfg.RequestRate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RequestRate, burst)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    hc,
		limiter: limiter,
		log:     log,
	}, nil
}

// do issues one request and returns the status code and body. Transport
// failures are classified as network or timeout errors.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, errors.E(errors.KindTimeout, op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, errors.E(errors.KindInvalidInput, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if uerr, ok := err.(*url.Error); ok && uerr.Timeout() {
			return 0, nil, errors.E(errors.KindTimeout, op, "request timed out", err)
		}
		return 0, nil, errors.E(errors.KindNetwork, op, "sandbox backend unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, errors.E(errors.KindNetwork, op, "reading response body", err)
	}
	return resp.StatusCode, data, nil
}

// SubmitFile uploads content for analysis and returns the new task ID.
// A backend 500 is returned as an HTTPError so callers can react to it
// specifically.
func (c *Client) SubmitFile(ctx context.Context, fileName string, content []byte, opts *SubmitOptions) (int64, error) {
	const op = "sandbox.SubmitFile"
	if opts == nil {
		opts = &SubmitOptions{}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return 0, errors.E(errors.KindUnknown, op, err)
	}
	if _, err := fw.Write(content); err != nil {
		return 0, errors.E(errors.KindUnknown, op, err)
	}

	fields := map[string]string{
		"timeout": strconv.Itoa(opts.Timeout),
	}
	if opts.Package != "" {
		fields["package"] = opts.Package
	}
	if opts.Options != "" {
		fields["options"] = opts.Options
	}
	if opts.Custom != "" {
		fields["custom"] = opts.Custom
	}
	if opts.Memory {
		fields["memory"] = "True"
	}
	if opts.EnforceTimeout {
		fields["enforce_timeout"] = "True"
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return 0, errors.E(errors.KindUnknown, op, err)
		}
	}
	if err := mw.Close(); err != nil {
		return 0, errors.E(errors.KindUnknown, op, err)
	}

	status, data, err := c.do(ctx, op, http.MethodPost, "/tasks/create/file", &buf, mw.FormDataContentType())
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, errors.E(errors.KindSubmission, op,
			fmt.Sprintf("file submission rejected for %q", fileName),
			&errors.HTTPError{StatusCode: status, Body: string(data)})
	}

	id, err := parseTaskID(data)
	if err != nil {
		return 0, errors.E(errors.KindSubmission, op, err)
	}
	c.log.Debug("submitted %q as task %d", fileName, id)
	return id, nil
}

// parseTaskID extracts the task ID from a create/file response. The
// backend returns either task_id or a task_ids list.
func parseTaskID(data []byte) (int64, error) {
	var resp struct {
		TaskID  int64   `json:"task_id"`
		TaskIDs []int64 `json:"task_ids"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("decoding submission response: %w", err)
	}
	if resp.TaskID > 0 {
		return resp.TaskID, nil
	}
	if len(resp.TaskIDs) > 0 && resp.TaskIDs[0] > 0 {
		return resp.TaskIDs[0], nil
	}
	return 0, fmt.Errorf("submission response contained no task ID")
}

// TaskView fetches the current state of a task. A missing task returns
// (nil, nil).
func (c *Client) TaskView(ctx context.Context, taskID int64) (*TaskInfo, error) {
	const op = "sandbox.TaskView"

	status, data, err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("/tasks/view/%d", taskID), nil, "")
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, errors.E(errors.KindUnknown, op,
			&errors.HTTPError{StatusCode: status, Body: string(data)})
	}

	var resp struct {
		Task TaskInfo `json:"task"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.E(errors.KindUnknown, op, "decoding task view", err)
	}
	if resp.Task.ID == 0 {
		return nil, nil
	}
	return &resp.Task, nil
}

// ReportJSON fetches the JSON analysis report for a task. A 404 maps to
// a missing-report error.
func (c *Client) ReportJSON(ctx context.Context, taskID int64) ([]byte, error) {
	const op = "sandbox.ReportJSON"

	status, data, err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("/tasks/report/%d", taskID), nil, "")
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		if len(data) == 0 {
			return nil, errors.E(errors.KindMissingReport, op, "backend returned an empty report")
		}
		return data, nil
	case http.StatusNotFound:
		return nil, errors.E(errors.KindMissingReport, op, errors.ErrMissingReport)
	default:
		return nil, errors.E(errors.KindUnknown, op,
			&errors.HTTPError{StatusCode: status, Body: string(data)})
	}
}

// ReportArchive fetches the full analysis bundle (report, dropped
// files, memory dumps) as a compressed tar archive.
func (c *Client) ReportArchive(ctx context.Context, taskID int64, compression ArchiveCompression) ([]byte, error) {
	const op = "sandbox.ReportArchive"
	if compression == "" {
		compression = CompressionGzip
	}

	path := fmt.Sprintf("/tasks/report/%d/all?tar=%s", taskID, compression)
	status, data, err := c.do(ctx, op, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return data, nil
	case http.StatusNotFound:
		return nil, errors.E(errors.KindMissingReport, op, errors.ErrMissingReport)
	default:
		return nil, errors.E(errors.KindUnknown, op,
			&errors.HTTPError{StatusCode: status, Body: string(data)})
	}
}

// DroppedFiles fetches the compressed tar archive of files the sample
// wrote to disk during the analysis. A task without dropped files
// returns (nil, nil).
func (c *Client) DroppedFiles(ctx context.Context, taskID int64) ([]byte, error) {
	const op = "sandbox.DroppedFiles"

	status, data, err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("/tasks/report/%d/dropped", taskID), nil, "")
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return data, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, errors.E(errors.KindUnknown, op,
			&errors.HTTPError{StatusCode: status, Body: string(data)})
	}
}

// PCAP fetches the captured network traffic for a task. Absent capture
// returns (nil, nil).
func (c *Client) PCAP(ctx context.Context, taskID int64) ([]byte, error) {
	const op = "sandbox.PCAP"

	status, data, err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("/pcap/get/%d", taskID), nil, "")
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return data, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, errors.E(errors.KindUnknown, op,
			&errors.HTTPError{StatusCode: status, Body: string(data)})
	}
}

// DeleteTask removes a finished task and its stored artifacts from the
// backend.
func (c *Client) DeleteTask(ctx context.Context, taskID int64) error {
	const op = "sandbox.DeleteTask"

	status, data, err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("/tasks/delete/%d", taskID), nil, "")
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return errors.E(errors.KindUnknown, op,
			&errors.HTTPError{StatusCode: status, Body: string(data)})
	}
}

// ListMachines returns the analysis VMs the backend exposes. Any
// non-200 answer is treated as the backend being busy.
func (c *Client) ListMachines(ctx context.Context) ([]Machine, error) {
	const op = "sandbox.ListMachines"

	status, data, err := c.do(ctx, op, http.MethodGet, "/machines/list", nil, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.E(errors.KindBusy, op, "sandbox VM pool exhausted",
			&errors.HTTPError{StatusCode: status, Body: string(data)})
	}

	var resp struct {
		Machines []Machine `json:"machines"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.E(errors.KindUnknown, op, "decoding machine list", err)
	}
	return resp.Machines, nil
}

// MachineInfo looks up a single analysis VM by name. A missing machine
// returns (nil, nil).
func (c *Client) MachineInfo(ctx context.Context, name string) (*Machine, error) {
	const op = "sandbox.MachineInfo"

	status, data, err := c.do(ctx, op, http.MethodGet, "/machines/view/"+url.PathEscape(name), nil, "")
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, errors.E(errors.KindUnknown, op,
			&errors.HTTPError{StatusCode: status, Body: string(data)})
	}

	var resp struct {
		Machine Machine `json:"machine"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.E(errors.KindUnknown, op, "decoding machine view", err)
	}
	if resp.Machine.Name == "" {
		return nil, nil
	}
	return &resp.Machine, nil
}
