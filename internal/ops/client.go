// internal/ops/client.go
package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/failoverd/internal/health"
)

const (
	// FastLatency and below scores a full 100
	FastLatency = 100 * time.Millisecond

	defaultSlowThreshold = 2 * time.Second
	maxErrorBody         = 512
)

// ErrUnknownTarget is returned for targets with no admin URL
var ErrUnknownTarget = errors.New("ops: unknown target")

// Admin endpoint paths, relative to a target's admin URL
const (
	pathHealth   = "health"
	pathCapacity = "capacity"
	pathSync     = "sync"
	pathServices = "services"

	pathDrain          = "drain"
	pathPromote        = "promote"
	pathRouting        = "routing"
	pathStartServices  = "services/start"
	pathVerifyServices = "services/verify"
)

// Client drives targets through their HTTP admin endpoints. It measures
// probe latency for health checks and runs failover steps as POSTs.
type Client struct {
	targets       map[string]string
	http          *http.Client
	slowThreshold time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithSlowThreshold sets the latency at which a probe scores 0
func WithSlowThreshold(d time.Duration) ClientOption {
	return func(c *Client) {
		c.slowThreshold = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the given target name to admin URL map
func NewClient(targets map[string]string, opts ...ClientOption) *Client {
	c := &Client{
		targets: make(map[string]string, len(targets)),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		slowThreshold: defaultSlowThreshold,
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for name, u := range targets {
		c.targets[name] = strings.TrimRight(u, "/")
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.slowThreshold <= FastLatency {
		c.slowThreshold = defaultSlowThreshold
	}
	return c
}

// LatencyScore maps a response time to 0..100: 100 up to FastLatency, then
// falling linearly to 0 at slow
func LatencyScore(latency, slow time.Duration) float64 {
	if latency <= FastLatency {
		return health.MaxScore
	}
	if latency >= slow {
		return 0
	}
	span := float64(slow - FastLatency)
	return health.MaxScore * (1 - float64(latency-FastLatency)/span)
}

// Check implements health.Checker. The check's own endpoint is probed when set,
// otherwise the target's admin health endpoint.
func (c *Client) Check(ctx context.Context, spec health.CheckSpec) (bool, float64, error) {
	endpoint := spec.Endpoint
	if endpoint == "" {
		u, err := c.url(spec.Name, pathHealth)
		if err != nil {
			return false, 0, err
		}
		endpoint = u
	}

	latency, status, err := c.probe(ctx, endpoint)
	if err != nil {
		return false, 0, err
	}
	if status < 200 || status > 299 {
		return false, 0, fmt.Errorf("unexpected status %d", status)
	}
	return true, LatencyScore(latency, c.slowThreshold), nil
}

// CheckTargetHealth probes the target's admin health endpoint
func (c *Client) CheckTargetHealth(ctx context.Context, name string) (health.Status, error) {
	_, score, err := c.Check(ctx, health.CheckSpec{Name: name, Retries: 1})
	if err != nil {
		return health.Status{}, err
	}
	return health.NewStatus(name, score, c.now()), nil
}

// CheckTargetCapacity asks whether the target can absorb primary traffic
func (c *Client) CheckTargetCapacity(ctx context.Context, name string) (bool, error) {
	return c.query(ctx, name, pathCapacity)
}

// CheckDataSynchronization asks whether the target's data is caught up
func (c *Client) CheckDataSynchronization(ctx context.Context, name string) (bool, error) {
	return c.query(ctx, name, pathSync)
}

// CheckServicesHealth asks whether the target's services are healthy
func (c *Client) CheckServicesHealth(ctx context.Context, name string) (bool, error) {
	return c.query(ctx, name, pathServices)
}

// DrainTraffic moves traffic off the target
func (c *Client) DrainTraffic(ctx context.Context, name string) error {
	return c.command(ctx, name, pathDrain)
}

// PromoteRegion makes the target the primary
func (c *Client) PromoteRegion(ctx context.Context, name string) error {
	return c.command(ctx, name, pathPromote)
}

// UpdateRouting points routing at the target
func (c *Client) UpdateRouting(ctx context.Context, name string) error {
	return c.command(ctx, name, pathRouting)
}

// StartServices starts the target's services
func (c *Client) StartServices(ctx context.Context, name string) error {
	return c.command(ctx, name, pathStartServices)
}

// VerifyServices asks the target to confirm its services are up
func (c *Client) VerifyServices(ctx context.Context, name string) error {
	return c.command(ctx, name, pathVerifyServices)
}

func (c *Client) url(name, path string) (string, error) {
	base, ok := c.targets[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}
	return base + "/" + path, nil
}

func (c *Client) probe(ctx context.Context, endpoint string) (time.Duration, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return c.now().Sub(start), resp.StatusCode, nil
}

type queryResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func (c *Client) query(ctx context.Context, name, path string) (bool, error) {
	u, err := c.url(name, path)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", path, name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, statusError(path, name, resp)
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return false, fmt.Errorf("%s %s: decode response: %w", path, name, err)
	}
	if !qr.OK && qr.Message != "" {
		c.logger.Debug("target check negative",
			zap.String("target", name),
			zap.String("check", path),
			zap.String("message", qr.Message))
	}
	return qr.OK, nil
}

func (c *Client) command(ctx context.Context, name, path string) error {
	u, err := c.url(name, path)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{"target": name})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", path, name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(path, name, resp)
	}
	c.logger.Debug("target command succeeded",
		zap.String("target", name),
		zap.String("command", path))
	return nil
}

func statusError(path, name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("%s %s: status %d", path, name, resp.StatusCode)
	}
	return fmt.Errorf("%s %s: status %d: %s", path, name, resp.StatusCode, msg)
}
