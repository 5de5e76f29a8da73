// Package httpadapter is the REST scaffold for a real cloud GPU provider:
// a thin BaseClient (HTTP client + logger + circuit breaker, grounded on the
// reference AI provider clients' BaseClient) wrapping price/provision/
// execute/metrics/terminate as plain JSON REST calls, with a per-adapter
// circuit breaker so one struggling provider can't stall the Router.
package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
	"github.com/ormind-ai/ormind/pkg/provider"
)

// BaseClient holds the HTTP plumbing shared by every REST-backed provider
// adapter: timeout, logger, and a per-adapter circuit breaker.
type BaseClient struct {
	HTTPClient *http.Client
	Logger     core.Logger
	Breaker    *gobreaker.CircuitBreaker

	BaseURL string
	APIKey  string
}

// NewBaseClient builds a BaseClient with a gobreaker.CircuitBreaker
// configured from cbCfg: name is used as the breaker's identity for
// logging and metrics.
func NewBaseClient(name, baseURL, apiKey string, timeout time.Duration, cbCfg core.CircuitBreakerConfig, logger core.Logger) *BaseClient {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cbCfg.HalfOpenRequests),
		Timeout:     cbCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cbCfg.Threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker state change", map[string]interface{}{
				"provider": name, "from": from.String(), "to": to.String(),
			})
		},
	}
	return &BaseClient{
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
		Breaker:    gobreaker.NewCircuitBreaker(settings),
		BaseURL:    baseURL,
		APIKey:     apiKey,
	}
}

// DoJSON issues method/path with body marshaled as JSON (if non-nil) and
// unmarshals the response into out (if non-nil), all inside the circuit
// breaker. Adapter-specific error classification (transient/permanent/
// rate_limited) happens in the caller via classifyStatus.
func (b *BaseClient) DoJSON(ctx context.Context, method, path string, body interface{}, out interface{}) (int, error) {
	result, err := b.Breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("httpadapter: marshal request: %w", err)
			}
			reader = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("httpadapter: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if b.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+b.APIKey)
		}
		resp, err := b.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("httpadapter: read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return resp.StatusCode, fmt.Errorf("httpadapter: status %d: %s", resp.StatusCode, string(data))
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return resp.StatusCode, fmt.Errorf("httpadapter: decode response: %w", err)
			}
		}
		return resp.StatusCode, nil
	})
	status, _ := result.(int)
	return status, err
}

// classifyStatus maps an HTTP status code to a provider.Kind.
func classifyStatus(name string, status int, err error) error {
	if err == nil {
		return nil
	}
	var kind provider.Kind
	switch {
	case status == http.StatusTooManyRequests:
		kind = provider.KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusBadRequest:
		kind = provider.KindPermanent
	case status == http.StatusServiceUnavailable || status == http.StatusConflict:
		kind = provider.KindUnavailable
	case status >= 500:
		kind = provider.KindTransient
	case status == 0:
		kind = provider.KindTransient // network-level failure, no status
	default:
		kind = provider.KindUnknownState
	}
	return &provider.Error{Provider: name, Kind: kind, Err: err}
}

// Adapter implements provider.Adapter over a generic REST GPU-provisioning
// API. Concrete providers (AWS/GCP/Lambda/CoreWeave-shaped backends) can
// embed this with their own path/payload conventions; this version assumes
// a JSON shape close enough across providers to share one implementation,
// which is the common case for providers exposing an OpenAPI-style
// provisioning surface.
type Adapter struct {
	*BaseClient
	name         string
	priceBudget  time.Duration
}

// New builds an Adapter named name against baseURL, with the Provider
// Router's default price RPC budget.
func New(name, baseURL, apiKey string, cbCfg core.CircuitBreakerConfig, priceBudget time.Duration, logger core.Logger) *Adapter {
	return &Adapter{
		BaseClient:  NewBaseClient(name, baseURL, apiKey, 30*time.Second, cbCfg, logger),
		name:        name,
		priceBudget: priceBudget,
	}
}

func (a *Adapter) Name() string { return a.name }

type priceResponse struct {
	HourlyRate   float64 `json:"hourly_rate"`
	Availability string  `json:"availability"`
}

func (a *Adapter) Price(ctx context.Context, region, gpuClass string) (domain.PricePoint, error) {
	budgetCtx, cancel := context.WithTimeout(ctx, a.priceBudget)
	defer cancel()

	var resp priceResponse
	path := fmt.Sprintf("/v1/price?region=%s&gpu_class=%s", region, gpuClass)
	status, err := a.DoJSON(budgetCtx, http.MethodGet, path, nil, &resp)
	key := domain.PriceKey{Provider: a.name, Region: region, GPUClass: gpuClass}
	if err != nil {
		if budgetCtx.Err() != nil {
			// RPC budget exceeded: return the last known quote, marked stale,
			// rather than blocking the Router (spec §4.1).
			return domain.PricePoint{Key: key, Stale: true, ObservedAt: time.Now()}, nil
		}
		return domain.PricePoint{}, classifyStatus(a.name, status, err)
	}
	return domain.PricePoint{
		Key:          key,
		HourlyRate:   resp.HourlyRate,
		Availability: domain.Availability(resp.Availability),
		ObservedAt:   time.Now(),
	}, nil
}

type provisionRequest struct {
	Token    string `json:"token"`
	Region   string `json:"region"`
	GPUClass string `json:"gpu_class"`
	GPUCount int    `json:"gpu_count"`
	Image    string `json:"image"`
}

type provisionResponse struct {
	InstanceID string  `json:"instance_id"`
	HourlyRate float64 `json:"hourly_rate"`
	State      string  `json:"state"`
}

func (a *Adapter) Provision(ctx context.Context, req provider.InstanceRequest) (domain.Instance, error) {
	var resp provisionResponse
	status, err := a.DoJSON(ctx, http.MethodPost, "/v1/instances", provisionRequest{
		Token: req.Token, Region: req.Region, GPUClass: req.GPUClass, GPUCount: req.GPUCount, Image: req.Image,
	}, &resp)
	if err != nil {
		return domain.Instance{}, classifyStatus(a.name, status, err)
	}
	return domain.Instance{
		ID:         resp.InstanceID,
		Provider:   a.name,
		Region:     req.Region,
		GPUClass:   req.GPUClass,
		GPUCount:   req.GPUCount,
		HourlyRate: resp.HourlyRate,
		State:      domain.InstanceState(resp.State),
	}, nil
}

func (a *Adapter) Execute(ctx context.Context, inst domain.Instance, command string, env map[string]string) (provider.CommandHandle, error) {
	var resp struct {
		CommandID string `json:"command_id"`
	}
	status, err := a.DoJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/instances/%s/exec", inst.ID), map[string]interface{}{
		"command": command, "env": env,
	}, &resp)
	if err != nil {
		return nil, classifyStatus(a.name, status, err)
	}
	return newStreamHandle(a, inst.ID, resp.CommandID), nil
}

type metricsResponse struct {
	GPUUtilizationPct float64 `json:"gpu_utilization_pct"`
	VRAMUsagePct      float64 `json:"vram_usage_pct"`
	TempCelsius       float64 `json:"temp_celsius"`
	InterconnectGbps  float64 `json:"interconnect_gbps"`
	OOMSignal         bool    `json:"oom_signal"`
}

func (a *Adapter) Metrics(ctx context.Context, inst domain.Instance) (domain.TelemetrySample, error) {
	var resp metricsResponse
	status, err := a.DoJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/instances/%s/metrics", inst.ID), nil, &resp)
	if err != nil {
		return domain.TelemetrySample{}, classifyStatus(a.name, status, err)
	}
	return domain.TelemetrySample{
		InstanceID:        inst.ID,
		GPUUtilizationPct: resp.GPUUtilizationPct,
		VRAMUsagePct:      resp.VRAMUsagePct,
		TempCelsius:       resp.TempCelsius,
		InterconnectGbps:  resp.InterconnectGbps,
		OOMSignal:         resp.OOMSignal,
		Timestamp:         time.Now(),
	}, nil
}

func (a *Adapter) Terminate(ctx context.Context, inst domain.Instance) error {
	status, err := a.DoJSON(ctx, http.MethodDelete, fmt.Sprintf("/v1/instances/%s", inst.ID), nil, nil)
	if err != nil && status != http.StatusNotFound {
		// A 404 means the instance is already gone server-side: Terminate
		// must still succeed (invariant R2).
		return classifyStatus(a.name, status, err)
	}
	return nil
}
