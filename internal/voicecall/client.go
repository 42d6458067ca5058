package voicecall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tasklane/orchestrator/internal/metrics"
	"github.com/tasklane/orchestrator/internal/tracing"
)

// Config holds voice platform client settings.
type Config struct {
	BaseURL        string
	Token          string
	AssistantID    string
	PhoneNumberID  string
	Timeout        time.Duration
	RequestsPerSec float64
}

// Client places outbound calls through a voice-call platform. Call outcomes
// arrive asynchronously on the webhook surface; this client only starts
// calls.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a voice platform client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

// AssistantID returns the configured assistant identity used on calls.
func (c *Client) AssistantID() string { return c.cfg.AssistantID }

type createCallRequest struct {
	PhoneNumberID string       `json:"phone_number_id"`
	AssistantID   string       `json:"assistant_id"`
	Customer      callCustomer `json:"customer"`
}

type callCustomer struct {
	Number string `json:"number"`
}

type createCallResponse struct {
	ID string `json:"id"`
}

// CreateCall starts an outbound call and returns the provider call id.
func (c *Client) CreateCall(ctx context.Context, phoneNumber, assistantID string) (string, error) {
	if phoneNumber == "" {
		return "", fmt.Errorf("phone number is required")
	}
	if assistantID == "" {
		assistantID = c.cfg.AssistantID
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(createCallRequest{
		PhoneNumberID: c.cfg.PhoneNumberID,
		AssistantID:   assistantID,
		Customer:      callCustomer{Number: phoneNumber},
	})
	if err != nil {
		return "", fmt.Errorf("encode call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	tracing.InjectTraceparent(ctx, req)

	started := time.Now()
	resp, err := c.http.Do(req)
	metrics.CapabilityCallDuration.WithLabelValues("voice").Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.CapabilityCalls.WithLabelValues("voice", "error").Inc()
		return "", fmt.Errorf("create call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.CapabilityCalls.WithLabelValues("voice", "error").Inc()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("voice platform returned %d: %s", resp.StatusCode, string(data))
	}

	var out createCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.CapabilityCalls.WithLabelValues("voice", "error").Inc()
		return "", fmt.Errorf("decode call response: %w", err)
	}
	if out.ID == "" {
		metrics.CapabilityCalls.WithLabelValues("voice", "error").Inc()
		return "", fmt.Errorf("voice platform returned no call id")
	}

	metrics.CapabilityCalls.WithLabelValues("voice", "ok").Inc()
	c.logger.Info("Call created",
		zap.String("call_id", out.ID),
		zap.String("phone_number", phoneNumber))
	return out.ID, nil
}
