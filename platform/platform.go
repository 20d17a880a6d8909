/*
Copyright 2024 Adpilot Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package platform wraps the external ad platform API. All mutations of live
// campaigns go through the Client interface so the executor can be tested
// without touching a real platform account.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/adpilot-io/adpilot/internal/request"
)

// Client applies approved changes to live ads on the external platform.
// Every call returns the platform's reference id for the applied mutation.
type Client interface {
	SetBudget(ctx context.Context, tenantID, adID string, dailyBudget decimal.Decimal) (string, error)
	PauseAd(ctx context.Context, tenantID, adID string) (string, error)
	ResumeAd(ctx context.Context, tenantID, adID string) (string, error)
	KillAd(ctx context.Context, tenantID, adID string) (string, error)
}

// APIError is a non-2xx response from the platform API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error (status %d): %s", e.StatusCode, e.Message)
}

// Transient reports whether retrying the same call can reasonably succeed.
// Rate limits and server-side failures are transient; rejections are not.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient classifies an error from a Client call. Network timeouts and
// retryable API statuses return true; validation and auth failures return
// false so the caller can stop retrying immediately.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	// Connection-level failures without a status are worth retrying
	return errors.As(err, new(*net.OpError))
}

// HTTPClient is the production Client talking JSON over HTTP.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a platform client against the given base URL.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type mutationResponse struct {
	Ref     string `json:"ref"`
	Message string `json:"message"`
}

// SetBudget sets the ad's daily budget to the given amount.
func (h *HTTPClient) SetBudget(ctx context.Context, tenantID, adID string, dailyBudget decimal.Decimal) (string, error) {
	return h.mutate(ctx, tenantID, adID, "budget", map[string]interface{}{
		"daily_budget": dailyBudget.String(),
	})
}

// PauseAd stops delivery without discarding the ad's learning phase.
func (h *HTTPClient) PauseAd(ctx context.Context, tenantID, adID string) (string, error) {
	return h.mutate(ctx, tenantID, adID, "pause", nil)
}

// ResumeAd restarts delivery of a paused ad.
func (h *HTTPClient) ResumeAd(ctx context.Context, tenantID, adID string) (string, error) {
	return h.mutate(ctx, tenantID, adID, "resume", nil)
}

// KillAd permanently stops the ad.
func (h *HTTPClient) KillAd(ctx context.Context, tenantID, adID string) (string, error) {
	return h.mutate(ctx, tenantID, adID, "kill", nil)
}

func (h *HTTPClient) mutate(ctx context.Context, tenantID, adID, action string, body map[string]interface{}) (string, error) {
	ctx, span := otel.Tracer("Platform").Start(ctx, fmt.Sprintf("Applying %s", action))
	defer span.End()

	if body == nil {
		body = map[string]interface{}{}
	}
	payload, err := request.ToJsonReq(&body)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to encode platform payload")
	}

	url := fmt.Sprintf("%s/v1/accounts/%s/ads/%s/%s", h.baseURL, tenantID, adID, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to build platform request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", h.apiKey))

	resp, err := h.client.Do(req)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "platform %s call failed", action)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to read platform response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := string(raw)
		var decoded mutationResponse
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr == nil && decoded.Message != "" {
			message = decoded.Message
		}
		return "", &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	var decoded mutationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", pkgerrors.Wrap(err, "failed to decode platform response")
	}
	return decoded.Ref, nil
}
