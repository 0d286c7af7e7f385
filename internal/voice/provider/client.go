// Package provider provides the HTTP client for the conversational-AI voice provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voicecrm_backend/platform/apperr"
	"voicecrm_backend/platform/config"
	"voicecrm_backend/platform/logger"
	"voicecrm_backend/platform/metrics"
)

const (
	apiKeyHeader   = "xi-api-key"
	defaultTimeout = 15 * time.Second
	maxDetailBytes = 8 << 20
)

// Client is the HTTP client for the provider's conversation API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *logger.Logger
}

// New creates a provider client from configuration.
func New(cfg config.VoiceProviderConfig, log *logger.Logger) *Client {
	timeout := cfg.GetVoiceProviderTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.GetVoiceProviderBaseURL(), "/"),
		apiKey:     cfg.GetVoiceProviderAPIKey(),
		log:        log,
	}
}

// GetConversation fetches the full detail of a finished conversation.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (map[string]any, error) {
	reqURL := fmt.Sprintf("%s/conversations/%s", c.baseURL, url.PathEscape(conversationID))

	start := time.Now()
	resp, err := c.do(ctx, reqURL, "application/json")
	if err != nil {
		metrics.ProviderFetchDuration.WithLabelValues("transport_error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()
	metrics.ProviderFetchDuration.WithLabelValues(http.StatusText(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if err := c.checkStatus(resp, conversationID); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxDetailBytes))
	dec.UseNumber()
	var detail map[string]any
	if err := dec.Decode(&detail); err != nil {
		c.log.Error("voice provider decode failed", "error", err, "conversationId", conversationID)
		return nil, apperr.Upstream("voice provider returned an unreadable conversation", err)
	}
	return detail, nil
}

// GetConversationAudio downloads the call recording.
// The caller is responsible for closing the returned body.
func (c *Client) GetConversationAudio(ctx context.Context, conversationID string) (io.ReadCloser, string, int64, error) {
	reqURL := fmt.Sprintf("%s/conversations/%s/audio", c.baseURL, url.PathEscape(conversationID))

	resp, err := c.do(ctx, reqURL, "audio/*")
	if err != nil {
		return nil, "", 0, err
	}
	if err := c.checkStatus(resp, conversationID); err != nil {
		resp.Body.Close()
		return nil, "", 0, err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	size := resp.ContentLength
	if size < 0 {
		// minio needs a known size for a single PutObject; buffer unknown lengths.
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, "", 0, apperr.Upstream("voice provider audio download interrupted", err)
		}
		return io.NopCloser(bytes.NewReader(data)), contentType, int64(len(data)), nil
	}
	return resp.Body, contentType, size, nil
}

func (c *Client) do(ctx context.Context, reqURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperr.Internal("failed to build provider request").WithOp("provider.do")
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("voice provider request failed", "error", err, "url", reqURL)
		return nil, apperr.Upstream("voice provider unreachable", err)
	}
	return resp, nil
}

func (c *Client) checkStatus(resp *http.Response, conversationID string) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		c.log.Error("voice provider rejected api key", "status", resp.StatusCode)
		return apperr.Upstream("voice provider rejected credentials", fmt.Errorf("status %d", resp.StatusCode))
	case http.StatusNotFound:
		c.log.Warn("voice provider conversation not found", "conversationId", conversationID)
		return apperr.Upstream("conversation not found at voice provider", fmt.Errorf("status %d", resp.StatusCode))
	default:
		c.log.Error("voice provider upstream error", "status", resp.StatusCode, "conversationId", conversationID)
		return apperr.Upstream("voice provider error", fmt.Errorf("status %d", resp.StatusCode))
	}
}
