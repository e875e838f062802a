package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vk/tradegrid/internal/ctxlog"
)

// HTTPConfig holds the connection settings shared by the HTTP clients.
type HTTPConfig struct {
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	// Client overrides the underlying transport; tests point it at httptest.
	Client *http.Client
}

func (c HTTPConfig) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// HTTPLLM talks to the chat-completion endpoint of the LLM service.
type HTTPLLM struct {
	cfg  HTTPConfig
	http *http.Client
}

// NewHTTPLLM creates an LLM client for cfg.BaseURL.
func NewHTTPLLM(cfg HTTPConfig) *HTTPLLM {
	return &HTTPLLM{cfg: cfg, http: cfg.httpClient()}
}

type chatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Invoke sends req.Messages and returns the first choice's content.
func (c *HTTPLLM) Invoke(ctx context.Context, req Request) (Response, error) {
	const op = "llm.chat_completion"
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	body := chatRequest{
		Messages:    req.Messages,
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	var out chatResponse
	if err := doJSON(ctx, c.http, http.MethodPost, c.cfg.BaseURL+"/api/v1/chat/completions", body, &out, op); err != nil {
		return Response{}, err
	}
	if len(out.Choices) == 0 {
		return Response{}, &Error{Op: op, Err: errors.New("response contained no choices")}
	}
	return Response{Content: out.Choices[0].Message.Content}, nil
}

// HTTPData talks to the market data service.
type HTTPData struct {
	cfg  HTTPConfig
	http *http.Client
}

// NewHTTPData creates a data client for cfg.BaseURL.
func NewHTTPData(cfg HTTPConfig) *HTTPData {
	return &HTTPData{cfg: cfg, http: cfg.httpClient()}
}

// Invoke maps req.Operation onto the data service's endpoints.
func (c *HTTPData) Invoke(ctx context.Context, req Request) (Response, error) {
	op := "data." + req.Operation
	symbol := url.PathEscape(req.Params["symbol"])
	var (
		method = http.MethodGet
		path   string
		body   any
	)
	switch req.Operation {
	case OpStockData:
		method, path, body = http.MethodPost, "/api/stock/data", req.Params
	case OpMarketData:
		path = "/api/v1/market/data"
	case OpFinancialData:
		path = "/api/v1/financial/data"
	case OpNews:
		path = "/api/stock/news/" + symbol
	case OpStockInfo:
		path = "/api/stock/info/" + symbol
	default:
		return Response{}, &Error{Op: op, Err: fmt.Errorf("unknown data operation %q", req.Operation)}
	}

	target := c.cfg.BaseURL + path
	if method == http.MethodGet && len(req.Params) > 0 {
		q := url.Values{}
		for k, v := range req.Params {
			q.Set(k, v)
		}
		target += "?" + q.Encode()
	}

	var out map[string]any
	if err := doJSON(ctx, c.http, method, target, body, &out, op); err != nil {
		return Response{}, err
	}
	content, _ := json.Marshal(out)
	return Response{Content: string(content), Data: out}, nil
}

func doJSON(ctx context.Context, hc *http.Client, method, target string, in, out any, op string) error {
	logger := ctxlog.FromContext(ctx)

	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Debug("Calling external service.", "op", op, "method", method, "url", target)
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return &Error{Op: op, Retryable: true, Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Retryable: true, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if resp.StatusCode >= 300 {
		return &Error{
			Op:        op,
			Status:    resp.StatusCode,
			Retryable: retryableStatus(resp.StatusCode),
			Err:       errors.New(strings.TrimSpace(string(raw))),
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
