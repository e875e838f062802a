// Package clients defines the boundary between stage handlers and the
// external services they call: the LLM inference service and the market data
// service. Concrete clients are plain HTTP adapters; resilience (retries,
// circuit breaking, rate limiting) is layered on top by wrapping.
package clients

import (
	"context"
)

// Kind names a class of pooled client.
type Kind string

const (
	KindLLM  Kind = "llm"
	KindData Kind = "data"
)

// Message is one chat turn sent to the LLM service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a service-agnostic call description. LLM clients read Messages,
// Model and Temperature; data clients read Operation and Params.
type Request struct {
	Operation   string
	Params      map[string]string
	Messages    []Message
	Model       string
	Temperature float64
}

// Response carries either generated text or decoded service data.
type Response struct {
	Content string
	Data    map[string]any
}

// Client is a single external-service connection.
type Client interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Func adapts an ordinary function to the Client interface.
type Func func(ctx context.Context, req Request) (Response, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Factory builds a new client instance. Pools call it once per slot.
type Factory func() (Client, error)

// Data service operations.
const (
	OpStockData     = "stock_data"
	OpMarketData    = "market_data"
	OpFinancialData = "financial_data"
	OpNews          = "news"
	OpStockInfo     = "stock_info"
)
