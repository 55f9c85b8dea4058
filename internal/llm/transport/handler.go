// Package transport defines the request pipeline shared by the LLM client and
// its middleware: provider-neutral requests and responses, the Handler
// abstraction, and the core HTTP handler that talks to provider adapters.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyContent indicates a provider returned a successful response with no
// text. Annotators cannot evaluate an empty response, so it is an error.
var ErrEmptyContent = errors.New("provider returned empty content")

// Router selects the provider adapter for a request.
type Router interface {
	Pick(provider, model string) (ProviderAdapter, error)
}

// ProviderAdapter abstracts provider-specific HTTP communication patterns.
type ProviderAdapter interface {
	Build(ctx context.Context, req *Request) (*http.Request, error)
	Parse(httpResp *http.Response) (*Response, error)
	Name() string
}

// Handler processes LLM requests through a composable middleware pipeline.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler. The first
// middleware is outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that performs provider HTTP calls.
func NewHTTPHandler(client *http.Client, router Router) Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpHandler{
		client: client,
		router: router,
		logger: slog.Default().With("component", "transport"),
	}
}

type httpHandler struct {
	client *http.Client
	router Router
	logger *slog.Logger
}

// Handle implements Handler by making HTTP requests to providers.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	adapter, err := h.router.Pick(req.Provider, req.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to select provider: %w", err)
	}

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := adapter.Build(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			h.logger.Debug("closing response body", "error", closeErr)
		}
	}()

	resp, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}
	resp.Usage.LatencyMs = latency.Milliseconds()

	if strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("%s/%s: %w", req.Provider, req.Model, ErrEmptyContent)
	}
	return resp, nil
}
