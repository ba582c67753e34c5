package visionhttp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/docuflow/review-engine/internal/core/domain"
	"github.com/docuflow/review-engine/internal/infrastructure/resilience"
)

// Client calls the vision analysis service over HTTP. The service
// extracts fields from a document image and reports a confidence score.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithResilienceExecutor(executor *resilience.Executor) Option {
	return func(c *Client) { c.executor = executor }
}

func New(baseURL, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type analyzeRequest struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Model      string `json:"model,omitempty"`
}

func (c *Client) Analyze(ctx context.Context, doc *domain.Document) (domain.AnalysisResult, error) {
	request := analyzeRequest{
		DocumentID: doc.ID,
		Name:       doc.Name,
		Type:       string(doc.Type),
		Model:      c.model,
	}

	var result domain.AnalysisResult
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/v1/analyze", request, &result, "analyze")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "vision.analyze", call, classifyVisionError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.AnalysisResult{}, wrapTemporaryIfNeeded("analyze document", err)
	}

	if err := result.Validate(); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analysis response for %s: %w", doc.ID, err)
	}
	return result, nil
}
