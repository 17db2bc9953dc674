package verifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/marketplace/config"
	"github.com/d60-Lab/marketplace/pkg/logger"
)

// HTTPClient talks to an OpenAI-compatible chat completions endpoint with
// vision support.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	window  time.Duration
	http    *http.Client
}

// NewHTTPClient builds a client from payment config. The timeout bounds the
// whole call including reading the body.
func NewHTTPClient(cfg config.PaymentConfig) *HTTPClient {
	timeout := cfg.VerifierTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.VerifierURL, "/"),
		apiKey:  cfg.VerifierAPIKey,
		model:   cfg.VerifierModel,
		window:  cfg.RecencyWindow,
		http:    &http.Client{Timeout: timeout},
	}
}

type chatContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends the image with the order-specific prompt and parses the reply.
func (c *HTTPClient) Extract(ctx context.Context, req Request) (*Extraction, error) {
	ctx, span := otel.Tracer("marketplace/verifier").Start(ctx, "verifier.Extract", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("verifier.model", c.model),
		attribute.Int("verifier.image_bytes", len(req.Image)),
	)

	ext, err := c.extract(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("verifier.verified", ext.Verified),
		attribute.Float64("verifier.confidence", ext.Confidence),
	)
	return ext, nil
}

func (c *HTTPClient) extract(ctx context.Context, req Request) (*Extraction, error) {
	ct := req.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: BuildPrompt(req.ExpectedAmount, req.ExpectedReceiver, c.window)},
				{Type: "image_url", ImageURL: &imageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", ct, base64.StdEncoding.EncodeToString(req.Image)),
				}},
			},
		}},
		Temperature: 0.1,
		MaxTokens:   1000,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrExternalService, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrExternalService, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrExternalService, err)
	}
	logger.Debug("verifier call finished",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrExternalService, resp.StatusCode, truncate(string(raw), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrExternalService, err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrExternalService)
	}
	return ParseContent(cr.Choices[0].Message.Content)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
