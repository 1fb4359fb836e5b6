package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/httpclient"
	"github.com/marginalia-ai/marginalia/pkg/observability"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the messages API. Anthropic takes no system
// role in the message list; system content is hoisted into the
// dedicated top-level slot.
type AnthropicProvider struct {
	cfg        *config.LLMProviderConfig
	httpClient *httpclient.Client
	baseURL    string
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewAnthropicProvider(cfg *config.LLMProviderConfig) (*AnthropicProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &AnthropicProvider{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.TimeoutDuration()}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
		baseURL: baseURL,
	}, nil
}

func (p *AnthropicProvider) Name() string       { return "anthropic" }
func (p *AnthropicProvider) ModelName() string  { return p.cfg.Model }
func (p *AnthropicProvider) IsConfigured() bool { return p.cfg.APIKey != "" }
func (p *AnthropicProvider) Close() error       { return nil }

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*ChatResult, error) {
	model := p.cfg.Model
	temperature := p.cfg.Temperature
	maxTokens := p.cfg.MaxTokens
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		if opts.Temperature > 0 {
			temperature = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			maxTokens = opts.MaxTokens
		}
	}

	start := time.Now()
	tracer := observability.GetTracer("marginalia.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, model),
			attribute.String(observability.AttrLLMProvider, "anthropic"),
		),
	)
	defer span.End()

	system, converted := splitSystem(messages)
	request := anthropicRequest{
		Model:       model,
		System:      system,
		Messages:    converted,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	if opts != nil && opts.JSONMode {
		// No native JSON mode; the instruction rides in the system slot.
		if request.System != "" {
			request.System += "\n\n"
		}
		request.System += "Respond with a single valid JSON object and nothing else."
	}

	response, err := p.post(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.LLMRequestsTotal.WithLabelValues("anthropic", "error").Inc()
		return nil, NewFailure(KindOf(err), "anthropic", err)
	}
	if response.Error != nil {
		apiErr := fmt.Errorf("Anthropic API error: %s", response.Error.Message)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		observability.LLMRequestsTotal.WithLabelValues("anthropic", "error").Inc()
		return nil, NewFailure(ErrKindUpstream, "anthropic", apiErr)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		parseErr := fmt.Errorf("Anthropic response contained no text blocks")
		span.RecordError(parseErr)
		observability.LLMRequestsTotal.WithLabelValues("anthropic", "error").Inc()
		return nil, NewFailure(ErrKindParse, "anthropic", parseErr)
	}

	tokens := response.Usage.InputTokens + response.Usage.OutputTokens
	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, response.Usage.InputTokens),
		attribute.Int(observability.AttrLLMTokensOutput, response.Usage.OutputTokens),
	)
	span.SetStatus(codes.Ok, "success")
	observability.LLMRequestsTotal.WithLabelValues("anthropic", "ok").Inc()
	observability.LLMTokensTotal.WithLabelValues("anthropic").Add(float64(tokens))
	observability.LLMRequestDuration.WithLabelValues("anthropic").Observe(time.Since(start).Seconds())

	return &ChatResult{
		Text:     text.String(),
		Tokens:   tokens,
		Provider: "anthropic",
		Model:    model,
	}, nil
}

// ListModels returns the configured model; Anthropic has no public
// listing endpoint worth depending on.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{p.cfg.Model}, nil
}

func (p *AnthropicProvider) post(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}

// splitSystem hoists system messages into the top-level system slot and
// converts the rest. Consecutive same-role messages are preserved;
// Anthropic tolerates them.
func splitSystem(messages []Message) (string, []anthropicMessage) {
	var system strings.Builder
	converted := make([]anthropicMessage, 0, len(messages))

	for _, m := range messages {
		if m.Role == RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		converted = append(converted, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	// The messages API requires the first message to be from the user.
	if len(converted) == 0 || converted[0].Role != string(RoleUser) {
		converted = append([]anthropicMessage{{Role: string(RoleUser), Content: "Continue."}}, converted...)
	}

	return system.String(), converted
}
