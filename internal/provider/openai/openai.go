package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mindgains/orchestrator/internal/provider"
)

type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type Option func(*OpenAIProvider)

func WithBaseURL(url string) Option {
	return func(p *OpenAIProvider) { p.baseURL = url }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *OpenAIProvider) { p.client = c }
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

func New(apiKey string, opts ...Option) provider.Transport {
	p := &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) Generate(ctx context.Context, req *provider.Request) (string, error) {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return "", provider.Wrap(p.ID(), err)
	}

	url := fmt.Sprintf("%s/chat/completions", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", provider.Wrap(p.ID(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	resp, err := p.httpClient().Do(httpReq)
	if err != nil {
		return "", provider.Wrap(p.ID(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", provider.StatusError(p.ID(), resp.StatusCode, respBody)
	}

	var openAIResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openAIResp); err != nil {
		return "", provider.Wrap(p.ID(), fmt.Errorf("decode response: %w", err))
	}

	if len(openAIResp.Choices) == 0 {
		return "", provider.Wrap(p.ID(), fmt.Errorf("response contained no choices"))
	}

	return openAIResp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) mapRequest(req *provider.Request) openAIRequest {
	return openAIRequest{
		Model: req.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: provider.SystemInstruction(req.Category)},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func (p *OpenAIProvider) httpClient() *http.Client {
	if p.client == nil {
		return http.DefaultClient
	}
	return p.client
}

func (p *OpenAIProvider) ID() provider.ID {
	return provider.OpenAI
}
