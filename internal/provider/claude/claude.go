package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mindgains/orchestrator/internal/provider"
)

const anthropicVersion = "2023-06-01"

type ClaudeProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type Option func(*ClaudeProvider)

func WithBaseURL(url string) Option {
	return func(p *ClaudeProvider) { p.baseURL = url }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *ClaudeProvider) { p.client = c }
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string          `json:"id"`
	Content []claudeContent `json:"content"`
	Model   string          `json:"model"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func New(apiKey string, opts ...Option) provider.Transport {
	p := &ClaudeProvider{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ClaudeProvider) Generate(ctx context.Context, req *provider.Request) (string, error) {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return "", provider.Wrap(p.ID(), err)
	}

	url := fmt.Sprintf("%s/messages", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", provider.Wrap(p.ID(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient().Do(httpReq)
	if err != nil {
		return "", provider.Wrap(p.ID(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", provider.StatusError(p.ID(), resp.StatusCode, respBody)
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return "", provider.Wrap(p.ID(), fmt.Errorf("decode response: %w", err))
	}

	for _, c := range claudeResp.Content {
		if c.Type == "text" && c.Text != "" {
			return c.Text, nil
		}
	}
	return "", provider.Wrap(p.ID(), fmt.Errorf("response contained no text content"))
}

func (p *ClaudeProvider) mapRequest(req *provider.Request) claudeRequest {
	return claudeRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      provider.SystemInstruction(req.Category),
		Temperature: req.Temperature,
		Messages: []claudeMessage{
			{Role: "user", Content: req.Prompt},
		},
	}
}

func (p *ClaudeProvider) httpClient() *http.Client {
	if p.client == nil {
		return http.DefaultClient
	}
	return p.client
}

func (p *ClaudeProvider) ID() provider.ID {
	return provider.Claude
}
