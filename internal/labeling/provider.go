package labeling

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/trendwire/pkg/models"
)

// Supported chat providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultAnthropicModel   = "claude-haiku-4-5-20251001"
	anthropicVersion        = "2023-06-01"
	maxResponseTokens       = 256
)

// ChatConfig configures a ChatProvider.
type ChatConfig struct {
	HTTPClient    *http.Client
	Provider      string
	BaseURL       string
	APIKey        string
	Model         string
	ExcerptTokens int
}

// ChatProvider labels clusters through an OpenAI-compatible or Anthropic
// chat endpoint.
type ChatProvider struct {
	client   *http.Client
	prompts  *PromptBuilder
	provider string
	endpoint string
	apiKey   string
	model    string
}

// NewChatProvider creates a provider from cfg.
func NewChatProvider(cfg ChatConfig) (*ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("label provider not configured: missing API key")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultCallTimeout}
	}

	p := &ChatProvider{
		client:   client,
		prompts:  NewPromptBuilder(cfg.ExcerptTokens),
		provider: strings.ToLower(cfg.Provider),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	switch p.provider {
	case "", ProviderOpenAI:
		p.provider = ProviderOpenAI
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}
		if p.model == "" {
			p.model = defaultOpenAIModel
		}
		p.endpoint = baseURL + "/chat/completions"
	case ProviderAnthropic:
		if baseURL == "" {
			baseURL = defaultAnthropicBaseURL
		}
		if p.model == "" {
			p.model = defaultAnthropicModel
		}
		p.endpoint = baseURL + "/messages"
	default:
		return nil, fmt.Errorf("unknown label provider: %q (valid: openai, anthropic)", cfg.Provider)
	}
	return p, nil
}

// GenerateLabel implements Provider.
func (p *ChatProvider) GenerateLabel(ctx context.Context, members []*models.Article) (models.ClusterLabel, error) {
	text, err := p.complete(ctx, p.prompts.Build(members))
	if err != nil {
		return models.ClusterLabel{}, err
	}
	return ParseLabel(text)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *ChatProvider) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxResponseTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", p.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.provider == ProviderAnthropic {
		req.Header.Set("x-api-key", p.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	} else {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	started := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", p.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &ProviderError{Provider: p.provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", p.provider, err)
	}

	var text string
	if p.provider == ProviderAnthropic {
		var ar anthropicResponse
		if err := json.Unmarshal(raw, &ar); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedLabel, err)
		}
		for _, c := range ar.Content {
			if c.Type == "" || c.Type == "text" {
				text = c.Text
				break
			}
		}
	} else {
		var or openAIResponse
		if err := json.Unmarshal(raw, &or); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedLabel, err)
		}
		if len(or.Choices) > 0 {
			text = or.Choices[0].Message.Content
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty %s response", ErrMalformedLabel, p.provider)
	}

	log.Debug().Str("provider", p.provider).Dur("latency", time.Since(started)).Msg("Label response received")
	return text, nil
}
