// Package embedding generates article embeddings for articles ingested without one.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"

	"github.com/thebtf/trendwire/internal/textclean"
	"github.com/thebtf/trendwire/pkg/models"
)

const (
	// DefaultCohereModel is used when no model is configured.
	DefaultCohereModel = "embed-english-v3.0"
	// MaxCohereBatch is the largest number of texts sent in one embed call.
	MaxCohereBatch = 96
	// maxTextRunes bounds each embedded text.
	maxTextRunes = 2000
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// CohereConfig configures a CohereEmbedder.
type CohereConfig struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
}

// CohereEmbedder implements Embedder with the Cohere v2 embed API.
type CohereEmbedder struct {
	client *cohereclient.Client
	model  string
}

// NewCohereEmbedder creates an embedder. An API key is required.
func NewCohereEmbedder(cfg CohereConfig) (*CohereEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("cohere embedder not configured: missing API key")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultCohereModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	client := cohereclient.NewClient(
		cohereclient.WithToken(cfg.APIKey),
		cohereclient.WithHTTPClient(httpClient),
	)
	return &CohereEmbedder{client: client, model: model}, nil
}

// ModelName implements Embedder.
func (c *CohereEmbedder) ModelName() string { return c.model }

// Embed implements Embedder. Inputs larger than MaxCohereBatch are split
// into several calls.
func (c *CohereEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxCohereBatch {
		end := start + MaxCohereBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *CohereEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.V2.Embed(ctx, &cohere.V2EmbedRequest{
		Texts:          texts,
		Model:          c.model,
		InputType:      cohere.EmbedInputTypeSearchDocument,
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
	})
	if err != nil {
		return nil, fmt.Errorf("cohere embed error: %w", err)
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, errors.New("cohere embed returned no float embeddings")
	}
	if len(resp.Embeddings.Float) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(resp.Embeddings.Float), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings.Float))
	for i, vec := range resp.Embeddings.Float {
		out[i] = toFloat32(vec)
	}
	return out, nil
}

func toFloat32(vec []float64) []float32 {
	fv := make([]float32, len(vec))
	for j, v := range vec {
		fv[j] = float32(v)
	}
	return fv
}

// ArticleText is the text embedded for an article: its cleaned title and excerpt.
func ArticleText(a *models.Article) string {
	title := textclean.Clean(a.Title)
	excerpt := textclean.Clean(a.Excerpt)
	text := title
	if excerpt != "" {
		if text != "" {
			text += ". "
		}
		text += excerpt
	}
	return textclean.Truncate(text, maxTextRunes)
}
