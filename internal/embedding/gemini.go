package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEmbedder calls the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

// NewGeminiEmbedder creates a client for model authenticated with apiKey.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

// Embed implements Embedder.
func (g *GeminiEmbedder) Embed(ctx context.Context, req Request) ([]float32, error) {
	em := g.client.EmbeddingModel(g.model)
	em.TaskType = geminiTaskType(req.Task)

	res, err := em.EmbedContent(ctx, genai.Text(req.Text))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %w", ErrUnavailable, err)
	}
	if res == nil || res.Embedding == nil {
		return nil, fmt.Errorf("%w: gemini returned no embedding", ErrUnavailable)
	}
	return fitDimensions(res.Embedding.Values, req.Dimensions)
}

// Close releases the underlying client.
func (g *GeminiEmbedder) Close() error {
	return g.client.Close()
}

func geminiTaskType(t TaskType) genai.TaskType {
	switch t {
	case TaskRetrievalDocument:
		return genai.TaskTypeRetrievalDocument
	default:
		return genai.TaskTypeRetrievalQuery
	}
}
