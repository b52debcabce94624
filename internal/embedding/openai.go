package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder calls any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder. An empty baseURL uses api.openai.com.
func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  openai.EmbeddingModel(model),
	}
}

// Embed implements Embedder. The task type has no OpenAI equivalent and is ignored.
func (o *OpenAIEmbedder) Embed(ctx context.Context, req Request) ([]float32, error) {
	in := openai.EmbeddingRequest{
		Input:          []string{req.Text},
		Model:          o.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if req.Dimensions > 0 {
		in.Dimensions = req.Dimensions
	}

	resp, err := o.client.CreateEmbeddings(ctx, in)
	if err != nil {
		return nil, describeOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrUnavailable)
	}
	return fitDimensions(resp.Data[0].Embedding, req.Dimensions)
}

func describeOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: embedding API error %d: %s", ErrUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: embedding request error %d", ErrUnavailable, reqErr.HTTPStatusCode)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
