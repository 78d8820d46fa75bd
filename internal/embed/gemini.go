// Package embed computes vector embeddings for chunk texts.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultModel = "text-embedding-004"
	// DefaultDimensions is the output size of DefaultModel.
	DefaultDimensions = 768
	maxBatch          = 100
)

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

type batchFunc func(ctx context.Context, taskType genai.TaskType, texts []string) ([][]float32, error)

// GeminiEmbedder calls the Gemini embedding API in batches.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
	batchSize  int
	embedBatch batchFunc
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	g := &GeminiEmbedder{client: cl, model: model, dimensions: dimensions, batchSize: maxBatch}
	g.embedBatch = g.callAPI
	return g, nil
}

func (g *GeminiEmbedder) Dimensions() int { return g.dimensions }

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Embed embeds texts as retrieval documents.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		vecs, err := g.embedBatch(ctx, genai.TaskTypeRetrievalDocument, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a search query.
func (g *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.embedBatch(ctx, genai.TaskTypeRetrievalQuery, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	return vecs[0], nil
}

func (g *GeminiEmbedder) callAPI(ctx context.Context, taskType genai.TaskType, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.model)
	em.TaskType = taskType

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}
