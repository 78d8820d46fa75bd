package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func fakeEmbedder(batchSize int, calls *[]int, types *[]genai.TaskType) *GeminiEmbedder {
	return &GeminiEmbedder{
		dimensions: 2,
		batchSize:  batchSize,
		embedBatch: func(_ context.Context, tt genai.TaskType, texts []string) ([][]float32, error) {
			*calls = append(*calls, len(texts))
			*types = append(*types, tt)
			out := make([][]float32, len(texts))
			for i, t := range texts {
				out[i] = []float32{float32(len(t)), 1}
			}
			return out, nil
		},
	}
}

func TestEmbed_SplitsBatchesInOrder(t *testing.T) {
	var calls []int
	var types []genai.TaskType
	g := fakeEmbedder(2, &calls, &types)

	vecs, err := g.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 3 || calls[0] != 2 || calls[2] != 1 {
		t.Errorf("expected batches of 2,2,1, got %v", calls)
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
	if types[0] != genai.TaskTypeRetrievalDocument {
		t.Errorf("expected document task type, got %v", types[0])
	}
}

func TestEmbed_Empty(t *testing.T) {
	var calls []int
	var types []genai.TaskType
	vecs, err := fakeEmbedder(2, &calls, &types).Embed(context.Background(), nil)
	if err != nil || len(vecs) != 0 || len(calls) != 0 {
		t.Errorf("expected no calls for empty input, got %v %v %v", vecs, calls, err)
	}
}

func TestEmbedQuery_UsesQueryTaskType(t *testing.T) {
	var calls []int
	var types []genai.TaskType
	v, err := fakeEmbedder(10, &calls, &types).EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v[0] != 5 || types[0] != genai.TaskTypeRetrievalQuery {
		t.Errorf("unexpected query embedding %v (%v)", v, types)
	}
}

func TestEmbed_ShortResponse(t *testing.T) {
	g := &GeminiEmbedder{batchSize: 10, embedBatch: func(context.Context, genai.TaskType, []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}}
	if _, err := g.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for mismatched vector count")
	}
}

func TestEmbed_PropagatesError(t *testing.T) {
	boom := errors.New("quota")
	g := &GeminiEmbedder{batchSize: 10, embedBatch: func(context.Context, genai.TaskType, []string) ([][]float32, error) {
		return nil, boom
	}}
	if _, err := g.Embed(context.Background(), []string{"a"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
