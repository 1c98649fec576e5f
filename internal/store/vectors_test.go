package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rahul/priorities/internal/plan"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// letterEmbedder embeds text as letter counts over a-z.
type letterEmbedder struct{}

func (letterEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = letters(t)
	}
	return out, nil
}

func (letterEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return letters(text), nil
}

func letters(s string) []float32 {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}

func TestVectorsSimilaritySearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	v := NewVectors(s, letterEmbedder{})

	docs := []schema.Document{
		{PageContent: "aaaa", Metadata: map[string]any{"task_id": "t1", "user_id": "u1"}},
		{PageContent: "zzzz", Metadata: map[string]any{"task_id": "t2", "user_id": "u1"}},
		{PageContent: "aaab", Metadata: map[string]any{"task_id": "t3", "user_id": "u2"}},
	}
	ids, err := v.AddDocuments(ctx, docs)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ids, ",") != "t1,t2,t3" {
		t.Errorf("ids = %v", ids)
	}

	hits, err := v.SimilaritySearch(ctx, "aaa", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Metadata["task_id"] != "t1" || hits[1].Metadata["task_id"] != "t3" {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score < 0.99 {
		t.Errorf("identical direction should score ~1, got %v", hits[0].Score)
	}

	filtered, err := v.SimilaritySearch(ctx, "aaa", 5, vectorstores.WithFilters(map[string]any{"user_id": "u1"}), vectorstores.WithScoreThreshold(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Metadata["task_id"] != "t1" {
		t.Errorf("filtered = %+v", filtered)
	}
}

func TestVectorsUpsertAndNamespace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	v := NewVectors(s, letterEmbedder{})

	doc := schema.Document{PageContent: "aaaa", Metadata: map[string]any{"task_id": "t1"}}
	if _, err := v.AddDocuments(ctx, []schema.Document{doc}); err != nil {
		t.Fatal(err)
	}
	doc.PageContent = "bbbb"
	if _, err := v.AddDocuments(ctx, []schema.Document{doc}); err != nil {
		t.Fatal(err)
	}
	hits, err := v.SimilaritySearch(ctx, "b", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].PageContent != "bbbb" {
		t.Errorf("upsert should replace the stored vector: %+v", hits)
	}

	other, err := v.SimilaritySearch(ctx, "b", 5, vectorstores.WithNameSpace("other"))
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("namespaces must be isolated: %+v", other)
	}
}

func TestVectorsWithoutEmbedder(t *testing.T) {
	v := NewVectors(openTestStore(t), nil)
	if _, err := v.SimilaritySearch(context.Background(), "x", 1); !errors.Is(err, ErrNoEmbedder) {
		t.Errorf("expected ErrNoEmbedder, got %v", err)
	}
}

func TestHydratorEmbedsIntoVectors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	v := NewVectors(s, letterEmbedder{})
	h := NewVectorHydrator(v, s)

	if err := h.Hydrate(ctx, "u1", []plan.TaskSummary{{TaskID: "t1", Text: "draft pricing page", DocumentID: "d1", Source: plan.SourceFallback}}); err != nil {
		t.Fatal(err)
	}
	hits, err := v.SimilaritySearch(ctx, "pricing", 1, vectorstores.WithFilters(map[string]any{"user_id": "u1"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Metadata["task_id"] != "t1" {
		t.Errorf("hits = %+v", hits)
	}
}
