package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

var ErrNoEmbedder = errors.New("no embedder configured")

// Vectors is a vectorstores.VectorStore over the task_vectors table. Search is
// a linear cosine scan, which is fine for one user's task pool.
type Vectors struct {
	store    *Store
	embedder embeddings.Embedder
}

var _ vectorstores.VectorStore = (*Vectors)(nil)

func NewVectors(s *Store, embedder embeddings.Embedder) *Vectors {
	return &Vectors{store: s, embedder: embedder}
}

func (v *Vectors) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := v.options(options)
	if opts.Embedder == nil {
		return nil, ErrNoEmbedder
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vecs, err := opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vecs), len(docs))
	}

	tx, err := v.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]string, len(docs))
	for i, d := range docs {
		id, _ := d.Metadata["task_id"].(string)
		if id == "" {
			id = uuid.NewString()
		}
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		vec, err := json.Marshal(vecs[i])
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO task_vectors (id, namespace, content, metadata_json, embedding_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET namespace = excluded.namespace, content = excluded.content,
			   metadata_json = excluded.metadata_json, embedding_json = excluded.embedding_json`,
			id, opts.NameSpace, d.PageContent, string(meta), string(vec), formatTime(v.store.now()))
		if err != nil {
			return nil, fmt.Errorf("store vector: %w", err)
		}
		ids[i] = id
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// SimilaritySearch honours NameSpace, ScoreThreshold and a map[string]any
// Filters value matched by equality against document metadata.
func (v *Vectors) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := v.options(options)
	if opts.Embedder == nil {
		return nil, ErrNoEmbedder
	}
	q, err := opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	filters, _ := opts.Filters.(map[string]any)

	rows, err := v.store.DB.QueryContext(ctx,
		`SELECT content, metadata_json, embedding_json FROM task_vectors WHERE namespace = ?`, opts.NameSpace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []schema.Document
	for rows.Next() {
		var content, metaJSON, vecJSON string
		if err := rows.Scan(&content, &metaJSON, &vecJSON); err != nil {
			return nil, err
		}
		var meta map[string]any
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue
		}
		if !matches(meta, filters) {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			continue
		}
		score := cosine(q, vec)
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		docs = append(docs, schema.Document{PageContent: content, Metadata: meta, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if numDocuments > 0 && len(docs) > numDocuments {
		docs = docs[:numDocuments]
	}
	return docs, nil
}

func (v *Vectors) options(options []vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{Embedder: v.embedder}
	for _, o := range options {
		o(&opts)
	}
	return opts
}

func matches(meta, filters map[string]any) bool {
	for k, want := range filters {
		if fmt.Sprint(meta[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
