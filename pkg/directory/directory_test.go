package directory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farhan/arun/pkg/store"
)

// keywordEmbedder maps known phrases to fixed vectors so similarity is
// predictable in tests
type keywordEmbedder struct {
	vectors map[string][]float32
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func newTestDirectory(t *testing.T, embedder Embedder) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc, err := NewService(Config{Repo: st, Embedder: embedder, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return svc, st
}

func createTemplateVersion(t *testing.T, st *store.Store, name string) *store.TemplateVersionRecord {
	t.Helper()
	ctx := context.Background()
	tmpl, err := st.CreateTemplate(ctx, name, name+" template")
	require.NoError(t, err)
	version, err := st.CreateTemplateVersion(ctx, tmpl.ID, nil, true)
	require.NoError(t, err)
	return version
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("should rank the closer template first", func(t *testing.T) {
		embedder := &keywordEmbedder{vectors: map[string][]float32{
			"writes summaries and prose": {1, 0, 0},
			"runs data analysis":         {0, 1, 0},
			"write summary":              {0.9, 0.1, 0},
		}}
		svc, st := newTestDirectory(t, embedder)

		writer := createTemplateVersion(t, st, "writer")
		analyst := createTemplateVersion(t, st, "analyst")
		require.NoError(t, svc.Index(ctx, writer.ID, "writes summaries and prose"))
		require.NoError(t, svc.Index(ctx, analyst.ID, "runs data analysis"))

		entries, err := svc.Search(ctx, "write summary", 5)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "writer", entries[0].TemplateName)
		assert.Greater(t, entries[0].Score, entries[1].Score)
	})

	t.Run("should skip versions without embeddings", func(t *testing.T) {
		svc, st := newTestDirectory(t, &keywordEmbedder{})

		createTemplateVersion(t, st, "unindexed")

		entries, err := svc.Search(ctx, "anything", 5)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("should truncate to top k", func(t *testing.T) {
		svc, st := newTestDirectory(t, &keywordEmbedder{})

		for _, name := range []string{"a", "b", "c"} {
			v := createTemplateVersion(t, st, name)
			require.NoError(t, svc.Index(ctx, v.ID, name))
		}

		entries, err := svc.Search(ctx, "q", 2)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}

func TestLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("should resolve a template name to its active version", func(t *testing.T) {
		svc, st := newTestDirectory(t, &keywordEmbedder{})

		version := createTemplateVersion(t, st, "writer")

		entry, err := svc.Lookup(ctx, "writer")
		require.NoError(t, err)
		assert.Equal(t, version.ID, entry.VersionID)
		assert.Equal(t, "writer", entry.TemplateName)
	})

	t.Run("should return ErrNotFound for unknown names", func(t *testing.T) {
		svc, _ := newTestDirectory(t, &keywordEmbedder{})

		_, err := svc.Lookup(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
