package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/trendwire/pkg/models"
)

type fakeEmbedder struct {
	err   error
	texts []string
	short bool
}

func (f *fakeEmbedder) ModelName() string { return "fake-embed" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, texts...)
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

type fakeStore struct {
	missing  []*models.Article
	saved    map[string][]float32
	loadErr  error
	saveErr  error
	gotLimit int
}

func (s *fakeStore) GetArticlesMissingEmbeddings(_ context.Context, _ string, _ time.Duration, limit int) ([]*models.Article, error) {
	s.gotLimit = limit
	return s.missing, s.loadErr
}

func (s *fakeStore) SaveArticleEmbeddings(_ context.Context, embeddings map[string][]float32) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = embeddings
	return nil
}

func TestBackfill(t *testing.T) {
	store := &fakeStore{missing: []*models.Article{
		{ID: "a", Title: "Quake", Excerpt: "<p>Strong shaking</p>"},
		{ID: "b", Title: "<br/>", Excerpt: " "},
		{ID: "c", Title: "Storm"},
	}}
	embedder := &fakeEmbedder{}

	n, err := NewBackfiller(embedder, store, 0).Backfill(context.Background(), "global", 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, DefaultBackfillLimit, store.gotLimit)
	assert.Equal(t, []string{"Quake. Strong shaking", "Storm"}, embedder.texts)
	assert.Contains(t, store.saved, "a")
	assert.Contains(t, store.saved, "c")
	assert.NotContains(t, store.saved, "b")
}

func TestBackfill_NothingMissing(t *testing.T) {
	embedder := &fakeEmbedder{}
	n, err := NewBackfiller(embedder, &fakeStore{}, 10).Backfill(context.Background(), "global", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, embedder.texts)
}

func TestBackfill_Errors(t *testing.T) {
	articles := []*models.Article{{ID: "a", Title: "Quake"}}

	tests := []struct {
		name     string
		store    *fakeStore
		embedder *fakeEmbedder
	}{
		{"load fails", &fakeStore{loadErr: errors.New("db down")}, &fakeEmbedder{}},
		{"embed fails", &fakeStore{missing: articles}, &fakeEmbedder{err: errors.New("quota")}},
		{"count mismatch", &fakeStore{missing: articles}, &fakeEmbedder{short: true}},
		{"save fails", &fakeStore{missing: articles, saveErr: errors.New("locked")}, &fakeEmbedder{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewBackfiller(tt.embedder, tt.store, 5).Backfill(context.Background(), "global", time.Hour)
			assert.Error(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestArticleText(t *testing.T) {
	tests := []struct {
		name     string
		article  models.Article
		expected string
	}{
		{"title and excerpt", models.Article{Title: "Quake", Excerpt: "Shaking felt"}, "Quake. Shaking felt"},
		{"title only", models.Article{Title: "Quake"}, "Quake"},
		{"excerpt only", models.Article{Excerpt: "Shaking felt"}, "Shaking felt"},
		{"markup only", models.Article{Title: "<hr>"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ArticleText(&tt.article))
		})
	}
}

func TestNewCohereEmbedder(t *testing.T) {
	_, err := NewCohereEmbedder(CohereConfig{})
	assert.Error(t, err)

	e, err := NewCohereEmbedder(CohereConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultCohereModel, e.ModelName())

	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestToFloat32(t *testing.T) {
	assert.Equal(t, []float32{0.5, -1}, toFloat32([]float64{0.5, -1}))
}
