package search

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robot-rag/internal/config"
	"robot-rag/internal/db"
	"robot-rag/internal/embedding"
	"robot-rag/internal/models"
)

func TestCosineSimilarity_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randomVector := func(n int) models.Vector {
		v := make(models.Vector, n)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}

	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(16)
		a, b := randomVector(n), randomVector(n)

		ab, err := CosineSimilarity(a, b)
		require.NoError(t, err)
		ba, err := CosineSimilarity(b, a)
		require.NoError(t, err)

		assert.Equal(t, ab, ba)
		assert.GreaterOrEqual(t, ab, -1.0)
		assert.LessOrEqual(t, ab, 1.0)
	}
}

func TestCosineSimilarity_KnownValues(t *testing.T) {
	score, err := CosineSimilarity(models.Vector{1, 2, 3}, models.Vector{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)

	score, err = CosineSimilarity(models.Vector{1, 0}, models.Vector{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, score, 1e-9)

	score, err = CosineSimilarity(models.Vector{1, 0}, models.Vector{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, score, 1e-9)
}

func TestCosineSimilarity_LengthMismatch(t *testing.T) {
	score, err := CosineSimilarity(models.Vector{1, 2, 3}, models.FailedVector())
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestCosineSimilarity_ZeroMagnitude(t *testing.T) {
	_, err := CosineSimilarity(models.Vector{0, 0}, models.Vector{1, 1})
	assert.ErrorIs(t, err, ErrZeroMagnitude)
	_, err = CosineSimilarity(models.Vector{1, 1}, models.Vector{0, 0})
	assert.ErrorIs(t, err, ErrZeroMagnitude)
}

func candidate(id string, v ...float32) models.ChunkEmbedding {
	return models.ChunkEmbedding{ChunkID: id, Content: "content " + id, Vector: v}
}

func TestRank_TopKAndOrder(t *testing.T) {
	candidates := []models.ChunkEmbedding{
		candidate("low", 0, 1),
		candidate("high", 1, 0),
		candidate("mid", 1, 1),
	}
	query := models.Vector{1, 0}

	for topK, want := range map[int][]string{
		1: {"high"},
		2: {"high", "mid"},
		3: {"high", "mid", "low"},
		5: {"high", "mid", "low"},
	} {
		results, err := Rank(query, candidates, topK)
		require.NoError(t, err)
		var ids []string
		for _, r := range results {
			ids = append(ids, r.ChunkID)
		}
		assert.Equal(t, want, ids, "topK=%d", topK)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
	}

	results, err := Rank(query, candidates, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRank_TiesKeepInputOrder(t *testing.T) {
	candidates := []models.ChunkEmbedding{
		candidate("first", 2, 0),
		candidate("other", 0, 1),
		candidate("second", 1, 0),
		candidate("third", 3, 0),
	}
	results, err := Rank(models.Vector{1, 0}, candidates, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{results[0].ChunkID, results[1].ChunkID, results[2].ChunkID})
}

func TestRank_SkipsFailedEmbeddings(t *testing.T) {
	failed := candidate("failed", 0)
	failed.Failed = true
	candidates := []models.ChunkEmbedding{failed, candidate("ok", -1, 0)}

	results, err := Rank(models.Vector{1, 0}, candidates, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].ChunkID)
}

func TestRank_ZeroCandidateIsError(t *testing.T) {
	_, err := Rank(models.Vector{1, 0}, []models.ChunkEmbedding{candidate("zero", 0, 0)}, 1)
	assert.ErrorIs(t, err, ErrZeroMagnitude)
}

// vectorProvider returns fixed vectors per text and fails for the rest.
type vectorProvider map[string][]float32

func (p vectorProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if v, ok := p[text]; ok {
		return v, nil
	}
	return nil, errors.New("provider unavailable")
}

func (p vectorProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := p.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newStore(t *testing.T) *db.Store {
	t.Helper()
	bunDB, err := db.Connect(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })
	require.NoError(t, db.InitDB(context.Background(), bunDB))
	return db.NewStore(bunDB)
}

func TestGetSimilarContent_ReturnsClosestChunk(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	provider := vectorProvider{
		"chunk one":   {1, 0, 0},
		"chunk two":   {0, 1, 0},
		"chunk three": {0, 0, 1},
		"question":    {0.1, 0.9, 0.2},
	}
	embedder := embedding.New(provider)

	robot, err := store.CreateRobot(ctx, "Guide", "")
	require.NoError(t, err)
	doc, err := store.AddDocument(ctx, robot.ID, "guide.pdf", models.DocumentTypePDF)
	require.NoError(t, err)

	chunks := []models.Chunk{
		{Content: "chunk one", Sequence: 0},
		{Content: "chunk two", Sequence: 1},
		{Content: "chunk three", Sequence: 2},
	}
	embedded, failed := embedder.EmbedChunks(ctx, chunks)
	require.Zero(t, failed)
	for _, c := range embedded {
		_, err := store.SaveChunk(ctx, doc.ID, c)
		require.NoError(t, err)
	}

	results, err := NewSearcher(store, embedder).GetSimilarContent(ctx, robot.ID, "question", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk two", results[0].Content)
	assert.Equal(t, "Guide", results[0].RobotName)
	assert.Equal(t, "guide.pdf", results[0].DocumentName)
}

func TestGetSimilarContent_FailedChunkNeverRanksFirst(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	provider := vectorProvider{
		"good":     {-1, 0},
		"question": {1, 0},
	}
	embedder := embedding.New(provider)

	robot, err := store.CreateRobot(ctx, "R", "")
	require.NoError(t, err)
	doc, err := store.AddDocument(ctx, robot.ID, "doc", models.DocumentTypeText)
	require.NoError(t, err)

	embedded, failed := embedder.EmbedChunks(ctx, []models.Chunk{
		{Content: "unembeddable", Sequence: 0},
		{Content: "good", Sequence: 1},
	})
	require.Equal(t, 1, failed)

	var failedID string
	for _, c := range embedded {
		id, err := store.SaveChunk(ctx, doc.ID, c)
		require.NoError(t, err)
		if c.EmbedFailed {
			failedID = id
		}
	}

	stored, err := store.GetChunk(ctx, failedID)
	require.NoError(t, err)
	assert.Len(t, stored.Embedding, 1)

	results, err := NewSearcher(store, embedder).GetSimilarContent(ctx, robot.ID, "question", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "good", results[0].Content)
	for _, r := range results {
		assert.NotEqual(t, failedID, r.ChunkID)
	}
}

func TestGetSimilarContent_QueryEmbeddingFailure(t *testing.T) {
	store := newStore(t)
	_, err := NewSearcher(store, embedding.New(vectorProvider{})).GetSimilarContent(context.Background(), "robot", "question", 3)
	assert.ErrorContains(t, err, "failed to embed question")
}

func TestGetSimilarContent_NoDocuments(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	robot, err := store.CreateRobot(ctx, "Empty", "")
	require.NoError(t, err)

	results, err := NewSearcher(store, embedding.New(vectorProvider{"q": {1}})).GetSimilarContent(ctx, robot.ID, "q", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}
