package chromemdb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robot-rag/internal/models"
)

type fakeSource struct {
	name       string
	candidates []models.ChunkEmbedding
}

func (f fakeSource) GetEmbeddingsForRobot(context.Context, string) ([]models.ChunkEmbedding, error) {
	return f.candidates, nil
}

func (f fakeSource) GetRobotName(context.Context, string) (string, error) {
	return f.name, nil
}

func testSource() fakeSource {
	return fakeSource{
		name: "Ranger",
		candidates: []models.ChunkEmbedding{
			{ChunkID: "c1", DocumentID: "d1", DocumentName: "park.pdf", Content: "Trails open at dawn.", Page: 1, Sequence: 0, Vector: models.Vector{1, 0, 0}},
			{ChunkID: "c2", DocumentID: "d1", DocumentName: "park.pdf", Content: "Campfires are banned.", Page: 2, Ordinal: 1, Sequence: 1, Vector: models.Vector{0, 1, 0}},
			{ChunkID: "c3", DocumentID: "d1", DocumentName: "park.pdf", Content: "Dogs must be leashed.", Page: 3, Sequence: 2, Vector: models.Vector{0, 0, 1}},
			{ChunkID: "failed", DocumentID: "d1", DocumentName: "park.pdf", Content: "lost", Vector: models.FailedVector(), Failed: true},
			{ChunkID: "odd", DocumentID: "d2", DocumentName: "other", Content: "other model", Vector: models.Vector{1, 1}},
		},
	}
}

func TestExportAndQuery(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ranger.gob")

	n, err := ExportRobot(ctx, testSource(), "robot-1", path, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	snap, err := OpenSnapshot(path, "")
	require.NoError(t, err)
	assert.Equal(t, "robot-1", snap.RobotID)
	assert.Equal(t, 3, snap.Count())

	results, err := snap.Query(ctx, models.Vector{0.1, 2, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ChunkID)
	assert.Equal(t, "Campfires are banned.", results[0].Content)
	assert.Equal(t, "Ranger", results[0].RobotName)
	assert.Equal(t, 2, results[0].Page)
	assert.Equal(t, 1, results[0].Ordinal)

	all, err := snap.Query(ctx, models.Vector{0.1, 2, 0.1}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestExport_EncryptedAndCompressed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ranger.gob.gz.enc")
	key := strings.Repeat("k", 32)

	_, err := ExportRobot(ctx, testSource(), "robot-1", path, ExportOptions{Compress: true, EncryptionKey: key})
	require.NoError(t, err)

	_, err = OpenSnapshot(path, strings.Repeat("x", 32))
	assert.Error(t, err)

	snap, err := OpenSnapshot(path, key)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Count())
}

func TestExport_NothingToExport(t *testing.T) {
	src := fakeSource{name: "Empty", candidates: []models.ChunkEmbedding{{ChunkID: "f", Vector: models.FailedVector(), Failed: true}}}
	_, err := ExportRobot(context.Background(), src, "robot-1", filepath.Join(t.TempDir(), "x.gob"), ExportOptions{})
	assert.ErrorIs(t, err, ErrEmptySnapshot)
}
