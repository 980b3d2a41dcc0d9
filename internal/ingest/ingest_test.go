package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robot-rag/internal/config"
	"robot-rag/internal/crawler"
	"robot-rag/internal/db"
	"robot-rag/internal/embedding"
	"robot-rag/internal/models"
	"robot-rag/internal/search"
)

// lengthProvider embeds text as {len(text), 1} and fails for texts in fail.
type lengthProvider struct {
	fail map[string]bool
}

func (p lengthProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if p.fail[text] {
		return nil, errors.New("provider unavailable")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (p lengthProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
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

func testConfig() *config.Config {
	return &config.Config{
		RAG:     config.RAGConfig{WordsPerChunk: 3},
		Crawler: config.CrawlerConfig{FetchWorkers: 2},
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestFile(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	robot, err := store.CreateRobot(ctx, "R", "")
	require.NoError(t, err)

	svc := NewService(store, embedding.New(lengthProvider{}), crawler.New(), testConfig())
	path := writeFile(t, "notes.txt", "one two three four five six seven")

	report, err := svc.IngestFile(ctx, robot.ID, path)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 3, report.Saved)
	assert.Zero(t, report.EmbedFailures)
	assert.Equal(t, "notes.txt", report.Document.Name)
	assert.Equal(t, models.DocumentTypeText, report.Document.Type)

	doc, err := store.GetDocument(ctx, report.Document.ID)
	require.NoError(t, err)
	require.Len(t, doc.Chunks, 3)
	assert.Equal(t, []string{"one two three", "four five six", "seven"},
		[]string{doc.Chunks[0].Content, doc.Chunks[1].Content, doc.Chunks[2].Content})

	chunk, err := store.GetChunk(ctx, doc.Chunks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.Vector{float32(len("four five six")), 1}, chunk.Embedding)
}

func TestIngestFile_EmbeddingFailureStoresPlaceholder(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	robot, err := store.CreateRobot(ctx, "R", "")
	require.NoError(t, err)

	provider := lengthProvider{fail: map[string]bool{"four five six": true}}
	embedder := embedding.New(provider)
	svc := NewService(store, embedder, crawler.New(), testConfig())

	report, err := svc.IngestFile(ctx, robot.ID, writeFile(t, "notes.txt", "one two three four five six seven"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.EmbedFailures)
	assert.Equal(t, 3, report.Saved)

	failedID := report.Document.Chunks[1].ID
	chunk, err := store.GetChunk(ctx, failedID)
	require.NoError(t, err)
	assert.Len(t, chunk.Embedding, 1)
	assert.True(t, chunk.EmbedFailed)

	// the query vector points exactly at the failed chunk's content length
	results, err := search.NewSearcher(store, embedder).Search(ctx, robot.ID, models.Vector{float32(len("four five six")), 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, failedID, r.ChunkID)
	}
}

func TestIngestFile_Errors(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newStore(t), embedding.New(lengthProvider{}), crawler.New(), testConfig())

	_, err := svc.IngestFile(ctx, "robot", "slides.key")
	assert.ErrorContains(t, err, "unsupported file format")

	_, err = svc.IngestFile(ctx, "robot", writeFile(t, "blank.txt", "  \n "))
	assert.ErrorIs(t, err, ErrNoContent)
}

type failingStore struct {
	saved int
}

func (f *failingStore) AddDocument(context.Context, string, string, models.DocumentType) (*models.Document, error) {
	return nil, errors.New("disk full")
}

func (f *failingStore) SaveChunk(context.Context, string, models.Chunk) (string, error) {
	f.saved++
	return "id", nil
}

func TestIngestFile_DocumentFailureStoresNoChunks(t *testing.T) {
	store := &failingStore{}
	svc := NewService(store, embedding.New(lengthProvider{}), crawler.New(), testConfig())

	_, err := svc.IngestFile(context.Background(), "robot", writeFile(t, "notes.txt", "a b c d"))
	assert.ErrorContains(t, err, "disk full")
	assert.Zero(t, store.saved)
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><body><p>Welcome home</p><a href="/about">about</a><a href="/broken">broken</a><a href="/faq/">faq</a></body></html>`)
		case "/about":
			fmt.Fprint(w, `<html><body><p>About the robot</p></body></html>`)
		case "/faq":
			fmt.Fprint(w, `<html><body><p>Frequently asked questions answered here</p></body></html>`)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIngestWebsite(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	robot, err := store.CreateRobot(ctx, "R", "")
	require.NoError(t, err)
	srv := newSite(t)

	svc := NewService(store, embedding.New(lengthProvider{}), crawler.New(), testConfig())
	report, err := svc.IngestWebsite(ctx, robot.ID, srv.URL+"/", 1)
	require.NoError(t, err)

	assert.Equal(t, []string{srv.URL, srv.URL + "/about", srv.URL + "/broken", srv.URL + "/faq"}, report.URLs)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Pages, 3)

	var names []string
	for _, p := range report.Pages {
		names = append(names, p.Document.Name)
		assert.Equal(t, models.DocumentTypeWebPage, p.Document.Type)
	}
	assert.Equal(t, []string{srv.URL, srv.URL + "/about", srv.URL + "/faq"}, names)

	faq, err := store.GetDocument(ctx, report.Pages[2].Document.ID)
	require.NoError(t, err)
	require.Len(t, faq.Chunks, 2)
	assert.Equal(t, "Frequently asked questions", faq.Chunks[0].Content)

	candidates, err := store.GetEmbeddingsForRobot(ctx, robot.ID)
	require.NoError(t, err)
	assert.Len(t, candidates, 5)
}

func TestIngestWebsite_NothingIngested(t *testing.T) {
	srv := newSite(t)
	svc := NewService(newStore(t), embedding.New(lengthProvider{}), crawler.New(), testConfig())

	report, err := svc.IngestWebsite(context.Background(), "robot", srv.URL+"/broken", 0)
	assert.Error(t, err)
	assert.Equal(t, 1, report.Skipped)
}
