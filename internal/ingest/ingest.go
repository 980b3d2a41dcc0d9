// Package ingest turns files and websites into a robot's embedded chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"

	"robot-rag/internal/config"
	"robot-rag/internal/crawler"
	"robot-rag/internal/models"
	"robot-rag/internal/parser"
)

var ErrNoContent = errors.New("document has no text")

type Store interface {
	AddDocument(ctx context.Context, robotID, name string, docType models.DocumentType) (*models.Document, error)
	SaveChunk(ctx context.Context, documentID string, chunk models.Chunk) (string, error)
}

type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, int)
}

type PageSource interface {
	Crawl(ctx context.Context, seedURL string, maxDepth int) []string
	FetchText(ctx context.Context, pageURL string) (string, error)
}

type Service struct {
	store         Store
	embedder      ChunkEmbedder
	pages         PageSource
	wordsPerChunk int
	fetchWorkers  int
}

func NewService(store Store, embedder ChunkEmbedder, pages PageSource, cfg *config.Config) *Service {
	s := &Service{
		store:         store,
		embedder:      embedder,
		pages:         pages,
		wordsPerChunk: models.DefaultWordsPerChunk,
		fetchWorkers:  4,
	}
	if cfg != nil {
		if cfg.RAG.WordsPerChunk > 0 {
			s.wordsPerChunk = cfg.RAG.WordsPerChunk
		}
		if cfg.Crawler.FetchWorkers > 0 {
			s.fetchWorkers = cfg.Crawler.FetchWorkers
		}
	}
	return s
}

// Report describes one ingested document.
type Report struct {
	Document      *models.Document
	Chunks        int
	Saved         int
	EmbedFailures int
}

// IngestFile loads a supported file, chunks it page by page, embeds the
// chunks and stores them under a new document named after the file.
func (s *Service) IngestFile(ctx context.Context, robotID, path string) (*Report, error) {
	pages, err := parser.LoadPages(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return s.IngestPages(ctx, robotID, filepath.Base(path), parser.DocumentTypeOf(path), pages)
}

// IngestPages stores already extracted pages as one document.
func (s *Service) IngestPages(ctx context.Context, robotID, name string, docType models.DocumentType, pages []parser.Page) (*Report, error) {
	chunks := parser.ChunkPages(name, pages, s.wordsPerChunk)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoContent)
	}

	embedded, failed := s.embedder.EmbedChunks(ctx, chunks)

	doc, err := s.store.AddDocument(ctx, robotID, name, docType)
	if err != nil {
		return nil, err
	}

	report := &Report{Document: doc, Chunks: len(embedded), EmbedFailures: failed}
	for _, chunk := range embedded {
		id, err := s.store.SaveChunk(ctx, doc.ID, chunk)
		if err != nil {
			log.Error().Err(err).Str("document", name).Int("sequence", chunk.Sequence).Msg("Error saving chunk")
			continue
		}
		chunk.ID = id
		chunk.DocumentID = doc.ID
		doc.Chunks = append(doc.Chunks, chunk)
		report.Saved++
	}

	log.Info().
		Str("document", name).
		Str("type", docType.String()).
		Int("chunks", report.Chunks).
		Int("saved", report.Saved).
		Int("embed_failures", failed).
		Msg("Ingested document")
	return report, nil
}

// WebsiteReport summarizes a website ingestion.
type WebsiteReport struct {
	URLs    []string
	Pages   []*Report
	Skipped int
}

// IngestWebsite ingests the seed page and every page crawled from it within
// depth, one document per page in URL order. Pages that cannot be fetched or
// stored are logged and skipped.
func (s *Service) IngestWebsite(ctx context.Context, robotID, seedURL string, depth int) (*WebsiteReport, error) {
	seed := crawler.NormalizeURL(seedURL)
	urls := []string{seed}
	for _, link := range s.pages.Crawl(ctx, seed, depth) {
		if link != seed {
			urls = append(urls, link)
		}
	}

	texts, errs := s.fetchAll(ctx, urls)
	report := &WebsiteReport{URLs: urls}
	for i, u := range urls {
		if errs[i] != nil {
			log.Warn().Err(errs[i]).Str("url", u).Msg("Skipping page")
			report.Skipped++
			continue
		}
		page, err := s.IngestPages(ctx, robotID, u, models.DocumentTypeWebPage, []parser.Page{{Number: 1, Text: texts[i]}})
		if err != nil {
			log.Warn().Err(err).Str("url", u).Msg("Skipping page")
			report.Skipped++
			continue
		}
		report.Pages = append(report.Pages, page)
	}

	if len(report.Pages) == 0 {
		return report, fmt.Errorf("no pages ingested from %s", seed)
	}
	return report, nil
}

// fetchAll downloads every page through a bounded pool. Results are indexed
// like urls.
func (s *Service) fetchAll(ctx context.Context, urls []string) ([]string, []error) {
	texts := make([]string, len(urls))
	errs := make([]error, len(urls))

	fetchOne := func(i int) {
		texts[i], errs[i] = s.pages.FetchText(ctx, urls[i])
	}

	pool, err := ants.NewPool(s.fetchWorkers)
	if err != nil {
		log.Warn().Err(err).Msg("Error creating fetch pool, fetching sequentially")
		for i := range urls {
			fetchOne(i)
		}
		return texts, errs
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range urls {
		i := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			fetchOne(i)
		}); err != nil {
			wg.Done()
			fetchOne(i)
		}
	}
	wg.Wait()
	return texts, errs
}
