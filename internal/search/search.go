// Package search ranks a robot's stored chunks against a query vector by
// cosine similarity. It scans every candidate; there is no index.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"robot-rag/internal/embedding"
	"robot-rag/internal/models"
)

var ErrZeroMagnitude = errors.New("vector has zero magnitude")

// CosineSimilarity returns dot(a, b) / (|a| |b|), clamped to [-1, 1].
// Vectors of different length score 0.
func CosineSimilarity(a, b models.Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, nil
	}

	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0, ErrZeroMagnitude
	}

	score := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	return math.Max(-1, math.Min(1, score)), nil
}

// Rank scores every candidate against query and returns the best topK,
// highest score first. Candidates whose embedding failed are skipped. Equal
// scores keep candidate order.
func Rank(query models.Vector, candidates []models.ChunkEmbedding, topK int) ([]models.SimilarContent, error) {
	if topK <= 0 {
		return nil, nil
	}

	scored := make([]models.SimilarContent, 0, len(candidates))
	for _, c := range candidates {
		if c.Failed {
			continue
		}
		score, err := CosineSimilarity(query, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ChunkID, err)
		}
		scored = append(scored, models.SimilarContent{
			ChunkID:      c.ChunkID,
			DocumentName: c.DocumentName,
			Content:      c.Content,
			Page:         c.Page,
			Ordinal:      c.Ordinal,
			Sequence:     c.Sequence,
			Score:        score,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// CandidateSource lists the embedded chunks of a robot.
type CandidateSource interface {
	GetEmbeddingsForRobot(ctx context.Context, robotID string) ([]models.ChunkEmbedding, error)
	GetRobotName(ctx context.Context, robotID string) (string, error)
}

// QueryEmbedder turns a question into a vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) embedding.Result
}

type Searcher struct {
	store    CandidateSource
	embedder QueryEmbedder
}

func NewSearcher(store CandidateSource, embedder QueryEmbedder) *Searcher {
	return &Searcher{store: store, embedder: embedder}
}

// Search ranks the robot's chunks against an already embedded query.
func (s *Searcher) Search(ctx context.Context, robotID string, query models.Vector, topK int) ([]models.SimilarContent, error) {
	candidates, err := s.store.GetEmbeddingsForRobot(ctx, robotID)
	if err != nil {
		return nil, err
	}
	results, err := Rank(query, candidates, topK)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("robot_id", robotID).Int("candidates", len(candidates)).Int("results", len(results)).Msg("ranked chunks")
	return results, nil
}

// GetSimilarContent embeds the question and returns the count most similar
// chunks of the robot, labelled with the robot's name.
func (s *Searcher) GetSimilarContent(ctx context.Context, robotID, question string, count int) ([]models.SimilarContent, error) {
	res := s.embedder.Embed(ctx, question)
	if !res.OK() {
		return nil, fmt.Errorf("failed to embed question: %w", res.Err)
	}

	results, err := s.Search(ctx, robotID, res.Vector, count)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return results, nil
	}

	robotName, err := s.store.GetRobotName(ctx, robotID)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].RobotName = robotName
	}
	return results, nil
}
