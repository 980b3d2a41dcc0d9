// Package rag answers a user's question on behalf of a chat robot: it
// retrieves the robot's most similar chunks, prompts the chat model with them
// and the robot's persona, and records the exchange.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"robot-rag/internal/config"
	"robot-rag/internal/db"
	"robot-rag/internal/models"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	GetDefaultDescription(ctx context.Context, robotID string) (string, error)
	GetRecentUserTurns(ctx context.Context, userID, robotID string, limit int) ([]string, error)
	AddTurn(ctx context.Context, turn models.ConversationTurn) (*models.ConversationTurn, error)
}

// Retriever finds the chunks most similar to a question.
type Retriever interface {
	GetSimilarContent(ctx context.Context, robotID, question string, count int) ([]models.SimilarContent, error)
}

// ChatModel completes a prompt.
type ChatModel interface {
	Complete(ctx context.Context, messages []models.Message) (string, error)
}

type RAG struct {
	store          Store
	retriever      Retriever
	chat           ChatModel
	topK           int
	historyTurns   int
	includeHistory bool
	apology        string
}

func NewRAG(store Store, retriever Retriever, chat ChatModel, cfg *config.RAGConfig) *RAG {
	r := &RAG{
		store:        store,
		retriever:    retriever,
		chat:         chat,
		topK:         models.DefaultTopK,
		historyTurns: models.DefaultHistoryTurns,
		apology:      models.DefaultApology,
	}
	if cfg != nil {
		if cfg.TopK > 0 {
			r.topK = cfg.TopK
		}
		if cfg.HistoryTurns > 0 {
			r.historyTurns = cfg.HistoryTurns
		}
		if cfg.Apology != "" {
			r.apology = cfg.Apology
		}
		r.includeHistory = cfg.IncludeHistory
	}
	return r
}

// Answer is the outcome of a successful question.
type Answer struct {
	Content            string
	ReferencedChunkIDs []string
	Sources            []models.SimilarContent
}

// Ask returns the robot's answer to question, or the apology text if any
// step before the answer fails. Nothing is recorded on failure.
func (r *RAG) Ask(ctx context.Context, robotID, userID, question string) string {
	answer, err := r.Query(ctx, robotID, userID, question)
	if err != nil {
		log.Error().Err(err).Str("robot_id", robotID).Str("user_id", userID).Msg("Error answering question")
		return r.apology
	}
	return answer.Content
}

// Query is Ask with the error and the referenced chunks exposed.
func (r *RAG) Query(ctx context.Context, robotID, userID, question string) (*Answer, error) {
	// a robot without a default description is still prompted, with an empty persona
	description, err := r.store.GetDefaultDescription(ctx, robotID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to load robot description: %w", err)
	}

	var history []string
	if r.includeHistory {
		history, err = r.RecentHistory(ctx, robotID, userID)
		if err != nil {
			return nil, err
		}
	}

	similar, err := r.retriever.GetSimilarContent(ctx, robotID, question, r.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve similar content: %w", err)
	}

	content, err := r.chat.Complete(ctx, BuildPrompt(similar, description, history, question))
	if err != nil {
		return nil, fmt.Errorf("failed to get chat completion: %w", err)
	}

	refs := ChunkIDs(similar)
	r.recordTurns(ctx, robotID, userID, question, content, refs)
	return &Answer{Content: content, ReferencedChunkIDs: refs, Sources: similar}, nil
}

// RecentHistory returns the user's latest questions to the robot, oldest first.
func (r *RAG) RecentHistory(ctx context.Context, robotID, userID string) ([]string, error) {
	history, err := r.store.GetRecentUserTurns(ctx, userID, robotID, r.historyTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return history, nil
}

func (r *RAG) recordTurns(ctx context.Context, robotID, userID, question, answer string, refs []string) {
	for _, turn := range []models.ConversationTurn{
		{UserID: userID, RobotID: robotID, Role: models.RoleUser, Content: question, ReferencedChunkIDs: refs},
		{UserID: userID, RobotID: robotID, Role: models.RoleAssistant, Content: answer, ReferencedChunkIDs: refs},
	} {
		if _, err := r.store.AddTurn(ctx, turn); err != nil {
			log.Error().Err(err).Str("role", string(turn.Role)).Msg("Error saving conversation turn")
			return
		}
	}
}

// BuildPrompt orders the prompt as: retrieved chunk text as the system
// message, the persona description, any earlier questions, then the question.
func BuildPrompt(similar []models.SimilarContent, description string, history []string, question string) []models.Message {
	contents := make([]string, len(similar))
	for i, s := range similar {
		contents[i] = s.Content
	}

	messages := []models.Message{
		{Role: models.RoleSystem, Content: strings.Join(contents, " ")},
		{Role: models.RoleUser, Content: description},
	}
	for _, h := range history {
		messages = append(messages, models.Message{Role: models.RoleUser, Content: h})
	}
	return append(messages, models.Message{Role: models.RoleUser, Content: question})
}

func ChunkIDs(similar []models.SimilarContent) []string {
	ids := make([]string, len(similar))
	for i, s := range similar {
		ids[i] = s.ChunkID
	}
	return ids
}
