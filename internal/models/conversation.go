package models

import (
	"strings"
	"time"
)

// Role is the author of a prompt message or conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry of a chat-completion prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationTurn is one persisted message of a user's conversation with a robot.
type ConversationTurn struct {
	ID                 string    `json:"id,omitempty"`
	UserID             string    `json:"user_id"`
	RobotID            string    `json:"robot_id"`
	Role               Role      `json:"role"`
	Content            string    `json:"content"`
	Timestamp          time.Time `json:"timestamp"`
	ReferencedChunkIDs []string  `json:"referenced_chunk_ids,omitempty"`
}

// JoinChunkIDs returns the storage form of a list of referenced chunk ids.
func JoinChunkIDs(ids []string) string {
	return strings.Join(ids, ChunkIDSeparator)
}

// SplitChunkIDs is the inverse of JoinChunkIDs.
func SplitChunkIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ChunkIDSeparator) {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
