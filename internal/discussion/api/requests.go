// Package api provides the HTTP handlers for the discussion service.
package api

import (
	"github.com/colloquy/colloquy/internal/discussion/models"
)

// CreateDiscussionRequest for creating a discussion.
type CreateDiscussionRequest struct {
	Title        string                 `json:"title" binding:"required"`
	Topic        string                 `json:"topic"`
	TurnStrategy string                 `json:"turn_strategy"`
	Settings     *models.Settings       `json:"settings,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// AddParticipantRequest for adding a participant.
type AddParticipantRequest struct {
	UserID      string   `json:"user_id,omitempty"`
	AgentID     string   `json:"agent_id,omitempty"`
	PersonaID   string   `json:"persona_id,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Expertise   []string `json:"expertise,omitempty"`
}

// SendMessageRequest for posting a message.
type SendMessageRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	Content       string `json:"content" binding:"required"`
	MessageType   string `json:"message_type,omitempty"`
}

// TurnActionRequest identifies the participant acting on the current turn.
type TurnActionRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
}

// SelectParticipantRequest for a moderator choosing the next speaker.
type SelectParticipantRequest struct {
	ModeratorID   string `json:"moderator_id" binding:"required"`
	ParticipantID string `json:"participant_id" binding:"required"`
}

// ModeratorActionRequest for moderator-forced turn advancement.
type ModeratorActionRequest struct {
	ModeratorID string `json:"moderator_id" binding:"required"`
}

// AddReactionRequest for reacting to a message.
type AddReactionRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	Emoji         string `json:"emoji" binding:"required"`
}

// LifecycleRequest carries the optional reason for pause/end/cancel.
type LifecycleRequest struct {
	Reason string `json:"reason,omitempty"`
}
