// Package repository provides persistence for discussions, participants and messages.
package repository

import (
	"context"

	"github.com/colloquy/colloquy/internal/discussion/models"
)

// ListMessagesOptions controls message listing.
type ListMessagesOptions struct {
	Limit  int
	Before string
	Sort   string
}

// Repository defines the interface for discussion storage operations.
// The repository is the source of truth; the orchestrator's in-memory
// cache is rebuilt from it on restart.
type Repository interface {
	// Discussion operations
	CreateDiscussion(ctx context.Context, discussion *models.Discussion) error
	GetDiscussion(ctx context.Context, id string) (*models.Discussion, error)
	UpdateDiscussion(ctx context.Context, discussion *models.Discussion) error
	DeleteDiscussion(ctx context.Context, id string) error
	ListDiscussions(ctx context.Context) ([]*models.Discussion, error)
	ListActiveDiscussions(ctx context.Context) ([]*models.Discussion, error)

	// Participant operations
	AddParticipant(ctx context.Context, participant *models.Participant) error
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	UpdateParticipant(ctx context.Context, participant *models.Participant) error
	ListParticipants(ctx context.Context, discussionID string) ([]*models.Participant, error)
	FindParticipantByIdentity(ctx context.Context, discussionID, userID, agentID string) (*models.Participant, error)

	// Message operations
	CreateMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, discussionID string, opts ListMessagesOptions) ([]*models.Message, error)

	// Reaction operations
	CreateReaction(ctx context.Context, reaction *models.Reaction) error
	ListReactions(ctx context.Context, messageID string) ([]*models.Reaction, error)

	Close() error
}
