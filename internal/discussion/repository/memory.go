package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/colloquy/colloquy/internal/common/errors"
	"github.com/colloquy/colloquy/internal/discussion/models"
)

// MemoryRepository provides in-memory discussion storage operations
type MemoryRepository struct {
	discussions  map[string]*models.Discussion
	participants map[string]*models.Participant
	messages     map[string]*models.Message
	reactions    map[string][]*models.Reaction // keyed by message id
	mu           sync.RWMutex
}

// Ensure MemoryRepository implements Repository interface
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new in-memory discussion repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		discussions:  make(map[string]*models.Discussion),
		participants: make(map[string]*models.Participant),
		messages:     make(map[string]*models.Message),
		reactions:    make(map[string][]*models.Reaction),
	}
}

// Close is a no-op for in-memory repository
func (r *MemoryRepository) Close() error {
	return nil
}

// Discussion operations

// CreateDiscussion creates a new discussion
func (r *MemoryRepository) CreateDiscussion(ctx context.Context, discussion *models.Discussion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if discussion.ID == "" {
		discussion.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	discussion.CreatedAt = now
	discussion.UpdatedAt = now

	r.discussions[discussion.ID] = cloneDiscussion(discussion)
	return nil
}

// GetDiscussion retrieves a discussion by ID with its participants attached
func (r *MemoryRepository) GetDiscussion(ctx context.Context, id string) (*models.Discussion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	discussion, ok := r.discussions[id]
	if !ok {
		return nil, apperrors.NotFound("discussion", id)
	}
	result := cloneDiscussion(discussion)
	result.Participants = r.participantsLocked(id)
	return result, nil
}

// UpdateDiscussion updates an existing discussion
func (r *MemoryRepository) UpdateDiscussion(ctx context.Context, discussion *models.Discussion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.discussions[discussion.ID]; !ok {
		return apperrors.NotFound("discussion", discussion.ID)
	}
	discussion.UpdatedAt = time.Now().UTC()
	r.discussions[discussion.ID] = cloneDiscussion(discussion)
	return nil
}

// DeleteDiscussion deletes a discussion and its dependents
func (r *MemoryRepository) DeleteDiscussion(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.discussions[id]; !ok {
		return apperrors.NotFound("discussion", id)
	}
	delete(r.discussions, id)
	for pid, p := range r.participants {
		if p.DiscussionID == id {
			delete(r.participants, pid)
		}
	}
	for mid, m := range r.messages {
		if m.DiscussionID == id {
			delete(r.reactions, mid)
			delete(r.messages, mid)
		}
	}
	return nil
}

// ListDiscussions returns all discussions ordered by creation time
func (r *MemoryRepository) ListDiscussions(ctx context.Context) ([]*models.Discussion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Discussion, 0, len(r.discussions))
	for _, d := range r.discussions {
		clone := cloneDiscussion(d)
		clone.Participants = r.participantsLocked(d.ID)
		result = append(result, clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListActiveDiscussions returns discussions in the active status
func (r *MemoryRepository) ListActiveDiscussions(ctx context.Context) ([]*models.Discussion, error) {
	all, err := r.ListDiscussions(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]*models.Discussion, 0, len(all))
	for _, d := range all {
		if d.Status == models.StatusActive {
			active = append(active, d)
		}
	}
	return active, nil
}

// Participant operations

// AddParticipant adds a participant to a discussion
func (r *MemoryRepository) AddParticipant(ctx context.Context, participant *models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.discussions[participant.DiscussionID]; !ok {
		return apperrors.NotFound("discussion", participant.DiscussionID)
	}
	if participant.ID == "" {
		participant.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if participant.JoinedAt.IsZero() {
		participant.JoinedAt = now
	}
	if participant.LastActiveAt.IsZero() {
		participant.LastActiveAt = now
	}

	r.participants[participant.ID] = cloneParticipant(participant)
	return nil
}

// GetParticipant retrieves a participant by ID
func (r *MemoryRepository) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participant, ok := r.participants[id]
	if !ok {
		return nil, apperrors.NotFound("participant", id)
	}
	return cloneParticipant(participant), nil
}

// UpdateParticipant updates an existing participant
func (r *MemoryRepository) UpdateParticipant(ctx context.Context, participant *models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[participant.ID]; !ok {
		return apperrors.NotFound("participant", participant.ID)
	}
	r.participants[participant.ID] = cloneParticipant(participant)
	return nil
}

// ListParticipants returns a discussion's participants ordered by join time
func (r *MemoryRepository) ListParticipants(ctx context.Context, discussionID string) ([]*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participantsLocked(discussionID), nil
}

// FindParticipantByIdentity finds a participant by user or agent identity.
// Used to resume the same participant record on rejoin.
func (r *MemoryRepository) FindParticipantByIdentity(ctx context.Context, discussionID, userID, agentID string) (*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.participants {
		if p.DiscussionID != discussionID {
			continue
		}
		if userID != "" && p.UserID == userID {
			return cloneParticipant(p), nil
		}
		if agentID != "" && p.AgentID == agentID {
			return cloneParticipant(p), nil
		}
	}
	return nil, apperrors.NotFound("participant", userID+agentID)
}

// participantsLocked returns ordered participants; callers must hold the lock.
func (r *MemoryRepository) participantsLocked(discussionID string) []*models.Participant {
	result := make([]*models.Participant, 0)
	for _, p := range r.participants {
		if p.DiscussionID == discussionID {
			result = append(result, cloneParticipant(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result
}

// Message operations

// CreateMessage appends a message to a discussion
func (r *MemoryRepository) CreateMessage(ctx context.Context, message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.discussions[message.DiscussionID]; !ok {
		return apperrors.NotFound("discussion", message.DiscussionID)
	}
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	r.messages[message.ID] = cloneMessage(message)
	return nil
}

// GetMessage retrieves a message by ID
func (r *MemoryRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	message, ok := r.messages[id]
	if !ok {
		return nil, apperrors.NotFound("message", id)
	}
	return cloneMessage(message), nil
}

// ListMessages returns messages for a discussion ordered by creation time
func (r *MemoryRepository) ListMessages(ctx context.Context, discussionID string, opts ListMessagesOptions) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Message, 0)
	for _, m := range r.messages {
		if m.DiscussionID == discussionID {
			result = append(result, cloneMessage(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if opts.Sort == "desc" {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// Reaction operations

// CreateReaction records an emoji reaction on a message
func (r *MemoryRepository) CreateReaction(ctx context.Context, reaction *models.Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[reaction.MessageID]; !ok {
		return apperrors.NotFound("message", reaction.MessageID)
	}
	if reaction.ID == "" {
		reaction.ID = uuid.New().String()
	}
	if reaction.CreatedAt.IsZero() {
		reaction.CreatedAt = time.Now().UTC()
	}
	clone := *reaction
	r.reactions[reaction.MessageID] = append(r.reactions[reaction.MessageID], &clone)
	return nil
}

// ListReactions returns reactions for a message
func (r *MemoryRepository) ListReactions(ctx context.Context, messageID string) ([]*models.Reaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reactions := r.reactions[messageID]
	result := make([]*models.Reaction, 0, len(reactions))
	for _, reaction := range reactions {
		clone := *reaction
		result = append(result, &clone)
	}
	return result, nil
}

// Deep copies keep callers from mutating stored state outside the lock.
// Participant lists are stored separately, so discussion clones drop them.

func cloneDiscussion(d *models.Discussion) *models.Discussion {
	clone := d.Clone()
	clone.Participants = nil
	return clone
}

func cloneParticipant(p *models.Participant) *models.Participant {
	return p.Clone()
}

func cloneMessage(m *models.Message) *models.Message {
	clone := *m
	return &clone
}
