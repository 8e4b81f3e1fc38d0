// Package models defines the discussion domain entities.
package models

import (
	"time"
)

// Status represents the lifecycle state of a discussion
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusArchived  Status = "archived"
)

// IsTerminal reports whether the status admits no further mutating operations.
// Completed and Cancelled allow only archiving.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusArchived
}

// StrategyType identifies a turn-selection algorithm
type StrategyType string

const (
	StrategyRoundRobin   StrategyType = "round_robin"
	StrategyModerated    StrategyType = "moderated"
	StrategyContextAware StrategyType = "context_aware"
	StrategyFreeForm     StrategyType = "free_form"
)

// IsFreeForm reports whether message admission is unrestricted for this strategy.
func (t StrategyType) IsFreeForm() bool {
	return t == StrategyFreeForm
}

// Role represents a participant's role in a discussion
type Role string

const (
	RoleModerator   Role = "moderator"
	RoleFacilitator Role = "facilitator"
	RoleExpert      Role = "expert"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

// Permission is a capability tag granted to a participant
type Permission string

const (
	CanSendMessages Permission = "can_send_messages"
	CanRequestTurn  Permission = "can_request_turn"
	CanAddReactions Permission = "can_add_reactions"
	CanModerate     Permission = "can_moderate"
)

// Phase represents the stage a discussion is in
type Phase string

const (
	PhaseSetup      Phase = "setup"
	PhaseDiscussion Phase = "discussion"
	PhaseConclusion Phase = "conclusion"
)

// StrategyConfig holds tunables for the configured turn strategy
type StrategyConfig struct {
	TurnTimeoutSeconds int     `json:"turn_timeout_seconds,omitempty"`
	MaxMessagesPerTurn int     `json:"max_messages_per_turn,omitempty"`
	CooldownSeconds    int     `json:"cooldown_seconds,omitempty"`
	RequireApproval    bool    `json:"require_approval,omitempty"`
	RelevanceThreshold float64 `json:"relevance_threshold,omitempty"`
	EngagementThresh   float64 `json:"engagement_threshold,omitempty"`
}

// Settings holds per-discussion configuration
type Settings struct {
	MaxParticipants    int            `json:"max_participants"`
	TurnTimeoutSeconds int            `json:"turn_timeout_seconds"`
	Strategy           StrategyConfig `json:"strategy"`
}

// CurrentTurn describes the in-flight turn of an active discussion
type CurrentTurn struct {
	ParticipantID *string    `json:"participant_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	ExpectedEndAt *time.Time `json:"expected_end_at,omitempty"`
	TurnNumber    int        `json:"turn_number"`
	MessageCount  int        `json:"message_count,omitempty"`
}

// State is the runtime state embedded in a discussion
type State struct {
	CurrentTurn    CurrentTurn `json:"current_turn"`
	Phase          Phase       `json:"phase"`
	MessageCount   int         `json:"message_count"`
	LastActivity   time.Time   `json:"last_activity"`
	ConsensusLevel *float64    `json:"consensus_level,omitempty"`
}

// Discussion represents a multi-participant discussion
type Discussion struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	Topic        string                 `json:"topic,omitempty"`
	Status       Status                 `json:"status"`
	TurnStrategy StrategyType           `json:"turn_strategy"`
	Settings     Settings               `json:"settings"`
	State        State                  `json:"state"`
	Participants []*Participant         `json:"participants,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedBy    string                 `json:"created_by,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// ActiveParticipants returns participants with IsActive set, preserving order.
func (d *Discussion) ActiveParticipants() []*Participant {
	active := make([]*Participant, 0, len(d.Participants))
	for _, p := range d.Participants {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active
}

// Participant returns the participant with the given id, or nil.
func (d *Discussion) Participant(id string) *Participant {
	for _, p := range d.Participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// CurrentSpeakerID returns the participant id holding the current turn, or "".
func (d *Discussion) CurrentSpeakerID() string {
	if d.State.CurrentTurn.ParticipantID == nil {
		return ""
	}
	return *d.State.CurrentTurn.ParticipantID
}

// Clone returns a deep copy. Snapshots handed outside the orchestrator's
// per-discussion lock must not alias live state.
func (d *Discussion) Clone() *Discussion {
	clone := *d
	if d.Participants != nil {
		clone.Participants = make([]*Participant, len(d.Participants))
		for i, p := range d.Participants {
			clone.Participants[i] = p.Clone()
		}
	}
	if d.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(d.Metadata))
		for k, v := range d.Metadata {
			clone.Metadata[k] = v
		}
	}
	if d.State.CurrentTurn.ParticipantID != nil {
		pid := *d.State.CurrentTurn.ParticipantID
		clone.State.CurrentTurn.ParticipantID = &pid
	}
	if d.State.CurrentTurn.StartedAt != nil {
		t := *d.State.CurrentTurn.StartedAt
		clone.State.CurrentTurn.StartedAt = &t
	}
	if d.State.CurrentTurn.ExpectedEndAt != nil {
		t := *d.State.CurrentTurn.ExpectedEndAt
		clone.State.CurrentTurn.ExpectedEndAt = &t
	}
	if d.State.ConsensusLevel != nil {
		c := *d.State.ConsensusLevel
		clone.State.ConsensusLevel = &c
	}
	return &clone
}

// Participant represents a human or agent member of a discussion
type Participant struct {
	ID           string                 `json:"id"`
	DiscussionID string                 `json:"discussion_id"`
	UserID       string                 `json:"user_id,omitempty"`
	AgentID      string                 `json:"agent_id,omitempty"`
	PersonaID    string                 `json:"persona_id,omitempty"`
	Role         Role                   `json:"role"`
	IsActive     bool                   `json:"is_active"`
	Permissions  []Permission           `json:"permissions,omitempty"`
	MessageCount int                    `json:"message_count"`
	Expertise    []string               `json:"expertise,omitempty"`
	JoinedAt     time.Time              `json:"joined_at"`
	LastActiveAt time.Time              `json:"last_active_at"`
	Preferences  map[string]interface{} `json:"preferences,omitempty"`
}

// Clone returns a deep copy of the participant.
func (p *Participant) Clone() *Participant {
	clone := *p
	if p.Permissions != nil {
		clone.Permissions = append([]Permission(nil), p.Permissions...)
	}
	if p.Expertise != nil {
		clone.Expertise = append([]string(nil), p.Expertise...)
	}
	if p.Preferences != nil {
		clone.Preferences = make(map[string]interface{}, len(p.Preferences))
		for k, v := range p.Preferences {
			clone.Preferences[k] = v
		}
	}
	return &clone
}

// HasPermission reports whether the participant carries the given capability tag.
func (p *Participant) HasPermission(perm Permission) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// IsAgent reports whether the participant is agent-backed.
func (p *Participant) IsAgent() bool {
	return p.AgentID != ""
}

// MessageType represents the type of message content
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
	MessageTypeAgent  MessageType = "agent"
)

// MaxMessageContentBytes bounds message content size.
const MaxMessageContentBytes = 32 * 1024

// Message represents a message posted in a discussion
type Message struct {
	ID            string      `json:"id"`
	DiscussionID  string      `json:"discussion_id"`
	ParticipantID string      `json:"participant_id"`
	Content       string      `json:"content"`
	Type          MessageType `json:"type"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Reaction represents an emoji reaction on a message
type Reaction struct {
	ID            string    `json:"id"`
	DiscussionID  string    `json:"discussion_id"`
	MessageID     string    `json:"message_id"`
	ParticipantID string    `json:"participant_id"`
	Emoji         string    `json:"emoji"`
	CreatedAt     time.Time `json:"created_at"`
}

// TurnResolution is the value returned by the strategy engine when a turn
// starts or advances. A nil NextParticipant means no eligible speaker.
type TurnResolution struct {
	NextParticipant  *Participant `json:"next_participant,omitempty"`
	TurnNumber       int          `json:"turn_number"`
	EstimatedSeconds float64      `json:"estimated_duration_seconds"`
}

// EstimatedDuration returns the resolution's duration as a time.Duration.
func (r *TurnResolution) EstimatedDuration() time.Duration {
	return time.Duration(r.EstimatedSeconds * float64(time.Second))
}

// Metadata keys used by the moderated strategy and the pause/resume cycle.
// All moderation context lives in Discussion.Metadata so strategies stay stateless.
const (
	MetaPendingModeratorSelection = "pending_moderator_selection"
	MetaModeratorAdvance          = "moderator_advance"
	MetaApprovedParticipants      = "approved_participants"
	MetaTurnCompleted             = "turn_completed"
	MetaPauseRemainingSeconds     = "pause_remaining_seconds"
	MetaPauseReason               = "pause_reason"
	MetaEndReason                 = "end_reason"
)
