package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/colloquy/colloquy/internal/common/errors"
	"github.com/colloquy/colloquy/internal/discussion/models"
)

// SQLiteRepository provides SQLite-based discussion storage operations
type SQLiteRepository struct {
	db *sqlx.DB
}

// Ensure SQLiteRepository implements Repository interface
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	normalizedPath := normalizeSQLitePath(dbPath)
	if err := ensureSQLiteDir(normalizedPath); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_mode=rwc", normalizedPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func ensureSQLiteDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func normalizeSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}

// initSchema creates the database tables if they don't exist
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS discussions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		topic TEXT DEFAULT '',
		status TEXT NOT NULL,
		turn_strategy TEXT NOT NULL,
		settings TEXT NOT NULL,
		state TEXT NOT NULL,
		metadata TEXT DEFAULT '{}',
		created_by TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		discussion_id TEXT NOT NULL REFERENCES discussions(id) ON DELETE CASCADE,
		user_id TEXT DEFAULT '',
		agent_id TEXT DEFAULT '',
		persona_id TEXT DEFAULT '',
		role TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		permissions TEXT DEFAULT '[]',
		message_count INTEGER NOT NULL DEFAULT 0,
		expertise TEXT DEFAULT '[]',
		joined_at DATETIME NOT NULL,
		last_active_at DATETIME NOT NULL,
		preferences TEXT DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_participants_discussion ON participants(discussion_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		discussion_id TEXT NOT NULL REFERENCES discussions(id) ON DELETE CASCADE,
		participant_id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'text',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_discussion ON messages(discussion_id, created_at);

	CREATE TABLE IF NOT EXISTS reactions (
		id TEXT PRIMARY KEY,
		discussion_id TEXT NOT NULL,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		participant_id TEXT NOT NULL,
		emoji TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reactions_message ON reactions(message_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Row types for sqlx scanning. JSON documents hold the nested structures.

type discussionRow struct {
	ID           string    `db:"id"`
	Title        string    `db:"title"`
	Topic        string    `db:"topic"`
	Status       string    `db:"status"`
	TurnStrategy string    `db:"turn_strategy"`
	Settings     string    `db:"settings"`
	State        string    `db:"state"`
	Metadata     string    `db:"metadata"`
	CreatedBy    string    `db:"created_by"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type participantRow struct {
	ID           string    `db:"id"`
	DiscussionID string    `db:"discussion_id"`
	UserID       string    `db:"user_id"`
	AgentID      string    `db:"agent_id"`
	PersonaID    string    `db:"persona_id"`
	Role         string    `db:"role"`
	IsActive     bool      `db:"is_active"`
	Permissions  string    `db:"permissions"`
	MessageCount int       `db:"message_count"`
	Expertise    string    `db:"expertise"`
	JoinedAt     time.Time `db:"joined_at"`
	LastActiveAt time.Time `db:"last_active_at"`
	Preferences  string    `db:"preferences"`
}

func (row *discussionRow) toModel() (*models.Discussion, error) {
	d := &models.Discussion{
		ID:           row.ID,
		Title:        row.Title,
		Topic:        row.Topic,
		Status:       models.Status(row.Status),
		TurnStrategy: models.StrategyType(row.TurnStrategy),
		CreatedBy:    row.CreatedBy,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.Settings), &d.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := json.Unmarshal([]byte(row.State), &d.State); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &d.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return d, nil
}

func (row *participantRow) toModel() (*models.Participant, error) {
	p := &models.Participant{
		ID:           row.ID,
		DiscussionID: row.DiscussionID,
		UserID:       row.UserID,
		AgentID:      row.AgentID,
		PersonaID:    row.PersonaID,
		Role:         models.Role(row.Role),
		IsActive:     row.IsActive,
		MessageCount: row.MessageCount,
		JoinedAt:     row.JoinedAt,
		LastActiveAt: row.LastActiveAt,
	}
	if err := json.Unmarshal([]byte(row.Permissions), &p.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Expertise), &p.Expertise); err != nil {
		return nil, fmt.Errorf("failed to decode expertise: %w", err)
	}
	if row.Preferences != "" {
		if err := json.Unmarshal([]byte(row.Preferences), &p.Preferences); err != nil {
			return nil, fmt.Errorf("failed to decode preferences: %w", err)
		}
	}
	return p, nil
}

func marshalJSON(v interface{}, fallback string) string {
	if v == nil {
		return fallback
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(data)
}

// Discussion operations

// CreateDiscussion creates a new discussion
func (r *SQLiteRepository) CreateDiscussion(ctx context.Context, discussion *models.Discussion) error {
	if discussion.ID == "" {
		discussion.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	discussion.CreatedAt = now
	discussion.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO discussions (id, title, topic, status, turn_strategy, settings, state, metadata, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		discussion.ID, discussion.Title, discussion.Topic, string(discussion.Status),
		string(discussion.TurnStrategy),
		marshalJSON(discussion.Settings, "{}"),
		marshalJSON(discussion.State, "{}"),
		marshalJSON(discussion.Metadata, "{}"),
		discussion.CreatedBy, discussion.CreatedAt, discussion.UpdatedAt,
	)
	if err != nil {
		return apperrors.Transient("failed to create discussion", err)
	}
	return nil
}

// GetDiscussion retrieves a discussion by ID with its participants attached
func (r *SQLiteRepository) GetDiscussion(ctx context.Context, id string) (*models.Discussion, error) {
	var row discussionRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM discussions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("discussion", id)
	}
	if err != nil {
		return nil, apperrors.Transient("failed to get discussion", err)
	}
	discussion, err := row.toModel()
	if err != nil {
		return nil, err
	}
	participants, err := r.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	discussion.Participants = participants
	return discussion, nil
}

// UpdateDiscussion updates an existing discussion
func (r *SQLiteRepository) UpdateDiscussion(ctx context.Context, discussion *models.Discussion) error {
	discussion.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE discussions
		SET title = ?, topic = ?, status = ?, turn_strategy = ?, settings = ?, state = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		discussion.Title, discussion.Topic, string(discussion.Status),
		string(discussion.TurnStrategy),
		marshalJSON(discussion.Settings, "{}"),
		marshalJSON(discussion.State, "{}"),
		marshalJSON(discussion.Metadata, "{}"),
		discussion.UpdatedAt, discussion.ID,
	)
	if err != nil {
		return apperrors.Transient("failed to update discussion", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.NotFound("discussion", discussion.ID)
	}
	return nil
}

// DeleteDiscussion deletes a discussion and its dependents
func (r *SQLiteRepository) DeleteDiscussion(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM discussions WHERE id = ?`, id)
	if err != nil {
		return apperrors.Transient("failed to delete discussion", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.NotFound("discussion", id)
	}
	return nil
}

// ListDiscussions returns all discussions ordered by creation time
func (r *SQLiteRepository) ListDiscussions(ctx context.Context) ([]*models.Discussion, error) {
	return r.listDiscussions(ctx, `SELECT * FROM discussions ORDER BY created_at ASC`)
}

// ListActiveDiscussions returns discussions in the active status
func (r *SQLiteRepository) ListActiveDiscussions(ctx context.Context) ([]*models.Discussion, error) {
	return r.listDiscussions(ctx, `SELECT * FROM discussions WHERE status = 'active' ORDER BY created_at ASC`)
}

func (r *SQLiteRepository) listDiscussions(ctx context.Context, query string, args ...interface{}) ([]*models.Discussion, error) {
	var rows []discussionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.Transient("failed to list discussions", err)
	}
	result := make([]*models.Discussion, 0, len(rows))
	for i := range rows {
		discussion, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		participants, err := r.ListParticipants(ctx, discussion.ID)
		if err != nil {
			return nil, err
		}
		discussion.Participants = participants
		result = append(result, discussion)
	}
	return result, nil
}

// Participant operations

// AddParticipant adds a participant to a discussion
func (r *SQLiteRepository) AddParticipant(ctx context.Context, participant *models.Participant) error {
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

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO participants (id, discussion_id, user_id, agent_id, persona_id, role, is_active, permissions, message_count, expertise, joined_at, last_active_at, preferences)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		participant.ID, participant.DiscussionID, participant.UserID, participant.AgentID,
		participant.PersonaID, string(participant.Role), participant.IsActive,
		marshalJSON(participant.Permissions, "[]"),
		participant.MessageCount,
		marshalJSON(participant.Expertise, "[]"),
		participant.JoinedAt, participant.LastActiveAt,
		marshalJSON(participant.Preferences, "{}"),
	)
	if err != nil {
		return apperrors.Transient("failed to add participant", err)
	}
	return nil
}

// GetParticipant retrieves a participant by ID
func (r *SQLiteRepository) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	var row participantRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM participants WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("participant", id)
	}
	if err != nil {
		return nil, apperrors.Transient("failed to get participant", err)
	}
	return row.toModel()
}

// UpdateParticipant updates an existing participant
func (r *SQLiteRepository) UpdateParticipant(ctx context.Context, participant *models.Participant) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE participants
		SET role = ?, is_active = ?, permissions = ?, message_count = ?, expertise = ?, last_active_at = ?, preferences = ?
		WHERE id = ?`,
		string(participant.Role), participant.IsActive,
		marshalJSON(participant.Permissions, "[]"),
		participant.MessageCount,
		marshalJSON(participant.Expertise, "[]"),
		participant.LastActiveAt,
		marshalJSON(participant.Preferences, "{}"),
		participant.ID,
	)
	if err != nil {
		return apperrors.Transient("failed to update participant", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.NotFound("participant", participant.ID)
	}
	return nil
}

// ListParticipants returns a discussion's participants ordered by join time
func (r *SQLiteRepository) ListParticipants(ctx context.Context, discussionID string) ([]*models.Participant, error) {
	var rows []participantRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM participants WHERE discussion_id = ? ORDER BY joined_at ASC, id ASC`, discussionID)
	if err != nil {
		return nil, apperrors.Transient("failed to list participants", err)
	}
	result := make([]*models.Participant, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// FindParticipantByIdentity finds a participant by user or agent identity
func (r *SQLiteRepository) FindParticipantByIdentity(ctx context.Context, discussionID, userID, agentID string) (*models.Participant, error) {
	var row participantRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM participants
		WHERE discussion_id = ? AND ((user_id != '' AND user_id = ?) OR (agent_id != '' AND agent_id = ?))
		LIMIT 1`, discussionID, userID, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("participant", userID+agentID)
	}
	if err != nil {
		return nil, apperrors.Transient("failed to find participant", err)
	}
	return row.toModel()
}

// Message operations

// CreateMessage appends a message to a discussion
func (r *SQLiteRepository) CreateMessage(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, discussion_id, participant_id, content, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		message.ID, message.DiscussionID, message.ParticipantID,
		message.Content, string(message.Type), message.CreatedAt,
	)
	if err != nil {
		return apperrors.Transient("failed to create message", err)
	}
	return nil
}

// GetMessage retrieves a message by ID
func (r *SQLiteRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var message models.Message
	err := r.db.QueryRowxContext(ctx,
		`SELECT id, discussion_id, participant_id, content, type, created_at FROM messages WHERE id = ?`, id).
		Scan(&message.ID, &message.DiscussionID, &message.ParticipantID,
			&message.Content, &message.Type, &message.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("message", id)
	}
	if err != nil {
		return nil, apperrors.Transient("failed to get message", err)
	}
	return &message, nil
}

// ListMessages returns messages for a discussion ordered by creation time
func (r *SQLiteRepository) ListMessages(ctx context.Context, discussionID string, opts ListMessagesOptions) ([]*models.Message, error) {
	order := "ASC"
	if opts.Sort == "desc" {
		order = "DESC"
	}
	query := fmt.Sprintf(
		`SELECT id, discussion_id, participant_id, content, type, created_at FROM messages WHERE discussion_id = ? ORDER BY created_at %s`, order)
	args := []interface{}{discussionID}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Transient("failed to list messages", err)
	}
	defer rows.Close()

	result := make([]*models.Message, 0)
	for rows.Next() {
		var message models.Message
		if err := rows.Scan(&message.ID, &message.DiscussionID, &message.ParticipantID,
			&message.Content, &message.Type, &message.CreatedAt); err != nil {
			return nil, apperrors.Transient("failed to scan message", err)
		}
		result = append(result, &message)
	}
	return result, rows.Err()
}

// Reaction operations

// CreateReaction records an emoji reaction on a message
func (r *SQLiteRepository) CreateReaction(ctx context.Context, reaction *models.Reaction) error {
	if reaction.ID == "" {
		reaction.ID = uuid.New().String()
	}
	if reaction.CreatedAt.IsZero() {
		reaction.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reactions (id, discussion_id, message_id, participant_id, emoji, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		reaction.ID, reaction.DiscussionID, reaction.MessageID,
		reaction.ParticipantID, reaction.Emoji, reaction.CreatedAt,
	)
	if err != nil {
		return apperrors.Transient("failed to create reaction", err)
	}
	return nil
}

// ListReactions returns reactions for a message
func (r *SQLiteRepository) ListReactions(ctx context.Context, messageID string) ([]*models.Reaction, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, discussion_id, message_id, participant_id, emoji, created_at FROM reactions WHERE message_id = ? ORDER BY created_at ASC`,
		messageID)
	if err != nil {
		return nil, apperrors.Transient("failed to list reactions", err)
	}
	defer rows.Close()

	result := make([]*models.Reaction, 0)
	for rows.Next() {
		var reaction models.Reaction
		if err := rows.Scan(&reaction.ID, &reaction.DiscussionID, &reaction.MessageID,
			&reaction.ParticipantID, &reaction.Emoji, &reaction.CreatedAt); err != nil {
			return nil, apperrors.Transient("failed to scan reaction", err)
		}
		result = append(result, &reaction)
	}
	return result, rows.Err()
}
