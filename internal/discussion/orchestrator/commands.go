package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/colloquy/colloquy/internal/common/config"
	apperrors "github.com/colloquy/colloquy/internal/common/errors"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/discussion/models"
	"github.com/colloquy/colloquy/internal/events"
	"github.com/colloquy/colloquy/internal/events/bus"
)

const commandQueue = "discussion-orchestrator"

// startCommandServer attaches the queue subscription serving cross-service
// discussion commands. Queue semantics load-balance across instances.
func (o *Orchestrator) startCommandServer() error {
	sub, err := o.bus.QueueSubscribe(events.BuildCommandWildcardSubject(), commandQueue, o.handleCommand)
	if err != nil {
		return apperrors.Wrap(err, "failed to subscribe to discussion commands")
	}
	o.subs = append(o.subs, sub)
	return nil
}

// startIngest attaches subscriptions for external activity: agents joining
// and leaving, agent responses, and LLM completions.
func (o *Orchestrator) startIngest() error {
	subjects := []struct {
		subject string
		handler bus.EventHandler
	}{
		{events.AgentJoined, o.handleAgentJoined},
		{events.AgentLeft, o.handleAgentLeft},
		{events.BuildAgentResponseWildcardSubject(), o.handleAgentResponse},
		{events.BuildLLMCompletionWildcardSubject(), o.handleLLMCompletion},
	}
	for _, s := range subjects {
		sub, err := o.bus.Subscribe(s.subject, s.handler)
		if err != nil {
			return apperrors.Wrap(err, fmt.Sprintf("failed to subscribe to %s", s.subject))
		}
		o.subs = append(o.subs, sub)
	}
	return nil
}

// handleCommand dispatches one bus command and replies on the request's
// inbox when present, falling back to the shared response subject.
func (o *Orchestrator) handleCommand(ctx context.Context, event *bus.Event) error {
	var (
		payload interface{}
		err     error
	)

	switch event.Type {
	case events.CommandCreateDiscussion:
		var req CreateDiscussionRequest
		if err = decodeField(event.Data, "request", &req); err == nil {
			payload, err = o.CreateDiscussion(ctx, req, stringField(event.Data, "actor_id"))
		}
	case events.CommandStartDiscussion:
		payload, err = o.StartDiscussion(ctx,
			stringField(event.Data, "discussion_id"),
			stringField(event.Data, "actor_id"))
	case events.CommandSendMessage:
		payload, err = o.SendMessage(ctx,
			stringField(event.Data, "discussion_id"),
			stringField(event.Data, "participant_id"),
			stringField(event.Data, "content"),
			models.MessageType(stringField(event.Data, "message_type")))
	case events.CommandAdvanceTurn:
		payload, err = o.AdvanceTurn(ctx,
			stringField(event.Data, "discussion_id"),
			stringField(event.Data, "actor_id"))
	case events.CommandEndDiscussion:
		payload, err = o.EndDiscussion(ctx,
			stringField(event.Data, "discussion_id"),
			stringField(event.Data, "actor_id"),
			stringField(event.Data, "reason"))
	default:
		o.logger.Warn("Unknown discussion command dropped", zap.String("command", event.Type))
		return nil
	}

	response := bus.NewEvent(events.DiscussionResponse, eventSource, map[string]interface{}{
		"request_id": event.ID,
		"success":    err == nil,
	})
	if err != nil {
		response.Data["error"] = err.Error()
		response.Data["error_code"] = apperrors.Code(err)
	} else if payload != nil {
		response.Data["data"] = toMap(payload)
	}

	replySubject := stringField(event.Data, "_reply")
	if replySubject == "" {
		replySubject = events.DiscussionResponse
	}
	if pubErr := o.bus.Publish(ctx, replySubject, response); pubErr != nil {
		o.logger.Error("Failed to publish command response",
			zap.String("request_id", event.ID),
			zap.Error(pubErr))
	}
	return nil
}

func (o *Orchestrator) handleAgentJoined(ctx context.Context, event *bus.Event) error {
	discussionID := stringField(event.Data, "discussion_id")
	if discussionID == "" {
		return fmt.Errorf("agent joined event missing discussion_id")
	}
	spec := ParticipantSpec{
		AgentID:   stringField(event.Data, "agent_id"),
		PersonaID: stringField(event.Data, "persona_id"),
		Role:      models.Role(stringField(event.Data, "role")),
	}
	_ = decodeField(event.Data, "expertise", &spec.Expertise)
	_, err := o.AddParticipant(ctx, discussionID, spec, event.Source)
	return err
}

func (o *Orchestrator) handleAgentLeft(ctx context.Context, event *bus.Event) error {
	discussionID := stringField(event.Data, "discussion_id")
	agentID := stringField(event.Data, "agent_id")
	if discussionID == "" || agentID == "" {
		return fmt.Errorf("agent left event missing discussion_id or agent_id")
	}
	p, err := o.repo.FindParticipantByIdentity(ctx, discussionID, "", agentID)
	if err != nil {
		return err
	}
	return o.RemoveParticipant(ctx, discussionID, p.ID, event.Source)
}

// handleAgentResponse ingests an agent's contribution as a message. Agents
// yield their turn once the response lands.
func (o *Orchestrator) handleAgentResponse(ctx context.Context, event *bus.Event) error {
	return o.ingestExternalMessage(ctx, event, models.MessageTypeAgent)
}

func (o *Orchestrator) handleLLMCompletion(ctx context.Context, event *bus.Event) error {
	return o.ingestExternalMessage(ctx, event, models.MessageTypeAgent)
}

func (o *Orchestrator) ingestExternalMessage(ctx context.Context, event *bus.Event, messageType models.MessageType) error {
	discussionID := stringField(event.Data, "discussion_id")
	participantID := stringField(event.Data, "participant_id")
	content := stringField(event.Data, "content")
	if discussionID == "" || participantID == "" || content == "" {
		return fmt.Errorf("external message event missing required fields")
	}

	if _, err := o.SendMessage(ctx, discussionID, participantID, content, messageType); err != nil {
		return err
	}
	// A completed response ends the agent's turn; a PolicyViolation here
	// just means the discussion is free-form or the turn already moved on.
	if _, err := o.EndTurn(ctx, discussionID, participantID); err != nil &&
		!apperrors.Is(err, apperrors.ErrCodePolicyViolation) &&
		!apperrors.Is(err, apperrors.ErrCodeInvalidState) {
		return err
	}
	return nil
}

// CommandClient issues discussion commands over the bus with correlated
// request/response semantics and a bounded timeout.
type CommandClient struct {
	bus     bus.EventBus
	timeout time.Duration
	logger  *logger.Logger
}

// NewCommandClient creates a client using the configured command timeout.
func NewCommandClient(eventBus bus.EventBus, cfg *config.Config, log *logger.Logger) *CommandClient {
	return &CommandClient{
		bus:     eventBus,
		timeout: cfg.Discussion.CommandTimeoutDuration(),
		logger:  log.WithFields(zap.String("component", "discussion_command_client")),
	}
}

// CreateDiscussion asks the orchestrator service to create a discussion.
func (c *CommandClient) CreateDiscussion(ctx context.Context, req CreateDiscussionRequest, actorID string) (*models.Discussion, error) {
	data := map[string]interface{}{
		"request":  toMap(req),
		"actor_id": actorID,
	}
	var d models.Discussion
	if err := c.call(ctx, events.CommandCreateDiscussion, data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// StartDiscussion asks the orchestrator service to start a discussion.
func (c *CommandClient) StartDiscussion(ctx context.Context, discussionID, actorID string) (*models.Discussion, error) {
	var d models.Discussion
	err := c.call(ctx, events.CommandStartDiscussion, map[string]interface{}{
		"discussion_id": discussionID,
		"actor_id":      actorID,
	}, &d)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// SendMessage submits a message through the orchestrator service.
func (c *CommandClient) SendMessage(ctx context.Context, discussionID, participantID, content string, messageType models.MessageType) (*models.Message, error) {
	var m models.Message
	err := c.call(ctx, events.CommandSendMessage, map[string]interface{}{
		"discussion_id":  discussionID,
		"participant_id": participantID,
		"content":        content,
		"message_type":   string(messageType),
	}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AdvanceTurn asks the orchestrator service to advance the turn.
func (c *CommandClient) AdvanceTurn(ctx context.Context, discussionID, actorID string) (*models.TurnResolution, error) {
	var r models.TurnResolution
	err := c.call(ctx, events.CommandAdvanceTurn, map[string]interface{}{
		"discussion_id": discussionID,
		"actor_id":      actorID,
	}, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// EndDiscussion asks the orchestrator service to end a discussion.
func (c *CommandClient) EndDiscussion(ctx context.Context, discussionID, actorID, reason string) (*models.Discussion, error) {
	var d models.Discussion
	err := c.call(ctx, events.CommandEndDiscussion, map[string]interface{}{
		"discussion_id": discussionID,
		"actor_id":      actorID,
		"reason":        reason,
	}, &d)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// call issues one correlated request and decodes the response payload.
func (c *CommandClient) call(ctx context.Context, subject string, data map[string]interface{}, out interface{}) error {
	request := bus.NewEvent(subject, "command-client", data)
	response, err := c.bus.Request(ctx, subject, request, c.timeout)
	if err != nil {
		return apperrors.Transient(err.Error(), err)
	}

	if success, ok := response.Data["success"].(bool); ok && !success {
		return remoteError(
			stringField(response.Data, "error_code"),
			stringField(response.Data, "error"))
	}
	if out == nil {
		return nil
	}
	return decodeField(response.Data, "data", out)
}

// remoteError reconstructs a classified error from a command response.
func remoteError(code, message string) *apperrors.AppError {
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeInvalidState:
		status = http.StatusConflict
	case apperrors.ErrCodePolicyViolation:
		status = http.StatusForbidden
	case apperrors.ErrCodeAuthFailure:
		status = http.StatusUnauthorized
	case apperrors.ErrCodeTransient:
		status = http.StatusServiceUnavailable
	case apperrors.ErrCodeValidation:
		status = http.StatusBadRequest
	case "":
		code = apperrors.ErrCodeInternal
	}
	return &apperrors.AppError{Code: code, Message: message, HTTPStatus: status}
}

// decodeField re-marshals one map field into a typed value.
func decodeField(data map[string]interface{}, key string, out interface{}) error {
	if data == nil {
		return nil
	}
	value, ok := data[key]
	if !ok || value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func stringField(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

// toMap flattens a struct into the bus payload shape.
func toMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
