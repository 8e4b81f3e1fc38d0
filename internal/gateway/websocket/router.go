package websocket

import (
	"context"

	apperrors "github.com/colloquy/colloquy/internal/common/errors"
	"github.com/colloquy/colloquy/internal/discussion/models"
	"github.com/colloquy/colloquy/internal/discussion/orchestrator"
	"github.com/colloquy/colloquy/pkg/wsproto"
)

type connInfoKey struct{}

// ConnInfo identifies the socket a frame arrived on.
type ConnInfo struct {
	ConnectionID  string
	DiscussionID  string
	UserID        string
	ParticipantID string
}

// WithConnInfo attaches connection identity to a context.
func WithConnInfo(ctx context.Context, info *ConnInfo) context.Context {
	return context.WithValue(ctx, connInfoKey{}, info)
}

// ConnInfoFrom extracts connection identity from a context.
func ConnInfoFrom(ctx context.Context) *ConnInfo {
	info, _ := ctx.Value(connInfoKey{}).(*ConnInfo)
	return info
}

// DiscussionService is the orchestrator surface the fan-out layer drives.
type DiscussionService interface {
	SendMessage(ctx context.Context, discussionID, participantID, content string, messageType models.MessageType) (*models.Message, error)
	RequestTurn(ctx context.Context, discussionID, participantID string) (*orchestrator.TurnRequestResult, error)
	EndTurn(ctx context.Context, discussionID, participantID string) (*models.TurnResolution, error)
	AddReaction(ctx context.Context, discussionID, messageID, participantID, emoji string) (*models.Reaction, error)
	SelectNextParticipant(ctx context.Context, discussionID, moderatorID, participantID string) error
	ModeratorAdvanceTurn(ctx context.Context, discussionID, moderatorID string) (*models.TurnResolution, error)
	VerifyParticipantAccess(ctx context.Context, discussionID, userID string) (bool, string, error)
}

type sendMessagePayload struct {
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
}

type addReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type selectParticipantPayload struct {
	ParticipantID string `json:"participantId"`
}

// NewFrameRouter builds the dispatcher that maps client frames onto
// orchestrator operations. Responses echo the request frame type.
func NewFrameRouter(service DiscussionService) *wsproto.Dispatcher {
	d := wsproto.NewDispatcher()

	d.RegisterFunc(wsproto.FrameSendMessage, func(ctx context.Context, frame *wsproto.Frame) (*wsproto.Frame, error) {
		info, err := verifiedInfo(ctx)
		if err != nil {
			return nil, err
		}
		var payload sendMessagePayload
		if err := frame.ParseData(&payload); err != nil {
			return nil, apperrors.ValidationError("data", "invalid message.send payload")
		}
		messageType := models.MessageTypeText
		if payload.MessageType != "" {
			messageType = models.MessageType(payload.MessageType)
		}
		msg, err := service.SendMessage(ctx, info.DiscussionID, info.ParticipantID, payload.Content, messageType)
		if err != nil {
			return nil, err
		}
		return wsproto.NewFrame(frame.Type, msg)
	})

	d.RegisterFunc(wsproto.FrameRequestTurn, func(ctx context.Context, frame *wsproto.Frame) (*wsproto.Frame, error) {
		info, err := verifiedInfo(ctx)
		if err != nil {
			return nil, err
		}
		result, err := service.RequestTurn(ctx, info.DiscussionID, info.ParticipantID)
		if err != nil {
			return nil, err
		}
		return wsproto.NewFrame(frame.Type, result)
	})

	d.RegisterFunc(wsproto.FrameEndTurn, func(ctx context.Context, frame *wsproto.Frame) (*wsproto.Frame, error) {
		info, err := verifiedInfo(ctx)
		if err != nil {
			return nil, err
		}
		resolution, err := service.EndTurn(ctx, info.DiscussionID, info.ParticipantID)
		if err != nil {
			return nil, err
		}
		return wsproto.NewFrame(frame.Type, resolution)
	})

	d.RegisterFunc(wsproto.FrameAddReaction, func(ctx context.Context, frame *wsproto.Frame) (*wsproto.Frame, error) {
		info, err := verifiedInfo(ctx)
		if err != nil {
			return nil, err
		}
		var payload addReactionPayload
		if err := frame.ParseData(&payload); err != nil {
			return nil, apperrors.ValidationError("data", "invalid reaction.add payload")
		}
		reaction, err := service.AddReaction(ctx, info.DiscussionID, payload.MessageID, info.ParticipantID, payload.Emoji)
		if err != nil {
			return nil, err
		}
		return wsproto.NewFrame(frame.Type, reaction)
	})

	d.RegisterFunc(wsproto.FrameModeratorNext, func(ctx context.Context, frame *wsproto.Frame) (*wsproto.Frame, error) {
		info, err := verifiedInfo(ctx)
		if err != nil {
			return nil, err
		}
		var payload selectParticipantPayload
		if err := frame.ParseData(&payload); err != nil {
			return nil, apperrors.ValidationError("data", "invalid moderator.select payload")
		}
		if err := service.SelectNextParticipant(ctx, info.DiscussionID, info.ParticipantID, payload.ParticipantID); err != nil {
			return nil, err
		}
		return wsproto.NewFrame(frame.Type, map[string]string{"selected": payload.ParticipantID})
	})

	d.RegisterFunc(wsproto.FrameModeratorSkip, func(ctx context.Context, frame *wsproto.Frame) (*wsproto.Frame, error) {
		info, err := verifiedInfo(ctx)
		if err != nil {
			return nil, err
		}
		resolution, err := service.ModeratorAdvanceTurn(ctx, info.DiscussionID, info.ParticipantID)
		if err != nil {
			return nil, err
		}
		return wsproto.NewFrame(frame.Type, resolution)
	})

	return d
}

// verifiedInfo requires connection identity with a verified participant.
// Frames arriving before access verification completes are rejected.
func verifiedInfo(ctx context.Context) (*ConnInfo, error) {
	info := ConnInfoFrom(ctx)
	if info == nil {
		return nil, apperrors.AuthFailure("Connection identity missing")
	}
	if info.ParticipantID == "" {
		return nil, apperrors.AuthFailure("Participant access not verified")
	}
	return info, nil
}
