package api

import (
	"github.com/gin-gonic/gin"

	"github.com/colloquy/colloquy/internal/auth"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/discussion/orchestrator"
)

// SetupRoutes configures the discussion API routes.
func SetupRoutes(router *gin.RouterGroup, orch *orchestrator.Orchestrator, validator auth.TokenValidator, log *logger.Logger) {
	handler := NewHandler(orch, log)

	discussions := router.Group("/discussions")
	discussions.Use(AuthMiddleware(validator))
	{
		discussions.POST("", handler.CreateDiscussion)
		discussions.GET("", handler.ListDiscussions)
		discussions.GET("/:discussionId", handler.GetDiscussion)

		// Lifecycle
		discussions.POST("/:discussionId/start", handler.StartDiscussion)
		discussions.POST("/:discussionId/pause", handler.PauseDiscussion)
		discussions.POST("/:discussionId/resume", handler.ResumeDiscussion)
		discussions.POST("/:discussionId/end", handler.EndDiscussion)
		discussions.POST("/:discussionId/cancel", handler.CancelDiscussion)
		discussions.POST("/:discussionId/archive", handler.ArchiveDiscussion)

		// Participants
		discussions.POST("/:discussionId/participants", handler.AddParticipant)
		discussions.DELETE("/:discussionId/participants/:participantId", handler.RemoveParticipant)

		// Messages and reactions
		discussions.GET("/:discussionId/messages", handler.ListMessages)
		discussions.POST("/:discussionId/messages", handler.SendMessage)
		discussions.POST("/:discussionId/messages/:messageId/reactions", handler.AddReaction)

		// Turn control
		discussions.POST("/:discussionId/turn/request", handler.RequestTurn)
		discussions.POST("/:discussionId/turn/end", handler.EndTurn)
		discussions.POST("/:discussionId/turn/select", handler.SelectNextParticipant)
		discussions.POST("/:discussionId/turn/advance", handler.ModeratorAdvanceTurn)
	}
}
