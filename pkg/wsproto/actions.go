package wsproto

// Server frame types.
const (
	FrameConnectionEstablished = "connection.established"
	FrameAccessVerified        = "access.verified"
	FrameDiscussionEvent       = "discussion.event"
	FramePong                  = "pong"
	FrameError                 = "error"
)

// Client frame types.
const (
	FramePing          = "ping"
	FrameSendMessage   = "message.send"
	FrameRequestTurn   = "turn.request"
	FrameEndTurn       = "turn.end"
	FrameAddReaction   = "reaction.add"
	FrameModeratorNext = "moderator.select"
	FrameModeratorSkip = "moderator.advance"
)

// Close codes used by the fan-out layer.
const (
	ClosePolicyViolation = 1008 // invalid id, auth, access denied, rate abuse
	CloseGoingAway       = 1001 // server shutting down
	CloseInternalError   = 1011
)

// Close reasons paired with ClosePolicyViolation.
const (
	ReasonInvalidDiscussionID = "Invalid discussion ID"
	ReasonAuthFailed          = "Authentication failed"
	ReasonTooManyConnections  = "Too many connections"
	ReasonAccessDenied        = "Access denied"
	ReasonRateLimitAbuse      = "Rate limit exceeded"
	ReasonFrameTooLarge       = "Frame too large"
	ReasonServerShutdown      = "Server shutting down"
)
