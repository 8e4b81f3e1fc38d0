// Package events provides event subjects and utilities for the Colloquy event system.
package events

// Subject for all domain events produced by the orchestrator.
const (
	DiscussionEvents = "discussion.events"
)

// Command and response subjects for cross-service request/response.
const (
	DiscussionCommandPrefix = "discussion.command"
	DiscussionResponse      = "discussion.response"

	CommandCreateDiscussion = "discussion.command.create"
	CommandStartDiscussion  = "discussion.command.start"
	CommandSendMessage      = "discussion.command.send_message"
	CommandAdvanceTurn      = "discussion.command.advance_turn"
	CommandEndDiscussion    = "discussion.command.end"
)

// Subjects the orchestrator subscribes to for external activity.
const (
	AgentJoined   = "agent.joined"
	AgentLeft     = "agent.left"
	AgentResponse = "agent.response" // Base subject for agent response events
	LLMCompletion = "llm.completion" // Base subject for LLM completion events
)

// BuildAgentResponseSubject creates an agent response subject for a specific discussion.
func BuildAgentResponseSubject(discussionID string) string {
	return AgentResponse + "." + discussionID
}

// BuildAgentResponseWildcardSubject creates a wildcard subscription for all agent responses.
func BuildAgentResponseWildcardSubject() string {
	return AgentResponse + ".*"
}

// BuildLLMCompletionSubject creates an LLM completion subject for a specific discussion.
func BuildLLMCompletionSubject(discussionID string) string {
	return LLMCompletion + "." + discussionID
}

// BuildLLMCompletionWildcardSubject creates a wildcard subscription for all LLM completions.
func BuildLLMCompletionWildcardSubject() string {
	return LLMCompletion + ".*"
}

// BuildCommandWildcardSubject creates a wildcard subscription for all discussion commands.
func BuildCommandWildcardSubject() string {
	return DiscussionCommandPrefix + ".*"
}
