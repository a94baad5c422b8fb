package core

import (
	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/inbox"
	"github.com/loomworks/loom/internal/domain/project"
)

// Event is one push notification from the backend. Delivery is at least once
// with no ordering guarantee across independent topics, so every event must
// apply idempotently.
type Event interface {
	Kind() string
}

// MessageAppended carries a new message in some conversation.
type MessageAppended struct {
	Message conversation.Message `json:"message"`
}

// ConversationUpserted carries the full latest state of a conversation.
type ConversationUpserted struct {
	Conversation conversation.Conversation `json:"conversation"`
}

// ProjectUpserted carries the full latest state of a project.
type ProjectUpserted struct {
	Project project.Project `json:"project"`
}

// InboxItemUpserted carries an item addressed to the current user.
type InboxItemUpserted struct {
	Item inbox.Item `json:"item"`
}

// ProjectStatusChanged carries both status facts for a project. Consumers
// apply the online flag and the roster as independent per-field writes.
type ProjectStatusChanged struct {
	ProjectID string          `json:"project_id"`
	Online    bool            `json:"online"`
	Agents    []project.Agent `json:"agents"`
}

// ActiveConversationsChanged carries the complete set of currently-active
// conversation ids for one project.
type ActiveConversationsChanged struct {
	ProjectID string   `json:"project_id"`
	ActiveIDs []string `json:"active_ids"`
}

// ProfileUpdated carries a display name for an agent or user.
type ProfileUpdated struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

// StreamDelta carries one chunk of an agent response still being generated.
type StreamDelta struct {
	AgentID        string `json:"agent_id"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Sequence       int    `json:"sequence"`
	CreatedAt      int64  `json:"created_at"`
	Delta          string `json:"delta"`
}

func (MessageAppended) Kind() string            { return "message_appended" }
func (ConversationUpserted) Kind() string       { return "conversation_upserted" }
func (ProjectUpserted) Kind() string            { return "project_upserted" }
func (InboxItemUpserted) Kind() string          { return "inbox_item_upserted" }
func (ProjectStatusChanged) Kind() string       { return "project_status_changed" }
func (ActiveConversationsChanged) Kind() string { return "active_conversations_changed" }
func (ProfileUpdated) Kind() string             { return "profile_updated" }
func (StreamDelta) Kind() string                { return "stream_delta" }
