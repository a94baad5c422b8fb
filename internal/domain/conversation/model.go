package conversation

// Conversation is the latest known state of one conversation thread. The
// backend serves conversations as a flat list; ParentID links replies and
// sub-conversations to their parent thread and may reference a conversation
// that is not present in the current snapshot.
type Conversation struct {
	ID           string  `json:"id"`
	ParentID     *string `json:"parent_id,omitempty"`
	ProjectID    string  `json:"project_id"`
	Title        string  `json:"title"`
	Author       string  `json:"author"`
	Active       bool    `json:"active"`
	LastActivity int64   `json:"last_activity"`
	Archived     bool    `json:"archived,omitempty"`
}

// Message is a single message within a conversation.
type Message struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	Author         string  `json:"author"`
	Content        string  `json:"content"`
	CreatedAt      int64   `json:"created_at"`
	ReplyTo        *string `json:"reply_to,omitempty"`
}
