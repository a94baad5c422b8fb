package inbox

// Kind classifies why an item landed in the inbox.
type Kind string

const (
	KindMention Kind = "mention"
	KindReply   Kind = "reply"
)

// Item is one inbox entry: an event that addressed the current user.
type Item struct {
	ID             string `json:"id"`
	Kind           Kind   `json:"kind"`
	Title          string `json:"title"`
	Preview        string `json:"preview,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Author         string `json:"author"`
	CreatedAt      int64  `json:"created_at"`
	Read           bool   `json:"read"`
}
