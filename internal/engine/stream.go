package engine

// StreamSession accumulates one agent response that is still being generated.
// One session per agent: a new response from the same agent replaces the old
// one, and the final message clears it.
type StreamSession struct {
	AgentID        string `json:"agent_id"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	StartedAt      int64  `json:"started_at"`
	UpdatedAt      int64  `json:"updated_at"`
	LastSequence   int    `json:"last_sequence"`
}

// HasContent reports whether any chunks have landed yet. A session without
// content renders as a typing indicator.
func (s StreamSession) HasContent() bool {
	return s.Content != ""
}

func streamKey(agentID, messageID string) string {
	return agentID + ":" + messageID
}

// ApplyStreamDelta appends one chunk to the agent's in-flight response.
// Chunks for a response that already finalized are rejected (the backend may
// deliver them after the final message), as are re-delivered sequences.
// Returns whether the chunk was accepted.
func (e *Engine) ApplyStreamDelta(agentID, messageID, conversationID string, sequence int, createdAt int64, delta string) bool {
	e.mu.Lock()
	if _, done := e.finalized[streamKey(agentID, messageID)]; done {
		e.mu.Unlock()
		e.logger.Debug("rejected late stream chunk", "agent", agentID, "message", messageID)
		return false
	}

	s, ok := e.streams[agentID]
	if !ok || s.MessageID != messageID {
		s = &StreamSession{
			AgentID:        agentID,
			MessageID:      messageID,
			ConversationID: conversationID,
			StartedAt:      createdAt,
		}
		e.streams[agentID] = s
	}
	if sequence != 0 && sequence <= s.LastSequence {
		e.mu.Unlock()
		return true
	}
	s.Content += delta
	s.UpdatedAt = createdAt
	if sequence != 0 {
		s.LastSequence = sequence
	}
	e.mu.Unlock()
	e.Notify()
	return true
}

// TypingAgents returns the agents with an open session but no content yet in
// the given conversation.
func (e *Engine) TypingAgents(conversationID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, s := range e.streams {
		if s.ConversationID == conversationID && !s.HasContent() {
			out = append(out, s.AgentID)
		}
	}
	return out
}

// StreamingSessions returns copies of the sessions with content for the given
// conversation.
func (e *Engine) StreamingSessions(conversationID string) []StreamSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []StreamSession
	for _, s := range e.streams {
		if s.ConversationID == conversationID && s.HasContent() {
			out = append(out, *s)
		}
	}
	return out
}
