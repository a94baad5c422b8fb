package engine

import (
	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/inbox"
	"github.com/loomworks/loom/internal/domain/project"
)

// Snapshot is the persistable subset of engine state. Derived data (the
// hierarchy, project status, stream sessions) is cheap to re-derive or only
// meaningful live, and is not carried.
type Snapshot struct {
	Projects      []project.Project
	Conversations []conversation.Conversation
	Messages      []conversation.Message
	InboxItems    []inbox.Item
	InboxReadIDs  []string
	Profiles      map[string]string

	// MaxCreatedAt is the highest event timestamp seen, used as the baseline
	// for incremental catch-up after a restore (minus a clock-skew window).
	MaxCreatedAt int64
}

// Export captures the persistable state for the state cache.
func (e *Engine) Export() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Projects:      make([]project.Project, len(e.projects)),
		Conversations: make([]conversation.Conversation, 0, len(e.convOrder)),
		InboxItems:    make([]inbox.Item, len(e.inboxItems)),
		InboxReadIDs:  make([]string, 0, len(e.inboxRead)),
		Profiles:      make(map[string]string, len(e.profiles)),
	}
	copy(snap.Projects, e.projects)
	copy(snap.InboxItems, e.inboxItems)
	for _, item := range e.inboxItems {
		if item.CreatedAt > snap.MaxCreatedAt {
			snap.MaxCreatedAt = item.CreatedAt
		}
	}

	for _, id := range e.convOrder {
		rec := e.conversations[id]
		snap.Conversations = append(snap.Conversations, rec)
		if rec.LastActivity > snap.MaxCreatedAt {
			snap.MaxCreatedAt = rec.LastActivity
		}
	}
	for _, list := range e.messages {
		for _, msg := range list {
			snap.Messages = append(snap.Messages, msg)
			if msg.CreatedAt > snap.MaxCreatedAt {
				snap.MaxCreatedAt = msg.CreatedAt
			}
		}
	}
	for id := range e.inboxRead {
		snap.InboxReadIDs = append(snap.InboxReadIDs, id)
	}
	for k, v := range e.profiles {
		snap.Profiles[k] = v
	}
	return snap
}

// Restore replaces the engine's state with a snapshot and rebuilds the
// hierarchy. Used once at startup, before any fetcher runs.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	e.conversations = make(map[string]conversation.Conversation, len(snap.Conversations))
	e.convOrder = e.convOrder[:0]
	for _, rec := range snap.Conversations {
		if _, seen := e.conversations[rec.ID]; !seen {
			e.convOrder = append(e.convOrder, rec.ID)
		}
		e.conversations[rec.ID] = rec
	}

	e.projects = make([]project.Project, len(snap.Projects))
	copy(e.projects, snap.Projects)

	e.messages = make(map[string][]conversation.Message)
	e.inboxItems = nil
	e.inboxRead = make(map[string]struct{}, len(snap.InboxReadIDs))
	for _, id := range snap.InboxReadIDs {
		e.inboxRead[id] = struct{}{}
	}
	e.profiles = make(map[string]string, len(snap.Profiles))
	for k, v := range snap.Profiles {
		e.profiles[k] = v
	}
	e.rebuildHierarchy()
	e.mu.Unlock()

	// Messages and inbox items go through the normal merge paths so ordering
	// and read-state rules hold regardless of stored order.
	for _, msg := range snap.Messages {
		e.mu.Lock()
		e.insertMessageLocked(msg)
		e.mu.Unlock()
	}
	for _, item := range snap.InboxItems {
		item.Read = false
		e.ApplyInboxItem(item)
	}
	e.Notify()
}
