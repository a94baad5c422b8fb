// Package engine holds the authoritative client-side state: the latest known
// record per entity, the derived conversation hierarchy, and the per-project
// status facts. One Engine is the single logical owner of all mutable state;
// every mutation serializes through its mutex and no I/O ever happens under
// the lock. Fetchers run concurrently and only take the lock to commit.
package engine

import (
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/inbox"
	"github.com/loomworks/loom/internal/domain/project"
)

// Engine is the in-memory source of truth for conversations, projects and
// their derived caches. All mutation operations are idempotent and commute
// with respect to unrelated ids; none of them can fail. Unknown ids are
// inserted rather than rejected, since the backend is the source of truth.
type Engine struct {
	logger *slog.Logger

	mu            sync.Mutex
	conversations map[string]conversation.Conversation
	convOrder     []string
	projects      []project.Project
	online        map[string]bool
	agents        map[string][]project.Agent
	messages      map[string][]conversation.Message
	inboxItems    []inbox.Item
	inboxRead     map[string]struct{}
	profiles      map[string]string
	streams       map[string]*StreamSession
	finalized     map[string]struct{}

	hierarchy atomic.Pointer[conversation.Hierarchy]
	version   atomic.Uint64
	changed   chan struct{}
}

// New creates an empty engine.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger:        logger,
		conversations: make(map[string]conversation.Conversation),
		online:        make(map[string]bool),
		agents:        make(map[string][]project.Agent),
		messages:      make(map[string][]conversation.Message),
		inboxRead:     make(map[string]struct{}),
		profiles:      make(map[string]string),
		streams:       make(map[string]*StreamSession),
		finalized:     make(map[string]struct{}),
		changed:       make(chan struct{}, 1),
	}
	e.hierarchy.Store(conversation.BuildHierarchy(nil))
	return e
}

// Version returns the monotonically increasing change counter. Observers can
// poll it to detect that anything changed since they last looked.
func (e *Engine) Version() uint64 {
	return e.version.Load()
}

// Changed returns a coalesced change signal: at least one receive is
// guaranteed after any notification, however many notifications coalesced
// into it.
func (e *Engine) Changed() <-chan struct{} {
	return e.changed
}

// Notify bumps the version and signals observers. Bulk committers use the
// quiet per-field writes and call this once per batch.
func (e *Engine) Notify() {
	e.version.Add(1)
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

// Hierarchy returns the current hierarchy snapshot. The snapshot is immutable
// and is replaced, never mutated, so it can be read without locking.
func (e *Engine) Hierarchy() *conversation.Hierarchy {
	return e.hierarchy.Load()
}

// rebuildHierarchy derives a fresh snapshot from the conversation map and
// swaps the pointer. Caller must hold e.mu.
func (e *Engine) rebuildHierarchy() {
	records := make([]conversation.Conversation, 0, len(e.convOrder))
	for _, id := range e.convOrder {
		records = append(records, e.conversations[id])
	}
	e.hierarchy.Store(conversation.BuildHierarchy(records))
}

// ApplyConversation upserts a conversation record. The hierarchy is rebuilt
// only when presence, parent linkage, activity, or the activity bucket used
// for root ordering changed; edits to other fields skip the O(n) rebuild.
func (e *Engine) ApplyConversation(rec conversation.Conversation) {
	e.mu.Lock()
	prev, existed := e.conversations[rec.ID]
	if existed && prev == rec {
		e.mu.Unlock()
		return
	}
	if !existed {
		e.convOrder = append(e.convOrder, rec.ID)
	}
	e.conversations[rec.ID] = rec

	structural := !existed ||
		!parentEqual(prev.ParentID, rec.ParentID) ||
		prev.Active != rec.Active ||
		conversation.ActivityBucket(prev.LastActivity) != conversation.ActivityBucket(rec.LastActivity)
	if structural {
		e.rebuildHierarchy()
	}
	e.mu.Unlock()
	e.Notify()
}

// ApplyProject upserts a project. New projects are inserted at the front of
// the display list; the next refresh completion re-sorts.
func (e *Engine) ApplyProject(p project.Project) {
	e.mu.Lock()
	replaced := false
	for i := range e.projects {
		if e.projects[i].ID == p.ID {
			if e.projects[i] == p {
				e.mu.Unlock()
				return
			}
			e.projects[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		e.projects = append([]project.Project{p}, e.projects...)
	}
	e.mu.Unlock()
	e.Notify()
}

// ApplyMessage appends a message to its conversation, keeping the list
// deduplicated by id and ascending by timestamp. Re-delivery is a no-op. A
// message that answers a streamed response finalizes that stream, so chunks
// arriving after it are rejected.
func (e *Engine) ApplyMessage(msg conversation.Message) {
	e.mu.Lock()
	if msg.ReplyTo != nil {
		e.finalized[streamKey(msg.Author, *msg.ReplyTo)] = struct{}{}
	}
	delete(e.streams, msg.Author)

	if !e.insertMessageLocked(msg) {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.Notify()
}

// insertMessageLocked inserts msg sorted ascending by CreatedAt, returning
// false when the id is already present. Caller must hold e.mu.
func (e *Engine) insertMessageLocked(msg conversation.Message) bool {
	list := e.messages[msg.ConversationID]
	for _, m := range list {
		if m.ID == msg.ID {
			return false
		}
	}
	pos := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt >= msg.CreatedAt
	})
	list = append(list, conversation.Message{})
	copy(list[pos+1:], list[pos:])
	list[pos] = msg
	e.messages[msg.ConversationID] = list
	return true
}

// MergeMessages commits a bulk message fetch for one conversation through the
// same dedup path as push deltas, so the two sources collapse.
func (e *Engine) MergeMessages(conversationID string, msgs []conversation.Message) {
	e.mu.Lock()
	changed := false
	for _, msg := range msgs {
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		if e.insertMessageLocked(msg) {
			changed = true
		}
	}
	e.mu.Unlock()
	if changed {
		e.Notify()
	}
}

// SetProjectOnline writes the online flag for one project. It is a quiet
// per-field write: no notification, so bulk refreshes can coalesce. Reports
// whether the stored value changed.
func (e *Engine) SetProjectOnline(projectID string, online bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, known := e.online[projectID]
	if known && prev == online {
		return false
	}
	e.online[projectID] = online
	return true
}

// SetOnlineAgents writes the roster for one project. Quiet per-field write,
// same contract as SetProjectOnline.
func (e *Engine) SetOnlineAgents(projectID string, agents []project.Agent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, known := e.agents[projectID]
	if known && reflect.DeepEqual(prev, agents) {
		return false
	}
	e.agents[projectID] = agents
	return true
}

// ApplyProjectStatus commits a pushed status event: two independent per-field
// writes and a single notification.
func (e *Engine) ApplyProjectStatus(projectID string, online bool, agents []project.Agent) {
	changed := e.SetProjectOnline(projectID, online)
	if e.SetOnlineAgents(projectID, agents) {
		changed = true
	}
	if changed {
		e.Notify()
	}
}

// ApplyActiveConversations sets the active flag of every conversation in the
// project to membership in activeIDs. The hierarchy is rebuilt only when at
// least one flag actually flipped.
func (e *Engine) ApplyActiveConversations(projectID string, activeIDs []string) {
	active := make(map[string]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}

	e.mu.Lock()
	flipped := false
	for _, id := range e.convOrder {
		rec := e.conversations[id]
		if rec.ProjectID != projectID {
			continue
		}
		_, want := active[rec.ID]
		if rec.Active != want {
			rec.Active = want
			e.conversations[id] = rec
			flipped = true
		}
	}
	if flipped {
		e.rebuildHierarchy()
	}
	e.mu.Unlock()
	if flipped {
		e.Notify()
	}
}

// ApplyInboxItem upserts an inbox item, deduplicated by id and kept
// descending by timestamp. Read state recorded earlier survives re-delivery.
func (e *Engine) ApplyInboxItem(item inbox.Item) {
	e.mu.Lock()
	if _, read := e.inboxRead[item.ID]; read {
		item.Read = true
	}
	for _, existing := range e.inboxItems {
		if existing.ID == item.ID {
			e.mu.Unlock()
			return
		}
	}
	pos := sort.Search(len(e.inboxItems), func(i int) bool {
		return e.inboxItems[i].CreatedAt <= item.CreatedAt
	})
	e.inboxItems = append(e.inboxItems, inbox.Item{})
	copy(e.inboxItems[pos+1:], e.inboxItems[pos:])
	e.inboxItems[pos] = item
	e.mu.Unlock()
	e.Notify()
}

// MarkInboxRead marks an item read and records the id so a later re-delivery
// of the same item stays read.
func (e *Engine) MarkInboxRead(id string) {
	e.mu.Lock()
	e.inboxRead[id] = struct{}{}
	changed := false
	for i := range e.inboxItems {
		if e.inboxItems[i].ID == id && !e.inboxItems[i].Read {
			e.inboxItems[i].Read = true
			changed = true
		}
	}
	e.mu.Unlock()
	if changed {
		e.Notify()
	}
}

// ApplyProfile records a display name for an agent or user.
func (e *Engine) ApplyProfile(agentID, name string) {
	if name == "" {
		return
	}
	e.mu.Lock()
	if e.profiles[agentID] == name {
		e.mu.Unlock()
		return
	}
	e.profiles[agentID] = name
	e.mu.Unlock()
	e.Notify()
}

// ResortProjects orders the project list online-first, then by title. Quiet;
// refresh completion calls it before its aggregate notification.
func (e *Engine) ResortProjects() {
	e.mu.Lock()
	defer e.mu.Unlock()
	sort.SliceStable(e.projects, func(i, j int) bool {
		a, b := e.projects[i], e.projects[j]
		if e.online[a.ID] != e.online[b.ID] {
			return e.online[a.ID]
		}
		return strings.ToLower(a.Title) < strings.ToLower(b.Title)
	})
}

// Projects returns a copy of the project list in display order.
func (e *Engine) Projects() []project.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]project.Project, len(e.projects))
	copy(out, e.projects)
	return out
}

// ProjectIDs returns the ids of all known projects in display order.
func (e *Engine) ProjectIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, len(e.projects))
	for i, p := range e.projects {
		ids[i] = p.ID
	}
	return ids
}

// ProjectOnline reports the last committed online flag; unknown projects are
// offline.
func (e *Engine) ProjectOnline(projectID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online[projectID]
}

// OnlineAgents returns a copy of the last committed roster for a project.
func (e *Engine) OnlineAgents(projectID string) []project.Agent {
	e.mu.Lock()
	defer e.mu.Unlock()
	agents := e.agents[projectID]
	out := make([]project.Agent, len(agents))
	copy(out, agents)
	return out
}

// Messages returns a copy of the message list for a conversation, ascending
// by timestamp.
func (e *Engine) Messages(conversationID string) []conversation.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.messages[conversationID]
	out := make([]conversation.Message, len(list))
	copy(out, list)
	return out
}

// Inbox returns a copy of the inbox, most recent first.
func (e *Engine) Inbox() []inbox.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]inbox.Item, len(e.inboxItems))
	copy(out, e.inboxItems)
	return out
}

// UnreadInboxCount returns the number of unread inbox items.
func (e *Engine) UnreadInboxCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, item := range e.inboxItems {
		if !item.Read {
			count++
		}
	}
	return count
}

// ProfileName returns the display name for an id, falling back to a
// truncated form of the id itself.
func (e *Engine) ProfileName(id string) string {
	e.mu.Lock()
	name := e.profiles[id]
	e.mu.Unlock()
	if name != "" {
		return name
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func parentEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
