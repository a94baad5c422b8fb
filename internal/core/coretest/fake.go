// Package coretest provides a scriptable in-memory backend for tests.
package coretest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/core"
	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/project"
)

// Fake is an in-memory core.Client. Fixture data is set directly; push
// events are injected with Push. Optional hooks let tests block or observe
// individual fetches to script races.
type Fake struct {
	mu            sync.Mutex
	projects      []project.Project
	conversations []conversation.Conversation
	messages      map[string][]conversation.Message
	online        map[string]bool
	agents        map[string][]project.Agent
	statusErr     map[string]error
	agentsErr     map[string]error
	messagesErr   map[string]error
	fetchCounts   map[string]int
	subscribers   []chan core.Event

	// OnFetchOnline, when set, runs at the start of FetchProjectOnline.
	// Tests use it to hold a fetch open while pushing interleaved deltas.
	OnFetchOnline func(projectID string)

	// OnFetchMessages runs at the start of FetchMessages.
	OnFetchMessages func(conversationID string)
}

// NewFake creates an empty fake backend.
func NewFake() *Fake {
	return &Fake{
		messages:    make(map[string][]conversation.Message),
		online:      make(map[string]bool),
		agents:      make(map[string][]project.Agent),
		statusErr:   make(map[string]error),
		agentsErr:   make(map[string]error),
		messagesErr: make(map[string]error),
		fetchCounts: make(map[string]int),
	}
}

// NewProject returns a project fixture with a random id.
func NewProject(title string) project.Project {
	return project.Project{ID: uuid.NewString(), Title: title, CreatedAt: 1}
}

// NewConversation returns a conversation fixture with a random id.
func NewConversation(projectID, title string) conversation.Conversation {
	return conversation.Conversation{ID: uuid.NewString(), ProjectID: projectID, Title: title, LastActivity: 1}
}

// SetProjects replaces the project fixtures.
func (f *Fake) SetProjects(projects ...project.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = projects
}

// SetConversations replaces the conversation fixtures.
func (f *Fake) SetConversations(convs ...conversation.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = convs
}

// SetMessages replaces the message fixtures for one conversation.
func (f *Fake) SetMessages(conversationID string, msgs ...conversation.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[conversationID] = msgs
}

// SetStatus sets the status fixtures for one project.
func (f *Fake) SetStatus(projectID string, online bool, agents ...project.Agent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[projectID] = online
	f.agents[projectID] = agents
}

// FailStatus makes FetchProjectOnline fail for one project.
func (f *Fake) FailStatus(projectID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr[projectID] = err
}

// FailAgents makes FetchOnlineAgents fail for one project.
func (f *Fake) FailAgents(projectID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agentsErr[projectID] = err
}

// FailMessages makes FetchMessages fail for one conversation.
func (f *Fake) FailMessages(conversationID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messagesErr[conversationID] = err
}

// FetchCount returns how many times the named fetch ran for a key.
func (f *Fake) FetchCount(kind, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCounts[kind+":"+key]
}

func (f *Fake) count(kind, key string) {
	f.mu.Lock()
	f.fetchCounts[kind+":"+key]++
	f.mu.Unlock()
}

// Push delivers an event to every active subscriber.
func (f *Fake) Push(ev core.Event) {
	f.mu.Lock()
	subs := make([]chan core.Event, len(f.subscribers))
	copy(subs, f.subscribers)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- ev
	}
}

// CloseStream closes all subscriber channels, simulating a dropped stream.
func (f *Fake) CloseStream() {
	f.mu.Lock()
	subs := f.subscribers
	f.subscribers = nil
	f.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

func (f *Fake) FetchProjects(ctx context.Context) ([]project.Project, error) {
	f.count("projects", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]project.Project, len(f.projects))
	copy(out, f.projects)
	return out, nil
}

func (f *Fake) FetchConversations(ctx context.Context, filter core.ConversationFilter) ([]conversation.Conversation, error) {
	f.count("conversations", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(filter.ProjectIDs))
	for _, id := range filter.ProjectIDs {
		want[id] = true
	}
	var out []conversation.Conversation
	for _, c := range f.conversations {
		if len(want) > 0 && !want[c.ProjectID] {
			continue
		}
		if c.Archived && !filter.IncludeArchived {
			continue
		}
		if filter.Since > 0 && c.LastActivity < filter.Since {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *Fake) FetchMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	if f.OnFetchMessages != nil {
		f.OnFetchMessages(conversationID)
	}
	f.count("messages", conversationID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.messagesErr[conversationID]; err != nil {
		return nil, err
	}
	msgs := f.messages[conversationID]
	out := make([]conversation.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *Fake) FetchProjectOnline(ctx context.Context, projectID string) (bool, error) {
	if f.OnFetchOnline != nil {
		f.OnFetchOnline(projectID)
	}
	f.count("online", projectID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[projectID]; err != nil {
		return false, err
	}
	return f.online[projectID], nil
}

func (f *Fake) FetchOnlineAgents(ctx context.Context, projectID string) ([]project.Agent, error) {
	f.count("agents", projectID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.agentsErr[projectID]; err != nil {
		return nil, err
	}
	agents := f.agents[projectID]
	out := make([]project.Agent, len(agents))
	copy(out, agents)
	return out, nil
}

func (f *Fake) Subscribe(ctx context.Context) (<-chan core.Event, error) {
	ch := make(chan core.Event, 100)
	f.mu.Lock()
	f.subscribers = append(f.subscribers, ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		for i, sub := range f.subscribers {
			if sub == ch {
				f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
				close(ch)
				break
			}
		}
		f.mu.Unlock()
	}()
	return ch, nil
}
