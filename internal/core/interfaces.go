// Package core defines the contract with the remote backend. The backend is
// eventually consistent: push events arrive at least once, unordered across
// topics, and bulk fetches may race against pushes. Everything above this
// package is written to tolerate that.
package core

import (
	"context"

	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/project"
)

// ConversationFilter narrows a bulk conversation fetch.
type ConversationFilter struct {
	// ProjectIDs limits the fetch to a subset of projects; empty means all.
	ProjectIDs []string
	// IncludeArchived includes conversations the user archived.
	IncludeArchived bool
	// IncludeScheduled includes conversations queued for future dispatch.
	IncludeScheduled bool
	// Since limits the fetch to conversations active at or after this Unix
	// timestamp; zero means no lower bound.
	Since int64
}

// Client is the backend as seen by the sync engine.
type Client interface {
	FetchProjects(ctx context.Context) ([]project.Project, error)
	FetchConversations(ctx context.Context, filter ConversationFilter) ([]conversation.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string) ([]conversation.Message, error)
	FetchProjectOnline(ctx context.Context, projectID string) (bool, error)
	FetchOnlineAgents(ctx context.Context, projectID string) ([]project.Agent, error)

	// Subscribe opens the push stream. The returned channel is closed when
	// the stream ends or ctx is canceled; callers are expected to
	// re-subscribe and trigger a refresh to cover the gap.
	Subscribe(ctx context.Context) (<-chan Event, error)
}
