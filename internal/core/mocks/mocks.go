// Package mocks provides testify doubles for the backend client.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/loomworks/loom/internal/core"
	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/project"
)

// Client is a mock for core.Client.
type Client struct {
	mock.Mock
}

func (m *Client) FetchProjects(ctx context.Context) ([]project.Project, error) {
	args := m.Called(ctx)
	if list, ok := args.Get(0).([]project.Project); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Client) FetchConversations(ctx context.Context, filter core.ConversationFilter) ([]conversation.Conversation, error) {
	args := m.Called(ctx, filter)
	if list, ok := args.Get(0).([]conversation.Conversation); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Client) FetchMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	args := m.Called(ctx, conversationID)
	if list, ok := args.Get(0).([]conversation.Message); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Client) FetchProjectOnline(ctx context.Context, projectID string) (bool, error) {
	args := m.Called(ctx, projectID)
	return args.Bool(0), args.Error(1)
}

func (m *Client) FetchOnlineAgents(ctx context.Context, projectID string) ([]project.Agent, error) {
	args := m.Called(ctx, projectID)
	if list, ok := args.Get(0).([]project.Agent); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Client) Subscribe(ctx context.Context) (<-chan core.Event, error) {
	args := m.Called(ctx)
	if ch, ok := args.Get(0).(<-chan core.Event); ok {
		return ch, args.Error(1)
	}
	if ch, ok := args.Get(0).(chan core.Event); ok {
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}
