package integration_test

import (
	"context"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/cache"
	"github.com/loomworks/loom/internal/core"
	"github.com/loomworks/loom/internal/core/coretest"
	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/inbox"
	"github.com/loomworks/loom/internal/domain/project"
	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/mcp"
	"github.com/loomworks/loom/internal/refresh"
	"github.com/loomworks/loom/internal/stream"
)

type harness struct {
	fake    *coretest.Fake
	eng     *engine.Engine
	session *sdkmcp.ClientSession
}

// startHarness wires a fake backend to the full client stack and connects an
// MCP client over in-memory transports.
func startHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	fake := coretest.NewFake()
	eng := engine.New(nil)

	messages := cache.NewLoader(
		func(ctx context.Context, conversationID string) ([]conversation.Message, error) {
			return fake.FetchMessages(ctx, conversationID)
		},
		eng.MergeMessages,
		nil,
		nil,
	)

	status := cache.NewLoader(
		func(ctx context.Context, projectID string) (project.Status, error) {
			online, err := fake.FetchProjectOnline(ctx, projectID)
			if err != nil {
				return project.Status{}, err
			}
			st := project.Status{Online: online}
			if online {
				st.Agents, err = fake.FetchOnlineAgents(ctx, projectID)
				if err != nil {
					return project.Status{}, err
				}
			}
			return st, nil
		},
		func(projectID string, st project.Status) {
			eng.ApplyProjectStatus(projectID, st.Online, st.Agents)
		},
		project.Status{},
		nil,
	)

	coordinator := refresh.New(fake, eng, nil, time.Hour, 0)
	consumer := stream.NewConsumer(fake, eng, nil)
	consumer.Resync = coordinator.Trigger
	go consumer.Run(ctx)
	go coordinator.Run(ctx)

	server := mcp.NewServer(mcp.Config{Engine: eng, Messages: messages, Status: status})

	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	go func() {
		_ = server.Run(ctx, serverTransport)
	}()

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return &harness{fake: fake, eng: eng, session: session}
}

func textOf(t *testing.T, result *sdkmcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestFullFlow(t *testing.T) {
	ctx := context.Background()
	h := startHarness(t)

	parent := "c1"
	h.fake.SetProjects(
		project.Project{ID: "p1", Title: "Alpha", CreatedAt: 10},
	)
	h.fake.SetConversations(
		conversation.Conversation{ID: "c1", ProjectID: "p1", Title: "Plan the release", LastActivity: 1000},
		conversation.Conversation{ID: "c2", ParentID: &parent, ProjectID: "p1", Title: "Subtask", Active: true, LastActivity: 2000},
	)
	h.fake.SetMessages("c1",
		conversation.Message{ID: "m1", ConversationID: "c1", Author: "alice", Content: "kickoff", CreatedAt: 100},
		conversation.Message{ID: "m2", ConversationID: "c1", Author: "agent1", Content: "on it", CreatedAt: 200},
	)
	h.fake.SetStatus("p1", true, project.Agent{ID: "agent1", Name: "Planner"})

	// Seed the engine the way startup does.
	projects, err := h.fake.FetchProjects(ctx)
	require.NoError(t, err)
	for _, p := range projects {
		h.eng.ApplyProject(p)
	}
	convs, err := h.fake.FetchConversations(ctx, core.ConversationFilter{})
	require.NoError(t, err)
	for _, c := range convs {
		h.eng.ApplyConversation(c)
	}

	tools, err := h.session.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"list_projects", "list_conversations", "get_messages", "list_inbox", "mark_inbox_read", "wait_for_change"} {
		require.True(t, names[want], "missing tool %s", want)
	}

	t.Run("ProjectStatusLoadedOnDemand", func(t *testing.T) {
		result, err := h.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: "list_projects"})
		require.NoError(t, err)
		text := textOf(t, result)
		require.Contains(t, text, "(online)")
		require.Contains(t, text, "Planner")
		require.Equal(t, 1, h.fake.FetchCount("online", "p1"))

		// A second listing serves from the engine without refetching.
		_, err = h.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: "list_projects"})
		require.NoError(t, err)
		require.Equal(t, 1, h.fake.FetchCount("online", "p1"))
	})

	t.Run("PushedStatusOverridesLoaded", func(t *testing.T) {
		h.fake.Push(core.ProjectStatusChanged{ProjectID: "p1", Online: false})
		require.Eventually(t, func() bool {
			return !h.eng.ProjectOnline("p1")
		}, 2*time.Second, 10*time.Millisecond)

		result, err := h.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: "list_projects"})
		require.NoError(t, err)
		require.Contains(t, textOf(t, result), "(offline)")
	})

	t.Run("ConversationTree", func(t *testing.T) {
		result, err := h.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: "list_conversations"})
		require.NoError(t, err)
		text := textOf(t, result)
		require.Contains(t, text, "* Plan the release", "active child propagates to root")
		require.Contains(t, text, "  * Subtask")
	})

	t.Run("MessagesFetchedOnFirstAccess", func(t *testing.T) {
		result, err := h.session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      "get_messages",
			Arguments: map[string]any{"conversation_id": "c1"},
		})
		require.NoError(t, err)
		require.False(t, result.IsError)
		text := textOf(t, result)
		require.Contains(t, text, "kickoff")
		require.Contains(t, text, "on it")
		require.Equal(t, 1, h.fake.FetchCount("messages", "c1"))

		// Second read serves from the engine without another fetch.
		_, err = h.session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      "get_messages",
			Arguments: map[string]any{"conversation_id": "c1"},
		})
		require.NoError(t, err)
		require.Equal(t, 1, h.fake.FetchCount("messages", "c1"))
	})

	t.Run("PushedMessageMergesWithFetched", func(t *testing.T) {
		h.fake.Push(core.MessageAppended{Message: conversation.Message{
			ID: "m3", ConversationID: "c1", Author: "alice", Content: "thanks", CreatedAt: 300,
		}})
		require.Eventually(t, func() bool {
			return len(h.eng.Messages("c1")) == 3
		}, 2*time.Second, 10*time.Millisecond)

		result, err := h.session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      "get_messages",
			Arguments: map[string]any{"conversation_id": "c1"},
		})
		require.NoError(t, err)
		require.Contains(t, textOf(t, result), "thanks")
	})

	t.Run("InboxReadSurvivesRedelivery", func(t *testing.T) {
		item := inbox.Item{ID: "i1", Kind: inbox.KindMention, Title: "ping", Author: "alice", CreatedAt: 400}
		h.fake.Push(core.InboxItemUpserted{Item: item})
		require.Eventually(t, func() bool {
			return len(h.eng.Inbox()) == 1
		}, 2*time.Second, 10*time.Millisecond)

		result, err := h.session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      "mark_inbox_read",
			Arguments: map[string]any{"id": "i1"},
		})
		require.NoError(t, err)
		require.False(t, result.IsError)

		h.fake.Push(core.InboxItemUpserted{Item: item})
		time.Sleep(50 * time.Millisecond)

		result, err = h.session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      "list_inbox",
			Arguments: map[string]any{"unread_only": true},
		})
		require.NoError(t, err)
		require.Contains(t, textOf(t, result), "Inbox is empty")
	})

	t.Run("WaitForChangeUnblocksOnPush", func(t *testing.T) {
		version := h.eng.Version()
		done := make(chan string, 1)
		go func() {
			result, err := h.session.CallTool(ctx, &sdkmcp.CallToolParams{
				Name:      "wait_for_change",
				Arguments: map[string]any{"since_version": version, "timeout_secs": 10},
			})
			if err != nil {
				done <- "error: " + err.Error()
				return
			}
			if len(result.Content) == 0 {
				done <- "no content"
				return
			}
			if text, ok := result.Content[0].(*sdkmcp.TextContent); ok {
				done <- text.Text
				return
			}
			done <- "no text content"
		}()

		time.Sleep(50 * time.Millisecond)
		h.fake.Push(core.ProfileUpdated{AgentID: "alice", Name: "Alice"})

		select {
		case text := <-done:
			require.Contains(t, text, "version:")
			require.NotContains(t, text, "no change")
		case <-time.After(5 * time.Second):
			t.Fatal("wait_for_change did not unblock")
		}
	})
}
