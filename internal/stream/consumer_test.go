package stream_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/core"
	"github.com/loomworks/loom/internal/core/coretest"
	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/inbox"
	"github.com/loomworks/loom/internal/domain/project"
	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/stream"
)

func TestConsumer_Apply_DispatchesAllEventKinds(t *testing.T) {
	eng := engine.New(nil)
	c := stream.NewConsumer(coretest.NewFake(), eng, nil)

	c.Apply(core.ProjectUpserted{Project: project.Project{ID: "p1", Title: "alpha"}})
	c.Apply(core.ConversationUpserted{Conversation: conversation.Conversation{ID: "c1", ProjectID: "p1", LastActivity: 100}})
	c.Apply(core.MessageAppended{Message: conversation.Message{ID: "m1", ConversationID: "c1", Author: "alice", CreatedAt: 100}})
	c.Apply(core.InboxItemUpserted{Item: inbox.Item{ID: "i1", Kind: inbox.KindMention, CreatedAt: 100}})
	c.Apply(core.ProjectStatusChanged{ProjectID: "p1", Online: true, Agents: []project.Agent{{ID: "a1"}}})
	c.Apply(core.ActiveConversationsChanged{ProjectID: "p1", ActiveIDs: []string{"c1"}})
	c.Apply(core.ProfileUpdated{AgentID: "alice", Name: "Alice"})
	c.Apply(core.StreamDelta{AgentID: "a1", MessageID: "m2", ConversationID: "c1", Sequence: 1, CreatedAt: 101, Delta: "typing"})

	require.Len(t, eng.Projects(), 1)
	require.True(t, eng.ProjectOnline("p1"))
	require.Len(t, eng.OnlineAgents("p1"), 1)
	require.Len(t, eng.Messages("c1"), 1)
	require.Len(t, eng.Inbox(), 1)
	require.True(t, eng.Hierarchy().Active("c1"))
	require.Equal(t, "Alice", eng.ProfileName("alice"))
	require.Len(t, eng.StreamingSessions("c1"), 1)
}

func TestConsumer_Run_AppliesPushedEvents(t *testing.T) {
	fake := coretest.NewFake()
	eng := engine.New(nil)
	c := stream.NewConsumer(fake, eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		fake.Push(core.ProfileUpdated{AgentID: "alice", Name: "Alice"})
		return eng.ProfileName("alice") == "Alice"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsumer_Run_ResyncsAfterStreamDrop(t *testing.T) {
	fake := coretest.NewFake()
	eng := engine.New(nil)
	c := stream.NewConsumer(fake, eng, nil)

	var resyncs atomic.Int32
	c.Resync = func() { resyncs.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// Wait for the first subscription, drop it, and expect a resync plus a
	// working replacement subscription.
	require.Eventually(t, func() bool {
		fake.CloseStream()
		return resyncs.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		fake.Push(core.ProfileUpdated{AgentID: "bob", Name: "Bob"})
		return eng.ProfileName("bob") == "Bob"
	}, 5*time.Second, 50*time.Millisecond)
}
