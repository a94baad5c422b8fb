// Package stream drains the backend push stream into the engine's delta
// operations. Events are applied in arrival order; every operation is
// idempotent, so at-least-once delivery and reordering of independent events
// are harmless.
package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/loomworks/loom/internal/core"
	"github.com/loomworks/loom/internal/engine"
)

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute
)

// Consumer subscribes to the push stream and applies deltas. On stream
// failure it re-subscribes with backoff and asks for a resync so the gap is
// covered by a bulk refresh.
type Consumer struct {
	client core.Client
	engine *engine.Engine
	logger *slog.Logger

	// Resync is called after a reconnect to cover missed events, typically
	// wired to the refresh coordinator's Trigger.
	Resync func()
}

// NewConsumer creates a Consumer.
func NewConsumer(client core.Client, eng *engine.Engine, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, engine: eng, logger: logger}
}

// Run subscribes and applies events until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		events, err := c.client.Subscribe(ctx)
		if err != nil {
			c.logger.Warn("subscribe failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = initialBackoff
		c.logger.Info("push stream connected")
		for ev := range events {
			c.Apply(ev)
		}
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("push stream closed, reconnecting")
		if c.Resync != nil {
			c.Resync()
		}
	}
}

// Apply dispatches one push event to the matching engine operation.
func (c *Consumer) Apply(ev core.Event) {
	switch e := ev.(type) {
	case core.MessageAppended:
		c.engine.ApplyMessage(e.Message)
	case core.ConversationUpserted:
		c.engine.ApplyConversation(e.Conversation)
	case core.ProjectUpserted:
		c.engine.ApplyProject(e.Project)
	case core.InboxItemUpserted:
		c.engine.ApplyInboxItem(e.Item)
	case core.ProjectStatusChanged:
		c.engine.ApplyProjectStatus(e.ProjectID, e.Online, e.Agents)
	case core.ActiveConversationsChanged:
		c.engine.ApplyActiveConversations(e.ProjectID, e.ActiveIDs)
	case core.ProfileUpdated:
		c.engine.ApplyProfile(e.AgentID, e.Name)
	case core.StreamDelta:
		c.engine.ApplyStreamDelta(e.AgentID, e.MessageID, e.ConversationID, e.Sequence, e.CreatedAt, e.Delta)
	default:
		c.logger.Debug("ignoring unknown event", "kind", ev.Kind())
	}
}
