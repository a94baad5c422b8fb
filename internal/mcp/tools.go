package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/inbox"
)

type listProjectsArgs struct{}

type listConversationsArgs struct {
	ProjectID       string `json:"project_id,omitempty" jsonschema:"Limit the tree to one project"`
	IncludeArchived bool   `json:"include_archived,omitempty" jsonschema:"Include archived conversations"`
}

type getMessagesArgs struct {
	ConversationID string `json:"conversation_id" jsonschema:"Conversation to read"`
	Limit          int    `json:"limit,omitempty" jsonschema:"Maximum number of messages, most recent kept (default: 50)"`
}

type listInboxArgs struct {
	UnreadOnly bool `json:"unread_only,omitempty" jsonschema:"Only return unread items"`
}

type markInboxReadArgs struct {
	ID string `json:"id" jsonschema:"Inbox item id to mark read"`
}

type waitForChangeArgs struct {
	SinceVersion uint64 `json:"since_version,omitempty" jsonschema:"Return as soon as the state version exceeds this; 0 means the current version"`
	TimeoutSecs  int    `json:"timeout_secs,omitempty" jsonschema:"Give up after this many seconds (default: 30)"`
}

func registerTools(server *sdkmcp.Server, cfg Config) {
	eng := cfg.Engine

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_projects",
		Description: "List all known projects with their online status and agent roster.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, _ listProjectsArgs) (*sdkmcp.CallToolResult, any, error) {
		projects := eng.Projects()
		if len(projects) == 0 {
			return toolResult("No projects known yet", false), nil, nil
		}
		if cfg.Status != nil {
			for _, p := range projects {
				_, _ = cfg.Status.EnsureLoaded(ctx, p.ID)
			}
		}
		var b strings.Builder
		for _, p := range projects {
			state := "offline"
			if eng.ProjectOnline(p.ID) {
				state = "online"
			}
			fmt.Fprintf(&b, "%s [%s] (%s)", p.Title, p.ID, state)
			agents := eng.OnlineAgents(p.ID)
			if len(agents) > 0 {
				names := make([]string, len(agents))
				for i, a := range agents {
					names[i] = a.DisplayName()
				}
				fmt.Fprintf(&b, " agents: %s", strings.Join(names, ", "))
			}
			b.WriteString("\n")
		}
		return toolResult(strings.TrimRight(b.String(), "\n"), false), nil, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_conversations",
		Description: "List the conversation tree. Children are indented under their parent; active branches are marked.",
	}, func(_ context.Context, _ *sdkmcp.CallToolRequest, args listConversationsArgs) (*sdkmcp.CallToolResult, any, error) {
		h := eng.Hierarchy()
		var b strings.Builder
		count := 0
		h.Walk(func(rec conversation.Conversation, depth int) {
			if args.ProjectID != "" && rec.ProjectID != args.ProjectID {
				return
			}
			if rec.Archived && !args.IncludeArchived {
				return
			}
			marker := " "
			if h.Active(rec.ID) {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s%s %s [%s]\n", strings.Repeat("  ", depth), marker, rec.Title, rec.ID)
			count++
		})
		if count == 0 {
			return toolResult("No conversations", false), nil, nil
		}
		return toolResult(strings.TrimRight(b.String(), "\n"), false), nil, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_messages",
		Description: "Get the messages of one conversation, oldest first. Fetches history from the backend on first access.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args getMessagesArgs) (*sdkmcp.CallToolResult, any, error) {
		if args.ConversationID == "" {
			return toolError("conversation_id is required"), nil, nil
		}
		limit := args.Limit
		if limit <= 0 {
			limit = 50
		}
		if cfg.Messages != nil {
			if _, err := cfg.Messages.EnsureLoaded(ctx, args.ConversationID); err != nil {
				return toolError(fmt.Sprintf("loading messages: %v", err)), nil, nil
			}
		}
		msgs := eng.Messages(args.ConversationID)
		if len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}

		var b strings.Builder
		for _, m := range msgs {
			fmt.Fprintf(&b, "[%s] %s: %s\n", formatTime(m.CreatedAt), eng.ProfileName(m.Author), m.Content)
		}
		for _, s := range eng.StreamingSessions(args.ConversationID) {
			if !s.HasContent() {
				continue
			}
			fmt.Fprintf(&b, "[typing] %s: %s\n", eng.ProfileName(s.AgentID), s.Content)
		}
		if b.Len() == 0 {
			return toolResult("No messages", false), nil, nil
		}
		return toolResult(strings.TrimRight(b.String(), "\n"), false), nil, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_inbox",
		Description: "List inbox items (mentions and replies), most recent first.",
	}, func(_ context.Context, _ *sdkmcp.CallToolRequest, args listInboxArgs) (*sdkmcp.CallToolResult, any, error) {
		items := eng.Inbox()
		var b strings.Builder
		count := 0
		for _, item := range items {
			if args.UnreadOnly && item.Read {
				continue
			}
			b.WriteString(formatInboxItem(item))
			b.WriteString("\n")
			count++
		}
		if count == 0 {
			return toolResult("Inbox is empty", false), nil, nil
		}
		header := fmt.Sprintf("Inbox (%d items, %d unread):\n", count, eng.UnreadInboxCount())
		return toolResult(header+strings.TrimRight(b.String(), "\n"), false), nil, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "mark_inbox_read",
		Description: "Mark an inbox item as read. The item stays read even if the backend re-delivers it.",
	}, func(_ context.Context, _ *sdkmcp.CallToolRequest, args markInboxReadArgs) (*sdkmcp.CallToolResult, any, error) {
		if args.ID == "" {
			return toolError("id is required"), nil, nil
		}
		eng.MarkInboxRead(args.ID)
		return toolResult(fmt.Sprintf("Marked %s read", args.ID), false), nil, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "wait_for_change",
		Description: "Block until any synchronized state changes, then return the new state version. Use the returned version as since_version on the next call.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args waitForChangeArgs) (*sdkmcp.CallToolResult, any, error) {
		since := args.SinceVersion
		if since == 0 {
			since = eng.Version()
		}
		timeout := time.Duration(args.TimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}

		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		// The change channel is shared and coalesced, so poll the version on a
		// short tick as well in case another waiter consumed the signal.
		tick := time.NewTicker(250 * time.Millisecond)
		defer tick.Stop()

		for {
			if v := eng.Version(); v > since {
				return toolResult(fmt.Sprintf("version: %d", v), false), nil, nil
			}
			select {
			case <-eng.Changed():
			case <-tick.C:
			case <-deadline.C:
				return toolResult(fmt.Sprintf("no change (version: %d)", eng.Version()), false), nil, nil
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
	})
}

func formatInboxItem(item inbox.Item) string {
	state := "unread"
	if item.Read {
		state = "read"
	}
	return fmt.Sprintf("[%s] %s %s from %s: %s (conversation %s)",
		state, item.Kind, item.ID, item.Author, item.Title, item.ConversationID)
}

func formatTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04")
}

func toolResult(text string, isError bool) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
		IsError: isError,
	}
}

func toolError(text string) *sdkmcp.CallToolResult {
	return toolResult(text, true)
}
