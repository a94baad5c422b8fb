// Package mcp exposes the synchronized client state over the Model Context
// Protocol so agent frontends can query conversations, messages and project
// status without talking to the backend directly.
package mcp

import (
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loomworks/loom/internal/cache"
	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/project"
	"github.com/loomworks/loom/internal/engine"
)

const serverInstructions = `Loom mirrors a threaded agent-conversation backend into a local,
always-current state store. Tools read that local state; they are cheap and
never block on the network except get_messages, which may fetch a
conversation's history on first access. Use wait_for_change to block until
anything changes instead of polling.`

// Config contains server dependencies. Messages and Status are optional;
// without them the matching tools serve whatever the engine already holds.
type Config struct {
	Engine   *engine.Engine
	Messages *cache.Loader[[]conversation.Message]
	Status   *cache.Loader[project.Status]
	Logger   *slog.Logger
}

// NewServer creates and configures an MCP server with all tools.
func NewServer(cfg Config) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "loom",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerTools(server, cfg)

	return server
}
