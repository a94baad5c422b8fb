// Package refresh owns the bulk "recompute online status and rosters for all
// known projects" operation. Refreshes may be triggered repeatedly; each run
// is one generation, and starting a new generation supersedes any older one
// still in flight. Cancellation is cooperative: stale sub-fetches are allowed
// to finish, but their results are discarded at commit time by comparing
// generations, never by interrupting I/O.
package refresh

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loomworks/loom/internal/core"
	"github.com/loomworks/loom/internal/domain/project"
	"github.com/loomworks/loom/internal/engine"
)

// DefaultParallelism bounds concurrent per-project status fetches.
const DefaultParallelism = 8

// Coordinator runs bulk status refreshes against the backend and commits
// results through the engine's per-key writes, so a slow refresh can never
// clobber data a push delta wrote in the meantime.
type Coordinator struct {
	client      core.Client
	engine      *engine.Engine
	logger      *slog.Logger
	interval    time.Duration
	parallelism int

	generation atomic.Uint64
	trigger    chan struct{}
}

// New creates a Coordinator. interval is the periodic refresh cadence used by
// Run; parallelism <= 0 falls back to DefaultParallelism.
func New(client core.Client, eng *engine.Engine, logger *slog.Logger, interval time.Duration, parallelism int) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Coordinator{
		client:      client,
		engine:      eng,
		logger:      logger,
		interval:    interval,
		parallelism: parallelism,
		trigger:     make(chan struct{}, 1),
	}
}

// Generation returns the current refresh generation.
func (c *Coordinator) Generation() uint64 {
	return c.generation.Load()
}

func (c *Coordinator) current(gen uint64) bool {
	return c.generation.Load() == gen
}

// Refresh runs one full refresh generation, superseding any generation still
// in flight. It blocks until every sub-fetch of this generation has committed
// or been discarded, then fires a single aggregate notification if any write
// landed. A superseded generation still announces the writes it committed
// before losing currency; only the re-sort is reserved for the current
// generation.
func (c *Coordinator) Refresh(ctx context.Context) {
	gen := c.generation.Add(1)
	ids := c.engine.ProjectIDs()
	c.logger.Debug("refresh started", "generation", gen, "projects", len(ids))

	var changed atomic.Bool
	g := new(errgroup.Group)
	g.SetLimit(c.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			if c.refreshProject(ctx, gen, id) {
				changed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	if changed.Load() {
		if c.current(gen) {
			c.engine.ResortProjects()
		}
		c.engine.Notify()
	}
	c.logger.Debug("refresh finished", "generation", gen, "changed", changed.Load())
}

// refreshProject fetches and commits status for one project. The generation
// is checked before fetching and again before committing; a stale result is
// discarded silently. A failed fetch commits the safe default for this
// project only and never fails the generation.
func (c *Coordinator) refreshProject(ctx context.Context, gen uint64, projectID string) bool {
	if !c.current(gen) {
		return false
	}

	var agents []project.Agent
	online, err := c.client.FetchProjectOnline(ctx, projectID)
	if err != nil {
		c.logger.Warn("status fetch failed, defaulting offline", "project", projectID, "error", err)
		online = false
	} else if online {
		agents, err = c.client.FetchOnlineAgents(ctx, projectID)
		if err != nil {
			c.logger.Warn("roster fetch failed, defaulting empty", "project", projectID, "error", err)
			agents = nil
		}
	}

	if !c.current(gen) {
		return false
	}
	changed := c.engine.SetProjectOnline(projectID, online)
	if c.engine.SetOnlineAgents(projectID, agents) {
		changed = true
	}
	return changed
}

// Trigger requests an on-demand refresh from the Run loop. Multiple pending
// triggers coalesce.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes periodically and on demand until ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		case <-c.trigger:
			c.Refresh(ctx)
		}
	}
}
