// Package internal wires gumshoe's components together.
package internal

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tcaine/gumshoe/internal/core"
	"github.com/tcaine/gumshoe/internal/core/debug"
	"github.com/tcaine/gumshoe/internal/data"
	"github.com/tcaine/gumshoe/internal/scenario"
	"github.com/tcaine/gumshoe/internal/server"
)

// Controller is the main entrypoint for the gumshoe server. It's responsible
// for initializing shared resources (database, logging, the case loader) and
// launching the session server.
type Controller struct {
	Config *core.Config

	logger *logrus.Logger
	db     *gorm.DB
}

func (c *Controller) Start(ctx context.Context) error {
	var err error
	// Set up the logger, which will be used by all components.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return err
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.PprofEnabled {
		debug.StartUtilities(c.logger, c.Config.Debugging.PprofPort)
	}

	// Persistence is best-effort: a database failure costs us snapshots,
	// never live sessions.
	c.db, err = data.Initialize(c.Config)
	if err != nil {
		c.logger.Warnf("running without persistence: %s", err)
		c.db = nil
	} else {
		defer func() {
			if err := data.Shutdown(c.db); err != nil {
				c.logger.Warnf("error shutting down database: %s", err)
			}
		}()
	}

	loader := scenario.NewCachingLoader(
		&scenario.FileLoader{Directory: c.Config.Scenario.Directory},
		c.Config.Scenario.CacheExpiry,
	)
	registry := server.NewRegistry(loader, c.logger, c.db)

	multiplexer := &server.Multiplexer{
		Addr:     c.Config.ListenAddress(),
		Config:   c.Config,
		Logger:   c.logger,
		Registry: registry,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wg := &sync.WaitGroup{}
		if err := multiplexer.Start(gctx, wg); err != nil {
			return err
		}
		wg.Wait()
		return nil
	})

	if c.db != nil {
		g.Go(func() error {
			c.runCheckpoints(gctx, registry)
			return nil
		})
	}

	return g.Wait()
}

// runCheckpoints periodically persists mid-flight snapshots of active
// sessions so that a crash doesn't lose an entire evening's casework.
func (c *Controller) runCheckpoints(ctx context.Context, registry *server.Registry) {
	ticker := time.NewTicker(c.Config.Database.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Checkpoint()
		}
	}
}
