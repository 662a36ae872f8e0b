package main

import (
	"github.com/pkg/errors"

	"github.com/nigel-daniels/agents-langgraph/internal/config"
	"github.com/nigel-daniels/agents-langgraph/internal/log"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints/badger"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints/sqlite"
	"github.com/nigel-daniels/agents-langgraph/pkg/graph"
)

// openStore opens the checkpoint store named by cfg. The caller closes it.
func openStore(cfg config.StoreConfig) (checkpoints.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return checkpoints.NewMemoryStore(), nil
	case config.DriverSQLite:
		return sqlite.Open(cfg.Path)
	case config.DriverBadger:
		bc := badger.DefaultConfig(cfg.Path)
		bc.Logger = log.Default
		return badger.Open(bc)
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// graphOptions returns the compilation options shared by every command.
func (a *app) graphOptions(store checkpoints.Store) []graph.CompilationOption {
	opts := []graph.CompilationOption{
		graph.WithCheckpointStore(store),
		graph.WithMaxSteps(a.cfg.Graph.MaxSteps),
	}
	if a.cfg.Graph.Debug {
		opts = append(opts, graph.WithDebug())
	}
	return opts
}

// withStore opens the configured store for the duration of fn.
func (a *app) withStore(fn func(checkpoints.Store) error) error {
	store, err := openStore(a.cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnw("failed to close checkpoint store", "driver", a.cfg.Store.Driver, "error", err)
		}
	}()
	return fn(store)
}
