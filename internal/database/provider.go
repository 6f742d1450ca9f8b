package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// Opener constructs a VectorStore from configuration.
type Opener func(ctx context.Context, cfg config.DatabaseConfig) (VectorStore, error)

var (
	backends   = make(map[string]Opener)
	backendsMu sync.RWMutex
)

// Register makes a backend available under driver. Backend packages call it
// from init so that this package does not import them.
func Register(driver string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if open == nil {
		panic("database: Register opener is nil")
	}
	if _, dup := backends[driver]; dup {
		panic("database: Register called twice for driver " + driver)
	}
	backends[driver] = open
}

// Drivers returns the names of the registered backends.
func Drivers() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (VectorStore, error) {
	backendsMu.RLock()
	open, ok := backends[cfg.Driver]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownDriver, cfg.Driver, Drivers())
	}

	store, err := open(ctx, cfg)
	if err != nil {
		return nil, Unavailable("open "+cfg.Driver+" store", err)
	}
	return store, nil
}
