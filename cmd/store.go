package main

import (
	"github.com/cerrado-geo/soilhex-cli/internal/cache"
	"github.com/cerrado-geo/soilhex-cli/internal/store"
)

// initStore opens the run registry at the configured path. Callers own
// the store and run Migrate before first use.
func initStore() (store.Store, error) {
	return store.NewSQLite(cfg.Store.Path)
}

// openCache opens the artifact cache under the configured directory,
// creating the family layout if needed.
func openCache() (*cache.Manager, error) {
	return cache.NewManager(cfg.Cache.Dir)
}
