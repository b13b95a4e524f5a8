// Copyright 2025 Wisdom Hub Project
//
// Embedded KV backend
// Wraps cometbft-db so the rest of the hub never names a concrete backend.

package store

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// OpenDB opens the embedded GoLevelDB database under dataDir. The database
// directory is the hub's only persisted state; a consistent snapshot of it
// is a complete backup.
func OpenDB(dataDir string) (dbm.DB, error) {
	db, err := dbm.NewDB("wisdomhub", dbm.GoLevelDBBackend, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store in %s: %w", dataDir, err)
	}
	return db, nil
}
