package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/storage/badger"
	"github.com/ternarybob/urbix/internal/storage/postgres"
)

// NewStorageManager creates the device/attempt store selected in config.
// db is the Badger connection that always backs the queue and lease; the
// badger store reuses it.
func NewStorageManager(logger arbor.ILogger, config *common.Config, db *badger.BadgerDB) (interfaces.StorageManager, error) {
	switch config.Storage.Type {
	case "", "badger":
		return badger.NewManager(logger, db), nil
	case "postgres":
		return postgres.NewManager(logger, &config.Storage.Postgres)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (supported: badger, postgres)", config.Storage.Type)
	}
}
