package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	device  interfaces.DeviceStorage
	attempt interfaces.AttemptStorage
	logger  arbor.ILogger
}

// NewManager creates a storage manager on an open connection.
// The connection is owned by the caller and survives Close.
func NewManager(logger arbor.ILogger, db *BadgerDB) interfaces.StorageManager {
	manager := &Manager{
		db:      db,
		device:  NewDeviceStorage(db, logger),
		attempt: NewAttemptStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager
}

// DeviceStorage returns the Device storage interface
func (m *Manager) DeviceStorage() interfaces.DeviceStorage {
	return m.device
}

// AttemptStorage returns the LoginAttempt storage interface
func (m *Manager) AttemptStorage() interfaces.AttemptStorage {
	return m.attempt
}

// Close is a no-op; the shared connection is closed by its owner
func (m *Manager) Close() error {
	return nil
}
