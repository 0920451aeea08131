package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DeviceStorage implements interfaces.DeviceStorage for Badger.
// Badger has no row locks, so a per-device mutex serializes writers and the
// read-modify-write runs inside one read-write transaction.
type DeviceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	mu    sync.Mutex
	locks map[string]*deviceLock
}

// deviceLock is dropped from the map once no writer holds or waits on it
type deviceLock struct {
	mu   sync.Mutex
	refs int
}

// NewDeviceStorage creates a new DeviceStorage instance
func NewDeviceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DeviceStorage {
	return &DeviceStorage{
		db:     db,
		logger: logger,
		locks:  make(map[string]*deviceLock),
	}
}

// lockDevice blocks until the caller owns id and returns the release func
func (s *DeviceStorage) lockDevice(id string) (unlock func()) {
	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &deviceLock{}
		s.locks[id] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *DeviceStorage) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	var device models.Device
	if err := s.db.Store().Get(id, &device); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrDeviceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

// SaveDevice upserts a device record. CreatedAt is set on first save.
func (s *DeviceStorage) SaveDevice(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		return fmt.Errorf("device ID is required")
	}

	defer s.lockDevice(device.ID)()

	now := time.Now()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	if err := s.db.Store().Upsert(device.ID, device); err != nil {
		return fmt.Errorf("failed to save device: %w", err)
	}
	return nil
}

func (s *DeviceStorage) ListDevices(ctx context.Context) ([]*models.Device, error) {
	var devices []models.Device
	if err := s.db.Store().Find(&devices, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]*models.Device, len(devices))
	for i := range devices {
		result[i] = &devices[i]
	}
	return result, nil
}

// WithDeviceLock runs fn on the locked device and writes the result back in the
// same transaction. Any error from fn discards the transaction.
func (s *DeviceStorage) WithDeviceLock(ctx context.Context, id string, fn interfaces.DeviceFunc) error {
	defer s.lockDevice(id)()

	if err := ctx.Err(); err != nil {
		return err
	}

	txn := s.db.Badger().NewTransaction(true)
	defer txn.Discard()

	var device models.Device
	if err := s.db.Store().TxGet(txn, id, &device); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %s", interfaces.ErrDeviceNotFound, id)
		}
		return fmt.Errorf("failed to load device for update: %w", err)
	}

	if err := fn(&device); err != nil {
		return err
	}

	device.ID = id
	device.UpdatedAt = time.Now()

	if err := s.db.Store().TxUpsert(txn, id, &device); err != nil {
		return fmt.Errorf("failed to write device: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit device update: %w", err)
	}

	s.logger.Debug().Str("device_id", id).Msg("Device updated under lock")
	return nil
}
